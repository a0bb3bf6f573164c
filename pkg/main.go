package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pkg "github.com/ossdlab/ballotbox/pkg/internal"
	"github.com/ossdlab/ballotbox/pkg/internal/cache"
	"github.com/ossdlab/ballotbox/pkg/internal/database"
	"github.com/ossdlab/ballotbox/pkg/internal/http"
	"github.com/ossdlab/ballotbox/pkg/internal/pubsub"
	"github.com/ossdlab/ballotbox/pkg/internal/queue"
	"github.com/ossdlab/ballotbox/pkg/internal/services"
	"github.com/fatih/color"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

func main() {
	// Booting screen
	fmt.Println(color.YellowString(" ____        _ _       _   _\n| __ )  __ _| | | ___ | |_| |__   _____  __\n|  _ \\ / _` | | |/ _ \\| __| '_ \\ / _ \\ \\/ /\n| |_) | (_| | | | (_) | |_| |_) | (_) >  <\n|____/ \\__,_|_|_|\\___/ \\__|_.__/ \\___/_/\\_\\"))
	fmt.Printf("%s v%s\n", color.New(color.FgHiYellow).Add(color.Bold).Sprintf("Ballotbox"), pkg.AppVersion)
	fmt.Printf("The realtime voting service for events\n")
	color.HiBlack("=====================================================\n")

	// Configure settings
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("settings")
	viper.SetConfigType("toml")

	viper.SetDefault("bind", "0.0.0.0:8445")
	viper.SetDefault("queue.concurrency", 5)
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.backoff", "5s")
	viper.SetDefault("dedup.ttl", "1h")

	// Load settings
	if err := viper.ReadInConfig(); err != nil {
		log.Panic().Err(err).Msg("An error occurred when loading settings.")
	}

	// Connect to database
	if err := database.NewGorm(); err != nil {
		log.Fatal().Err(err).Msg("An error occurred when connect to database.")
	} else if err := database.RunMigration(database.C); err != nil {
		log.Fatal().Err(err).Msg("An error occurred when running database auto migration.")
	}

	// Set up the in-process cache for the dedup guard
	if err := cache.NewStore(); err != nil {
		log.Fatal().Err(err).Msg("An error occurred when setting up cache.")
	}

	// Connect to the message broker
	if err := pubsub.Connect(); err != nil {
		log.Error().Err(err).Msg("An error occurred when connecting to nats. Live tally updates will be disabled.")
	}

	// Vote intake queue
	services.Q = queue.New(queue.Options{
		DB:          database.C,
		Concurrency: viper.GetInt("queue.concurrency"),
		MaxAttempts: viper.GetInt("queue.max_attempts"),
		Backoff:     viper.GetDuration("queue.backoff"),
		Handler:     services.ProcessVote,
		DeadLetter:  services.RecordFailedJob,
	})
	services.Q.Start(context.Background())

	// Configure timed tasks
	quartz := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger)))
	quartz.AddFunc("@every 60m", services.DoAutoDatabaseCleanup)
	quartz.Start()

	// Server
	go http.NewServer().Listen()

	// Messages
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	quartz.Stop()
	services.Q.Drain(30 * time.Second)
	pubsub.Close()
}
