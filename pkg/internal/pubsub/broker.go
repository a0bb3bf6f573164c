package pubsub

import (
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var C *nats.Conn

func Connect() error {
	conn, err := nats.Connect(
		viper.GetString("nats.url"),
		nats.Name("ballotbox"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return err
	}

	C = conn
	log.Info().Str("url", viper.GetString("nats.url")).Msg("Message broker connected.")

	return nil
}

func Close() {
	if C != nil {
		C.Drain()
	}
}
