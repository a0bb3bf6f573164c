package database

import (
	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"gorm.io/gorm"
)

var AutoMaintainRange = []any{
	&models.Poll{},
	&models.Vote{},
	&models.VoteTally{},
	&models.Whitelist{},
}

func RunMigration(source *gorm.DB) error {
	if err := source.AutoMigrate(
		append(
			AutoMaintainRange,
			&models.QueuedVote{},
			&models.FailedJob{},
		)...,
	); err != nil {
		return err
	}

	return nil
}
