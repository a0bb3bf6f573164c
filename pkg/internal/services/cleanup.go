package services

import (
	"time"

	"github.com/ossdlab/ballotbox/pkg/internal/database"
	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"github.com/rs/zerolog/log"
)

// DoAutoDatabaseCleanup runs from the hourly cron. It ends overdue polls and
// trims queue and audit rows that nobody will look at anymore.
func DoAutoDatabaseCleanup() {
	log.Debug().Msg("Now cleaning up database...")

	deadline := time.Now()
	ended := database.C.Model(&models.Poll{}).
		Where("is_vote_end = ? AND expired_at IS NOT NULL AND expired_at < ?", false, deadline).
		Update("is_vote_end", true)
	if ended.Error == nil && ended.RowsAffected > 0 {
		log.Info().Int64("count", ended.RowsAffected).Msg("Ended polls past their voting window.")
	}

	database.C.Unscoped().
		Where("status = ? AND updated_at < ?", models.QueuedVoteStatusCompleted, deadline.Add(-24*time.Hour)).
		Delete(&models.QueuedVote{})

	database.C.Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", deadline.Add(-30*24*time.Hour)).
		Delete(&models.Vote{})

	database.C.Unscoped().
		Where("created_at < ?", deadline.Add(-90*24*time.Hour)).
		Delete(&models.FailedJob{})

	log.Debug().Msg("Database cleaned up.")
}
