package services

import (
	"github.com/ossdlab/ballotbox/pkg/internal/database"
	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// RecordFailedJob captures a terminal job outcome for operator inspection.
// The insert is idempotent on the job id, so a terminal outcome is recorded
// at most once.
func RecordFailedJob(job models.VoteJob, kind string, message string) {
	record := models.FailedJob{
		JobID:     job.JobID,
		QueueName: models.VoteQueueName,
		Kind:      kind,
		Payload:   datatypes.NewJSONType(job),
		Error:     message,
	}

	if err := database.C.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoNothing: true,
	}).Create(&record).Error; err != nil {
		log.Error().Err(err).Str("job", job.JobID).Msg("An error occurred when recording failed job...")
	}
}
