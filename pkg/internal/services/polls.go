package services

import (
	"github.com/ossdlab/ballotbox/pkg/internal/database"
	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"github.com/samber/lo"
)

func NewPoll(poll models.Poll) (models.Poll, error) {
	if err := database.C.Create(&poll).Error; err != nil {
		return poll, err
	}
	return poll, nil
}

func UpdatePoll(poll models.Poll) (models.Poll, error) {
	if err := database.C.Save(&poll).Error; err != nil {
		return poll, err
	}
	return poll, nil
}

func ListPublicPoll(take int, offset int) ([]models.Poll, int64, error) {
	var count int64
	if err := database.C.Model(&models.Poll{}).
		Where("is_public = ?", true).
		Count(&count).Error; err != nil {
		return nil, count, err
	}

	var polls []models.Poll
	if err := database.C.
		Where("is_public = ?", true).
		Limit(take).Offset(offset).
		Order("created_at DESC").
		Find(&polls).Error; err != nil {
		return nil, count, err
	}

	return polls, count, nil
}

// GetPollMetric reads the per-option tallies maintained by the vote ledger.
// The poll level total is derived by summing them.
func GetPollMetric(poll models.Poll) models.PollMetric {
	var tallies []models.VoteTally
	if err := database.C.Where("poll_id = ?", poll.ID).Find(&tallies).Error; err != nil {
		return models.PollMetric{}
	}

	byOptions := lo.SliceToMap(tallies, func(item models.VoteTally) (string, int64) {
		return item.OptionID, item.Points
	})
	total := lo.SumBy(tallies, func(item models.VoteTally) int64 {
		return item.Points
	})

	return models.PollMetric{
		TotalPoints: total,
		ByOptions:   byOptions,
	}
}
