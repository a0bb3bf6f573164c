package services

import (
	"context"
	"errors"
	"time"

	"github.com/ossdlab/ballotbox/pkg/internal/database"
	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPollClosed    = errors.New("poll does not exist or has been ended")
	ErrUnknownOption = errors.New("poll does not have an option like that")
	ErrNoVotingPower = errors.New("not enough voting power for this weight")
	ErrAlreadyVoted  = errors.New("this voter already voted on this poll")
)

// CommitVote is the single authoritative state transition of the pipeline:
// it inserts the vote and bumps the option tally in one transaction, or
// leaves no trace at all. The poll row is locked for the duration, so
// concurrent commits against the same poll serialize and the final tally is
// the exact sum of committed weights.
func CommitVote(ctx context.Context, job models.VoteJob) (models.Vote, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var vote models.Vote
	err := database.C.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poll models.Poll
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", job.PollID).First(&poll).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPollClosed
			}
			return err
		}
		if poll.IsClosed(time.Now()) {
			return ErrPollClosed
		}
		if !poll.HasOption(job.OptionID) {
			return ErrUnknownOption
		}

		weight := job.Weight
		if weight < 1 || job.Voter().IsGuest() {
			weight = 1
		}

		// Weighted user votes draw from the event's whitelist budget, debited
		// here so the debit can never outlive a rolled back vote.
		if job.AccountID != nil && weight > 1 {
			debit := tx.Model(&models.Whitelist{}).
				Where("event_id = ? AND account_id = ? AND points >= ?", poll.EventID, *job.AccountID, weight).
				Update("points", gorm.Expr("points - ?", weight))
			if debit.Error != nil {
				return debit.Error
			}
			if debit.RowsAffected == 0 {
				return ErrNoVotingPower
			}
		}

		vote = models.Vote{
			PollID:    poll.ID,
			OptionID:  job.OptionID,
			AccountID: job.AccountID,
			GuestID:   job.GuestID,
			VoterKey:  job.Voter().Key(),
			Weight:    weight,
		}
		if err := tx.Create(&vote).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyVoted
			}
			return err
		}

		tally := models.VoteTally{
			PollID:   poll.ID,
			OptionID: job.OptionID,
			Points:   int64(weight),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "poll_id"}, {Name: "option_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"points": gorm.Expr("vote_tallies.points + ?", weight),
			}),
		}).Create(&tally).Error; err != nil {
			return err
		}

		return nil
	})

	return vote, err
}
