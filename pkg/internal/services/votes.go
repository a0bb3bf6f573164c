package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ossdlab/ballotbox/pkg/internal/database"
	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"github.com/ossdlab/ballotbox/pkg/internal/queue"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Q is the process-wide vote intake queue, constructed and started in main.
var Q *queue.VoteQueue

// EnqueueVote validates a submission against the current poll state and
// hands it to the intake queue. The poll check here is defense in depth for
// the caller's benefit; the ledger re-validates inside its transaction and
// stays authoritative. Processing is asynchronous, so the returned handle
// only confirms the job was accepted.
func EnqueueVote(voter models.VoterRef, pollId uint, optionId string, weight int) (queue.JobHandle, error) {
	if voter.Key() == "" {
		return queue.JobHandle{}, fmt.Errorf("vote is missing a voter identity")
	}
	if weight < 1 {
		weight = 1
	}
	if voter.IsGuest() {
		weight = 1
	}

	var poll models.Poll
	if err := database.C.Where("id = ?", pollId).First(&poll).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.JobHandle{}, ErrPollClosed
		}
		return queue.JobHandle{}, err
	}
	if poll.IsClosed(time.Now()) {
		return queue.JobHandle{}, ErrPollClosed
	}
	if !poll.HasOption(optionId) {
		return queue.JobHandle{}, ErrUnknownOption
	}

	if Q == nil {
		return queue.JobHandle{}, fmt.Errorf("vote queue is not running")
	}

	job := models.VoteJob{
		JobID:     uuid.NewString(),
		PollID:    pollId,
		OptionID:  optionId,
		AccountID: voter.AccountID,
		GuestID:   voter.GuestID,
		Weight:    weight,
		DedupKey:  VoteDedupKey(pollId, voter.Key()),
	}

	return Q.Enqueue(job)
}

// ProcessVote is the per-job pipeline the queue workers run: dedup guard,
// ledger commit, dedup mark, broadcast.
func ProcessVote(ctx context.Context, job models.VoteJob) queue.Result {
	if HasVoted(ctx, job.DedupKey) {
		return queue.Done()
	}

	if _, err := CommitVote(ctx, job); err != nil {
		return resolveVoteError(ctx, job, err)
	}

	MarkVoted(ctx, job.DedupKey, DedupTTL())
	BroadcastVoteUpdate(job.PollID, job.OptionID)

	return queue.Done()
}

// resolveVoteError maps a ledger error onto a queue disposition. A
// uniqueness violation counts as idempotent success, domain outcomes are
// rejected without retries and everything else is assumed transient.
func resolveVoteError(ctx context.Context, job models.VoteJob, err error) queue.Result {
	switch {
	case errors.Is(err, ErrAlreadyVoted):
		MarkVoted(ctx, job.DedupKey, DedupTTL())
		return queue.Done()
	case errors.Is(err, ErrPollClosed), errors.Is(err, ErrUnknownOption), errors.Is(err, ErrNoVotingPower):
		return queue.Reject(err)
	default:
		return queue.Retry(err)
	}
}

// GetVoteOnPoll returns the committed vote for a voter on a poll, if any.
func GetVoteOnPoll(voter models.VoterRef, pollId uint) (models.Vote, error) {
	var vote models.Vote
	if err := database.C.
		Where("poll_id = ? AND voter_key = ?", pollId, voter.Key()).
		First(&vote).Error; err != nil {
		return vote, err
	}
	return vote, nil
}
