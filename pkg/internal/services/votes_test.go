package services

import (
	"context"
	"errors"
	"testing"

	"github.com/ossdlab/ballotbox/pkg/internal/cache"
	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"github.com/ossdlab/ballotbox/pkg/internal/queue"
)

func TestVoteDedupKey(t *testing.T) {
	accountId := uint(7)
	guestKey := "3f2c"

	cases := []struct {
		name  string
		voter models.VoterRef
		want  string
	}{
		{"user", models.VoterRef{AccountID: &accountId}, "vote:42:u:7"},
		{"guest", models.VoterRef{GuestID: &guestKey}, "vote:42:g:3f2c"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VoteDedupKey(42, tc.voter.Key()); got != tc.want {
				t.Fatalf("VoteDedupKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestVoterRefKeyIsEmptyWithoutIdentity(t *testing.T) {
	if got := (models.VoterRef{}).Key(); got != "" {
		t.Fatalf("empty VoterRef produced key %q", got)
	}
}

func TestResolveVoteError(t *testing.T) {
	if err := cache.NewStore(); err != nil {
		t.Fatalf("cache setup failed: %v", err)
	}

	job := models.VoteJob{JobID: "j1", PollID: 1, OptionID: "o1", DedupKey: "vote:1:u:1"}

	cases := []struct {
		name string
		err  error
		want queue.Disposition
	}{
		{"duplicate vote is idempotent success", ErrAlreadyVoted, queue.DispositionDone},
		{"closed poll is terminal", ErrPollClosed, queue.DispositionReject},
		{"unknown option is terminal", ErrUnknownOption, queue.DispositionReject},
		{"missing voting power is terminal", ErrNoVotingPower, queue.DispositionReject},
		{"anything else is transient", errors.New("connection refused"), queue.DispositionRetry},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := resolveVoteError(context.Background(), job, tc.err)
			if result.Disposition != tc.want {
				t.Fatalf("disposition = %d, want %d", result.Disposition, tc.want)
			}
		})
	}
}
