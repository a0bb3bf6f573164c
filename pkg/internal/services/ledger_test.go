package services

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ossdlab/ballotbox/pkg/internal/cache"
	"github.com/ossdlab/ballotbox/pkg/internal/database"
	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"github.com/ossdlab/ballotbox/pkg/internal/pubsub"
	"github.com/ossdlab/ballotbox/pkg/internal/queue"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// These tests need a real Postgres because the ledger leans on row locks and
// partial unique indexes. Point BALLOTBOX_TEST_DSN at a scratch database to
// run them; they are skipped otherwise.
func openTestDB(t *testing.T) {
	t.Helper()

	dsn := os.Getenv("BALLOTBOX_TEST_DSN")
	if dsn == "" {
		t.Skip("BALLOTBOX_TEST_DSN is not set, skipping ledger integration tests")
	}

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("unable to connect to test database: %v", err)
	}
	if err := database.RunMigration(conn); err != nil {
		t.Fatalf("unable to migrate test database: %v", err)
	}

	database.C = conn
	if err := conn.Exec(
		"TRUNCATE TABLE votes, vote_tallies, polls, whitelists, queued_votes, failed_jobs RESTART IDENTITY CASCADE",
	).Error; err != nil {
		t.Fatalf("unable to reset test database: %v", err)
	}
}

func seedPoll(t *testing.T, closed bool) models.Poll {
	t.Helper()

	poll := models.Poll{
		Title:     "Best presentation",
		IsPublic:  true,
		IsVoteEnd: closed,
		EventID:   1,
		AccountID: 1,
		Options: datatypes.NewJSONSlice([]models.PollOption{
			{ID: "o1", Name: "Cluster 0"},
			{ID: "o2", Name: "Cluster 1"},
		}),
	}
	if err := database.C.Create(&poll).Error; err != nil {
		t.Fatalf("unable to seed poll: %v", err)
	}
	return poll
}

func userJob(poll models.Poll, accountId uint, optionId string, weight int) models.VoteJob {
	voter := models.VoterRef{AccountID: &accountId}
	return models.VoteJob{
		PollID:    poll.ID,
		OptionID:  optionId,
		AccountID: &accountId,
		Weight:    weight,
		DedupKey:  VoteDedupKey(poll.ID, voter.Key()),
	}
}

func guestJob(poll models.Poll, guestKey string, optionId string, weight int) models.VoteJob {
	voter := models.VoterRef{GuestID: &guestKey}
	return models.VoteJob{
		PollID:   poll.ID,
		OptionID: optionId,
		GuestID:  &guestKey,
		Weight:   weight,
		DedupKey: VoteDedupKey(poll.ID, voter.Key()),
	}
}

func TestCommitVoteIsIdempotentPerVoter(t *testing.T) {
	openTestDB(t)
	poll := seedPoll(t, false)

	if _, err := CommitVote(context.Background(), userJob(poll, 10, "o1", 1)); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if _, err := CommitVote(context.Background(), userJob(poll, 10, "o2", 1)); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("second commit returned %v, want ErrAlreadyVoted", err)
	}

	var votes int64
	database.C.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&votes)
	if votes != 1 {
		t.Fatalf("%d vote rows exist, want 1", votes)
	}

	metric := GetPollMetric(poll)
	if metric.TotalPoints != 1 {
		t.Fatalf("total points = %d, want 1", metric.TotalPoints)
	}
}

func TestCommitVoteRejectsClosedPoll(t *testing.T) {
	openTestDB(t)
	poll := seedPoll(t, true)

	if _, err := CommitVote(context.Background(), userJob(poll, 10, "o1", 1)); !errors.Is(err, ErrPollClosed) {
		t.Fatalf("commit on closed poll returned %v, want ErrPollClosed", err)
	}

	var votes int64
	database.C.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&votes)
	if votes != 0 {
		t.Fatalf("%d vote rows exist on a closed poll, want 0", votes)
	}
}

func TestCommitVoteRejectsExpiredPoll(t *testing.T) {
	openTestDB(t)
	poll := seedPoll(t, false)

	expired := time.Now().Add(-time.Hour)
	if err := database.C.Model(&poll).Update("expired_at", expired).Error; err != nil {
		t.Fatalf("unable to expire poll: %v", err)
	}

	if _, err := CommitVote(context.Background(), userJob(poll, 10, "o1", 1)); !errors.Is(err, ErrPollClosed) {
		t.Fatalf("commit on expired poll returned %v, want ErrPollClosed", err)
	}
}

func TestCommitVoteRejectsUnknownOption(t *testing.T) {
	openTestDB(t)
	poll := seedPoll(t, false)

	if _, err := CommitVote(context.Background(), userJob(poll, 10, "nope", 1)); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("commit with unknown option returned %v, want ErrUnknownOption", err)
	}
}

func TestCommitVoteDebitsWhitelistAtomically(t *testing.T) {
	openTestDB(t)
	poll := seedPoll(t, false)

	grant := models.Whitelist{EventID: poll.EventID, AccountID: 20, Points: 5}
	if err := database.C.Create(&grant).Error; err != nil {
		t.Fatalf("unable to seed whitelist: %v", err)
	}

	// Voter A casts weight 1, voter B draws 3 points from the event budget.
	if _, err := CommitVote(context.Background(), userJob(poll, 10, "o1", 1)); err != nil {
		t.Fatalf("weight 1 commit failed: %v", err)
	}
	if _, err := CommitVote(context.Background(), userJob(poll, 20, "o2", 3)); err != nil {
		t.Fatalf("weighted commit failed: %v", err)
	}

	metric := GetPollMetric(poll)
	if metric.ByOptions["o1"] != 1 || metric.ByOptions["o2"] != 3 {
		t.Fatalf("tallies = %v, want o1=1 o2=3", metric.ByOptions)
	}
	if metric.TotalPoints != 4 {
		t.Fatalf("total points = %d, want 4", metric.TotalPoints)
	}

	var remaining models.Whitelist
	database.C.Where("event_id = ? AND account_id = ?", poll.EventID, uint(20)).First(&remaining)
	if remaining.Points != 2 {
		t.Fatalf("whitelist points = %d, want 2", remaining.Points)
	}
}

func TestCommitVoteRejectsWithoutVotingPower(t *testing.T) {
	openTestDB(t)
	poll := seedPoll(t, false)

	if _, err := CommitVote(context.Background(), userJob(poll, 30, "o1", 3)); !errors.Is(err, ErrNoVotingPower) {
		t.Fatalf("weighted commit without whitelist returned %v, want ErrNoVotingPower", err)
	}

	var votes int64
	database.C.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&votes)
	if votes != 0 {
		t.Fatalf("%d vote rows exist after a rejected debit, want 0", votes)
	}
}

func TestCommitVoteCoercesGuestWeight(t *testing.T) {
	openTestDB(t)
	poll := seedPoll(t, false)

	vote, err := CommitVote(context.Background(), guestJob(poll, "g-key-1", "o1", 5))
	if err != nil {
		t.Fatalf("guest commit failed: %v", err)
	}
	if vote.Weight != 1 {
		t.Fatalf("guest vote weight = %d, want 1", vote.Weight)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	openTestDB(t)
	if err := cache.NewStore(); err != nil {
		t.Fatalf("cache setup failed: %v", err)
	}
	poll := seedPoll(t, false)
	closed := seedPoll(t, true)

	grant := models.Whitelist{EventID: poll.EventID, AccountID: 2, Points: 3}
	if err := database.C.Create(&grant).Error; err != nil {
		t.Fatalf("unable to seed whitelist: %v", err)
	}

	q := queue.New(queue.Options{
		DB:          database.C,
		Concurrency: 4,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Handler:     ProcessVote,
		DeadLetter:  RecordFailedJob,
	})
	q.Start(context.Background())

	// Voter A submits twice in quick succession, voter B casts weight 3,
	// and one job targets a closed poll.
	jobs := []models.VoteJob{
		userJob(poll, 1, "o1", 1),
		userJob(poll, 1, "o1", 1),
		userJob(poll, 2, "o2", 3),
		userJob(closed, 3, "o1", 1),
	}
	for _, job := range jobs {
		if _, err := q.Enqueue(job); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	q.Drain(10 * time.Second)

	metric := GetPollMetric(poll)
	if metric.ByOptions["o1"] != 1 || metric.ByOptions["o2"] != 3 {
		t.Fatalf("tallies = %v, want o1=1 o2=3", metric.ByOptions)
	}
	if metric.TotalPoints != 4 {
		t.Fatalf("total points = %d, want 4", metric.TotalPoints)
	}

	var votes int64
	database.C.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&votes)
	if votes != 2 {
		t.Fatalf("%d vote rows exist, want 2", votes)
	}

	var failed []models.FailedJob
	database.C.Find(&failed)
	if len(failed) != 1 || failed[0].Kind != models.FailedJobKindDomain {
		t.Fatalf("failed jobs = %+v, want exactly one domain record", failed)
	}
}

func TestEnqueueCoalescesAcrossQueueInstances(t *testing.T) {
	openTestDB(t)

	release := make(chan struct{})
	var calls atomic.Int32
	handler := func(ctx context.Context, job models.VoteJob) queue.Result {
		calls.Add(1)
		<-release
		return queue.Done()
	}

	// Two queue instances over the same database stand in for two processes;
	// only the partial unique index on active dedup keys links them.
	q1 := queue.New(queue.Options{DB: database.C, Concurrency: 1, Handler: handler})
	q1.Start(context.Background())
	q2 := queue.New(queue.Options{DB: database.C, Concurrency: 1, Handler: handler})
	q2.Start(context.Background())

	job := models.VoteJob{PollID: 1, OptionID: "o1", Weight: 1, DedupKey: "vote:1:u:1"}
	first, err := q1.Enqueue(job)
	if err != nil {
		t.Fatalf("enqueue on first instance failed: %v", err)
	}
	if first.Coalesced {
		t.Fatal("first enqueue should not be coalesced")
	}

	second, err := q2.Enqueue(job)
	if err != nil {
		t.Fatalf("enqueue on second instance failed: %v", err)
	}
	if !second.Coalesced {
		t.Fatal("enqueue on the second instance should be coalesced by the storage constraint")
	}

	close(release)
	q1.Drain(5 * time.Second)
	q2.Drain(5 * time.Second)

	if got := calls.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}

	var rows int64
	database.C.Model(&models.QueuedVote{}).Count(&rows)
	if rows != 1 {
		t.Fatalf("%d queue rows exist, want 1", rows)
	}
}

func TestBroadcastFailureLeavesCommitStanding(t *testing.T) {
	openTestDB(t)
	if err := cache.NewStore(); err != nil {
		t.Fatalf("cache setup failed: %v", err)
	}
	poll := seedPoll(t, false)

	// Broker is down for the whole pipeline run.
	pubsub.C = nil

	result := ProcessVote(context.Background(), userJob(poll, 40, "o1", 1))
	if result.Disposition != queue.DispositionDone {
		t.Fatalf("disposition = %d, want done despite the broker being down", result.Disposition)
	}

	var votes int64
	database.C.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&votes)
	if votes != 1 {
		t.Fatalf("%d vote rows exist, want 1", votes)
	}
	metric := GetPollMetric(poll)
	if metric.ByOptions["o1"] != 1 {
		t.Fatalf("tallies = %v, want o1=1", metric.ByOptions)
	}
}

func TestCleanupPurgesTerminalRows(t *testing.T) {
	openTestDB(t)

	row := models.QueuedVote{
		JobID:    "cleanup-queued",
		DedupKey: "vote:9:u:9",
		Status:   models.QueuedVoteStatusCompleted,
	}
	if err := database.C.Create(&row).Error; err != nil {
		t.Fatalf("unable to seed queue row: %v", err)
	}
	database.C.Exec(
		"UPDATE queued_votes SET updated_at = ? WHERE job_id = ?",
		time.Now().Add(-48*time.Hour), row.JobID,
	)

	failed := models.FailedJob{
		JobID:     "cleanup-failed",
		QueueName: models.VoteQueueName,
		Kind:      models.FailedJobKindInfra,
		Error:     "connection reset",
	}
	if err := database.C.Create(&failed).Error; err != nil {
		t.Fatalf("unable to seed failed job: %v", err)
	}
	database.C.Exec(
		"UPDATE failed_jobs SET created_at = ? WHERE job_id = ?",
		time.Now().Add(-120*24*time.Hour), failed.JobID,
	)

	DoAutoDatabaseCleanup()

	var queued, dead int64
	database.C.Unscoped().Model(&models.QueuedVote{}).Count(&queued)
	database.C.Unscoped().Model(&models.FailedJob{}).Count(&dead)
	if queued != 0 {
		t.Fatalf("%d queue rows remain after cleanup, want 0", queued)
	}
	if dead != 0 {
		t.Fatalf("%d failed job rows remain after cleanup, want 0", dead)
	}
}
