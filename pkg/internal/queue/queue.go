package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Disposition is the explicit outcome a handler reports for one attempt.
// The dispatch loop consumes it directly instead of listening for late-bound
// failure events.
type Disposition int

const (
	// DispositionDone means the job finished, either by committing a vote or
	// by resolving as an idempotent no-op.
	DispositionDone Disposition = iota
	// DispositionRetry means a transient failure, worth another attempt.
	DispositionRetry
	// DispositionReject means a terminal domain outcome, such as a closed
	// poll. Retrying would never succeed.
	DispositionReject
)

type Result struct {
	Disposition Disposition
	Err         error
}

func Done() Result {
	return Result{Disposition: DispositionDone}
}

func Retry(err error) Result {
	return Result{Disposition: DispositionRetry, Err: err}
}

func Reject(err error) Result {
	return Result{Disposition: DispositionReject, Err: err}
}

type Handler func(ctx context.Context, job models.VoteJob) Result

type DeadLetterFunc func(job models.VoteJob, kind string, message string)

type Options struct {
	// DB persists queue rows so stranded jobs survive a restart. It may be
	// nil, in which case the queue runs purely in memory.
	DB          *gorm.DB
	Concurrency int
	MaxAttempts int
	Backoff     time.Duration
	Handler     Handler
	DeadLetter  DeadLetterFunc
}

type JobHandle struct {
	JobID     string `json:"job_id"`
	DedupKey  string `json:"dedup_key"`
	Coalesced bool   `json:"coalesced"`
}

var ErrQueueClosed = errors.New("vote queue is shutting down")

// VoteQueue accepts vote submissions and drives a bounded worker pool over
// them. Enqueues with the same dedup key are coalesced while the earlier job
// is still queued or in flight, so a burst of duplicate submissions reaches
// a worker once.
type VoteQueue struct {
	opts Options

	jobs    chan models.VoteJob
	mtx     sync.Mutex
	active  map[string]struct{}
	closed  bool
	workers sync.WaitGroup
	pending sync.WaitGroup
	cancel  context.CancelFunc
}

func New(opts Options) *VoteQueue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}

	return &VoteQueue{
		opts:   opts,
		jobs:   make(chan models.VoteJob, 512),
		active: make(map[string]struct{}),
	}
}

// Start spins up the worker pool and requeues any rows a previous process
// left behind.
func (q *VoteQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)

	for idx := 0; idx < q.opts.Concurrency; idx++ {
		q.workers.Add(1)
		go q.work(ctx)
	}

	q.recoverStranded()
}

// Enqueue accepts a job for asynchronous processing. The returned handle
// reports whether the submission was coalesced into an earlier one with the
// same dedup key.
func (q *VoteQueue) Enqueue(job models.VoteJob) (JobHandle, error) {
	if job.DedupKey == "" {
		return JobHandle{}, fmt.Errorf("vote job is missing a dedup key")
	}
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	handle := JobHandle{JobID: job.JobID, DedupKey: job.DedupKey}

	q.mtx.Lock()
	if q.closed {
		q.mtx.Unlock()
		return handle, ErrQueueClosed
	}
	if _, ok := q.active[job.DedupKey]; ok {
		q.mtx.Unlock()
		handle.Coalesced = true
		return handle, nil
	}
	q.active[job.DedupKey] = struct{}{}
	q.mtx.Unlock()

	if q.opts.DB != nil {
		row := models.QueuedVote{
			JobID:    job.JobID,
			DedupKey: job.DedupKey,
			Status:   models.QueuedVoteStatusQueued,
			Payload:  datatypes.NewJSONType(job),
		}
		// The partial unique index on active dedup keys is the durable half
		// of the coalescing guard; the active set above only covers this
		// process.
		res := q.opts.DB.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "dedup_key"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("status = 'queued' OR status = 'processing'"),
			}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			q.release(job.DedupKey)
			return handle, fmt.Errorf("unable to persist vote job: %v", res.Error)
		}
		if res.RowsAffected == 0 {
			q.release(job.DedupKey)
			handle.Coalesced = true
			return handle, nil
		}
	}

	q.mtx.Lock()
	if q.closed {
		q.mtx.Unlock()
		q.release(job.DedupKey)
		if q.opts.DB != nil {
			// Already durably queued, the next start picks it up.
			return handle, nil
		}
		return handle, ErrQueueClosed
	}
	q.pending.Add(1)
	q.mtx.Unlock()

	q.dispatch(job)

	return handle, nil
}

// Drain stops intake and waits for outstanding jobs, including ones waiting
// on a retry timer, up to the timeout. Whatever is still unfinished when the
// timeout fires stays queued in the database and gets picked up on the next
// start.
func (q *VoteQueue) Drain(timeout time.Duration) {
	q.mtx.Lock()
	q.closed = true
	q.mtx.Unlock()

	settled := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(settled)
	}()

	select {
	case <-settled:
	case <-time.After(timeout):
		log.Warn().Msg("Timed out waiting for vote queue to drain...")
	}

	if q.cancel != nil {
		q.cancel()
	}
	q.workers.Wait()
}

func (q *VoteQueue) recoverStranded() {
	if q.opts.DB == nil {
		return
	}

	var rows []models.QueuedVote
	if err := q.opts.DB.
		Where("status IN ?", []string{models.QueuedVoteStatusQueued, models.QueuedVoteStatusProcessing}).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		log.Error().Err(err).Msg("An error occurred when recovering stranded vote jobs...")
		return
	}

	for _, row := range rows {
		job := row.Payload.Data()
		job.Attempt = row.Attempts

		q.mtx.Lock()
		if _, ok := q.active[job.DedupKey]; ok {
			q.mtx.Unlock()
			continue
		}
		q.active[job.DedupKey] = struct{}{}
		q.mtx.Unlock()

		q.pending.Add(1)
		q.dispatch(job)
	}

	if len(rows) > 0 {
		log.Info().Int("count", len(rows)).Msg("Requeued vote jobs left over from a previous run.")
	}
}

func (q *VoteQueue) dispatch(job models.VoteJob) {
	select {
	case q.jobs <- job:
	default:
		go func() { q.jobs <- job }()
	}
}

func (q *VoteQueue) work(ctx context.Context) {
	defer q.workers.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

func (q *VoteQueue) process(ctx context.Context, job models.VoteJob) {
	job.Attempt++
	q.markRow(job, models.QueuedVoteStatusProcessing, nil)

	result := q.opts.Handler(ctx, job)

	switch result.Disposition {
	case DispositionDone:
		q.markRow(job, models.QueuedVoteStatusCompleted, nil)
		q.finish(job.DedupKey)
	case DispositionReject:
		message := resultMessage(result)
		log.Warn().Str("job", job.JobID).Str("reason", message).
			Msg("Vote job was rejected, it will not be retried.")
		if q.opts.DeadLetter != nil {
			q.opts.DeadLetter(job, models.FailedJobKindDomain, message)
		}
		q.markRow(job, models.QueuedVoteStatusDead, &message)
		q.finish(job.DedupKey)
	case DispositionRetry:
		message := resultMessage(result)
		if job.Attempt >= q.opts.MaxAttempts {
			log.Error().Err(result.Err).Str("job", job.JobID).Int("attempts", job.Attempt).
				Msg("Vote job exhausted its retries.")
			if q.opts.DeadLetter != nil {
				q.opts.DeadLetter(job, models.FailedJobKindInfra, message)
			}
			q.markRow(job, models.QueuedVoteStatusDead, &message)
			q.finish(job.DedupKey)
			return
		}

		delay := q.opts.Backoff << (job.Attempt - 1)
		log.Warn().Err(result.Err).Str("job", job.JobID).Int("attempt", job.Attempt).Dur("delay", delay).
			Msg("Vote job hit a transient failure, scheduling a retry...")
		q.markRow(job, models.QueuedVoteStatusQueued, &message)
		time.AfterFunc(delay, func() {
			q.dispatch(job)
		})
	}
}

func (q *VoteQueue) markRow(job models.VoteJob, status string, message *string) {
	if q.opts.DB == nil {
		return
	}

	updates := map[string]any{
		"status":   status,
		"attempts": job.Attempt,
	}
	if message != nil {
		updates["last_error"] = *message
	}

	if err := q.opts.DB.Model(&models.QueuedVote{}).
		Where("job_id = ?", job.JobID).
		Updates(updates).Error; err != nil {
		log.Error().Err(err).Str("job", job.JobID).Msg("An error occurred when updating vote job row...")
	}
}

func (q *VoteQueue) finish(dedupKey string) {
	q.release(dedupKey)
	q.pending.Done()
}

func (q *VoteQueue) release(dedupKey string) {
	q.mtx.Lock()
	delete(q.active, dedupKey)
	q.mtx.Unlock()
}

func resultMessage(result Result) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	return "unknown error"
}
