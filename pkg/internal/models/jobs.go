package models

import (
	"fmt"

	"gorm.io/datatypes"
)

const VoteQueueName = "vote-queue"

// VoteJob is the unit of work flowing through the intake queue. The shape is
// fixed so queue payload snapshots are schema checked instead of being an
// open-ended map.
type VoteJob struct {
	JobID     string  `json:"job_id"`
	PollID    uint    `json:"poll_id"`
	OptionID  string  `json:"option_id"`
	AccountID *uint   `json:"account_id"`
	GuestID   *string `json:"guest_id"`
	Weight    int     `json:"weight"`
	Attempt   int     `json:"attempt"`
	DedupKey  string  `json:"dedup_key"`
}

func (j VoteJob) Voter() VoterRef {
	return VoterRef{AccountID: j.AccountID, GuestID: j.GuestID}
}

func (j VoteJob) String() string {
	return fmt.Sprintf("%s (%s)", j.JobID, j.DedupKey)
}

const (
	QueuedVoteStatusQueued     = "queued"
	QueuedVoteStatusProcessing = "processing"
	QueuedVoteStatusCompleted  = "completed"
	QueuedVoteStatusDead       = "dead"
)

// QueuedVote is the durable face of an in-flight VoteJob. Rows that are still
// queued or processing when the process dies get picked up again on start.
type QueuedVote struct {
	BaseModel

	JobID     string                       `json:"job_id" gorm:"uniqueIndex"`
	DedupKey  string                       `json:"dedup_key" gorm:"uniqueIndex:uq_queued_votes_active,where:status = 'queued' OR status = 'processing'"`
	Status    string                       `json:"status" gorm:"index"`
	Attempts  int                          `json:"attempts"`
	LastError *string                      `json:"last_error"`
	Payload   datatypes.JSONType[VoteJob] `json:"payload"`
}

const (
	FailedJobKindDomain = "domain"
	FailedJobKindInfra  = "infra"
)

// FailedJob is the dead letter record, written once per terminal outcome and
// never mutated afterwards. Kind separates expected domain rejections from
// operator-actionable infrastructure failures.
type FailedJob struct {
	BaseModel

	JobID     string                      `json:"job_id" gorm:"uniqueIndex"`
	QueueName string                      `json:"queue_name"`
	Kind      string                      `json:"kind"`
	Payload   datatypes.JSONType[VoteJob] `json:"payload"`
	Error     string                      `json:"error"`
}
