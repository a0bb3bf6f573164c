package models

import "fmt"

// Vote is the durable record of a single accepted ballot. Rows are soft
// deleted only, so the ledger history stays auditable. The partial unique
// index is the authoritative guard against double voting; the cache-side
// dedup key is just the fast path.
type Vote struct {
	BaseModel

	PollID    uint    `json:"poll_id" gorm:"uniqueIndex:uq_votes_poll_voter,where:deleted_at IS NULL"`
	OptionID  string  `json:"option_id"`
	AccountID *uint   `json:"account_id"`
	GuestID   *string `json:"guest_id"`
	VoterKey  string  `json:"voter_key" gorm:"uniqueIndex:uq_votes_poll_voter,where:deleted_at IS NULL"`
	Weight    int     `json:"weight"`
}

// VoteTally is the per-option aggregate, maintained in the same transaction
// as the vote insert. Poll level totals are derived by summing tallies.
type VoteTally struct {
	BaseModel

	PollID   uint   `json:"poll_id" gorm:"uniqueIndex:uq_tallies_poll_option"`
	OptionID string `json:"option_id" gorm:"uniqueIndex:uq_tallies_poll_option"`
	Points   int64  `json:"points"`
}

// VoterRef is a resolved voter identity handed over by the authentication
// layer. Exactly one of AccountID and GuestID is set.
type VoterRef struct {
	AccountID *uint
	GuestID   *string
}

func (r VoterRef) Key() string {
	if r.AccountID != nil {
		return fmt.Sprintf("u:%d", *r.AccountID)
	}
	if r.GuestID != nil {
		return fmt.Sprintf("g:%s", *r.GuestID)
	}
	return ""
}

func (r VoterRef) IsGuest() bool {
	return r.AccountID == nil && r.GuestID != nil
}
