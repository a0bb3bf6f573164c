package models

import (
	"time"

	"gorm.io/datatypes"
)

type Poll struct {
	BaseModel

	Title       string                          `json:"title"`
	Description string                          `json:"description"`
	IsPublic    bool                            `json:"is_public"`
	IsVoteEnd   bool                            `json:"is_vote_end"`
	StartedAt   *time.Time                      `json:"started_at"`
	ExpiredAt   *time.Time                      `json:"expired_at"`
	Options     datatypes.JSONSlice[PollOption] `json:"options"`
	EventID     uint                            `json:"event_id"`
	AccountID   uint                            `json:"account_id"`

	Metric PollMetric `json:"metric" gorm:"-"`
}

type PollMetric struct {
	TotalPoints int64            `json:"total_points"`
	ByOptions   map[string]int64 `json:"by_options"`
}

type PollOption struct {
	ID          string `json:"id"`
	Icon        string `json:"icon"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// HasOption reports whether the poll carries an option with the given id.
func (p Poll) HasOption(id string) bool {
	for _, option := range p.Options {
		if option.ID == id {
			return true
		}
	}
	return false
}

// IsClosed reports whether the poll no longer accepts votes.
func (p Poll) IsClosed(now time.Time) bool {
	if p.IsVoteEnd {
		return true
	}
	if p.ExpiredAt != nil && !now.Before(*p.ExpiredAt) {
		return true
	}
	return false
}
