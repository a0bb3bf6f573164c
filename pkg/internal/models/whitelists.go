package models

// Whitelist ties a registered account to an event and grants it a voting
// power budget. Points are debited inside the same transaction as the vote
// insert. Guests never touch this table, they always vote with weight 1.
type Whitelist struct {
	BaseModel

	EventID   uint  `json:"event_id" gorm:"uniqueIndex:uq_whitelists_event_account"`
	AccountID uint  `json:"account_id" gorm:"uniqueIndex:uq_whitelists_event_account"`
	Points    int64 `json:"points"`
}
