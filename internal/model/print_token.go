package model

import "time"

// PrintToken is a single-use credential that authorizes one retrieval of a file.
// The used and response_delivered columns are only ever changed through
// conditional updates, never through a read followed by a save
type PrintToken struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	Token  string `gorm:"size:64;uniqueIndex;not null" json:"token"`
	FileID string `gorm:"size:36;index;not null" json:"-"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expiresAt"`

	Used   bool       `gorm:"not null" json:"used"`
	UsedAt *time.Time `json:"usedAt,omitempty"`

	// Decoupled from Used so a dropped connection after validation can be retried
	ResponseDelivered bool `gorm:"not null" json:"-"`

	// Forensics, captured at redemption time
	IPAddress string `gorm:"size:64" json:"-"`
	UserAgent string `gorm:"size:512" json:"-"`
}

// Expired reports whether the validity window is over at instant now. The
// window is half open, a token is already expired at ExpiresAt
func (t *PrintToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Closed reports whether the file already reached the client
func (t *PrintToken) Closed() bool {
	return t.Used && t.ResponseDelivered
}

// Redeemable reports whether the token may still be used at instant now.
func (t *PrintToken) Redeemable(now time.Time) bool {
	return !t.Expired(now) && !t.Closed()
}
