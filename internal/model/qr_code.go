package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QRCode links a file to the stored QR image and the redemption URL it encodes
type QRCode struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	FileID        string    `gorm:"size:36;index;not null" json:"-"`
	TokenID       uint      `gorm:"index" json:"-"`
	ImageKey      string    `gorm:"not null" json:"-"`
	ImageURL      string    `json:"qrImageUrl"`
	RedemptionURL string    `json:"redemptionUrl"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (q *QRCode) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}

	return nil
}
