// Package model defines database models
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type File struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	OwnerID string `gorm:"index;not null" json:"-"`

	// Opaque object id inside the blob store. Different owners may upload
	// files with the same name so the key never reuses the original name alone
	BlobKey string `gorm:"not null" json:"-"`
	BlobURL string `json:"blobUrl"`

	Filename  string    `gorm:"not null" json:"filename"`
	MimeType  string    `gorm:"not null" json:"mimetype"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	return nil
}
