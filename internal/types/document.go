package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document is an uploaded source lab report. The binary lives in the bucket
// under StorageKey; rows here are immutable after upload apart from Status.
type Document struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User         *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`
	OriginalName string         `gorm:"column:original_name;not null" json:"original_name"`
	MimeType     string         `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes    int64          `gorm:"column:size_bytes" json:"size_bytes"`
	StorageKey   string         `gorm:"column:storage_key;not null" json:"storage_key"`
	Status       string         `gorm:"column:status;not null;default:'uploaded'" json:"status"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "document" }
