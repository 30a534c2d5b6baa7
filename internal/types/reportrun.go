package types

import (
	"time"

	"github.com/google/uuid"
)

// Run lifecycle states. A run is terminal once complete or failed.
const (
	RunStatusQueued   = "queued"
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// Pipeline stages a run moves through, recorded for progress reporting and
// for pinpointing where a failed run stopped.
const (
	RunStageExtract    = "extract"
	RunStageNarratives = "narratives"
	RunStageFiling     = "filing"
	RunStageDone       = "done"
)

// ReportRun tracks one asynchronous processing attempt chain for a document.
// Workers claim queued runs, heartbeat while running, and either finish the
// run or release it for retry.
type ReportRun struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	Document   *Document `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`

	Status   string `gorm:"not null;default:'queued';index" json:"status"`
	Stage    string `gorm:"not null;default:'extract'" json:"stage"`
	Attempts int    `gorm:"not null;default:0" json:"attempts"`
	Error    string `gorm:"type:text" json:"error,omitempty"`

	ReportID *uuid.UUID `gorm:"type:uuid" json:"report_id,omitempty"`

	LockedAt    *time.Time `json:"-"`
	HeartbeatAt *time.Time `json:"-"`
	LastErrorAt *time.Time `json:"-"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ReportRun) TableName() string { return "report_run" }
