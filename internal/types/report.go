package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Report is the durable aggregate produced by a completed pipeline run:
// the structured extraction plus both generated narratives. Summary and
// Recommendations are either both set or both empty.
type Report struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User       *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	Document   *Document `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`

	OwnerName  string `gorm:"not null;default:''" json:"owner_name"`
	ReportKind string `gorm:"not null;default:'lab_report'" json:"report_kind"`
	RiskLevel  string `gorm:"not null;default:'unknown'" json:"risk_level"`
	TestCount  int    `gorm:"not null;default:0" json:"test_count"`

	Structured      datatypes.JSON `gorm:"type:jsonb" json:"structured,omitempty"`
	Summary         string         `gorm:"type:text" json:"summary"`
	Recommendations string         `gorm:"type:text" json:"recommendations"`
	GeneratedBy     string         `gorm:"not null;default:''" json:"generated_by"`
	GeneratedAt     *time.Time     `json:"generated_at,omitempty"`

	VaultFileID *uuid.UUID `gorm:"type:uuid;index" json:"vault_file_id,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Report) TableName() string { return "report" }
