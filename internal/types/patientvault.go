package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// UnlabeledOwner is the sentinel vault key for reports whose document carried
// no usable patient name.
const UnlabeledOwner = "unlabeled"

// PatientVault groups a user's reports by the person they belong to.
// NormalizedName is the case-insensitive grouping key; CanonicalName keeps
// the first spelling seen for display. NameVariations accumulates every raw
// spelling that resolved to this vault.
type PatientVault struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_vault_user_name" json:"user_id"`
	User   *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	CanonicalName  string         `gorm:"not null" json:"canonical_name"`
	NormalizedName string         `gorm:"not null;uniqueIndex:idx_vault_user_name" json:"normalized_name"`
	NameVariations datatypes.JSON `gorm:"type:jsonb" json:"name_variations,omitempty"`
	ReportCount    int            `gorm:"not null;default:0" json:"report_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PatientVault) TableName() string { return "patient_vault" }
