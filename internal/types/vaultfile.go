package types

import (
	"time"

	"github.com/google/uuid"
)

// VaultFile is one filed report inside a vault. It records the owner name as
// it appeared on that particular document, which may differ in spelling from
// the vault's canonical name.
type VaultFile struct {
	ID      uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	VaultID uuid.UUID     `gorm:"type:uuid;not null;index" json:"vault_id"`
	Vault   *PatientVault `gorm:"foreignKey:VaultID;constraint:OnDelete:CASCADE" json:"-"`

	ReportID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"report_id"`
	Report   *Report   `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE" json:"-"`

	Label     string `gorm:"not null;default:''" json:"label"`
	OwnerName string `gorm:"not null;default:''" json:"owner_name"`
	RiskLevel string `gorm:"not null;default:'unknown'" json:"risk_level"`

	FiledAt   time.Time `gorm:"autoCreateTime" json:"filed_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (VaultFile) TableName() string { return "vault_file" }
