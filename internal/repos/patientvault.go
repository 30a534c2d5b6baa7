package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/types"
)

type PatientVaultRepo interface {
	Create(ctx context.Context, tx *gorm.DB, vaults []*types.PatientVault) ([]*types.PatientVault, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PatientVault, error)
	ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.PatientVault, error)

	// GetForUpdate locks the vault row for the duration of the surrounding
	// transaction so concurrent filings of the same owner serialize.
	GetForUpdate(ctx context.Context, tx *gorm.DB, userID uuid.UUID, normalizedName string) (*types.PatientVault, error)

	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error

	CreateFiles(ctx context.Context, tx *gorm.DB, files []*types.VaultFile) ([]*types.VaultFile, error)
	ListFilesByVaultID(ctx context.Context, tx *gorm.DB, vaultID uuid.UUID) ([]*types.VaultFile, error)
	GetFileByReportID(ctx context.Context, tx *gorm.DB, reportID uuid.UUID) (*types.VaultFile, error)
}

type patientVaultRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPatientVaultRepo(db *gorm.DB, baseLog *logger.Logger) PatientVaultRepo {
	repoLog := baseLog.With("repo", "PatientVaultRepo")
	return &patientVaultRepo{db: db, log: repoLog}
}

func (r *patientVaultRepo) Create(ctx context.Context, tx *gorm.DB, vaults []*types.PatientVault) ([]*types.PatientVault, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(vaults) == 0 {
		return []*types.PatientVault{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&vaults).Error; err != nil {
		return nil, err
	}
	return vaults, nil
}

func (r *patientVaultRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PatientVault, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var vault types.PatientVault
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&vault).Error
	if err != nil {
		return nil, err
	}
	if vault.ID == uuid.Nil {
		return nil, nil
	}
	return &vault, nil
}

func (r *patientVaultRepo) ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.PatientVault, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.PatientVault
	if userID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("canonical_name ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *patientVaultRepo) GetForUpdate(ctx context.Context, tx *gorm.DB, userID uuid.UUID, normalizedName string) (*types.PatientVault, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(ctx)
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var vault types.PatientVault
	err := q.
		Where("user_id = ? AND normalized_name = ?", userID, normalizedName).
		Limit(1).
		Find(&vault).Error
	if err != nil {
		return nil, err
	}
	if vault.ID == uuid.Nil {
		return nil, nil
	}
	return &vault, nil
}

func (r *patientVaultRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.PatientVault{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *patientVaultRepo) CreateFiles(ctx context.Context, tx *gorm.DB, files []*types.VaultFile) ([]*types.VaultFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(files) == 0 {
		return []*types.VaultFile{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (r *patientVaultRepo) ListFilesByVaultID(ctx context.Context, tx *gorm.DB, vaultID uuid.UUID) ([]*types.VaultFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.VaultFile
	if vaultID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("vault_id = ?", vaultID).
		Order("filed_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *patientVaultRepo) GetFileByReportID(ctx context.Context, tx *gorm.DB, reportID uuid.UUID) (*types.VaultFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if reportID == uuid.Nil {
		return nil, nil
	}
	var file types.VaultFile
	err := transaction.WithContext(ctx).
		Where("report_id = ?", reportID).
		Limit(1).
		Find(&file).Error
	if err != nil {
		return nil, err
	}
	if file.ID == uuid.Nil {
		return nil, nil
	}
	return &file, nil
}
