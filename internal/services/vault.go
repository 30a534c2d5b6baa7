package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/normalization"
	"github.com/smartmed/analyser-backend/internal/repos"
	"github.com/smartmed/analyser-backend/internal/types"
)

// OwnerAssignment is the result of filing one report into a patient vault.
type OwnerAssignment struct {
	OwnerName              string    `json:"owner_name"`
	VaultID                uuid.UUID `json:"vault_id"`
	VaultFileID            uuid.UUID `json:"vault_file_id"`
	IsNewOwner             bool      `json:"is_new_owner"`
	TotalArchivedDocuments int       `json:"total_archived_documents"`
}

// VaultService groups reports by owner. Owner identity is matched on the
// normalized name; concurrent filings for the same owner serialize on the
// vault row.
type VaultService interface {
	File(ctx context.Context, userID uuid.UUID, report *types.Report, hintedOwnerName string) (*OwnerAssignment, error)
	ListVaults(ctx context.Context, userID uuid.UUID) ([]*types.PatientVault, error)
	ListFiles(ctx context.Context, userID uuid.UUID, vaultID uuid.UUID) ([]*types.VaultFile, error)
}

type vaultService struct {
	log    *logger.Logger
	db     *gorm.DB
	vaults repos.PatientVaultRepo
}

func NewVaultService(db *gorm.DB, vaults repos.PatientVaultRepo, baseLog *logger.Logger) VaultService {
	serviceLog := baseLog.With("service", "VaultService")
	return &vaultService{log: serviceLog, db: db, vaults: vaults}
}

func (s *vaultService) File(ctx context.Context, userID uuid.UUID, report *types.Report, hintedOwnerName string) (*OwnerAssignment, error) {
	rawName := strings.TrimSpace(hintedOwnerName)
	normalized := normalization.NormalizeOwnerName(rawName)
	if normalized == "" {
		// Unresolved owners land in the sentinel bucket instead of failing.
		normalized = types.UnlabeledOwner
		rawName = types.UnlabeledOwner
	}

	var assignment *OwnerAssignment

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Filing is idempotent per report: a retried run must not file the
		// same report into a second slot or inflate the count.
		if existing, err := s.vaults.GetFileByReportID(ctx, tx, report.ID); err != nil {
			return err
		} else if existing != nil {
			owner := existing.OwnerName
			total := 0
			if v, err := s.vaults.GetByID(ctx, tx, existing.VaultID); err != nil {
				return err
			} else if v != nil {
				owner = v.CanonicalName
				total = v.ReportCount
			}
			assignment = &OwnerAssignment{
				OwnerName:              owner,
				VaultID:                existing.VaultID,
				VaultFileID:            existing.ID,
				IsNewOwner:             false,
				TotalArchivedDocuments: total,
			}
			return nil
		}

		vault, err := s.vaults.GetForUpdate(ctx, tx, userID, normalized)
		if err != nil {
			return err
		}

		isNew := vault == nil
		if isNew {
			vault = &types.PatientVault{
				ID:             uuid.New(),
				UserID:         userID,
				CanonicalName:  rawName,
				NormalizedName: normalized,
			}
			if _, err := s.vaults.Create(ctx, tx, []*types.PatientVault{vault}); err != nil {
				return err
			}
		}

		variations := appendVariation(vault.NameVariations, rawName)

		file := &types.VaultFile{
			ID:        uuid.New(),
			VaultID:   vault.ID,
			ReportID:  report.ID,
			Label:     report.ReportKind,
			OwnerName: rawName,
			RiskLevel: report.RiskLevel,
			FiledAt:   time.Now(),
		}
		if _, err := s.vaults.CreateFiles(ctx, tx, []*types.VaultFile{file}); err != nil {
			return err
		}

		total := vault.ReportCount + 1
		if err := s.vaults.UpdateFields(ctx, tx, vault.ID, map[string]interface{}{
			"report_count":    total,
			"name_variations": variations,
		}); err != nil {
			return err
		}

		assignment = &OwnerAssignment{
			OwnerName:              vault.CanonicalName,
			VaultID:                vault.ID,
			VaultFileID:            file.ID,
			IsNewOwner:             isNew,
			TotalArchivedDocuments: total,
		}
		return nil
	})
	if err != nil {
		return nil, apierr.AtStage("filing", apierr.KindFiling, err)
	}

	return assignment, nil
}

func (s *vaultService) ListVaults(ctx context.Context, userID uuid.UUID) ([]*types.PatientVault, error) {
	return s.vaults.ListByUserID(ctx, nil, userID)
}

func (s *vaultService) ListFiles(ctx context.Context, userID uuid.UUID, vaultID uuid.UUID) ([]*types.VaultFile, error) {
	vault, err := s.vaults.GetByID(ctx, nil, vaultID)
	if err != nil {
		return nil, err
	}
	if vault == nil || vault.UserID != userID {
		return nil, apierr.New(apierr.KindNotFound, "vault not found")
	}
	return s.vaults.ListFilesByVaultID(ctx, nil, vaultID)
}

// appendVariation adds a raw spelling to the vault's variation list, keeping
// entries unique.
func appendVariation(existing datatypes.JSON, raw string) datatypes.JSON {
	var variations []string
	if len(existing) > 0 {
		_ = json.Unmarshal(existing, &variations)
	}
	for _, v := range variations {
		if v == raw {
			out, _ := json.Marshal(variations)
			return out
		}
	}
	variations = append(variations, raw)
	out, _ := json.Marshal(variations)
	return out
}
