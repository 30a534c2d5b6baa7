package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/smartmed/analyser-backend/internal/db"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/repos"
	"github.com/smartmed/analyser-backend/internal/types"
)

func testReport(userID uuid.UUID, risk string) *types.Report {
	return &types.Report{
		ID:         uuid.New(),
		UserID:     userID,
		DocumentID: uuid.New(),
		ReportKind: "lab_report",
		RiskLevel:  risk,
	}
}

func TestVaultFileGroupsSpellingVariants(t *testing.T) {
	gdb := db.OpenTest(t)
	log := logger.NewNop()
	svc := NewVaultService(gdb, repos.NewPatientVaultRepo(gdb, log), log)
	ctx := context.Background()
	userID := uuid.New()

	spellings := []string{"Jane Doe", "jane doe", "  Jane   Doe "}
	var assignments []*OwnerAssignment
	for _, name := range spellings {
		a, err := svc.File(ctx, userID, testReport(userID, types.RiskNormal), name)
		if err != nil {
			t.Fatalf("File(%q): %v", name, err)
		}
		assignments = append(assignments, a)
	}

	vaults, err := svc.ListVaults(ctx, userID)
	if err != nil {
		t.Fatalf("ListVaults: %v", err)
	}
	if len(vaults) != 1 {
		t.Fatalf("got %d vaults, want 1 shared vault for all spellings", len(vaults))
	}
	vault := vaults[0]
	if vault.ReportCount != 3 {
		t.Fatalf("report count = %d, want 3", vault.ReportCount)
	}
	if vault.NormalizedName != "jane doe" {
		t.Fatalf("normalized name = %q", vault.NormalizedName)
	}
	if vault.CanonicalName != "Jane Doe" {
		t.Fatalf("canonical name = %q, want the first-seen spelling", vault.CanonicalName)
	}

	if !assignments[0].IsNewOwner {
		t.Fatal("first filing must create the vault")
	}
	for i, a := range assignments[1:] {
		if a.IsNewOwner {
			t.Fatalf("filing %d reported a new owner for an existing vault", i+2)
		}
		if a.VaultID != assignments[0].VaultID {
			t.Fatal("filings landed in different vaults")
		}
	}
	if got := assignments[2].TotalArchivedDocuments; got != 3 {
		t.Fatalf("final archived total = %d, want 3", got)
	}

	var variations []string
	if err := json.Unmarshal(vault.NameVariations, &variations); err != nil {
		t.Fatalf("unmarshal variations: %v", err)
	}
	// Unique raw spellings; the third filing trims to "Jane   Doe" raw form.
	if len(variations) < 2 {
		t.Fatalf("variations = %v, want the distinct raw spellings recorded", variations)
	}

	files, err := svc.ListFiles(ctx, userID, vault.ID)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d files, want 3", len(files))
	}
}

func TestVaultFileUnlabeledOwner(t *testing.T) {
	gdb := db.OpenTest(t)
	log := logger.NewNop()
	svc := NewVaultService(gdb, repos.NewPatientVaultRepo(gdb, log), log)
	ctx := context.Background()
	userID := uuid.New()

	a, err := svc.File(ctx, userID, testReport(userID, types.RiskUnknown), "   ")
	if err != nil {
		t.Fatalf("File with blank owner: %v", err)
	}
	if a.OwnerName != types.UnlabeledOwner {
		t.Fatalf("owner = %q, want the %q bucket", a.OwnerName, types.UnlabeledOwner)
	}
}

func TestVaultListFilesOwnership(t *testing.T) {
	gdb := db.OpenTest(t)
	log := logger.NewNop()
	svc := NewVaultService(gdb, repos.NewPatientVaultRepo(gdb, log), log)
	ctx := context.Background()
	owner := uuid.New()

	a, err := svc.File(ctx, owner, testReport(owner, types.RiskNormal), "Pat Smith")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if _, err := svc.ListFiles(ctx, uuid.New(), a.VaultID); err == nil {
		t.Fatal("another user must not be able to list someone else's vault files")
	}
}

func TestVaultSeparateOwnersSeparateVaults(t *testing.T) {
	gdb := db.OpenTest(t)
	log := logger.NewNop()
	svc := NewVaultService(gdb, repos.NewPatientVaultRepo(gdb, log), log)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.File(ctx, userID, testReport(userID, types.RiskNormal), "Jane Doe"); err != nil {
		t.Fatalf("File: %v", err)
	}
	if _, err := svc.File(ctx, userID, testReport(userID, types.RiskNormal), "John Roe"); err != nil {
		t.Fatalf("File: %v", err)
	}
	vaults, err := svc.ListVaults(ctx, userID)
	if err != nil {
		t.Fatalf("ListVaults: %v", err)
	}
	if len(vaults) != 2 {
		t.Fatalf("got %d vaults, want 2", len(vaults))
	}
}

func TestVaultFileIdempotentPerReport(t *testing.T) {
	gdb := db.OpenTest(t)
	log := logger.NewNop()
	svc := NewVaultService(gdb, repos.NewPatientVaultRepo(gdb, log), log)
	ctx := context.Background()
	userID := uuid.New()
	report := testReport(userID, types.RiskNormal)

	first, err := svc.File(ctx, userID, report, "Jane Doe")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	second, err := svc.File(ctx, userID, report, "Jane Doe")
	if err != nil {
		t.Fatalf("refile: %v", err)
	}
	if second.VaultFileID != first.VaultFileID {
		t.Fatalf("refiling minted a new vault file: %s vs %s", second.VaultFileID, first.VaultFileID)
	}
	if second.IsNewOwner {
		t.Fatal("refiling reported a new owner")
	}

	vaults, err := svc.ListVaults(ctx, userID)
	if err != nil {
		t.Fatalf("ListVaults: %v", err)
	}
	if len(vaults) != 1 {
		t.Fatalf("got %d vaults, want 1", len(vaults))
	}
	if vaults[0].ReportCount != 1 {
		t.Fatalf("report count = %d, refiling must not inflate the count", vaults[0].ReportCount)
	}
	files, err := svc.ListFiles(ctx, userID, first.VaultID)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d vault files, want 1", len(files))
	}
}
