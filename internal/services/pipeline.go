package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/repos"
	"github.com/smartmed/analyser-backend/internal/types"
)

// ReportPipelineService owns the document processing run: extraction, the
// two parallel narrative generations, and vault filing. Runs are queued on
// upload and drained by a background worker.
type ReportPipelineService interface {
	EnqueueDocument(ctx context.Context, userID uuid.UUID, documentID uuid.UUID) (*types.ReportRun, error)
	ProcessRun(ctx context.Context, run *types.ReportRun)
	StartWorker(ctx context.Context)
}

type reportPipelineService struct {
	db  *gorm.DB
	log *logger.Logger

	documentRepo repos.DocumentRepo
	runRepo      repos.ReportRunRepo
	reportRepo   repos.ReportRepo

	extraction ExtractionService
	insight    InsightService
	vault      VaultService
}

func NewReportPipelineService(
	db *gorm.DB,
	baseLog *logger.Logger,
	documentRepo repos.DocumentRepo,
	runRepo repos.ReportRunRepo,
	reportRepo repos.ReportRepo,
	extraction ExtractionService,
	insight InsightService,
	vault VaultService,
) ReportPipelineService {
	return &reportPipelineService{
		db:           db,
		log:          baseLog.With("service", "ReportPipelineService"),
		documentRepo: documentRepo,
		runRepo:      runRepo,
		reportRepo:   reportRepo,
		extraction:   extraction,
		insight:      insight,
		vault:        vault,
	}
}

func (ps *reportPipelineService) EnqueueDocument(ctx context.Context, userID uuid.UUID, documentID uuid.UUID) (*types.ReportRun, error) {
	var run *types.ReportRun

	err := ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := ps.documentRepo.GetByID(ctx, tx, documentID)
		if err != nil {
			return fmt.Errorf("load document: %w", err)
		}
		if doc == nil || doc.UserID != userID {
			return apierr.New(apierr.KindNotFound, "document not found")
		}

		now := time.Now()
		run = &types.ReportRun{
			ID:         uuid.New(),
			UserID:     userID,
			DocumentID: documentID,
			Status:     types.RunStatusQueued,
			Stage:      types.RunStageExtract,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := ps.runRepo.Create(ctx, tx, []*types.ReportRun{run}); err != nil {
			return fmt.Errorf("create report run: %w", err)
		}
		if err := ps.documentRepo.UpdateStatus(ctx, tx, documentID, "processing"); err != nil {
			return fmt.Errorf("update document status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Worker policy. heartbeatInterval must stay well under staleRunning so a
// live run is never reclaimed mid-stage by another worker.
const (
	runMaxAttempts       = 3
	runRetryDelay        = 30 * time.Second
	runStaleRunning      = 2 * time.Minute
	runHeartbeatInterval = 30 * time.Second
)

func (ps *reportPipelineService) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run, err := ps.runRepo.ClaimNextRunnable(ctx, ps.db, runMaxAttempts, runRetryDelay, runStaleRunning)
				if err != nil {
					ps.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if run == nil {
					continue
				}
				ps.ProcessRun(ctx, run)
			}
		}
	}()
}

func (ps *reportPipelineService) ProcessRun(ctx context.Context, run *types.ReportRun) {
	runID := run.ID

	// Keep the heartbeat fresh for the whole run. A single stage (download,
	// narrative generation) can run long enough to cross the stale-running
	// window otherwise, and a second worker would reclaim a live run.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go func() {
		ticker := time.NewTicker(runHeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := ps.runRepo.Heartbeat(hbCtx, nil, runID); err != nil {
					ps.log.Warn("Run heartbeat failed", "run_id", runID, "error", err)
				}
			}
		}
	}()

	fail := func(stage string, err error) {
		now := time.Now()
		_ = ps.runRepo.UpdateFields(ctx, nil, runID, map[string]interface{}{
			"status":        types.RunStatusFailed,
			"stage":         stage,
			"error":         err.Error(),
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		_ = ps.documentRepo.UpdateStatus(ctx, nil, run.DocumentID, "failed")
		ps.log.Warn("Report run failed", "run_id", runID, "stage", stage, "error", err)
	}

	progress := func(stage string) {
		now := time.Now()
		_ = ps.runRepo.UpdateFields(ctx, nil, runID, map[string]interface{}{
			"stage":        stage,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	}

	doc, err := ps.documentRepo.GetByID(ctx, nil, run.DocumentID)
	if err != nil {
		fail(types.RunStageExtract, fmt.Errorf("load document: %w", err))
		return
	}
	if doc == nil {
		fail(types.RunStageExtract, fmt.Errorf("document %s not found", run.DocumentID))
		return
	}

	// 1) EXTRACT. Any failure here is fatal for the run; nothing downstream
	// may see a record that does not exist.
	progress(types.RunStageExtract)
	record, err := ps.extraction.Extract(ctx, doc)
	if err != nil {
		fail(types.RunStageExtract, err)
		return
	}

	// 2) NARRATIVES, both in parallel, all-or-nothing. A report missing
	// either narrative is not usable.
	progress(types.RunStageNarratives)
	var summary, recommendations *Narrative
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var genErr error
		summary, genErr = ps.insight.Generate(gctx, NarrativeSummary, record)
		return genErr
	})
	g.Go(func() error {
		var genErr error
		recommendations, genErr = ps.insight.Generate(gctx, NarrativeRecommendations, record)
		return genErr
	})
	if err := g.Wait(); err != nil {
		fail(types.RunStageNarratives, err)
		return
	}

	structured, err := json.Marshal(record)
	if err != nil {
		fail(types.RunStageNarratives, fmt.Errorf("marshal structured record: %w", err))
		return
	}

	// A reclaimed run may find the report from an earlier attempt already
	// persisted. Reuse it instead of writing a duplicate.
	report, err := ps.reportRepo.GetByDocumentID(ctx, nil, doc.ID)
	if err != nil {
		fail(types.RunStageNarratives, fmt.Errorf("check existing report: %w", err))
		return
	}
	if report == nil {
		now := time.Now()
		report = &types.Report{
			ID:              uuid.New(),
			UserID:          run.UserID,
			DocumentID:      doc.ID,
			OwnerName:       record.PatientHints.Name,
			ReportKind:      "lab_report",
			RiskLevel:       record.RiskLevel(),
			TestCount:       record.TestCount,
			Structured:      datatypes.JSON(structured),
			Summary:         summary.Text,
			Recommendations: recommendations.Text,
			GeneratedBy:     summary.Model,
			GeneratedAt:     &now,
		}
		if _, err := ps.reportRepo.Create(ctx, nil, []*types.Report{report}); err != nil {
			fail(types.RunStageNarratives, fmt.Errorf("persist report: %w", err))
			return
		}
	}

	// 3) FILING. The report above survives a filing failure; it just lacks a
	// vault assignment, and the run is marked failed at this stage.
	progress(types.RunStageFiling)
	assignment, err := ps.vault.File(ctx, run.UserID, report, record.PatientHints.Name)
	if err != nil {
		_ = ps.runRepo.UpdateFields(ctx, nil, runID, map[string]interface{}{
			"report_id": report.ID,
		})
		fail(types.RunStageFiling, err)
		return
	}
	if err := ps.reportRepo.UpdateFields(ctx, nil, report.ID, map[string]interface{}{
		"vault_file_id": assignment.VaultFileID,
		"owner_name":    assignment.OwnerName,
	}); err != nil {
		fail(types.RunStageFiling, fmt.Errorf("link vault file: %w", err))
		return
	}

	finished := time.Now()
	_ = ps.runRepo.UpdateFields(ctx, nil, runID, map[string]interface{}{
		"status":      types.RunStatusComplete,
		"stage":       types.RunStageDone,
		"report_id":   report.ID,
		"locked_at":   nil,
		"finished_at": finished,
		"updated_at":  finished,
	})
	_ = ps.documentRepo.UpdateStatus(ctx, nil, doc.ID, "complete")

	ps.log.Info("Report run complete",
		"run_id", runID,
		"report_id", report.ID,
		"owner", assignment.OwnerName,
		"risk_level", report.RiskLevel,
		"test_count", report.TestCount,
	)
}
