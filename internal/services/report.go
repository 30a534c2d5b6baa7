package services

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/repos"
	"github.com/smartmed/analyser-backend/internal/types"
)

// maxUploadBytes bounds a single document upload.
const maxUploadBytes = 25 << 20

var supportedUploadExts = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".json": true,
}

// ReportService is the caller-facing surface: document upload plus report
// retrieval. Upload stores the raw bytes and queues a pipeline run; the
// report itself appears once that run completes.
type ReportService interface {
	UploadDocument(ctx context.Context, userID uuid.UUID, filename string, mimeType string, data []byte) (*types.Document, *types.ReportRun, error)
	GetRun(ctx context.Context, userID uuid.UUID, runID uuid.UUID) (*types.ReportRun, error)
	GetLatestRunForDocument(ctx context.Context, userID uuid.UUID, documentID uuid.UUID) (*types.ReportRun, error)
	GetReport(ctx context.Context, userID uuid.UUID, reportID uuid.UUID) (*types.Report, error)
	ListReports(ctx context.Context, userID uuid.UUID) ([]*types.Report, error)
	DeleteReport(ctx context.Context, userID uuid.UUID, reportID uuid.UUID) error
}

type reportService struct {
	log          *logger.Logger
	documentRepo repos.DocumentRepo
	reportRepo   repos.ReportRepo
	runRepo      repos.ReportRunRepo
	bucket       BucketService
	extraction   ExtractionService
	pipeline     ReportPipelineService
}

func NewReportService(
	documentRepo repos.DocumentRepo,
	reportRepo repos.ReportRepo,
	runRepo repos.ReportRunRepo,
	bucket BucketService,
	extraction ExtractionService,
	pipeline ReportPipelineService,
	baseLog *logger.Logger,
) ReportService {
	serviceLog := baseLog.With("service", "ReportService")
	return &reportService{
		log:          serviceLog,
		documentRepo: documentRepo,
		reportRepo:   reportRepo,
		runRepo:      runRepo,
		bucket:       bucket,
		extraction:   extraction,
		pipeline:     pipeline,
	}
}

func (s *reportService) UploadDocument(ctx context.Context, userID uuid.UUID, filename string, mimeType string, data []byte) (*types.Document, *types.ReportRun, error) {
	if len(data) == 0 {
		return nil, nil, apierr.New(apierr.KindValidation, "file is empty")
	}
	if len(data) > maxUploadBytes {
		return nil, nil, apierr.Newf(apierr.KindValidation, "file exceeds %d bytes", maxUploadBytes)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedUploadExts[ext] {
		return nil, nil, apierr.Newf(apierr.KindValidation, "unsupported file type %q", ext)
	}

	doc := &types.Document{
		ID:           uuid.New(),
		UserID:       userID,
		OriginalName: filepath.Base(filename),
		MimeType:     mimeType,
		SizeBytes:    int64(len(data)),
		Status:       "uploaded",
	}
	doc.StorageKey = fmt.Sprintf("documents/%s/%s%s", userID, doc.ID, ext)

	if err := s.bucket.UploadFile(ctx, doc.StorageKey, bytes.NewReader(data)); err != nil {
		return nil, nil, fmt.Errorf("failed to store document: %w", err)
	}
	if _, err := s.documentRepo.Create(ctx, nil, []*types.Document{doc}); err != nil {
		return nil, nil, fmt.Errorf("failed to create document record: %w", err)
	}

	run, err := s.pipeline.EnqueueDocument(ctx, userID, doc.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to enqueue processing run: %w", err)
	}
	return doc, run, nil
}

func (s *reportService) GetRun(ctx context.Context, userID uuid.UUID, runID uuid.UUID) (*types.ReportRun, error) {
	run, err := s.runRepo.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if run == nil || run.UserID != userID {
		return nil, apierr.New(apierr.KindNotFound, "run not found")
	}
	return run, nil
}

// GetLatestRunForDocument is the polling surface after an upload: the most
// recent run for the document, whatever state it is in.
func (s *reportService) GetLatestRunForDocument(ctx context.Context, userID uuid.UUID, documentID uuid.UUID) (*types.ReportRun, error) {
	doc, err := s.documentRepo.GetByID(ctx, nil, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.UserID != userID {
		return nil, apierr.New(apierr.KindNotFound, "document not found")
	}
	run, err := s.runRepo.GetLatestByDocumentID(ctx, nil, documentID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierr.New(apierr.KindNotFound, "no run for document")
	}
	return run, nil
}

func (s *reportService) GetReport(ctx context.Context, userID uuid.UUID, reportID uuid.UUID) (*types.Report, error) {
	report, err := s.reportRepo.GetByID(ctx, nil, reportID)
	if err != nil {
		return nil, err
	}
	if report == nil || report.UserID != userID {
		return nil, apierr.New(apierr.KindNotFound, "report not found")
	}
	return report, nil
}

func (s *reportService) ListReports(ctx context.Context, userID uuid.UUID) ([]*types.Report, error) {
	return s.reportRepo.ListByUserID(ctx, nil, userID)
}

func (s *reportService) DeleteReport(ctx context.Context, userID uuid.UUID, reportID uuid.UUID) error {
	report, err := s.reportRepo.GetByID(ctx, nil, reportID)
	if err != nil {
		return err
	}
	if report == nil || report.UserID != userID {
		return apierr.New(apierr.KindNotFound, "report not found")
	}

	// Stored objects go best-effort; the row delete is the source of truth.
	doc, err := s.documentRepo.GetByID(ctx, nil, report.DocumentID)
	if err == nil && doc != nil {
		if delErr := s.bucket.DeleteFile(ctx, doc.StorageKey); delErr != nil {
			s.log.Warn("Failed to delete stored document", "document_id", doc.ID, "error", delErr)
		}
		// The artifact write is non-fatal on the way in, so it may never
		// have landed.
		artifactKey := s.extraction.ArtifactKey(doc)
		if ok, _ := s.bucket.Exists(ctx, artifactKey); ok {
			if delErr := s.bucket.DeleteFile(ctx, artifactKey); delErr != nil {
				s.log.Warn("Failed to delete extraction artifact", "document_id", doc.ID, "error", delErr)
			}
		}
		if delErr := s.documentRepo.SoftDeleteByIDs(ctx, nil, []uuid.UUID{doc.ID}); delErr != nil {
			s.log.Warn("Failed to delete document record", "document_id", doc.ID, "error", delErr)
		}
	}

	return s.reportRepo.SoftDeleteByIDs(ctx, nil, []uuid.UUID{reportID})
}
