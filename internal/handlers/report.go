package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/requestdata"
	"github.com/smartmed/analyser-backend/internal/services"
)

type ReportHandler struct {
	log           *logger.Logger
	reportService services.ReportService
}

func NewReportHandler(reportService services.ReportService, baseLog *logger.Logger) *ReportHandler {
	return &ReportHandler{
		log:           baseLog.With("handler", "ReportHandler"),
		reportService: reportService,
	}
}

// currentUserID pulls the authenticated user out of the request context. The
// auth middleware guarantees it is set on protected routes.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing user context"))
		return uuid.Nil, false
	}
	return rd.UserID, true
}

// Upload accepts a multipart form with a single "file" field, stores the
// document and queues a processing run.
func (h *ReportHandler) Upload(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", errors.New("multipart field 'file' is required"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	doc, run, err := h.reportService.UploadDocument(
		c.Request.Context(),
		userID,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		data,
	)
	if err != nil {
		h.log.Warn("upload rejected", "error", err)
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"document": doc,
		"run":      run,
	})
}

func (h *ReportHandler) GetRun(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	runID, err := uuid.Parse(c.Param("run_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	run, err := h.reportService.GetRun(c.Request.Context(), userID, runID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"run": run})
}

// GetDocumentRun serves the upload polling loop: latest run for a document.
func (h *ReportHandler) GetDocumentRun(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	documentID, err := uuid.Parse(c.Param("document_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	run, err := h.reportService.GetLatestRunForDocument(c.Request.Context(), userID, documentID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"run": run})
}

func (h *ReportHandler) GetReport(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	reportID, err := uuid.Parse(c.Param("report_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	report, err := h.reportService.GetReport(c.Request.Context(), userID, reportID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"report": report})
}

func (h *ReportHandler) ListReports(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	reports, err := h.reportService.ListReports(c.Request.Context(), userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"reports": reports})
}

func (h *ReportHandler) DeleteReport(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	reportID, err := uuid.Parse(c.Param("report_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := h.reportService.DeleteReport(c.Request.Context(), userID, reportID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}
