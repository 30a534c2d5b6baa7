package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/services"
)

type VaultHandler struct {
	log          *logger.Logger
	vaultService services.VaultService
}

func NewVaultHandler(vaultService services.VaultService, baseLog *logger.Logger) *VaultHandler {
	return &VaultHandler{
		log:          baseLog.With("handler", "VaultHandler"),
		vaultService: vaultService,
	}
}

func (h *VaultHandler) ListVaults(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	vaults, err := h.vaultService.ListVaults(c.Request.Context(), userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"vaults": vaults})
}

func (h *VaultHandler) ListFiles(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	vaultID, err := uuid.Parse(c.Param("vault_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	files, err := h.vaultService.ListFiles(c.Request.Context(), userID, vaultID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"files": files})
}
