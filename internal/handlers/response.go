package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smartmed/analyser-backend/internal/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps the error taxonomy to HTTP statuses so handlers
// stay one-liners.
func RespondServiceError(c *gin.Context, err error) {
	switch {
	case apierr.Is(err, apierr.KindValidation):
		RespondError(c, http.StatusBadRequest, "validation", err)
	case apierr.Is(err, apierr.KindNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case apierr.Is(err, apierr.KindUnauthorized):
		RespondError(c, http.StatusUnauthorized, "unauthorized", err)
	case apierr.Is(err, apierr.KindRateLimit):
		RespondError(c, http.StatusTooManyRequests, "rate_limited", err)
	case apierr.Is(err, apierr.KindQuotaExhausted):
		RespondError(c, http.StatusServiceUnavailable, "quota_exhausted", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
