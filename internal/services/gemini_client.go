package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/logger"
)

// TextGenerator is the narrow generation surface the insight and chat
// services depend on. Returns the generated text and the model that
// produced it.
type TextGenerator interface {
	GenerateText(ctx context.Context, system string, user string) (string, string, error)
}

// geminiFallbackModels is the fixed attempt order. When a model answers with
// a quota error the client moves to the next one instead of waiting out the
// quota window.
var geminiFallbackModels = []string{
	"gemini-2.5-flash",
	"gemini-flash-latest",
	"gemini-2.0-flash-lite",
	"gemini-2.5-flash-lite",
}

type GeminiClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	models     []string
	httpClient *http.Client

	maxRetries int
}

func NewGeminiClient(log *logger.Logger) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}

	baseURL := os.Getenv("GEMINI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	models := geminiFallbackModels
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODELS")); v != "" {
		models = nil
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
	}

	timeoutSec := 120
	if v := os.Getenv("GEMINI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 2
	if v := os.Getenv("GEMINI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &GeminiClient{
		log:        log.With("service", "GeminiClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		models:     models,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

type geminiHTTPError struct {
	StatusCode int
	Body       string
}

func (e *geminiHTTPError) Error() string {
	return fmt.Sprintf("gemini http %d: %s", e.StatusCode, e.Body)
}

// isQuotaErr reports whether the failure means this model's quota is spent
// and the next fallback model should be tried.
func isQuotaErr(err error) bool {
	var httpErr *geminiHTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	if httpErr.StatusCode == 429 {
		return true
	}
	body := strings.ToLower(httpErr.Body)
	return strings.Contains(body, "resource_exhausted") || strings.Contains(body, "quota")
}

func isTransientErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *geminiHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 408 || (httpErr.StatusCode >= 500 && httpErr.StatusCode <= 599)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	v := low + rand.Float64()*2*delta
	return time.Duration(v * float64(time.Second))
}

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

type generateContentRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

func textContent(role, text string) geminiContent {
	c := geminiContent{Role: role}
	c.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}
	return c
}

func (c *GeminiClient) doOnce(ctx context.Context, model string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent", model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &geminiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

// generateWithModel drives the retry loop for a single model. Quota errors
// are returned immediately so the caller can advance the fallback order.
func (c *GeminiClient) generateWithModel(ctx context.Context, model string, req generateContentRequest) (string, error) {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, model, req)
		if err == nil {
			var out generateContentResponse
			if uErr := json.Unmarshal(raw, &out); uErr != nil {
				return "", fmt.Errorf("gemini decode error: %w; raw=%s", uErr, string(raw))
			}
			var text string
			for _, cand := range out.Candidates {
				for _, part := range cand.Content.Parts {
					text += part.Text
				}
			}
			if strings.TrimSpace(text) == "" {
				return "", apierr.New(apierr.KindGenerationPermanent, "gemini returned empty text")
			}
			return text, nil
		}

		if isQuotaErr(err) {
			return "", err
		}
		if !isTransientErr(err) || attempt == c.maxRetries {
			return "", err
		}

		sleepFor := backoff
		if resp != nil {
			if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("Gemini request retrying",
			"model", model,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return "", fmt.Errorf("unreachable retry loop")
}

// GenerateText tries each configured model in order, falling through on quota
// exhaustion and on transient failures that survive the per-model retry
// budget. Only a permanent error stops the walk early. The second return
// value names the model that answered.
func (c *GeminiClient) GenerateText(ctx context.Context, system string, user string) (string, string, error) {
	req := generateContentRequest{
		Contents: []geminiContent{textContent("user", user)},
	}
	if system != "" {
		sys := textContent("", system)
		req.SystemInstruction = &sys
	}
	req.GenerationConfig.Temperature = 0.3

	var lastErr error
	for _, model := range c.models {
		text, err := c.generateWithModel(ctx, model, req)
		if err == nil {
			return text, model, nil
		}
		lastErr = err

		if isQuotaErr(err) {
			c.log.Warn("Gemini model quota exhausted, falling back", "model", model)
			continue
		}
		if isTransientErr(err) {
			c.log.Warn("Gemini model failed after retries, falling back", "model", model, "error", err.Error())
			continue
		}
		return "", "", apierr.AtStage("generate", apierr.KindGenerationPermanent, err)
	}

	return "", "", apierr.AtStage("generate", apierr.KindQuotaExhausted,
		fmt.Errorf("all %d models exhausted: %w", len(c.models), lastErr))
}
