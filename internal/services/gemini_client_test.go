package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/logger"
)

func testGeminiClient(t *testing.T, handler http.HandlerFunc, models ...string) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &GeminiClient{
		log:        logger.NewNop(),
		baseURL:    srv.URL,
		apiKey:     "test-key",
		models:     models,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		maxRetries: 0,
	}
}

func geminiOK(text string) []byte {
	var out generateContentResponse
	out.Candidates = []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	}{{Content: textContent("model", text)}}
	raw, _ := json.Marshal(out)
	return raw
}

func TestGenerateTextQuotaFallback(t *testing.T) {
	client := testGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "models/primary:") {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"status": "RESOURCE_EXHAUSTED"}}`))
			return
		}
		w.Write(geminiOK("hello from backup"))
	}, "primary", "backup")

	text, model, err := client.GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if model != "backup" {
		t.Fatalf("answered by %q, want fallback to %q", model, "backup")
	}
	if text != "hello from backup" {
		t.Fatalf("text = %q", text)
	}
}

func TestGenerateTextTransientFallback(t *testing.T) {
	client := testGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "models/primary:") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(geminiOK("hello from backup"))
	}, "primary", "backup")

	text, model, err := client.GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if model != "backup" {
		t.Fatalf("answered by %q, want fallback to %q after a 503", model, "backup")
	}
	if text != "hello from backup" {
		t.Fatalf("text = %q", text)
	}
}

func TestGenerateTextAllModelsTransient(t *testing.T) {
	calls := 0
	client := testGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}, "a", "b")

	_, _, err := client.GenerateText(context.Background(), "", "user")
	if err == nil {
		t.Fatal("expected error when every model keeps failing")
	}
	if !apierr.Is(err, apierr.KindQuotaExhausted) {
		t.Fatalf("error kind = %v, want exhaustion after walking the whole list", err)
	}
	if calls != 2 {
		t.Fatalf("made %d calls, want one per model", calls)
	}
}

func TestGenerateTextAllModelsExhausted(t *testing.T) {
	client := testGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`quota exceeded`))
	}, "a", "b", "c")

	_, _, err := client.GenerateText(context.Background(), "", "user")
	if err == nil {
		t.Fatal("expected error when every model is over quota")
	}
	if !apierr.Is(err, apierr.KindQuotaExhausted) {
		t.Fatalf("error kind = %v, want quota exhaustion", err)
	}
}

func TestGenerateTextPermanentErrorStops(t *testing.T) {
	calls := 0
	client := testGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"status": "INVALID_ARGUMENT"}}`))
	}, "a", "b")

	_, _, err := client.GenerateText(context.Background(), "", "user")
	if err == nil {
		t.Fatal("expected error")
	}
	if !apierr.Is(err, apierr.KindGenerationPermanent) {
		t.Fatalf("error kind = %v, want permanent", err)
	}
	if calls != 1 {
		t.Fatalf("made %d calls, permanent failures must not fall through to other models", calls)
	}
}

func TestGenerateTextRetriesTransient(t *testing.T) {
	calls := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(geminiOK("recovered"))
	}
	client := testGeminiClient(t, handler, "only")
	client.maxRetries = 1

	text, model, err := client.GenerateText(context.Background(), "", "user")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if model != "only" || text != "recovered" {
		t.Fatalf("got %q from %q", text, model)
	}
	if calls != 2 {
		t.Fatalf("made %d calls, want 2 (one retry)", calls)
	}
}

func TestGenerateTextEmptyReply(t *testing.T) {
	client := testGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}, "only")

	_, _, err := client.GenerateText(context.Background(), "", "user")
	if !apierr.Is(err, apierr.KindGenerationPermanent) {
		t.Fatalf("error = %v, want permanent kind for empty reply", err)
	}
}
