package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/smartmed/analyser-backend/internal/logger"
)

func TestCooldownInMemoryFallback(t *testing.T) {
	// No REDIS_ADDR in the test environment: the in-memory path applies.
	t.Setenv("REDIS_ADDR", "")
	svc := NewCooldownService(50*time.Millisecond, logger.NewNop())
	ctx := context.Background()
	sessionID := uuid.New()

	if !svc.Acquire(ctx, sessionID) {
		t.Fatal("first acquire must succeed")
	}
	if svc.Acquire(ctx, sessionID) {
		t.Fatal("immediate second acquire must be rejected")
	}

	// An unrelated session is not affected.
	if !svc.Acquire(ctx, uuid.New()) {
		t.Fatal("cooldown leaked across sessions")
	}

	time.Sleep(60 * time.Millisecond)
	if !svc.Acquire(ctx, sessionID) {
		t.Fatal("acquire must succeed once the interval has passed")
	}
}
