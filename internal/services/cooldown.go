package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/smartmed/analyser-backend/internal/logger"
)

// CooldownService enforces the per-session minimum interval between chat
// turns. It is explicitly best-effort: if the backing store is unreachable
// the turn proceeds rather than blocking the user.
type CooldownService interface {
	// Acquire returns false when the session is still cooling down.
	Acquire(ctx context.Context, sessionID uuid.UUID) bool
}

type redisCooldown struct {
	log      *logger.Logger
	client   *redis.Client
	interval time.Duration

	mu       sync.Mutex
	fallback map[uuid.UUID]time.Time
}

func NewCooldownService(interval time.Duration, baseLog *logger.Logger) CooldownService {
	serviceLog := baseLog.With("service", "CooldownService")

	var client *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
	} else {
		serviceLog.Warn("REDIS_ADDR not set, chat cooldown runs in-memory only")
	}

	return &redisCooldown{
		log:      serviceLog,
		client:   client,
		interval: interval,
		fallback: make(map[uuid.UUID]time.Time),
	}
}

func (s *redisCooldown) Acquire(ctx context.Context, sessionID uuid.UUID) bool {
	if s.client != nil {
		key := fmt.Sprintf("chat:cooldown:%s", sessionID)
		ok, err := s.client.SetNX(ctx, key, 1, s.interval).Result()
		if err == nil {
			return ok
		}
		s.log.Warn("Cooldown check against redis failed, falling back to memory", "error", err)
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.fallback[sessionID]; ok && now.Sub(last) < s.interval {
		return false
	}
	s.fallback[sessionID] = now
	return true
}
