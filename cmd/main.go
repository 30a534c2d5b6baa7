package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/smartmed/analyser-backend/internal/db"
	"github.com/smartmed/analyser-backend/internal/handlers"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/middleware"
	"github.com/smartmed/analyser-backend/internal/repos"
	"github.com/smartmed/analyser-backend/internal/server"
	"github.com/smartmed/analyser-backend/internal/services"
	"github.com/smartmed/analyser-backend/internal/utils"
)

func main() {
	mode := os.Getenv("APP_ENV")
	log, err := logger.New(mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}
	gdb := pg.DB()

	userRepo := repos.NewUserRepo(gdb, log)
	userTokenRepo := repos.NewUserTokenRepo(gdb, log)
	documentRepo := repos.NewDocumentRepo(gdb, log)
	runRepo := repos.NewReportRunRepo(gdb, log)
	reportRepo := repos.NewReportRepo(gdb, log)
	vaultRepo := repos.NewPatientVaultRepo(gdb, log)
	chatRepo := repos.NewChatSessionRepo(gdb, log)

	bucket, err := services.NewBucketService(log)
	if err != nil {
		log.Fatal("failed to init bucket service", "error", err)
	}
	gemini, err := services.NewGeminiClient(log)
	if err != nil {
		log.Fatal("failed to init gemini client", "error", err)
	}

	extraction := services.NewExtractionService(bucket, log)
	insight := services.NewInsightService(gemini, log)
	vault := services.NewVaultService(gdb, vaultRepo, log)
	pipeline := services.NewReportPipelineService(gdb, log, documentRepo, runRepo, reportRepo, extraction, insight, vault)

	cooldownInterval := envDuration("CHAT_COOLDOWN_SECONDS", 2*time.Second, log)
	cooldown := services.NewCooldownService(cooldownInterval, log)
	safety := services.NewSafetyFilter()
	maxHistory := envInt("CHAT_MAX_HISTORY", 0, log)
	chat := services.NewChatService(chatRepo, reportRepo, gemini, safety, cooldown, maxHistory, log)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("missing env var JWT_SECRET")
	}
	accessTTL := envDuration("ACCESS_TOKEN_TTL_SECONDS", 15*time.Minute, log)
	refreshTTL := envDuration("REFRESH_TOKEN_TTL_SECONDS", 30*24*time.Hour, log)
	auth := services.NewAuthService(gdb, log, userRepo, userTokenRepo, jwtSecret, accessTTL, refreshTTL)

	report := services.NewReportService(documentRepo, reportRepo, runRepo, bucket, extraction, pipeline, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	pipeline.StartWorker(ctx)

	router := server.NewRouter(server.RouterConfig{
		HealthcheckHandler: handlers.NewHealthcheckHandler(),
		AuthHandler:        handlers.NewAuthHandler(auth, log),
		ReportHandler:      handlers.NewReportHandler(report, log),
		ChatHandler:        handlers.NewChatHandler(chat, log),
		VaultHandler:       handlers.NewVaultHandler(vault, log),
		AuthMiddleware:     middleware.NewAuthMiddleware(auth, log),
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("server stopped", "error", err)
	}
}

func envDuration(key string, fallback time.Duration, log *logger.Logger) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		log.Warn("invalid duration env var, using default", "key", key, "value", raw)
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func envInt(key string, fallback int, log *logger.Logger) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn("invalid integer env var, using default", "key", key, "value", raw)
		return fallback
	}
	return n
}
