package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/smartmed/analyser-backend/internal/handlers"
	"github.com/smartmed/analyser-backend/internal/middleware"
)

type RouterConfig struct {
	HealthcheckHandler *handlers.HealthcheckHandler
	AuthHandler        *handlers.AuthHandler
	ReportHandler      *handlers.ReportHandler
	ChatHandler        *handlers.ChatHandler
	VaultHandler       *handlers.VaultHandler
	AuthMiddleware     *middleware.AuthMiddleware
	AllowedOrigins     []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthcheck", cfg.HealthcheckHandler.Healthcheck)

	api := r.Group("/api")
	{
		api.POST("/register", cfg.AuthHandler.Register)
		api.POST("/login", cfg.AuthHandler.Login)
		// Refresh authenticates itself with the refresh token; the access
		// token being refreshed may already be expired.
		api.POST("/refresh", cfg.AuthHandler.Refresh)

		protected := api.Group("")
		protected.Use(cfg.AuthMiddleware.RequireAuth())
		{
			protected.POST("/logout", cfg.AuthHandler.Logout)

			protected.POST("/reports", cfg.ReportHandler.Upload)
			protected.GET("/reports", cfg.ReportHandler.ListReports)
			protected.GET("/reports/:report_id", cfg.ReportHandler.GetReport)
			protected.DELETE("/reports/:report_id", cfg.ReportHandler.DeleteReport)
			protected.POST("/reports/:report_id/chat", cfg.ChatHandler.StartSession)

			protected.GET("/runs/:run_id", cfg.ReportHandler.GetRun)
			protected.GET("/documents/:document_id/run", cfg.ReportHandler.GetDocumentRun)

			protected.GET("/chat", cfg.ChatHandler.ListSessions)
			protected.GET("/chat/:session_id/messages", cfg.ChatHandler.GetHistory)
			protected.POST("/chat/:session_id/messages", cfg.ChatHandler.SendTurn)
			protected.DELETE("/chat/:session_id", cfg.ChatHandler.DeleteSession)

			protected.GET("/vault", cfg.VaultHandler.ListVaults)
			protected.GET("/vault/:vault_id/files", cfg.VaultHandler.ListFiles)
		}
	}

	return r
}
