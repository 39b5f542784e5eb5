package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/noturnachs/wasteph-sub000/config"
	"github.com/noturnachs/wasteph-sub000/handler"
	"github.com/noturnachs/wasteph-sub000/middleware"
	"github.com/noturnachs/wasteph-sub000/pkg/logger"
	"github.com/noturnachs/wasteph-sub000/service"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Connect database and migrate
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	store := service.NewDBStore(db)
	if err := store.Migrate(); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Template cache is optional; the service degrades to store reads when
	// redis is not configured or unavailable
	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// Blob storage
	blobs, err := service.NewMinioBlobStore(&cfg.Minio)
	if err != nil {
		slog.Error("failed to initialize MINIO storage", "error", err)
		os.Exit(1)
	}
	if err := blobs.EnsureBucket(context.Background()); err != nil {
		slog.Error("failed to ensure MINIO bucket", "error", err)
		os.Exit(1)
	}

	// Rendering and delivery
	renderer := service.NewRenderer(cfg.Renderer)
	defer renderer.Shutdown()
	mailer := service.NewSMTPGateway(cfg.SMTP)
	notifier := &service.LogNotifier{}

	// Lifecycle services
	templateSvc := service.NewTemplateService(store.Templates(), cache, time.Duration(cfg.Redis.TTLSecs)*time.Second)
	proposalSvc := service.NewProposalService(service.ProposalDeps{
		Proposals:    store.Proposals(),
		Inquiries:    store.Inquiries(),
		Templates:    templateSvc,
		Sequences:    store,
		Renderer:     renderer,
		Mailer:       mailer,
		Blobs:        blobs,
		Notifier:     notifier,
		AuditLog:     store,
		ValidityDays: cfg.Documents.ValidityDays,
	})
	contractSvc := service.NewContractService(service.ContractDeps{
		Contracts: store.Contracts(),
		Proposals: store.Proposals(),
		Inquiries: store.Inquiries(),
		Templates: templateSvc,
		Renderer:  renderer,
		Mailer:    mailer,
		Blobs:     blobs,
		Notifier:  notifier,
		AuditLog:  store,
		PublicURL: cfg.Server.PublicURL,
	})

	// Initialize handlers
	proposalHandler := handler.NewProposalHandler(proposalSvc)
	contractHandler := handler.NewContractHandler(contractSvc)
	templateHandler := handler.NewTemplateHandler(templateSvc)
	publicHandler := handler.NewPublicHandler(contractSvc)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())     // Request ID for tracing
	router.Use(middleware.Recovery())      // Panic recovery
	router.Use(middleware.RequestLogger()) // Access logging
	router.Use(corsMiddleware())           // CORS

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"renderer":  renderer.Alive(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public counterparty routes, authenticated by submission token only
	public := router.Group("/public")
	public.Use(middleware.RateLimit(20, time.Minute)) // IP-keyed, signing endpoints are unauthenticated
	{
		public.GET("/contracts/:token", publicHandler.ValidateToken)
		public.POST("/contracts/:token/sign", publicHandler.Sign)
	}

	// Protected staff routes
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(&cfg.Auth))
	api.Use(middleware.RateLimit(100, time.Minute)) // actor-keyed once auth has run
	{
		api.POST("/proposals", proposalHandler.Create)
		api.GET("/proposals/:id", proposalHandler.Get)
		api.PUT("/proposals/:id", proposalHandler.Update)
		api.POST("/proposals/:id/approve", proposalHandler.Approve)
		api.POST("/proposals/:id/reject", proposalHandler.Reject)
		api.POST("/proposals/:id/send", proposalHandler.Send)
		api.POST("/proposals/:id/retry-email", proposalHandler.RetryEmail)
		api.POST("/proposals/:id/cancel", proposalHandler.Cancel)
		api.POST("/proposals/:id/response", proposalHandler.RecordResponse)
		api.GET("/proposals/:id/contract", contractHandler.GetByProposal)
		api.POST("/proposals/:id/contract/request", contractHandler.Request)

		api.GET("/contracts/:id", contractHandler.Get)
		api.POST("/contracts/:id/fulfill", contractHandler.Fulfill)
		api.POST("/contracts/:id/draft", contractHandler.SaveDraft)
		api.POST("/contracts/:id/send", contractHandler.Send)
		api.POST("/contracts/:id/hardbound", contractHandler.Hardbound)
		api.POST("/contracts/:id/payment-preview", contractHandler.PaymentPreview)

		api.POST("/templates", templateHandler.Create)
		api.GET("/templates/:id", templateHandler.Get)
		api.GET("/templates/by-type/:type", templateHandler.GetByType)
		api.PUT("/templates/:id", templateHandler.Update)
		api.POST("/templates/:id/default", templateHandler.SetDefault)
		api.DELETE("/templates/:id", templateHandler.Delete)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
