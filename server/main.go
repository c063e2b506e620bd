package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/golf-swing-cv/server/cache"
	"github.com/san-kum/golf-swing-cv/server/config"
	"github.com/san-kum/golf-swing-cv/server/feedback"
	"github.com/san-kum/golf-swing-cv/server/handlers"
	"github.com/san-kum/golf-swing-cv/server/middleware"
	"github.com/san-kum/golf-swing-cv/server/ml"
	"github.com/san-kum/golf-swing-cv/server/processor"
	"go.uber.org/zap"
)

type Server struct {
	router         *gin.Engine
	logger         *zap.Logger
	frameProcessor *processor.FrameProcessor
	mlClient       *ml.Client
	cache          cache.Cache
	rateLimiter    *middleware.RateLimiter
	config         *config.Config
}

func main() {
	cfg := config.LoadConfig()

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))

		var err error
		if cfg.Security.EnableHTTPS {
			err = srv.ListenAndServeTLS(cfg.Security.CertFile, cfg.Security.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	server.Close()
	logger.Info("Server exited")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = level

	return zapConfig.Build()
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	cacheInstance := newCache(cfg, logger)

	mlClient, err := ml.NewClient(cfg.ML.BaseURL, &ml.ClientConfig{
		Timeout:             cfg.ML.Timeout,
		MaxRetries:          cfg.ML.MaxRetries,
		RetryDelay:          cfg.ML.RetryDelay,
		HealthCheckInterval: cfg.ML.HealthCheckInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pose service client: %w", err)
	}

	var generator feedback.Generator
	if cfg.Gemini.APIKey != "" {
		gemini, err := feedback.NewGeminiGenerator(context.Background(), feedback.GeminiConfig{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			Temperature: float32(cfg.Gemini.Temperature),
			Timeout:     cfg.Gemini.Timeout,
		}, logger)
		if err != nil {
			logger.Warn("Gemini client unavailable, swing feedback disabled", zap.Error(err))
		} else {
			generator = gemini
		}
	}

	frameProcessor, err := processor.NewFrameProcessor(mlClient, generator, cacheInstance, processor.ProcessorConfig{
		MaxQueueSize:  cfg.Processor.QueueSize,
		MaxWorkers:    cfg.Processor.Workers,
		JobTimeout:    cfg.Processor.JobTimeout,
		MaxSessions:   cfg.Session.MaxSessions,
		SessionTTL:    cfg.Session.IdleTTL,
		MaxFrames:     cfg.Session.MaxFrames,
		MinVisibility: cfg.Detector.MinVisibility,
		PoseCacheTTL:  cfg.Processor.PoseCacheTTL,
		Detector:      cfg.Detector.Swing(),
	}, logger)
	if err != nil {
		mlClient.Close()
		cacheInstance.Close()
		return nil, fmt.Errorf("failed to create frame processor: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Security.JWTSecretKey, logger)

	router := gin.New()

	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.InputValidation())
	router.Use(middleware.TimeoutHandler(cfg.Security.RequestTimeout))

	wsHandler := handlers.NewWebSocketHandler(frameProcessor, cfg.Security.AllowedOrigins, cfg.Security.RequestTimeout, logger)
	streamHandler := handlers.NewStreamHandler(frameProcessor, cfg.Security.MaxVideoSize, logger)

	setupRoutes(router, cfg, wsHandler, streamHandler, authMiddleware, rateLimiter)

	return &Server{
		router:         router,
		logger:         logger,
		frameProcessor: frameProcessor,
		mlClient:       mlClient,
		cache:          cacheInstance,
		rateLimiter:    rateLimiter,
		config:         cfg,
	}, nil
}

// newCache prefers redis and falls back to the in-memory cache when no host
// is configured or the server cannot be reached.
func newCache(cfg *config.Config, logger *zap.Logger) cache.Cache {
	if cfg.Redis.Host != "" {
		redisCache, err := cache.NewRedisCache(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			cfg.Redis.TTL,
			logger,
		)
		if err == nil {
			return redisCache
		}
		logger.Warn("Failed to connect to Redis, using memory cache", zap.Error(err))
	}

	return cache.NewMemoryCache(1000, cfg.Redis.TTL, logger)
}

func (s *Server) Close() {
	if err := s.frameProcessor.Shutdown(); err != nil {
		s.logger.Error("Failed to shutdown frame processor", zap.Error(err))
	}

	s.rateLimiter.Shutdown()
	s.mlClient.Close()

	if err := s.cache.Close(); err != nil {
		s.logger.Error("Failed to close cache", zap.Error(err))
	}
}

func setupRoutes(router *gin.Engine, cfg *config.Config, wsHandler *handlers.WebSocketHandler, streamHandler *handlers.StreamHandler, auth *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter) {
	router.GET("/health", middleware.HealthCheck())

	router.GET("/ws", rateLimiter.RateLimit(), auth.OptionalAuth(), wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/health", middleware.HealthCheck())

		swings := api.Group("/")
		swings.Use(rateLimiter.RateLimit(), auth.OptionalAuth())
		swings.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))
		{
			swings.POST("/sessions", streamHandler.StartSession)
			swings.GET("/sessions/:id", streamHandler.GetSession)
			swings.POST("/sessions/:id/frames", streamHandler.ProcessFrame)
			swings.POST("/sessions/:id/finish", streamHandler.FinishSession)
			swings.GET("/jobs/:job_id", streamHandler.GetVideoJobStatus)
			swings.GET("/stats", streamHandler.GetStats)
		}

		// Clip uploads get their own size cap and a tighter rate.
		uploads := api.Group("/")
		uploads.Use(rateLimiter.RateLimitWithConfig(1, 5), auth.OptionalAuth())
		uploads.Use(middleware.RequestSizeLimit(cfg.Security.MaxVideoSize))
		{
			uploads.POST("/analyze", streamHandler.UploadVideo)
		}

		admin := api.Group("/admin")
		admin.Use(auth.RequireAuth())
		admin.Use(auth.RequireRole("admin"))
		{
			admin.GET("/stats", streamHandler.GetStats)
			admin.GET("/cache-stats", streamHandler.GetCacheStats)
		}
	}

	router.Static("/static", cfg.Server.StaticDir)
	router.StaticFile("/", cfg.Server.StaticDir+"/index.html")
}
