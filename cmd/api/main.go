package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/mediahub-api/api/swagger"
	"github.com/noah-isme/mediahub-api/internal/handler"
	"github.com/noah-isme/mediahub-api/internal/lockout"
	"github.com/noah-isme/mediahub-api/internal/middleware"
	"github.com/noah-isme/mediahub-api/internal/models"
	"github.com/noah-isme/mediahub-api/internal/repository"
	"github.com/noah-isme/mediahub-api/internal/service"
	"github.com/noah-isme/mediahub-api/pkg/cache"
	"github.com/noah-isme/mediahub-api/pkg/config"
	"github.com/noah-isme/mediahub-api/pkg/database"
	"github.com/noah-isme/mediahub-api/pkg/export"
	"github.com/noah-isme/mediahub-api/pkg/jobs"
	"github.com/noah-isme/mediahub-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/mediahub-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/mediahub-api/pkg/middleware/requestid"
)

const shutdownTimeout = 15 * time.Second

// @title MediaHub API
// @version 1.0.0
// @description Account authentication and session lifecycle
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
		if cfg.JWT.Secret == "" || cfg.JWT.Secret == "dev_secret" {
			return errors.New("JWT_SECRET must be set in production")
		}
	}

	registrationStatus := models.ActivationStatus(cfg.Auth.RegistrationStatus)
	if registrationStatus != models.StatusActive && registrationStatus != models.StatusNotActivated {
		return fmt.Errorf("AUTH_REGISTRATION_STATUS must be ACTIVE or NOT_ACTIVATED, got %q", registrationStatus)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logr.Info("database schema up to date", zap.String("driver", cfg.Database.Driver))
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, status cache disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient)
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()
	metrics := service.NewMetricsService()
	policy := lockout.NewPolicy(cfg.Lockout.Threshold, cfg.Lockout.Window)

	accounts := repository.NewAccountRepository(db)
	refreshTokens := repository.NewRefreshTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditSvc := service.NewAuditService(auditRepo, logr)
	auditQueue := auditSvc.UseQueue(jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: 500 * time.Millisecond,
	})

	hasher, err := service.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("init password hasher: %w", err)
	}
	tokens := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Expiry:   cfg.JWT.Expiration,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.StatusCache.TTL, logr, cfg.StatusCache.Enabled && redisClient != nil)
	statuses := service.NewAccountStatusService(accounts, cacheSvc, cfg.StatusCache.TTL, logr)

	authSvc := service.NewAuthService(accounts, refreshTokens, tokens, hasher, policy, auditSvc, metrics, validate, logr, service.AuthConfig{
		RefreshTokenExpiry:  cfg.JWT.RefreshExpiration,
		RegistrationStatus:  registrationStatus,
		OperationTimeout:    cfg.Auth.OperationTimeout,
		SingleSession:       cfg.Auth.SingleSession,
		RotateRefreshTokens: cfg.Auth.RotateRefreshTokens,
	})
	accountSvc := service.NewAccountService(accounts, refreshTokens, statuses, policy, auditSvc, validate, logr)
	exportSvc := service.NewExportService(auditSvc, export.NewCSVExporter(), export.NewPDFExporter(), logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditQueue.Start(ctx)
	defer auditQueue.Stop()

	if cfg.Retention.Enabled {
		retention := service.NewRetentionService(refreshTokens, service.RetentionConfig{
			Interval: cfg.Retention.Interval,
			Grace:    cfg.Retention.Grace,
		}, logr)
		go retention.Run(ctx)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics", "/health", "/ready"))

	handler.Router{
		Auth:     handler.NewAuthHandler(authSvc),
		Accounts: handler.NewAccountHandler(accountSvc),
		Audit:    handler.NewAuditHandler(auditSvc, exportSvc),
		Metrics:  handler.NewMetricsHandler(metrics, db),
		Verifier: tokens,
		Statuses: statuses,
		Logger:   logr,
	}.Register(r, cfg.APIPrefix)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
