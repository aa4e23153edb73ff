package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velobill/authgate/internal/auth"
	"github.com/velobill/authgate/internal/background"
	"github.com/velobill/authgate/internal/config"
	"github.com/velobill/authgate/internal/database"
	"github.com/velobill/authgate/internal/handlers"
	middlewareCustom "github.com/velobill/authgate/internal/middleware"
	"github.com/velobill/authgate/internal/models"
	"github.com/velobill/authgate/internal/repositories"
	"github.com/velobill/authgate/internal/routes"
	"github.com/velobill/authgate/internal/services"
	pkgauth "github.com/velobill/authgate/pkg/auth"
	pkghttp "github.com/velobill/authgate/pkg/http"
	pkglogger "github.com/velobill/authgate/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Run migrations before opening the pool
	if err := database.Migrate(cfg.Database.DSN()); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	ticketRepo := repositories.NewTicketRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	usedCodeRepo := repositories.NewUsedCodeRepository(db)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(ticketRepo, sessionRepo, usedCodeRepo, logger, cfg.Auth.CleanupInterval)

	// Initialize crypto helpers
	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	ticketTokens := auth.NewTicketTokenManager(cfg.Auth.TicketSecret)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Security alert emails via SES, or a no-op when not configured
	var alertSender services.AlertSender = services.NoopAlertSender{}
	if cfg.Email.AlertsEnabled {
		sesSender, err := services.NewAWSSESAlertSender(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize alert sender", slog.Any("error", err))
			os.Exit(1)
		}
		alertSender = sesSender
	}

	// Initialize services
	credentialService := services.NewCredentialService(
		accountRepo, ticketRepo, ticketTokens, timingDelay, alertSender, logger, auditLogger,
		services.CredentialConfig{
			MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
			LockoutDuration:   cfg.Auth.LockoutDuration,
			TicketTTL:         cfg.Auth.TicketTTL,
		},
	)
	sessionService := services.NewSessionService(sessionRepo, accountRepo, logger, auditLogger, cfg.Auth.SessionTTL)
	enrollmentService := services.NewEnrollmentService(accountRepo, sessionRepo, totpManager, alertSender, logger, auditLogger)
	handshakeService := services.NewHandshakeService(
		accountRepo, ticketRepo, usedCodeRepo, enrollmentService, sessionService,
		totpManager, ticketTokens, logger, auditLogger,
		services.HandshakeConfig{MaxCodeAttempts: cfg.Auth.MaxCodeAttempts},
	)

	// Initialize handler
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(credentialService, handshakeService, sessionService, enrollmentService, ipConfig)

	// Bootstrap the first account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureSeedAccount(ctx, accountRepo, logger); err != nil {
		logger.Error("failed to ensure seed account", slog.Any("error", err))
	}
	cancel()

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, sessionService)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureSeedAccount creates the first account if SEED_EMAIL and SEED_PASSWORD are set.
// The account starts unenrolled; the first login walks it through authenticator setup.
func ensureSeedAccount(ctx context.Context, accountRepo *repositories.AccountRepository, logger *slog.Logger) error {
	seedEmail := os.Getenv("SEED_EMAIL")
	seedPassword := os.Getenv("SEED_PASSWORD")

	if seedEmail == "" || seedPassword == "" {
		logger.Info("no SEED_EMAIL or SEED_PASSWORD set, skipping seed account creation")
		return nil
	}

	_, err := accountRepo.GetByEmail(ctx, seedEmail)
	if err == nil {
		logger.Info("seed account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if seed account exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(seedPassword)
	if err != nil {
		return fmt.Errorf("failed to hash seed password: %w", err)
	}

	account := &models.Account{
		Email:           seedEmail,
		PasswordHash:    hashedPassword,
		EnrollmentState: models.EnrollmentNone,
	}

	if _, err := accountRepo.Create(ctx, account); err != nil {
		return fmt.Errorf("failed to create seed account: %w", err)
	}

	logger.Info("seed account created successfully")
	return nil
}
