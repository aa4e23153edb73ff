package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/velobill/authgate/internal/auth"
	"github.com/velobill/authgate/internal/repositories"
)

// CleanupManager periodically removes expired tickets, expired sessions,
// and used code records that have aged out of the verification window.
type CleanupManager struct {
	ticketRepo   *repositories.TicketRepository
	sessionRepo  *repositories.SessionRepository
	usedCodeRepo *repositories.UsedCodeRepository
	logger       *slog.Logger
	interval     time.Duration
	stopCh       chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	ticketRepo *repositories.TicketRepository,
	sessionRepo *repositories.SessionRepository,
	usedCodeRepo *repositories.UsedCodeRepository,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		ticketRepo:   ticketRepo,
		sessionRepo:  sessionRepo,
		usedCodeRepo: usedCodeRepo,
		logger:       logger,
		interval:     interval,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tickets, err := cm.ticketRepo.DeleteExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup expired tickets", slog.Any("error", err))
	}

	sessions, err := cm.sessionRepo.DeleteExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup expired sessions", slog.Any("error", err))
	}

	// Used code records only matter while the code could still be accepted.
	cutoff := time.Now().UTC().Add(-auth.ReplayRetention)
	codes, err := cm.usedCodeRepo.DeleteOlderThan(cleanupCtx, cutoff)
	if err != nil {
		cm.logger.Error("failed to cleanup used code records", slog.Any("error", err))
	}

	if tickets > 0 || sessions > 0 || codes > 0 {
		cm.logger.Info("cleanup completed",
			slog.Int64("tickets_deleted", tickets),
			slog.Int64("sessions_deleted", sessions),
			slog.Int64("used_codes_deleted", codes))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
