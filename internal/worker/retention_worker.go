package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/clip-service/internal/repository"
)

// RetentionWorker deletes retired identities once their retention window
// passes. Retirement already blocks authentication and re-issue; the sweep
// reclaims the rows afterwards.
type RetentionWorker struct {
	identities repository.IdentityRepository
	logger     *zap.Logger
	days       int
	interval   time.Duration
}

// NewRetentionWorker builds the worker. Non-positive values fall back to a
// 30 day window and an hourly sweep.
func NewRetentionWorker(identities repository.IdentityRepository, logger *zap.Logger, days int, interval time.Duration) *RetentionWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if days <= 0 {
		days = 30
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionWorker{
		identities: identities,
		logger:     logger,
		days:       days,
		interval:   interval,
	}
}

// Start runs the sweep loop until ctx is done.
func (w *RetentionWorker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.Sweep(ctx); err != nil {
					w.logger.Error("retention sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Sweep deletes every identity retired longer ago than the retention
// window and returns how many were removed. A single failed delete is
// logged and skipped; the row is picked up again on the next sweep.
func (w *RetentionWorker) Sweep(ctx context.Context) (int, error) {
	ids, err := w.identities.ListRetiredBefore(ctx, w.days)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		if err := w.identities.Delete(ctx, id); err != nil {
			w.logger.Warn("failed to delete retired identity",
				zap.String("identity_id", id),
				zap.Error(err))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		w.logger.Info("retired identities deleted", zap.Int("count", deleted))
	}
	return deleted, nil
}
