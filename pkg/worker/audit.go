package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

type AuditCleanupWorker struct {
	repo          repository.AuditRepository
	retentionDays int
	interval      time.Duration
	logger        *logger.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewAuditCleanupWorker(repo repository.AuditRepository, retentionDays int, interval time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *AuditCleanupWorker {
	if retentionDays <= 0 {
		panic("retentionDays must be greater than 0")
	}
	return &AuditCleanupWorker{
		repo:          repo,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
		metrics:       metrics,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (w *AuditCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error(err, "Audit cleanup failed")
			}
		}
	}
}

// RunOnce deletes audit rows older than the retention window.
func (w *AuditCleanupWorker) RunOnce(ctx context.Context) (int64, error) {
	cutoff := w.now().AddDate(0, 0, -w.retentionDays)
	n, err := w.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if w.metrics != nil {
		w.metrics.AuditRowsPurged.Add(float64(n))
	}
	w.logger.Info("Audit cleanup finished", "deleted", n, "cutoff", cutoff)
	return n, nil
}
