package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

// Deliverer sends one claimed notification on all of its channels.
type Deliverer interface {
	Deliver(ctx context.Context, event *model.OutboxEvent) error
}

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// StaleAfter returns rows stuck in processing (a crashed relay) to pending.
	StaleAfter time.Duration
	// RetainFor is how long processed rows are kept. Zero keeps them forever.
	RetainFor time.Duration
}

type OutboxProcessor struct {
	repo      repository.OutboxRepository
	deliverer Deliverer
	config    OutboxProcessorConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	deliverer Deliverer,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}

	return &OutboxProcessor{
		repo:      repo,
		deliverer: deliverer,
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "batch_size", p.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			p.housekeep(ctx)
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

func (p *OutboxProcessor) housekeep(ctx context.Context) {
	now := time.Now().UTC()
	if p.config.StaleAfter > 0 {
		n, err := p.repo.RecoverStale(ctx, now.Add(-p.config.StaleAfter))
		if err != nil {
			p.logger.Error(err, "Failed to recover stale events")
		} else if n > 0 {
			p.logger.Info("Recovered stale outbox events", "count", n)
		}
	}
	if p.config.RetainFor > 0 {
		if _, err := p.repo.DeleteProcessedBefore(ctx, now.Add(-p.config.RetainFor)); err != nil {
			p.logger.Error(err, "Failed to purge processed events")
		}
	}
}

// ProcessBatch claims up to BatchSize pending events and delivers them. It
// returns how many were delivered.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
		defer timer.ObserveDuration()
	}

	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize)
	if err != nil {
		p.observeDB("claim_pending", err)
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}
	p.observeDB("claim_pending", nil)

	delivered := 0
	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	attempt := 0
	err := retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
		if attempt > 0 && p.metrics != nil {
			p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		}
		attempt++
		return p.deliverer.Deliver(ctx, event)
	})

	if err != nil {
		// Shutdown interrupted delivery: hand the event back for the next relay.
		if ctx.Err() != nil {
			if requeueErr := p.repo.Requeue(context.WithoutCancel(ctx), event.ID, err.Error()); requeueErr != nil {
				p.logger.Error(requeueErr, "Failed to requeue event", "event_id", event.ID.String())
			}
			return err
		}
		if p.metrics != nil {
			p.metrics.OutboxEventsFailed.Inc()
		}
		if updateErr := p.repo.MarkFailed(ctx, event.ID, err.Error()); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update event status", "event_id", event.ID.String())
		}
		return err
	}

	if p.metrics != nil {
		p.metrics.OutboxEventsProcessed.Inc()
	}
	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		return err
	}
	return nil
}

func (p *OutboxProcessor) observeDB(op string, err error) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.DatabaseOperations.WithLabelValues(op, status).Inc()
}

// retry runs fn up to attempts times, doubling delay between tries. It stops
// early when ctx is done.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return stderrors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
