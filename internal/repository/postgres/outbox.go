package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

const outboxColumns = `id, event_type, aggregate_type, aggregate_id, payload, status, error_message,
	retry_count, created_at, updated_at, processed_at`

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{NewBaseRepository(db)}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	query := `
		INSERT INTO outbox_events (
			id, event_type, aggregate_type, aggregate_id, payload, status, retry_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, 0, $7, $8
		)
	`
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = time.Now().UTC()
	event.UpdatedAt = event.CreatedAt
	event.Status = model.OutboxStatusPending

	_, err := r.q(ctx).ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.AggregateType,
		event.AggregateID,
		[]byte(event.Payload),
		event.Status,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", classify("outbox event", err))
	}
	return nil
}

func (r *outboxRepository) ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		UPDATE outbox_events
		SET status = 'PROCESSING', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = 'PENDING'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	var events []*model.OutboxEvent
	if err := r.q(ctx).SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", classify("outbox event", err))
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_events
		SET status = 'PROCESSED', error_message = NULL, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.q(ctx).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event processed: %w", classify("outbox event", err))
	}
	return expectFound("outbox event", res)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE outbox_events
		SET status = 'FAILED', error_message = $2, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.q(ctx).ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", classify("outbox event", err))
	}
	return expectFound("outbox event", res)
}

func (r *outboxRepository) Requeue(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE outbox_events
		SET status = 'PENDING', error_message = $2, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.q(ctx).ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to requeue outbox event: %w", classify("outbox event", err))
	}
	return expectFound("outbox event", res)
}

func (r *outboxRepository) RecoverStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE outbox_events
		SET status = 'PENDING', updated_at = NOW()
		WHERE status = 'PROCESSING' AND updated_at < $1
	`
	res, err := r.q(ctx).ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale outbox events: %w", classify("outbox event", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q(ctx).ExecContext(ctx,
		`DELETE FROM outbox_events WHERE status = 'PROCESSED' AND processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed outbox events: %w", classify("outbox event", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
