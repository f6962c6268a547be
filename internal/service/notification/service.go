package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

// Service enqueues notifications. Delivery happens later in the outbox relay.
type Service interface {
	// Notify never fails the caller; enqueue errors are logged.
	Notify(ctx context.Context, n *model.Notification)
}

type service struct {
	outbox repository.OutboxRepository
	logger *logger.Logger
}

func NewService(outbox repository.OutboxRepository, logger *logger.Logger) Service {
	return &service{outbox: outbox, logger: logger}
}

func (s *service) Notify(ctx context.Context, n *model.Notification) {
	if n == nil || len(n.Recipients) == 0 {
		return
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(n)
	if err != nil {
		s.logger.Warn(err, "Failed to encode notification", "event", n.Event, "entity_id", n.EntityID.String())
		return
	}

	event := &model.OutboxEvent{
		EventType:     n.Event,
		AggregateType: n.EntityType,
		AggregateID:   n.EntityID,
		Payload:       payload,
	}
	if err := s.outbox.Create(ctx, event); err != nil {
		s.logger.Warn(err, "Failed to enqueue notification",
			"event", n.Event,
			"entity_type", n.EntityType,
			"entity_id", n.EntityID.String())
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, *model.Notification) {}
