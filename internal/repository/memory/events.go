package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
)

type auditRepository struct{ s *Store }

func (r *auditRepository) Create(_ context.Context, log *model.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("audit.create"); err != nil {
		return err
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	r.s.data.audit = append(r.s.data.audit, *log)
	return nil
}

func (r *auditRepository) List(_ context.Context, f *model.AuditFilter) ([]*model.AuditLog, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var items []model.AuditLog
	for _, l := range r.s.data.audit {
		if f.ActorID != nil && l.ActorID != *f.ActorID {
			continue
		}
		if f.FacilityID != nil && (l.FacilityID == nil || *l.FacilityID != *f.FacilityID) {
			continue
		}
		if f.EntityType != "" && l.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != nil && l.EntityID != *f.EntityID {
			continue
		}
		if f.Action != "" && l.Action != f.Action {
			continue
		}
		if f.Security != nil && l.Security != *f.Security {
			continue
		}
		if !inRange(l.CreatedAt, f.TimeRange) {
			continue
		}
		items = append(items, l)
	}
	out, total := page(items, f.Pagination, func(a, b model.AuditLog) bool { return a.CreatedAt.After(b.CreatedAt) })
	return out, total, nil
}

func (r *auditRepository) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.data.audit[:0:0]
	for _, l := range r.s.data.audit {
		if !l.CreatedAt.Before(before) {
			kept = append(kept, l)
		}
	}
	n := int64(len(r.s.data.audit) - len(kept))
	r.s.data.audit = kept
	return n, nil
}

type outboxRepository struct{ s *Store }

func (r *outboxRepository) Create(_ context.Context, e *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("outbox.create"); err != nil {
		return err
	}
	if e.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt
	e.Status = model.OutboxStatusPending
	r.s.data.outbox[e.ID] = *e
	return nil
}

func (r *outboxRepository) ClaimPending(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("outbox.claim"); err != nil {
		return nil, err
	}
	var pending []model.OutboxEvent
	for _, e := range r.s.data.outbox {
		if e.Status == model.OutboxStatusPending {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*model.OutboxEvent, 0, len(pending))
	now := time.Now().UTC()
	for _, e := range pending {
		e.Status = model.OutboxStatusProcessing
		e.UpdatedAt = now
		r.s.data.outbox[e.ID] = e
		e := e
		out = append(out, &e)
	}
	return out, nil
}

func (r *outboxRepository) set(id uuid.UUID, fn func(e *model.OutboxEvent)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.data.outbox[id]
	if !ok {
		return notFound("outbox event")
	}
	fn(&e)
	e.UpdatedAt = time.Now().UTC()
	r.s.data.outbox[id] = e
	return nil
}

func (r *outboxRepository) MarkProcessed(_ context.Context, id uuid.UUID) error {
	return r.set(id, func(e *model.OutboxEvent) {
		now := time.Now().UTC()
		e.Status = model.OutboxStatusProcessed
		e.ErrorMessage = nil
		e.ProcessedAt = &now
	})
}

func (r *outboxRepository) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return r.set(id, func(e *model.OutboxEvent) {
		e.Status = model.OutboxStatusFailed
		e.ErrorMessage = &reason
		e.RetryCount++
	})
}

func (r *outboxRepository) Requeue(_ context.Context, id uuid.UUID, reason string) error {
	return r.set(id, func(e *model.OutboxEvent) {
		e.Status = model.OutboxStatusPending
		e.ErrorMessage = &reason
		e.RetryCount++
	})
}

func (r *outboxRepository) RecoverStale(_ context.Context, olderThan time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, e := range r.s.data.outbox {
		if e.Status == model.OutboxStatusProcessing && e.UpdatedAt.Before(olderThan) {
			e.Status = model.OutboxStatusPending
			r.s.data.outbox[id] = e
			n++
		}
	}
	return n, nil
}

func (r *outboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, e := range r.s.data.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.s.data.outbox, id)
			n++
		}
	}
	return n, nil
}
