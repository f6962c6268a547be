package memory

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
)

func TestWithinTxRollsBack(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	ref := &model.Referral{Status: model.ReferralStatusPending, ReferredAt: time.Now()}
	require.NoError(t, s.Referrals().Create(ctx, ref))

	boom := stderrors.New("bed reservation failed")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		updated := *ref
		updated.Status = model.ReferralStatusAccepted
		require.NoError(t, s.Referrals().Update(ctx, &updated, model.ReferralStatusPending))
		require.NoError(t, s.Audit().Create(ctx, &model.AuditLog{Action: "accept"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Referrals().Get(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusPending, got.Status)
	assert.Empty(t, s.AuditLogs())
}

func TestUpdateIsCompareAndSet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	ref := &model.Referral{Status: model.ReferralStatusPending}
	require.NoError(t, s.Referrals().Create(ctx, ref))

	first, _ := s.Referrals().Get(ctx, ref.ID)
	second, _ := s.Referrals().Get(ctx, ref.ID)

	first.Status = model.ReferralStatusAccepted
	require.NoError(t, s.Referrals().Update(ctx, first, model.ReferralStatusPending))

	second.Status = model.ReferralStatusRejected
	err := s.Referrals().Update(ctx, second, model.ReferralStatusPending)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestReservationDoubleBooking(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	bed := uuid.New()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, s.Beds().CreateReservation(ctx, &model.BedReservation{BedID: bed, Status: model.ReservationStatusActive, ExpiresAt: expires}))
	err := s.Beds().CreateReservation(ctx, &model.BedReservation{BedID: bed, Status: model.ReservationStatusActive, ExpiresAt: expires})
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestOutboxClaimOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Outbox().Create(ctx, &model.OutboxEvent{EventType: "e", Payload: []byte(`{}`)}))
	}

	first, err := s.Outbox().ClaimPending(ctx, 2)
	require.NoError(t, err)
	second, err := s.Outbox().ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	assert.Len(t, second, 1)

	n, err := s.Outbox().RecoverStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
