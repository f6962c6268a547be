package telemetry

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

type fakeAmbulances map[uuid.UUID]*model.Ambulance

func (f fakeAmbulances) Get(_ context.Context, id uuid.UUID) (*model.Ambulance, error) {
	a, ok := f[id]
	if !ok {
		return nil, errors.NotFound("ambulance", nil)
	}
	return a, nil
}

type fakeFleet struct{ positions []*model.PositionUpdate }

func (f *fakeFleet) UpdatePosition(_ context.Context, _ authz.Caller, _ uuid.UUID, pos *model.PositionUpdate) error {
	f.positions = append(f.positions, pos)
	return nil
}

type fakeDispatches struct {
	err     error
	updates []uuid.UUID
}

func (f *fakeDispatches) UpdateLocation(_ context.Context, caller authz.Caller, id uuid.UUID, _ *model.LocationUpdateRequest) (*model.RouteProgress, error) {
	if caller.Role != authz.RoleAdmin {
		return nil, errors.PermissionDenied("dispatch:update", "dispatch")
	}
	f.updates = append(f.updates, id)
	if f.err != nil {
		return nil, f.err
	}
	return &model.RouteProgress{DispatchID: id}, nil
}

func topicFor(id uuid.UUID) string { return "ambulances/" + id.String() + "/location" }

const sample = `{"latitude":12.97,"longitude":77.59,"speed":38.5,"recorded_at":"2026-04-01T10:00:00Z"}`

func TestAmbulanceFromTopic(t *testing.T) {
	id := uuid.New()
	got, err := AmbulanceFromTopic(topicFor(id))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, topic := range []string{"ambulances/x/location", "ambulances/" + id.String(), "fleet/" + id.String() + "/location"} {
		_, err := AmbulanceFromTopic(topic)
		assert.True(t, errors.Is(err, errors.ErrValidation), topic)
	}
}

func TestHandleRoutesByDispatch(t *testing.T) {
	idle, busy, dispatchID := uuid.New(), uuid.New(), uuid.New()
	ambulances := fakeAmbulances{
		idle: {ID: idle, Status: model.AmbulanceStatusAvailable},
		busy: {ID: busy, Status: model.AmbulanceStatusOnTrip, CurrentDispatchID: &dispatchID},
	}
	fleet, dispatches := &fakeFleet{}, &fakeDispatches{}
	in := NewIngestor(ambulances, fleet, dispatches, logger.Nop())
	ctx := context.Background()

	require.NoError(t, in.Handle(ctx, topicFor(idle), []byte(sample)))
	require.Len(t, fleet.positions, 1)
	assert.Equal(t, 12.97, fleet.positions[0].Latitude)
	assert.Equal(t, 38.5, *fleet.positions[0].Speed)
	assert.Equal(t, 2026, fleet.positions[0].RecordedAt.Year())

	require.NoError(t, in.Handle(ctx, topicFor(busy), []byte(sample)))
	assert.Equal(t, []uuid.UUID{dispatchID}, dispatches.updates)
	assert.Len(t, fleet.positions, 1)
}

func TestHandleFallsBackWhenDispatchClosed(t *testing.T) {
	busy, dispatchID := uuid.New(), uuid.New()
	ambulances := fakeAmbulances{busy: {ID: busy, CurrentDispatchID: &dispatchID}}
	fleet := &fakeFleet{}
	dispatches := &fakeDispatches{err: errors.InvalidTransition(model.AuditEntityDispatch, "update_location", "completed")}
	in := NewIngestor(ambulances, fleet, dispatches, logger.Nop())

	require.NoError(t, in.Handle(context.Background(), topicFor(busy), []byte(sample)))
	assert.Len(t, fleet.positions, 1)
}

func TestHandleRejectsBadInput(t *testing.T) {
	known := uuid.New()
	in := NewIngestor(fakeAmbulances{known: {ID: known}}, &fakeFleet{}, &fakeDispatches{}, logger.Nop())
	ctx := context.Background()

	err := in.Handle(ctx, topicFor(known), []byte("not json"))
	assert.True(t, errors.Is(err, errors.ErrValidation))

	err = in.Handle(ctx, topicFor(uuid.New()), []byte(sample))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
