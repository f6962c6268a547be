package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository/memory"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

func newService(t *testing.T) (*Service, *memory.Store, authz.Caller, uuid.UUID) {
	t.Helper()
	store := memory.NewStore()
	facility := uuid.New()
	store.AddFacilities(facility)
	auditor := audit.NewService(store.Audit(), logger.Nop())
	svc := NewService(Deps{
		Tx:         store.Transactor(),
		Ambulances: store.Ambulances(),
		Dispatches: store.Dispatches(),
		Refs:       store.References(),
		Guard:      authz.NewGuard(authz.NewPolicy(), auditor),
		Auditor:    auditor,
	})
	return svc, store, authz.NewCaller(uuid.New(), authz.RoleDispatcher, &facility), facility
}

func createRequest(facility uuid.UUID, callSign string) *model.CreateAmbulanceRequest {
	return &model.CreateAmbulanceRequest{
		FacilityID:        facility,
		CallSign:          callSign,
		RegistrationPlate: "KA-05-" + callSign,
		Type:              "basic",
		Location:          &model.GeoPoint{Latitude: 12.9, Longitude: 77.6},
	}
}

func TestCreateAndList(t *testing.T) {
	svc, _, dispatcher, facility := newService(t)
	ctx := context.Background()

	amb, err := svc.Create(ctx, dispatcher, createRequest(facility, "B1"))
	require.NoError(t, err)
	assert.Equal(t, model.AmbulanceStatusAvailable, amb.Status)
	pos, ok := amb.Position()
	require.True(t, ok)
	assert.Equal(t, 12.9, pos.Latitude)

	_, err = svc.Create(ctx, dispatcher, createRequest(facility, "B1"))
	assert.True(t, errors.Is(err, errors.ErrConflict), "call sign is unique")

	bad := createRequest(facility, "B2")
	bad.Location.Latitude = -95
	_, err = svc.Create(ctx, dispatcher, bad)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	list, total, err := svc.List(ctx, dispatcher, &model.AmbulanceFilter{FacilityID: &facility})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "B1", list[0].CallSign)
}

func TestSetStatusRefusedWhileDispatched(t *testing.T) {
	svc, store, dispatcher, facility := newService(t)
	ctx := context.Background()
	amb, err := svc.Create(ctx, dispatcher, createRequest(facility, "B1"))
	require.NoError(t, err)

	amb, err = svc.SetStatus(ctx, dispatcher, amb.ID, model.AmbulanceStatusMaintenance)
	require.NoError(t, err)
	assert.Equal(t, model.AmbulanceStatusMaintenance, amb.Status)

	_, err = svc.SetStatus(ctx, dispatcher, amb.ID, model.AmbulanceStatusOnTrip)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	amb, err = svc.SetStatus(ctx, dispatcher, amb.ID, model.AmbulanceStatusAvailable)
	require.NoError(t, err)

	require.NoError(t, store.Dispatches().Create(ctx, &model.Dispatch{
		ID:           uuid.New(),
		AmbulanceID:  amb.ID,
		FacilityID:   facility,
		Status:       model.DispatchStatusAcknowledged,
		DispatchedAt: time.Now(),
	}))

	_, err = svc.SetStatus(ctx, dispatcher, amb.ID, model.AmbulanceStatusOutOfService)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
	err = svc.Decommission(ctx, dispatcher, amb.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	_, err = svc.Get(ctx, dispatcher, amb.ID)
	assert.NoError(t, err)
}

func TestDecommission(t *testing.T) {
	svc, _, dispatcher, facility := newService(t)
	ctx := context.Background()
	amb, err := svc.Create(ctx, dispatcher, createRequest(facility, "B1"))
	require.NoError(t, err)

	viewer := authz.NewCaller(uuid.New(), authz.RoleViewer, &facility)
	assert.True(t, errors.Is(svc.Decommission(ctx, viewer, amb.ID), errors.ErrForbidden))

	require.NoError(t, svc.Decommission(ctx, dispatcher, amb.ID))
	_, err = svc.Get(ctx, dispatcher, amb.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestUpdatePosition(t *testing.T) {
	svc, _, dispatcher, facility := newService(t)
	ctx := context.Background()
	amb, err := svc.Create(ctx, dispatcher, createRequest(facility, "B1"))
	require.NoError(t, err)

	speed := 42.0
	require.NoError(t, svc.UpdatePosition(ctx, authz.System(), amb.ID, &model.PositionUpdate{Latitude: 13.0, Longitude: 77.7, Speed: &speed}))

	got, err := svc.Get(ctx, dispatcher, amb.ID)
	require.NoError(t, err)
	assert.Equal(t, 13.0, *got.Latitude)
	assert.Equal(t, 42.0, *got.Speed)
	assert.NotNil(t, got.LocationUpdatedAt)

	heading := 400.0
	err = svc.UpdatePosition(ctx, authz.System(), amb.ID, &model.PositionUpdate{Latitude: 13.0, Longitude: 77.7, Heading: &heading})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestReadsAreConfinedToTheFacility(t *testing.T) {
	svc, _, dispatcher, facility := newService(t)
	ctx := context.Background()
	amb, err := svc.Create(ctx, dispatcher, createRequest(facility, "C1"))
	require.NoError(t, err)

	elsewhere := uuid.New()
	outsider := authz.NewCaller(uuid.New(), authz.RoleViewer, &elsewhere)

	_, err = svc.Get(ctx, outsider, amb.ID)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	_, total, err := svc.List(ctx, outsider, &model.AmbulanceFilter{FacilityID: &facility})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, total, err = svc.List(ctx, dispatcher, &model.AmbulanceFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
