package equipment

import (
	"context"
	"fmt"
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

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	svc      *Service
	facility uuid.UUID
	admin    authz.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	facility := uuid.New()
	store.AddFacilities(facility)
	auditor := audit.NewService(store.Audit(), logger.Nop())
	return &fixture{
		store:    store,
		facility: facility,
		admin:    authz.NewCaller(uuid.New(), authz.RoleFacilityAdmin, &facility),
		svc: NewService(Deps{
			Tx:          store.Transactor(),
			Equipment:   store.Equipment(),
			Maintenance: store.Maintenance(),
			Refs:        store.References(),
			Guard:       authz.NewGuard(authz.NewPolicy(), auditor),
			Auditor:     auditor,
			Now:         func() time.Time { return now },
		}),
	}
}

func (f *fixture) ventilator(t *testing.T) *model.Equipment {
	t.Helper()
	e, err := f.svc.Create(context.Background(), f.admin, &model.CreateEquipmentRequest{
		FacilityID:   f.facility,
		Name:         "Ventilator",
		Category:     "respiratory",
		SerialNumber: "VX-" + uuid.NewString()[:8],
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) schedule(t *testing.T, e *model.Equipment) *model.MaintenanceRecord {
	t.Helper()
	m, err := f.svc.ScheduleMaintenance(context.Background(), f.admin, e.ID, &model.ScheduleMaintenanceRequest{
		Type:         model.MaintenanceTypePreventive,
		ScheduledFor: now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) status(t *testing.T, id uuid.UUID) model.EquipmentStatus {
	t.Helper()
	e, err := f.svc.Get(context.Background(), f.admin, id)
	require.NoError(t, err)
	return e.Status
}

func TestMaintenanceCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.ventilator(t)

	m := f.schedule(t, e)
	assert.Equal(t, model.MaintenanceStatusScheduled, m.Status)
	assert.Equal(t, model.EquipmentStatusAvailable, f.status(t, e.ID), "scheduling does not change status")

	m, err := f.svc.StartMaintenance(ctx, f.admin, m.ID)
	require.NoError(t, err)
	assert.NotNil(t, m.StartedAt)
	assert.Equal(t, model.EquipmentStatusUnderMaintenance, f.status(t, e.ID))

	due := now.AddDate(0, 6, 0)
	cost := 120.5
	m, err = f.svc.CompleteMaintenance(ctx, f.admin, m.ID, &model.CompleteMaintenanceRequest{
		ConditionRating:    4,
		NextMaintenanceDue: &due,
		ReturnToService:    true,
		Cost:               &cost,
		Notes:              "filters replaced",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MaintenanceStatusCompleted, m.Status)
	require.NotNil(t, m.CompletedAt)

	got, err := f.svc.Get(ctx, f.admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EquipmentStatusAvailable, got.Status)
	assert.Equal(t, 4, *got.ConditionRating)
	assert.True(t, got.LastMaintenance.Equal(*m.CompletedAt))
	assert.True(t, got.NextMaintenanceDue.Equal(due))

	history, err := f.svc.MaintenanceHistory(ctx, f.admin, e.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCompleteWithoutReturnLeavesOutOfOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.ventilator(t)
	m := f.schedule(t, e)

	_, err := f.svc.CompleteMaintenance(ctx, f.admin, m.ID, &model.CompleteMaintenanceRequest{ConditionRating: 3})
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition), "only running work can complete")

	_, err = f.svc.StartMaintenance(ctx, f.admin, m.ID)
	require.NoError(t, err)

	for _, rating := range []int{0, 6} {
		_, err = f.svc.CompleteMaintenance(ctx, f.admin, m.ID, &model.CompleteMaintenanceRequest{ConditionRating: rating})
		assert.True(t, errors.Is(err, errors.ErrValidation))
	}

	_, err = f.svc.CompleteMaintenance(ctx, f.admin, m.ID, &model.CompleteMaintenanceRequest{ConditionRating: 2})
	require.NoError(t, err)
	assert.Equal(t, model.EquipmentStatusOutOfOrder, f.status(t, e.ID))
}

func TestCancelRunningMaintenanceRestoresEquipment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.ventilator(t)
	m := f.schedule(t, e)

	_, err := f.svc.StartMaintenance(ctx, f.admin, m.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelMaintenance(ctx, f.admin, m.ID, "")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	m, err = f.svc.CancelMaintenance(ctx, f.admin, m.ID, "parts unavailable")
	require.NoError(t, err)
	assert.Equal(t, model.MaintenanceStatusCancelled, m.Status)
	assert.Equal(t, model.EquipmentStatusAvailable, f.status(t, e.ID))

	_, err = f.svc.StartMaintenance(ctx, f.admin, m.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestCancelScheduledKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.ventilator(t)
	_, err := f.svc.SetStatus(ctx, f.admin, e.ID, model.EquipmentStatusInUse)
	require.NoError(t, err)

	m := f.schedule(t, e)
	_, err = f.svc.CancelMaintenance(ctx, f.admin, m.ID, "rescheduled by vendor")
	require.NoError(t, err)
	assert.Equal(t, model.EquipmentStatusInUse, f.status(t, e.ID))
}

func TestOneActiveRecordPerEquipment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.ventilator(t)
	m := f.schedule(t, e)

	_, err := f.svc.ScheduleMaintenance(ctx, f.admin, e.ID, &model.ScheduleMaintenanceRequest{
		Type:         model.MaintenanceTypeCalibration,
		ScheduledFor: now.Add(48 * time.Hour),
	})
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	assert.True(t, errors.Is(f.svc.Decommission(ctx, f.admin, e.ID), errors.ErrInvalidTransition))

	_, err = f.svc.StartMaintenance(ctx, f.admin, m.ID)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, f.admin, e.ID, model.EquipmentStatusAvailable)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	_, err = f.svc.SetStatus(ctx, f.admin, e.ID, model.EquipmentStatusUnderMaintenance)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestStartRollsBackWhenEquipmentUpdateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.ventilator(t)
	m := f.schedule(t, e)

	f.store.FailOn("equipment.update", errors.Dependency("database", fmt.Errorf("connection reset")))
	_, err := f.svc.StartMaintenance(ctx, f.admin, m.ID)
	require.Error(t, err)

	history, err := f.svc.MaintenanceHistory(ctx, f.admin, e.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.MaintenanceStatusScheduled, history[0].Status)
	assert.Equal(t, model.EquipmentStatusAvailable, f.status(t, e.ID))
}

func TestDecommissionAndPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.ventilator(t)

	nurse := authz.NewCaller(uuid.New(), authz.RoleNurse, &f.facility)
	_, err := f.svc.ScheduleMaintenance(ctx, nurse, e.ID, &model.ScheduleMaintenanceRequest{
		Type:         model.MaintenanceTypeCorrective,
		ScheduledFor: now,
	})
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	list, total, err := f.svc.List(ctx, nurse, &model.EquipmentFilter{FacilityID: &f.facility})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, e.ID, list[0].ID)

	require.NoError(t, f.svc.Decommission(ctx, f.admin, e.ID))
	_, err = f.svc.Get(ctx, f.admin, e.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
