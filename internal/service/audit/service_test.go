package audit

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
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

func TestLogDefaultsToCallerFacility(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Audit(), logger.Nop())
	facility := uuid.New()
	caller := authz.NewCaller(uuid.New(), authz.RoleDoctor, &facility)
	entity := uuid.New()

	require.NoError(t, svc.Log(context.Background(), caller, model.AuditActionCreate, model.AuditEntityReferral, entity,
		&LogOptions{NewStatus: "pending", Metadata: map[string]interface{}{"urgency": "routine"}}))

	logs := store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, facility, *logs[0].FacilityID)
	assert.Equal(t, "doctor", logs[0].ActorRole)
	assert.Nil(t, logs[0].OldStatus)
	assert.Equal(t, "pending", *logs[0].NewStatus)
	assert.False(t, logs[0].Security)
}

func TestListScopesNonAdminsToTheirFacility(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Audit(), logger.Nop())
	mine, theirs := uuid.New(), uuid.New()
	ctx := context.Background()

	for _, f := range []uuid.UUID{mine, theirs, theirs} {
		require.NoError(t, svc.Log(ctx, authz.NewCaller(uuid.New(), authz.RoleNurse, &f), model.AuditActionCreate, model.AuditEntityBed, uuid.New(), nil))
	}

	facilityAdmin := authz.NewCaller(uuid.New(), authz.RoleFacilityAdmin, &mine)
	filter := &model.AuditFilter{FacilityID: &theirs}
	logs, total, err := svc.List(ctx, facilityAdmin, filter)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "the requested facility is overridden")
	assert.Equal(t, mine, *logs[0].FacilityID)

	_, total, err = svc.List(ctx, authz.NewCaller(uuid.New(), authz.RoleAdmin, nil), &model.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestListDeniedIsRecorded(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Audit(), logger.Nop())
	facility := uuid.New()

	_, _, err := svc.List(context.Background(), authz.NewCaller(uuid.New(), authz.RoleNurse, &facility), &model.AuditFilter{})
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	logs := store.AuditLogs()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Security)
	assert.Equal(t, model.AuditActionPermissionDenied, logs[0].Action)
	assert.Equal(t, "audit:read", logs[0].Metadata["capability"])
}

func TestCleanup(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Audit(), logger.Nop())
	ctx := context.Background()
	caller := authz.NewCaller(uuid.New(), authz.RoleAdmin, nil)

	require.NoError(t, svc.Log(ctx, caller, model.AuditActionCreate, model.AuditEntityEquipment, uuid.New(), nil))

	n, err := svc.Cleanup(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.Cleanup(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, store.AuditLogs())
}
