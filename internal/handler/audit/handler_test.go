package audit

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
)

type fakeService struct {
	logs   []*model.AuditLog
	filter *model.AuditFilter
	err    error
}

func (f *fakeService) List(_ context.Context, _ authz.Caller, filter *model.AuditFilter) ([]*model.AuditLog, int, error) {
	f.filter = filter
	return f.logs, len(f.logs), f.err
}

func setup(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	caller := authz.NewCaller(uuid.New(), authz.RoleAdmin, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(authz.WithCaller(c.Request.Context(), caller))
	})
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestListLogsFilter(t *testing.T) {
	svc := &fakeService{}
	r := setup(svc)
	entity := uuid.New()

	w := get(r, "/api/v1/audit-logs?entity_type=referral&entity_id="+entity.String()+"&security=true&page_size=10")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "referral", svc.filter.EntityType)
	assert.Equal(t, entity, *svc.filter.EntityID)
	require.NotNil(t, svc.filter.Security)
	assert.True(t, *svc.filter.Security)

	svc.err = errors.PermissionDenied(string(authz.AuditRead), "audit_log")
	assert.Equal(t, http.StatusForbidden, get(r, "/api/v1/audit-logs").Code)
}

func TestExportLogs(t *testing.T) {
	facility := uuid.New()
	newStatus := "accepted"
	svc := &fakeService{logs: []*model.AuditLog{{
		ID:         uuid.New(),
		ActorID:    uuid.New(),
		ActorRole:  "doctor",
		FacilityID: &facility,
		Action:     "accept",
		EntityType: model.AuditEntityReferral,
		EntityID:   uuid.New(),
		NewStatus:  &newStatus,
		CreatedAt:  time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}}}
	r := setup(svc)

	w := get(r, "/api/v1/audit-logs/export?action=accept")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Disposition"), "attachment; filename=audit_logs_"))
	assert.Equal(t, model.MaxPageSize, svc.filter.PageSize)
	assert.Equal(t, "accept", svc.filter.Action)

	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, facility.String(), rows[1][3])
	assert.Equal(t, "", rows[1][7])
	assert.Equal(t, "accepted", rows[1][8])
	assert.Equal(t, "2026-02-01T10:00:00Z", rows[1][11])
}
