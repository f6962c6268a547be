package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
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
	facility uuid.UUID
	from, to time.Time
	err      error
}

func (f *fakeService) ReferralSummary(_ context.Context, _ authz.Caller, facilityID uuid.UUID, from, to time.Time) (*model.ReferralSummary, error) {
	f.facility, f.from, f.to = facilityID, from, to
	return &model.ReferralSummary{FacilityID: facilityID, Total: 7}, f.err
}

func (f *fakeService) WriteReferralSummaryXLSX(_ context.Context, _ authz.Caller, facilityID uuid.UUID, from, to time.Time, w io.Writer) error {
	f.facility, f.from, f.to = facilityID, from, to
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("PK\x03\x04"))
	return err
}

var now = time.Date(2026, 4, 30, 12, 0, 0, 0, time.UTC)

func setup(svc Service, caller authz.Caller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(authz.WithCaller(c.Request.Context(), caller))
	})
	h := NewHandler(svc)
	h.now = func() time.Time { return now }
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReferralSummaryDefaults(t *testing.T) {
	facility := uuid.New()
	svc := &fakeService{}
	r := setup(svc, authz.NewCaller(uuid.New(), authz.RoleFacilityAdmin, &facility))

	w := get(r, "/api/v1/reports/referrals")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, facility, svc.facility)
	assert.Equal(t, now, svc.to)
	assert.Equal(t, now.Add(-30*24*time.Hour), svc.from)
	assert.Contains(t, w.Body.String(), `"total":7`)
}

func TestReferralSummaryValidation(t *testing.T) {
	svc := &fakeService{}
	admin := setup(svc, authz.NewCaller(uuid.New(), authz.RoleAdmin, nil))

	assert.Equal(t, http.StatusBadRequest, get(admin, "/api/v1/reports/referrals").Code, "admins name a facility")
	assert.Equal(t, http.StatusBadRequest, get(admin, "/api/v1/reports/referrals?facility_id=x").Code)

	base := "/api/v1/reports/referrals?facility_id=" + uuid.NewString()
	assert.Equal(t, http.StatusBadRequest, get(admin, base+"&from=2026-04-01").Code)
	assert.Equal(t, http.StatusBadRequest, get(admin, base+"&from=2026-04-02T00:00:00Z&to=2026-04-01T00:00:00Z").Code)
	assert.Equal(t, http.StatusOK, get(admin, base+"&from=2026-04-01T00:00:00Z&to=2026-04-02T00:00:00Z").Code)
}

func TestReferralSummaryXLSX(t *testing.T) {
	facility := uuid.New()
	svc := &fakeService{}
	r := setup(svc, authz.NewCaller(uuid.New(), authz.RoleAdmin, nil))

	w := get(r, "/api/v1/reports/referrals.xlsx?facility_id="+facility.String()+"&from=2026-04-01T00:00:00Z&to=2026-05-01T00:00:00Z")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, contentTypeXLSX, w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=referrals_"+facility.String()+"_20260401_20260501.xlsx", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "PK\x03\x04", w.Body.String())

	svc.err = errors.PermissionDenied(string(authz.ReportRead), "report")
	w = get(r, "/api/v1/reports/referrals.xlsx?facility_id="+facility.String())
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Content-Disposition"))
}
