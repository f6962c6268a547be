package appointment

import (
	"context"
	"encoding/json"
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
	Service

	query     *model.AvailabilityQuery
	available bool
	day       time.Time
	doctor    uuid.UUID
	confirmed uuid.UUID
	completed *model.CompleteAppointmentRequest
	cancelErr error
}

func (f *fakeService) CheckAvailability(_ context.Context, _ authz.Caller, q *model.AvailabilityQuery) (bool, error) {
	f.query = q
	return f.available, nil
}

func (f *fakeService) DoctorSchedule(_ context.Context, _ authz.Caller, doctorID uuid.UUID, day time.Time) ([]*model.Appointment, error) {
	f.doctor, f.day = doctorID, day
	return []*model.Appointment{}, nil
}

func (f *fakeService) Confirm(_ context.Context, _ authz.Caller, id uuid.UUID) (*model.Appointment, error) {
	f.confirmed = id
	return &model.Appointment{ID: id, Status: model.AppointmentStatusConfirmed}, nil
}

func (f *fakeService) Complete(_ context.Context, _ authz.Caller, id uuid.UUID, req *model.CompleteAppointmentRequest) (*model.CompletedAppointment, error) {
	f.completed = req
	out := &model.CompletedAppointment{Appointment: &model.Appointment{ID: id}}
	if req.FollowUp != nil {
		out.FollowUp = &model.Appointment{ID: uuid.New(), ScheduledAt: req.FollowUp.ScheduledAt}
	}
	return out, nil
}

func (f *fakeService) Cancel(_ context.Context, _ authz.Caller, id uuid.UUID, _ string) (*model.Appointment, error) {
	return &model.Appointment{ID: id}, f.cancelErr
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

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCheckAvailability(t *testing.T) {
	svc := &fakeService{available: true}
	r := setup(svc)
	doctor, exclude := uuid.New(), uuid.New()

	w := do(r, http.MethodGet, "/api/v1/appointments/availability?doctor_id="+doctor.String()+
		"&start=2026-03-02T09:00:00Z&duration_minutes=30&exclude_id="+exclude.String(), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, doctor, svc.query.DoctorID)
	assert.Equal(t, exclude, *svc.query.ExcludeID)
	assert.Equal(t, 30, svc.query.DurationMinutes)
	assert.Equal(t, 9, svc.query.Start.Hour())
	assert.Contains(t, w.Body.String(), `"available":true`)

	w = do(r, http.MethodGet, "/api/v1/appointments/availability?doctor_id="+doctor.String()+"&start=tomorrow&duration_minutes=30", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDoctorSchedule(t *testing.T) {
	svc := &fakeService{}
	r := setup(svc)
	doctor := uuid.New()

	w := do(r, http.MethodGet, "/api/v1/doctors/"+doctor.String()+"/schedule?date=2026-03-02", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, doctor, svc.doctor)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), svc.day)

	w = do(r, http.MethodGet, "/api/v1/doctors/"+doctor.String()+"/schedule?date=02/03/2026", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmAndComplete(t *testing.T) {
	svc := &fakeService{}
	r := setup(svc)
	id := uuid.New()

	w := do(r, http.MethodPost, "/api/v1/appointments/"+id.String()+"/confirm", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, svc.confirmed)

	w = do(r, http.MethodPost, "/api/v1/appointments/"+id.String()+"/complete",
		`{"diagnosis":"otitis media","follow_up":{"scheduled_at":"2026-03-16T09:00:00Z","duration_minutes":15}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "otitis media", svc.completed.Diagnosis)

	var env struct {
		Data model.CompletedAppointment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Data.FollowUp)
	assert.Equal(t, 16, env.Data.FollowUp.ScheduledAt.Day())

	w = do(r, http.MethodPost, "/api/v1/appointments/"+id.String()+"/complete", "")
	assert.Equal(t, http.StatusOK, w.Code, "notes are optional")
}

func TestCancel(t *testing.T) {
	svc := &fakeService{}
	r := setup(svc)
	path := "/api/v1/appointments/" + uuid.NewString() + "/cancel"

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, path, `{}`).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, path, `{"reason":"patient unwell"}`).Code)

	svc.cancelErr = errors.Validation("appointment starts within 2h0m0s and can no longer be cancelled")
	w := do(r, http.MethodPost, path, `{"reason":"patient unwell"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "can no longer be cancelled")
}
