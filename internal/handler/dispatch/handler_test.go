package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/validator"
)

// fakeService overrides what each test needs; anything else panics through
// the nil embedded interface.
type fakeService struct {
	Service

	actions  []string
	notes    []string
	location *model.LocationUpdateRequest
	cancel   *model.CancelDispatchRequest
	pickup   model.GeoPoint
	limit    int
	facility *uuid.UUID
	transErr error
}

func (f *fakeService) step(action string, req *model.TransitionRequest) (*model.Dispatch, error) {
	f.actions = append(f.actions, action)
	f.notes = append(f.notes, req.Notes)
	if f.transErr != nil {
		return nil, f.transErr
	}
	return &model.Dispatch{ID: uuid.New()}, nil
}

func (f *fakeService) Acknowledge(_ context.Context, _ authz.Caller, _ uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return f.step("acknowledge", req)
}

func (f *fakeService) StartEnRouteToPickup(_ context.Context, _ authz.Caller, _ uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return f.step("en_route_pickup", req)
}

func (f *fakeService) ArriveAtPickup(_ context.Context, _ authz.Caller, _ uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return f.step("at_pickup", req)
}

func (f *fakeService) LoadPatient(_ context.Context, _ authz.Caller, _ uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return f.step("load_patient", req)
}

func (f *fakeService) StartEnRouteToDestination(_ context.Context, _ authz.Caller, _ uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return f.step("en_route_destination", req)
}

func (f *fakeService) ArriveAtDestination(_ context.Context, _ authz.Caller, _ uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return f.step("at_destination", req)
}

func (f *fakeService) Cancel(_ context.Context, _ authz.Caller, _ uuid.UUID, req *model.CancelDispatchRequest) (*model.Dispatch, error) {
	f.cancel = req
	return &model.Dispatch{Status: model.DispatchStatusCancelled}, nil
}

func (f *fakeService) UpdateLocation(_ context.Context, _ authz.Caller, id uuid.UUID, req *model.LocationUpdateRequest) (*model.RouteProgress, error) {
	f.location = req
	return &model.RouteProgress{DispatchID: id}, nil
}

func (f *fakeService) SuggestAmbulances(_ context.Context, _ authz.Caller, pickup model.GeoPoint, facilityID *uuid.UUID, limit int) ([]*model.AmbulanceSuggestion, error) {
	f.pickup, f.facility, f.limit = pickup, facilityID, limit
	return []*model.AmbulanceSuggestion{}, nil
}

func setup(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	validator.RegisterGinRules()
	caller := authz.NewCaller(uuid.New(), authz.RoleAmbulanceCrew, nil)
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

func TestForwardTransitions(t *testing.T) {
	svc := &fakeService{}
	r := setup(svc)
	base := "/api/v1/dispatches/" + uuid.NewString()

	for _, path := range []string{"acknowledge", "en-route-pickup", "at-pickup", "load-patient", "en-route-destination", "at-destination"} {
		w := do(r, http.MethodPost, base+"/"+path, `{"notes":"`+path+`"}`)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.Equal(t, []string{"acknowledge", "en_route_pickup", "at_pickup", "load_patient", "en_route_destination", "at_destination"}, svc.actions)
	assert.Equal(t, "load-patient", svc.notes[3])

	w := do(r, http.MethodPost, base+"/acknowledge", "")
	assert.Equal(t, http.StatusOK, w.Code, "body is optional")

	w = do(r, http.MethodPost, base+"/at-pickup", `{"location":{"latitude":91,"longitude":0}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransitionErrors(t *testing.T) {
	r := setup(&fakeService{transErr: errors.InvalidTransition(model.AuditEntityDispatch, "load_patient", "assigned")})
	w := do(r, http.MethodPost, "/api/v1/dispatches/"+uuid.NewString()+"/load-patient", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"current_status":"assigned"`)
}

func TestCancelRequiresReason(t *testing.T) {
	svc := &fakeService{}
	r := setup(svc)
	base := "/api/v1/dispatches/" + uuid.NewString()

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, base+"/cancel", "").Code)
	w := do(r, http.MethodPost, base+"/cancel", `{"reason":"call stood down"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "call stood down", svc.cancel.Reason)
}

func TestUpdateLocation(t *testing.T) {
	svc := &fakeService{}
	r := setup(svc)
	base := "/api/v1/dispatches/" + uuid.NewString()

	w := do(r, http.MethodPost, base+"/location", `{"latitude":12.9,"longitude":77.6,"heading":90,"speed":40}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 77.6, svc.location.Longitude)

	for _, body := range []string{
		`{"latitude":120,"longitude":77.6}`,
		`{"latitude":12.9,"longitude":-181}`,
		`{"latitude":12.9,"longitude":77.6,"heading":361}`,
		`{"latitude":12.9,"longitude":77.6,"speed":-1}`,
	} {
		assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, base+"/location", body).Code, body)
	}
}

func TestSuggestions(t *testing.T) {
	svc := &fakeService{}
	r := setup(svc)
	facility := uuid.New()

	w := do(r, http.MethodGet, "/api/v1/dispatches/suggestions?lat=12.5&lng=77.25&limit=3&facility_id="+facility.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.GeoPoint{Latitude: 12.5, Longitude: 77.25}, svc.pickup)
	assert.Equal(t, 3, svc.limit)
	assert.Equal(t, facility, *svc.facility)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/dispatches/suggestions?lng=77", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/dispatches/suggestions?lat=1&lng=2&limit=0", "").Code)
}
