package dispatch

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/handler"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

type Service interface {
	Create(ctx context.Context, caller authz.Caller, req *model.CreateDispatchRequest) (*model.Dispatch, error)
	Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Dispatch, error)
	List(ctx context.Context, caller authz.Caller, filter *model.DispatchFilter) ([]*model.Dispatch, int, error)
	History(ctx context.Context, caller authz.Caller, id uuid.UUID) ([]*model.DispatchStatusUpdate, error)
	Progress(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.RouteProgress, error)
	SuggestAmbulances(ctx context.Context, caller authz.Caller, pickup model.GeoPoint, facilityID *uuid.UUID, limit int) ([]*model.AmbulanceSuggestion, error)
	UpdateLocation(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.LocationUpdateRequest) (*model.RouteProgress, error)

	Acknowledge(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error)
	StartEnRouteToPickup(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error)
	ArriveAtPickup(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error)
	LoadPatient(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error)
	StartEnRouteToDestination(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error)
	ArriveAtDestination(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error)
	DeliverPatient(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.DeliverPatientRequest) (*model.Dispatch, error)
	Complete(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.CompleteDispatchRequest) (*model.Dispatch, error)
	Cancel(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.CancelDispatchRequest) (*model.Dispatch, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type forwardFunc func(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error)

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	dispatches := r.Group("/dispatches")
	{
		dispatches.POST("", h.CreateDispatch)
		dispatches.GET("", h.ListDispatches)
		dispatches.GET("/suggestions", h.SuggestAmbulances)
		dispatches.GET("/:id", h.GetDispatch)
		dispatches.GET("/:id/history", h.GetHistory)
		dispatches.GET("/:id/progress", h.GetProgress)
		dispatches.POST("/:id/location", h.UpdateLocation)

		for path, fn := range map[string]forwardFunc{
			"acknowledge":          h.service.Acknowledge,
			"en-route-pickup":      h.service.StartEnRouteToPickup,
			"at-pickup":            h.service.ArriveAtPickup,
			"load-patient":         h.service.LoadPatient,
			"en-route-destination": h.service.StartEnRouteToDestination,
			"at-destination":       h.service.ArriveAtDestination,
		} {
			dispatches.POST("/:id/"+path, h.forward(fn))
		}
		dispatches.POST("/:id/deliver", h.DeliverPatient)
		dispatches.POST("/:id/complete", h.CompleteDispatch)
		dispatches.POST("/:id/cancel", h.CancelDispatch)
	}
}

func (h *Handler) CreateDispatch(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var req model.CreateDispatchRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	dispatch, err := h.service.Create(c.Request.Context(), caller, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, dispatch)
}

func (h *Handler) GetDispatch(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	dispatch, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, dispatch)
}

func (h *Handler) ListDispatches(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var filter model.DispatchFilter
	if !handler.BindQuery(c, &filter) {
		return
	}

	dispatches, total, err := h.service.List(c.Request.Context(), caller, &filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	page := filter.Pagination.Normalize()
	httputil.RespondWithPagination(c, dispatches, page.Page, page.PageSize, total)
}

func (h *Handler) GetHistory(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	history, err := h.service.History(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, history)
}

func (h *Handler) GetProgress(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	progress, err := h.service.Progress(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, progress)
}

// SuggestAmbulances ranks available ambulances by ETA to ?lat=&lng=.
func (h *Handler) SuggestAmbulances(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	lat, ok := handler.QueryFloat(c, "lat")
	if !ok {
		return
	}
	lng, ok := handler.QueryFloat(c, "lng")
	if !ok {
		return
	}

	var facilityID *uuid.UUID
	if raw := c.Query("facility_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httputil.RespondWithError(c, errors.Validation("invalid facility_id"))
			return
		}
		facilityID = &id
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.RespondWithError(c, errors.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	suggestions, err := h.service.SuggestAmbulances(c.Request.Context(), caller, model.GeoPoint{Latitude: lat, Longitude: lng}, facilityID, limit)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, suggestions)
}

func (h *Handler) UpdateLocation(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.LocationUpdateRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	progress, err := h.service.UpdateLocation(c.Request.Context(), caller, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, progress)
}

func (h *Handler) forward(fn forwardFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.TransitionRequest
		h.transition(c, &req, true, func(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Dispatch, error) {
			return fn(ctx, caller, id, &req)
		})
	}
}

func (h *Handler) DeliverPatient(c *gin.Context) {
	var req model.DeliverPatientRequest
	h.transition(c, &req, true, func(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Dispatch, error) {
		return h.service.DeliverPatient(ctx, caller, id, &req)
	})
}

func (h *Handler) CompleteDispatch(c *gin.Context) {
	var req model.CompleteDispatchRequest
	h.transition(c, &req, true, func(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Dispatch, error) {
		return h.service.Complete(ctx, caller, id, &req)
	})
}

func (h *Handler) CancelDispatch(c *gin.Context) {
	var req model.CancelDispatchRequest
	h.transition(c, &req, false, func(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Dispatch, error) {
		return h.service.Cancel(ctx, caller, id, &req)
	})
}

func (h *Handler) transition(c *gin.Context, body interface{}, optional bool, fn func(context.Context, authz.Caller, uuid.UUID) (*model.Dispatch, error)) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	if !handler.BindJSON(c, body, optional) {
		return
	}

	dispatch, err := fn(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, dispatch)
}
