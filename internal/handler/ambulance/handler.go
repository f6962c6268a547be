package ambulance

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/handler"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

type Service interface {
	Create(ctx context.Context, caller authz.Caller, req *model.CreateAmbulanceRequest) (*model.Ambulance, error)
	Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Ambulance, error)
	List(ctx context.Context, caller authz.Caller, filter *model.AmbulanceFilter) ([]*model.Ambulance, int, error)
	SetStatus(ctx context.Context, caller authz.Caller, id uuid.UUID, status model.AmbulanceStatus) (*model.Ambulance, error)
	Decommission(ctx context.Context, caller authz.Caller, id uuid.UUID) error
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	ambulances := r.Group("/ambulances")
	{
		ambulances.POST("", h.CreateAmbulance)
		ambulances.GET("", h.ListAmbulances)
		ambulances.GET("/:id", h.GetAmbulance)
		ambulances.PUT("/:id/status", h.SetStatus)
		ambulances.DELETE("/:id", h.DeleteAmbulance)
	}
}

func (h *Handler) CreateAmbulance(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var req model.CreateAmbulanceRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	ambulance, err := h.service.Create(c.Request.Context(), caller, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, ambulance)
}

func (h *Handler) GetAmbulance(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	ambulance, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ambulance)
}

func (h *Handler) ListAmbulances(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var filter model.AmbulanceFilter
	if !handler.BindQuery(c, &filter) {
		return
	}

	ambulances, total, err := h.service.List(c.Request.Context(), caller, &filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	page := filter.Pagination.Normalize()
	httputil.RespondWithPagination(c, ambulances, page.Page, page.PageSize, total)
}

func (h *Handler) SetStatus(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.SetAmbulanceStatusRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	ambulance, err := h.service.SetStatus(c.Request.Context(), caller, id, req.Status)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ambulance)
}

func (h *Handler) DeleteAmbulance(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Decommission(c.Request.Context(), caller, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
