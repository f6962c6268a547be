package bed

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
	Create(ctx context.Context, caller authz.Caller, req *model.CreateBedRequest) (*model.Bed, error)
	Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Bed, error)
	List(ctx context.Context, caller authz.Caller, filter *model.BedFilter) ([]*model.Bed, int, error)
	Decommission(ctx context.Context, caller authz.Caller, id uuid.UUID) error
	Reserve(ctx context.Context, caller authz.Caller, bedID uuid.UUID, req *model.ReserveBedRequest) (*model.BedReservation, error)
	Vacate(ctx context.Context, caller authz.Caller, bedID uuid.UUID) (*model.Bed, error)
	Release(ctx context.Context, caller authz.Caller, reservationID uuid.UUID) (*model.BedReservation, error)
	Occupy(ctx context.Context, caller authz.Caller, reservationID uuid.UUID) (*model.BedReservation, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	beds := r.Group("/beds")
	{
		beds.POST("", h.CreateBed)
		beds.GET("", h.ListBeds)
		beds.GET("/:id", h.GetBed)
		beds.DELETE("/:id", h.DeleteBed)
		beds.POST("/:id/reserve", h.ReserveBed)
		beds.POST("/:id/vacate", h.VacateBed)
	}

	reservations := r.Group("/reservations")
	{
		reservations.POST("/:id/release", h.reservation(h.service.Release))
		reservations.POST("/:id/occupy", h.reservation(h.service.Occupy))
	}
}

func (h *Handler) CreateBed(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var req model.CreateBedRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	bed, err := h.service.Create(c.Request.Context(), caller, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, bed)
}

func (h *Handler) GetBed(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}

	bed, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, bed)
}

func (h *Handler) ListBeds(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var filter model.BedFilter
	if !handler.BindQuery(c, &filter) {
		return
	}

	beds, total, err := h.service.List(c.Request.Context(), caller, &filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	page := filter.Pagination.Normalize()
	httputil.RespondWithPagination(c, beds, page.Page, page.PageSize, total)
}

func (h *Handler) DeleteBed(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}
	if err := h.service.Decommission(c.Request.Context(), caller, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ReserveBed(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}
	var req model.ReserveBedRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	reservation, err := h.service.Reserve(c.Request.Context(), caller, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, reservation)
}

func (h *Handler) VacateBed(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}

	bed, err := h.service.Vacate(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, bed)
}

type reservationFunc func(context.Context, authz.Caller, uuid.UUID) (*model.BedReservation, error)

func (h *Handler) reservation(fn reservationFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, id, ok := target(c)
		if !ok {
			return
		}

		reservation, err := fn(c.Request.Context(), caller, id)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, reservation)
	}
}

func target(c *gin.Context) (authz.Caller, uuid.UUID, bool) {
	caller, ok := handler.Caller(c)
	if !ok {
		return authz.Caller{}, uuid.Nil, false
	}
	id, ok := handler.ParamID(c, "id")
	return caller, id, ok
}
