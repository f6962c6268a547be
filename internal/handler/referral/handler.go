package referral

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/handler"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

type Service interface {
	Create(ctx context.Context, caller authz.Caller, req *model.CreateReferralRequest) (*model.Referral, error)
	Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Referral, error)
	List(ctx context.Context, caller authz.Caller, filter *model.ReferralFilter) ([]*model.Referral, int, error)
	Accept(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.AcceptReferralRequest) (*model.Referral, error)
	Reject(ctx context.Context, caller authz.Caller, id uuid.UUID, reason string) (*model.Referral, error)
	MarkInTransit(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Referral, error)
	MarkArrived(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Referral, error)
	Complete(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.CompleteReferralRequest) (*model.Referral, error)
	Cancel(ctx context.Context, caller authz.Caller, id uuid.UUID, reason string) (*model.Referral, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	referrals := r.Group("/referrals")
	{
		referrals.POST("", h.CreateReferral)
		referrals.GET("", h.ListReferrals)
		referrals.GET("/:id", h.GetReferral)
		referrals.POST("/:id/accept", h.AcceptReferral)
		referrals.POST("/:id/reject", h.RejectReferral)
		referrals.POST("/:id/in-transit", h.MarkInTransit)
		referrals.POST("/:id/arrive", h.MarkArrived)
		referrals.POST("/:id/complete", h.CompleteReferral)
		referrals.POST("/:id/cancel", h.CancelReferral)
	}
}

func (h *Handler) CreateReferral(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var req model.CreateReferralRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	referral, err := h.service.Create(c.Request.Context(), caller, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, referral)
}

func (h *Handler) GetReferral(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	referral, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, referral)
}

func (h *Handler) ListReferrals(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var filter model.ReferralFilter
	if !handler.BindQuery(c, &filter) {
		return
	}

	referrals, total, err := h.service.List(c.Request.Context(), caller, &filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	page := filter.Pagination.Normalize()
	httputil.RespondWithPagination(c, referrals, page.Page, page.PageSize, total)
}

func (h *Handler) AcceptReferral(c *gin.Context) {
	var req model.AcceptReferralRequest
	h.transition(c, &req, false, func(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Referral, error) {
		return h.service.Accept(ctx, caller, id, &req)
	})
}

func (h *Handler) RejectReferral(c *gin.Context) {
	var req model.RejectReferralRequest
	h.transition(c, &req, false, func(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Referral, error) {
		return h.service.Reject(ctx, caller, id, req.Reason)
	})
}

func (h *Handler) MarkInTransit(c *gin.Context) {
	h.transition(c, nil, true, h.service.MarkInTransit)
}

func (h *Handler) MarkArrived(c *gin.Context) {
	h.transition(c, nil, true, h.service.MarkArrived)
}

func (h *Handler) CompleteReferral(c *gin.Context) {
	var req model.CompleteReferralRequest
	h.transition(c, &req, true, func(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Referral, error) {
		return h.service.Complete(ctx, caller, id, &req)
	})
}

func (h *Handler) CancelReferral(c *gin.Context) {
	var req model.CancelRequest
	h.transition(c, &req, false, func(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Referral, error) {
		return h.service.Cancel(ctx, caller, id, req.Reason)
	})
}

// transition binds body (when non-nil) and runs fn against the :id referral.
func (h *Handler) transition(c *gin.Context, body interface{}, optional bool, fn func(context.Context, authz.Caller, uuid.UUID) (*model.Referral, error)) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	if body != nil && !handler.BindJSON(c, body, optional) {
		return
	}

	referral, err := fn(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, referral)
}
