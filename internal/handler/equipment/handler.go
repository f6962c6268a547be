package equipment

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
	Create(ctx context.Context, caller authz.Caller, req *model.CreateEquipmentRequest) (*model.Equipment, error)
	Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Equipment, error)
	List(ctx context.Context, caller authz.Caller, filter *model.EquipmentFilter) ([]*model.Equipment, int, error)
	MaintenanceHistory(ctx context.Context, caller authz.Caller, equipmentID uuid.UUID) ([]*model.MaintenanceRecord, error)
	SetStatus(ctx context.Context, caller authz.Caller, id uuid.UUID, status model.EquipmentStatus) (*model.Equipment, error)
	Decommission(ctx context.Context, caller authz.Caller, id uuid.UUID) error

	ScheduleMaintenance(ctx context.Context, caller authz.Caller, equipmentID uuid.UUID, req *model.ScheduleMaintenanceRequest) (*model.MaintenanceRecord, error)
	StartMaintenance(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.MaintenanceRecord, error)
	CompleteMaintenance(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.CompleteMaintenanceRequest) (*model.MaintenanceRecord, error)
	CancelMaintenance(ctx context.Context, caller authz.Caller, id uuid.UUID, reason string) (*model.MaintenanceRecord, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	equipment := r.Group("/equipment")
	{
		equipment.POST("", h.CreateEquipment)
		equipment.GET("", h.ListEquipment)
		equipment.GET("/:id", h.GetEquipment)
		equipment.PUT("/:id/status", h.SetStatus)
		equipment.DELETE("/:id", h.DeleteEquipment)
		equipment.GET("/:id/maintenance", h.MaintenanceHistory)
		equipment.POST("/:id/maintenance", h.ScheduleMaintenance)
	}

	maintenance := r.Group("/maintenance")
	{
		maintenance.POST("/:id/start", h.StartMaintenance)
		maintenance.POST("/:id/complete", h.CompleteMaintenance)
		maintenance.POST("/:id/cancel", h.CancelMaintenance)
	}
}

func (h *Handler) CreateEquipment(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var req model.CreateEquipmentRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	equipment, err := h.service.Create(c.Request.Context(), caller, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, equipment)
}

func (h *Handler) GetEquipment(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}

	equipment, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, equipment)
}

func (h *Handler) ListEquipment(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var filter model.EquipmentFilter
	if !handler.BindQuery(c, &filter) {
		return
	}

	items, total, err := h.service.List(c.Request.Context(), caller, &filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	page := filter.Pagination.Normalize()
	httputil.RespondWithPagination(c, items, page.Page, page.PageSize, total)
}

func (h *Handler) SetStatus(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}
	var req model.SetEquipmentStatusRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	equipment, err := h.service.SetStatus(c.Request.Context(), caller, id, req.Status)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, equipment)
}

func (h *Handler) DeleteEquipment(c *gin.Context) {
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

func (h *Handler) MaintenanceHistory(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}

	records, err := h.service.MaintenanceHistory(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, records)
}

func (h *Handler) ScheduleMaintenance(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}
	var req model.ScheduleMaintenanceRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	record, err := h.service.ScheduleMaintenance(c.Request.Context(), caller, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, record)
}

func (h *Handler) StartMaintenance(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}

	record, err := h.service.StartMaintenance(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, record)
}

func (h *Handler) CompleteMaintenance(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}
	var req model.CompleteMaintenanceRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	record, err := h.service.CompleteMaintenance(c.Request.Context(), caller, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, record)
}

func (h *Handler) CancelMaintenance(c *gin.Context) {
	caller, id, ok := target(c)
	if !ok {
		return
	}
	var req model.CancelMaintenanceRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	record, err := h.service.CancelMaintenance(c.Request.Context(), caller, id, req.Reason)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, record)
}

func target(c *gin.Context) (authz.Caller, uuid.UUID, bool) {
	caller, ok := handler.Caller(c)
	if !ok {
		return authz.Caller{}, uuid.Nil, false
	}
	id, ok := handler.ParamID(c, "id")
	return caller, id, ok
}
