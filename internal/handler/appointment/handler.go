package appointment

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/handler"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

type Service interface {
	CheckAvailability(ctx context.Context, caller authz.Caller, q *model.AvailabilityQuery) (bool, error)
	Create(ctx context.Context, caller authz.Caller, req *model.CreateAppointmentRequest) (*model.Appointment, error)
	Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Appointment, error)
	List(ctx context.Context, caller authz.Caller, filter *model.AppointmentFilter) ([]*model.Appointment, int, error)
	DoctorSchedule(ctx context.Context, caller authz.Caller, doctorID uuid.UUID, day time.Time) ([]*model.Appointment, error)
	Reschedule(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.RescheduleAppointmentRequest) (*model.Appointment, error)
	Confirm(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Appointment, error)
	CheckIn(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Appointment, error)
	Start(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Appointment, error)
	Complete(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.CompleteAppointmentRequest) (*model.CompletedAppointment, error)
	Cancel(ctx context.Context, caller authz.Caller, id uuid.UUID, reason string) (*model.Appointment, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments")
	{
		appointments.GET("/availability", h.CheckAvailability)
		appointments.POST("", h.CreateAppointment)
		appointments.GET("", h.ListAppointments)
		appointments.GET("/:id", h.GetAppointment)
		appointments.POST("/:id/reschedule", h.RescheduleAppointment)
		appointments.POST("/:id/confirm", h.simple(h.service.Confirm))
		appointments.POST("/:id/check-in", h.simple(h.service.CheckIn))
		appointments.POST("/:id/start", h.simple(h.service.Start))
		appointments.POST("/:id/complete", h.CompleteAppointment)
		appointments.POST("/:id/cancel", h.CancelAppointment)
	}
	r.GET("/doctors/:id/schedule", h.DoctorSchedule)
}

func (h *Handler) CheckAvailability(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var q model.AvailabilityQuery
	if !handler.BindQuery(c, &q) {
		return
	}

	available, err := h.service.CheckAvailability(c.Request.Context(), caller, &q)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{
		"doctor_id":        q.DoctorID,
		"start":            q.Start,
		"duration_minutes": q.DurationMinutes,
		"available":        available,
	})
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var req model.CreateAppointmentRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	appointment, err := h.service.Create(c.Request.Context(), caller, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, appointment)
}

func (h *Handler) GetAppointment(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	appointment, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appointment)
}

func (h *Handler) ListAppointments(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var filter model.AppointmentFilter
	if !handler.BindQuery(c, &filter) {
		return
	}

	appointments, total, err := h.service.List(c.Request.Context(), caller, &filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	page := filter.Pagination.Normalize()
	httputil.RespondWithPagination(c, appointments, page.Page, page.PageSize, total)
}

// DoctorSchedule lists a doctor's appointments on ?date=YYYY-MM-DD (UTC),
// defaulting to today.
func (h *Handler) DoctorSchedule(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	doctorID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	day := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httputil.RespondWithError(c, errors.Validation("date must be YYYY-MM-DD"))
			return
		}
		day = d
	}

	appointments, err := h.service.DoctorSchedule(c.Request.Context(), caller, doctorID, day)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appointments)
}

func (h *Handler) RescheduleAppointment(c *gin.Context) {
	caller, id, ok := h.target(c)
	if !ok {
		return
	}
	var req model.RescheduleAppointmentRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	appointment, err := h.service.Reschedule(c.Request.Context(), caller, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appointment)
}

func (h *Handler) CompleteAppointment(c *gin.Context) {
	caller, id, ok := h.target(c)
	if !ok {
		return
	}
	var req model.CompleteAppointmentRequest
	if !handler.BindJSON(c, &req, true) {
		return
	}

	completed, err := h.service.Complete(c.Request.Context(), caller, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, completed)
}

func (h *Handler) CancelAppointment(c *gin.Context) {
	caller, id, ok := h.target(c)
	if !ok {
		return
	}
	var req model.CancelRequest
	if !handler.BindJSON(c, &req, false) {
		return
	}

	appointment, err := h.service.Cancel(c.Request.Context(), caller, id, req.Reason)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appointment)
}

// simple wraps the transitions that take no body.
func (h *Handler) simple(fn func(context.Context, authz.Caller, uuid.UUID) (*model.Appointment, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, id, ok := h.target(c)
		if !ok {
			return
		}
		appointment, err := fn(c.Request.Context(), caller, id)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, appointment)
	}
}

func (h *Handler) target(c *gin.Context) (authz.Caller, uuid.UUID, bool) {
	caller, ok := handler.Caller(c)
	if !ok {
		return authz.Caller{}, uuid.Nil, false
	}
	id, ok := handler.ParamID(c, "id")
	return caller, id, ok
}
