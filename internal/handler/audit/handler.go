package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/handler"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

// maxExportRows bounds a single CSV export.
const maxExportRows = 10000

type Service interface {
	List(ctx context.Context, caller authz.Caller, filter *model.AuditFilter) ([]*model.AuditLog, int, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	logs := r.Group("/audit-logs")
	{
		logs.GET("", h.ListLogs)
		logs.GET("/export", h.ExportLogs)
	}
}

func (h *Handler) ListLogs(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var filter model.AuditFilter
	if !handler.BindQuery(c, &filter) {
		return
	}

	logs, total, err := h.service.List(c.Request.Context(), caller, &filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	page := filter.Pagination.Normalize()
	httputil.RespondWithPagination(c, logs, page.Page, page.PageSize, total)
}

// ExportLogs streams the filtered entries as CSV, newest first.
func (h *Handler) ExportLogs(c *gin.Context) {
	caller, ok := handler.Caller(c)
	if !ok {
		return
	}
	var filter model.AuditFilter
	if !handler.BindQuery(c, &filter) {
		return
	}
	logs, err := h.collect(c.Request.Context(), caller, filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	filename := fmt.Sprintf("audit_logs_%s.csv", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(c.Writer)
	writer.Write([]string{"ID", "Actor ID", "Actor Role", "Facility ID", "Action", "Entity Type", "Entity ID", "Old Status", "New Status", "Security", "Request ID", "Created At"})
	for _, log := range logs {
		facility := ""
		if log.FacilityID != nil {
			facility = log.FacilityID.String()
		}
		writer.Write([]string{
			log.ID.String(),
			log.ActorID.String(),
			log.ActorRole,
			facility,
			log.Action,
			log.EntityType,
			log.EntityID.String(),
			deref(log.OldStatus),
			deref(log.NewStatus),
			strconv.FormatBool(log.Security),
			log.RequestID,
			log.CreatedAt.Format(time.RFC3339),
		})
	}
	writer.Flush()
}

// collect walks the result pages until the filter is exhausted or
// maxExportRows entries have been read.
func (h *Handler) collect(ctx context.Context, caller authz.Caller, filter model.AuditFilter) ([]*model.AuditLog, error) {
	var out []*model.AuditLog
	filter.PageSize = model.MaxPageSize
	for filter.Page = 1; len(out) < maxExportRows; filter.Page++ {
		logs, total, err := h.service.List(ctx, caller, &filter)
		if err != nil {
			return nil, err
		}
		out = append(out, logs...)
		if len(logs) == 0 || len(out) >= total {
			break
		}
	}
	if len(out) > maxExportRows {
		out = out[:maxExportRows]
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
