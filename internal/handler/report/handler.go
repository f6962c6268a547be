package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/handler"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultWindow   = 30 * 24 * time.Hour
)

type Service interface {
	ReferralSummary(ctx context.Context, caller authz.Caller, facilityID uuid.UUID, from, to time.Time) (*model.ReferralSummary, error)
	WriteReferralSummaryXLSX(ctx context.Context, caller authz.Caller, facilityID uuid.UUID, from, to time.Time, w io.Writer) error
}

type Handler struct {
	service Service
	now     func() time.Time
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, now: func() time.Time { return time.Now().UTC() }}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	reports := r.Group("/reports")
	{
		reports.GET("/referrals", h.ReferralSummary)
		reports.GET("/referrals.xlsx", h.ReferralSummaryXLSX)
	}
}

type window struct {
	caller   authz.Caller
	facility uuid.UUID
	from, to time.Time
}

// parseWindow reads facility_id, from and to. The facility defaults to the
// caller's own and the range to the last 30 days.
func (h *Handler) parseWindow(c *gin.Context) (window, bool) {
	caller, ok := handler.Caller(c)
	if !ok {
		return window{}, false
	}
	w := window{caller: caller}

	if raw := c.Query("facility_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httputil.RespondWithError(c, errors.Validation("invalid facility_id"))
			return window{}, false
		}
		w.facility = id
	} else if caller.FacilityID != nil {
		w.facility = *caller.FacilityID
	} else {
		httputil.RespondWithError(c, errors.Validation("facility_id is required"))
		return window{}, false
	}

	now := h.now()
	if w.to, ok = handler.QueryTime(c, "to", now); !ok {
		return window{}, false
	}
	if w.from, ok = handler.QueryTime(c, "from", w.to.Add(-defaultWindow)); !ok {
		return window{}, false
	}
	if !w.from.Before(w.to) {
		httputil.RespondWithError(c, errors.Validation("from must be before to"))
		return window{}, false
	}
	return w, true
}

func (h *Handler) ReferralSummary(c *gin.Context) {
	w, ok := h.parseWindow(c)
	if !ok {
		return
	}

	summary, err := h.service.ReferralSummary(c.Request.Context(), w.caller, w.facility, w.from, w.to)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, summary)
}

// ReferralSummaryXLSX buffers the workbook so a failure still yields a JSON
// error instead of a truncated download.
func (h *Handler) ReferralSummaryXLSX(c *gin.Context) {
	w, ok := h.parseWindow(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.service.WriteReferralSummaryXLSX(c.Request.Context(), w.caller, w.facility, w.from, w.to, &buf); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	filename := fmt.Sprintf("referrals_%s_%s_%s.xlsx", w.facility, w.from.Format("20060102"), w.to.Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, contentTypeXLSX, buf.Bytes())
}
