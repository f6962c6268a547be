package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
)

// Summariser computes referral counts; satisfied by the referral service.
type Summariser interface {
	Summary(ctx context.Context, caller authz.Caller, facilityID uuid.UUID, from, to time.Time) (*model.ReferralSummary, error)
}

const (
	sheetSummary = "Summary"
	sheetDetail  = "Breakdown"
)

var statusOrder = []model.ReferralStatus{
	model.ReferralStatusPending, model.ReferralStatusAccepted, model.ReferralStatusRejected,
	model.ReferralStatusInTransit, model.ReferralStatusArrived, model.ReferralStatusCompleted,
	model.ReferralStatusCancelled,
}

var urgencyOrder = []model.Urgency{
	model.UrgencyEmergency, model.UrgencyUrgent, model.UrgencySemiUrgent, model.UrgencyRoutine,
}

type Service struct {
	referrals Summariser
}

func NewService(referrals Summariser) *Service {
	return &Service{referrals: referrals}
}

func (s *Service) ReferralSummary(ctx context.Context, caller authz.Caller, facilityID uuid.UUID, from, to time.Time) (*model.ReferralSummary, error) {
	return s.referrals.Summary(ctx, caller, facilityID, from, to)
}

// WriteReferralSummaryXLSX renders the summary as a workbook with a totals
// sheet and a status by urgency breakdown.
func (s *Service) WriteReferralSummaryXLSX(ctx context.Context, caller authz.Caller, facilityID uuid.UUID, from, to time.Time, w io.Writer) error {
	summary, err := s.referrals.Summary(ctx, caller, facilityID, from, to)
	if err != nil {
		return err
	}

	f, err := buildWorkbook(summary)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func buildWorkbook(summary *model.ReferralSummary) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(sheetDetail); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	rows := [][]interface{}{
		{"Facility", summary.FacilityID.String()},
		{"From", summary.From.Format(time.RFC3339)},
		{"To", summary.To.Format(time.RFC3339)},
		{"Total", summary.Total},
		{},
		{"Status", "Count"},
	}
	for _, st := range statusOrder {
		rows = append(rows, []interface{}{string(st), summary.ByStatus[st]})
	}
	rows = append(rows, []interface{}{}, []interface{}{"Urgency", "Count"})
	for _, u := range urgencyOrder {
		rows = append(rows, []interface{}{string(u), summary.ByUrgency[u]})
	}
	if err := writeRows(f, sheetSummary, rows); err != nil {
		f.Close()
		return nil, err
	}
	for _, cell := range []string{"A6", "B6", fmt.Sprintf("A%d", 8+len(statusOrder)), fmt.Sprintf("B%d", 8+len(statusOrder))} {
		if err := f.SetCellStyle(sheetSummary, cell, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	detail := [][]interface{}{{"Status", "Urgency", "Count"}}
	for _, r := range summary.Rows {
		detail = append(detail, []interface{}{string(r.Status), string(r.Urgency), r.Count})
	}
	if err := writeRows(f, sheetDetail, detail); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetCellStyle(sheetDetail, "A1", "C1", header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(sheetSummary, "A", "B", 40); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	return f, nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+1, sheet, err)
		}
	}
	return nil
}
