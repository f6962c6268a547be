package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

// Sample is the JSON body published on ambulances/<id>/location.
type Sample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type AmbulanceReader interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Ambulance, error)
}

type PositionUpdater interface {
	UpdatePosition(ctx context.Context, caller authz.Caller, id uuid.UUID, pos *model.PositionUpdate) error
}

type LocationUpdater interface {
	UpdateLocation(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.LocationUpdateRequest) (*model.RouteProgress, error)
}

// Ingestor routes position samples: ambulances on an active dispatch update
// the dispatch's live progress, idle ones only their stored position.
type Ingestor struct {
	ambulances AmbulanceReader
	fleet      PositionUpdater
	dispatches LocationUpdater
	logger     *logger.Logger
}

func NewIngestor(ambulances AmbulanceReader, fleet PositionUpdater, dispatches LocationUpdater, logger *logger.Logger) *Ingestor {
	return &Ingestor{ambulances: ambulances, fleet: fleet, dispatches: dispatches, logger: logger}
}

// AmbulanceFromTopic extracts the id segment of ambulances/<id>/location.
func AmbulanceFromTopic(topic string) (uuid.UUID, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "ambulances" || parts[2] != "location" {
		return uuid.Nil, errors.Validation("unexpected telemetry topic %q", topic)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, errors.Validation("invalid ambulance id in topic %q", topic)
	}
	return id, nil
}

func (i *Ingestor) Handle(ctx context.Context, topic string, payload []byte) error {
	ambulanceID, err := AmbulanceFromTopic(topic)
	if err != nil {
		return err
	}
	var s Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		return errors.Validation("invalid telemetry payload: %v", err)
	}

	amb, err := i.ambulances.Get(ctx, ambulanceID)
	if err != nil {
		return fmt.Errorf("failed to load ambulance %s: %w", ambulanceID, err)
	}

	if amb.CurrentDispatchID != nil {
		_, err := i.dispatches.UpdateLocation(ctx, authz.System(), *amb.CurrentDispatchID, &model.LocationUpdateRequest{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Heading:   s.Heading,
			Speed:     s.Speed,
		})
		// the dispatch may have closed since the row was read
		if err == nil || !errors.Is(err, errors.ErrInvalidTransition) {
			return err
		}
		i.logger.Debug("Dispatch closed, storing idle position", "ambulance_id", ambulanceID.String())
	}

	return i.fleet.UpdatePosition(ctx, authz.System(), ambulanceID, &model.PositionUpdate{
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Heading:    s.Heading,
		Speed:      s.Speed,
		RecordedAt: s.RecordedAt,
	})
}
