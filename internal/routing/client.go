// Package routing is the client for the external route estimation provider.
package routing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/circuitbreaker"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

// Estimate is the provider's answer for one origin/destination pair.
type Estimate struct {
	DistanceKM  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
}

type Estimator interface {
	EstimateRoute(ctx context.Context, origin, destination model.GeoPoint) (*Estimate, error)
}

type routeRequest struct {
	Origin      point `json:"origin"`
	Destination point `json:"destination"`
}

type point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type routeResponse struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type Client struct {
	http    *resty.Client
	cb      *circuitbreaker.CircuitBreaker
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewClient(cfg config.RoutingConfig, m *metrics.Metrics, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
	}

	log := logger.With().Str("component", "routing").Logger()
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:                "routing-provider",
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             openTimeout,
		ConsecutiveFailures: cfg.FailureThreshold,
		OnStateChange: func(name, from, to string) {
			log.Warn().Str("breaker", name).Str("from", from).Str("to", to).Msg("Routing breaker state changed")
		},
	})

	return &Client{
		http:    httpClient,
		cb:      cb,
		cache:   cache.New(ttl, 2*ttl),
		metrics: m,
		logger:  log,
	}
}

// EstimateRoute returns distance and duration from the provider, serving repeated
// lookups for the same rounded coordinates from a short-lived cache.
func (c *Client) EstimateRoute(ctx context.Context, origin, destination model.GeoPoint) (*Estimate, error) {
	key := cacheKey(origin, destination)
	if v, ok := c.cache.Get(key); ok {
		est := v.(Estimate)
		return &est, nil
	}

	start := time.Now()
	var est Estimate
	err := c.cb.Execute(func() error {
		var out routeResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(routeRequest{
				Origin:      point{Lat: origin.Latitude, Lng: origin.Longitude},
				Destination: point{Lat: destination.Latitude, Lng: destination.Longitude},
			}).
			SetResult(&out).
			Post("/v1/route")
		if err != nil {
			return fmt.Errorf("failed to call routing provider: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("routing provider returned %d", resp.StatusCode())
		}
		est = Estimate{
			DistanceKM:  out.DistanceMeters / 1000,
			DurationMin: out.DurationSeconds / 60,
		}
		return nil
	})
	c.observe(start, err)
	if err != nil {
		return nil, errors.Dependency("routing provider", err)
	}

	c.cache.SetDefault(key, est)
	return &est, nil
}

func (c *Client) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	result := "success"
	if err == circuitbreaker.ErrOpen {
		result = "open"
	} else if err != nil {
		result = "error"
	}
	c.metrics.RoutingLatency.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// Coordinates are rounded to ~10m so a crew reporting every few seconds hits the cache.
func cacheKey(origin, destination model.GeoPoint) string {
	return fmt.Sprintf("%.4f,%.4f>%.4f,%.4f", origin.Latitude, origin.Longitude, destination.Latitude, destination.Longitude)
}
