package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func router(checks map[string]Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	prometheus.WrapRegistererWithPrefix("test_", reg).MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"}))
	r := gin.New()
	NewHandler(checks, reg).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReadiness(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return fmt.Errorf("connection refused") })

	r := router(map[string]Pinger{"postgres": ok, "redis": ok})
	assert.Equal(t, http.StatusOK, get(r, "/api/v1/health/ready").Code)
	assert.Equal(t, http.StatusOK, get(r, "/api/v1/health/live").Code)

	r = router(map[string]Pinger{"postgres": ok, "redis": down})
	w := get(r, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
	assert.NotContains(t, w.Body.String(), "postgres")
}

func TestMetricsEndpoint(t *testing.T) {
	w := get(router(nil), "/api/v1/health/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_probe_total")
}
