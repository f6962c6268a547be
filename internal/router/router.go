package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/internal/middleware"
)

const apiPrefix = "/api/v1"

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	RequestTimeout time.Duration
	MaxBodySize    int64
	RateLimit      config.RateLimitConfig
	Security       config.SecurityConfig
	Release        bool
}

type Router struct {
	engine      *gin.Engine
	auth        *middleware.AuthMiddleware
	rateLimiter *middleware.RateLimiter
	rateLimited bool
	health      Handler
	handlers    []Handler
}

// NewRouter installs the global middleware chain. Protected handlers are
// mounted under /api/v1 behind authentication and rate limiting; health is
// mounted without either.
func NewRouter(auth *middleware.AuthMiddleware, metrics *middleware.HTTPMetrics, health Handler, handlers []Handler, cfg RouterConfig) *Router {
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = middleware.DefaultMaxBodySize
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	chain := []gin.HandlerFunc{
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
	}
	if metrics != nil {
		chain = append(chain, metrics.Middleware())
	}
	chain = append(chain,
		middleware.SecurityHeaders(middleware.NewSecurityConfig(cfg.Security)),
		middleware.CORS(middleware.NewCORSConfig(cfg.Security.AllowedOrigins)),
		middleware.SizeLimit(cfg.MaxBodySize),
		middleware.Timeout(cfg.RequestTimeout),
	)
	engine.Use(chain...)

	return &Router{
		engine:      engine,
		auth:        auth,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimit),
		rateLimited: cfg.RateLimit.Enabled,
		health:      health,
		handlers:    handlers,
	}
}

func (r *Router) Setup() {
	api := r.engine.Group(apiPrefix)

	if r.health != nil {
		r.health.RegisterRoutes(api)
	}

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	if r.rateLimited {
		protected.Use(r.rateLimiter.RateLimit())
	}
	for _, h := range r.handlers {
		h.RegisterRoutes(protected)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
