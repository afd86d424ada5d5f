package server

import (
	"github.com/gin-gonic/gin"

	"chart-analysis-backend/internal/shared/config"
	"chart-analysis-backend/internal/shared/metrics"
	"chart-analysis-backend/internal/shared/server/middleware"
)

// RouteRegistrar attaches a feature's routes.
type RouteRegistrar interface {
	RegisterRoutes(r gin.IRoutes)
}

// RouterDeps are the feature handlers mounted on the router.
type RouterDeps struct {
	Config   config.Config
	Health   RouteRegistrar
	Pipeline RouteRegistrar
	// Limiter is shared across requests; nil creates one.
	Limiter *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			GroupFor: middleware.TriggerGroupFor,
			Limiter:  deps.Limiter,
			Rules:    triggerRules(deps.Config),
		}),
	)

	r.GET("/metrics", metrics.Handler())
	if deps.Health != nil {
		deps.Health.RegisterRoutes(r)
	}
	if deps.Pipeline != nil {
		deps.Pipeline.RegisterRoutes(r)
	}
	return r
}

// triggerRules disables limiting when the configured rate is not positive.
func triggerRules(cfg config.Config) map[string]middleware.RateLimitRule {
	if cfg.TriggerRatePerMinute <= 0 {
		return nil
	}
	burst := cfg.TriggerBurst
	if burst <= 0 {
		burst = 1
	}
	return map[string]middleware.RateLimitRule{
		middleware.TriggerGroup: middleware.PerMinute(cfg.TriggerRatePerMinute, burst),
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
