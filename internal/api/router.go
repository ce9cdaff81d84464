package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/hearth/internal/app"
	"github.com/charlesng35/hearth/internal/handlers"
	"github.com/charlesng35/hearth/internal/middleware"
)

// NewRouter builds the Gin engine, wires middleware and registers every route.
// rateStore may be nil, which disables rate limiting of the public auth routes.
func NewRouter(cfg *app.Config, svc *app.Services, rateStore middleware.RateStore) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svc == nil || svc.Accounts == nil || svc.JWT == nil {
		return nil, fmt.Errorf("services must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	r.GET("/health", handlers.Ready(svc.Health))
	r.GET("/health/live", handlers.Live)

	prom := cfg.Monitoring.Prometheus
	if prom.Enabled {
		endpoint := prom.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	limit := middleware.RateLimit(rateStore, cfg.Auth.RateLimit.Requests, cfg.Auth.RateLimit.Window)
	requireAuth := middleware.Auth(svc.JWT)

	registerAuthRoutes(r, authRouteDeps{
		Auth:        handlers.NewAuthHandler(svc.Accounts, svc.Refresh),
		TwoFactor:   handlers.NewTwoFactorHandler(svc.Store, svc.TOTP),
		RateLimit:   limit,
		RequireAuth: requireAuth,
	})
	registerAccountRoutes(r, handlers.NewAccountHandler(svc.Store, svc.Accounts), requireAuth)
	registerAdminRoutes(r, handlers.NewAdminHandler(svc.Accounts), requireAuth)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
