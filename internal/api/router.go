package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/lineauth/internal/app"
	iauth "github.com/charlesng35/lineauth/internal/auth"
	"github.com/charlesng35/lineauth/internal/auth/line"
	"github.com/charlesng35/lineauth/internal/handlers"
	"github.com/charlesng35/lineauth/internal/middleware"
	"github.com/charlesng35/lineauth/internal/services"
)

// Dependencies carries the services the router mounts. Flow is nil when LINE login is disabled.
type Dependencies struct {
	Config    *app.Config
	DB        *gorm.DB
	JWT       *iauth.JWTService
	Sessions  *iauth.SessionStore
	Users     *services.UserService
	Links     *services.AccountLinkService
	Flow      *line.Flow
	RateStore middleware.RateStore
	Checks    map[string]handlers.Pinger
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store must be provided")
	}
	if deps.Users == nil || deps.Links == nil {
		return nil, fmt.Errorf("user and account link services must be provided")
	}

	cfg := deps.Config
	authCookie := cfg.Auth.AuthCookie()

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Tracing())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(cfg.Server.HSTS))
	if cfg.Server.CSRF.Enabled {
		r.Use(middleware.CSRF())
	}

	registerHealthRoutes(r, deps)

	browser := r.Group("")
	browser.Use(middleware.Session(deps.Sessions, cfg.Auth.SessionCookie()))
	browser.Use(middleware.CurrentUser(deps.JWT, authCookie, deps.Users))

	registerLineRoutes(browser, deps, authCookie)
	registerAccountRoutes(browser, deps, authCookie)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerHealthRoutes(r *gin.Engine, deps Dependencies) {
	checks := deps.Checks
	if checks == nil {
		checks = map[string]handlers.Pinger{}
	}
	if _, ok := checks["database"]; !ok {
		db := deps.DB
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}

	health := handlers.Health(checks)
	r.GET("/health", health)
	r.GET("/api/health", health)
}
