package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/lineauth/internal/api"
	"github.com/charlesng35/lineauth/internal/app"
	"github.com/charlesng35/lineauth/internal/app/maintenance"
	iauth "github.com/charlesng35/lineauth/internal/auth"
	"github.com/charlesng35/lineauth/internal/auth/line"
	"github.com/charlesng35/lineauth/internal/cache"
	"github.com/charlesng35/lineauth/internal/database"
	"github.com/charlesng35/lineauth/internal/handlers"
	"github.com/charlesng35/lineauth/internal/middleware"
	"github.com/charlesng35/lineauth/internal/services"
	"github.com/charlesng35/lineauth/internal/telemetry"
	"github.com/charlesng35/lineauth/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *cache.RedisStore
	Telemetry *telemetry.Provider
	Flow      *line.Flow
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.Telemetry, err = telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Monitoring.Tracing.Enabled,
		Endpoint:    cfg.Monitoring.Tracing.Endpoint,
		Insecure:    cfg.Monitoring.Tracing.Insecure,
		ServiceName: cfg.Monitoring.Tracing.ServiceName,
		SampleRatio: cfg.Monitoring.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("initialise telemetry: %w", err)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	checks := map[string]handlers.Pinger{}

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed sessions", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
			checks["redis"] = stack.Redis.Ping
		}
	}

	var sessionBackend cache.Store = dbStore
	stack.RateStore = middleware.NewMemoryRateStore()
	if stack.Redis != nil {
		sessionBackend = stack.Redis
		stack.RateStore = middleware.NewSharedRateStore(stack.Redis)
	}

	sessions, err := iauth.NewSessionStore(sessionBackend, cfg.Auth.SessionTTL())
	if err != nil {
		return nil, fmt.Errorf("initialise session store: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	users, err := services.NewUserService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	links, err := services.NewAccountLinkService(stack.DB, services.WithRegistrationDefault(cfg.Auth.Registration.Enabled))
	if err != nil {
		return nil, fmt.Errorf("initialise account link service: %w", err)
	}

	stack.Flow, err = buildLineFlow(ctx, cfg, links, stack.Telemetry)
	if err != nil {
		return nil, err
	}

	stack.Cleaner = maintenance.NewCleaner(
		maintenance.WithPurger("cache_entries", dbStore),
		maintenance.WithSchedule(cfg.Cache.PurgeSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:    cfg,
		DB:        stack.DB,
		JWT:       jwtSvc,
		Sessions:  sessions,
		Users:     users,
		Links:     links,
		Flow:      stack.Flow,
		RateStore: stack.RateStore,
		Checks:    checks,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildLineFlow returns nil when LINE login is switched off.
func buildLineFlow(ctx context.Context, cfg *app.Config, resolver line.AccountResolver, tp *telemetry.Provider) (*line.Flow, error) {
	if !cfg.Line.Enabled {
		return nil, nil
	}

	flow, err := line.New(ctx, cfg.FlowConfig(), resolver, lineHooks(logger.WithModule("line")),
		line.WithTracer(tp.Tracer()),
		line.WithLogger(logger.WithModule("line")),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise line flow: %w", err)
	}
	return flow, nil
}

func lineHooks(log *zap.Logger) line.Hooks {
	return line.Hooks{
		OnConnect: func(_ context.Context, userID string, _ line.IDTokenClaims, created bool) {
			log.Info("line account connected", zap.String("user_id", userID), zap.Bool("created", created))
		},
		OnExtraAction: func(_ context.Context, action string, _ string) {
			log.Warn("unsupported line action", zap.String("action", action))
		},
	}
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.Telemetry != nil {
		if err := s.Telemetry.Shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db, database.Seed{RegistrationOpen: cfg.Auth.Registration.Enabled}); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected",
		zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))),
		zap.String("registration_default", strconv.FormatBool(cfg.Auth.Registration.Enabled)),
	)

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
