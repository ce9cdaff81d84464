package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/hearth/internal/api"
	"github.com/charlesng35/hearth/internal/app"
	"github.com/charlesng35/hearth/internal/app/maintenance"
	"github.com/charlesng35/hearth/internal/database"
	"github.com/charlesng35/hearth/internal/middleware"
	"github.com/charlesng35/hearth/internal/monitoring/checks"
	"github.com/charlesng35/hearth/pkg/logger"
	"github.com/charlesng35/hearth/pkg/mail"
)

const (
	defaultRedisTimeout = 5 * time.Second
	rateLimitPruneEvery = "@every 5m"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Services  *app.Services
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime opens the database, resolves runtime secrets and wires
// services, background jobs and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	generated, err := app.ApplyRuntimeDefaults(ctx, cfg, stack.DB)
	if err != nil {
		return nil, fmt.Errorf("resolve runtime secrets: %w", err)
	}
	keys := make([]string, 0, len(generated))
	for key := range generated {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		log.Info("generated runtime secret", zap.String("key", key))
	}

	var mailer mail.Mailer
	if cfg.Email.SMTP.Enabled {
		if mailer, err = mail.NewSMTPMailer(cfg.Email.SMTPSettings()); err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
	} else {
		log.Warn("smtp disabled; verification and reset emails will not be delivered")
	}

	stack.Services, err = app.NewServices(cfg, stack.DB, mailer)
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}

	cleanerOpts := []maintenance.Option{
		maintenance.WithTokenSchedule(cfg.Maintenance.TokenSweepSchedule),
	}

	if cfg.Cache.Redis.Enabled {
		client, redisErr := connectRedis(ctx, cfg.Cache.Redis)
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to in-memory rate limiting", zap.Error(redisErr))
		} else {
			stack.Redis = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	if stack.Redis != nil {
		stack.RateStore, err = middleware.NewRedisRateStore(stack.Redis)
		if err != nil {
			return nil, fmt.Errorf("initialise rate store: %w", err)
		}
	} else {
		memory := middleware.NewMemoryRateStore()
		stack.RateStore = memory
		cleanerOpts = append(cleanerOpts, maintenance.WithJob(pruneRateStoreJob(memory)))
	}

	stack.Cleaner = maintenance.NewCleaner(stack.Services.Store, cleanerOpts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	if cfg.Cache.Redis.Enabled {
		var client redis.UniversalClient
		if stack.Redis != nil {
			client = stack.Redis
		}
		stack.Services.Health.Register(checks.Redis(client, cfg.Cache.Redis.Timeout))
	}
	stack.Services.Health.Register(checks.Maintenance(stack.Cleaner, 0, nil))

	stack.Router, err = api.NewRouter(cfg, stack.Services, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
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
		s.Cleaner = nil
	}

	if s.Services != nil {
		s.Services.Dispatcher.Wait()
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
		s.Redis = nil
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
		s.DB = nil
	}
}

func pruneRateStoreJob(store *middleware.MemoryRateStore) maintenance.Job {
	return maintenance.Job{
		Name:     "rate_limit_prune",
		Schedule: rateLimitPruneEvery,
		Run: func(ctx context.Context) error {
			if dropped := store.Prune(ctx); dropped > 0 {
				logger.WithModule("maintenance").Debug("pruned rate limit counters", zap.Int("count", dropped))
			}
			return nil
		},
	}
}

func redisOptions(cfg app.RedisCacheConfig) *redis.Options {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	opts := &redis.Options{
		Addr:         strings.TrimSpace(cfg.Address),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

func connectRedis(ctx context.Context, cfg app.RedisCacheConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("cache.redis.address is empty")
	}
	opts := redisOptions(cfg)
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, err
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver:       strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:         strings.TrimSpace(cfg.Database.Path),
		DSN:          strings.TrimSpace(cfg.Database.DSN),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}

	var auth *app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite", "sqlite3":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		auth = &cfg.Database.Postgres
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		auth = &cfg.Database.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	if auth != nil {
		dbCfg.Host = strings.TrimSpace(auth.Host)
		dbCfg.Port = auth.Port
		dbCfg.Name = strings.TrimSpace(auth.Database)
		dbCfg.User = strings.TrimSpace(auth.Username)
		dbCfg.Password = auth.Password
		dbCfg.Options = auth.Options
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
