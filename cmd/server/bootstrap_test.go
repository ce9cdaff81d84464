package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/hearth/internal/app"
	"github.com/charlesng35/hearth/internal/database"
	"github.com/charlesng35/hearth/internal/middleware"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "hearth.sqlite")
	cfg.Auth.Hashing = app.HashingSettings{Time: 1, MemoryKiB: 64, Threads: 1}
	return cfg
}

func TestBootstrapRuntime_MemoryRateStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis = app.RedisCacheConfig{Enabled: true, Address: "127.0.0.1:1", Timeout: 200 * time.Millisecond}

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.Nil(t, stack.Redis)
	require.IsType(t, &middleware.MemoryRateStore{}, stack.RateStore)

	names := make([]string, 0)
	for _, job := range stack.Cleaner.Jobs() {
		names = append(names, job.Name)
	}
	require.Equal(t, []string{"token_sweep", "rate_limit_prune"}, names)
	require.Equal(t, []string{"database", "redis", "maintenance"}, stack.Services.Health.Names())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	value, err := database.GetSetting(context.Background(), stack.DB, database.JWTSecretSetting)
	require.NoError(t, err)
	require.Equal(t, cfg.Auth.JWT.Secret, value)
}

func TestBootstrapRuntime_RedisRateStore(t *testing.T) {
	server := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Cache.Redis = app.RedisCacheConfig{Enabled: true, Address: server.Addr(), DB: 0}

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.Redis)
	require.IsType(t, &middleware.RedisRateStore{}, stack.RateStore)
	require.Len(t, stack.Cleaner.Jobs(), 1)
}

func TestBootstrapRuntime_SecretsSurviveRestart(t *testing.T) {
	cfg := testConfig(t)

	first, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	secret := cfg.Auth.JWT.Secret
	require.NotEmpty(t, secret)
	first.Shutdown(context.Background(), zap.NewNop())

	restarted := testConfig(t)
	restarted.Database.Path = cfg.Database.Path
	second, err := bootstrapRuntime(context.Background(), restarted, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { second.Shutdown(context.Background(), zap.NewNop()) })

	require.Equal(t, secret, restarted.Auth.JWT.Secret)
	require.Equal(t, cfg.Auth.Tokens.PrefixSecret, restarted.Auth.Tokens.PrefixSecret)
}

func TestBootstrapRuntime_InvalidDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = " PostgreSQL "
	cfg.Database.MaxOpenConns = 12
	cfg.Database.Postgres = app.DBAuthConfig{
		Host:     " db.internal ",
		Port:     5433,
		Database: "hearth",
		Username: "svc",
		Password: " spaced ",
		Options:  map[string]string{"sslmode": "require"},
	}

	got := convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", got.Driver)
	require.Equal(t, "db.internal", got.Host)
	require.Equal(t, 5433, got.Port)
	require.Equal(t, "hearth", got.Name)
	require.Equal(t, " spaced ", got.Password)
	require.Equal(t, "require", got.Options["sslmode"])
	require.Equal(t, 12, got.MaxOpenConns)

	cfg.Database.Driver = ""
	require.Equal(t, "sqlite", convertDatabaseConfig(cfg).Driver)

	cfg.Database.Driver = "mariadb"
	cfg.Database.MySQL = app.DBAuthConfig{Host: "mysql.internal", Port: 3306}
	mysqlCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "mysql", mysqlCfg.Driver)
	require.Equal(t, "mysql.internal", mysqlCfg.Host)
}

func TestRedisOptions(t *testing.T) {
	opts := redisOptions(app.RedisCacheConfig{Address: " cache:6379 ", DB: 3, TLS: true})
	require.Equal(t, "cache:6379", opts.Addr)
	require.Equal(t, 3, opts.DB)
	require.Equal(t, defaultRedisTimeout, opts.DialTimeout)
	require.NotNil(t, opts.TLSConfig)

	opts = redisOptions(app.RedisCacheConfig{Address: "cache:6379", Timeout: time.Second})
	require.Nil(t, opts.TLSConfig)
	require.Equal(t, time.Second, opts.ReadTimeout)
}

func TestLoadApplicationConfig_MissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
