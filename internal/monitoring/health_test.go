package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hearth/internal/monitoring"
)

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.Register(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.Register(monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))
	manager.Register(monitoring.Check{})

	report := manager.Evaluate(context.Background())
	require.False(t, report.Healthy())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
	require.Equal(t, "redis", report.Checks[1].Component)
	require.Equal(t, []string{"database", "redis"}, manager.Names())
}

func TestHealthManagerDegradedIsHealthy(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.Register(monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDegraded}
	}))

	report := manager.Evaluate(context.Background())
	require.True(t, report.Healthy())
	require.Equal(t, monitoring.StatusDegraded, report.Status)
}

func TestHealthManagerRecoversPanics(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.Register(monitoring.NewCheck("broken", func(ctx context.Context) monitoring.ProbeResult {
		panic("probe exploded")
	}))
	manager.Register(monitoring.NewCheck("empty", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{}
	}))
	manager.Register(monitoring.NewCheck("missing", nil))

	report := manager.Evaluate(context.Background())
	require.Len(t, report.Checks, 3)
	require.Equal(t, "probe exploded", report.Checks[0].Details)
	for _, check := range report.Checks {
		require.Equal(t, monitoring.StatusDown, check.Status)
	}
}

func TestNilHealthManager(t *testing.T) {
	var manager *monitoring.HealthManager
	manager.Register(monitoring.NewCheck("x", nil))
	report := manager.Evaluate(context.Background())
	require.True(t, report.Healthy())
	require.Empty(t, report.Checks)
}

func TestResultFromError(t *testing.T) {
	require.Equal(t, monitoring.StatusUp, monitoring.ResultFromError("db", nil, time.Millisecond).Status)
	require.Equal(t, monitoring.StatusDown, monitoring.ResultFromError("db", errors.New("refused"), 0).Status)

	timeout := monitoring.ResultFromError("db", context.DeadlineExceeded, -time.Second)
	require.Equal(t, monitoring.StatusDegraded, timeout.Status)
	require.Zero(t, timeout.Duration)
}
