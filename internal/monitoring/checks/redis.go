package checks

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/charlesng35/hearth/internal/monitoring"
)

const defaultRedisTimeout = 2 * time.Second

// Redis probes the shared rate limit store. A nil client means redis was
// configured but unreachable at startup, so limits are per-process and the
// component reports degraded.
func Redis(client redis.UniversalClient, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "redis unavailable; rate limits are per-process"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultRedisTimeout))
		defer cancel()
		return monitoring.ResultFromError("redis", client.Ping(probeCtx).Err(), time.Since(start))
	})
}
