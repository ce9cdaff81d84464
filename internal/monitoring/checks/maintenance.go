package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/hearth/internal/app/maintenance"
	"github.com/charlesng35/hearth/internal/monitoring"
)

const defaultMaintenanceMaxAge = 6 * time.Hour

// JobStatusSource exposes background job history.
type JobStatusSource interface {
	Statuses() []maintenance.JobStatus
}

// Maintenance reports down while any job keeps failing and degraded when a
// job has not run within maxAge (default 6h).
func Maintenance(source JobStatusSource, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		if source == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no maintenance jobs registered"}
		}

		status := monitoring.StatusUp
		var problems []string
		current := now()
		for _, job := range source.Statuses() {
			if job.ConsecutiveFailures > 0 {
				status = monitoring.StatusDown
				problems = append(problems, job.Name+": "+job.LastError)
				continue
			}
			if current.Sub(job.LastRunAt) > maxAge {
				if status != monitoring.StatusDown {
					status = monitoring.StatusDegraded
				}
				problems = append(problems, job.Name+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}
