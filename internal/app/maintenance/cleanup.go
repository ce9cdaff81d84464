package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/hearth/internal/credentials"
	"github.com/charlesng35/hearth/pkg/logger"
	"github.com/charlesng35/hearth/pkg/metrics"
)

const defaultTokenSpec = "@hourly"

// TokenSweeper clears pending token slots that have expired.
type TokenSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (credentials.SweepStats, error)
}

// Job is a named housekeeping routine run on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Cleaner coordinates background maintenance: sweeping expired tokens plus any
// extra jobs registered by the caller.
type Cleaner struct {
	tokens  TokenSweeper
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger
	timeout time.Duration

	tokenSchedule string
	extra         []Job

	mu     sync.Mutex
	status map[string]JobStatus
}

// JobStatus summarises the run history of one job.
type JobStatus struct {
	Name                string
	Runs                uint64
	ConsecutiveFailures uint64
	LastRunAt           time.Time
	LastError           string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithTokenSchedule overrides the cron specification for the token sweep.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithJobTimeout bounds each scheduled run.
func WithJobTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.timeout = d
		}
	}
}

// WithJob registers an additional routine.
func WithJob(job Job) Option {
	return func(cleaner *Cleaner) {
		if job.Run != nil && job.Schedule != "" {
			cleaner.extra = append(cleaner.extra, job)
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log *zap.Logger) Option {
	return func(cleaner *Cleaner) {
		if log != nil {
			cleaner.log = log
		}
	}
}

// NewCleaner constructs a Cleaner. A nil sweeper disables the token job.
func NewCleaner(tokens TokenSweeper, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		tokens:        tokens,
		now:           func() time.Time { return time.Now().UTC() },
		timeout:       time.Minute,
		tokenSchedule: defaultTokenSpec,
		log:           logger.WithModule("maintenance"),
		status:        make(map[string]JobStatus),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Jobs returns every routine the cleaner runs, token sweep first.
func (c *Cleaner) Jobs() []Job {
	var jobs []Job
	if c.tokens != nil {
		jobs = append(jobs, Job{Name: "token_sweep", Schedule: c.tokenSchedule, Run: c.sweepTokens})
	}
	return append(jobs, c.extra...)
}

// Start registers every job with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	jobs := c.Jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, job := range jobs {
		job := job
		if _, err := c.cron.AddFunc(job.Schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := c.run(ctx, job); err != nil {
				c.log.Warn("maintenance job failed", zap.String("job", job.Name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", job.Name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every job sequentially, collecting all failures.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, job := range c.Jobs() {
		if err := c.run(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errs
}

// Statuses reports every job that has run at least once, sorted by name.
func (c *Cleaner) Statuses() []JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]JobStatus, 0, len(c.status))
	for _, st := range c.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Cleaner) run(ctx context.Context, job Job) error {
	err := job.Run(ctx)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.MaintenanceRuns.WithLabelValues(job.Name, result).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status[job.Name]
	st.Name = job.Name
	st.Runs++
	st.LastRunAt = c.now()
	if err != nil {
		st.ConsecutiveFailures++
		st.LastError = err.Error()
	} else {
		st.ConsecutiveFailures = 0
		st.LastError = ""
	}
	c.status[job.Name] = st
	return err
}

func (c *Cleaner) sweepTokens(ctx context.Context) error {
	stats, err := SweepTokens(ctx, c.tokens, c.now())
	if err != nil {
		return err
	}
	if total := stats.Total(); total > 0 {
		c.log.Info("expired tokens swept", zap.Int64("cleared", total))
	}
	return nil
}

// SweepTokens clears expired pending tokens and records per-class counts.
func SweepTokens(ctx context.Context, sweeper TokenSweeper, now time.Time) (credentials.SweepStats, error) {
	if sweeper == nil {
		return nil, errors.New("sweep tokens: sweeper is required")
	}
	stats, err := sweeper.SweepExpired(ctx, now)
	for class, n := range stats {
		if n > 0 {
			metrics.SweptTokens.WithLabelValues(string(class)).Add(float64(n))
		}
	}
	if err != nil {
		return stats, fmt.Errorf("sweep tokens: %w", err)
	}
	return stats, nil
}
