// Package scheduler runs the bot's periodic maintenance jobs.
// Uses robfig/cron for cron expression parsing and execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds scheduler configuration. Empty schedules disable the
// corresponding built-in job.
type Config struct {
	// Enabled turns the scheduler on.
	Enabled bool `yaml:"enabled"`

	// JobTimeout bounds one job execution.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// OptimizeSchedule runs state store maintenance (ANALYZE / WAL checkpoint).
	OptimizeSchedule string `yaml:"optimize_schedule"`

	// StatsSchedule logs dispatch counters.
	StatsSchedule string `yaml:"stats_schedule"`

	// HealthSchedule pings the state store and the connection.
	HealthSchedule string `yaml:"health_schedule"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		JobTimeout:       2 * time.Minute,
		OptimizeSchedule: "@daily",
		StatsSchedule:    "@every 15m",
		HealthSchedule:   "@every 5m",
	}
}

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Job is a registered maintenance job.
type Job struct {
	// Name is the unique job identifier.
	Name string

	// Schedule is the cron expression or shorthand
	// (5-field cron, @daily, @hourly, @every 5m).
	Schedule string

	run JobFunc

	lastRunAt       time.Time
	lastRunDuration time.Duration
	lastError       string
	runCount        int
}

// JobInfo is a point-in-time view of a job.
type JobInfo struct {
	Name            string
	Schedule        string
	LastRunAt       time.Time
	LastRunDuration time.Duration
	LastError       string
	RunCount        int
	Next            time.Time
}

var (
	// ErrInvalidJob is returned for an empty name or nil body.
	ErrInvalidJob = fmt.Errorf("scheduler: job needs a name and a body")

	// ErrJobExists is returned when a job name is already registered.
	ErrJobExists = fmt.Errorf("scheduler: job already exists")

	// ErrJobNotFound is returned when a job name is unknown.
	ErrJobNotFound = fmt.Errorf("scheduler: job not found")

	// ErrJobRunning is returned when a job is already executing.
	ErrJobRunning = fmt.Errorf("scheduler: job already running")
)

// minJobInterval is the minimum time between consecutive cron fires of the
// same job. Guards against cron firing twice within the same second.
const minJobInterval = 2 * time.Second

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler manages maintenance jobs using cron expressions.
type Scheduler struct {
	cfg Config

	// jobs stores registered jobs indexed by name.
	jobs map[string]*Job

	// cron is the real cron scheduler from robfig/cron.
	cron *cron.Cron

	// cronIDs maps job names to their cron entry IDs for removal.
	cronIDs map[string]cron.EntryID

	// runningJobs tracks which jobs are currently executing.
	runningJobs map[string]bool

	logger  *slog.Logger
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a scheduler. Jobs may be added before or after Start.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:         cfg,
		jobs:        make(map[string]*Job),
		cron:        cron.New(cron.WithParser(parser)),
		cronIDs:     make(map[string]cron.EntryID),
		runningJobs: make(map[string]bool),
		logger:      logger.With("component", "scheduler"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ValidateSchedule reports whether schedule is a valid cron expression.
func ValidateSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return fmt.Errorf("scheduler: empty schedule")
	}
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// Add registers a job. An empty schedule is a no-op so disabled built-ins
// can be passed straight from config.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return ErrInvalidJob
	}
	if strings.TrimSpace(schedule) == "" {
		s.logger.Debug("job disabled", "name", name)
		return nil
	}
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}

	job := &Job{Name: name, Schedule: schedule, run: fn}
	entryID, err := s.cron.AddFunc(schedule, func() { s.fire(job) })
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", name, err)
	}
	s.jobs[name] = job
	s.cronIDs[name] = entryID

	s.logger.Info("job added", "name", name, "schedule", schedule)
	return nil
}

// Remove unregisters a job. A run in progress is not interrupted.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return false
	}
	if entryID, ok := s.cronIDs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, name)
	}
	delete(s.jobs, name)
	s.logger.Info("job removed", "name", name)
	return true
}

// List returns all registered jobs ordered by name.
func (s *Scheduler) List() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, job := range s.jobs {
		info := JobInfo{
			Name:            job.Name,
			Schedule:        job.Schedule,
			LastRunAt:       job.lastRunAt,
			LastRunDuration: job.lastRunDuration,
			LastError:       job.lastError,
			RunCount:        job.runCount,
		}
		if entryID, ok := s.cronIDs[name]; ok && s.started {
			info.Next = s.cron.Entry(entryID).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins firing jobs. Jobs stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	count := len(s.jobs)
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", count)
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cancel()

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("timeout waiting for running jobs to finish")
	}
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job immediately and returns its error.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.executeJob(job)
}

// fire is the cron entry point.
func (s *Scheduler) fire(job *Job) {
	s.mu.RLock()
	last := job.lastRunAt
	s.mu.RUnlock()
	if !last.IsZero() && time.Since(last) < minJobInterval {
		s.logger.Debug("skipping job (ran too recently)", "name", job.Name, "elapsed", time.Since(last).String())
		return
	}
	if err := s.executeJob(job); err != nil && err != ErrJobRunning {
		s.logger.Error("scheduled job failed", "name", job.Name, "error", err)
	}
}

// executeJob runs a job with an overlap guard, panic recovery and a timeout.
func (s *Scheduler) executeJob(job *Job) (err error) {
	s.mu.Lock()
	if s.runningJobs[job.Name] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "name", job.Name)
		return ErrJobRunning
	}
	s.runningJobs[job.Name] = true
	job.lastRunAt = time.Now()
	job.runCount++
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("scheduled job panicked", "name", job.Name, "panic", r)
		}

		s.mu.Lock()
		delete(s.runningJobs, job.Name)
		job.lastRunDuration = time.Since(start)
		if err != nil {
			job.lastError = err.Error()
		} else {
			job.lastError = ""
		}
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	s.logger.Debug("executing job", "name", job.Name)
	if err = job.run(ctx); err != nil {
		return err
	}
	s.logger.Debug("job completed", "name", job.Name, "duration", time.Since(start))
	return nil
}
