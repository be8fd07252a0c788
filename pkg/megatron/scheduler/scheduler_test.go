package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(DefaultConfig(), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	t.Cleanup(s.Stop)
	return s
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		schedule string
		valid    bool
	}{
		{"@daily", true},
		{"@every 5m", true},
		{"0 3 * * *", true},
		{"*/15 * * * *", true},
		{"", false},
		{"every day", false},
		{"0 3 * *", false},
		{"61 * * * *", false},
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateSchedule(%q) error = %v, want valid=%v", tt.schedule, err, tt.valid)
			}
		})
	}
}

func TestAddAndRemove(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }

	if err := s.Add("b", "@hourly", noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("a", "@daily", noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("a", "@daily", noop); !errors.Is(err, ErrJobExists) {
		t.Errorf("duplicate Add error = %v, want ErrJobExists", err)
	}
	if err := s.Add("", "@daily", noop); !errors.Is(err, ErrInvalidJob) {
		t.Errorf("empty name error = %v, want ErrInvalidJob", err)
	}
	if err := s.Add("c", "bogus", noop); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := s.Add("disabled", "", noop); err != nil {
		t.Errorf("empty schedule should be a no-op, got %v", err)
	}

	jobs := s.List()
	if len(jobs) != 2 || jobs[0].Name != "a" || jobs[1].Name != "b" {
		t.Fatalf("List = %+v, want [a b]", jobs)
	}

	if !s.Remove("a") {
		t.Error("Remove(a) = false")
	}
	if s.Remove("a") {
		t.Error("second Remove(a) = true")
	}
	if len(s.List()) != 1 {
		t.Errorf("List after remove = %d jobs, want 1", len(s.List()))
	}
}

func TestRunNowRecordsResult(t *testing.T) {
	s := newTestScheduler(t)
	fail := true
	err := s.Add("job", "@daily", func(context.Context) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.RunNow("job"); err == nil {
		t.Fatal("expected error from failing job")
	}
	info := s.List()[0]
	if info.RunCount != 1 || info.LastError != "boom" || info.LastRunAt.IsZero() {
		t.Errorf("after failure: %+v", info)
	}

	fail = false
	if err := s.RunNow("job"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	info = s.List()[0]
	if info.RunCount != 2 || info.LastError != "" {
		t.Errorf("after success: %+v", info)
	}

	if err := s.RunNow("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunNow(missing) = %v, want ErrJobNotFound", err)
	}
}

func TestRunNowRecoversPanic(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Add("panics", "@daily", func(context.Context) error { panic("bad job") }); err != nil {
		t.Fatalf("Add: %v", err)
	}

	err := s.RunNow("panics")
	if err == nil {
		t.Fatal("expected error from panicking job")
	}
	if got := s.List()[0].LastError; got != "panic: bad job" {
		t.Errorf("LastError = %q", got)
	}
	// The running flag must be released after a panic.
	if err := s.RunNow("panics"); errors.Is(err, ErrJobRunning) {
		t.Error("job still marked running after panic")
	}
}

func TestRunNowSkipsOverlap(t *testing.T) {
	s := newTestScheduler(t)
	started := make(chan struct{})
	release := make(chan struct{})
	err := s.Add("slow", "@daily", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunNow("slow") }()
	<-started

	if err := s.RunNow("slow"); !errors.Is(err, ErrJobRunning) {
		t.Errorf("overlapping RunNow = %v, want ErrJobRunning", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("first run: %v", err)
	}
}

func TestJobTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	s := New(cfg, nil)
	t.Cleanup(s.Stop)

	err := s.Add("hang", "@daily", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.RunNow("hang"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunNow = %v, want deadline exceeded", err)
	}
}

func TestStartFiresJobs(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	if err := s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	if next := s.List()[0].Next; next.IsZero() {
		t.Error("expected next run time after Start")
	}

	deadline := time.After(5 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestRegisterMaintenance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StatsSchedule = ""
	s := New(cfg, nil)
	t.Cleanup(s.Stop)

	var optimized, healthy atomic.Int32
	err := s.RegisterMaintenance(Maintenance{
		Optimize: func(context.Context) error { optimized.Add(1); return nil },
		Stats:    func(context.Context) error { return nil },
		Health: []JobFunc{
			func(context.Context) error { return errors.New("store down") },
			func(context.Context) error { healthy.Add(1); return nil },
		},
	})
	if err != nil {
		t.Fatalf("RegisterMaintenance: %v", err)
	}

	names := map[string]bool{}
	for _, j := range s.List() {
		names[j.Name] = true
	}
	if !names[JobOptimize] || !names[JobHealth] || names[JobStats] {
		t.Fatalf("registered jobs = %v", names)
	}

	if err := s.RunNow(JobOptimize); err != nil || optimized.Load() != 1 {
		t.Errorf("optimize: err=%v runs=%d", err, optimized.Load())
	}
	if err := s.RunNow(JobHealth); err == nil {
		t.Error("expected health error")
	}
	if healthy.Load() != 1 {
		t.Error("second health check should still run after the first fails")
	}
}
