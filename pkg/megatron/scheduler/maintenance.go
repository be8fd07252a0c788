package scheduler

import (
	"context"
	"errors"
)

// Built-in job names.
const (
	JobOptimize = "state-optimize"
	JobStats    = "dispatch-stats"
	JobHealth   = "health-check"
)

// Maintenance wires the built-in jobs to the running bot. Nil hooks skip
// the corresponding job.
type Maintenance struct {
	// Optimize runs state store maintenance.
	Optimize JobFunc

	// Stats reports dispatch counters.
	Stats JobFunc

	// Health runs connectivity checks; all of them run even if one fails.
	Health []JobFunc
}

// RegisterMaintenance adds the built-in jobs using the schedules in cfg.
func (s *Scheduler) RegisterMaintenance(m Maintenance) error {
	if m.Optimize != nil {
		if err := s.Add(JobOptimize, s.cfg.OptimizeSchedule, m.Optimize); err != nil {
			return err
		}
	}
	if m.Stats != nil {
		if err := s.Add(JobStats, s.cfg.StatsSchedule, m.Stats); err != nil {
			return err
		}
	}
	if len(m.Health) > 0 {
		checks := m.Health
		health := func(ctx context.Context) error {
			var errs []error
			for _, check := range checks {
				if check == nil {
					continue
				}
				if err := check(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}
		if err := s.Add(JobHealth, s.cfg.HealthSchedule, health); err != nil {
			return err
		}
	}
	return nil
}
