// Package scheduler turns enabled reminder configs into daily checklist runs.
//
// Each tick evaluates every enabled config independently: resolve the
// config's zone and trigger against the tick instant, skip when not yet due
// or already handled for the local day, otherwise create (or find) the run
// and record the day as evaluated. Run creation is idempotent per
// (unit, template, day), so overlapping ticks or replicas are harmless.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetcheck/fleetcheck/internal/clock"
	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
	"github.com/fleetcheck/fleetcheck/internal/service/runs"
)

// RunCreator is the part of the run engine the scheduler drives.
type RunCreator interface {
	CreateScheduledRun(ctx context.Context, req runs.ScheduledRunRequest) (runs.CreateRunResult, error)
}

// ConfigStore is the reminder store surface the scheduler reads and advances.
type ConfigStore interface {
	ListEnabled(ctx context.Context) ([]domain.ReminderConfig, error)
	MarkEvaluated(ctx context.Context, id, dayKey string) error
}

type Outcome string

const (
	OutcomeNotDue           Outcome = "not_due"
	OutcomeAlreadyEvaluated Outcome = "already_evaluated"
	OutcomeCreated          Outcome = "created"
	OutcomeExisting         Outcome = "existing"
	OutcomeInvalidZone      Outcome = "invalid_zone"
	OutcomeFailed           Outcome = "failed"
)

// Result is the outcome of one config in one tick.
type Result struct {
	ReminderID string
	UnitID     string
	TemplateID string
	DayKey     string
	Outcome    Outcome
	RunID      string
	Err        error
}

type TickReport struct {
	At      time.Time
	Results []Result
}

// Count returns how many configs ended with outcome.
func (r TickReport) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

type Scheduler struct {
	cfg     Config
	runs    RunCreator
	configs ConfigStore
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg Config, creator RunCreator, configs ConfigStore, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if creator == nil {
		return nil, errors.New("run creator is required")
	}
	if configs == nil {
		return nil, errors.New("reminder config store is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cfg:     cfg,
		runs:    creator,
		configs: configs,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Run ticks until ctx is cancelled. The first tick happens immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("scheduler disabled")
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.tickAndLog(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	report, err := s.Tick(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
		return
	}
	s.logger.Info("scheduler tick",
		"configs", len(report.Results),
		"created", report.Count(OutcomeCreated),
		"existing", report.Count(OutcomeExisting),
		"failed", report.Count(OutcomeFailed),
		"invalid_zone", report.Count(OutcomeInvalidZone),
	)
}

// Tick evaluates every enabled config at now and waits for all of them. A
// failing config never aborts the others; only a failure to list configs is
// returned as an error.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	report := TickReport{At: now.UTC()}
	var configs []domain.ReminderConfig
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		configs, err = s.configs.ListEnabled(ctx)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("list reminder configs: %w", err)
	}

	results := make([]Result, len(configs))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, cfg := range configs {
		g.Go(func() error {
			results[i] = s.evaluate(ctx, cfg, now)
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	return report, nil
}

func (s *Scheduler) evaluate(ctx context.Context, cfg domain.ReminderConfig, now time.Time) Result {
	res := Result{ReminderID: cfg.ID, UnitID: cfg.UnitID, TemplateID: cfg.TemplateID}
	log := s.logger.With("reminder_id", cfg.ID, "unit_id", cfg.UnitID, "template_id", cfg.TemplateID)

	resolved, err := clock.Resolve(cfg.TimeZone, clock.Trigger{Hour: cfg.TriggerHour, Minute: cfg.TriggerMinute}, now)
	if err != nil {
		res.Err = err
		res.Outcome = OutcomeFailed
		if errors.Is(err, clock.ErrInvalidTimeZone) {
			res.Outcome = OutcomeInvalidZone
		}
		log.Warn("reminder config skipped", "time_zone", cfg.TimeZone, "error", err)
		return res
	}
	res.DayKey = resolved.DayKey

	if !resolved.Due {
		res.Outcome = OutcomeNotDue
		return res
	}
	if cfg.LastEvaluatedDay != "" && cfg.LastEvaluatedDay >= resolved.DayKey {
		res.Outcome = OutcomeAlreadyEvaluated
		return res
	}

	var created runs.CreateRunResult
	err = s.retry(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.runs.CreateScheduledRun(ctx, runs.ScheduledRunRequest{
			UnitID:     cfg.UnitID,
			TemplateID: cfg.TemplateID,
			DayKey:     resolved.DayKey,
			TimeZone:   cfg.TimeZone,
		})
		return err
	})
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		log.Error("scheduled run creation failed", "day_key", resolved.DayKey, "error", err)
		return res
	}
	res.RunID = created.Run.ID

	err = s.retry(ctx, func(ctx context.Context) error {
		return s.configs.MarkEvaluated(ctx, cfg.ID, resolved.DayKey)
	})
	if err != nil {
		// The run exists; the next tick finds it and tries to mark again.
		res.Outcome = OutcomeFailed
		res.Err = err
		log.Error("mark reminder evaluated failed", "day_key", resolved.DayKey, "run_id", res.RunID, "error", err)
		return res
	}

	res.Outcome = OutcomeExisting
	if created.Created {
		res.Outcome = OutcomeCreated
		log.Info("scheduled run created", "day_key", resolved.DayKey, "run_id", res.RunID)
	}
	return res
}

// retry runs fn until it succeeds, fails with a non-transient error, or the
// attempts run out. Delays double from cfg.Backoff.
func (s *Scheduler) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := s.cfg.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, repo.ErrTransient) || attempt >= s.cfg.MaxAttempts {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
}
