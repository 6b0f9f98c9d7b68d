package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetcheck/fleetcheck/internal/clock"
	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
	"github.com/fleetcheck/fleetcheck/internal/storage/objectstore"
)

// EvidenceGateway is the blob store contract the engine consumes.
type EvidenceGateway interface {
	Put(ctx context.Context, namespace, name string, data []byte, contentType string) (objectstore.Pointer, error)
	SignedURL(ctx context.Context, p objectstore.Pointer, ttl time.Duration) (string, error)
}

type Deps struct {
	Runs      repo.RunRepository
	Responses repo.ResponseRepository
	Evidence  repo.EvidenceRepository
	Templates repo.TemplateRepository
	Units     repo.UnitRepository
	Audit     repo.AuditEventAppender
	Gateway   EvidenceGateway
	Logger    *slog.Logger
}

type Service struct {
	cfg       Config
	runs      repo.RunRepository
	responses repo.ResponseRepository
	evidence  repo.EvidenceRepository
	templates repo.TemplateRepository
	units     repo.UnitRepository
	audit     repo.AuditEventAppender
	gateway   EvidenceGateway
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// AuditInfo identifies who asked for a transition. An empty Actor means the
// system (scheduler) did.
type AuditInfo struct {
	Actor     string
	RequestID string
}

func New(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Runs == nil:
		return nil, errors.New("run repository is required")
	case deps.Responses == nil:
		return nil, errors.New("response repository is required")
	case deps.Evidence == nil:
		return nil, errors.New("evidence repository is required")
	case deps.Templates == nil:
		return nil, errors.New("template repository is required")
	case deps.Units == nil:
		return nil, errors.New("unit repository is required")
	case deps.Audit == nil:
		return nil, errors.New("audit appender is required")
	case deps.Gateway == nil:
		return nil, errors.New("evidence gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		cfg:       cfg,
		runs:      deps.Runs,
		responses: deps.Responses,
		evidence:  deps.Evidence,
		templates: deps.Templates,
		units:     deps.Units,
		audit:     deps.Audit,
		gateway:   deps.Gateway,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

type CreateRunRequest struct {
	UnitID     string
	TemplateID string
	Info       AuditInfo
}

// ScheduledRunRequest is built by the recurrence scheduler only. DayKey is
// the day the reminder resolved to in TimeZone.
type ScheduledRunRequest struct {
	UnitID     string
	TemplateID string
	TimeZone   string
	DayKey     string
}

type CreateRunResult struct {
	Run     domain.Run
	Created bool
}

// CreateRun returns today's run for (unit, template), creating it if no
// other caller has. The day is taken in the unit's zone. Losing the insert
// race is not an error.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (CreateRunResult, error) {
	unitID := strings.TrimSpace(req.UnitID)
	templateID := strings.TrimSpace(req.TemplateID)
	if unitID == "" || templateID == "" {
		return CreateRunResult{}, fmt.Errorf("%w: unit id and template id are required", domain.ErrInvalidInput)
	}
	unit, err := s.getUnit(ctx, unitID)
	if err != nil {
		return CreateRunResult{}, err
	}
	loc, err := clock.LoadLocation(unit.TimeZone)
	if err != nil {
		return CreateRunResult{}, err
	}
	now := s.now().UTC()
	return s.createRun(ctx, unit.OrgID, unitID, templateID, unit.TimeZone, clock.DayKey(now, loc), now, req.Info)
}

// CreateScheduledRun creates the run for a reminder's resolved day. Days
// after today in the reminder's zone are rejected; past days are allowed so
// a late tick still produces the run it missed.
func (s *Service) CreateScheduledRun(ctx context.Context, req ScheduledRunRequest) (CreateRunResult, error) {
	unitID := strings.TrimSpace(req.UnitID)
	templateID := strings.TrimSpace(req.TemplateID)
	if unitID == "" || templateID == "" {
		return CreateRunResult{}, fmt.Errorf("%w: unit id and template id are required", domain.ErrInvalidInput)
	}
	zone := strings.TrimSpace(req.TimeZone)
	loc, err := clock.LoadLocation(zone)
	if err != nil {
		return CreateRunResult{}, err
	}
	dayKey, err := clock.ParseDayKey(req.DayKey)
	if err != nil {
		return CreateRunResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	now := s.now().UTC()
	if today := clock.DayKey(now, loc); dayKey > today {
		return CreateRunResult{}, fmt.Errorf("%w: day %s is after today (%s) in %s", domain.ErrInvalidInput, dayKey, today, zone)
	}
	unit, err := s.getUnit(ctx, unitID)
	if err != nil {
		return CreateRunResult{}, err
	}
	return s.createRun(ctx, unit.OrgID, unitID, templateID, zone, dayKey, now, AuditInfo{})
}

func (s *Service) createRun(ctx context.Context, orgID, unitID, templateID, zone, dayKey string, now time.Time, info AuditInfo) (CreateRunResult, error) {
	candidate := domain.Run{
		ID:         s.newID(),
		OrgID:      orgID,
		UnitID:     unitID,
		TemplateID: templateID,
		DayKey:     dayKey,
		TimeZone:   zone,
		Status:     domain.RunStatusOpen,
		CreatedBy:  strings.TrimSpace(info.Actor),
		CreatedAt:  now,
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.ConflictRetries; attempt++ {
		run, created, err := s.createIfAbsent(ctx, candidate)
		if err == nil {
			if created {
				s.emit(ctx, domain.AuditRunStarted, run, info, run.CreatedAt, nil)
			}
			return CreateRunResult{Run: run, Created: created}, nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return CreateRunResult{}, err
		}
		lastErr = err
		// The winner's row was not visible yet; read it directly.
		existing, getErr := s.getRunByDay(ctx, unitID, templateID, dayKey)
		if getErr == nil {
			return CreateRunResult{Run: existing}, nil
		}
		if !errors.Is(getErr, repo.ErrNotFound) {
			return CreateRunResult{}, getErr
		}
	}
	return CreateRunResult{}, fmt.Errorf("create run: %w: %v", repo.ErrTransient, lastErr)
}

// ClaimRun assigns an open run to the actor.
func (s *Service) ClaimRun(ctx context.Context, runID string, info AuditInfo) (domain.Run, error) {
	actor := strings.TrimSpace(info.Actor)
	for attempt := 0; attempt < s.cfg.ConflictRetries; attempt++ {
		run, err := s.getRun(ctx, runID)
		if err != nil {
			return domain.Run{}, err
		}
		guard := CanClaim(run, actor)
		if !guard.Allowed {
			return domain.Run{}, guard.Error()
		}
		if guard.NoOp {
			return run, nil
		}

		at := notBefore(s.now().UTC(), &run.CreatedAt)
		updated, err := s.updateRun(ctx, run.ID,
			repo.RunPrecondition{Status: domain.RunStatusOpen},
			repo.RunPatch{Status: domain.RunStatusAssigned, AssignedTo: actor, AssignedAt: &at},
		)
		if errors.Is(err, repo.ErrConflict) {
			continue
		}
		if err != nil {
			return domain.Run{}, err
		}
		s.emit(ctx, domain.AuditRunAssigned, updated, info, at, domain.Metadata{"to": actor})
		return updated, nil
	}
	return domain.Run{}, fmt.Errorf("claim run %s: %w: run kept changing", runID, repo.ErrTransient)
}

// UnclaimRun returns an assigned run to open. Only the assignee may.
func (s *Service) UnclaimRun(ctx context.Context, runID string, info AuditInfo) (domain.Run, error) {
	actor := strings.TrimSpace(info.Actor)
	for attempt := 0; attempt < s.cfg.ConflictRetries; attempt++ {
		run, err := s.getRun(ctx, runID)
		if err != nil {
			return domain.Run{}, err
		}
		if guard := CanUnclaim(run, actor); !guard.Allowed {
			return domain.Run{}, guard.Error()
		}

		updated, err := s.updateRun(ctx, run.ID,
			repo.RunPrecondition{Status: domain.RunStatusAssigned, AssignedTo: actor},
			repo.RunPatch{Status: domain.RunStatusOpen},
		)
		if errors.Is(err, repo.ErrConflict) {
			continue
		}
		if err != nil {
			return domain.Run{}, err
		}
		at := notBefore(s.now().UTC(), &run.CreatedAt, run.AssignedAt)
		s.emit(ctx, domain.AuditRunUnassigned, updated, info, at, domain.Metadata{"from": actor})
		return updated, nil
	}
	return domain.Run{}, fmt.Errorf("unclaim run %s: %w: run kept changing", runID, repo.ErrTransient)
}

// notBefore returns t, raised to the latest of floors so lifecycle
// timestamps never go backwards under clock skew.
func notBefore(t time.Time, floors ...*time.Time) time.Time {
	for _, f := range floors {
		if f != nil && t.Before(*f) {
			t = *f
		}
	}
	return t
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Service) getUnit(ctx context.Context, id string) (domain.Unit, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	unit, err := s.units.GetUnit(ctx, id)
	if err != nil {
		return domain.Unit{}, fmt.Errorf("unit %s: %w", id, timeoutAsTransient(err))
	}
	return unit, nil
}

func (s *Service) getRun(ctx context.Context, id string) (domain.Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return domain.Run{}, fmt.Errorf("run %s: %w", id, timeoutAsTransient(err))
	}
	return run, nil
}

func (s *Service) getRunByDay(ctx context.Context, unitID, templateID, dayKey string) (domain.Run, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	run, err := s.runs.GetRunByDay(ctx, unitID, templateID, dayKey)
	return run, timeoutAsTransient(err)
}

func (s *Service) createIfAbsent(ctx context.Context, run domain.Run) (domain.Run, bool, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	stored, created, err := s.runs.CreateRunIfAbsent(ctx, run)
	return stored, created, timeoutAsTransient(err)
}

func (s *Service) updateRun(ctx context.Context, id string, expected repo.RunPrecondition, patch repo.RunPatch) (domain.Run, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	run, err := s.runs.UpdateRun(ctx, id, expected, patch)
	return run, timeoutAsTransient(err)
}

// timeoutAsTransient makes our own store deadline look like any other
// retryable store failure.
func timeoutAsTransient(err error) error {
	if err == nil || errors.Is(err, repo.ErrTransient) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", repo.ErrTransient, err)
	}
	return err
}
