package repo

import (
	"context"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/domain"
)

// RunPrecondition is the state a conditional run update expects to find.
// AssignedTo "" matches an unassigned run.
type RunPrecondition struct {
	Status     domain.RunStatus
	AssignedTo string
}

// RunPatch is applied atomically when the precondition holds. AssignedTo
// and AssignedAt are always written, so a patch that clears the assignee
// leaves both empty.
type RunPatch struct {
	Status      domain.RunStatus
	AssignedTo  string
	AssignedAt  *time.Time
	SubmittedBy string
	SubmittedAt *time.Time
}

type RunFilter struct {
	OrgID        string
	UnitID       string
	Statuses     []domain.RunStatus
	AssignedTo   string
	CreatedSince time.Time
	Limit        int
}

// RunRepository stores runs. At most one run exists per
// (unit, template, day key); the store resolves insert races.
type RunRepository interface {
	// CreateRunIfAbsent inserts run unless its (unit, template, day key)
	// already exists, in which case the stored run is returned with
	// created=false.
	CreateRunIfAbsent(ctx context.Context, run domain.Run) (domain.Run, bool, error)
	GetRun(ctx context.Context, id string) (domain.Run, error)
	GetRunByDay(ctx context.Context, unitID, templateID, dayKey string) (domain.Run, error)
	// UpdateRun applies patch only if the row still matches expected and
	// returns ErrConflict otherwise.
	UpdateRun(ctx context.Context, id string, expected RunPrecondition, patch RunPatch) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.RunView, error)
}

// ResponseRepository stores item responses keyed by (run, item).
type ResponseRepository interface {
	UpsertResponse(ctx context.Context, response domain.Response) (domain.Response, error)
	ListResponses(ctx context.Context, runID string) ([]domain.Response, error)
}

// EvidenceRepository stores pointer records for evidence blobs.
type EvidenceRepository interface {
	RecordEvidence(ctx context.Context, evidence domain.Evidence) (domain.Evidence, error)
	ListEvidence(ctx context.Context, runID string) ([]domain.Evidence, error)
}

type TemplateRepository interface {
	ListTemplateItems(ctx context.Context, templateID string) ([]domain.TemplateItem, error)
}

type UnitRepository interface {
	GetUnit(ctx context.Context, id string) (domain.Unit, error)
}

type ReminderFilter struct {
	OrgID  string
	UnitID string
	Limit  int
}

// ReminderRepository stores recurrence rules and their evaluation progress.
type ReminderRepository interface {
	ListEnabled(ctx context.Context) ([]domain.ReminderConfig, error)
	// MarkEvaluated advances the last evaluated day; it never moves it back.
	MarkEvaluated(ctx context.Context, id, dayKey string) error
	UpsertReminder(ctx context.Context, cfg domain.ReminderConfig) (domain.ReminderConfig, error)
	SetReminderEnabled(ctx context.Context, id string, enabled bool) (domain.ReminderConfig, error)
	ListReminders(ctx context.Context, filter ReminderFilter) ([]domain.ReminderConfig, error)
}

// AuditEventAppender ensures append-only audit writes.
type AuditEventAppender interface {
	Append(ctx context.Context, event domain.AuditEvent) (int64, error)
}
