package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
)

type RunStore struct {
	db  DB
	now func() time.Time
}

const (
	runColumns = `run_id, org_id, unit_id, template_id, day_key, time_zone, status,
		assigned_to, created_by, submitted_by, created_at, assigned_at, submitted_at`

	insertRunQuery = `INSERT INTO checklist_runs (
		run_id,
		org_id,
		unit_id,
		template_id,
		day_key,
		time_zone,
		status,
		created_by,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,'open',$7,$8,$8)
	ON CONFLICT (unit_id, template_id, day_key) DO NOTHING
	RETURNING ` + runColumns

	selectRunQuery = `SELECT ` + runColumns + ` FROM checklist_runs WHERE run_id = $1`

	selectRunByDayQuery = `SELECT ` + runColumns + ` FROM checklist_runs
	 WHERE unit_id = $1 AND template_id = $2 AND day_key = $3`

	updateRunQuery = `UPDATE checklist_runs SET
		status = $4,
		assigned_to = $5,
		assigned_at = $6,
		submitted_by = $7,
		submitted_at = $8,
		updated_at = $9
	WHERE run_id = $1 AND status = $2 AND assigned_to IS NOT DISTINCT FROM $3
	RETURNING ` + runColumns

	listRunsBaseQuery = `SELECT r.run_id, r.org_id, r.unit_id, r.template_id, r.day_key, r.time_zone, r.status,
		r.assigned_to, r.created_by, r.submitted_by, r.created_at, r.assigned_at, r.submitted_at,
		u.name, t.title
	FROM checklist_runs r
	JOIN units u ON u.unit_id = r.unit_id
	JOIN templates t ON t.template_id = r.template_id`
)

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db, now: time.Now}
}

func (s *RunStore) CreateRunIfAbsent(ctx context.Context, run domain.Run) (domain.Run, bool, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, false, fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(run.ID) == "" {
		run.ID = uuid.NewString()
	}
	run.Status = domain.RunStatusOpen
	if err := run.Validate(); err != nil {
		return domain.Run{}, false, err
	}
	if strings.TrimSpace(run.OrgID) == "" {
		return domain.Run{}, false, fmt.Errorf("%w: org id is required", domain.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(
		ctx,
		insertRunQuery,
		run.ID,
		strings.TrimSpace(run.OrgID),
		strings.TrimSpace(run.UnitID),
		strings.TrimSpace(run.TemplateID),
		strings.TrimSpace(run.DayKey),
		strings.TrimSpace(run.TimeZone),
		nullIfEmpty(run.CreatedBy),
		normalizeTime(run.CreatedAt),
	)
	inserted, err := scanRun(row)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Run{}, false, classify("insert run", err)
	}

	// Another writer won the (unit, template, day) slot; reuse its row.
	existing, err := s.GetRunByDay(ctx, run.UnitID, run.TemplateID, run.DayKey)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Run{}, false, fmt.Errorf("insert run: %w: winning row not visible", repo.ErrConflict)
		}
		return domain.Run{}, false, err
	}
	return existing, false, nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunQuery, id))
	if err != nil {
		return domain.Run{}, classify("get run", err)
	}
	return run, nil
}

func (s *RunStore) GetRunByDay(ctx context.Context, unitID, templateID, dayKey string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunByDayQuery,
		strings.TrimSpace(unitID), strings.TrimSpace(templateID), strings.TrimSpace(dayKey)))
	if err != nil {
		return domain.Run{}, classify("get run by day", err)
	}
	return run, nil
}

func (s *RunStore) UpdateRun(ctx context.Context, id string, expected repo.RunPrecondition, patch repo.RunPatch) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}
	if domain.NormalizeRunStatus(string(patch.Status)) == "" {
		return domain.Run{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, patch.Status)
	}

	row := s.db.QueryRowContext(
		ctx,
		updateRunQuery,
		id,
		string(expected.Status),
		nullIfEmpty(expected.AssignedTo),
		string(patch.Status),
		nullIfEmpty(patch.AssignedTo),
		nullTime(patch.AssignedAt),
		nullIfEmpty(patch.SubmittedBy),
		nullTime(patch.SubmittedAt),
		s.now().UTC(),
	)
	updated, err := scanRun(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Run{}, classify("update run", err)
	}

	// No row matched: either the run is gone or its state moved on.
	if _, err := s.GetRun(ctx, id); err != nil {
		return domain.Run{}, err
	}
	return domain.Run{}, fmt.Errorf("update run %s: %w", id, repo.ErrConflict)
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.RunView, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)

	if v := strings.TrimSpace(filter.OrgID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("r.org_id = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.UnitID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("r.unit_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		values := make([]any, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			values = append(values, string(st))
		}
		var list string
		args, list = placeholders(args, values...)
		clauses = append(clauses, "r.status IN ("+list+")")
	}
	if v := strings.TrimSpace(filter.AssignedTo); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("r.assigned_to = $%d", len(args)))
	}
	if !filter.CreatedSince.IsZero() {
		args = append(args, filter.CreatedSince.UTC())
		clauses = append(clauses, fmt.Sprintf("r.created_at >= $%d", len(args)))
	}

	query := listRunsBaseQuery
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY r.created_at DESC, r.run_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list runs", err)
	}
	defer rows.Close()

	out := make([]domain.RunView, 0)
	for rows.Next() {
		var view domain.RunView
		run, err := scanRun(rows, &view.UnitName, &view.TemplateTitle)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		view.Run = run
		out = append(out, view)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list runs", err)
	}
	return out, nil
}

// scanRun reads runColumns followed by any extra destinations.
func scanRun(row scanner, extra ...any) (domain.Run, error) {
	var (
		run         domain.Run
		status      string
		assignedTo  sql.NullString
		createdBy   sql.NullString
		submittedBy sql.NullString
		assignedAt  sql.NullTime
		submittedAt sql.NullTime
	)
	dest := []any{
		&run.ID,
		&run.OrgID,
		&run.UnitID,
		&run.TemplateID,
		&run.DayKey,
		&run.TimeZone,
		&status,
		&assignedTo,
		&createdBy,
		&submittedBy,
		&run.CreatedAt,
		&assignedAt,
		&submittedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, repo.ErrNotFound
		}
		return domain.Run{}, err
	}
	run.Status = domain.NormalizeRunStatus(status)
	run.AssignedTo = assignedTo.String
	run.CreatedBy = createdBy.String
	run.SubmittedBy = submittedBy.String
	run.CreatedAt = run.CreatedAt.UTC()
	run.AssignedAt = timePtr(assignedAt)
	run.SubmittedAt = timePtr(submittedAt)
	return run, nil
}
