package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
)

type ReminderStore struct {
	db  DB
	now func() time.Time
}

const (
	reminderColumns = `reminder_id, org_id, unit_id, template_id, time_zone, trigger_hour, trigger_minute,
		enabled, last_evaluated_day, created_by, created_at`

	listEnabledRemindersQuery = `SELECT ` + reminderColumns + ` FROM reminder_configs
	 WHERE enabled
	 ORDER BY reminder_id ASC`

	// Day keys are ISO dates, so text comparison is calendar order.
	markEvaluatedQuery = `UPDATE reminder_configs
	 SET last_evaluated_day = $2
	 WHERE reminder_id = $1 AND (last_evaluated_day IS NULL OR last_evaluated_day < $2)`

	reminderExistsQuery = `SELECT 1 FROM reminder_configs WHERE reminder_id = $1`

	upsertReminderQuery = `INSERT INTO reminder_configs (` + reminderColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,$9,$10)
	ON CONFLICT (unit_id, template_id) DO UPDATE SET
		org_id = EXCLUDED.org_id,
		time_zone = EXCLUDED.time_zone,
		trigger_hour = EXCLUDED.trigger_hour,
		trigger_minute = EXCLUDED.trigger_minute,
		enabled = EXCLUDED.enabled
	RETURNING ` + reminderColumns

	setReminderEnabledQuery = `UPDATE reminder_configs SET enabled = $2 WHERE reminder_id = $1
	RETURNING ` + reminderColumns
)

func NewReminderStore(db DB) *ReminderStore {
	if db == nil {
		return nil
	}
	return &ReminderStore{db: db, now: time.Now}
}

func (s *ReminderStore) ListEnabled(ctx context.Context) ([]domain.ReminderConfig, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("reminder store not initialized")
	}
	return s.query(ctx, "list enabled reminders", listEnabledRemindersQuery)
}

func (s *ReminderStore) MarkEvaluated(ctx context.Context, id, dayKey string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("reminder store not initialized")
	}
	id = strings.TrimSpace(id)
	dayKey = strings.TrimSpace(dayKey)
	if id == "" || dayKey == "" {
		return fmt.Errorf("%w: reminder id and day key are required", domain.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, markEvaluatedQuery, id, dayKey)
	if err != nil {
		return classify("mark reminder evaluated", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("mark reminder evaluated", err)
	}
	if affected > 0 {
		return nil
	}
	// Already at or past dayKey, or gone.
	var one int
	if err := s.db.QueryRowContext(ctx, reminderExistsQuery, id).Scan(&one); err != nil {
		return classify("mark reminder evaluated", err)
	}
	return nil
}

func (s *ReminderStore) UpsertReminder(ctx context.Context, cfg domain.ReminderConfig) (domain.ReminderConfig, error) {
	if s == nil || s.db == nil {
		return domain.ReminderConfig{}, fmt.Errorf("reminder store not initialized")
	}
	if err := cfg.Validate(); err != nil {
		return domain.ReminderConfig{}, err
	}
	if strings.TrimSpace(cfg.OrgID) == "" {
		return domain.ReminderConfig{}, fmt.Errorf("%w: org id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = uuid.NewString()
	}
	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	row := s.db.QueryRowContext(
		ctx,
		upsertReminderQuery,
		cfg.ID,
		strings.TrimSpace(cfg.OrgID),
		strings.TrimSpace(cfg.UnitID),
		strings.TrimSpace(cfg.TemplateID),
		strings.TrimSpace(cfg.TimeZone),
		cfg.TriggerHour,
		cfg.TriggerMinute,
		cfg.Enabled,
		nullIfEmpty(cfg.CreatedBy),
		createdAt.UTC(),
	)
	stored, err := scanReminder(row)
	if err != nil {
		return domain.ReminderConfig{}, classify("upsert reminder", err)
	}
	return stored, nil
}

func (s *ReminderStore) SetReminderEnabled(ctx context.Context, id string, enabled bool) (domain.ReminderConfig, error) {
	if s == nil || s.db == nil {
		return domain.ReminderConfig{}, fmt.Errorf("reminder store not initialized")
	}
	stored, err := scanReminder(s.db.QueryRowContext(ctx, setReminderEnabledQuery, strings.TrimSpace(id), enabled))
	if err != nil {
		return domain.ReminderConfig{}, classify("set reminder enabled", err)
	}
	return stored, nil
}

func (s *ReminderStore) ListReminders(ctx context.Context, filter repo.ReminderFilter) ([]domain.ReminderConfig, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("reminder store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if v := strings.TrimSpace(filter.OrgID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("org_id = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.UnitID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("unit_id = $%d", len(args)))
	}
	query := `SELECT ` + reminderColumns + ` FROM reminder_configs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY unit_id ASC, template_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.query(ctx, "list reminders", query, args...)
}

func (s *ReminderStore) query(ctx context.Context, op, query string, args ...any) ([]domain.ReminderConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := make([]domain.ReminderConfig, 0)
	for rows.Next() {
		cfg, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func scanReminder(row scanner) (domain.ReminderConfig, error) {
	var (
		cfg       domain.ReminderConfig
		lastDay   sql.NullString
		createdBy sql.NullString
	)
	if err := row.Scan(
		&cfg.ID,
		&cfg.OrgID,
		&cfg.UnitID,
		&cfg.TemplateID,
		&cfg.TimeZone,
		&cfg.TriggerHour,
		&cfg.TriggerMinute,
		&cfg.Enabled,
		&lastDay,
		&createdBy,
		&cfg.CreatedAt,
	); err != nil {
		return domain.ReminderConfig{}, err
	}
	cfg.LastEvaluatedDay = lastDay.String
	cfg.CreatedBy = createdBy.String
	cfg.CreatedAt = cfg.CreatedAt.UTC()
	return cfg, nil
}
