package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pgplatform "github.com/fleetcheck/fleetcheck/internal/platform/postgres"
	"github.com/fleetcheck/fleetcheck/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// classify maps driver errors onto the repo taxonomy so callers can match
// with errors.Is without knowing about pgx.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return repo.ErrNotFound
	case pgplatform.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, repo.ErrConflict, err)
	case pgplatform.IsForeignKeyViolation(err):
		return fmt.Errorf("%s: %w: %w", op, repo.ErrNotFound, err)
	case pgplatform.IsTransient(err):
		return fmt.Errorf("%s: %w: %w", op, repo.ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// placeholders appends values to args and returns "$n, $n+1, ..." for them.
func placeholders(args []any, values ...any) ([]any, string) {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		args = append(args, v)
		parts = append(parts, fmt.Sprintf("$%d", len(args)))
	}
	return args, strings.Join(parts, ", ")
}
