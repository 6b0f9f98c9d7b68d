package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
)

type ResponseStore struct {
	db DB
}

const (
	responseColumns = `run_id, item_id, value_bool, value_text, recorded_by, recorded_at`

	// The share lock on the run row makes a concurrent submit wait for this
	// write, and a committed submit makes the EXISTS fail.
	upsertResponseQuery = `INSERT INTO run_responses (` + responseColumns + `)
	SELECT $1::text, $2::text, $3::boolean, $4::text, $5::text, $6::timestamptz
	 WHERE EXISTS (
		SELECT 1 FROM checklist_runs
		 WHERE run_id = $1 AND status IN ('open', 'assigned')
		 FOR SHARE
	 )
	ON CONFLICT (run_id, item_id) DO UPDATE SET
		value_bool = EXCLUDED.value_bool,
		value_text = EXCLUDED.value_text,
		recorded_by = EXCLUDED.recorded_by,
		recorded_at = EXCLUDED.recorded_at
	RETURNING ` + responseColumns

	listResponsesQuery = `SELECT ` + responseColumns + ` FROM run_responses
	 WHERE run_id = $1
	 ORDER BY item_id ASC`
)

func NewResponseStore(db DB) *ResponseStore {
	if db == nil {
		return nil
	}
	return &ResponseStore{db: db}
}

// UpsertResponse writes the latest value for (run, item); an earlier value
// for the same key is overwritten. It returns repo.ErrConflict when the run
// is missing or no longer accepts responses.
func (s *ResponseStore) UpsertResponse(ctx context.Context, response domain.Response) (domain.Response, error) {
	if s == nil || s.db == nil {
		return domain.Response{}, fmt.Errorf("response store not initialized")
	}
	runID := strings.TrimSpace(response.RunID)
	itemID := strings.TrimSpace(response.ItemID)
	if runID == "" || itemID == "" {
		return domain.Response{}, fmt.Errorf("%w: run id and item id are required", domain.ErrInvalidInput)
	}
	if err := response.Value.Validate(); err != nil {
		return domain.Response{}, err
	}

	var valueBool sql.NullBool
	if response.Value.Bool != nil {
		valueBool = sql.NullBool{Bool: *response.Value.Bool, Valid: true}
	}
	row := s.db.QueryRowContext(
		ctx,
		upsertResponseQuery,
		runID,
		itemID,
		valueBool,
		nullIfEmpty(response.Value.Text),
		strings.TrimSpace(response.RecordedBy),
		normalizeTime(response.RecordedAt),
	)
	stored, err := scanResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Response{}, fmt.Errorf("upsert response: %w: run %s does not accept responses", repo.ErrConflict, runID)
	}
	if err != nil {
		return domain.Response{}, classify("upsert response", err)
	}
	return stored, nil
}

func (s *ResponseStore) ListResponses(ctx context.Context, runID string) ([]domain.Response, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("response store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listResponsesQuery, strings.TrimSpace(runID))
	if err != nil {
		return nil, classify("list responses", err)
	}
	defer rows.Close()

	out := make([]domain.Response, 0)
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list responses", err)
	}
	return out, nil
}

func scanResponse(row scanner) (domain.Response, error) {
	var (
		resp      domain.Response
		valueBool sql.NullBool
		valueText sql.NullString
	)
	if err := row.Scan(&resp.RunID, &resp.ItemID, &valueBool, &valueText, &resp.RecordedBy, &resp.RecordedAt); err != nil {
		return domain.Response{}, err
	}
	if valueBool.Valid {
		resp.Value = domain.BoolValue(valueBool.Bool)
	} else {
		resp.Value = domain.TextValue(valueText.String)
	}
	resp.RecordedAt = resp.RecordedAt.UTC()
	return resp, nil
}
