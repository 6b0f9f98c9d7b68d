package auditlog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one append-only audit record. An empty Actor marks a
// system-triggered event and is stored as NULL.
type Event struct {
	OccurredAt  time.Time
	Actor       string
	Action      string
	SubjectType string
	SubjectID   string
	OrgID       string
	RequestID   string
	Payload     any
}

// Inserted identifies a persisted event.
type Inserted struct {
	EventID         int64
	IntegritySHA256 string
}

// Stored is an event as read back from audit_events.
type Stored struct {
	EventID int64
	Event
	PayloadJSON     []byte
	IntegritySHA256 string
}

// ErrIntegrityMismatch means a stored row no longer hashes to its recorded
// integrity value.
var ErrIntegrityMismatch = errors.New("audit integrity mismatch")

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const insertEventQuery = `INSERT INTO audit_events (
	occurred_at,
	actor,
	action,
	subject_type,
	subject_id,
	org_id,
	request_id,
	payload,
	integrity_sha256
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING event_id`

const listSubjectQuery = `SELECT event_id, occurred_at, actor, action, subject_type, subject_id, org_id, request_id, payload, integrity_sha256
FROM audit_events
WHERE subject_type = $1 AND subject_id = $2
ORDER BY occurred_at, event_id`

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.SubjectType) == "" {
		return errors.New("SubjectType is required")
	}
	if strings.TrimSpace(e.SubjectID) == "" {
		return errors.New("SubjectID is required")
	}
	return nil
}

func Insert(ctx context.Context, q QueryRower, event Event) (Inserted, error) {
	if q == nil {
		return Inserted{}, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	// Postgres keeps microseconds; hash what will be read back.
	event.OccurredAt = event.OccurredAt.UTC().Truncate(time.Microsecond)
	if err := event.Validate(); err != nil {
		return Inserted{}, err
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Inserted{}, fmt.Errorf("marshal payload: %w", err)
	}
	payloadJSON, err := canonicalJSON(raw)
	if err != nil {
		return Inserted{}, err
	}

	integrity, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return Inserted{}, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		insertEventQuery,
		event.OccurredAt,
		nullString(event.Actor),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.SubjectType),
		strings.TrimSpace(event.SubjectID),
		nullString(event.OrgID),
		nullString(event.RequestID),
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return Inserted{}, fmt.Errorf("insert audit event: %w", err)
	}
	return Inserted{EventID: id, IntegritySHA256: integrity}, nil
}

func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt  time.Time       `json:"occurred_at"`
		Actor       string          `json:"actor,omitempty"`
		Action      string          `json:"action"`
		SubjectType string          `json:"subject_type"`
		SubjectID   string          `json:"subject_id"`
		OrgID       string          `json:"org_id,omitempty"`
		RequestID   string          `json:"request_id,omitempty"`
		Payload     json.RawMessage `json:"payload"`
	}

	if len(payloadJSON) == 0 {
		payloadJSON = []byte("{}")
	}
	in := integrityInput{
		OccurredAt:  event.OccurredAt.UTC(),
		Actor:       strings.TrimSpace(event.Actor),
		Action:      strings.TrimSpace(event.Action),
		SubjectType: strings.TrimSpace(event.SubjectType),
		SubjectID:   strings.TrimSpace(event.SubjectID),
		OrgID:       strings.TrimSpace(event.OrgID),
		RequestID:   strings.TrimSpace(event.RequestID),
		Payload:     payloadJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// ListForSubject returns every stored event for one subject, oldest first.
func ListForSubject(ctx context.Context, q Querier, subjectType, subjectID string) ([]Stored, error) {
	if q == nil {
		return nil, errors.New("queryer is required")
	}
	rows, err := q.QueryContext(ctx, listSubjectQuery, strings.TrimSpace(subjectType), strings.TrimSpace(subjectID))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Stored
	for rows.Next() {
		var st Stored
		var actor, orgID, requestID sql.NullString
		if err := rows.Scan(&st.EventID, &st.OccurredAt, &actor, &st.Action, &st.SubjectType, &st.SubjectID,
			&orgID, &requestID, &st.PayloadJSON, &st.IntegritySHA256); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		st.Actor, st.OrgID, st.RequestID = actor.String, orgID.String, requestID.String
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}

// Verify recomputes the integrity hash of a stored event.
func Verify(st Stored) error {
	payloadJSON, err := canonicalJSON(st.PayloadJSON)
	if err != nil {
		return err
	}
	st.OccurredAt = st.OccurredAt.UTC().Truncate(time.Microsecond)
	got, err := ComputeIntegritySHA256(st.Event, payloadJSON)
	if err != nil {
		return err
	}
	if got != strings.TrimSpace(st.IntegritySHA256) {
		return fmt.Errorf("event %d: %w", st.EventID, ErrIntegrityMismatch)
	}
	return nil
}

// canonicalJSON re-encodes raw so that key order and spacing match however
// the database chose to store it.
func canonicalJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
