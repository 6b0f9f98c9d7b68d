package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
)

type EvidenceStore struct {
	db DB
}

const (
	evidenceColumns = `evidence_id, run_id, kind, slot, status, bucket, object_key, content_type,
		size_bytes, error_message, uploaded_by, uploaded_at`

	// Photos take the next free slot for the run.
	insertPhotoQuery = `INSERT INTO run_evidence (` + evidenceColumns + `)
	VALUES ($1, $2, 'photo',
		(SELECT COALESCE(MAX(slot), -1) + 1 FROM run_evidence WHERE run_id = $2 AND kind = 'photo' AND slot IS NOT NULL),
		'stored', $3, $4, $5, $6, NULL, $7, $8)
	RETURNING ` + evidenceColumns

	// A run keeps one signature in slot 0; a newer one replaces it.
	upsertSignatureQuery = `INSERT INTO run_evidence (` + evidenceColumns + `)
	VALUES ($1, $2, 'signature', 0, 'stored', $3, $4, $5, $6, NULL, $7, $8)
	ON CONFLICT (run_id, kind, slot) WHERE slot IS NOT NULL DO UPDATE SET
		evidence_id = EXCLUDED.evidence_id,
		bucket = EXCLUDED.bucket,
		object_key = EXCLUDED.object_key,
		content_type = EXCLUDED.content_type,
		size_bytes = EXCLUDED.size_bytes,
		uploaded_by = EXCLUDED.uploaded_by,
		uploaded_at = EXCLUDED.uploaded_at
	RETURNING ` + evidenceColumns

	insertFailedEvidenceQuery = `INSERT INTO run_evidence (` + evidenceColumns + `)
	VALUES ($1, $2, $3, NULL, 'failed', $4, $5, $6, 0, $7, $8, $9)
	RETURNING ` + evidenceColumns

	listEvidenceQuery = `SELECT ` + evidenceColumns + ` FROM run_evidence
	 WHERE run_id = $1
	 ORDER BY uploaded_at ASC, kind ASC, slot ASC NULLS LAST`

	photoSlotAttempts = 3
)

func NewEvidenceStore(db DB) *EvidenceStore {
	if db == nil {
		return nil
	}
	return &EvidenceStore{db: db}
}

// RecordEvidence stores a pointer record. The slot is assigned here: photos
// append, signatures replace slot 0, failed attempts have none.
func (s *EvidenceStore) RecordEvidence(ctx context.Context, evidence domain.Evidence) (domain.Evidence, error) {
	if s == nil || s.db == nil {
		return domain.Evidence{}, fmt.Errorf("evidence store not initialized")
	}
	runID := strings.TrimSpace(evidence.RunID)
	if runID == "" {
		return domain.Evidence{}, fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}
	kind := domain.NormalizeEvidenceKind(string(evidence.Kind))
	if kind == "" {
		return domain.Evidence{}, fmt.Errorf("%w: unknown evidence kind %q", domain.ErrInvalidInput, evidence.Kind)
	}
	if strings.TrimSpace(evidence.ID) == "" {
		evidence.ID = uuid.NewString()
	}
	uploadedAt := normalizeTime(evidence.UploadedAt)

	if evidence.Status == domain.EvidenceFailed {
		row := s.db.QueryRowContext(ctx, insertFailedEvidenceQuery,
			evidence.ID, runID, string(kind),
			evidence.Bucket, evidence.ObjectKey, nullIfEmpty(evidence.ContentType),
			nullIfEmpty(evidence.ErrorMessage), strings.TrimSpace(evidence.UploadedBy), uploadedAt)
		stored, err := scanEvidence(row)
		if err != nil {
			return domain.Evidence{}, classify("record failed evidence", err)
		}
		return stored, nil
	}

	if strings.TrimSpace(evidence.ObjectKey) == "" || strings.TrimSpace(evidence.Bucket) == "" {
		return domain.Evidence{}, fmt.Errorf("%w: evidence pointer is required", domain.ErrInvalidInput)
	}
	args := []any{
		evidence.ID, runID,
		evidence.Bucket, evidence.ObjectKey, nullIfEmpty(evidence.ContentType), evidence.SizeBytes,
		strings.TrimSpace(evidence.UploadedBy), uploadedAt,
	}
	if kind == domain.EvidenceSignature {
		stored, err := scanEvidence(s.db.QueryRowContext(ctx, upsertSignatureQuery, args...))
		if err != nil {
			return domain.Evidence{}, classify("record signature", err)
		}
		return stored, nil
	}

	// Two concurrent photos can compute the same next slot; the unique
	// index rejects the loser, which tries again.
	var lastErr error
	for attempt := 0; attempt < photoSlotAttempts; attempt++ {
		stored, err := scanEvidence(s.db.QueryRowContext(ctx, insertPhotoQuery, args...))
		if err == nil {
			return stored, nil
		}
		lastErr = classify("record photo", err)
		if !errors.Is(lastErr, repo.ErrConflict) {
			return domain.Evidence{}, lastErr
		}
	}
	return domain.Evidence{}, lastErr
}

func (s *EvidenceStore) ListEvidence(ctx context.Context, runID string) ([]domain.Evidence, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("evidence store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listEvidenceQuery, strings.TrimSpace(runID))
	if err != nil {
		return nil, classify("list evidence", err)
	}
	defer rows.Close()

	out := make([]domain.Evidence, 0)
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list evidence", err)
	}
	return out, nil
}

func scanEvidence(row scanner) (domain.Evidence, error) {
	var (
		ev           domain.Evidence
		kind         string
		status       string
		slot         sql.NullInt64
		contentType  sql.NullString
		errorMessage sql.NullString
	)
	if err := row.Scan(
		&ev.ID,
		&ev.RunID,
		&kind,
		&slot,
		&status,
		&ev.Bucket,
		&ev.ObjectKey,
		&contentType,
		&ev.SizeBytes,
		&errorMessage,
		&ev.UploadedBy,
		&ev.UploadedAt,
	); err != nil {
		return domain.Evidence{}, err
	}
	ev.Kind = domain.NormalizeEvidenceKind(kind)
	ev.Status = domain.EvidenceStatus(status)
	if slot.Valid {
		n := int(slot.Int64)
		ev.Slot = &n
	}
	ev.ContentType = contentType.String
	ev.ErrorMessage = errorMessage.String
	ev.UploadedAt = ev.UploadedAt.UTC()
	return ev, nil
}
