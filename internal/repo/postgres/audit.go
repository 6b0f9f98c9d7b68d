package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/auditexport"
	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/platform/auditlog"
)

type AuditAppender struct {
	db       auditlog.QueryRower
	exporter auditexport.Exporter
	now      func() time.Time
}

func NewAuditAppender(db auditlog.QueryRower, exporter auditexport.Exporter) *AuditAppender {
	if db == nil {
		return nil
	}
	if exporter == nil {
		exporter = auditexport.NoopExporter{}
	}
	return &AuditAppender{db: db, exporter: exporter, now: time.Now}
}

// Append persists event and then hands the stored form to the exporter. An
// export failure is reported alongside the id of the persisted row.
func (a *AuditAppender) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	if a == nil || a.db == nil {
		return 0, errors.New("audit appender not initialized")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}
	event.OccurredAt = event.OccurredAt.UTC().Truncate(time.Microsecond)
	if event.Payload == nil {
		event.Payload = domain.Metadata{}
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}
	inserted, err := auditlog.Insert(ctx, a.db, auditlog.Event{
		OccurredAt:  event.OccurredAt,
		Actor:       event.Actor,
		Action:      event.Action,
		SubjectType: event.SubjectType,
		SubjectID:   event.SubjectID,
		OrgID:       event.OrgID,
		RequestID:   event.RequestID,
		Payload:     event.Payload,
	})
	if err != nil {
		return 0, classify("append audit event", err)
	}
	event.EventID = inserted.EventID
	event.IntegritySHA256 = inserted.IntegritySHA256
	if err := a.exporter.Export(ctx, event); err != nil {
		return inserted.EventID, fmt.Errorf("export audit event: %w", err)
	}
	return inserted.EventID, nil
}

// AuditTrail reads persisted run events back for verification.
type AuditTrail struct {
	db auditlog.Querier
}

func NewAuditTrail(db auditlog.Querier) *AuditTrail {
	return &AuditTrail{db: db}
}

func (t *AuditTrail) ListRunEvents(ctx context.Context, runID string) ([]auditlog.Stored, error) {
	if t == nil || t.db == nil {
		return nil, errors.New("audit trail not initialized")
	}
	events, err := auditlog.ListForSubject(ctx, t.db, domain.AuditSubjectRun, runID)
	if err != nil {
		return nil, classify("list run audit events", err)
	}
	return events, nil
}
