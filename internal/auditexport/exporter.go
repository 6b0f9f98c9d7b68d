package auditexport

import (
	"context"

	"github.com/fleetcheck/fleetcheck/internal/domain"
)

// Exporter sends audit events to external systems after they are persisted.
type Exporter interface {
	Export(ctx context.Context, event domain.AuditEvent) error
}

// NoopExporter drops events; the database remains the system of record.
type NoopExporter struct{}

func (NoopExporter) Export(ctx context.Context, event domain.AuditEvent) error {
	return nil
}
