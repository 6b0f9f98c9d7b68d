package auditexport

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/domain"
)

// NDJSONExporter writes audit events as newline-delimited JSON. It is safe
// for concurrent use.
type NDJSONExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewNDJSONExporter(w io.Writer) *NDJSONExporter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	return &NDJSONExporter{enc: enc}
}

func (e *NDJSONExporter) Export(ctx context.Context, event domain.AuditEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(exportEventFromDomain(event))
}

type exportEvent struct {
	EventID         int64           `json:"event_id"`
	OccurredAt      string          `json:"occurred_at"`
	Actor           *string         `json:"actor"`
	Action          string          `json:"action"`
	SubjectType     string          `json:"subject_type"`
	SubjectID       string          `json:"subject_id"`
	OrgID           string          `json:"org_id,omitempty"`
	RequestID       string          `json:"request_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	IntegritySHA256 string          `json:"integrity_sha256"`
}

func exportEventFromDomain(event domain.AuditEvent) exportEvent {
	payload, err := json.Marshal(event.Payload)
	if err != nil || event.Payload == nil {
		payload = []byte("{}")
	}
	var actor *string
	if event.Actor != "" {
		a := event.Actor
		actor = &a
	}
	return exportEvent{
		EventID:         event.EventID,
		OccurredAt:      event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Actor:           actor,
		Action:          event.Action,
		SubjectType:     event.SubjectType,
		SubjectID:       event.SubjectID,
		OrgID:           event.OrgID,
		RequestID:       event.RequestID,
		Payload:         payload,
		IntegritySHA256: event.IntegritySHA256,
	}
}
