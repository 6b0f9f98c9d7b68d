package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	AuditRunStarted    = "run_started"
	AuditRunAssigned   = "run_assigned"
	AuditRunUnassigned = "run_unassigned"
	AuditRunSubmitted  = "run_submitted"

	AuditSubjectRun = "run"
)

// AuditEvent is an immutable audit record. An empty Actor means the event
// was triggered by the system.
type AuditEvent struct {
	EventID         int64
	OccurredAt      time.Time
	Actor           string
	Action          string
	SubjectType     string
	SubjectID       string
	OrgID           string
	RequestID       string
	Payload         Metadata
	IntegritySHA256 string
}

func (e AuditEvent) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("occurred_at is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("action is required")
	}
	if strings.TrimSpace(e.SubjectType) == "" {
		return errors.New("subject_type is required")
	}
	if strings.TrimSpace(e.SubjectID) == "" {
		return errors.New("subject_id is required")
	}
	return nil
}
