package domain

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a checklist run.
type RunStatus string

const (
	RunStatusOpen      RunStatus = "open"
	RunStatusAssigned  RunStatus = "assigned"
	RunStatusSubmitted RunStatus = "submitted"
)

func NormalizeRunStatus(value string) RunStatus {
	switch RunStatus(strings.ToLower(strings.TrimSpace(value))) {
	case RunStatusOpen:
		return RunStatusOpen
	case RunStatusAssigned:
		return RunStatusAssigned
	case RunStatusSubmitted:
		return RunStatusSubmitted
	default:
		return ""
	}
}

// Mutable reports whether responses and evidence may still be recorded.
func (s RunStatus) Mutable() bool {
	return s == RunStatusOpen || s == RunStatusAssigned
}

// CanTransition lists the allowed edges: open->assigned, assigned->open,
// open->submitted and assigned->submitted.
func (s RunStatus) CanTransition(to RunStatus) bool {
	switch s {
	case RunStatusOpen:
		return to == RunStatusAssigned || to == RunStatusSubmitted
	case RunStatusAssigned:
		return to == RunStatusOpen || to == RunStatusSubmitted
	default:
		return false
	}
}

// Run is one execution of a checklist template by a unit on a calendar day.
type Run struct {
	ID          string
	OrgID       string
	UnitID      string
	TemplateID  string
	DayKey      string
	TimeZone    string
	Status      RunStatus
	AssignedTo  string
	CreatedBy   string
	SubmittedBy string
	CreatedAt   time.Time
	AssignedAt  *time.Time
	SubmittedAt *time.Time
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.UnitID) == "" {
		return fmt.Errorf("%w: unit id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.TemplateID) == "" {
		return fmt.Errorf("%w: template id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.DayKey) == "" {
		return fmt.Errorf("%w: day key is required", ErrInvalidInput)
	}
	if NormalizeRunStatus(string(r.Status)) == "" {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, r.Status)
	}
	return nil
}

// RunView is a run joined with the display names the assignments view needs.
type RunView struct {
	Run
	UnitName      string
	TemplateTitle string
}
