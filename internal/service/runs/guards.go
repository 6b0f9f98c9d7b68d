package runs

import (
	"fmt"
	"strings"

	"github.com/fleetcheck/fleetcheck/internal/domain"
)

// GuardResult is the outcome of a transition precondition check. Guards are
// pure; the service runs them against a freshly read run.
type GuardResult struct {
	Allowed bool
	// NoOp marks an allowed request that needs no write.
	NoOp   bool
	Reason string
	cause  error
}

func allow() GuardResult { return GuardResult{Allowed: true} }

func deny(cause error, format string, args ...any) GuardResult {
	return GuardResult{Reason: fmt.Sprintf(format, args...), cause: cause}
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", r.cause, r.Reason)
}

// CanClaim: open runs can be claimed; a holder re-claiming is a no-op.
func CanClaim(run domain.Run, actor string) GuardResult {
	if strings.TrimSpace(actor) == "" {
		return deny(domain.ErrInvalidInput, "actor is required to claim")
	}
	switch run.Status {
	case domain.RunStatusOpen:
		return allow()
	case domain.RunStatusAssigned:
		if run.AssignedTo == actor {
			return GuardResult{Allowed: true, NoOp: true}
		}
		return deny(domain.ErrAlreadyAssigned, "run %s is held by another actor", run.ID)
	case domain.RunStatusSubmitted:
		return deny(domain.ErrAlreadySubmitted, "run %s is submitted", run.ID)
	default:
		return deny(domain.ErrInvalidInput, "run %s has unknown status %q", run.ID, run.Status)
	}
}

// CanUnclaim: only the current assignee can release a run.
func CanUnclaim(run domain.Run, actor string) GuardResult {
	if run.Status == domain.RunStatusSubmitted {
		return deny(domain.ErrAlreadySubmitted, "run %s is submitted", run.ID)
	}
	if run.Status != domain.RunStatusAssigned || strings.TrimSpace(actor) == "" || run.AssignedTo != actor {
		return deny(domain.ErrNotAssignee, "run %s is not assigned to the caller", run.ID)
	}
	return allow()
}

// CanRecord covers responses and evidence.
func CanRecord(run domain.Run) GuardResult {
	if run.Status.Mutable() {
		return allow()
	}
	if run.Status == domain.RunStatusSubmitted {
		return deny(domain.ErrAlreadySubmitted, "run %s is submitted", run.ID)
	}
	return deny(domain.ErrInvalidInput, "run %s has unknown status %q", run.ID, run.Status)
}

// CanSubmit allows submission from open or assigned, by anyone.
func CanSubmit(run domain.Run) GuardResult {
	return CanRecord(run)
}
