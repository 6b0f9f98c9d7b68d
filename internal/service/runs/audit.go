package runs

import (
	"context"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/domain"
)

// runPayload is the metadata every run event carries.
func runPayload(run domain.Run) domain.Metadata {
	return domain.Metadata{
		"run_id":      run.ID,
		"org_id":      run.OrgID,
		"unit_id":     run.UnitID,
		"template_id": run.TemplateID,
		"day_key":     run.DayKey,
		"status":      string(run.Status),
	}
}

func submitPayload(t Tally) domain.Metadata {
	return domain.Metadata{
		"total_items":     t.TotalItems,
		"ok_count":        t.OKCount,
		"answered_count":  t.AnsweredCount,
		"photos_attached": t.PhotosAttached,
		"signed":          t.Signed,
	}
}

func buildEvent(action string, run domain.Run, info AuditInfo, at time.Time, extra domain.Metadata) domain.AuditEvent {
	return domain.AuditEvent{
		OccurredAt:  at.UTC(),
		Actor:       info.Actor,
		Action:      action,
		SubjectType: domain.AuditSubjectRun,
		SubjectID:   run.ID,
		OrgID:       run.OrgID,
		RequestID:   info.RequestID,
		Payload:     runPayload(run).With(extra),
	}
}

// emit appends the event without letting a sink failure, or the caller
// going away, undo a transition that is already stored.
func (s *Service) emit(ctx context.Context, action string, run domain.Run, info AuditInfo, at time.Time, extra domain.Metadata) {
	event := buildEvent(action, run, info, at, extra)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if _, err := s.audit.Append(ctx, event); err != nil {
		s.logger.Warn("audit append failed",
			"action", action,
			"run_id", run.ID,
			"request_id", info.RequestID,
			"error", err,
		)
	}
}
