package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
)

// Tally summarises a run's answers and evidence at submission.
type Tally struct {
	TotalItems     int
	OKCount        int
	AnsweredCount  int
	PhotosAttached int
	Signed         bool
}

const WarningEvidenceUploadFailed = "evidence_upload_failed"

// Warning is a non-fatal condition reported alongside a successful submit.
type Warning struct {
	Code  string
	Kind  domain.EvidenceKind
	Count int
}

type SubmitResult struct {
	Run      domain.Run
	Tally    Tally
	Warnings []Warning
}

// SubmitRun closes the run. Unanswered items count as not ok but do not
// block submission. Submitting an already submitted run returns its stored
// result together with domain.ErrAlreadySubmitted and emits nothing.
func (s *Service) SubmitRun(ctx context.Context, runID string, info AuditInfo) (SubmitResult, error) {
	actor := strings.TrimSpace(info.Actor)
	for attempt := 0; attempt < s.cfg.ConflictRetries; attempt++ {
		run, err := s.getRun(ctx, runID)
		if err != nil {
			return SubmitResult{}, err
		}
		if run.Status == domain.RunStatusSubmitted {
			return s.replaySubmit(ctx, run)
		}
		if guard := CanSubmit(run); !guard.Allowed {
			return SubmitResult{}, guard.Error()
		}

		tally, warnings, err := s.summarise(ctx, run)
		if err != nil {
			return SubmitResult{}, err
		}

		at := notBefore(s.now().UTC(), &run.CreatedAt, run.AssignedAt)
		updated, err := s.updateRun(ctx, run.ID,
			repo.RunPrecondition{Status: run.Status, AssignedTo: run.AssignedTo},
			repo.RunPatch{
				Status:      domain.RunStatusSubmitted,
				AssignedTo:  run.AssignedTo,
				AssignedAt:  run.AssignedAt,
				SubmittedBy: actor,
				SubmittedAt: &at,
			},
		)
		if errors.Is(err, repo.ErrConflict) {
			continue
		}
		if err != nil {
			return SubmitResult{}, fmt.Errorf("submit run %s: %w", run.ID, err)
		}
		// Writes that raced the update have settled; count the final set.
		if final, finalWarnings, err := s.summarise(ctx, updated); err == nil {
			tally, warnings = final, finalWarnings
		} else {
			s.logger.Warn("recount after submit failed", "run_id", run.ID, "error", err)
		}
		s.emit(ctx, domain.AuditRunSubmitted, updated, info, at, submitPayload(tally))
		return SubmitResult{Run: updated, Tally: tally, Warnings: warnings}, nil
	}
	return SubmitResult{}, fmt.Errorf("submit run %s: %w: run kept changing", runID, repo.ErrTransient)
}

func (s *Service) replaySubmit(ctx context.Context, run domain.Run) (SubmitResult, error) {
	tally, warnings, err := s.summarise(ctx, run)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Run: run, Tally: tally, Warnings: warnings}, fmt.Errorf("run %s: %w", run.ID, domain.ErrAlreadySubmitted)
}

func (s *Service) summarise(ctx context.Context, run domain.Run) (Tally, []Warning, error) {
	items, err := s.listItems(ctx, run.TemplateID)
	if err != nil {
		return Tally{}, nil, err
	}
	responses, err := s.listResponses(ctx, run.ID)
	if err != nil {
		return Tally{}, nil, err
	}
	evidence, err := s.listEvidence(ctx, run.ID)
	if err != nil {
		return Tally{}, nil, err
	}
	return ComputeTally(items, responses, evidence), UnresolvedUploadFailures(evidence), nil
}

// ComputeTally counts template items answered and answered affirmatively.
// Responses for items outside the template are ignored.
func ComputeTally(items []domain.TemplateItem, responses []domain.Response, evidence []domain.Evidence) Tally {
	byItem := make(map[string]domain.ResponseValue, len(responses))
	for _, r := range responses {
		byItem[r.ItemID] = r.Value
	}
	t := Tally{TotalItems: len(items)}
	for _, item := range items {
		v, ok := byItem[item.ID]
		if !ok {
			continue
		}
		t.AnsweredCount++
		if v.Affirmative() {
			t.OKCount++
		}
	}
	for _, ev := range evidence {
		if ev.Status != domain.EvidenceStored {
			continue
		}
		switch ev.Kind {
		case domain.EvidencePhoto:
			t.PhotosAttached++
		case domain.EvidenceSignature:
			t.Signed = true
		}
	}
	return t
}

// UnresolvedUploadFailures counts, per kind, failed uploads with no later
// successful upload of the same kind.
func UnresolvedUploadFailures(evidence []domain.Evidence) []Warning {
	counts := map[domain.EvidenceKind]int{}
	sorted := append([]domain.Evidence(nil), evidence...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].UploadedAt.Before(sorted[j].UploadedAt) })
	for _, ev := range sorted {
		switch ev.Status {
		case domain.EvidenceFailed:
			counts[ev.Kind]++
		case domain.EvidenceStored:
			counts[ev.Kind] = 0
		}
	}
	warnings := make([]Warning, 0, len(counts))
	for _, kind := range []domain.EvidenceKind{domain.EvidencePhoto, domain.EvidenceSignature} {
		if n := counts[kind]; n > 0 {
			warnings = append(warnings, Warning{Code: WarningEvidenceUploadFailed, Kind: kind, Count: n})
		}
	}
	return warnings
}

func (s *Service) listResponses(ctx context.Context, runID string) ([]domain.Response, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	responses, err := s.responses.ListResponses(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s responses: %w", runID, timeoutAsTransient(err))
	}
	return responses, nil
}

func (s *Service) listEvidence(ctx context.Context, runID string) ([]domain.Evidence, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	evidence, err := s.evidence.ListEvidence(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s evidence: %w", runID, timeoutAsTransient(err))
	}
	return evidence, nil
}
