package runs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/clock"
	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
	"github.com/fleetcheck/fleetcheck/internal/storage/objectstore"
)

// EvidenceView is an evidence record with a short-lived read URL. URL is
// empty for failed attempts or when signing failed.
type EvidenceView struct {
	domain.Evidence
	URL string
}

type RunDetail struct {
	Run       domain.Run
	Items     []domain.TemplateItem
	Responses []domain.Response
	Evidence  []EvidenceView
	Tally     Tally
	Warnings  []Warning
}

func (s *Service) GetRun(ctx context.Context, runID string) (RunDetail, error) {
	run, err := s.getRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	items, err := s.listItems(ctx, run.TemplateID)
	if err != nil {
		return RunDetail{}, err
	}
	responses, err := s.listResponses(ctx, run.ID)
	if err != nil {
		return RunDetail{}, err
	}
	evidence, err := s.listEvidence(ctx, run.ID)
	if err != nil {
		return RunDetail{}, err
	}

	views := make([]EvidenceView, 0, len(evidence))
	for _, ev := range evidence {
		view := EvidenceView{Evidence: ev}
		if ev.Status == domain.EvidenceStored {
			u, err := s.gateway.SignedURL(ctx, objectstore.Pointer{Bucket: ev.Bucket, Key: ev.ObjectKey}, s.cfg.SignedURLTTL)
			if err != nil {
				s.logger.Warn("sign evidence url", "run_id", run.ID, "evidence_id", ev.ID, "error", err)
			} else {
				view.URL = u
			}
		}
		views = append(views, view)
	}

	return RunDetail{
		Run:       run,
		Items:     items,
		Responses: responses,
		Evidence:  views,
		Tally:     ComputeTally(items, responses, evidence),
		Warnings:  UnresolvedUploadFailures(evidence),
	}, nil
}

type ListRunsRequest struct {
	OrgID      string
	UnitID     string
	Statuses   []domain.RunStatus
	AssignedTo string
	// Since defaults to the configured list window before now.
	Since time.Time
	Limit int
}

func (s *Service) ListRuns(ctx context.Context, req ListRunsRequest) ([]domain.RunView, error) {
	statuses := make([]domain.RunStatus, 0, len(req.Statuses))
	for _, st := range req.Statuses {
		norm := domain.NormalizeRunStatus(string(st))
		if norm == "" {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, st)
		}
		statuses = append(statuses, norm)
	}
	since := req.Since
	if since.IsZero() {
		since = s.now().UTC().Add(-s.cfg.ListWindow)
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	views, err := s.runs.ListRuns(ctx, repo.RunFilter{
		OrgID:        strings.TrimSpace(req.OrgID),
		UnitID:       strings.TrimSpace(req.UnitID),
		Statuses:     statuses,
		AssignedTo:   strings.TrimSpace(req.AssignedTo),
		CreatedSince: since,
		Limit:        req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", timeoutAsTransient(err))
	}
	return views, nil
}

// ListOverdue returns unsubmitted runs whose calendar day has passed in the
// run's own time zone. Unlike ListRuns it has no creation window: the oldest
// open runs are the most overdue.
func (s *Service) ListOverdue(ctx context.Context, orgID string) ([]domain.RunView, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	views, err := s.runs.ListRuns(storeCtx, repo.RunFilter{
		OrgID:    strings.TrimSpace(orgID),
		Statuses: []domain.RunStatus{domain.RunStatusOpen, domain.RunStatusAssigned},
	})
	if err != nil {
		return nil, fmt.Errorf("list overdue runs: %w", timeoutAsTransient(err))
	}
	now := s.now()
	out := make([]domain.RunView, 0, len(views))
	for _, view := range views {
		overdue, err := clock.IsOverdue(view.DayKey, view.TimeZone, now)
		if err != nil {
			s.logger.Warn("overdue check skipped", "run_id", view.ID, "error", err)
			continue
		}
		if overdue {
			out = append(out, view)
		}
	}
	return out, nil
}
