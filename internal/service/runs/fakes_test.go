package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
	"github.com/fleetcheck/fleetcheck/internal/storage/objectstore"
)

// fakeStore is an in-memory repository that enforces the same uniqueness
// and conditional-update rules as the Postgres stores.
type fakeStore struct {
	mu        sync.Mutex
	runs      map[string]domain.Run
	byDay     map[string]string
	responses map[string]domain.Response
	evidence  []domain.Evidence
	units     map[string]domain.Unit
	items     map[string][]domain.TemplateItem

	createErrs []error
	updateErrs []error
	// beforeUpsert runs ahead of a response write, outside the lock.
	beforeUpsert func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:      map[string]domain.Run{},
		byDay:     map[string]string{},
		responses: map[string]domain.Response{},
		units:     map[string]domain.Unit{},
		items:     map[string][]domain.TemplateItem{},
	}
}

func dayIndex(unitID, templateID, dayKey string) string {
	return unitID + "|" + templateID + "|" + dayKey
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeStore) CreateRunIfAbsent(ctx context.Context, run domain.Run) (domain.Run, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := popErr(&f.createErrs); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Simulate a winner committed by someone else.
			winner := run
			winner.ID = "winner-" + run.ID
			f.runs[winner.ID] = winner
			f.byDay[dayIndex(run.UnitID, run.TemplateID, run.DayKey)] = winner.ID
		}
		return domain.Run{}, false, err
	}
	key := dayIndex(run.UnitID, run.TemplateID, run.DayKey)
	if id, ok := f.byDay[key]; ok {
		return f.runs[id], false, nil
	}
	run.Status = domain.RunStatusOpen
	f.runs[run.ID] = run
	f.byDay[key] = run.ID
	return run, true, nil
}

func (f *fakeStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (f *fakeStore) GetRunByDay(ctx context.Context, unitID, templateID, dayKey string) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byDay[dayIndex(unitID, templateID, dayKey)]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return f.runs[id], nil
}

func (f *fakeStore) UpdateRun(ctx context.Context, id string, expected repo.RunPrecondition, patch repo.RunPatch) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := popErr(&f.updateErrs); err != nil {
		return domain.Run{}, err
	}
	run, ok := f.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	if run.Status != expected.Status || run.AssignedTo != expected.AssignedTo {
		return domain.Run{}, fmt.Errorf("update run %s: %w", id, repo.ErrConflict)
	}
	run.Status = patch.Status
	run.AssignedTo = patch.AssignedTo
	run.AssignedAt = patch.AssignedAt
	run.SubmittedBy = patch.SubmittedBy
	run.SubmittedAt = patch.SubmittedAt
	f.runs[id] = run
	return run, nil
}

func (f *fakeStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.RunView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RunView, 0)
	for _, run := range f.runs {
		if filter.OrgID != "" && run.OrgID != filter.OrgID {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, st := range filter.Statuses {
				if run.Status == st {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		if filter.AssignedTo != "" && run.AssignedTo != filter.AssignedTo {
			continue
		}
		if !filter.CreatedSince.IsZero() && run.CreatedAt.Before(filter.CreatedSince) {
			continue
		}
		out = append(out, domain.RunView{Run: run, UnitName: f.units[run.UnitID].Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpsertResponse(ctx context.Context, response domain.Response) (domain.Response, error) {
	if hook := f.beforeUpsert; hook != nil {
		f.beforeUpsert = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[response.RunID]; !ok || !run.Status.Mutable() {
		return domain.Response{}, fmt.Errorf("upsert response: %w", repo.ErrConflict)
	}
	f.responses[response.RunID+"|"+response.ItemID] = response
	return response, nil
}

func (f *fakeStore) ListResponses(ctx context.Context, runID string) ([]domain.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Response, 0)
	for _, r := range f.responses {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (f *fakeStore) RecordEvidence(ctx context.Context, ev domain.Evidence) (domain.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Status == domain.EvidenceStored {
		slot := 0
		if ev.Kind == domain.EvidencePhoto {
			for _, existing := range f.evidence {
				if existing.RunID == ev.RunID && existing.Kind == domain.EvidencePhoto && existing.Slot != nil {
					slot++
				}
			}
		}
		ev.Slot = &slot
	}
	f.evidence = append(f.evidence, ev)
	return ev, nil
}

func (f *fakeStore) ListEvidence(ctx context.Context, runID string) ([]domain.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Evidence, 0)
	for _, ev := range f.evidence {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeStore) ListTemplateItems(ctx context.Context, templateID string) ([]domain.TemplateItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TemplateItem(nil), f.items[templateID]...), nil
}

func (f *fakeStore) GetUnit(ctx context.Context, id string) (domain.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unit, ok := f.units[id]
	if !ok {
		return domain.Unit{}, repo.ErrNotFound
	}
	return unit, nil
}

type fakeAuditAppender struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	err    error
}

func (f *fakeAuditAppender) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.events = append(f.events, event)
	return int64(len(f.events)), nil
}

func (f *fakeAuditAppender) byAction(action string) []domain.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AuditEvent, 0)
	for _, ev := range f.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

type fakeGateway struct {
	mu      sync.Mutex
	putErrs []error
	puts    int
}

func (g *fakeGateway) Put(ctx context.Context, namespace, name string, data []byte, contentType string) (objectstore.Pointer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.puts++
	ptr := objectstore.Pointer{
		Bucket:      "evidence",
		Key:         fmt.Sprintf("%s/%d-%s", namespace, g.puts, name),
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	if err := popErr(&g.putErrs); err != nil {
		return objectstore.Pointer{Bucket: ptr.Bucket, Key: ptr.Key, ContentType: contentType}, err
	}
	return ptr, nil
}

func (g *fakeGateway) SignedURL(ctx context.Context, p objectstore.Pointer, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blobs.test/%s/%s?ttl=%d", p.Bucket, p.Key, int(ttl.Seconds())), nil
}

type testEnv struct {
	svc     *Service
	store   *fakeStore
	audit   *fakeAuditAppender
	gateway *fakeGateway
	now     time.Time
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestEnv seeds one Los Angeles unit and a five-item template.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	store.units["unit-1"] = domain.Unit{ID: "unit-1", OrgID: "org-1", Name: "Truck 7", TimeZone: "America/Los_Angeles"}
	for i := 1; i <= 5; i++ {
		store.items["tmpl-1"] = append(store.items["tmpl-1"], domain.TemplateItem{
			ID: fmt.Sprintf("item-%d", i), TemplateID: "tmpl-1", Label: fmt.Sprintf("check %d", i), SortOrder: i,
		})
	}
	audit := &fakeAuditAppender{}
	gateway := &fakeGateway{}

	svc, err := New(DefaultConfig(), Deps{
		Runs:      store,
		Responses: store,
		Evidence:  store,
		Templates: store,
		Units:     store,
		Audit:     audit,
		Gateway:   gateway,
		Logger:    newTestLogger(),
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	env := &testEnv{
		svc:     svc,
		store:   store,
		audit:   audit,
		gateway: gateway,
		// 08:01 in Los Angeles on 2024-06-01.
		now: time.Date(2024, 6, 1, 15, 1, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return env.now }
	ids := 0
	var idMu sync.Mutex
	svc.newID = func() string {
		idMu.Lock()
		defer idMu.Unlock()
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	return env
}

func (e *testEnv) createRun(t *testing.T) domain.Run {
	t.Helper()
	res, err := e.svc.CreateRun(context.Background(), CreateRunRequest{
		UnitID:     "unit-1",
		TemplateID: "tmpl-1",
		Info:       AuditInfo{Actor: "dispatcher", RequestID: "req-create"},
	})
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	return res.Run
}
