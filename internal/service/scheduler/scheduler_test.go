package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
	"github.com/fleetcheck/fleetcheck/internal/service/runs"
)

type fakeCreator struct {
	mu       sync.Mutex
	runs     map[string]domain.Run
	requests []runs.ScheduledRunRequest
	errs     map[string][]error
}

func newFakeCreator() *fakeCreator {
	return &fakeCreator{runs: map[string]domain.Run{}, errs: map[string][]error{}}
}

func (f *fakeCreator) CreateScheduledRun(ctx context.Context, req runs.ScheduledRunRequest) (runs.CreateRunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if queue := f.errs[req.UnitID]; len(queue) > 0 {
		f.errs[req.UnitID] = queue[1:]
		return runs.CreateRunResult{}, queue[0]
	}
	key := req.UnitID + "|" + req.TemplateID + "|" + req.DayKey
	if run, ok := f.runs[key]; ok {
		return runs.CreateRunResult{Run: run}, nil
	}
	run := domain.Run{
		ID:         fmt.Sprintf("run-%d", len(f.runs)+1),
		UnitID:     req.UnitID,
		TemplateID: req.TemplateID,
		DayKey:     req.DayKey,
		TimeZone:   req.TimeZone,
		Status:     domain.RunStatusOpen,
	}
	f.runs[key] = run
	return runs.CreateRunResult{Run: run, Created: true}, nil
}

func (f *fakeCreator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeConfigs struct {
	mu       sync.Mutex
	configs  []domain.ReminderConfig
	listErrs []error
	markErr  error
	lists    int
}

func (f *fakeConfigs) ListEnabled(ctx context.Context) ([]domain.ReminderConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	out := make([]domain.ReminderConfig, 0, len(f.configs))
	for _, cfg := range f.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (f *fakeConfigs) MarkEvaluated(ctx context.Context, id, dayKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	for i := range f.configs {
		if f.configs[i].ID != id {
			continue
		}
		if f.configs[i].LastEvaluatedDay < dayKey {
			f.configs[i].LastEvaluatedDay = dayKey
		}
		return nil
	}
	return repo.ErrNotFound
}

func (f *fakeConfigs) lastEvaluated(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cfg := range f.configs {
		if cfg.ID == id {
			return cfg.LastEvaluatedDay
		}
	}
	return ""
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = time.Millisecond
	cfg.Interval = 5 * time.Millisecond
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config, creator RunCreator, configs ConfigStore) *Scheduler {
	t.Helper()
	s, err := New(cfg, creator, configs, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return s
}

func laMorning() domain.ReminderConfig {
	return domain.ReminderConfig{
		ID: "rem-1", UnitID: "unit-1", TemplateID: "tmpl-1",
		TimeZone: "America/Los_Angeles", TriggerHour: 8, Enabled: true,
	}
}

func mustLoad(t *testing.T, zone string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(zone)
	if err != nil {
		t.Fatalf("load %s: %v", zone, err)
	}
	return loc
}

func TestTickCreatesOnlyOnceTriggerPassed(t *testing.T) {
	defer goleak.VerifyNone(t)
	la := mustLoad(t, "America/Los_Angeles")
	creator := newFakeCreator()
	configs := &fakeConfigs{configs: []domain.ReminderConfig{laMorning()}}
	s := newTestScheduler(t, testConfig(), creator, configs)

	early, err := s.Tick(context.Background(), time.Date(2024, 6, 1, 7, 59, 0, 0, la))
	if err != nil {
		t.Fatalf("Tick() err=%v", err)
	}
	if early.Count(OutcomeNotDue) != 1 || creator.calls() != 0 {
		t.Fatalf("expected not due at 07:59, got %+v", early.Results)
	}

	late, err := s.Tick(context.Background(), time.Date(2024, 6, 1, 8, 1, 0, 0, la))
	if err != nil {
		t.Fatalf("Tick() err=%v", err)
	}
	if late.Count(OutcomeCreated) != 1 {
		t.Fatalf("expected run created at 08:01, got %+v", late.Results)
	}
	res := late.Results[0]
	if res.DayKey != "2024-06-01" || res.RunID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	req := creator.requests[0]
	if req.DayKey != "2024-06-01" || req.TimeZone != "America/Los_Angeles" {
		t.Fatalf("unexpected create request %+v", req)
	}
	if got := configs.lastEvaluated("rem-1"); got != "2024-06-01" {
		t.Fatalf("last evaluated=%q", got)
	}

	again, err := s.Tick(context.Background(), time.Date(2024, 6, 1, 9, 0, 0, 0, la))
	if err != nil {
		t.Fatalf("Tick() err=%v", err)
	}
	if again.Count(OutcomeAlreadyEvaluated) != 1 || creator.calls() != 1 {
		t.Fatalf("expected no second create, got %+v", again.Results)
	}
}

func TestTickUsesEachConfigsOwnZone(t *testing.T) {
	defer goleak.VerifyNone(t)
	creator := newFakeCreator()
	tokyo := laMorning()
	tokyo.ID, tokyo.UnitID, tokyo.TimeZone = "rem-2", "unit-2", "Asia/Tokyo"
	configs := &fakeConfigs{configs: []domain.ReminderConfig{laMorning(), tokyo}}
	s := newTestScheduler(t, testConfig(), creator, configs)

	// 15:30 UTC: 08:30 in Los Angeles on June 1, 00:30 in Tokyo on June 2.
	report, err := s.Tick(context.Background(), time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Tick() err=%v", err)
	}
	byID := map[string]Result{}
	for _, res := range report.Results {
		byID[res.ReminderID] = res
	}
	if byID["rem-1"].Outcome != OutcomeCreated || byID["rem-1"].DayKey != "2024-06-01" {
		t.Fatalf("unexpected LA result %+v", byID["rem-1"])
	}
	if byID["rem-2"].Outcome != OutcomeNotDue || byID["rem-2"].DayKey != "2024-06-02" {
		t.Fatalf("unexpected Tokyo result %+v", byID["rem-2"])
	}
}

func TestTickReusesExistingRunAndMarksDay(t *testing.T) {
	defer goleak.VerifyNone(t)
	creator := newFakeCreator()
	creator.runs["unit-1|tmpl-1|2024-06-01"] = domain.Run{ID: "manual-run"}
	configs := &fakeConfigs{configs: []domain.ReminderConfig{laMorning()}}
	s := newTestScheduler(t, testConfig(), creator, configs)

	report, err := s.Tick(context.Background(), time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Tick() err=%v", err)
	}
	if report.Count(OutcomeExisting) != 1 || report.Results[0].RunID != "manual-run" {
		t.Fatalf("unexpected report %+v", report.Results)
	}
	if got := configs.lastEvaluated("rem-1"); got != "2024-06-01" {
		t.Fatalf("last evaluated=%q", got)
	}
}

func TestTickIsolatesFailures(t *testing.T) {
	defer goleak.VerifyNone(t)
	creator := newFakeCreator()
	creator.errs["unit-bad"] = []error{fmt.Errorf("unit unit-bad: %w", repo.ErrNotFound)}

	broken := laMorning()
	broken.ID, broken.UnitID = "rem-broken", "unit-bad"
	badZone := laMorning()
	badZone.ID, badZone.UnitID, badZone.TimeZone = "rem-zone", "unit-3", "Pacific/Atlantis"
	disabled := laMorning()
	disabled.ID, disabled.UnitID, disabled.Enabled = "rem-off", "unit-4", false

	configs := &fakeConfigs{configs: []domain.ReminderConfig{broken, badZone, laMorning(), disabled}}
	s := newTestScheduler(t, testConfig(), creator, configs)

	report, err := s.Tick(context.Background(), time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Tick() err=%v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("results=%d, want 3 enabled configs", len(report.Results))
	}
	if report.Count(OutcomeFailed) != 1 || report.Count(OutcomeInvalidZone) != 1 || report.Count(OutcomeCreated) != 1 {
		t.Fatalf("unexpected report %+v", report.Results)
	}
	if creator.calls() != 2 {
		t.Fatalf("create calls=%d, want 2 (invalid zone must not create)", creator.calls())
	}
	if got := configs.lastEvaluated("rem-broken"); got != "" {
		t.Fatalf("failed config must not be marked, got %q", got)
	}
}

func TestTickRetriesTransientErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	creator := newFakeCreator()
	creator.errs["unit-1"] = []error{
		fmt.Errorf("create run: %w", repo.ErrTransient),
		fmt.Errorf("create run: %w", repo.ErrTransient),
	}
	configs := &fakeConfigs{configs: []domain.ReminderConfig{laMorning()}}
	s := newTestScheduler(t, testConfig(), creator, configs)

	report, err := s.Tick(context.Background(), time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Tick() err=%v", err)
	}
	if report.Count(OutcomeCreated) != 1 || creator.calls() != 3 {
		t.Fatalf("expected success on third attempt, calls=%d results=%+v", creator.calls(), report.Results)
	}
}

func TestTickGivesUpAfterMaxAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)
	creator := newFakeCreator()
	for i := 0; i < 5; i++ {
		creator.errs["unit-1"] = append(creator.errs["unit-1"], fmt.Errorf("create run: %w", repo.ErrTransient))
	}
	configs := &fakeConfigs{configs: []domain.ReminderConfig{laMorning()}}
	s := newTestScheduler(t, testConfig(), creator, configs)

	report, err := s.Tick(context.Background(), time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Tick() err=%v", err)
	}
	if report.Count(OutcomeFailed) != 1 || !errors.Is(report.Results[0].Err, repo.ErrTransient) {
		t.Fatalf("unexpected report %+v", report.Results)
	}
	if creator.calls() != testConfig().MaxAttempts {
		t.Fatalf("calls=%d, want %d", creator.calls(), testConfig().MaxAttempts)
	}
	if got := configs.lastEvaluated("rem-1"); got != "" {
		t.Fatalf("config must stay unevaluated, got %q", got)
	}
}

func TestTickMarkFailureLeavesRunForNextTick(t *testing.T) {
	defer goleak.VerifyNone(t)
	creator := newFakeCreator()
	configs := &fakeConfigs{configs: []domain.ReminderConfig{laMorning()}, markErr: errors.New("read-only transaction")}
	s := newTestScheduler(t, testConfig(), creator, configs)
	now := time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC)

	first, err := s.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick() err=%v", err)
	}
	if first.Count(OutcomeFailed) != 1 || first.Results[0].RunID == "" {
		t.Fatalf("unexpected report %+v", first.Results)
	}

	configs.mu.Lock()
	configs.markErr = nil
	configs.mu.Unlock()
	second, err := s.Tick(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Tick() err=%v", err)
	}
	if second.Count(OutcomeExisting) != 1 || second.Results[0].RunID != first.Results[0].RunID {
		t.Fatalf("expected same run to be found, got %+v", second.Results)
	}
	if len(creator.runs) != 1 {
		t.Fatalf("runs=%d, want 1", len(creator.runs))
	}
}

func TestTickListFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	configs := &fakeConfigs{listErrs: []error{errors.New("syntax error")}}
	s := newTestScheduler(t, testConfig(), newFakeCreator(), configs)
	if _, err := s.Tick(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected list error")
	}
	if configs.lists != 1 {
		t.Fatalf("non-transient list error must not be retried, lists=%d", configs.lists)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	creator := newFakeCreator()
	configs := &fakeConfigs{configs: []domain.ReminderConfig{laMorning()}}
	s := newTestScheduler(t, testConfig(), creator, configs)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for configs.lastEvaluated("rem-1") == "" {
		select {
		case <-deadline:
			t.Fatalf("scheduler never ticked")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if creator.calls() != 1 {
		t.Fatalf("create calls=%d, want 1 across ticks", creator.calls())
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.Concurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}
	if _, err := New(DefaultConfig(), nil, &fakeConfigs{}, nil); err == nil {
		t.Fatalf("expected error for nil creator")
	}
}
