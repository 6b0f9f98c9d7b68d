package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/clock"
	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/platform/httpserver"
	"github.com/fleetcheck/fleetcheck/internal/repo"
	"github.com/fleetcheck/fleetcheck/internal/service/runs"
	"github.com/fleetcheck/fleetcheck/internal/service/scheduler"
)

type runService interface {
	CreateRun(ctx context.Context, req runs.CreateRunRequest) (runs.CreateRunResult, error)
	ClaimRun(ctx context.Context, runID string, info runs.AuditInfo) (domain.Run, error)
	UnclaimRun(ctx context.Context, runID string, info runs.AuditInfo) (domain.Run, error)
	RecordResponse(ctx context.Context, runID, itemID string, value domain.ResponseValue, info runs.AuditInfo) (domain.Response, error)
	AttachEvidence(ctx context.Context, req runs.AttachEvidenceRequest) (domain.Evidence, error)
	SubmitRun(ctx context.Context, runID string, info runs.AuditInfo) (runs.SubmitResult, error)
	GetRun(ctx context.Context, runID string) (runs.RunDetail, error)
	ListRuns(ctx context.Context, req runs.ListRunsRequest) ([]domain.RunView, error)
	ListOverdue(ctx context.Context, orgID string) ([]domain.RunView, error)
}

type reminderAdmin interface {
	UpsertReminder(ctx context.Context, cfg domain.ReminderConfig) (domain.ReminderConfig, error)
	SetReminderEnabled(ctx context.Context, id string, enabled bool) (domain.ReminderConfig, error)
	ListReminders(ctx context.Context, filter repo.ReminderFilter) ([]domain.ReminderConfig, error)
}

type tickRunner interface {
	Tick(ctx context.Context, now time.Time) (scheduler.TickReport, error)
}

type checklistsAPI struct {
	logger         *slog.Logger
	svc            runService
	reminders      reminderAdmin
	scheduler      tickRunner
	uploadMaxBytes int64
	now            func() time.Time
}

func newChecklistsAPI(logger *slog.Logger, svc runService, reminders reminderAdmin, sched tickRunner, uploadMaxBytes int64) *checklistsAPI {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = 25 << 20
	}
	return &checklistsAPI{
		logger:         logger,
		svc:            svc,
		reminders:      reminders,
		scheduler:      sched,
		uploadMaxBytes: uploadMaxBytes,
		now:            time.Now,
	}
}

func (api *checklistsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", api.handleCreateRun)
	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("GET /runs/overdue", api.handleListOverdue)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /runs/{run_id}/claim", api.handleClaimRun)
	mux.HandleFunc("POST /runs/{run_id}/unclaim", api.handleUnclaimRun)
	mux.HandleFunc("PUT /runs/{run_id}/responses/{item_id}", api.handleRecordResponse)
	mux.HandleFunc("POST /runs/{run_id}/evidence/{kind}", api.handleAttachEvidence)
	mux.HandleFunc("POST /runs/{run_id}/submit", api.handleSubmitRun)

	mux.HandleFunc("GET /reminders", api.handleListReminders)
	mux.HandleFunc("POST /reminders", api.handleUpsertReminder)
	mux.HandleFunc("PATCH /reminders/{reminder_id}", api.handleSetReminderEnabled)

	mux.HandleFunc("POST /scheduler/tick", api.handleSchedulerTick)
}

func auditInfo(r *http.Request) runs.AuditInfo {
	actor, _ := httpserver.ActorFromContext(r.Context())
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	return runs.AuditInfo{Actor: actor, RequestID: requestID}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *checklistsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *checklistsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(httpserver.HeaderRequestID),
	})
}

func (api *checklistsAPI) writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(httpserver.HeaderRequestID),
		"details":    details,
	})
}

// writeServiceError maps engine errors onto HTTP statuses.
func (api *checklistsAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	api.writeError(w, r, status, code)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, clock.ErrInvalidTimeZone):
		return http.StatusBadRequest, "invalid_time_zone"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyAssigned):
		return http.StatusConflict, "already_assigned"
	case errors.Is(err, domain.ErrNotAssignee):
		return http.StatusConflict, "not_assignee"
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return http.StatusConflict, "already_submitted"
	case errors.Is(err, repo.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrEvidenceUploadFailed):
		return http.StatusBadGateway, "evidence_upload_failed"
	case errors.Is(err, repo.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "transient_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
