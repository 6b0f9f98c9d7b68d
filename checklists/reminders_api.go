package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/clock"
	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
	"github.com/fleetcheck/fleetcheck/internal/service/scheduler"
)

type reminder struct {
	ReminderID       string    `json:"reminder_id"`
	OrgID            string    `json:"org_id"`
	UnitID           string    `json:"unit_id"`
	TemplateID       string    `json:"template_id"`
	TimeZone         string    `json:"time_zone"`
	Trigger          string    `json:"trigger"`
	Enabled          bool      `json:"enabled"`
	LastEvaluatedDay string    `json:"last_evaluated_day,omitempty"`
	CreatedBy        string    `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func toReminder(c domain.ReminderConfig) reminder {
	return reminder{
		ReminderID:       c.ID,
		OrgID:            c.OrgID,
		UnitID:           c.UnitID,
		TemplateID:       c.TemplateID,
		TimeZone:         c.TimeZone,
		Trigger:          clock.Trigger{Hour: c.TriggerHour, Minute: c.TriggerMinute}.String(),
		Enabled:          c.Enabled,
		LastEvaluatedDay: c.LastEvaluatedDay,
		CreatedBy:        c.CreatedBy,
		CreatedAt:        c.CreatedAt,
	}
}

type upsertReminderRequest struct {
	OrgID      string `json:"org_id"`
	UnitID     string `json:"unit_id"`
	TemplateID string `json:"template_id"`
	TimeZone   string `json:"time_zone"`
	Trigger    string `json:"trigger"`
	Enabled    *bool  `json:"enabled,omitempty"`
}

type setReminderEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type tickResult struct {
	ReminderID string `json:"reminder_id"`
	UnitID     string `json:"unit_id"`
	TemplateID string `json:"template_id"`
	DayKey     string `json:"day_key,omitempty"`
	Outcome    string `json:"outcome"`
	RunID      string `json:"run_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (api *checklistsAPI) handleListReminders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.ReminderFilter{OrgID: q.Get("org_id"), UnitID: q.Get("unit_id")}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		filter.Limit = limit
	}
	configs, err := api.reminders.ListReminders(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]reminder, 0, len(configs))
	for _, c := range configs {
		out = append(out, toReminder(c))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"reminders": out})
}

func (api *checklistsAPI) handleUpsertReminder(w http.ResponseWriter, r *http.Request) {
	var req upsertReminderRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if _, err := clock.LoadLocation(req.TimeZone); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_time_zone")
		return
	}
	trigger, err := clock.ParseTrigger(req.Trigger)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_trigger")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	stored, err := api.reminders.UpsertReminder(r.Context(), domain.ReminderConfig{
		OrgID:         strings.TrimSpace(req.OrgID),
		UnitID:        strings.TrimSpace(req.UnitID),
		TemplateID:    strings.TrimSpace(req.TemplateID),
		TimeZone:      strings.TrimSpace(req.TimeZone),
		TriggerHour:   trigger.Hour,
		TriggerMinute: trigger.Minute,
		Enabled:       enabled,
		CreatedBy:     auditInfo(r).Actor,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toReminder(stored))
}

func (api *checklistsAPI) handleSetReminderEnabled(w http.ResponseWriter, r *http.Request) {
	var req setReminderEnabledRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Enabled == nil {
		api.writeError(w, r, http.StatusBadRequest, "enabled_required")
		return
	}
	stored, err := api.reminders.SetReminderEnabled(r.Context(), r.PathValue("reminder_id"), *req.Enabled)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toReminder(stored))
}

func (api *checklistsAPI) handleSchedulerTick(w http.ResponseWriter, r *http.Request) {
	report, err := api.scheduler.Tick(r.Context(), api.now())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	results := make([]tickResult, 0, len(report.Results))
	for _, res := range report.Results {
		item := tickResult{
			ReminderID: res.ReminderID,
			UnitID:     res.UnitID,
			TemplateID: res.TemplateID,
			DayKey:     res.DayKey,
			Outcome:    string(res.Outcome),
			RunID:      res.RunID,
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		results = append(results, item)
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"at":      report.At,
		"created": report.Count(scheduler.OutcomeCreated),
		"results": results,
	})
}
