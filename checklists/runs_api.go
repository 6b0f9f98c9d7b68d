package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/service/runs"
)

type run struct {
	RunID         string     `json:"run_id"`
	OrgID         string     `json:"org_id"`
	UnitID        string     `json:"unit_id"`
	TemplateID    string     `json:"template_id"`
	DayKey        string     `json:"day_key"`
	TimeZone      string     `json:"time_zone"`
	Status        string     `json:"status"`
	AssignedTo    string     `json:"assigned_to,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	SubmittedBy   string     `json:"submitted_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	UnitName      string     `json:"unit_name,omitempty"`
	TemplateTitle string     `json:"template_title,omitempty"`
}

func toRun(r domain.Run) run {
	return run{
		RunID:       r.ID,
		OrgID:       r.OrgID,
		UnitID:      r.UnitID,
		TemplateID:  r.TemplateID,
		DayKey:      r.DayKey,
		TimeZone:    r.TimeZone,
		Status:      string(r.Status),
		AssignedTo:  r.AssignedTo,
		CreatedBy:   r.CreatedBy,
		SubmittedBy: r.SubmittedBy,
		CreatedAt:   r.CreatedAt,
		AssignedAt:  r.AssignedAt,
		SubmittedAt: r.SubmittedAt,
	}
}

func toRunViews(views []domain.RunView) []run {
	out := make([]run, 0, len(views))
	for _, v := range views {
		item := toRun(v.Run)
		item.UnitName = v.UnitName
		item.TemplateTitle = v.TemplateTitle
		out = append(out, item)
	}
	return out
}

type response struct {
	ItemID     string    `json:"item_id"`
	OK         *bool     `json:"ok,omitempty"`
	Text       string    `json:"text,omitempty"`
	RecordedBy string    `json:"recorded_by,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

func toResponse(r domain.Response) response {
	return response{
		ItemID:     r.ItemID,
		OK:         r.Value.Bool,
		Text:       r.Value.Text,
		RecordedBy: r.RecordedBy,
		RecordedAt: r.RecordedAt,
	}
}

type evidence struct {
	EvidenceID  string    `json:"evidence_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Slot        *int      `json:"slot,omitempty"`
	ObjectKey   string    `json:"object_key,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	Error       string    `json:"error,omitempty"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
	URL         string    `json:"url,omitempty"`
}

func toEvidence(e domain.Evidence, url string) evidence {
	return evidence{
		EvidenceID:  e.ID,
		Kind:        string(e.Kind),
		Status:      string(e.Status),
		Slot:        e.Slot,
		ObjectKey:   e.ObjectKey,
		ContentType: e.ContentType,
		SizeBytes:   e.SizeBytes,
		Error:       e.ErrorMessage,
		UploadedBy:  e.UploadedBy,
		UploadedAt:  e.UploadedAt,
		URL:         url,
	}
}

type tally struct {
	TotalItems     int  `json:"total_items"`
	OKCount        int  `json:"ok_count"`
	AnsweredCount  int  `json:"answered_count"`
	PhotosAttached int  `json:"photos_attached"`
	Signed         bool `json:"signed"`
}

func toTally(t runs.Tally) tally {
	return tally{
		TotalItems:     t.TotalItems,
		OKCount:        t.OKCount,
		AnsweredCount:  t.AnsweredCount,
		PhotosAttached: t.PhotosAttached,
		Signed:         t.Signed,
	}
}

type warning struct {
	Code  string `json:"code"`
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

func toWarnings(ws []runs.Warning) []warning {
	out := make([]warning, 0, len(ws))
	for _, w := range ws {
		out = append(out, warning{Code: w.Code, Kind: string(w.Kind), Count: w.Count})
	}
	return out
}

type templateItem struct {
	ItemID    string `json:"item_id"`
	Label     string `json:"label"`
	Kind      string `json:"kind,omitempty"`
	Required  bool   `json:"required"`
	SortOrder int    `json:"sort_order"`
}

type runDetail struct {
	Run       run            `json:"run"`
	Items     []templateItem `json:"items"`
	Responses []response     `json:"responses"`
	Evidence  []evidence     `json:"evidence"`
	Tally     tally          `json:"tally"`
	Warnings  []warning      `json:"warnings"`
}

type submitResult struct {
	Run      run       `json:"run"`
	Tally    tally     `json:"tally"`
	Warnings []warning `json:"warnings"`
}

func toSubmitResult(res runs.SubmitResult) submitResult {
	return submitResult{Run: toRun(res.Run), Tally: toTally(res.Tally), Warnings: toWarnings(res.Warnings)}
}

// createRunRequest has no day or zone: manual starts always open today's
// run in the unit's zone, and unknown fields are rejected.
type createRunRequest struct {
	UnitID     string `json:"unit_id"`
	TemplateID string `json:"template_id"`
}

type recordResponseRequest struct {
	OK   *bool  `json:"ok,omitempty"`
	Text string `json:"text,omitempty"`
}

func (api *checklistsAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.UnitID) == "" || strings.TrimSpace(req.TemplateID) == "" {
		api.writeError(w, r, http.StatusBadRequest, "unit_id_and_template_id_required")
		return
	}

	res, err := api.svc.CreateRun(r.Context(), runs.CreateRunRequest{
		UnitID:     req.UnitID,
		TemplateID: req.TemplateID,
		Info:       auditInfo(r),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	w.Header().Set("Location", "/runs/"+res.Run.ID)
	api.writeJSON(w, status, map[string]any{
		"run":     toRun(res.Run),
		"created": res.Created,
	})
}

func (api *checklistsAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := runs.ListRunsRequest{
		OrgID:  q.Get("org_id"),
		UnitID: q.Get("unit_id"),
	}
	for _, st := range splitCSV(q.Get("status")) {
		req.Statuses = append(req.Statuses, domain.RunStatus(st))
	}
	if mine, _ := strconv.ParseBool(q.Get("mine")); mine {
		actor := auditInfo(r).Actor
		if actor == "" {
			api.writeError(w, r, http.StatusBadRequest, "actor_required")
			return
		}
		req.AssignedTo = actor
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_since")
			return
		}
		req.Since = since
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		req.Limit = limit
	}

	views, err := api.svc.ListRuns(r.Context(), req)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": toRunViews(views)})
}

func (api *checklistsAPI) handleListOverdue(w http.ResponseWriter, r *http.Request) {
	views, err := api.svc.ListOverdue(r.Context(), r.URL.Query().Get("org_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": toRunViews(views)})
}

func (api *checklistsAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	detail, err := api.svc.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	out := runDetail{
		Run:       toRun(detail.Run),
		Items:     make([]templateItem, 0, len(detail.Items)),
		Responses: make([]response, 0, len(detail.Responses)),
		Evidence:  make([]evidence, 0, len(detail.Evidence)),
		Tally:     toTally(detail.Tally),
		Warnings:  toWarnings(detail.Warnings),
	}
	for _, item := range detail.Items {
		out.Items = append(out.Items, templateItem{
			ItemID: item.ID, Label: item.Label, Kind: item.Kind, Required: item.Required, SortOrder: item.SortOrder,
		})
	}
	for _, resp := range detail.Responses {
		out.Responses = append(out.Responses, toResponse(resp))
	}
	for _, ev := range detail.Evidence {
		out.Evidence = append(out.Evidence, toEvidence(ev.Evidence, ev.URL))
	}
	api.writeJSON(w, http.StatusOK, out)
}

func (api *checklistsAPI) handleClaimRun(w http.ResponseWriter, r *http.Request) {
	info := auditInfo(r)
	if info.Actor == "" {
		api.writeError(w, r, http.StatusBadRequest, "actor_required")
		return
	}
	updated, err := api.svc.ClaimRun(r.Context(), r.PathValue("run_id"), info)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRun(updated))
}

func (api *checklistsAPI) handleUnclaimRun(w http.ResponseWriter, r *http.Request) {
	info := auditInfo(r)
	if info.Actor == "" {
		api.writeError(w, r, http.StatusBadRequest, "actor_required")
		return
	}
	updated, err := api.svc.UnclaimRun(r.Context(), r.PathValue("run_id"), info)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRun(updated))
}

func (api *checklistsAPI) handleRecordResponse(w http.ResponseWriter, r *http.Request) {
	var req recordResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	value := domain.ResponseValue{Bool: req.OK, Text: req.Text}
	stored, err := api.svc.RecordResponse(r.Context(), r.PathValue("run_id"), r.PathValue("item_id"), value, auditInfo(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toResponse(stored))
}

func (api *checklistsAPI) handleAttachEvidence(w http.ResponseWriter, r *http.Request) {
	kind := domain.NormalizeEvidenceKind(r.PathValue("kind"))
	if kind == "" {
		api.writeError(w, r, http.StatusBadRequest, "invalid_evidence_kind")
		return
	}

	body := http.MaxBytesReader(w, r.Body, api.uploadMaxBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.writeError(w, r, http.StatusRequestEntityTooLarge, "evidence_too_large")
			return
		}
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	if len(data) == 0 {
		api.writeError(w, r, http.StatusBadRequest, "evidence_body_required")
		return
	}

	stored, err := api.svc.AttachEvidence(r.Context(), runs.AttachEvidenceRequest{
		RunID:       r.PathValue("run_id"),
		Kind:        kind,
		Name:        r.URL.Query().Get("name"),
		ContentType: r.Header.Get("Content-Type"),
		Data:        data,
		Info:        auditInfo(r),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toEvidence(stored, ""))
}

func (api *checklistsAPI) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	res, err := api.svc.SubmitRun(r.Context(), r.PathValue("run_id"), auditInfo(r))
	if errors.Is(err, domain.ErrAlreadySubmitted) && res.Run.ID != "" {
		api.writeErrorWithDetails(w, r, http.StatusConflict, "already_submitted", toSubmitResult(res))
		return
	}
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toSubmitResult(res))
}
