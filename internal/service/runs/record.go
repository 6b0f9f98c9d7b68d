package runs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fleetcheck/fleetcheck/internal/domain"
	"github.com/fleetcheck/fleetcheck/internal/repo"
	"github.com/fleetcheck/fleetcheck/internal/storage/objectstore"
)

// RecordResponse stores the latest answer for one template item. Responses
// are not audited individually; the submit event carries the tally.
func (s *Service) RecordResponse(ctx context.Context, runID, itemID string, value domain.ResponseValue, info AuditInfo) (domain.Response, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.Response{}, fmt.Errorf("%w: item id is required", domain.ErrInvalidInput)
	}
	if err := value.Validate(); err != nil {
		return domain.Response{}, err
	}
	run, err := s.getRun(ctx, runID)
	if err != nil {
		return domain.Response{}, err
	}
	if guard := CanRecord(run); !guard.Allowed {
		return domain.Response{}, guard.Error()
	}
	items, err := s.listItems(ctx, run.TemplateID)
	if err != nil {
		return domain.Response{}, err
	}
	if !containsItem(items, itemID) {
		return domain.Response{}, fmt.Errorf("%w: item %s is not part of template %s", domain.ErrInvalidInput, itemID, run.TemplateID)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	stored, err := s.responses.UpsertResponse(storeCtx, domain.Response{
		RunID:      run.ID,
		ItemID:     itemID,
		Value:      value,
		RecordedBy: strings.TrimSpace(info.Actor),
		RecordedAt: notBefore(s.now().UTC(), &run.CreatedAt),
	})
	if errors.Is(err, repo.ErrConflict) {
		// Submitted between the guard and the write.
		current, getErr := s.getRun(ctx, run.ID)
		if getErr != nil {
			return domain.Response{}, getErr
		}
		if guard := CanRecord(current); !guard.Allowed {
			return domain.Response{}, guard.Error()
		}
		return domain.Response{}, fmt.Errorf("record response: %w", repo.ErrTransient)
	}
	if err != nil {
		return domain.Response{}, fmt.Errorf("record response: %w", timeoutAsTransient(err))
	}
	return stored, nil
}

type AttachEvidenceRequest struct {
	RunID       string
	Kind        domain.EvidenceKind
	Name        string
	ContentType string
	Data        []byte
	Info        AuditInfo
}

// AttachEvidence uploads the blob and records its pointer. No lock is held
// on the run during the upload. A failed upload is recorded as a failed
// attempt and reported as ErrEvidenceUploadFailed; it does not block
// submission.
func (s *Service) AttachEvidence(ctx context.Context, req AttachEvidenceRequest) (domain.Evidence, error) {
	kind := domain.NormalizeEvidenceKind(string(req.Kind))
	if kind == "" {
		return domain.Evidence{}, fmt.Errorf("%w: unknown evidence kind %q", domain.ErrInvalidInput, req.Kind)
	}
	if len(req.Data) == 0 {
		return domain.Evidence{}, fmt.Errorf("%w: evidence body is empty", domain.ErrInvalidInput)
	}
	run, err := s.getRun(ctx, req.RunID)
	if err != nil {
		return domain.Evidence{}, err
	}
	if guard := CanRecord(run); !guard.Allowed {
		return domain.Evidence{}, guard.Error()
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = string(kind)
	}
	actor := strings.TrimSpace(req.Info.Actor)
	ptr, uploadErr := s.gateway.Put(ctx, objectstore.RunNamespace(run.ID), name, req.Data, req.ContentType)
	uploadedAt := notBefore(s.now().UTC(), &run.CreatedAt)
	if uploadErr != nil {
		s.recordFailedUpload(ctx, run, kind, ptr, actor, uploadErr, req.Info.RequestID)
		return domain.Evidence{}, fmt.Errorf("%w: %v", domain.ErrEvidenceUploadFailed, uploadErr)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	stored, err := s.evidence.RecordEvidence(storeCtx, domain.Evidence{
		ID:          s.newID(),
		RunID:       run.ID,
		Kind:        kind,
		Status:      domain.EvidenceStored,
		Bucket:      ptr.Bucket,
		ObjectKey:   ptr.Key,
		ContentType: ptr.ContentType,
		SizeBytes:   ptr.Size,
		UploadedBy:  actor,
		UploadedAt:  uploadedAt,
	})
	if err != nil {
		return domain.Evidence{}, fmt.Errorf("record evidence: %w", timeoutAsTransient(err))
	}
	s.logger.Debug("evidence stored", "run_id", run.ID, "kind", string(kind), "key", ptr.Key, "etag", ptr.ETag)
	return stored, nil
}

func (s *Service) recordFailedUpload(ctx context.Context, run domain.Run, kind domain.EvidenceKind, ptr objectstore.Pointer, actor string, uploadErr error, requestID string) {
	s.logger.Warn("evidence upload failed",
		"run_id", run.ID,
		"kind", string(kind),
		"request_id", requestID,
		"error", uploadErr,
	)
	storeCtx, cancel := s.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	_, err := s.evidence.RecordEvidence(storeCtx, domain.Evidence{
		ID:           s.newID(),
		RunID:        run.ID,
		Kind:         kind,
		Status:       domain.EvidenceFailed,
		Bucket:       ptr.Bucket,
		ObjectKey:    ptr.Key,
		ContentType:  ptr.ContentType,
		ErrorMessage: truncate(uploadErr.Error(), 500),
		UploadedBy:   actor,
		UploadedAt:   notBefore(s.now().UTC(), &run.CreatedAt),
	})
	if err != nil {
		s.logger.Warn("record failed evidence attempt", "run_id", run.ID, "error", err)
	}
}

func (s *Service) listItems(ctx context.Context, templateID string) ([]domain.TemplateItem, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	items, err := s.templates.ListTemplateItems(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("template %s items: %w", templateID, timeoutAsTransient(err))
	}
	return items, nil
}

func containsItem(items []domain.TemplateItem, id string) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
