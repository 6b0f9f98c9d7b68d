package domain

import (
	"strings"
	"time"
)

type EvidenceKind string

const (
	EvidencePhoto     EvidenceKind = "photo"
	EvidenceSignature EvidenceKind = "signature"
)

func NormalizeEvidenceKind(value string) EvidenceKind {
	switch EvidenceKind(strings.ToLower(strings.TrimSpace(value))) {
	case EvidencePhoto:
		return EvidencePhoto
	case EvidenceSignature:
		return EvidenceSignature
	default:
		return ""
	}
}

type EvidenceStatus string

const (
	EvidenceStored EvidenceStatus = "stored"
	EvidenceFailed EvidenceStatus = "failed"
)

// Evidence is a pointer record for a blob kept in the object store. Failed
// upload attempts are kept without a slot so submit can report them.
type Evidence struct {
	ID           string
	RunID        string
	Kind         EvidenceKind
	Slot         *int
	Status       EvidenceStatus
	Bucket       string
	ObjectKey    string
	ContentType  string
	SizeBytes    int64
	ErrorMessage string
	UploadedBy   string
	UploadedAt   time.Time
}
