package domain

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrAlreadyAssigned      = errors.New("run already assigned")
	ErrNotAssignee          = errors.New("actor is not the assignee")
	ErrAlreadySubmitted     = errors.New("run already submitted")
	ErrEvidenceUploadFailed = errors.New("evidence upload failed")
)
