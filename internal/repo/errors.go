package repo

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a lost race: a uniqueness collision or a
	// conditional update whose precondition no longer held. It is always
	// recoverable by re-reading the row.
	ErrConflict = errors.New("conflict")
	// ErrTransient covers timeouts and connection failures worth retrying.
	ErrTransient = errors.New("transient store error")
)
