package alerts

import "errors"

// ErrNotFound indicates a missing alert record.
var ErrNotFound = errors.New("alerts: not found")

// ErrConflict indicates the alert was not in the expected status for a
// transition, typically because another actor already moved it.
var ErrConflict = errors.New("alerts: status conflict")
