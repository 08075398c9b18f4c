package rules

import "errors"

var (
	// ErrNotFound indicates the rule does not exist.
	ErrNotFound = errors.New("rules: not found")
	// ErrDisabled indicates the rule exists but is soft-disabled.
	ErrDisabled = errors.New("rules: rule disabled")
)
