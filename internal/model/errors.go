package model

import "errors"

// Error taxonomy. Every error returned by the core wraps exactly one of
// these; classify with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConsistency = errors.New("consistency violated")
	ErrStorage     = errors.New("storage unavailable")
)
