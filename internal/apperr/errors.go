// Package apperr holds the error classes shared across packages. Component
// errors wrap one of these so callers can branch with errors.Is.
package apperr

import "errors"

var (
	// ErrValidation marks malformed or out-of-contract input.
	ErrValidation = errors.New("validation failed")
	// ErrUpstream marks a failure reported by a remote service.
	ErrUpstream      = errors.New("upstream failure")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)
