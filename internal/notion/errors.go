package notion

import (
	"fmt"

	"github.com/starford/oohmap/internal/apperr"
)

var (
	// ErrMissingParent is returned when a record in the parent chain has no parent.
	ErrMissingParent = fmt.Errorf("notion: record has no parent: %w", apperr.ErrNotFound)
	// ErrParentChainTooDeep is returned when no dataset is reached within the hop limit.
	ErrParentChainTooDeep = fmt.Errorf("notion: parent chain too deep: %w", apperr.ErrNotFound)
)

// UnsupportedParentError reports a parent kind that is neither a dataset nor a page.
type UnsupportedParentError struct {
	Kind string
}

func (e *UnsupportedParentError) Error() string {
	return fmt.Sprintf("notion: unsupported parent type %q", e.Kind)
}

func (e *UnsupportedParentError) Unwrap() error { return apperr.ErrNotFound }

// UpstreamError carries a non-2xx response from the Notion API.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("notion: %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return apperr.ErrUpstream }
