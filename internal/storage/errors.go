package storage

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/starford/oohmap/internal/apperr"
)

// OperationError reports a failed store operation together with the status
// reported by the substrate.
type OperationError struct {
	Op     string
	Status int
	Err    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("storage: %s failed (status %d): %v", e.Op, e.Status, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	return &OperationError{Op: op, Status: statusOf(err), Err: err}
}

func statusOf(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
}
