package service

import (
	"errors"
	"sort"
	"strings"

	"github.com/iliyamo/restaurant-waitlist/internal/repository"
)

// Failures returned by the Coordinator.  Callers match them with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrConcurrencyTimeout = errors.New("restaurant is busy, retry")
	ErrStoreFailure       = errors.New("store failure")
	ErrForbidden          = repository.ErrForbidden
)

// ValidationError lists the rejected input fields with a message each.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) true for every ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
