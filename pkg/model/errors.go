package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports field-level validation failures as a map from
// field name to message. It surfaces as a 400 with {"errors": {...}}.
type ValidationError struct {
	Errors map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Errors[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: map[string]string{field: message}}
}

// SearchParseError reports query-compiler failures keyed by
// "Model.attr" or "Model.attr.relation".
type SearchParseError struct {
	Errors map[string]string
}

func (e *SearchParseError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Errors[k]))
	}
	return "search parse failed: " + strings.Join(parts, "; ")
}

// NotFoundError identifies a missing resource by kind and id.
type NotFoundError struct {
	Kind string
	ID   int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("There is no %s with id %d", e.Kind, e.ID)
}

// UnauthorizedError marks an attempt to reach a restricted referent.
type UnauthorizedError struct {
	Kind string
	ID   int
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("You are not authorized to access the %s with id %d", e.Kind, e.ID)
}

// ToolNotInstalledError names an external toolkit binary that could not be
// found on the PATH.
type ToolNotInstalledError struct {
	Tool string
}

func (e *ToolNotInstalledError) Error() string {
	return fmt.Sprintf("%s is not installed.", e.Tool)
}

// CircularReferenceError reports a cycle while expanding collection
// references, identified by the collection id where the cycle closed.
type CircularReferenceError struct {
	CollectionID int
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("Circular collection reference error: collection %d ultimately references itself", e.CollectionID)
}

var (
	// ErrReadOnlyMode rejects any mutating request while the instance runs
	// with readonly=1.
	ErrReadOnlyMode = errors.New("This OLD is running in read-only mode and all write requests are disabled")

	// ErrReadOnlyResource rejects writes against backup collections.
	ErrReadOnlyResource = errors.New("This resource is read-only.")

	// ErrUnauthenticated is returned when no authenticated user is present.
	ErrUnauthenticated = errors.New("Authentication is required to access this resource.")

	// ErrVacuousUpdate rejects an update whose every field matches the
	// current state under the field-wise distinct check.
	ErrVacuousUpdate = errors.New("The update request failed because the submitted data were not new.")
)
