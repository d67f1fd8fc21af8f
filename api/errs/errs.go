package errs

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ValidationErrors maps a field name to the message describing why it was rejected.
type ValidationErrors map[string]string

func (v ValidationErrors) Add(field, message string) {
	if _, ok := v[field]; !ok {
		v[field] = message
	}
}

func (v ValidationErrors) Merge(other ValidationErrors) {
	for field, message := range other {
		v.Add(field, message)
	}
}

// Returns nil when no field failed so the result can be returned directly as an error.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, v[field]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func Invalid(field, message string) ValidationErrors {
	return ValidationErrors{field: message}
}

type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

func Unauthorized(format string, args ...any) error {
	return &AuthorizationError{Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Resource string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

func NotFound(resource string, err error) error {
	return &NotFoundError{Resource: resource, Err: err}
}

// ConflictError is a uniqueness violation detected by the store after validation passed.
// Callers may retry with a different value.
type ConflictError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func (e *ConflictError) Fields() ValidationErrors {
	return ValidationErrors{e.Field: e.Message}
}

func Conflict(field, message string, err error) error {
	return &ConflictError{Field: field, Message: message, Err: err}
}

func StatusCode(err error) int {
	var validation ValidationErrors
	var authz *AuthorizationError
	var notFound *NotFoundError
	var conflict *ConflictError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &authz):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Field-level detail for an error, if it carries any.
func FieldErrors(err error) (ValidationErrors, bool) {
	var validation ValidationErrors
	if errors.As(err, &validation) {
		return validation, true
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Fields(), true
	}
	return nil, false
}
