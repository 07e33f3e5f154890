package ports

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aura-hunt/backend/internal/schema"
)

// Error taxonomy shared by every adapter. Only ErrBackendUnavailable may be
// retried automatically.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidationFailed    = errors.New("validation failed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrBackendUnavailable  = errors.New("backend unavailable")
)

// ValidationError describes a document rejected by the schema layer. On read
// paths Raw holds the stored bytes as found.
type ValidationError struct {
	DataType string
	Key      string
	Errors   schema.FieldErrors
	// Migration is the migration engine error, if migration was the failing stage.
	Migration error
	Raw       json.RawMessage
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", ErrValidationFailed, e.DataType)
	if e.Key != "" {
		fmt.Fprintf(&b, " %s", e.Key)
	}
	if e.Migration != nil {
		fmt.Fprintf(&b, ": migration: %v", e.Migration)
	} else if len(e.Errors) > 0 {
		fmt.Fprintf(&b, ": %s", e.Errors.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() []error {
	errs := []error{ErrValidationFailed}
	if e.Migration != nil {
		errs = append(errs, e.Migration)
	}
	return errs
}

// Invalid wraps the schema error of a rejected write.
func Invalid(dataType, key string, err error) error {
	if err == nil {
		return nil
	}
	ve := &ValidationError{DataType: dataType, Key: key}
	var fe schema.FieldErrors
	if errors.As(err, &fe) {
		ve.Errors = fe
	} else {
		ve.Errors = schema.FieldErrors{{Message: err.Error()}}
	}
	return ve
}

// FromResult converts a failed validation result read from key.
func FromResult(dataType, key string, res schema.Result, raw []byte) error {
	return &ValidationError{
		DataType:  dataType,
		Key:       key,
		Errors:    res.Errors,
		Migration: res.MigrationErr,
		Raw:       slices.Clone(raw),
	}
}

// NotFound returns an ErrNotFound error naming what was missing.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflict returns an ErrConcurrencyConflict error for key.
func Conflict(key string) error {
	return fmt.Errorf("%w: %s was modified concurrently", ErrConcurrencyConflict, key)
}

// Unavailable wraps a backend failure so both ErrBackendUnavailable and the
// cause (for example context.Canceled) match with errors.Is.
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, cause)
}

// Retryable reports whether err may be retried without changing the request.
func Retryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

func contains(list []string, s string) bool {
	return slices.Contains(list, s)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
