// Package mlerr defines the structured error types used across training and
// serving. Every type carries enough context to produce a useful API error
// response and marshals itself into zerolog events for structured logging.
package mlerr

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// SchemaFormatError indicates a schema document that is missing required
// fields or has fields of the wrong shape. It is fatal for model loading:
// a bundle with a bad schema is never served.
type SchemaFormatError struct {
	Field  string
	Reason string
}

func (e *SchemaFormatError) Error() string {
	return fmt.Sprintf("schema format: field %q: %s", e.Field, e.Reason)
}

// MarshalZerologObject adds structured error context to a zerolog event.
func (e *SchemaFormatError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("field", e.Field).Str("reason", e.Reason).Str("type", "SchemaFormatError")
}

// NewSchemaFormatError creates a SchemaFormatError with a stack trace.
func NewSchemaFormatError(field, reason string) error {
	return errors.WithStack(&SchemaFormatError{Field: field, Reason: reason})
}

// MissingFeatureError is returned when an inference record lacks features the
// schema requires. It always names every missing feature so the caller can
// correct the payload in one pass.
type MissingFeatureError struct {
	Missing []string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing required features: %s", strings.Join(e.Missing, ", "))
}

// MarshalZerologObject adds structured error context to a zerolog event.
func (e *MissingFeatureError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Strs("missing", e.Missing).Str("type", "MissingFeatureError")
}

// NewMissingFeatureError creates a MissingFeatureError with a stack trace.
// The names must already be sorted; alignment guarantees that.
func NewMissingFeatureError(missing []string) error {
	return errors.WithStack(&MissingFeatureError{Missing: missing})
}

// TypeCoercionError indicates a feature value that cannot be interpreted as a
// number in a column the schema declares numeric.
type TypeCoercionError struct {
	Feature string
	Value   interface{}
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("feature %q: value %v cannot be coerced to a number", e.Feature, e.Value)
}

// MarshalZerologObject adds structured error context to a zerolog event.
func (e *TypeCoercionError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("feature", e.Feature).Interface("value", e.Value).Str("type", "TypeCoercionError")
}

// NewTypeCoercionError creates a TypeCoercionError with a stack trace.
func NewTypeCoercionError(feature string, value interface{}) error {
	return errors.WithStack(&TypeCoercionError{Feature: feature, Value: value})
}

// EncodingError indicates a malformed encoding table, e.g. a declared
// categorical feature with an empty table. This points at a corrupted
// artifact, not at bad request input.
type EncodingError struct {
	Feature string
	Reason  string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding table for feature %q: %s", e.Feature, e.Reason)
}

// MarshalZerologObject adds structured error context to a zerolog event.
func (e *EncodingError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("feature", e.Feature).Str("reason", e.Reason).Str("type", "EncodingError")
}

// NewEncodingError creates an EncodingError with a stack trace.
func NewEncodingError(feature, reason string) error {
	return errors.WithStack(&EncodingError{Feature: feature, Reason: reason})
}

// InferenceError wraps a failure of the underlying model call or an invalid
// raw output. Inference is never retried here; retry policy belongs to the
// caller.
type InferenceError struct {
	Backend string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference via %s failed: %v", e.Backend, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// MarshalZerologObject adds structured error context to a zerolog event.
func (e *InferenceError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("backend", e.Backend).AnErr("cause", e.Err).Str("type", "InferenceError")
}

// NewInferenceError creates an InferenceError with a stack trace.
func NewInferenceError(backend string, err error) error {
	return errors.WithStack(&InferenceError{Backend: backend, Err: err})
}

// Is reports whether err matches target, unwrapping as needed.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain matching target's type.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Wrap annotates err with a message, preserving the chain.
func Wrap(err error, message string) error { return errors.Wrap(err, message) }

// Wrapf annotates err with a formatted message, preserving the chain.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates a plain error with a stack trace.
func New(message string) error { return errors.New(message) }

// Newf creates a formatted error with a stack trace.
func Newf(format string, args ...interface{}) error { return errors.Newf(format, args...) }
