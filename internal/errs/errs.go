// Package errs defines the error taxonomy shared across the pipeline engine.
// Every error surfaced above a single unit carries a Kind so callers can map
// it to a deterministic exit class without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy buckets the engine
// distinguishes between. Kinds never change meaning between releases.
type Kind string

const (
	// Config covers invalid or missing configuration, including unknown
	// options and unrecognised hash algorithms.
	Config Kind = "config_error"
	// Connector covers source I/O, authorization, and missing-resource errors.
	Connector Kind = "connector_error"
	// Processing covers unit iteration, interpolation, and parsing errors.
	Processing Kind = "processing_error"
	// Inference covers provider I/O, streaming failures, deadlines, and
	// cancellation.
	Inference Kind = "inference_error"
	// Provider covers capability mismatches such as requesting streaming from
	// a provider that does not support it.
	Provider Kind = "provider_error"
	// Export covers sink write failures.
	Export Kind = "export_error"
	// Secret covers secret resolution failures.
	Secret Kind = "secret_error"
)

// Error is the concrete error type returned across package boundaries. It
// carries the taxonomy Kind plus optional unit/step attribution so the
// executor can decide whether continue_on_error applies.
type Error struct {
	Kind    Kind
	Message string
	UnitID  string
	StepID  string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithUnit returns a copy of e attributed to the given unit and step.
func (e *Error) WithUnit(unitID, stepID string) *Error {
	cp := *e
	cp.UnitID = unitID
	cp.StepID = stepID
	return &cp
}

// KindOf extracts the Kind from err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
