// Package kerrors defines the fatal-error taxonomy of the counting pipeline.
//
// Every stage wraps its underlying cause with one of these types before it
// reaches the top of the call stack, so a caller can tell a bad flag from a
// dead disk from an undersized memory budget without parsing a message.
package kerrors

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind identifies which branch of the taxonomy an error belongs to.
type Kind int

const (
	_ Kind = iota
	KindConfig
	KindIO
	KindFormat
	KindCapacity
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindCapacity:
		return "capacity"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a fatal pipeline error tagged with its taxonomy Kind, the
// component that raised it, and (when applicable) the bin it was working on.
type Error struct {
	Kind      Kind
	Component string
	Bin       int // -1 when not bin-specific
	Cause     error
}

func (e *Error) Error() string {
	if e.Bin >= 0 {
		return fmt.Sprintf("%s[%s] bin %d: %v", e.Kind, e.Component, e.Bin, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Component, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// newErr wraps cause with xerrors.Errorf's %w before tagging it with the
// taxonomy Kind, so the original cause chain (including its call site)
// survives to the top-level handler in cmd/kmerflow.
func newErr(kind Kind, component string, bin int, cause error) *Error {
	wrapped := xerrors.Errorf("%s: %w", component, cause)
	return &Error{Kind: kind, Component: component, Bin: bin, Cause: wrapped}
}

// Config reports an invalid, missing, or inconsistent configuration value.
func Config(component string, cause error) error {
	return newErr(KindConfig, component, -1, cause)
}

// IO reports a read/write/open failure on an input, temp, or output file.
func IO(component string, cause error) error {
	return newErr(KindIO, component, -1, cause)
}

// IOBin is IO scoped to a specific bin id.
func IOBin(component string, bin int, cause error) error {
	return newErr(KindIO, component, bin, cause)
}

// Format reports an unrecognized input type or a mismatch between inputs.
func Format(component string, cause error) error {
	return newErr(KindFormat, component, -1, cause)
}

// Capacity reports a memory budget too small to satisfy the planner's minimums.
func Capacity(component string, cause error) error {
	return newErr(KindCapacity, component, -1, cause)
}

// Internal reports a condition that should be impossible absent a bug, such
// as hash-table probe exhaustion that spilling could not resolve.
func Internal(component string, bin int, cause error) error {
	return newErr(KindInternal, component, bin, cause)
}
