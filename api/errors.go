// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and the error taxonomy of the monitor receive pipeline.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrClosed          = fmt.Errorf("pipeline is closed")

	// Resource exhaustion: recoverable, retried on the next pass.
	ErrOutOfMemory  = fmt.Errorf("out of dma buffers")
	ErrPartialAlloc = fmt.Errorf("partial dma buffer allocation")

	// Protocol anomalies: the current unit is abandoned, the pipeline continues.
	ErrRingAccess      = fmt.Errorf("ring access failed")
	ErrStreamTruncated = fmt.Errorf("status stream truncated")
	ErrDuplicatePPDU   = fmt.Errorf("ppdu id seen twice without completion")
	ErrBadLinkChain    = fmt.Errorf("malformed link descriptor chain")

	// Hardware-reported frame errors.
	ErrDMA = fmt.Errorf("hardware dma error")

	// Internal invariant violations.
	ErrDoubleFree    = fmt.Errorf("buffer released twice")
	ErrInvalidCookie = fmt.Errorf("invalid buffer cookie")
	ErrNotOwned      = fmt.Errorf("buffer not owned by caller")
	ErrUnmapped      = fmt.Errorf("buffer is not dma mapped")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeProtocol
	ErrCodeHardwareFrame
	ErrCodeInvariant
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid-argument"
	case ErrCodeResourceExhausted:
		return "resource-exhausted"
	case ErrCodeProtocol:
		return "protocol"
	case ErrCodeHardwareFrame:
		return "hardware-frame"
	case ErrCodeInvariant:
		return "invariant"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel the error was built from.
func (e *Error) Unwrap() error { return e.cause }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap builds a structured error around a sentinel so errors.Is keeps working.
func Wrap(code ErrorCode, cause error) *Error {
	e := NewError(code, cause.Error())
	e.cause = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Classify maps any pipeline error onto the taxonomy.
func Classify(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	switch {
	case errors.Is(err, ErrOutOfMemory), errors.Is(err, ErrPartialAlloc):
		return ErrCodeResourceExhausted
	case errors.Is(err, ErrRingAccess), errors.Is(err, ErrStreamTruncated),
		errors.Is(err, ErrDuplicatePPDU), errors.Is(err, ErrBadLinkChain):
		return ErrCodeProtocol
	case errors.Is(err, ErrDMA):
		return ErrCodeHardwareFrame
	case errors.Is(err, ErrDoubleFree), errors.Is(err, ErrInvalidCookie),
		errors.Is(err, ErrNotOwned), errors.Is(err, ErrUnmapped):
		return ErrCodeInvariant
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument
	}
	return ErrCodeInternal
}

// IsFatal reports whether err indicates corrupted internal state rather than
// an external or hardware condition.
func IsFatal(err error) bool {
	return Classify(err) == ErrCodeInvariant
}
