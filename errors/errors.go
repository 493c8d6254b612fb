// Package errors provides custom error types for the note sync module
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeConflictFailure   ErrorCode = "CONFLICT_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
)

// Kind classifies the failure mode independently of where it occurred.
type Kind string

const (
	KindTimeout          Kind = "timeout"
	KindTransportFailure Kind = "transport_failure"
	KindRetriesExhausted Kind = "retries_exhausted"
	KindValidation       Kind = "validation"
	KindConflict         Kind = "conflict"
	KindStorage          Kind = "storage"
	KindUnavailable      Kind = "unavailable"
)

// Operation represents the type of sync operation
type Operation string

const (
	OpConnect    Operation = "connect"
	OpReconnect  Operation = "reconnect"
	OpDisconnect Operation = "disconnect"
	OpSend       Operation = "send"
	OpReceive    Operation = "receive"
	OpHeartbeat  Operation = "heartbeat"
	OpSync       Operation = "sync"
	OpResolve    Operation = "resolve"
	OpStore      Operation = "store"
	OpLoad       Operation = "load"
	OpClose      Operation = "close"
)

// Op is an alias used with the E builder for readability at call sites.
func Op(op string) Operation { return Operation(op) }

// Component names the part of the module an error originated from.
type Component string

// SyncError represents an error that occurred during synchronization
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "channel", "engine")
	Component Component

	// Failure classification
	Kind Kind

	// Error code for the error type
	Code ErrorCode

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Kind != "" {
		msg += fmt.Sprintf(" (%s)", e.Kind)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}

	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// E builds a SyncError from a free-form argument list. Recognized argument
// types: Operation, Component, Kind, ErrorCode, error (the cause) and string
// (a message that wraps the cause, or becomes the cause if none was given).
func E(args ...interface{}) *SyncError {
	e := &SyncError{}
	var msg string
	for _, arg := range args {
		switch a := arg.(type) {
		case Operation:
			e.Op = a
		case Component:
			e.Component = a
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case error:
			e.Err = a
		case string:
			msg = a
		}
	}
	if msg != "" {
		if e.Err != nil {
			e.Err = fmt.Errorf("%s: %w", msg, e.Err)
		} else {
			e.Err = errors.New(msg)
		}
	}
	e.Retryable = retryableKind(e.Kind)
	return e
}

func retryableKind(k Kind) bool {
	switch k {
	case KindTimeout, KindTransportFailure, KindStorage, KindUnavailable:
		return true
	default:
		return false
	}
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Kind:      KindStorage,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewConflictError creates a new conflict-related SyncError
func NewConflictError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConflictFailure,
		Kind:      KindConflict,
		Op:        op,
		Component: "engine",
		Err:       cause,
		Retryable: false,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Kind:      KindValidation,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewConnectionError creates a new connection-related SyncError. It is
// retryable unless the kind marks retries as exhausted.
func NewConnectionError(op Operation, kind Kind, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Kind:      kind,
		Op:        op,
		Component: "channel",
		Err:       cause,
		Retryable: kind != KindRetriesExhausted,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component Component, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsKind reports whether err is a SyncError of the given kind.
func IsKind(err error, kind Kind) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or the empty Kind if err is not a SyncError.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return ""
}
