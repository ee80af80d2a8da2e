// Package bridge provides the connection layer between tool invocations
// and a remote CAD engine: transport abstraction, connection lifecycle,
// bounded retries, and transaction-safe execution with automatic rollback.
package bridge

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a bridge error for retry and surfacing decisions.
type ErrorKind string

const (
	// ErrorKindConnection indicates the transport is unreachable or the
	// validation handshake failed. Retried, then surfaced as unavailable.
	ErrorKindConnection ErrorKind = "connection"

	// ErrorKindTimeout indicates no response arrived within the call budget.
	// Retried while budget remains.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindRemoteFault indicates the engine executed the call and
	// reported a domain-level failure. Never retried: retrying a failed
	// mutation could double-apply it.
	ErrorKindRemoteFault ErrorKind = "remote_fault"

	// ErrorKindValidation indicates post-call state was invalid and the
	// operation was rolled back.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindRollback indicates rollback itself failed. The bridge can no
	// longer guarantee consistency; fatal.
	ErrorKindRollback ErrorKind = "rollback"

	// ErrorKindNotReady indicates invoke was called while the manager is
	// Disconnected or Connecting.
	ErrorKindNotReady ErrorKind = "not_ready"

	// ErrorKindBusy indicates a bounded wait behind a reconnect or document
	// slot expired.
	ErrorKindBusy ErrorKind = "busy"

	// ErrorKindProtocol indicates a wire protocol violation (e.g. a response
	// id that matches no in-flight request).
	ErrorKindProtocol ErrorKind = "protocol"

	// ErrorKindPolicy indicates the operation was denied by policy before
	// any checkpoint was opened.
	ErrorKindPolicy ErrorKind = "policy"
)

// Error is a classified bridge error with invocation context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Method is the remote method being invoked, if applicable.
	Method string `json:"method,omitempty"`

	// Document is the target document name, if applicable.
	Document string `json:"document,omitempty"`

	// Object is the target object name, if applicable.
	Object string `json:"object,omitempty"`

	// Checkpoint is the undo checkpoint label, if a transaction was open.
	Checkpoint string `json:"checkpoint,omitempty"`

	// Attempts is how many transport attempts were made.
	Attempts int `json:"attempts,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Method != "" {
		msg += fmt.Sprintf(" (method=%s)", e.Method)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two bridge errors match on kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewConnectionError creates a connection-class error.
func NewConnectionError(message string, err error) *Error {
	return &Error{Kind: ErrorKindConnection, Message: message, Err: err}
}

// NewTimeoutError creates a timeout-class error.
func NewTimeoutError(message string, err error) *Error {
	return &Error{Kind: ErrorKindTimeout, Message: message, Err: err}
}

// NewRemoteFaultError creates a remote-fault error carrying the engine's
// own message verbatim.
func NewRemoteFaultError(message string, err error) *Error {
	return &Error{Kind: ErrorKindRemoteFault, Message: message, Err: err}
}

// NewValidationError creates a validation-failure error. The surfaced
// message reads "reverted: <reason>".
func NewValidationError(reason string) *Error {
	return &Error{Kind: ErrorKindValidation, Message: "reverted: " + reason}
}

// NewRollbackError creates a rollback-failure error.
func NewRollbackError(message string, err error) *Error {
	return &Error{Kind: ErrorKindRollback, Message: message, Err: err}
}

// NewNotReadyError creates a not-ready error.
func NewNotReadyError(message string) *Error {
	return &Error{Kind: ErrorKindNotReady, Message: message}
}

// NewBusyError creates a busy error.
func NewBusyError(message string) *Error {
	return &Error{Kind: ErrorKindBusy, Message: message}
}

// NewProtocolError creates a protocol-violation error.
func NewProtocolError(message string, err error) *Error {
	return &Error{Kind: ErrorKindProtocol, Message: message, Err: err}
}

// NewPolicyError creates a policy-denied error.
func NewPolicyError(message string) *Error {
	return &Error{Kind: ErrorKindPolicy, Message: message}
}

// WithMethod adds method context to an error.
func (e *Error) WithMethod(method string) *Error {
	e.Method = method
	return e
}

// WithDocument adds document context to an error.
func (e *Error) WithDocument(doc string) *Error {
	e.Document = doc
	return e
}

// WithObject adds object context to an error.
func (e *Error) WithObject(obj string) *Error {
	e.Object = obj
	return e
}

// WithCheckpoint adds checkpoint label context to an error.
func (e *Error) WithCheckpoint(label string) *Error {
	e.Checkpoint = label
	return e
}

// WithAttempts records the transport attempt count on an error.
func (e *Error) WithAttempts(n int) *Error {
	e.Attempts = n
	return e
}

// KindOf extracts the bridge error kind from an error chain.
// Returns empty string if the chain holds no bridge error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable returns true if the error may succeed on retry.
// Only timeouts and lost connections are retryable; a remote fault means
// the engine already executed the call.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ErrorKindTimeout, ErrorKindConnection:
		return true
	default:
		return false
	}
}
