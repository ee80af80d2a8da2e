// Package protocol defines the JSON request/response envelope spoken
// between the bridge and a CAD engine endpoint.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Method names the bridge layer itself depends on. Domain operations
// (geometry creation, export, ...) pass through Invoke untyped.
const (
	MethodPing              = "ping"
	MethodEngineVersion     = "engine.version"
	MethodEngineGUI         = "engine.gui_available"
	MethodDocumentGet       = "document.get"
	MethodDocumentRecompute = "document.recompute"
	MethodObjectGet         = "object.get"
	MethodObjectValidate    = "object.validate"
	MethodTxnBegin          = "transaction.begin"
	MethodTxnCommit         = "transaction.commit"
	MethodTxnAbort          = "transaction.abort"
	MethodTxnStatus         = "transaction.status"
)

// PingResult is the sentinel every live engine answers to MethodPing.
// Anything else fails the validation handshake.
const PingResult = "pong"

// ErrorKind classifies an engine-reported error on the wire.
type ErrorKind string

const (
	// ErrorKindFault is a domain-level failure: the engine executed the
	// call and rejected it. Never retried.
	ErrorKindFault ErrorKind = "fault"
	// ErrorKindNotFound means the referenced document or object does not exist.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindBadRequest means the request envelope was malformed.
	ErrorKindBadRequest ErrorKind = "bad_request"
	// ErrorKindInternal is an unexpected engine-side failure.
	ErrorKindInternal ErrorKind = "internal"
)

// Request is the self-describing call envelope.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response carries either a result or an error, matched to a request by ID.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the engine's error payload.
type ErrorBody struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ErrorBody) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// DocumentInfo describes a remote document as reported by document.get.
type DocumentInfo struct {
	Name      string   `json:"name"`
	Label     string   `json:"label,omitempty"`
	Path      string   `json:"path,omitempty"`
	Objects   []string `json:"objects"`
	Modified  bool     `json:"modified"`
	UndoDepth int      `json:"undo_depth"`
	RedoDepth int      `json:"redo_depth"`
}

// ObjectInfo describes a remote object as reported by object.get.
type ObjectInfo struct {
	Name       string                     `json:"name"`
	Label      string                     `json:"label,omitempty"`
	TypeID     string                     `json:"type_id"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Validity   string                     `json:"validity"` // valid, invalid, unknown
}

// ValidateResult is the payload of object.validate.
type ValidateResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// TxnStatusResult is the payload of transaction.status.
type TxnStatusResult struct {
	UndoDepth int      `json:"undo_depth"`
	RedoDepth int      `json:"redo_depth"`
	UndoNames []string `json:"undo_names,omitempty"`
}

// VersionResult is the payload of engine.version.
type VersionResult struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date,omitempty"`
}

// Validate checks the request envelope is complete enough to send.
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request id is required")
	}
	if r.Method == "" {
		return fmt.Errorf("request method is required")
	}
	return nil
}

// Validate checks the response envelope is well-formed: an id plus
// exactly one of result or error.
func (r *Response) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("response id is required")
	}
	if r.Error != nil && r.Result != nil {
		return fmt.Errorf("response carries both result and error")
	}
	return nil
}
