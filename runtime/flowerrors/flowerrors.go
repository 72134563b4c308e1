// Package flowerrors defines the error taxonomy shared by the runtime and the
// HTTP transport. Every failure that can cross a package boundary is classified
// into a Kind so the API layer can map it to a status code without inspecting
// error strings, and so callers can branch on the class of failure with
// errors.As.
package flowerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a runtime failure.
type Kind string

const (
	// KindValidation indicates a malformed request: bad shape, missing
	// required field, or an unknown workflow identifier.
	KindValidation Kind = "validation"
	// KindAuthentication indicates a failed webhook authentication or a
	// missing/invalid credential on an ingestion path.
	KindAuthentication Kind = "authentication"
	// KindPermission indicates the caller lacks access to the workflow or
	// credential it referenced.
	KindPermission Kind = "permission"
	// KindNotFound indicates the referenced execution, webhook, or
	// credential does not exist.
	KindNotFound Kind = "not_found"
	// KindMethodNotAllowed indicates an HTTP method mismatch on a webhook
	// trigger.
	KindMethodNotAllowed Kind = "method_not_allowed"
	// KindNodeExecution indicates a single node's execute failed. These are
	// recorded on the node execution row and never surface as API errors.
	KindNodeExecution Kind = "node_execution"
	// KindWorkflowExecution indicates an engine-level failure such as a
	// corrupt snapshot or a scheduler invariant violation.
	KindWorkflowExecution Kind = "workflow_execution"
	// KindTimeout indicates the workflow exceeded its maximum duration.
	KindTimeout Kind = "timeout"
	// KindInternal indicates an unexpected failure. The API layer surfaces
	// it as a 500 without leaking internals.
	KindInternal Kind = "internal"
)

// Error carries a Kind alongside the failure message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error with the given kind, message, and cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of err, or KindInternal when err carries no
// classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the status code the API layer responds with.
// Engine-internal kinds (node/workflow execution, timeout) are persisted on
// the execution rather than surfaced as request failures; when they do reach
// the transport they map to 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}
