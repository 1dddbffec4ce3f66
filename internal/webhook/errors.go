package webhook

import (
	"errors"
	"fmt"
)

// Manual-retry errors, surfaced to the management facade as rejected
// operations and never retried automatically.
var (
	ErrDeliveryNotFound   = errors.New("delivery not found")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrAlreadySucceeded   = errors.New("delivery already succeeded")
)

// ErrorKind classifies a failed delivery attempt.
type ErrorKind string

const (
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindNetwork    ErrorKind = "network"
	ErrKindHTTPStatus ErrorKind = "http_status"
)

// DeliveryError is the failure result of a single attempt. All kinds are
// retryable by the coordinator; the 4xx/5xx distinction is kept in Code
// for observability but does not change retry behavior.
type DeliveryError struct {
	Kind    ErrorKind
	Code    int    // HTTP status, set for ErrKindHTTPStatus
	Message string // verbatim cause, recorded in the ledger on exhaustion
}

func (e *DeliveryError) Error() string {
	if e.Kind == ErrKindHTTPStatus {
		return fmt.Sprintf("%s %d: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
