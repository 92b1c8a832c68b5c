package workflow

import (
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/remit_backend/models"
)

// ErrorKind classifies every failure a workflow entry point can return.
type ErrorKind string

const (
	// Status precondition failed. Local, non-retryable, surfaced verbatim.
	ErrKindInvalidTransition ErrorKind = "InvalidTransition"
	// Caller is not a member of the business or the role is read-only.
	ErrKindAccessDenied ErrorKind = "AccessDenied"
	// A concurrent duplicate already performed the transition. Safe to ignore.
	ErrKindAlreadyProcessed ErrorKind = "AlreadyProcessed"
	// Network / 5xx / 429 from the accounting gateway. Caller may retry with
	// backoff; the idempotency token makes the resend safe.
	ErrKindExternalTransient ErrorKind = "ExternalTransient"
	// The gateway explicitly refused. Requires human remediation.
	ErrKindExternalRejected ErrorKind = "ExternalRejected"
	// The audit insert failed, so the whole transition was rolled back.
	ErrKindAuditWriteFailed ErrorKind = "AuditWriteFailed"
	ErrKindNotFound         ErrorKind = "NotFound"
)

type WorkflowError struct {
	Kind   ErrorKind
	Reason string
	cause  error
}

func (e *WorkflowError) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *WorkflowError) Unwrap() error { return e.cause }

func (e *WorkflowError) Retryable() bool {
	return e.Kind == ErrKindExternalTransient
}

func NewWorkflowError(kind ErrorKind, reason string) *WorkflowError {
	return &WorkflowError{Kind: kind, Reason: reason}
}

func WrapWorkflowError(kind ErrorKind, reason string, cause error) *WorkflowError {
	return &WorkflowError{Kind: kind, Reason: reason, cause: cause}
}

// KindOf extracts the workflow classification from any error chain,
// defaulting to an opaque local failure.
func KindOf(err error) ErrorKind {
	var wErr *WorkflowError
	if errors.As(err, &wErr) {
		return wErr.Kind
	}
	return ""
}

func invalidTransitionError(from models.RemittanceStatus, trigger string) *WorkflowError {
	return NewWorkflowError(ErrKindInvalidTransition,
		fmt.Sprintf("%s is not allowed from status %q", trigger, from))
}

// ClassifyGatewayError maps an accounting-gateway failure onto the workflow
// taxonomy. Transport failures and 5xx/429 responses are transient; anything
// the gateway explicitly refused is a rejection.
func ClassifyGatewayError(err error) *WorkflowError {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		if gwErr.Transient() {
			return WrapWorkflowError(ErrKindExternalTransient, gwErr.Message(), err)
		}
		return WrapWorkflowError(ErrKindExternalRejected, gwErr.Message(), err)
	}
	// Unrecognized errors (DNS, timeouts wrapped by net/http) are treated as
	// transient so the caller can resend under the same idempotency token.
	return WrapWorkflowError(ErrKindExternalTransient, err.Error(), err)
}
