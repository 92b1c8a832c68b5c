package workflow

import (
	"errors"
	"fmt"
	"testing"
)

func TestGatewayError_Transient(t *testing.T) {
	cases := []struct {
		code      int
		transient bool
	}{
		{0, true}, // request never reached the gateway
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{404, false},
		{409, false},
		{422, false},
	}
	for _, tc := range cases {
		e := &GatewayError{StatusCode: tc.code, Body: "x"}
		if got := e.Transient(); got != tc.transient {
			t.Fatalf("GatewayError{%d}.Transient() expected %v, got %v", tc.code, tc.transient, got)
		}
	}
}

func TestClassifyGatewayError(t *testing.T) {
	transient := ClassifyGatewayError(&GatewayError{StatusCode: 503, Body: "upstream down"})
	if transient.Kind != ErrKindExternalTransient {
		t.Fatalf("expected ExternalTransient for 503, got %s", transient.Kind)
	}
	if !transient.Retryable() {
		t.Fatal("transient gateway errors must be retryable")
	}

	rejected := ClassifyGatewayError(&GatewayError{StatusCode: 422, Body: "account archived"})
	if rejected.Kind != ErrKindExternalRejected {
		t.Fatalf("expected ExternalRejected for 422, got %s", rejected.Kind)
	}
	if rejected.Retryable() {
		t.Fatal("rejections must not be retryable")
	}
	if rejected.Reason != "account archived" {
		t.Fatalf("expected the gateway body as reason, got %q", rejected.Reason)
	}

	// Wrapped gateway errors still classify through the chain.
	wrapped := ClassifyGatewayError(fmt.Errorf("create payment: %w",
		&GatewayError{StatusCode: 429}))
	if wrapped.Kind != ErrKindExternalTransient {
		t.Fatalf("expected ExternalTransient through wrapping, got %s", wrapped.Kind)
	}

	// Unrecognized transport errors default to transient.
	unknown := ClassifyGatewayError(errors.New("dial tcp: i/o timeout"))
	if unknown.Kind != ErrKindExternalTransient {
		t.Fatalf("expected ExternalTransient for unknown errors, got %s", unknown.Kind)
	}

	if ClassifyGatewayError(nil) != nil {
		t.Fatal("nil error must classify to nil")
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("approve: %w", NewWorkflowError(ErrKindAlreadyProcessed, "done"))
	if got := KindOf(err); got != ErrKindAlreadyProcessed {
		t.Fatalf("expected AlreadyProcessed, got %q", got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty kind for plain errors, got %q", got)
	}
}

func TestWorkflowError_Unwrap(t *testing.T) {
	cause := &GatewayError{StatusCode: 502, Body: "bad gateway"}
	wErr := WrapWorkflowError(ErrKindExternalTransient, cause.Message(), cause)

	var gwErr *GatewayError
	if !errors.As(wErr, &gwErr) {
		t.Fatal("expected the gateway error to survive wrapping")
	}
	if gwErr.StatusCode != 502 {
		t.Fatalf("expected status 502, got %d", gwErr.StatusCode)
	}
}
