package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentState is the gateway's view of an exported payment.
type PaymentState string

const (
	PaymentStateReconciled PaymentState = "reconciled"
	PaymentStatePending    PaymentState = "pending"
	PaymentStateMissing    PaymentState = "missing"
)

type PaymentStatus struct {
	State  PaymentState    `json:"state"`
	Amount decimal.Decimal `json:"amount"`
}

type PaymentRequest struct {
	BusinessId  string          `json:"business_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate *time.Time      `json:"payment_date"`
	BankAccount string          `json:"bank_account"`
	Reference   string          `json:"reference"`
	InvoiceRefs []string        `json:"invoice_refs"`
}

type Invoice struct {
	InvoiceNumber string          `json:"invoice_number"`
	Contact       string          `json:"contact"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	DueDate       *time.Time      `json:"due_date"`
}

// Gateway is the external accounting ledger capability consumed by the
// workflows and the reconciliation poller. All mutating calls are
// idempotency-keyed so a resend after a crash or timeout cannot
// double-create.
type Gateway interface {
	CreatePayment(ctx context.Context, idempotencyKey string, req PaymentRequest) (paymentId string, err error)
	DeletePayment(ctx context.Context, paymentId string) error
	GetPaymentStatus(ctx context.Context, paymentId string) (PaymentStatus, error)
	ListOpenInvoices(ctx context.Context, businessId string) ([]Invoice, error)
}

// GatewayError carries the HTTP-level outcome of a gateway call so the
// workflow taxonomy can classify it. StatusCode 0 means the request never
// reached the gateway.
type GatewayError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("accounting gateway unreachable: %v", e.Err)
	}
	return fmt.Sprintf("accounting gateway error %d: %s", e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

func (e *GatewayError) Message() string {
	if e.StatusCode == 0 {
		return "accounting gateway unreachable"
	}
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("accounting gateway returned %d", e.StatusCode)
}
