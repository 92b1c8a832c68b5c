package workflow

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/models"
	"github.com/shopspring/decimal"
)

func strPtr(s string) *string { return &s }

func resolvedLine(ref string, amount string) models.RemittanceLine {
	return models.RemittanceLine{
		AiPaidAmount: decimal.RequireFromString(amount),
		AiInvoiceRef: strPtr(ref),
	}
}

func TestPaymentIdempotencyToken_Deterministic(t *testing.T) {
	a := PaymentIdempotencyToken("biz-1", 42)
	b := PaymentIdempotencyToken("biz-1", 42)
	if a != b {
		t.Fatalf("token is not deterministic: %s vs %s", a, b)
	}
	if a == PaymentIdempotencyToken("biz-1", 43) {
		t.Fatal("different remittances must produce different tokens")
	}
	if a == PaymentIdempotencyToken("biz-2", 42) {
		t.Fatal("different businesses must produce different tokens")
	}
	// uuid.NewSHA1 output, usable as an HTTP header value.
	if len(a) != 36 || strings.Count(a, "-") != 4 {
		t.Fatalf("expected a canonical uuid string, got %q", a)
	}
}

func TestApproveGuard(t *testing.T) {
	awaiting := &models.Remittance{
		Status: models.RemittanceStatusAwaitingApproval,
		Lines:  []models.RemittanceLine{resolvedLine("INV-1", "100")},
	}
	if err := approveGuard(awaiting); err != nil {
		t.Fatalf("AwaitingApproval must pass the guard, got %v", err)
	}

	resolved := &models.Remittance{
		Status: models.RemittanceStatusUnmatched,
		Lines:  []models.RemittanceLine{resolvedLine("INV-1", "100")},
	}
	if err := approveGuard(resolved); err != nil {
		t.Fatalf("fully resolved Unmatched must pass the guard, got %v", err)
	}

	unresolved := &models.Remittance{
		Status: models.RemittanceStatusUnmatched,
		Lines: []models.RemittanceLine{
			resolvedLine("INV-1", "100"),
			{AiPaidAmount: decimal.RequireFromString("50")}, // no invoice ref
		},
	}
	if err := approveGuard(unresolved); err == nil || err.Kind != ErrKindInvalidTransition {
		t.Fatalf("unresolved Unmatched must be rejected, got %v", err)
	}

	exported := &models.Remittance{Status: models.RemittanceStatusExportedUnreconciled}
	if err := approveGuard(exported); err == nil || err.Kind != ErrKindAlreadyProcessed {
		t.Fatalf("already exported must report AlreadyProcessed, got %v", err)
	}

	uploaded := &models.Remittance{Status: models.RemittanceStatusUploaded}
	if err := approveGuard(uploaded); err == nil || err.Kind != ErrKindInvalidTransition {
		t.Fatalf("Uploaded must be rejected, got %v", err)
	}

	now := time.Now()
	deleted := &models.Remittance{
		Status:    models.RemittanceStatusAwaitingApproval,
		DeletedAt: &now,
		Lines:     []models.RemittanceLine{resolvedLine("INV-1", "100")},
	}
	if err := approveGuard(deleted); err == nil || err.Kind != ErrKindInvalidTransition {
		t.Fatalf("soft-deleted remittance must be rejected, got %v", err)
	}
}

func TestUnapproveGuard(t *testing.T) {
	ok := &models.Remittance{
		Status:            models.RemittanceStatusExportedUnreconciled,
		ExternalPaymentId: strPtr("pay-123"),
	}
	if err := unapproveGuard(ok); err != nil {
		t.Fatalf("ExportedUnreconciled with payment id must pass, got %v", err)
	}

	noPayment := &models.Remittance{Status: models.RemittanceStatusExportedUnreconciled}
	if err := unapproveGuard(noPayment); err == nil || err.Kind != ErrKindInvalidTransition {
		t.Fatalf("missing external payment id must be rejected, got %v", err)
	}

	alreadyBack := &models.Remittance{Status: models.RemittanceStatusAwaitingApproval}
	if err := unapproveGuard(alreadyBack); err == nil || err.Kind != ErrKindAlreadyProcessed {
		t.Fatalf("AwaitingApproval must report AlreadyProcessed, got %v", err)
	}

	reconciled := &models.Remittance{
		Status:            models.RemittanceStatusExportedReconciled,
		ExternalPaymentId: strPtr("pay-123"),
	}
	if err := unapproveGuard(reconciled); err == nil || err.Kind != ErrKindExternalRejected {
		t.Fatalf("reconciled payment must report ExternalRejected, got %v", err)
	}

	uploaded := &models.Remittance{Status: models.RemittanceStatusUploaded}
	if err := unapproveGuard(uploaded); err == nil || err.Kind != ErrKindInvalidTransition {
		t.Fatalf("Uploaded must be rejected, got %v", err)
	}
}
