package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func refPtr(s string) *string { return &s }

func TestRemittanceLine_FinalValuesDerivedFromOverrides(t *testing.T) {
	ai := decimal.RequireFromString("120.50")
	line := RemittanceLine{
		AiPaidAmount: ai,
		AiInvoiceRef: refPtr("INV-001"),
	}

	if !line.FinalPaidAmount().Equal(ai) {
		t.Fatalf("expected ai amount %s, got %s", ai, line.FinalPaidAmount())
	}
	if ref := line.FinalInvoiceRef(); ref == nil || *ref != "INV-001" {
		t.Fatalf("expected ai invoice ref, got %v", ref)
	}
	if line.Overridden() {
		t.Fatal("line without manual fields must not report overridden")
	}

	manual := decimal.RequireFromString("99.99")
	line.ManualPaidAmount = &manual
	line.ManualInvoiceRef = refPtr("INV-002")

	if !line.FinalPaidAmount().Equal(manual) {
		t.Fatalf("manual amount must win, got %s", line.FinalPaidAmount())
	}
	if ref := line.FinalInvoiceRef(); ref == nil || *ref != "INV-002" {
		t.Fatalf("manual invoice ref must win, got %v", ref)
	}
	if !line.Overridden() {
		t.Fatal("line with manual fields must report overridden")
	}
}

func TestRemittanceLine_Resolved(t *testing.T) {
	if (RemittanceLine{}).Resolved() {
		t.Fatal("line without any invoice ref must not be resolved")
	}
	if (RemittanceLine{AiInvoiceRef: refPtr("")}).Resolved() {
		t.Fatal("empty invoice ref must not count as resolved")
	}
	if !(RemittanceLine{AiInvoiceRef: refPtr("INV-1")}).Resolved() {
		t.Fatal("ai invoice ref must resolve the line")
	}
	// A manual override can also clear a bad ai ref.
	cleared := RemittanceLine{AiInvoiceRef: refPtr("INV-1"), ManualInvoiceRef: refPtr("")}
	if cleared.Resolved() {
		t.Fatal("manual override to empty must unresolve the line")
	}
}

func TestRemittance_LineTotalAndFullyResolved(t *testing.T) {
	manual := decimal.RequireFromString("30")
	r := Remittance{
		Lines: []RemittanceLine{
			{AiPaidAmount: decimal.RequireFromString("100"), AiInvoiceRef: refPtr("INV-1")},
			{AiPaidAmount: decimal.RequireFromString("50"), ManualPaidAmount: &manual, AiInvoiceRef: refPtr("INV-2")},
		},
	}
	if !r.LineTotal().Equal(decimal.RequireFromString("130")) {
		t.Fatalf("expected line total 130, got %s", r.LineTotal())
	}
	if !r.FullyResolved() {
		t.Fatal("all lines carry invoice refs, remittance must be fully resolved")
	}

	r.Lines = append(r.Lines, RemittanceLine{AiPaidAmount: decimal.RequireFromString("5")})
	if r.FullyResolved() {
		t.Fatal("a line without an invoice ref must block full resolution")
	}

	empty := Remittance{}
	if empty.FullyResolved() {
		t.Fatal("a remittance without lines must not be fully resolved")
	}
}
