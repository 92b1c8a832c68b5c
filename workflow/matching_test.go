package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
)

func invoice(number string, due string) Invoice {
	return Invoice{InvoiceNumber: number, AmountDue: decimal.RequireFromString(due)}
}

func candidate(number string, paid string) LineCandidate {
	return LineCandidate{InvoiceNumber: number, PaidAmount: decimal.RequireFromString(paid)}
}

func TestMatchLines_ExactNumberWinsOverAmount(t *testing.T) {
	open := []Invoice{
		invoice("INV-001", "500"),
		invoice("INV-002", "500"),
	}
	got := MatchLines([]LineCandidate{candidate("INV-002", "500")}, open, MatchOptions{})
	if len(got) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(got))
	}
	p := got[0]
	if !p.Matched || p.InvoiceRef == nil || *p.InvoiceRef != "INV-002" {
		t.Fatalf("expected exact match against INV-002, got %+v", p)
	}
	if p.Reason != "exact invoice number match" {
		t.Fatalf("unexpected reason: %q", p.Reason)
	}
}

func TestMatchLines_NormalizedNumberMatch(t *testing.T) {
	open := []Invoice{invoice("INV-2024-001", "100")}
	got := MatchLines([]LineCandidate{candidate("inv 2024/001", "100")}, open, MatchOptions{})
	p := got[0]
	if !p.Matched || *p.InvoiceRef != "INV-2024-001" {
		t.Fatalf("expected normalized match against INV-2024-001, got %+v", p)
	}
}

func TestMatchLines_AmbiguousNormalizedFormsAreSkipped(t *testing.T) {
	// "INV-001" and "INV001" normalize to the same key, so only an exact
	// candidate may use either.
	open := []Invoice{
		invoice("INV-001", "100"),
		invoice("INV001", "200"),
	}
	got := MatchLines([]LineCandidate{candidate("inv.001", "300")}, open, MatchOptions{})
	if got[0].Matched {
		t.Fatalf("expected ambiguous normalized candidate to stay unmatched, got %+v", got[0])
	}

	got = MatchLines([]LineCandidate{candidate("INV001", "200")}, open, MatchOptions{})
	if !got[0].Matched || *got[0].InvoiceRef != "INV001" {
		t.Fatalf("expected exact match to bypass ambiguity, got %+v", got[0])
	}
}

func TestMatchLines_UniqueAmountFallback(t *testing.T) {
	open := []Invoice{
		invoice("INV-A", "150"),
		invoice("INV-B", "275.50"),
	}
	got := MatchLines([]LineCandidate{candidate("", "275.50")}, open, MatchOptions{})
	p := got[0]
	if !p.Matched || *p.InvoiceRef != "INV-B" {
		t.Fatalf("expected amount match against INV-B, got %+v", p)
	}
	if p.Reason != "unique amount match against invoice INV-B" {
		t.Fatalf("unexpected reason: %q", p.Reason)
	}
}

func TestMatchLines_AmbiguousAmountStaysUnmatched(t *testing.T) {
	open := []Invoice{
		invoice("INV-A", "100"),
		invoice("INV-B", "100"),
	}
	got := MatchLines([]LineCandidate{candidate("", "100")}, open, MatchOptions{})
	if got[0].Matched {
		t.Fatalf("expected ambiguous amount to stay unmatched, got %+v", got[0])
	}
}

func TestMatchLines_InvoiceClaimedOnce(t *testing.T) {
	open := []Invoice{invoice("INV-001", "100")}
	cands := []LineCandidate{
		candidate("INV-001", "100"),
		candidate("INV-001", "100"),
	}
	got := MatchLines(cands, open, MatchOptions{})
	if !got[0].Matched {
		t.Fatalf("first candidate should claim the invoice, got %+v", got[0])
	}
	if got[1].Matched {
		t.Fatalf("second candidate must not reuse a claimed invoice, got %+v", got[1])
	}
	if got[1].Reason != `invoice "INV-001" already claimed by another line` {
		t.Fatalf("unexpected reason: %q", got[1].Reason)
	}
}

func TestMatchLines_AmountFallbackSkipsClaimedInvoices(t *testing.T) {
	open := []Invoice{
		invoice("INV-A", "100"),
		invoice("INV-B", "100"),
	}
	cands := []LineCandidate{
		candidate("INV-A", "100"),
		candidate("", "100"), // INV-A claimed, so the amount is unique now
	}
	got := MatchLines(cands, open, MatchOptions{})
	if !got[1].Matched || *got[1].InvoiceRef != "INV-B" {
		t.Fatalf("expected amount fallback to land on INV-B, got %+v", got[1])
	}
}

func TestMatchLines_StrictAmountRejectsOverpayment(t *testing.T) {
	open := []Invoice{invoice("INV-001", "100")}
	got := MatchLines([]LineCandidate{candidate("INV-001", "150")}, open, MatchOptions{StrictAmount: true})
	if got[0].Matched {
		t.Fatalf("strict mode must reject overpayment, got %+v", got[0])
	}

	got = MatchLines([]LineCandidate{candidate("INV-001", "150")}, open, MatchOptions{})
	if !got[0].Matched {
		t.Fatalf("lenient mode should still match, got %+v", got[0])
	}
}

func TestNormalizeInvoiceNumber(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"INV-001", "INV001"},
		{"inv 2024/001", "INV2024001"},
		{"  #inv.7  ", "INV7"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeInvoiceNumber(tc.in); got != tc.expected {
			t.Fatalf("normalizeInvoiceNumber(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}
