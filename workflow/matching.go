package workflow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LineCandidate is one extracted invoice-payment pairing before matching.
type LineCandidate struct {
	InvoiceNumber string
	PaidAmount    decimal.Decimal
}

// LineProposal is the matching engine's verdict for one candidate. When
// Matched is false, Reason carries the human-readable explanation stored on
// the line for the review screen.
type LineProposal struct {
	InvoiceNumber string
	InvoiceRef    *string
	Matched       bool
	Reason        string
}

type MatchOptions struct {
	// StrictAmount rejects a number-based match when the paid amount
	// exceeds the invoice's amount due.
	StrictAmount bool
}

// MatchLines proposes an open-invoice match per candidate. Pure function:
// no storage or network access, so the heuristics are directly testable.
//
// Resolution order per candidate:
//  1. exact invoice-number match
//  2. normalized match (case and punctuation insensitive)
//  3. unique amount match among the remaining open invoices
func MatchLines(candidates []LineCandidate, openInvoices []Invoice, opts MatchOptions) []LineProposal {
	exact := make(map[string]*Invoice, len(openInvoices))
	normalized := make(map[string]*Invoice, len(openInvoices))
	for i := range openInvoices {
		inv := &openInvoices[i]
		exact[inv.InvoiceNumber] = inv
		norm := normalizeInvoiceNumber(inv.InvoiceNumber)
		if _, dup := normalized[norm]; dup {
			// Ambiguous after normalization; only exact matching can use it.
			normalized[norm] = nil
		} else {
			normalized[norm] = inv
		}
	}

	proposals := make([]LineProposal, 0, len(candidates))
	claimed := make(map[string]bool)

	for _, cand := range candidates {
		p := LineProposal{InvoiceNumber: cand.InvoiceNumber}

		inv := exact[cand.InvoiceNumber]
		if inv == nil && cand.InvoiceNumber != "" {
			inv = normalized[normalizeInvoiceNumber(cand.InvoiceNumber)]
		}
		if inv == nil {
			inv = matchByAmount(cand.PaidAmount, openInvoices, claimed)
		}

		switch {
		case inv == nil:
			p.Reason = fmt.Sprintf("no open invoice found for %q", cand.InvoiceNumber)
		case claimed[inv.InvoiceNumber]:
			p.Reason = fmt.Sprintf("invoice %q already claimed by another line", inv.InvoiceNumber)
		case opts.StrictAmount && cand.PaidAmount.GreaterThan(inv.AmountDue):
			p.Reason = fmt.Sprintf("paid amount %s exceeds amount due %s on invoice %q",
				cand.PaidAmount.String(), inv.AmountDue.String(), inv.InvoiceNumber)
		default:
			ref := inv.InvoiceNumber
			p.InvoiceRef = &ref
			p.Matched = true
			p.Reason = matchReason(cand, inv)
			claimed[inv.InvoiceNumber] = true
		}
		proposals = append(proposals, p)
	}
	return proposals
}

func matchByAmount(amount decimal.Decimal, openInvoices []Invoice, claimed map[string]bool) *Invoice {
	var found *Invoice
	for i := range openInvoices {
		inv := &openInvoices[i]
		if claimed[inv.InvoiceNumber] || !inv.AmountDue.Equal(amount) {
			continue
		}
		if found != nil {
			return nil // ambiguous, two open invoices share the amount
		}
		found = inv
	}
	return found
}

func matchReason(cand LineCandidate, inv *Invoice) string {
	if cand.InvoiceNumber == inv.InvoiceNumber {
		return "exact invoice number match"
	}
	if cand.InvoiceNumber != "" &&
		normalizeInvoiceNumber(cand.InvoiceNumber) == normalizeInvoiceNumber(inv.InvoiceNumber) {
		return fmt.Sprintf("normalized invoice number match (%s)", inv.InvoiceNumber)
	}
	return fmt.Sprintf("unique amount match against invoice %s", inv.InvoiceNumber)
}

func normalizeInvoiceNumber(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
