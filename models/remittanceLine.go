package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RemittanceLine is one invoice-payment pairing within a remittance. The
// ai_-prefixed fields are written once by extraction/matching and kept as
// provenance; the manual_ fields hold user overrides. The effective values
// are always derived on read, never stored, so the two can never drift.
type RemittanceLine struct {
	ID           int    `gorm:"primary_key" json:"id"`
	BusinessId   string `gorm:"size:64;index;not null" json:"business_id"`
	RemittanceId int    `gorm:"index;not null" json:"remittance_id"`

	InvoiceNumber string           `gorm:"size:100" json:"invoice_number"`
	AiPaidAmount  decimal.Decimal  `gorm:"type:decimal(20,4)" json:"ai_paid_amount"`
	AiInvoiceRef  *string          `gorm:"size:100" json:"ai_invoice_ref"`
	MatchReason   string           `gorm:"size:255" json:"match_reason"`

	ManualPaidAmount *decimal.Decimal `gorm:"type:decimal(20,4)" json:"manual_paid_amount"`
	ManualInvoiceRef *string          `gorm:"size:100" json:"manual_invoice_ref"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (l RemittanceLine) FinalPaidAmount() decimal.Decimal {
	if l.ManualPaidAmount != nil {
		return *l.ManualPaidAmount
	}
	return l.AiPaidAmount
}

func (l RemittanceLine) FinalInvoiceRef() *string {
	if l.ManualInvoiceRef != nil {
		return l.ManualInvoiceRef
	}
	return l.AiInvoiceRef
}

// Resolved reports whether the line points at an invoice in the external ledger.
func (l RemittanceLine) Resolved() bool {
	ref := l.FinalInvoiceRef()
	return ref != nil && *ref != ""
}

// Overridden reports whether the line carries any manual correction.
func (l RemittanceLine) Overridden() bool {
	return l.ManualPaidAmount != nil || l.ManualInvoiceRef != nil
}
