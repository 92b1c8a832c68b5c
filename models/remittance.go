package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Remittance is one uploaded payment-advice document and its reconciliation
// workflow record. Status, approval and export fields are written only by the
// workflow package; the extraction path owns the extraction header fields.
type Remittance struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;index;not null" json:"business_id"`
	DocumentId int    `gorm:"index" json:"document_id"`

	Status RemittanceStatus `gorm:"size:30;not null;index" json:"status"`

	// Extraction header fields; null until extraction completes.
	PaymentDate      *time.Time      `json:"payment_date"`
	PaymentAmount    decimal.Decimal `gorm:"type:decimal(20,4)" json:"payment_amount"`
	PaymentReference string          `gorm:"size:255" json:"payment_reference"`
	BankAccount      string          `gorm:"size:100" json:"bank_account"`
	// ConfidenceScore (0-100) is produced once by extraction and kept for
	// monitoring only; transition logic never reads it back.
	ConfidenceScore int `json:"confidence_score"`

	// Export provenance, write-once per transition.
	ExternalPaymentId *string    `gorm:"size:100" json:"external_payment_id"`
	FailureReason     *string    `gorm:"type:text" json:"failure_reason"`
	ApprovedAt        *time.Time `json:"approved_at"`
	ApprovedBy        *int       `json:"approved_by"`
	ExportedAt        *time.Time `json:"exported_at"`

	// Soft-delete overlay. The underlying status is preserved so a restore
	// only clears these two fields.
	DeletedAt *time.Time `gorm:"index" json:"deleted_at"`
	DeletedBy *int       `json:"deleted_by"`

	Lines []RemittanceLine `gorm:"foreignKey:RemittanceId" json:"lines"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r Remittance) IsSoftDeleted() bool {
	return r.DeletedAt != nil
}

// LineTotal sums the lines' final paid amounts. After any successful
// transition this must equal PaymentAmount.
func (r Remittance) LineTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.Lines {
		total = total.Add(line.FinalPaidAmount())
	}
	return total
}

// FullyResolved reports whether every line carries a final invoice reference.
func (r Remittance) FullyResolved() bool {
	if len(r.Lines) == 0 {
		return false
	}
	for _, line := range r.Lines {
		if !line.Resolved() {
			return false
		}
	}
	return true
}

type NewRemittance struct {
	DocumentId int `json:"document_id" binding:"required"`
}

func CreateRemittance(ctx context.Context, businessId string, input *NewRemittance) (*Remittance, error) {
	db := config.GetDB()

	remittance := Remittance{
		BusinessId: businessId,
		DocumentId: input.DocumentId,
		Status:     RemittanceStatusUploaded,
	}
	if err := db.WithContext(ctx).Create(&remittance).Error; err != nil {
		return nil, err
	}
	return &remittance, nil
}

func GetRemittance(ctx context.Context, businessId string, id int) (*Remittance, error) {
	return utils.FetchModel[Remittance](ctx, businessId, id, "Lines")
}

// GetRemittanceForUpdate loads the row with a write lock inside tx so the
// status check and the subsequent write form one compare-and-set.
func GetRemittanceForUpdate(tx *gorm.DB, businessId string, id int) (*Remittance, error) {
	var remittance Remittance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&remittance, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := tx.Where("remittance_id = ?", remittance.ID).
		Order("id ASC").
		Find(&remittance.Lines).Error; err != nil {
		return nil, err
	}
	return &remittance, nil
}

func ListRemittances(ctx context.Context, businessId string, status *RemittanceStatus, includeDeleted bool) ([]*Remittance, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId).Preload("Lines")
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if !includeDeleted {
		dbCtx = dbCtx.Where("deleted_at IS NULL")
	}
	var results []*Remittance
	if err := dbCtx.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListExportedUnreconciled returns the poll working set for one business.
func ListExportedUnreconciled(ctx context.Context, businessId string) ([]*Remittance, error) {
	db := config.GetDB()
	var results []*Remittance
	err := db.WithContext(ctx).
		Where("business_id = ? AND status = ? AND deleted_at IS NULL", businessId, RemittanceStatusExportedUnreconciled).
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
