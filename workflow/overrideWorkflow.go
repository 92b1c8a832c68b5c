package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LineOverride carries a user's manual correction. Nil fields are left
// unchanged; setting a field overrides the extraction value without
// touching it (the ai_ provenance stays readable forever).
type LineOverride struct {
	PaidAmount *decimal.Decimal `json:"paid_amount"`
	InvoiceRef *string          `json:"invoice_ref"`
}

var editableStatuses = map[models.RemittanceStatus]bool{
	models.RemittanceStatusDataRetrieved:    true,
	models.RemittanceStatusUnmatched:        true,
	models.RemittanceStatusAwaitingApproval: true,
}

// OverrideLine applies a manual correction to one line. When the override
// resolves the last open line of an Unmatched remittance, the remittance
// advances to AwaitingApproval in the same transaction.
func OverrideLine(ctx context.Context, db *gorm.DB, logger *logrus.Logger,
	businessId string, actor Actor, remittanceId, lineId int, override LineOverride) (*models.Remittance, error) {

	if _, err := Authorize(ctx, db, businessId, actor, true); err != nil {
		return nil, err
	}
	if override.PaidAmount == nil && override.InvoiceRef == nil {
		return nil, NewWorkflowError(ErrKindInvalidTransition, "override carries no changes")
	}

	var remittance *models.Remittance
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := models.GetRemittanceForUpdate(tx, businessId, remittanceId)
		if err != nil {
			return asNotFound(err)
		}
		if r.IsSoftDeleted() {
			return NewWorkflowError(ErrKindInvalidTransition, "remittance is deleted")
		}
		if !editableStatuses[r.Status] {
			return invalidTransitionError(r.Status, "manual edit")
		}

		var line *models.RemittanceLine
		for i := range r.Lines {
			if r.Lines[i].ID == lineId {
				line = &r.Lines[i]
				break
			}
		}
		if line == nil {
			return NewWorkflowError(ErrKindNotFound, "line not found on this remittance")
		}

		oldAmount := line.FinalPaidAmount()
		oldRef := derefOr(line.FinalInvoiceRef(), "")
		if override.PaidAmount != nil {
			line.ManualPaidAmount = override.PaidAmount
		}
		if override.InvoiceRef != nil {
			line.ManualInvoiceRef = override.InvoiceRef
		}
		if err := tx.Model(&models.RemittanceLine{}).Where("id = ?", line.ID).
			Updates(map[string]interface{}{
				"manual_paid_amount": line.ManualPaidAmount,
				"manual_invoice_ref": line.ManualInvoiceRef,
			}).Error; err != nil {
			return err
		}

		oldStatus := r.Status
		if r.Status == models.RemittanceStatusUnmatched && r.FullyResolved() {
			r.Status = models.RemittanceStatusAwaitingApproval
		}
		r.PaymentAmount = r.LineTotal()
		if err := tx.Save(r).Error; err != nil {
			return err
		}

		if err := recordAudit(tx, &models.AuditLogEntry{
			BusinessId:   businessId,
			RemittanceId: r.ID,
			UserId:       actor.auditUserId(),
			UserName:     actor.UserName,
			Action:       models.AuditActionManualEdit,
			Outcome:      models.AuditOutcomeSuccess,
			Reason: fmt.Sprintf("line %d: amount %s -> %s, invoice %q -> %q",
				line.ID, oldAmount.String(), line.FinalPaidAmount().String(),
				oldRef, derefOr(line.FinalInvoiceRef(), "")),
			OldStatus: oldStatus,
			NewStatus: r.Status,
		}); err != nil {
			return err
		}

		remittance = r
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			config.LogError(logger, "overrideWorkflow.go", "OverrideLine", "transaction", remittanceId, err)
		}
		return nil, err
	}
	return remittance, nil
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
