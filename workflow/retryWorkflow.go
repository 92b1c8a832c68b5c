package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Retry discards the machine-generated lines and extraction header fields
// and resets the remittance to DataRetrieved, pending a fresh extraction
// call issued by the API layer. Lines carrying a manual override survive the
// reset. Calling twice before the fresh extraction lands yields the same
// state, so a double-submitted retry is harmless.
//
// Only Unmatched and DataRetrieved are retryable; ExportFailed requires a
// manual reset by an administrator.
func Retry(ctx context.Context, db *gorm.DB, logger *logrus.Logger,
	businessId string, actor Actor, remittanceId int) (*models.Remittance, error) {

	if _, err := Authorize(ctx, db, businessId, actor, true); err != nil {
		return nil, err
	}

	// The rejection audit must commit, so the guard error is carried out of
	// the transaction instead of being returned from it.
	var remittance *models.Remittance
	var guardErr *WorkflowError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := models.GetRemittanceForUpdate(tx, businessId, remittanceId)
		if err != nil {
			return asNotFound(err)
		}
		if r.IsSoftDeleted() {
			return NewWorkflowError(ErrKindInvalidTransition, "remittance is deleted")
		}
		if r.Status != models.RemittanceStatusUnmatched && r.Status != models.RemittanceStatusDataRetrieved {
			guardErr = invalidTransitionError(r.Status, "retry")
			return recordAudit(tx, rejectionEntry(r, actor, models.AuditActionRetry, guardErr.Reason))
		}
		oldStatus := r.Status

		discarded := 0
		keptTotal := decimal.Zero
		keptLines := make([]models.RemittanceLine, 0, len(r.Lines))
		for _, line := range r.Lines {
			if line.Overridden() {
				keptLines = append(keptLines, line)
				keptTotal = keptTotal.Add(line.FinalPaidAmount())
				continue
			}
			discarded++
		}
		if err := tx.Where("remittance_id = ? AND manual_paid_amount IS NULL AND manual_invoice_ref IS NULL", r.ID).
			Delete(&models.RemittanceLine{}).Error; err != nil {
			return err
		}

		r.PaymentDate = nil
		r.PaymentReference = ""
		r.BankAccount = ""
		r.ConfidenceScore = 0
		r.PaymentAmount = keptTotal
		r.FailureReason = nil
		r.Status = models.RemittanceStatusDataRetrieved
		r.Lines = keptLines
		// The discarded rows are already deleted above; Save must not
		// upsert them back from the association.
		if err := tx.Omit(clause.Associations).Save(r).Error; err != nil {
			return err
		}

		if err := recordAudit(tx, &models.AuditLogEntry{
			BusinessId:   businessId,
			RemittanceId: r.ID,
			UserId:       actor.auditUserId(),
			UserName:     actor.UserName,
			Action:       models.AuditActionRetry,
			Outcome:      models.AuditOutcomeSuccess,
			Reason:       fmt.Sprintf("reset for re-extraction: %d lines discarded, %d manual lines kept", discarded, len(keptLines)),
			OldStatus:    oldStatus,
			NewStatus:    r.Status,
		}); err != nil {
			return err
		}

		remittance = r
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			config.LogError(logger, "retryWorkflow.go", "Retry", "transaction", remittanceId, err)
		}
		return nil, err
	}
	if guardErr != nil {
		return nil, guardErr
	}
	return remittance, nil
}
