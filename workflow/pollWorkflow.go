package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TransitionResult reports what the poll did to one remittance.
type TransitionResult struct {
	RemittanceId int                     `json:"remittance_id"`
	OldStatus    models.RemittanceStatus `json:"old_status"`
	NewStatus    models.RemittanceStatus `json:"new_status"`
	Reason       string                  `json:"reason"`
	Err          error                   `json:"-"`
}

// PollBusiness reconciles every ExportedUnreconciled remittance of one
// business against the accounting ledger. Each remittance's write is its own
// status-guarded transaction, so a user-initiated Approve or Unapprove can
// never interleave with the poll on the same record, and one remittance's
// gateway failure never aborts the rest of the batch.
func PollBusiness(ctx context.Context, db *gorm.DB, logger *logrus.Logger, gw Gateway,
	businessId string) ([]TransitionResult, error) {

	remittances, err := models.ListExportedUnreconciled(ctx, businessId)
	if err != nil {
		return nil, fmt.Errorf("list exported remittances: %w", err)
	}

	actor := SystemActor()
	results := make([]TransitionResult, 0, len(remittances))
	for _, r := range remittances {
		results = append(results, pollRemittance(ctx, db, logger, gw, actor, r))
	}
	return results, nil
}

func pollRemittance(ctx context.Context, db *gorm.DB, logger *logrus.Logger, gw Gateway,
	actor Actor, r *models.Remittance) TransitionResult {

	result := TransitionResult{RemittanceId: r.ID, OldStatus: r.Status, NewStatus: r.Status}

	if r.ExternalPaymentId == nil {
		result.Reason = "exported remittance has no external payment id"
		result.Err = NewWorkflowError(ErrKindInvalidTransition, result.Reason)
		return result
	}

	// Gateway query outside any transaction.
	status, gwErr := gw.GetPaymentStatus(ctx, *r.ExternalPaymentId)
	if gwErr != nil {
		wErr := ClassifyGatewayError(gwErr)
		result.Reason = wErr.Reason
		result.Err = wErr
		// Transient flakiness must not flip statuses back and forth, so
		// the state is left untouched and only the audit trail records it.
		if auditErr := recordRejection(ctx, db, r.BusinessId, r.ID, actor,
			models.AuditActionSync, models.AuditOutcomeError, r.Status, wErr.Reason); auditErr != nil {
			config.LogError(logger, "pollWorkflow.go", "pollRemittance", "recordRejection", r.ID, auditErr)
		}
		return result
	}

	var target models.RemittanceStatus
	var reason string
	switch {
	case status.State == PaymentStateReconciled && !status.Amount.IsZero() && !status.Amount.Equal(r.PaymentAmount):
		target = models.RemittanceStatusExportFailed
		reason = fmt.Sprintf("ledger reports amount %s, local amount is %s",
			status.Amount.String(), r.PaymentAmount.String())
	case status.State == PaymentStateReconciled:
		target = models.RemittanceStatusExportedReconciled
		reason = "payment reconciled in the accounting ledger"
	case status.State == PaymentStateMissing:
		target = models.RemittanceStatusExportFailed
		reason = "payment no longer exists in the accounting ledger"
	default:
		// Still pending settlement; nothing to record.
		return result
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := models.GetRemittanceForUpdate(tx, r.BusinessId, r.ID)
		if err != nil {
			return asNotFound(err)
		}
		if current.Status != models.RemittanceStatusExportedUnreconciled {
			// A user operation moved it since the batch was listed.
			return NewWorkflowError(ErrKindAlreadyProcessed,
				fmt.Sprintf("status changed to %q during poll", current.Status))
		}

		current.Status = target
		if target == models.RemittanceStatusExportFailed {
			current.FailureReason = &reason
		}
		if err := tx.Save(current).Error; err != nil {
			return err
		}
		return recordAudit(tx, &models.AuditLogEntry{
			BusinessId:   current.BusinessId,
			RemittanceId: current.ID,
			UserName:     actor.UserName,
			Action:       models.AuditActionSync,
			Outcome:      models.AuditOutcomeSuccess,
			Reason:       reason,
			OldStatus:    models.RemittanceStatusExportedUnreconciled,
			NewStatus:    target,
		})
	})
	if err != nil {
		if KindOf(err) == "" {
			config.LogError(logger, "pollWorkflow.go", "pollRemittance", "transaction", r.ID, err)
		}
		result.Reason = err.Error()
		result.Err = err
		return result
	}

	result.NewStatus = target
	result.Reason = reason
	return result
}
