package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Unapprove deletes the exported payment from the external ledger and
// reverts the remittance to AwaitingApproval.
//
// Local exported state is cleared only after the external deletion provably
// succeeded. A crash between the deletion and the local commit leaves the
// remittance ExportedUnreconciled, which is safe: the daily poll observes
// the payment missing and parks it in ExportFailed for review, and a repeat
// Unapprove also converges.
func Unapprove(ctx context.Context, db *gorm.DB, logger *logrus.Logger, gw Gateway,
	businessId string, actor Actor, remittanceId int) (*models.Remittance, error) {

	if _, err := Authorize(ctx, db, businessId, actor, true); err != nil {
		return nil, err
	}

	// The rejection audit must commit, so a guard error is carried out of
	// the transaction instead of being returned from it.
	var snapshot models.Remittance
	var precondErr *WorkflowError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := models.GetRemittanceForUpdate(tx, businessId, remittanceId)
		if err != nil {
			return asNotFound(err)
		}
		if wErr := unapproveGuard(r); wErr != nil {
			precondErr = wErr
			return recordAudit(tx, rejectionEntry(r, actor, models.AuditActionUnapproval, wErr.Reason))
		}
		snapshot = *r
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			config.LogError(logger, "unapproveWorkflow.go", "Unapprove", "precondition check", remittanceId, err)
		}
		return nil, err
	}
	if precondErr != nil {
		return nil, precondErr
	}

	paymentId := *snapshot.ExternalPaymentId

	// Query the payment's current reconciliation state first. A reconciled
	// payment must never be deleted from the ledger.
	status, gwErr := gw.GetPaymentStatus(ctx, paymentId)
	if gwErr != nil {
		return nil, auditGatewayFailure(ctx, db, logger, &snapshot, actor, gwErr, "GetPaymentStatus")
	}
	if status.State == PaymentStateReconciled {
		wErr := NewWorkflowError(ErrKindExternalRejected, "payment already reconciled in the accounting ledger")
		if auditErr := recordRejection(ctx, db, businessId, remittanceId, actor,
			models.AuditActionUnapproval, models.AuditOutcomeRejected, snapshot.Status, wErr.Reason); auditErr != nil {
			config.LogError(logger, "unapproveWorkflow.go", "Unapprove", "recordRejection", remittanceId, auditErr)
		}
		return nil, wErr
	}

	if status.State != PaymentStateMissing {
		if gwErr := gw.DeletePayment(ctx, paymentId); gwErr != nil {
			wErr := ClassifyGatewayError(gwErr)
			if wErr.Kind == ErrKindExternalRejected {
				// The ledger refused the deletion (payment in use elsewhere).
				// No local change; the remittance stays exported.
				wErr = WrapWorkflowError(ErrKindExternalRejected,
					fmt.Sprintf("external deletion refused: %s", wErr.Reason), gwErr)
			}
			return nil, auditUnapproveFailure(ctx, db, logger, &snapshot, actor, wErr)
		}
	}

	// External deletion confirmed (or the payment was already gone). Now,
	// and only now, clear the local export provenance.
	var remittance *models.Remittance
	var commitErr *WorkflowError
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := models.GetRemittanceForUpdate(tx, businessId, remittanceId)
		if err != nil {
			return asNotFound(err)
		}
		if wErr := unapproveGuard(r); wErr != nil {
			// A concurrent call moved the status between the deletion and
			// this commit. The payment is already gone externally, which the
			// poll will reconcile; the rejection still has to be recorded.
			commitErr = wErr
			return recordAudit(tx, rejectionEntry(r, actor, models.AuditActionUnapproval, wErr.Reason))
		}
		oldStatus := r.Status

		reason := fmt.Sprintf("payment %s deleted from the accounting ledger", paymentId)
		if status.State == PaymentStateMissing {
			reason = fmt.Sprintf("payment %s no longer exists in the accounting ledger", paymentId)
		}

		r.Status = models.RemittanceStatusAwaitingApproval
		r.ExternalPaymentId = nil
		r.ExportedAt = nil
		r.ApprovedAt = nil
		r.ApprovedBy = nil
		r.FailureReason = nil
		if err := tx.Save(r).Error; err != nil {
			return err
		}

		if auditErr := recordAudit(tx, &models.AuditLogEntry{
			BusinessId:   businessId,
			RemittanceId: r.ID,
			UserId:       actor.auditUserId(),
			UserName:     actor.UserName,
			Action:       models.AuditActionUnapproval,
			Outcome:      models.AuditOutcomeSuccess,
			Reason:       reason,
			OldStatus:    oldStatus,
			NewStatus:    r.Status,
		}); auditErr != nil {
			return auditErr
		}
		remittance = r
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			config.LogError(logger, "unapproveWorkflow.go", "Unapprove", "local commit", remittanceId, err)
		}
		return nil, err
	}
	if commitErr != nil {
		return nil, commitErr
	}
	return remittance, nil
}

func unapproveGuard(r *models.Remittance) *WorkflowError {
	if r.IsSoftDeleted() {
		return NewWorkflowError(ErrKindInvalidTransition, "remittance is deleted")
	}
	switch r.Status {
	case models.RemittanceStatusExportedUnreconciled:
		if r.ExternalPaymentId == nil {
			return NewWorkflowError(ErrKindInvalidTransition, "remittance has no external payment id")
		}
		return nil
	case models.RemittanceStatusAwaitingApproval:
		return NewWorkflowError(ErrKindAlreadyProcessed, "remittance is already unapproved")
	case models.RemittanceStatusExportedReconciled:
		return NewWorkflowError(ErrKindExternalRejected, "payment already reconciled in the accounting ledger")
	default:
		return invalidTransitionError(r.Status, "unapprove")
	}
}

func auditGatewayFailure(ctx context.Context, db *gorm.DB, logger *logrus.Logger,
	r *models.Remittance, actor Actor, gwErr error, call string) error {

	wErr := ClassifyGatewayError(gwErr)
	config.LogError(logger, "unapproveWorkflow.go", "Unapprove", call, r.ID, gwErr)
	return auditUnapproveFailure(ctx, db, logger, r, actor, wErr)
}

func auditUnapproveFailure(ctx context.Context, db *gorm.DB, logger *logrus.Logger,
	r *models.Remittance, actor Actor, wErr *WorkflowError) error {

	outcome := models.AuditOutcomeError
	if wErr.Kind == ErrKindExternalRejected {
		outcome = models.AuditOutcomeRejected
	}
	if auditErr := recordRejection(ctx, db, r.BusinessId, r.ID, actor,
		models.AuditActionUnapproval, outcome, r.Status, wErr.Reason); auditErr != nil {
		config.LogError(logger, "unapproveWorkflow.go", "Unapprove", "recordRejection", r.ID, auditErr)
	}
	return wErr
}
