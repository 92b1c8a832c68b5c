package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Namespace for deriving the payment idempotency token from the remittance
// identity. Every Approve attempt for the same remittance produces the same
// token, so a resend after a timeout or crash can never double-create.
var nsRemitPayment = uuid.MustParse("a6c7f1d2-4b3e-4f8a-9c5d-1e2f3a4b5c6d")

func PaymentIdempotencyToken(businessId string, remittanceId int) string {
	return uuid.NewSHA1(nsRemitPayment, []byte(fmt.Sprintf("%s:%d", businessId, remittanceId))).String()
}

// Approve exports the remittance as a payment in the external accounting
// ledger and moves it to ExportedUnreconciled.
//
// The protocol is two-phase, not one distributed transaction: the gateway
// call happens outside any DB transaction under the derived idempotency
// token, then the local commit is status-guarded. A crash between the two
// phases leaves the payment live externally and the remittance still
// AwaitingApproval, which a repeat Approve (same token) repairs.
func Approve(ctx context.Context, db *gorm.DB, logger *logrus.Logger, gw Gateway,
	businessId string, actor Actor, remittanceId int) (*models.Remittance, error) {

	if _, err := Authorize(ctx, db, businessId, actor, true); err != nil {
		return nil, err
	}

	// Phase 0: validate preconditions and freeze the amount from the line
	// final amounts. No external call is made if the status is wrong. The
	// rejection audit must commit, so the guard error is carried out of the
	// transaction instead of being returned from it.
	var frozen models.Remittance
	var precondErr *WorkflowError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := models.GetRemittanceForUpdate(tx, businessId, remittanceId)
		if err != nil {
			return asNotFound(err)
		}
		frozen = *r
		if wErr := approveGuard(r); wErr != nil {
			precondErr = wErr
			return recordAudit(tx, rejectionEntry(r, actor, models.AuditActionApproval, wErr.Reason))
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			config.LogError(logger, "approveWorkflow.go", "Approve", "precondition check", remittanceId, err)
		}
		return nil, err
	}
	if precondErr != nil {
		return &frozen, precondErr
	}

	amount := frozen.LineTotal()
	invoiceRefs := make([]string, 0, len(frozen.Lines))
	for _, line := range frozen.Lines {
		if ref := line.FinalInvoiceRef(); ref != nil {
			invoiceRefs = append(invoiceRefs, *ref)
		}
	}

	// Phase 1: external create, outside any transaction.
	token := PaymentIdempotencyToken(businessId, remittanceId)
	paymentId, gwErr := gw.CreatePayment(ctx, token, PaymentRequest{
		BusinessId:  businessId,
		Amount:      amount,
		PaymentDate: frozen.PaymentDate,
		BankAccount: frozen.BankAccount,
		Reference:   frozen.PaymentReference,
		InvoiceRefs: invoiceRefs,
	})

	// Phase 2: status-guarded local commit contingent on the external result.
	// Failure audits (and the ExportFailed parking write) must commit, so the
	// workflow error is carried out of the transaction instead of being
	// returned from it.
	var remittance *models.Remittance
	var commitErr *WorkflowError
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := models.GetRemittanceForUpdate(tx, businessId, remittanceId)
		if err != nil {
			return asNotFound(err)
		}
		if wErr := approveGuard(r); wErr != nil {
			// A concurrent Approve won the race after phase 0. The same
			// idempotency token means at most one external payment exists,
			// so this duplicate is safe to reject without compensation.
			commitErr = wErr
			remittance = r
			return recordAudit(tx, rejectionEntry(r, actor, models.AuditActionApproval, wErr.Reason))
		}
		oldStatus := r.Status

		if gwErr != nil {
			wErr := ClassifyGatewayError(gwErr)
			commitErr = wErr
			if wErr.Kind == ErrKindExternalTransient {
				// Transport-level failure: the export may be resent under
				// the same token, so the status stays put.
				remittance = r
				return recordAudit(tx, &models.AuditLogEntry{
					BusinessId:   businessId,
					RemittanceId: r.ID,
					UserId:       actor.auditUserId(),
					UserName:     actor.UserName,
					Action:       models.AuditActionApproval,
					Outcome:      models.AuditOutcomeError,
					Reason:       wErr.Reason,
					OldStatus:    oldStatus,
					NewStatus:    oldStatus,
				})
			}

			// Definitive refusal: park the remittance in ExportFailed with
			// the stored reason. Financial fields stay untouched.
			r.Status = models.RemittanceStatusExportFailed
			reason := wErr.Reason
			r.FailureReason = &reason
			if err := tx.Save(r).Error; err != nil {
				return err
			}
			remittance = r
			return recordAudit(tx, &models.AuditLogEntry{
				BusinessId:   businessId,
				RemittanceId: r.ID,
				UserId:       actor.auditUserId(),
				UserName:     actor.UserName,
				Action:       models.AuditActionApproval,
				Outcome:      models.AuditOutcomeError,
				Reason:       wErr.Reason,
				OldStatus:    oldStatus,
				NewStatus:    r.Status,
			})
		}

		if !r.LineTotal().Equal(amount) {
			// A concurrent manual edit changed the lines while the export was
			// in flight. The ledger holds the frozen amount, so committing the
			// new total would leave the two permanently out of step; the
			// remittance is parked for review with the payment id recorded.
			reason := fmt.Sprintf("line total changed during export: exported %s, lines now sum to %s",
				amount.String(), r.LineTotal().String())
			commitErr = NewWorkflowError(ErrKindInvalidTransition, reason)
			r.Status = models.RemittanceStatusExportFailed
			r.ExternalPaymentId = &paymentId
			r.FailureReason = &reason
			if err := tx.Save(r).Error; err != nil {
				return err
			}
			remittance = r
			return recordAudit(tx, &models.AuditLogEntry{
				BusinessId:   businessId,
				RemittanceId: r.ID,
				UserId:       actor.auditUserId(),
				UserName:     actor.UserName,
				Action:       models.AuditActionApproval,
				Outcome:      models.AuditOutcomeError,
				Reason:       reason,
				OldStatus:    oldStatus,
				NewStatus:    r.Status,
			})
		}

		now := time.Now().UTC()
		r.Status = models.RemittanceStatusExportedUnreconciled
		r.PaymentAmount = amount
		r.ExternalPaymentId = &paymentId
		r.ApprovedAt = &now
		r.ApprovedBy = actor.auditUserId()
		r.ExportedAt = &now
		r.FailureReason = nil
		if err := tx.Save(r).Error; err != nil {
			return err
		}
		if auditErr := recordAudit(tx, &models.AuditLogEntry{
			BusinessId:   businessId,
			RemittanceId: r.ID,
			UserId:       actor.auditUserId(),
			UserName:     actor.UserName,
			Action:       models.AuditActionApproval,
			Outcome:      models.AuditOutcomeSuccess,
			Reason:       fmt.Sprintf("exported as payment %s, amount %s", paymentId, amount.String()),
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
			config.LogError(logger, "approveWorkflow.go", "Approve", "local commit", remittanceId, err)
		}
		return remittance, err
	}
	if commitErr != nil {
		return remittance, commitErr
	}
	return remittance, nil
}

// approveGuard enforces the Approve precondition: AwaitingApproval, or
// Unmatched with every line manually resolved. A remittance already
// exported reports AlreadyProcessed so a concurrent duplicate fails fast.
func approveGuard(r *models.Remittance) *WorkflowError {
	if r.IsSoftDeleted() {
		return NewWorkflowError(ErrKindInvalidTransition, "remittance is deleted")
	}
	switch r.Status {
	case models.RemittanceStatusAwaitingApproval:
		return nil
	case models.RemittanceStatusUnmatched:
		if !r.FullyResolved() {
			return NewWorkflowError(ErrKindInvalidTransition,
				"cannot approve: one or more lines have no resolved invoice")
		}
		return nil
	case models.RemittanceStatusExportedUnreconciled, models.RemittanceStatusExportedReconciled:
		return NewWorkflowError(ErrKindAlreadyProcessed,
			fmt.Sprintf("remittance already exported (status %q)", r.Status))
	default:
		return invalidTransitionError(r.Status, "approve")
	}
}

func rejectionEntry(r *models.Remittance, actor Actor, action models.AuditAction, reason string) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		BusinessId:   r.BusinessId,
		RemittanceId: r.ID,
		UserId:       actor.auditUserId(),
		UserName:     actor.UserName,
		Action:       action,
		Outcome:      models.AuditOutcomeRejected,
		Reason:       reason,
		OldStatus:    r.Status,
		NewStatus:    r.Status,
	}
}
