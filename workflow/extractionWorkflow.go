package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExtractionResult is the structured candidate payment set produced by the
// document-reading collaborator.
type ExtractionResult struct {
	PaymentDate      *time.Time
	PaymentReference string
	BankAccount      string
	Confidence       int
	Lines            []LineCandidate
}

// CompleteExtraction stores the extraction output and moves the remittance
// from Uploaded to DataRetrieved. A remittance reset by Retry sits in
// DataRetrieved awaiting a fresh extraction, so that status is accepted too;
// lines carrying a manual override survive the replacement.
// The ai_ fields written here are provenance: immutable afterwards.
func CompleteExtraction(ctx context.Context, db *gorm.DB, logger *logrus.Logger,
	businessId string, actor Actor, remittanceId int, result ExtractionResult) (*models.Remittance, error) {

	if _, err := Authorize(ctx, db, businessId, actor, true); err != nil {
		return nil, err
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
		if r.Status != models.RemittanceStatusUploaded && r.Status != models.RemittanceStatusDataRetrieved {
			return invalidTransitionError(r.Status, "extraction")
		}
		oldStatus := r.Status

		// Re-extraction replaces the machine-generated lines. A line
		// carrying a manual override survives, matching what Retry kept.
		total := decimal.Zero
		kept := make([]models.RemittanceLine, 0, len(r.Lines))
		keptNumbers := make(map[string]bool)
		for _, line := range r.Lines {
			if line.Overridden() {
				kept = append(kept, line)
				keptNumbers[line.InvoiceNumber] = true
				total = total.Add(line.FinalPaidAmount())
			}
		}
		if err := tx.Where("remittance_id = ? AND manual_paid_amount IS NULL AND manual_invoice_ref IS NULL", r.ID).
			Delete(&models.RemittanceLine{}).Error; err != nil {
			return err
		}

		lines := make([]models.RemittanceLine, 0, len(result.Lines))
		for _, cand := range result.Lines {
			// A fresh read of the same document reproduces the same printed
			// numbers; one already covered by a kept line is not duplicated.
			if keptNumbers[cand.InvoiceNumber] {
				continue
			}
			lines = append(lines, models.RemittanceLine{
				BusinessId:    businessId,
				RemittanceId:  r.ID,
				InvoiceNumber: cand.InvoiceNumber,
				AiPaidAmount:  cand.PaidAmount,
			})
			total = total.Add(cand.PaidAmount)
		}
		if len(lines) > 0 {
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}

		r.PaymentDate = result.PaymentDate
		r.PaymentReference = result.PaymentReference
		r.BankAccount = result.BankAccount
		r.ConfidenceScore = result.Confidence
		r.PaymentAmount = total
		r.Status = models.RemittanceStatusDataRetrieved
		// Lines are written explicitly above; letting Save upsert the stale
		// association would resurrect the deleted rows.
		if err := tx.Omit(clause.Associations).Save(r).Error; err != nil {
			return err
		}

		if err := recordAudit(tx, &models.AuditLogEntry{
			BusinessId:   businessId,
			RemittanceId: r.ID,
			UserId:       actor.auditUserId(),
			UserName:     actor.UserName,
			Action:       models.AuditActionExtraction,
			Outcome:      models.AuditOutcomeSuccess,
			Reason:       fmt.Sprintf("%d lines extracted, %d manual lines kept, confidence %d", len(lines), len(kept), result.Confidence),
			OldStatus:    oldStatus,
			NewStatus:    r.Status,
		}); err != nil {
			return err
		}

		r.Lines = append(kept, lines...)
		remittance = r
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			config.LogError(logger, "extractionWorkflow.go", "CompleteExtraction", "transaction", remittanceId, err)
		}
		return nil, err
	}
	return remittance, nil
}

// RunMatching matches extracted lines against the business's open invoices
// and moves the remittance to AwaitingApproval or Unmatched. The invoice
// listing happens outside the transaction; the line updates and the status
// write are status-guarded inside it.
func RunMatching(ctx context.Context, db *gorm.DB, logger *logrus.Logger, gw Gateway,
	businessId string, actor Actor, remittanceId int) (*models.Remittance, error) {

	if _, err := Authorize(ctx, db, businessId, actor, true); err != nil {
		return nil, err
	}

	snapshot, err := models.GetRemittance(ctx, businessId, remittanceId)
	if err != nil {
		return nil, asNotFound(err)
	}

	openInvoices, err := gw.ListOpenInvoices(ctx, businessId)
	if err != nil {
		wErr := ClassifyGatewayError(err)
		config.LogError(logger, "extractionWorkflow.go", "RunMatching", "ListOpenInvoices", businessId, err)
		if auditErr := recordRejection(ctx, db, businessId, remittanceId, actor,
			models.AuditActionExtraction, models.AuditOutcomeError, snapshot.Status, wErr.Reason); auditErr != nil {
			config.LogError(logger, "extractionWorkflow.go", "RunMatching", "recordRejection", remittanceId, auditErr)
		}
		return nil, wErr
	}

	opts := MatchOptions{StrictAmount: config.StrictAmountMatching()}
	threshold := config.MatchConfidenceThreshold()

	var remittance *models.Remittance
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := models.GetRemittanceForUpdate(tx, businessId, remittanceId)
		if err != nil {
			return asNotFound(err)
		}
		if r.IsSoftDeleted() {
			return NewWorkflowError(ErrKindInvalidTransition, "remittance is deleted")
		}
		if r.Status != models.RemittanceStatusDataRetrieved {
			return invalidTransitionError(r.Status, "matching")
		}

		candidates := make([]LineCandidate, 0, len(r.Lines))
		for _, line := range r.Lines {
			candidates = append(candidates, LineCandidate{
				InvoiceNumber: line.InvoiceNumber,
				PaidAmount:    line.AiPaidAmount,
			})
		}
		proposals := MatchLines(candidates, openInvoices, opts)

		allMatched := len(proposals) > 0
		for i := range r.Lines {
			line := &r.Lines[i]
			line.AiInvoiceRef = proposals[i].InvoiceRef
			line.MatchReason = proposals[i].Reason
			if !proposals[i].Matched {
				allMatched = false
			}
			if err := tx.Model(&models.RemittanceLine{}).Where("id = ?", line.ID).
				Updates(map[string]interface{}{
					"ai_invoice_ref": line.AiInvoiceRef,
					"match_reason":   line.MatchReason,
				}).Error; err != nil {
				return err
			}
		}

		target := models.RemittanceStatusAwaitingApproval
		reason := "all lines matched"
		if !allMatched {
			target = models.RemittanceStatusUnmatched
			reason = "one or more lines unmatched"
		} else if r.ConfidenceScore < threshold {
			target = models.RemittanceStatusUnmatched
			reason = fmt.Sprintf("confidence %d below threshold %d", r.ConfidenceScore, threshold)
		}

		oldStatus := r.Status
		r.Status = target
		r.PaymentAmount = r.LineTotal()
		if err := tx.Omit(clause.Associations).Save(r).Error; err != nil {
			return err
		}

		if err := recordAudit(tx, &models.AuditLogEntry{
			BusinessId:   businessId,
			RemittanceId: r.ID,
			UserId:       actor.auditUserId(),
			UserName:     actor.UserName,
			Action:       models.AuditActionExtraction,
			Outcome:      models.AuditOutcomeSuccess,
			Reason:       reason,
			OldStatus:    oldStatus,
			NewStatus:    target,
		}); err != nil {
			return err
		}

		remittance = r
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			config.LogError(logger, "extractionWorkflow.go", "RunMatching", "transaction", remittanceId, err)
		}
		return nil, err
	}
	return remittance, nil
}

func asNotFound(err error) error {
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return NewWorkflowError(ErrKindNotFound, "remittance not found")
	}
	return err
}
