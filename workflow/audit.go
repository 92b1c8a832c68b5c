package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/remit_backend/models"
	"gorm.io/gorm"
)

// recordAudit appends the entry inside tx. A failed insert fails the whole
// transition: unaudited financial-state changes must never commit.
func recordAudit(tx *gorm.DB, entry *models.AuditLogEntry) error {
	if err := models.AppendAuditLog(tx, entry); err != nil {
		return WrapWorkflowError(ErrKindAuditWriteFailed, "audit write failed", err)
	}
	return nil
}

// recordRejection audits a rejected or errored attempt in its own short
// transaction. The triggering operation made no state change, so the audit
// row is the only write. A failure here is reported but does not mask the
// original rejection.
func recordRejection(ctx context.Context, db *gorm.DB, businessId string, remittanceId int, actor Actor,
	action models.AuditAction, outcome models.AuditOutcome, status models.RemittanceStatus, reason string) error {

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return models.AppendAuditLog(tx, &models.AuditLogEntry{
			BusinessId:   businessId,
			RemittanceId: remittanceId,
			UserId:       actor.auditUserId(),
			UserName:     actor.UserName,
			Action:       action,
			Outcome:      outcome,
			Reason:       reason,
			OldStatus:    status,
			NewStatus:    status,
		})
	})
}
