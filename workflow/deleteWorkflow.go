package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SoftDelete hides the remittance without touching its status, so a later
// restore recovers the exact workflow position. Deletion is refused while
// the remittance is matched for approval or exported: the caller must
// unapprove first, otherwise a live external payment could be silently
// hidden. The rejection names the blocking status.
func SoftDelete(ctx context.Context, db *gorm.DB, logger *logrus.Logger,
	businessId string, actor Actor, remittanceId int) (*models.Remittance, error) {

	if _, err := Authorize(ctx, db, businessId, actor, true); err != nil {
		return nil, err
	}

	// The rejection audit must commit, so the guard error is carried out of
	// the transaction instead of being returned from it.
	var remittance *models.Remittance
	var blockedErr *WorkflowError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := models.GetRemittanceForUpdate(tx, businessId, remittanceId)
		if err != nil {
			return asNotFound(err)
		}
		if r.IsSoftDeleted() {
			return NewWorkflowError(ErrKindAlreadyProcessed, "remittance is already deleted")
		}
		if SoftDeleteBlocked(r.Status) {
			blockedErr = NewWorkflowError(ErrKindInvalidTransition,
				fmt.Sprintf("cannot delete while status is %q: unapprove first", r.Status))
			return recordAudit(tx, rejectionEntry(r, actor, models.AuditActionSoftDelete, blockedErr.Reason))
		}

		now := time.Now().UTC()
		r.DeletedAt = &now
		r.DeletedBy = actor.auditUserId()
		if err := tx.Save(r).Error; err != nil {
			return err
		}

		if err := recordAudit(tx, &models.AuditLogEntry{
			BusinessId:   businessId,
			RemittanceId: r.ID,
			UserId:       actor.auditUserId(),
			UserName:     actor.UserName,
			Action:       models.AuditActionSoftDelete,
			Outcome:      models.AuditOutcomeSuccess,
			OldStatus:    r.Status,
			NewStatus:    r.Status,
		}); err != nil {
			return err
		}
		remittance = r
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			config.LogError(logger, "deleteWorkflow.go", "SoftDelete", "transaction", remittanceId, err)
		}
		return nil, err
	}
	if blockedErr != nil {
		return nil, blockedErr
	}
	return remittance, nil
}

// Restore clears the deletion flag only. The underlying status was never
// overwritten, so the remittance resumes exactly where it stopped.
func Restore(ctx context.Context, db *gorm.DB, logger *logrus.Logger,
	businessId string, actor Actor, remittanceId int) (*models.Remittance, error) {

	if _, err := Authorize(ctx, db, businessId, actor, true); err != nil {
		return nil, err
	}

	var remittance *models.Remittance
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := models.GetRemittanceForUpdate(tx, businessId, remittanceId)
		if err != nil {
			return asNotFound(err)
		}
		if !r.IsSoftDeleted() {
			return NewWorkflowError(ErrKindAlreadyProcessed, "remittance is not deleted")
		}

		if err := tx.Model(&models.Remittance{}).Where("id = ?", r.ID).
			Updates(map[string]interface{}{"deleted_at": nil, "deleted_by": nil}).Error; err != nil {
			return err
		}
		r.DeletedAt = nil
		r.DeletedBy = nil

		if err := recordAudit(tx, &models.AuditLogEntry{
			BusinessId:   businessId,
			RemittanceId: r.ID,
			UserId:       actor.auditUserId(),
			UserName:     actor.UserName,
			Action:       models.AuditActionRestore,
			Outcome:      models.AuditOutcomeSuccess,
			OldStatus:    r.Status,
			NewStatus:    r.Status,
		}); err != nil {
			return err
		}
		remittance = r
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			config.LogError(logger, "deleteWorkflow.go", "Restore", "transaction", remittanceId, err)
		}
		return nil, err
	}
	return remittance, nil
}
