package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"gorm.io/gorm"
)

// AuditLogEntry is append-only: it is created on every attempted workflow
// transition (including rejected attempts) and never updated or deleted.
// There are deliberately no update/delete accessors in this file.
type AuditLogEntry struct {
	ID           int    `gorm:"primary_key" json:"id"`
	BusinessId   string `gorm:"size:64;index;not null" json:"business_id"`
	RemittanceId int    `gorm:"index;not null" json:"remittance_id"`

	// UserId is null for system-triggered events (daily reconciliation poll).
	UserId   *int   `gorm:"index" json:"user_id"`
	UserName string `gorm:"size:100" json:"user_name"`

	Action  AuditAction  `gorm:"size:20;not null" json:"action"`
	Outcome AuditOutcome `gorm:"size:10;not null" json:"outcome"`
	Reason  string       `gorm:"type:text" json:"reason"`

	OldStatus RemittanceStatus `gorm:"size:30" json:"old_status"`
	NewStatus RemittanceStatus `gorm:"size:30" json:"new_status"`

	CorrelationId string    `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AppendAuditLog writes the entry inside the caller's transaction so the
// audited state change and its audit row commit or roll back together.
func AppendAuditLog(tx *gorm.DB, entry *AuditLogEntry) error {
	if entry.BusinessId == "" {
		return errors.New("business id is required")
	}
	if entry.RemittanceId == 0 {
		return errors.New("remittance id is required")
	}
	if ctx := tx.Statement.Context; ctx != nil && entry.CorrelationId == "" {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok {
			entry.CorrelationId = v
		}
	}
	return tx.Create(entry).Error
}

func GetAuditTrail(ctx context.Context, businessId string, remittanceId int) ([]*AuditLogEntry, error) {
	db := config.GetDB()
	var results []*AuditLogEntry
	err := db.WithContext(ctx).
		Where("business_id = ? AND remittance_id = ?", businessId, remittanceId).
		Order("created_at ASC, id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func ListAuditEntries(ctx context.Context, businessId string, action *AuditAction, outcome *AuditOutcome) ([]*AuditLogEntry, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if action != nil && *action != "" {
		dbCtx = dbCtx.Where("action = ?", *action)
	}
	if outcome != nil && *outcome != "" {
		dbCtx = dbCtx.Where("outcome = ?", *outcome)
	}
	var results []*AuditLogEntry
	if err := dbCtx.Order("created_at DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
