package models

import "errors"

// RemittanceStatus is the closed set of workflow positions. The legacy
// display strings ("Exported to Xero - Unreconciled" etc) live only at the
// presentation boundary so an invalid status can never be constructed here.
type RemittanceStatus string

const (
	RemittanceStatusUploaded             RemittanceStatus = "Uploaded"
	RemittanceStatusDataRetrieved        RemittanceStatus = "DataRetrieved"
	RemittanceStatusAwaitingApproval     RemittanceStatus = "AwaitingApproval"
	RemittanceStatusUnmatched            RemittanceStatus = "Unmatched"
	RemittanceStatusExportedUnreconciled RemittanceStatus = "ExportedUnreconciled"
	RemittanceStatusExportedReconciled   RemittanceStatus = "ExportedReconciled"
	RemittanceStatusExportFailed         RemittanceStatus = "ExportFailed"
)

func ParseRemittanceStatus(s string) (RemittanceStatus, error) {
	switch RemittanceStatus(s) {
	case RemittanceStatusUploaded,
		RemittanceStatusDataRetrieved,
		RemittanceStatusAwaitingApproval,
		RemittanceStatusUnmatched,
		RemittanceStatusExportedUnreconciled,
		RemittanceStatusExportedReconciled,
		RemittanceStatusExportFailed:
		return RemittanceStatus(s), nil
	}
	return "", errors.New("invalid remittance status")
}

type AuditAction string

const (
	AuditActionUpload     AuditAction = "upload"
	AuditActionExtraction AuditAction = "extraction"
	AuditActionManualEdit AuditAction = "manual_edit"
	AuditActionApproval   AuditAction = "approval"
	AuditActionUnapproval AuditAction = "unapproval"
	AuditActionExport     AuditAction = "export"
	AuditActionSync       AuditAction = "sync"
	AuditActionSoftDelete AuditAction = "soft_delete"
	AuditActionRestore    AuditAction = "restore"
	AuditActionRetry      AuditAction = "retry"
)

type AuditOutcome string

const (
	AuditOutcomeSuccess  AuditOutcome = "success"
	AuditOutcomeError    AuditOutcome = "error"
	AuditOutcomeRejected AuditOutcome = "rejected"
)

// UserRole: A = admin, O = operator, C = clerk (read-only).
type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleOperator UserRole = "O"
	UserRoleClerk    UserRole = "C"
)

// CanMutate reports whether the role may drive workflow transitions.
func (r UserRole) CanMutate() bool {
	return r == UserRoleAdmin || r == UserRoleOperator
}

func (r UserRole) Label() string {
	switch r {
	case UserRoleAdmin:
		return "Admin"
	case UserRoleOperator:
		return "Operator"
	default:
		return "Clerk"
	}
}

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)
