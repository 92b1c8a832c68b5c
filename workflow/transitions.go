package workflow

import (
	"fmt"

	"bitbucket.org/mmdatafocus/remit_backend/models"
)

// validTransitions is the closed transition table. Soft delete and restore
// are an overlay on deleted_at, not a status, so they do not appear here.
var validTransitions = map[models.RemittanceStatus][]models.RemittanceStatus{
	models.RemittanceStatusUploaded: {
		models.RemittanceStatusDataRetrieved,
	},
	models.RemittanceStatusDataRetrieved: {
		models.RemittanceStatusAwaitingApproval,
		models.RemittanceStatusUnmatched,
		models.RemittanceStatusDataRetrieved, // retry re-extract
	},
	models.RemittanceStatusUnmatched: {
		models.RemittanceStatusAwaitingApproval,
		models.RemittanceStatusDataRetrieved,
		models.RemittanceStatusExportedUnreconciled, // approve on fully resolved lines
		models.RemittanceStatusExportFailed,
	},
	models.RemittanceStatusAwaitingApproval: {
		models.RemittanceStatusExportedUnreconciled,
		models.RemittanceStatusExportFailed,
	},
	models.RemittanceStatusExportedUnreconciled: {
		models.RemittanceStatusExportedReconciled,
		models.RemittanceStatusAwaitingApproval,
		models.RemittanceStatusExportFailed,
	},
	models.RemittanceStatusExportedReconciled: {},
	models.RemittanceStatusExportFailed:       {},
}

func CanTransition(from, to models.RemittanceStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GuardTransition returns an InvalidTransition error naming both statuses
// when the move is not in the table.
func GuardTransition(from, to models.RemittanceStatus) *WorkflowError {
	if CanTransition(from, to) {
		return nil
	}
	return NewWorkflowError(ErrKindInvalidTransition,
		fmt.Sprintf("cannot move from %q to %q", from, to))
}

// SoftDeleteBlocked reports whether the status forces an explicit unapprove
// before deletion. Hiding a record that still has a live external payment
// (or is queued for one) must be impossible.
func SoftDeleteBlocked(status models.RemittanceStatus) bool {
	switch status {
	case models.RemittanceStatusAwaitingApproval,
		models.RemittanceStatusExportedUnreconciled,
		models.RemittanceStatusExportedReconciled:
		return true
	}
	return false
}
