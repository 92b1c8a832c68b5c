package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/remit_backend/models"
)

func TestCanTransition_Table(t *testing.T) {
	cases := []struct {
		from    models.RemittanceStatus
		to      models.RemittanceStatus
		allowed bool
	}{
		{models.RemittanceStatusUploaded, models.RemittanceStatusDataRetrieved, true},
		{models.RemittanceStatusUploaded, models.RemittanceStatusAwaitingApproval, false},
		{models.RemittanceStatusUploaded, models.RemittanceStatusExportedUnreconciled, false},

		{models.RemittanceStatusDataRetrieved, models.RemittanceStatusAwaitingApproval, true},
		{models.RemittanceStatusDataRetrieved, models.RemittanceStatusUnmatched, true},
		{models.RemittanceStatusDataRetrieved, models.RemittanceStatusDataRetrieved, true},
		{models.RemittanceStatusDataRetrieved, models.RemittanceStatusExportedUnreconciled, false},

		{models.RemittanceStatusUnmatched, models.RemittanceStatusAwaitingApproval, true},
		{models.RemittanceStatusUnmatched, models.RemittanceStatusDataRetrieved, true},
		{models.RemittanceStatusUnmatched, models.RemittanceStatusExportedUnreconciled, true},
		{models.RemittanceStatusUnmatched, models.RemittanceStatusUploaded, false},

		{models.RemittanceStatusAwaitingApproval, models.RemittanceStatusExportedUnreconciled, true},
		{models.RemittanceStatusAwaitingApproval, models.RemittanceStatusExportFailed, true},
		{models.RemittanceStatusAwaitingApproval, models.RemittanceStatusDataRetrieved, false},

		{models.RemittanceStatusExportedUnreconciled, models.RemittanceStatusExportedReconciled, true},
		{models.RemittanceStatusExportedUnreconciled, models.RemittanceStatusAwaitingApproval, true},
		{models.RemittanceStatusExportedUnreconciled, models.RemittanceStatusExportFailed, true},
		{models.RemittanceStatusExportedUnreconciled, models.RemittanceStatusUploaded, false},

		// terminal statuses
		{models.RemittanceStatusExportedReconciled, models.RemittanceStatusAwaitingApproval, false},
		{models.RemittanceStatusExportedReconciled, models.RemittanceStatusExportedUnreconciled, false},
		{models.RemittanceStatusExportFailed, models.RemittanceStatusAwaitingApproval, false},
		{models.RemittanceStatusExportFailed, models.RemittanceStatusDataRetrieved, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("CanTransition(%s, %s) expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestGuardTransition_NamesBothStatuses(t *testing.T) {
	err := GuardTransition(models.RemittanceStatusUploaded, models.RemittanceStatusExportedReconciled)
	if err == nil {
		t.Fatal("expected an error for Uploaded -> ExportedReconciled")
	}
	if err.Kind != ErrKindInvalidTransition {
		t.Fatalf("expected InvalidTransition kind, got %s", err.Kind)
	}
	if err.Reason != `cannot move from "Uploaded" to "ExportedReconciled"` {
		t.Fatalf("unexpected reason: %q", err.Reason)
	}

	if err := GuardTransition(models.RemittanceStatusUploaded, models.RemittanceStatusDataRetrieved); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}
}

func TestSoftDeleteBlocked(t *testing.T) {
	blocked := []models.RemittanceStatus{
		models.RemittanceStatusAwaitingApproval,
		models.RemittanceStatusExportedUnreconciled,
		models.RemittanceStatusExportedReconciled,
	}
	for _, s := range blocked {
		if !SoftDeleteBlocked(s) {
			t.Fatalf("expected %s to block soft delete", s)
		}
	}
	free := []models.RemittanceStatus{
		models.RemittanceStatusUploaded,
		models.RemittanceStatusDataRetrieved,
		models.RemittanceStatusUnmatched,
		models.RemittanceStatusExportFailed,
	}
	for _, s := range free {
		if SoftDeleteBlocked(s) {
			t.Fatalf("expected %s to allow soft delete", s)
		}
	}
}
