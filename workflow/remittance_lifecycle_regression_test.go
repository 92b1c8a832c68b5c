package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"bitbucket.org/mmdatafocus/remit_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// fakeGateway is an in-memory accounting ledger. Payment state is mutable so
// the test can simulate external reconciliation between workflow calls, and
// per-payment errors let one call fail while the rest of a batch succeeds.
type fakeGateway struct {
	mu            sync.Mutex
	openInvoices  []workflow.Invoice
	payments      map[string]workflow.PaymentStatus
	createsByKey  map[string]string
	statusErrs    map[string]error
	nextPaymentId int
	createErr     error
	deleteErr     error
	listErr       error

	// createHook runs at the start of CreatePayment, before the ledger
	// mutates, so a test can interleave a concurrent local write with an
	// in-flight export.
	createHook func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		payments:     map[string]workflow.PaymentStatus{},
		createsByKey: map[string]string{},
		statusErrs:   map[string]error{},
	}
}

func (g *fakeGateway) CreatePayment(ctx context.Context, idempotencyKey string, req workflow.PaymentRequest) (string, error) {
	if g.createHook != nil {
		g.createHook()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	// Resends under the same key return the existing payment.
	if id, ok := g.createsByKey[idempotencyKey]; ok {
		return id, nil
	}
	g.nextPaymentId++
	id := fmt.Sprintf("pay-%d", g.nextPaymentId)
	g.createsByKey[idempotencyKey] = id
	g.payments[id] = workflow.PaymentStatus{State: workflow.PaymentStatePending, Amount: req.Amount}
	return id, nil
}

func (g *fakeGateway) DeletePayment(ctx context.Context, paymentId string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	delete(g.payments, paymentId)
	return nil
}

func (g *fakeGateway) GetPaymentStatus(ctx context.Context, paymentId string) (workflow.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.statusErrs[paymentId]; err != nil {
		return workflow.PaymentStatus{}, err
	}
	status, ok := g.payments[paymentId]
	if !ok {
		return workflow.PaymentStatus{State: workflow.PaymentStateMissing}, nil
	}
	return status, nil
}

func (g *fakeGateway) ListOpenInvoices(ctx context.Context, businessId string) ([]workflow.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	return append([]workflow.Invoice(nil), g.openInvoices...), nil
}

func (g *fakeGateway) setPaymentState(paymentId string, state workflow.PaymentState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status := g.payments[paymentId]
	status.State = state
	g.payments[paymentId] = status
}

func (g *fakeGateway) addOpenInvoice(invoiceNumber, amountDue string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openInvoices = append(g.openInvoices, workflow.Invoice{
		InvoiceNumber: invoiceNumber,
		AmountDue:     decimal.RequireFromString(amountDue),
	})
}

// lifecycleEnv is one business with an operator against containerized
// backing stores. Every test gets its own containers and its own business.
type lifecycleEnv struct {
	ctx        context.Context
	db         *gorm.DB
	logger     *logrus.Logger
	businessId string
	actor      workflow.Actor
}

func setupLifecycleEnv(t *testing.T, bizName, bizEmail, operatorUsername string) *lifecycleEnv {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "remit_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
	db := config.GetDB()
	logger := logrus.New()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  bizName,
		Email: bizEmail,
	})
	if err != nil {
		t.Fatalf("create business: %v", err)
	}
	businessId := biz.ID.String()

	operator := models.User{
		Username:   operatorUsername,
		Name:       "Operator",
		Password:   "x",
		BusinessId: businessId,
		IsActive:   utils.NewTrue(),
		Role:       models.UserRoleOperator,
	}
	if err := db.WithContext(ctx).Create(&operator).Error; err != nil {
		t.Fatalf("create operator: %v", err)
	}

	return &lifecycleEnv{
		ctx:        ctx,
		db:         db,
		logger:     logger,
		businessId: businessId,
		actor:      workflow.Actor{UserId: operator.ID, UserName: operator.Username, Role: operator.Role},
	}
}

// exportRemittance drives one single-line remittance through extraction,
// matching and approval, registering the backing open invoice first.
func exportRemittance(t *testing.T, env *lifecycleEnv, gw *fakeGateway, invoiceNumber, amount string) (remittanceId int, paymentId string) {
	t.Helper()

	gw.addOpenInvoice(invoiceNumber, amount)

	remit, err := models.CreateRemittance(env.ctx, env.businessId, &models.NewRemittance{DocumentId: 1})
	if err != nil {
		t.Fatalf("create remittance: %v", err)
	}
	if _, err := workflow.CompleteExtraction(env.ctx, env.db, env.logger, env.businessId, env.actor, remit.ID, workflow.ExtractionResult{
		Confidence: 95,
		Lines:      []workflow.LineCandidate{{InvoiceNumber: invoiceNumber, PaidAmount: decimal.RequireFromString(amount)}},
	}); err != nil {
		t.Fatalf("complete extraction: %v", err)
	}
	if _, err := workflow.RunMatching(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remit.ID); err != nil {
		t.Fatalf("run matching: %v", err)
	}
	r, err := workflow.Approve(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remit.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if r.Status != models.RemittanceStatusExportedUnreconciled || r.ExternalPaymentId == nil {
		t.Fatalf("expected an exported remittance, got %s", r.Status)
	}
	return remit.ID, *r.ExternalPaymentId
}

func auditActions(t *testing.T, env *lifecycleEnv, remittanceId int) string {
	t.Helper()
	trail, err := models.GetAuditTrail(env.ctx, env.businessId, remittanceId)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	var actions []string
	for _, e := range trail {
		actions = append(actions, string(e.Action)+"/"+string(e.Outcome))
	}
	return strings.Join(actions, ",")
}

func TestRemittanceLifecycle_UploadToReconciled(t *testing.T) {
	env := setupLifecycleEnv(t, "Remit Co", "owner@remit.test", "operator@local")

	remit, err := models.CreateRemittance(env.ctx, env.businessId, &models.NewRemittance{DocumentId: 1})
	if err != nil {
		t.Fatalf("create remittance: %v", err)
	}

	gw := newFakeGateway()
	gw.addOpenInvoice("INV-100", "400")
	gw.addOpenInvoice("INV-200", "250.50")

	// Extraction: Uploaded -> DataRetrieved.
	_, err = workflow.CompleteExtraction(env.ctx, env.db, env.logger, env.businessId, env.actor, remit.ID, workflow.ExtractionResult{
		PaymentReference: "REMIT-XYZ",
		Confidence:       90,
		Lines: []workflow.LineCandidate{
			{InvoiceNumber: "INV-100", PaidAmount: decimal.RequireFromString("400")},
			{InvoiceNumber: "inv 200", PaidAmount: decimal.RequireFromString("250.50")},
		},
	})
	if err != nil {
		t.Fatalf("complete extraction: %v", err)
	}

	// Matching: DataRetrieved -> AwaitingApproval (both lines match).
	r, err := workflow.RunMatching(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remit.ID)
	if err != nil {
		t.Fatalf("run matching: %v", err)
	}
	if r.Status != models.RemittanceStatusAwaitingApproval {
		t.Fatalf("expected AwaitingApproval after matching, got %s", r.Status)
	}
	if !r.PaymentAmount.Equal(decimal.RequireFromString("650.50")) {
		t.Fatalf("expected payment amount 650.50, got %s", r.PaymentAmount)
	}

	// Approve: AwaitingApproval -> ExportedUnreconciled with external payment.
	r, err = workflow.Approve(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remit.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if r.Status != models.RemittanceStatusExportedUnreconciled {
		t.Fatalf("expected ExportedUnreconciled, got %s", r.Status)
	}
	if r.ExternalPaymentId == nil {
		t.Fatal("expected an external payment id")
	}
	paymentId := *r.ExternalPaymentId

	// Duplicate approve must fail fast without a second external payment.
	if _, err := workflow.Approve(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remit.ID); workflow.KindOf(err) != workflow.ErrKindAlreadyProcessed {
		t.Fatalf("expected AlreadyProcessed on duplicate approve, got %v", err)
	}
	if len(gw.payments) != 1 {
		t.Fatalf("expected exactly one external payment, got %d", len(gw.payments))
	}

	// Soft delete is blocked while exported.
	if _, err := workflow.SoftDelete(env.ctx, env.db, env.logger, env.businessId, env.actor, remit.ID); workflow.KindOf(err) != workflow.ErrKindInvalidTransition {
		t.Fatalf("expected InvalidTransition on delete while exported, got %v", err)
	}

	// Poll with the payment still pending: no change.
	results, err := workflow.PollBusiness(env.ctx, env.db, env.logger, gw, env.businessId)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(results) != 1 || results[0].OldStatus != results[0].NewStatus {
		t.Fatalf("expected a no-op poll, got %+v", results)
	}

	// Poll after external reconciliation: ExportedUnreconciled -> ExportedReconciled.
	gw.setPaymentState(paymentId, workflow.PaymentStateReconciled)
	results, err = workflow.PollBusiness(env.ctx, env.db, env.logger, gw, env.businessId)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(results) != 1 || results[0].NewStatus != models.RemittanceStatusExportedReconciled {
		t.Fatalf("expected ExportedReconciled, got %+v", results)
	}

	// Unapprove is refused once reconciled.
	if _, err := workflow.Unapprove(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remit.ID); workflow.KindOf(err) != workflow.ErrKindExternalRejected {
		t.Fatalf("expected ExternalRejected on unapprove of reconciled payment, got %v", err)
	}

	// Audit trail covers the full history.
	joined := auditActions(t, env, remit.ID)
	for _, expected := range []string{"extraction/success", "sync/success", "approval/success", "approval/rejected", "soft_delete/rejected", "unapproval/rejected"} {
		if !strings.Contains(joined, expected) {
			t.Fatalf("audit trail missing %s: %s", expected, joined)
		}
	}
}

func TestRemittanceLifecycle_UnapproveDeletesExternalPayment(t *testing.T) {
	env := setupLifecycleEnv(t, "Unapprove Co", "owner@unapprove.test", "operator2@local")

	gw := newFakeGateway()
	remitId, paymentId := exportRemittance(t, env, gw, "INV-1", "75")

	// Unapprove deletes the pending external payment and reverts the status.
	r, err := workflow.Unapprove(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remitId)
	if err != nil {
		t.Fatalf("unapprove: %v", err)
	}
	if r.Status != models.RemittanceStatusAwaitingApproval {
		t.Fatalf("expected AwaitingApproval after unapprove, got %s", r.Status)
	}
	if r.ExternalPaymentId != nil || r.ApprovedAt != nil || r.ExportedAt != nil {
		t.Fatalf("expected export provenance cleared, got %+v", r)
	}
	if _, exists := gw.payments[paymentId]; exists {
		t.Fatal("expected the external payment to be deleted")
	}

	// Re-approve creates a fresh payment under the same idempotency token
	// only if the gateway still remembers it; our fake does, which mirrors
	// the ledger's idempotency window, so the id is stable.
	r, err = workflow.Approve(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remitId)
	if err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if r.Status != models.RemittanceStatusExportedUnreconciled {
		t.Fatalf("expected ExportedUnreconciled after re-approve, got %s", r.Status)
	}
}

func TestReextractionKeepsManualLines(t *testing.T) {
	env := setupLifecycleEnv(t, "Reextract Co", "owner@reextract.test", "operator3@local")

	gw := newFakeGateway()
	gw.addOpenInvoice("INV-1", "75")

	remit, err := models.CreateRemittance(env.ctx, env.businessId, &models.NewRemittance{DocumentId: 1})
	if err != nil {
		t.Fatalf("create remittance: %v", err)
	}

	extraction := workflow.ExtractionResult{
		Confidence: 95,
		Lines: []workflow.LineCandidate{
			{InvoiceNumber: "INV-1", PaidAmount: decimal.RequireFromString("75")},
			{InvoiceNumber: "INV-999", PaidAmount: decimal.RequireFromString("20")},
		},
	}
	if _, err := workflow.CompleteExtraction(env.ctx, env.db, env.logger, env.businessId, env.actor, remit.ID, extraction); err != nil {
		t.Fatalf("complete extraction: %v", err)
	}

	// INV-999 has no open invoice, so matching lands in Unmatched.
	r, err := workflow.RunMatching(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remit.ID)
	if err != nil {
		t.Fatalf("run matching: %v", err)
	}
	if r.Status != models.RemittanceStatusUnmatched {
		t.Fatalf("expected Unmatched, got %s", r.Status)
	}

	var unmatchedLineId int
	for _, line := range r.Lines {
		if line.InvoiceNumber == "INV-999" {
			unmatchedLineId = line.ID
		}
	}
	if unmatchedLineId == 0 {
		t.Fatal("missing the INV-999 line")
	}

	// Amount-only correction: the line is now user-authored but the
	// remittance stays Unmatched (still no resolved invoice).
	corrected := decimal.RequireFromString("25")
	if _, err := workflow.OverrideLine(env.ctx, env.db, env.logger, env.businessId, env.actor, remit.ID, unmatchedLineId,
		workflow.LineOverride{PaidAmount: &corrected}); err != nil {
		t.Fatalf("override line: %v", err)
	}

	r, err = workflow.Retry(env.ctx, env.db, env.logger, env.businessId, env.actor, remit.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if r.Status != models.RemittanceStatusDataRetrieved {
		t.Fatalf("expected DataRetrieved after retry, got %s", r.Status)
	}
	if len(r.Lines) != 1 || r.Lines[0].ManualPaidAmount == nil {
		t.Fatalf("expected retry to keep only the corrected line, got %+v", r.Lines)
	}

	// Fresh extraction re-reads the same document. The corrected line must
	// survive, its printed number is not duplicated, and the total covers
	// the corrected amount plus the regenerated line.
	r, err = workflow.CompleteExtraction(env.ctx, env.db, env.logger, env.businessId, env.actor, remit.ID, extraction)
	if err != nil {
		t.Fatalf("re-extraction: %v", err)
	}
	if len(r.Lines) != 2 {
		t.Fatalf("expected 2 lines after re-extraction, got %d", len(r.Lines))
	}
	var keptLine *models.RemittanceLine
	for i := range r.Lines {
		if r.Lines[i].InvoiceNumber == "INV-999" {
			keptLine = &r.Lines[i]
		}
	}
	if keptLine == nil {
		t.Fatal("re-extraction dropped the manually corrected line")
	}
	if keptLine.ManualPaidAmount == nil || !keptLine.ManualPaidAmount.Equal(corrected) {
		t.Fatalf("expected manual amount 25 to survive, got %+v", keptLine)
	}
	if !r.PaymentAmount.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected payment amount 100 (75 + corrected 25), got %s", r.PaymentAmount)
	}
}

func TestApproveParksWhenLinesChangeDuringExport(t *testing.T) {
	env := setupLifecycleEnv(t, "Race Co", "owner@race.test", "operator4@local")

	gw := newFakeGateway()
	gw.addOpenInvoice("INV-1", "75")

	remit, err := models.CreateRemittance(env.ctx, env.businessId, &models.NewRemittance{DocumentId: 1})
	if err != nil {
		t.Fatalf("create remittance: %v", err)
	}
	if _, err := workflow.CompleteExtraction(env.ctx, env.db, env.logger, env.businessId, env.actor, remit.ID, workflow.ExtractionResult{
		Confidence: 95,
		Lines:      []workflow.LineCandidate{{InvoiceNumber: "INV-1", PaidAmount: decimal.RequireFromString("75")}},
	}); err != nil {
		t.Fatalf("complete extraction: %v", err)
	}
	r, err := workflow.RunMatching(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remit.ID)
	if err != nil {
		t.Fatalf("run matching: %v", err)
	}
	lineId := r.Lines[0].ID

	// A second user edits the line amount while the export call is in
	// flight. AwaitingApproval is still editable, so the edit lands.
	edited := decimal.RequireFromString("80")
	gw.createHook = func() {
		gw.createHook = nil
		if _, err := workflow.OverrideLine(env.ctx, env.db, env.logger, env.businessId, env.actor, remit.ID, lineId,
			workflow.LineOverride{PaidAmount: &edited}); err != nil {
			t.Errorf("concurrent override: %v", err)
		}
	}

	r, err = workflow.Approve(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remit.ID)
	if workflow.KindOf(err) != workflow.ErrKindInvalidTransition {
		t.Fatalf("expected InvalidTransition when lines change mid-export, got %v", err)
	}
	if r == nil || r.Status != models.RemittanceStatusExportFailed {
		t.Fatalf("expected ExportFailed, got %+v", r)
	}
	if r.FailureReason == nil || !strings.Contains(*r.FailureReason, "line total changed during export") {
		t.Fatalf("expected a divergence failure reason, got %+v", r.FailureReason)
	}
	if r.ExternalPaymentId == nil {
		t.Fatal("expected the created payment id to be recorded for review")
	}
	if !strings.Contains(auditActions(t, env, remit.ID), "approval/error") {
		t.Fatal("expected an approval/error audit entry")
	}
}

func TestPollBusinessEvaluatesWholeBatchDespiteFailures(t *testing.T) {
	env := setupLifecycleEnv(t, "Batch Co", "owner@batch.test", "operator5@local")

	gw := newFakeGateway()
	remit1, pay1 := exportRemittance(t, env, gw, "INV-1", "75")
	remit2, pay2 := exportRemittance(t, env, gw, "INV-2", "120")

	gw.statusErrs[pay1] = &workflow.GatewayError{StatusCode: 503, Body: "upstream unavailable"}
	gw.setPaymentState(pay2, workflow.PaymentStateReconciled)

	results, err := workflow.PollBusiness(env.ctx, env.db, env.logger, gw, env.businessId)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both remittances evaluated, got %d results", len(results))
	}
	byId := map[int]workflow.TransitionResult{}
	for _, res := range results {
		byId[res.RemittanceId] = res
	}

	failed := byId[remit1]
	if workflow.KindOf(failed.Err) != workflow.ErrKindExternalTransient {
		t.Fatalf("expected a transient error for the failing payment, got %v", failed.Err)
	}
	if failed.NewStatus != models.RemittanceStatusExportedUnreconciled {
		t.Fatalf("expected the failing remittance left untouched, got %s", failed.NewStatus)
	}

	reconciled := byId[remit2]
	if reconciled.Err != nil || reconciled.NewStatus != models.RemittanceStatusExportedReconciled {
		t.Fatalf("expected the healthy remittance reconciled, got %+v", reconciled)
	}

	r1, err := models.GetRemittance(env.ctx, env.businessId, remit1)
	if err != nil {
		t.Fatalf("get remittance: %v", err)
	}
	if r1.Status != models.RemittanceStatusExportedUnreconciled {
		t.Fatalf("transient poll failure must not flip the status, got %s", r1.Status)
	}
	if !strings.Contains(auditActions(t, env, remit1), "sync/error") {
		t.Fatal("expected a sync/error audit entry for the failing remittance")
	}
}

func TestUnapproveConvergesAfterInterruptedDeletion(t *testing.T) {
	env := setupLifecycleEnv(t, "Converge Co", "owner@converge.test", "operator6@local")

	gw := newFakeGateway()
	remitId, paymentId := exportRemittance(t, env, gw, "INV-1", "75")

	// The external deletion landed but the local commit never did. The
	// remittance is still ExportedUnreconciled pointing at a gone payment.
	if err := gw.DeletePayment(env.ctx, paymentId); err != nil {
		t.Fatalf("delete payment: %v", err)
	}

	r, err := workflow.Unapprove(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remitId)
	if err != nil {
		t.Fatalf("repeat unapprove must converge: %v", err)
	}
	if r.Status != models.RemittanceStatusAwaitingApproval {
		t.Fatalf("expected AwaitingApproval, got %s", r.Status)
	}
	if r.ExternalPaymentId != nil || r.ApprovedAt != nil || r.ExportedAt != nil {
		t.Fatalf("expected export provenance cleared, got %+v", r)
	}
	if !strings.Contains(auditActions(t, env, remitId), "unapproval/success") {
		t.Fatal("expected an unapproval/success audit entry")
	}
}

func TestRunMatchingAuditsInvoiceListingFailure(t *testing.T) {
	env := setupLifecycleEnv(t, "Listing Co", "owner@listing.test", "operator7@local")

	gw := newFakeGateway()
	remit, err := models.CreateRemittance(env.ctx, env.businessId, &models.NewRemittance{DocumentId: 1})
	if err != nil {
		t.Fatalf("create remittance: %v", err)
	}
	if _, err := workflow.CompleteExtraction(env.ctx, env.db, env.logger, env.businessId, env.actor, remit.ID, workflow.ExtractionResult{
		Confidence: 95,
		Lines:      []workflow.LineCandidate{{InvoiceNumber: "INV-1", PaidAmount: decimal.RequireFromString("75")}},
	}); err != nil {
		t.Fatalf("complete extraction: %v", err)
	}

	gw.listErr = &workflow.GatewayError{StatusCode: 500, Body: "ledger down"}
	if _, err := workflow.RunMatching(env.ctx, env.db, env.logger, gw, env.businessId, env.actor, remit.ID); workflow.KindOf(err) != workflow.ErrKindExternalTransient {
		t.Fatalf("expected a transient error, got %v", err)
	}

	trail, err := models.GetAuditTrail(env.ctx, env.businessId, remit.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	var entry *models.AuditLogEntry
	for i := range trail {
		if trail[i].Action == models.AuditActionExtraction && trail[i].Outcome == models.AuditOutcomeError {
			entry = trail[i]
		}
	}
	if entry == nil {
		t.Fatal("expected an extraction/error audit entry")
	}
	if entry.OldStatus != models.RemittanceStatusDataRetrieved || entry.NewStatus != models.RemittanceStatusDataRetrieved {
		t.Fatalf("expected the entry to carry the current status, got %q -> %q", entry.OldStatus, entry.NewStatus)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("remit-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("remit-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=remit_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
