package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/extract"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"bitbucket.org/mmdatafocus/remit_backend/workflow"
	"github.com/gin-gonic/gin"
)

// displayStatus maps the internal status enum to the strings the UI shows.
// The enum is the source of truth; these labels exist only here.
var displayStatus = map[models.RemittanceStatus]string{
	models.RemittanceStatusUploaded:             "Uploaded",
	models.RemittanceStatusDataRetrieved:        "Data Retrieved",
	models.RemittanceStatusAwaitingApproval:     "Awaiting Approval",
	models.RemittanceStatusUnmatched:            "Unmatched",
	models.RemittanceStatusExportedUnreconciled: "Exported to Xero - Unreconciled",
	models.RemittanceStatusExportedReconciled:   "Exported to Xero - Reconciled",
	models.RemittanceStatusExportFailed:         "Export Failed",
}

func respondWorkflowError(c *gin.Context, err error) {
	var wErr *workflow.WorkflowError
	if !errors.As(err, &wErr) {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch wErr.Kind {
	case workflow.ErrKindInvalidTransition, workflow.ErrKindAlreadyProcessed:
		status = http.StatusConflict
	case workflow.ErrKindAccessDenied:
		status = http.StatusForbidden
	case workflow.ErrKindNotFound:
		status = http.StatusNotFound
	case workflow.ErrKindExternalRejected:
		status = http.StatusUnprocessableEntity
	case workflow.ErrKindExternalTransient:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"error":     wErr.Reason,
		"kind":      string(wErr.Kind),
		"retryable": wErr.Retryable(),
	})
}

func requestScope(c *gin.Context) (context.Context, string, workflow.Actor, bool) {
	ctx := c.Request.Context()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return ctx, "", workflow.Actor{}, false
	}
	return ctx, businessId, workflow.ActorFromContext(ctx), true
}

func remittanceIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid remittance id"})
		return 0, false
	}
	return id, true
}

type remittanceLineResponse struct {
	models.RemittanceLine
	FinalPaidAmount string  `json:"final_paid_amount"`
	FinalInvoiceRef *string `json:"final_invoice_ref"`
	Resolved        bool    `json:"resolved"`
}

type remittanceResponse struct {
	models.Remittance
	DisplayStatus string                   `json:"display_status"`
	IsDeleted     bool                     `json:"is_deleted"`
	Lines         []remittanceLineResponse `json:"lines"`
}

func presentRemittance(r *models.Remittance) remittanceResponse {
	lines := make([]remittanceLineResponse, 0, len(r.Lines))
	for _, line := range r.Lines {
		lines = append(lines, remittanceLineResponse{
			RemittanceLine:  line,
			FinalPaidAmount: line.FinalPaidAmount().String(),
			FinalInvoiceRef: line.FinalInvoiceRef(),
			Resolved:        line.Resolved(),
		})
	}
	return remittanceResponse{
		Remittance:    *r,
		DisplayStatus: displayStatus[r.Status],
		IsDeleted:     r.IsSoftDeleted(),
		Lines:         lines,
	}
}

func listRemittancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, _, ok := requestScope(c)
		if !ok {
			return
		}

		var status *models.RemittanceStatus
		if s := c.Query("status"); s != "" {
			parsed, err := models.ParseRemittanceStatus(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
				return
			}
			status = &parsed
		}
		includeDeleted := c.Query("include_deleted") == "true"

		remittances, err := models.ListRemittances(ctx, businessId, status, includeDeleted)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		out := make([]remittanceResponse, 0, len(remittances))
		for _, r := range remittances {
			out = append(out, presentRemittance(r))
		}
		c.JSON(http.StatusOK, gin.H{"data": out})
	}
}

func getRemittanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, _, ok := requestScope(c)
		if !ok {
			return
		}
		id, ok := remittanceIdParam(c)
		if !ok {
			return
		}

		remittance, err := models.GetRemittance(ctx, businessId, id)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		audit, err := models.GetAuditTrail(ctx, businessId, id)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data":  presentRemittance(remittance),
			"audit": audit,
		})
	}
}

// extractRemittanceHandler calls the extraction collaborator and feeds the
// result through CompleteExtraction and RunMatching.
func extractRemittanceHandler(extractor extract.Extractor, gw workflow.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, actor, ok := requestScope(c)
		if !ok {
			return
		}
		id, ok := remittanceIdParam(c)
		if !ok {
			return
		}
		logger := config.GetLogger()
		db := config.GetDB()

		remittance, err := models.GetRemittance(ctx, businessId, id)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		document, err := models.GetDocument(ctx, remittance.DocumentId)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}

		result, err := extractor.Extract(ctx, document.DocumentUrl())
		if err != nil {
			config.LogError(logger, "api.go", "extractRemittanceHandler", "Extract", id, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "extraction failed: " + err.Error()})
			return
		}

		lines := make([]workflow.LineCandidate, 0, len(result.Lines))
		for _, cand := range result.Lines {
			lines = append(lines, workflow.LineCandidate{
				InvoiceNumber: cand.InvoiceNumber,
				PaidAmount:    cand.PaidAmount,
			})
		}
		remittance, err = workflow.CompleteExtraction(ctx, db, logger, businessId, actor, id, workflow.ExtractionResult{
			PaymentDate:      result.PaymentDate,
			PaymentReference: result.PaymentReference,
			BankAccount:      result.BankAccount,
			Confidence:       result.Confidence,
			Lines:            lines,
		})
		if err != nil {
			respondWorkflowError(c, err)
			return
		}

		remittance, err = workflow.RunMatching(ctx, db, logger, gw, businessId, actor, id)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": presentRemittance(remittance)})
	}
}

func overrideLineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, actor, ok := requestScope(c)
		if !ok {
			return
		}
		id, ok := remittanceIdParam(c)
		if !ok {
			return
		}
		lineId, err := strconv.Atoi(c.Param("lineId"))
		if err != nil || lineId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid line id"})
			return
		}

		var override workflow.LineOverride
		if err := c.ShouldBindJSON(&override); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		remittance, err := workflow.OverrideLine(ctx, config.GetDB(), config.GetLogger(),
			businessId, actor, id, lineId, override)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": presentRemittance(remittance)})
	}
}

func approveRemittanceHandler(gw workflow.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, actor, ok := requestScope(c)
		if !ok {
			return
		}
		id, ok := remittanceIdParam(c)
		if !ok {
			return
		}

		remittance, err := workflow.Approve(ctx, config.GetDB(), config.GetLogger(), gw, businessId, actor, id)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": presentRemittance(remittance)})
	}
}

func unapproveRemittanceHandler(gw workflow.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, actor, ok := requestScope(c)
		if !ok {
			return
		}
		id, ok := remittanceIdParam(c)
		if !ok {
			return
		}

		remittance, err := workflow.Unapprove(ctx, config.GetDB(), config.GetLogger(), gw, businessId, actor, id)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": presentRemittance(remittance)})
	}
}

func retryRemittanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, actor, ok := requestScope(c)
		if !ok {
			return
		}
		id, ok := remittanceIdParam(c)
		if !ok {
			return
		}

		remittance, err := workflow.Retry(ctx, config.GetDB(), config.GetLogger(), businessId, actor, id)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": presentRemittance(remittance)})
	}
}

func deleteRemittanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, actor, ok := requestScope(c)
		if !ok {
			return
		}
		id, ok := remittanceIdParam(c)
		if !ok {
			return
		}

		remittance, err := workflow.SoftDelete(ctx, config.GetDB(), config.GetLogger(), businessId, actor, id)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": presentRemittance(remittance)})
	}
}

func restoreRemittanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, actor, ok := requestScope(c)
		if !ok {
			return
		}
		id, ok := remittanceIdParam(c)
		if !ok {
			return
		}

		remittance, err := workflow.Restore(ctx, config.GetDB(), config.GetLogger(), businessId, actor, id)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": presentRemittance(remittance)})
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": info})
	}
}
