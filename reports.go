package main

import (
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// remittanceRegisterHandler exports the business's remittance register as
// an .xlsx workbook.
func remittanceRegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, _, ok := requestScope(c)
		if !ok {
			return
		}

		remittances, err := models.ListRemittances(ctx, businessId, nil, true)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}

		f := excelize.NewFile()
		sheet := "Register"
		f.SetSheetName("Sheet1", sheet)

		headers := []string{"ID", "Status", "Payment Date", "Payment Amount", "Reference",
			"Bank Account", "External Payment ID", "Approved At", "Deleted"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			f.SetCellValue(sheet, cell, h)
		}

		for row, r := range remittances {
			values := []interface{}{
				r.ID,
				displayStatus[r.Status],
				formatDatePtr(r.PaymentDate),
				r.PaymentAmount.String(),
				r.PaymentReference,
				r.BankAccount,
				derefString(r.ExternalPaymentId),
				formatTimePtr(r.ApprovedAt),
				r.IsSoftDeleted(),
			}
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
				f.SetCellValue(sheet, cell, v)
			}
		}

		writeWorkbook(c, f, fmt.Sprintf("remittance-register-%s.xlsx", time.Now().UTC().Format("2006-01-02")))
	}
}

// auditTrailReportHandler exports the business's audit log, optionally
// filtered by action and outcome.
func auditTrailReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, businessId, _, ok := requestScope(c)
		if !ok {
			return
		}

		var action *models.AuditAction
		if s := c.Query("action"); s != "" {
			a := models.AuditAction(s)
			action = &a
		}
		var outcome *models.AuditOutcome
		if s := c.Query("outcome"); s != "" {
			o := models.AuditOutcome(s)
			outcome = &o
		}

		entries, err := models.ListAuditEntries(ctx, businessId, action, outcome)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}

		f := excelize.NewFile()
		sheet := "Audit Trail"
		f.SetSheetName("Sheet1", sheet)

		headers := []string{"Timestamp", "Remittance", "User", "Action", "Outcome",
			"Old Status", "New Status", "Reason", "Correlation ID"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			f.SetCellValue(sheet, cell, h)
		}

		for row, e := range entries {
			user := e.UserName
			if e.UserId == nil {
				user = "system"
			}
			values := []interface{}{
				e.CreatedAt.UTC().Format(time.RFC3339),
				e.RemittanceId,
				user,
				string(e.Action),
				string(e.Outcome),
				string(e.OldStatus),
				string(e.NewStatus),
				e.Reason,
				e.CorrelationId,
			}
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
				f.SetCellValue(sheet, cell, v)
			}
		}

		writeWorkbook(c, f, fmt.Sprintf("audit-trail-%s.xlsx", time.Now().UTC().Format("2006-01-02")))
	}
}

func writeWorkbook(c *gin.Context, f *excelize.File, filename string) {
	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	if err := f.Write(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write workbook"})
		return
	}
	c.Status(http.StatusOK)
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
