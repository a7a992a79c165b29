package reports

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

const outcomeSheet = "Run Outcomes"

var outcomeHeaders = []string{
	"Line ID", "Line No", "Txn Date", "Amount", "Outcome",
	"Rule Code", "Detail", "Match ID", "Journal No", "Exception ID", "Error",
}

// RunOutcomeXLSX writes the persisted per-line outcome rows of one run as
// an XLSX workbook.
func (s *Service) RunOutcomeXLSX(tenantID, runID uint, w io.Writer) error {
	run, err := s.loadRun(tenantID, runID)
	if err != nil {
		return err
	}

	wb, err := newWorkbook(outcomeSheet)
	if err != nil {
		return apperrors.InternalError("rendering run workbook", err)
	}
	defer wb.Close()
	styles, err := buildStyles(wb)
	if err != nil {
		return apperrors.InternalError("rendering run workbook", err)
	}

	if err := wb.SetCellValue(outcomeSheet, "A1", fmt.Sprintf("AUTO RUN #%d OUTCOMES", run.ID)); err != nil {
		return apperrors.InternalError("rendering run workbook", err)
	}
	if err := wb.SetCellValue(outcomeSheet, "A2", "Generated on: "+time.Now().UTC().Format("2006-01-02 15:04:05 MST")); err != nil {
		return apperrors.InternalError("rendering run workbook", err)
	}
	if err := wb.SetCellValue(outcomeSheet, "A3", runScopeLine(run)); err != nil {
		return apperrors.InternalError("rendering run workbook", err)
	}

	const headerRow = 5
	if err := setRow(wb, outcomeSheet, headerRow, asCells(outcomeHeaders)); err != nil {
		return apperrors.InternalError("rendering run workbook", err)
	}
	if err := styleRow(wb, outcomeSheet, headerRow, len(outcomeHeaders), styles.header); err != nil {
		return apperrors.InternalError("rendering run workbook", err)
	}

	rows := run.Payload.Rows
	for i := range rows {
		r := &rows[i]
		var amount interface{} = r.Amount
		amountStyle := styles.data
		if v, perr := strconv.ParseFloat(r.Amount, 64); perr == nil {
			amount = v
			amountStyle = styles.amount
		}
		values := []interface{}{
			r.StatementLineID, r.LineNo, r.TxnDate, amount, r.OutcomeCode,
			r.RuleCode, r.Detail, optUint(r.MatchID), r.JournalNo, optUint(r.ExceptionID), r.Error,
		}
		row := headerRow + 1 + i
		if err := setRow(wb, outcomeSheet, row, values); err != nil {
			return apperrors.InternalError("rendering run workbook", err)
		}
		if err := styleRow(wb, outcomeSheet, row, len(outcomeHeaders), styles.data); err != nil {
			return apperrors.InternalError("rendering run workbook", err)
		}
		if err := wb.SetCellStyle(outcomeSheet, cellRef(4, row), cellRef(4, row), amountStyle); err != nil {
			return apperrors.InternalError("rendering run workbook", err)
		}
	}

	summaryRow := headerRow + len(rows) + 3
	if err := wb.SetCellValue(outcomeSheet, cellRef(1, summaryRow), "SUMMARY"); err != nil {
		return apperrors.InternalError("rendering run workbook", err)
	}
	if err := wb.SetCellStyle(outcomeSheet, cellRef(1, summaryRow), cellRef(1, summaryRow), styles.header); err != nil {
		return apperrors.InternalError("rendering run workbook", err)
	}
	for i, c := range runCounters(run) {
		if err := setRow(wb, outcomeSheet, summaryRow+1+i, []interface{}{c.label + ":", c.value}); err != nil {
			return apperrors.InternalError("rendering run workbook", err)
		}
	}
	if run.Payload.Capped {
		note := fmt.Sprintf("Outcome rows were capped at the run limit (%d).", run.LineLimit)
		if err := wb.SetCellValue(outcomeSheet, cellRef(1, summaryRow+8), note); err != nil {
			return apperrors.InternalError("rendering run workbook", err)
		}
	}

	for col := 1; col <= len(outcomeHeaders); col++ {
		width := 14.0
		switch col {
		case 7:
			width = 40
		case 9:
			width = 20
		case 11:
			width = 32
		}
		if err := wb.SetColWidth(outcomeSheet, colName(col), colName(col), width); err != nil {
			return apperrors.InternalError("rendering run workbook", err)
		}
	}

	if err := flush(wb, w, "run workbook"); err != nil {
		return err
	}
	s.log.WithFields(logger.Fields{
		"tenant_id": tenantID,
		"run_id":    run.ID,
		"rows":      len(rows),
	}).Info("Run outcomes exported")
	return nil
}

// RunSummaryPDF writes a one-page PDF with the run's counters and status.
func (s *Service) RunSummaryPDF(tenantID, runID uint, w io.Writer) error {
	run, err := s.loadRun(tenantID, runID)
	if err != nil {
		return err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Auto run %d", run.ID), false)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Bank Reconciliation Run Summary", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	meta := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(45, 7, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
	}
	meta("Run", fmt.Sprintf("#%d (%s)", run.ID, run.RunMode))
	meta("Status", string(run.Status))
	meta("Scope", runScopeTarget(run))
	meta("Window", runWindow(run))
	meta("Started", fmt.Sprintf("%s by user %d", run.StartedAt.UTC().Format("2006-01-02 15:04:05 MST"), run.StartedBy))
	if run.FinishedAt != nil {
		meta("Finished", run.FinishedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if run.RunRequestID != nil {
		meta("Request ID", *run.RunRequestID)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(68, 114, 196)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(95, 8, "Counter", "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 8, "Value", "1", 1, "R", true, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 11)
	for _, c := range runCounters(run) {
		pdf.CellFormat(95, 8, c.label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 8, strconv.Itoa(c.value), "1", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "I", 10)
	if run.Payload.Capped {
		pdf.CellFormat(0, 6, fmt.Sprintf("Outcome rows were capped at the run limit (%d).", run.LineLimit), "", 1, "L", false, 0, "")
	}
	if run.ErrorMessage != "" {
		pdf.CellFormat(0, 6, "Error: "+run.ErrorMessage, "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 6, "Generated on "+time.Now().UTC().Format("2006-01-02 15:04:05 MST"), "", 1, "L", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return apperrors.InternalError("writing run summary pdf", err)
	}
	s.log.WithFields(logger.Fields{
		"tenant_id": tenantID,
		"run_id":    run.ID,
	}).Info("Run summary exported")
	return nil
}

func (s *Service) loadRun(tenantID, id uint) (*models.AutoRun, error) {
	run, err := s.store.RunByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("auto run", id)
		}
		return nil, apperrors.StorageError("loading run", err)
	}
	return run, nil
}

type counter struct {
	label string
	value int
}

func runCounters(run *models.AutoRun) []counter {
	return []counter{
		{"Scanned lines", run.ScannedCount},
		{"Matched", run.MatchedCount},
		{"Reconciled", run.ReconciledCount},
		{"Exceptions", run.ExceptionCount},
		{"Skipped", run.SkippedCount},
		{"Errors", run.ErrorCount},
	}
}

// runScopeLine renders the mode, status and filters for the workbook banner.
func runScopeLine(run *models.AutoRun) string {
	parts := []string{
		"Mode: " + string(run.RunMode),
		"Status: " + string(run.Status),
	}
	if target := runScopeTarget(run); target != "All accounts" {
		parts = append(parts, "Scope: "+target)
	}
	if window := runWindow(run); window != "All dates" {
		parts = append(parts, "Window: "+window)
	}
	return strings.Join(parts, "; ")
}

func runScopeTarget(run *models.AutoRun) string {
	var parts []string
	if run.LegalEntityID != nil {
		parts = append(parts, fmt.Sprintf("legal entity %d", *run.LegalEntityID))
	}
	if run.BankAccountID != nil {
		parts = append(parts, fmt.Sprintf("bank account %d", *run.BankAccountID))
	}
	if len(parts) == 0 {
		return "All accounts"
	}
	return strings.Join(parts, ", ")
}

func runWindow(run *models.AutoRun) string {
	switch {
	case run.DateFrom != nil && run.DateTo != nil:
		return run.DateFrom.Format("2006-01-02") + " to " + run.DateTo.Format("2006-01-02")
	case run.DateFrom != nil:
		return "from " + run.DateFrom.Format("2006-01-02")
	case run.DateTo != nil:
		return "through " + run.DateTo.Format("2006-01-02")
	default:
		return "All dates"
	}
}
