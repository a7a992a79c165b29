package reports

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

const exceptionSheet = "Exception Queue"

var exceptionHeaders = []string{
	"ID", "Status", "Severity", "Reason", "Message",
	"Legal Entity", "Bank Account", "Line ID", "Txn Date", "Amount",
	"Currency", "Reference", "Occurrences", "Assignee", "Resolution", "Resolution Note",
}

// ExceptionQueueXLSX writes the tenant's exception queue as an XLSX
// workbook, one row per exception joined with its statement line. The
// filter narrows the queue the same way the HTTP listing does; the
// configured row cap bounds the page size.
func (s *Service) ExceptionQueueXLSX(tenantID uint, f store.ExceptionFilter, w io.Writer) error {
	if f.Limit <= 0 || f.Limit > s.cfg.MaxQueueRows {
		f.Limit = s.cfg.MaxQueueRows
	}
	rows, err := s.store.ListExceptions(tenantID, f)
	if err != nil {
		return apperrors.StorageError("listing exceptions", err)
	}
	lineIDs := make([]uint, 0, len(rows))
	for i := range rows {
		lineIDs = append(lineIDs, rows[i].StatementLineID)
	}
	lines, err := s.store.LinesByIDs(tenantID, lineIDs)
	if err != nil {
		return apperrors.StorageError("loading statement lines", err)
	}

	wb, err := newWorkbook(exceptionSheet)
	if err != nil {
		return apperrors.InternalError("rendering exception workbook", err)
	}
	defer wb.Close()
	styles, err := buildStyles(wb)
	if err != nil {
		return apperrors.InternalError("rendering exception workbook", err)
	}

	if err := s.writeExceptionSheet(wb, styles, rows, lines, f); err != nil {
		return apperrors.InternalError("rendering exception workbook", err)
	}
	if err := flush(wb, w, "exception workbook"); err != nil {
		return err
	}
	s.log.WithFields(logger.Fields{
		"tenant_id": tenantID,
		"rows":      len(rows),
	}).Info("Exception queue exported")
	return nil
}

func (s *Service) writeExceptionSheet(wb *excelize.File, styles workbookStyles, rows []models.ReconException, lines map[uint]models.StatementLine, f store.ExceptionFilter) error {
	sheet := exceptionSheet
	if err := wb.SetCellValue(sheet, "A1", "EXCEPTION QUEUE"); err != nil {
		return err
	}
	if err := wb.SetCellValue(sheet, "A2", "Generated on: "+time.Now().UTC().Format("2006-01-02 15:04:05 MST")); err != nil {
		return err
	}
	headerRow := 4
	if scope := exceptionScopeLine(f); scope != "" {
		if err := wb.SetCellValue(sheet, "A3", scope); err != nil {
			return err
		}
		headerRow = 5
	}

	if err := setRow(wb, sheet, headerRow, asCells(exceptionHeaders)); err != nil {
		return err
	}
	if err := styleRow(wb, sheet, headerRow, len(exceptionHeaders), styles.header); err != nil {
		return err
	}

	byStatus := map[models.ExceptionStatus]int{}
	for i := range rows {
		exc := &rows[i]
		byStatus[exc.Status]++
		values := []interface{}{
			exc.ID, string(exc.Status), string(exc.Severity), exc.ReasonCode, exc.Message,
			exc.LegalEntityID, exc.BankAccountID, exc.StatementLineID, nil, nil,
			nil, nil, exc.OccurrenceCount, optUint(exc.AssignedToUserID), exc.ResolutionCode, exc.ResolutionNote,
		}
		if line, ok := lines[exc.StatementLineID]; ok {
			values[8] = line.TxnDate.Format(s.cfg.DateFormat)
			values[9] = line.Amount.InexactFloat64()
			values[10] = line.CurrencyCode
			values[11] = line.ReferenceNo
		}
		row := headerRow + 1 + i
		if err := setRow(wb, sheet, row, values); err != nil {
			return err
		}
		if err := styleRow(wb, sheet, row, len(exceptionHeaders), styles.data); err != nil {
			return err
		}
		if err := wb.SetCellStyle(sheet, cellRef(10, row), cellRef(10, row), styles.amount); err != nil {
			return err
		}
	}

	summaryRow := headerRow + len(rows) + 3
	if err := wb.SetCellValue(sheet, cellRef(1, summaryRow), "SUMMARY"); err != nil {
		return err
	}
	if err := wb.SetCellStyle(sheet, cellRef(1, summaryRow), cellRef(1, summaryRow), styles.header); err != nil {
		return err
	}
	summary := []struct {
		label string
		count int
	}{
		{"Total:", len(rows)},
		{"Open:", byStatus[models.ExceptionOpen]},
		{"Assigned:", byStatus[models.ExceptionAssigned]},
		{"Resolved:", byStatus[models.ExceptionResolved]},
		{"Ignored:", byStatus[models.ExceptionIgnored]},
	}
	for i, entry := range summary {
		if err := setRow(wb, sheet, summaryRow+1+i, []interface{}{entry.label, entry.count}); err != nil {
			return err
		}
	}
	if len(rows) == f.Limit {
		note := fmt.Sprintf("Row cap reached (%d); narrow the filter to see the rest.", f.Limit)
		if err := wb.SetCellValue(sheet, cellRef(1, summaryRow+len(summary)+2), note); err != nil {
			return err
		}
	}

	for col := 1; col <= len(exceptionHeaders); col++ {
		width := 14.0
		switch col {
		case 4:
			width = 24
		case 5:
			width = 40
		case 12:
			width = 24
		case 16:
			width = 32
		}
		if err := wb.SetColWidth(sheet, colName(col), colName(col), width); err != nil {
			return err
		}
	}
	return nil
}

// exceptionScopeLine renders the active filter for the workbook banner.
func exceptionScopeLine(f store.ExceptionFilter) string {
	var parts []string
	if f.Status != nil {
		parts = append(parts, "Status: "+string(*f.Status))
	}
	if f.LegalEntityID != nil {
		parts = append(parts, fmt.Sprintf("Legal entity: %d", *f.LegalEntityID))
	}
	if f.BankAccountID != nil {
		parts = append(parts, fmt.Sprintf("Bank account: %d", *f.BankAccountID))
	}
	if f.ReasonCode != "" {
		parts = append(parts, "Reason: "+f.ReasonCode)
	}
	return strings.Join(parts, "; ")
}

func asCells(headers []string) []interface{} {
	cells := make([]interface{}, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	return cells
}
