package reports

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
)

var testDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

var seedSeq atomic.Uint64

func nextSeq() uint64 { return seedSeq.Add(1) }

func newTestService(t *testing.T, cfg *Config) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, st.AutoMigrate())
	svc, err := New(st, cfg, nil)
	require.NoError(t, err)
	return svc, st
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func uintPtr(v uint) *uint { return &v }

func seedLine(t *testing.T, st *store.Store, amount, ref string) *models.StatementLine {
	t.Helper()
	line := &models.StatementLine{
		TenantID:      1,
		LegalEntityID: 10,
		BankAccountID: 100,
		LineNo:        int(nextSeq()),
		TxnDate:       testDay,
		ReferenceNo:   ref,
		Description:   "Statement line " + ref,
		Amount:        dec(amount),
		CurrencyCode:  "EUR",
		ReconStatus:   models.ReconStatusUnmatched,
	}
	require.NoError(t, st.InsertLine(line))
	return line
}

func seedException(t *testing.T, st *store.Store, lineID uint, mutate func(*models.ReconException)) *models.ReconException {
	t.Helper()
	e := &models.ReconException{
		TenantID:        1,
		LegalEntityID:   10,
		BankAccountID:   100,
		StatementLineID: lineID,
		Status:          models.ExceptionOpen,
		Severity:        models.SeverityMedium,
		ReasonCode:      "NO_CANDIDATE",
		Message:         "no candidate found",
		OccurrenceCount: 1,
		LastSeenAt:      testDay,
	}
	if mutate != nil {
		mutate(e)
	}
	e.SyncStatusRank()
	require.NoError(t, st.InsertException(e))
	return e
}

func seedRun(t *testing.T, st *store.Store, mutate func(*models.AutoRun)) *models.AutoRun {
	t.Helper()
	finished := testDay.Add(time.Hour)
	run := &models.AutoRun{
		TenantID:        1,
		RunMode:         models.RunModeApply,
		Status:          models.RunStatusPartial,
		LineLimit:       200,
		ScannedCount:    2,
		MatchedCount:    1,
		ReconciledCount: 1,
		ExceptionCount:  1,
		StartedBy:       42,
		StartedAt:       testDay,
		FinishedAt:      &finished,
		Payload: models.RunPayload{
			Summary: models.RunSummary{ScannedCount: 2, MatchedCount: 1, ReconciledCount: 1, ExceptionCount: 1},
			Rows: []models.RunOutcomeRow{
				{StatementLineID: 11, LineNo: 1, TxnDate: "2025-03-10", Amount: "150.00", OutcomeCode: "RULE_AUTO_MATCH", RuleCode: "R-PAY", MatchID: uintPtr(5), JournalNo: "BNK-2025-000001"},
				{StatementLineID: 12, LineNo: 2, TxnDate: "2025-03-10", Amount: "99.50", OutcomeCode: "RULE_QUEUE_EXCEPTION", RuleCode: "R-QUEUE", Detail: "manual review required", ExceptionID: uintPtr(3)},
			},
		},
	}
	if mutate != nil {
		mutate(run)
	}
	require.NoError(t, st.DB().Create(run).Error)
	return run
}

func openWorkbook(t *testing.T, buf *bytes.Buffer) *excelize.File {
	t.Helper()
	wb, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	t.Cleanup(func() { wb.Close() })
	return wb
}

func cellValue(t *testing.T, wb *excelize.File, sheet, cell string) string {
	t.Helper()
	v, err := wb.GetCellValue(sheet, cell)
	require.NoError(t, err)
	return v
}

func assertCategory(t *testing.T, err error, cat apperrors.ErrorCategory) {
	t.Helper()
	require.Error(t, err)
	re, ok := apperrors.AsReconError(err)
	require.True(t, ok, "expected ReconError, got %v", err)
	assert.Equal(t, cat, re.Category)
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	st, err := store.Open(store.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, nil)
	require.NoError(t, err)

	svc, err := New(st, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, svc.cfg.MaxQueueRows)
	assert.Equal(t, "2006-01-02", svc.cfg.DateFormat)

	_, err = New(st, &Config{MaxQueueRows: 0, DateFormat: "2006-01-02"}, nil)
	assertCategory(t, err, apperrors.CategoryValidation)

	_, err = New(st, &Config{MaxQueueRows: 10}, nil)
	assertCategory(t, err, apperrors.CategoryValidation)
}

func TestExceptionQueueXLSX(t *testing.T) {
	svc, st := newTestService(t, nil)
	open := seedLine(t, st, "150.00", "INV-1001")
	assigned := seedLine(t, st, "42.10", "INV-1002")
	seedException(t, st, open.ID, func(e *models.ReconException) {
		e.Severity = models.SeverityHigh
		e.ReasonCode = "AMBIGUOUS_MATCH"
		e.Message = "two candidates in window"
	})
	seedException(t, st, assigned.ID, func(e *models.ReconException) {
		e.Status = models.ExceptionAssigned
		e.AssignedToUserID = uintPtr(7)
		e.OccurrenceCount = 3
	})

	var buf bytes.Buffer
	require.NoError(t, svc.ExceptionQueueXLSX(1, store.ExceptionFilter{}, &buf))

	wb := openWorkbook(t, &buf)
	assert.Equal(t, "EXCEPTION QUEUE", cellValue(t, wb, exceptionSheet, "A1"))
	assert.Contains(t, cellValue(t, wb, exceptionSheet, "A2"), "Generated on:")

	// No filter banner, so headers sit on row 4.
	assert.Equal(t, "ID", cellValue(t, wb, exceptionSheet, "A4"))
	assert.Equal(t, "Resolution Note", cellValue(t, wb, exceptionSheet, "P4"))

	// OPEN ranks before ASSIGNED.
	assert.Equal(t, "OPEN", cellValue(t, wb, exceptionSheet, "B5"))
	assert.Equal(t, "HIGH", cellValue(t, wb, exceptionSheet, "C5"))
	assert.Equal(t, "AMBIGUOUS_MATCH", cellValue(t, wb, exceptionSheet, "D5"))
	assert.Equal(t, "2025-03-10", cellValue(t, wb, exceptionSheet, "I5"))
	assert.Equal(t, "150.00", cellValue(t, wb, exceptionSheet, "J5"))
	assert.Equal(t, "EUR", cellValue(t, wb, exceptionSheet, "K5"))
	assert.Equal(t, "INV-1001", cellValue(t, wb, exceptionSheet, "L5"))

	assert.Equal(t, "ASSIGNED", cellValue(t, wb, exceptionSheet, "B6"))
	assert.Equal(t, "3", cellValue(t, wb, exceptionSheet, "M6"))
	assert.Equal(t, "7", cellValue(t, wb, exceptionSheet, "N6"))

	// Summary block sits two blank rows under the data.
	assert.Equal(t, "SUMMARY", cellValue(t, wb, exceptionSheet, "A9"))
	assert.Equal(t, "Total:", cellValue(t, wb, exceptionSheet, "A10"))
	assert.Equal(t, "2", cellValue(t, wb, exceptionSheet, "B10"))
	assert.Equal(t, "1", cellValue(t, wb, exceptionSheet, "B11"))
	assert.Equal(t, "1", cellValue(t, wb, exceptionSheet, "B12"))
}

func TestExceptionQueueXLSXFilterBanner(t *testing.T) {
	svc, st := newTestService(t, nil)
	line := seedLine(t, st, "150.00", "INV-2001")
	seedException(t, st, line.ID, nil)
	seedException(t, st, line.ID, func(e *models.ReconException) {
		e.Status = models.ExceptionResolved
		e.ResolutionCode = "HANDLED_OUTSIDE"
		e.ResolutionNote = "settled by phone"
	})

	status := models.ExceptionOpen
	var buf bytes.Buffer
	require.NoError(t, svc.ExceptionQueueXLSX(1, store.ExceptionFilter{
		Status:        &status,
		LegalEntityID: uintPtr(10),
	}, &buf))

	wb := openWorkbook(t, &buf)
	banner := cellValue(t, wb, exceptionSheet, "A3")
	assert.Contains(t, banner, "Status: OPEN")
	assert.Contains(t, banner, "Legal entity: 10")

	// Banner pushes headers to row 5; only the OPEN row exports.
	assert.Equal(t, "ID", cellValue(t, wb, exceptionSheet, "A5"))
	assert.Equal(t, "OPEN", cellValue(t, wb, exceptionSheet, "B6"))
	assert.Equal(t, "", cellValue(t, wb, exceptionSheet, "B7"))
	assert.Equal(t, "Total:", cellValue(t, wb, exceptionSheet, "A10"))
	assert.Equal(t, "1", cellValue(t, wb, exceptionSheet, "B10"))
}

func TestExceptionQueueXLSXRowCap(t *testing.T) {
	svc, st := newTestService(t, &Config{MaxQueueRows: 1, DateFormat: "2006-01-02"})
	line := seedLine(t, st, "150.00", "INV-3001")
	seedException(t, st, line.ID, nil)
	seedException(t, st, line.ID, nil)

	var buf bytes.Buffer
	require.NoError(t, svc.ExceptionQueueXLSX(1, store.ExceptionFilter{}, &buf))

	wb := openWorkbook(t, &buf)
	assert.Equal(t, "1", cellValue(t, wb, exceptionSheet, "B9"))
	assert.Contains(t, cellValue(t, wb, exceptionSheet, "A15"), "Row cap reached (1)")
}

func TestExceptionQueueXLSXMissingLine(t *testing.T) {
	svc, st := newTestService(t, nil)
	seedException(t, st, 9999, nil)

	var buf bytes.Buffer
	require.NoError(t, svc.ExceptionQueueXLSX(1, store.ExceptionFilter{}, &buf))

	wb := openWorkbook(t, &buf)
	assert.Equal(t, "NO_CANDIDATE", cellValue(t, wb, exceptionSheet, "D5"))
	assert.Equal(t, "9999", cellValue(t, wb, exceptionSheet, "H5"))
	assert.Equal(t, "", cellValue(t, wb, exceptionSheet, "I5"))
	assert.Equal(t, "", cellValue(t, wb, exceptionSheet, "K5"))
}

func TestExceptionQueueScopedToTenant(t *testing.T) {
	svc, st := newTestService(t, nil)
	foreign := &models.ReconException{
		TenantID:        2,
		LegalEntityID:   20,
		BankAccountID:   200,
		StatementLineID: 1,
		Status:          models.ExceptionOpen,
		Severity:        models.SeverityMedium,
		ReasonCode:      "NO_CANDIDATE",
		OccurrenceCount: 1,
		LastSeenAt:      testDay,
	}
	foreign.SyncStatusRank()
	require.NoError(t, st.InsertException(foreign))

	var buf bytes.Buffer
	require.NoError(t, svc.ExceptionQueueXLSX(1, store.ExceptionFilter{}, &buf))

	wb := openWorkbook(t, &buf)
	assert.Equal(t, "", cellValue(t, wb, exceptionSheet, "A5"))
	assert.Equal(t, "0", cellValue(t, wb, exceptionSheet, "B8"))
}

func TestRunOutcomeXLSX(t *testing.T) {
	svc, st := newTestService(t, nil)
	run := seedRun(t, st, nil)

	var buf bytes.Buffer
	require.NoError(t, svc.RunOutcomeXLSX(1, run.ID, &buf))

	wb := openWorkbook(t, &buf)
	assert.Equal(t, fmt.Sprintf("AUTO RUN #%d OUTCOMES", run.ID), cellValue(t, wb, outcomeSheet, "A1"))
	banner := cellValue(t, wb, outcomeSheet, "A3")
	assert.Contains(t, banner, "Mode: APPLY")
	assert.Contains(t, banner, "Status: PARTIAL")

	assert.Equal(t, "Line ID", cellValue(t, wb, outcomeSheet, "A5"))
	assert.Equal(t, "Error", cellValue(t, wb, outcomeSheet, "K5"))

	assert.Equal(t, "11", cellValue(t, wb, outcomeSheet, "A6"))
	assert.Equal(t, "150.00", cellValue(t, wb, outcomeSheet, "D6"))
	assert.Equal(t, "RULE_AUTO_MATCH", cellValue(t, wb, outcomeSheet, "E6"))
	assert.Equal(t, "BNK-2025-000001", cellValue(t, wb, outcomeSheet, "I6"))
	assert.Equal(t, "RULE_QUEUE_EXCEPTION", cellValue(t, wb, outcomeSheet, "E7"))
	assert.Equal(t, "manual review required", cellValue(t, wb, outcomeSheet, "G7"))
	assert.Equal(t, "3", cellValue(t, wb, outcomeSheet, "J7"))

	assert.Equal(t, "SUMMARY", cellValue(t, wb, outcomeSheet, "A10"))
	assert.Equal(t, "Scanned lines:", cellValue(t, wb, outcomeSheet, "A11"))
	assert.Equal(t, "2", cellValue(t, wb, outcomeSheet, "B11"))
	assert.Equal(t, "Exceptions:", cellValue(t, wb, outcomeSheet, "A14"))
	assert.Equal(t, "1", cellValue(t, wb, outcomeSheet, "B14"))
}

func TestRunOutcomeXLSXCappedNote(t *testing.T) {
	svc, st := newTestService(t, nil)
	run := seedRun(t, st, func(r *models.AutoRun) {
		r.Payload.Capped = true
		r.LineLimit = 2
	})

	var buf bytes.Buffer
	require.NoError(t, svc.RunOutcomeXLSX(1, run.ID, &buf))

	wb := openWorkbook(t, &buf)
	assert.Contains(t, cellValue(t, wb, outcomeSheet, "A18"), "capped at the run limit (2)")
}

func TestRunSummaryPDF(t *testing.T) {
	svc, st := newTestService(t, nil)
	requestID := "REQ-PDF-1"
	run := seedRun(t, st, func(r *models.AutoRun) {
		r.RunRequestID = &requestID
	})

	var buf bytes.Buffer
	require.NoError(t, svc.RunSummaryPDF(1, run.ID, &buf))

	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")), "output does not start with a PDF header")
	assert.Greater(t, buf.Len(), 500)
}

func TestRunExportsNotFound(t *testing.T) {
	svc, st := newTestService(t, nil)
	run := seedRun(t, st, nil)

	var buf bytes.Buffer
	assertCategory(t, svc.RunOutcomeXLSX(1, 9999, &buf), apperrors.CategoryNotFound)
	assertCategory(t, svc.RunSummaryPDF(1, 9999, &buf), apperrors.CategoryNotFound)

	// Another tenant cannot see the run at all.
	assertCategory(t, svc.RunOutcomeXLSX(2, run.ID, &buf), apperrors.CategoryNotFound)
}
