package executors

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-core/internal/exceptions"
	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/recon"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
)

var testDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

var seedSeq atomic.Uint64

func nextSeq() uint64 { return seedSeq.Add(1) }

func newTestEnv(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, st.AutoMigrate())
	rec := recon.New(st, exceptions.New(st, nil), nil)
	return New(st, rec, nil), st
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func uintPtr(v uint) *uint { return &v }

// seedLedger wires the posting side every executor needs: the LOCAL book
// of legal entity 10, an open March period and bank account 100 with GL
// account 1001.
func seedLedger(t *testing.T, st *store.Store) (*models.LedgerBook, *models.FiscalPeriod) {
	t.Helper()
	book := &models.LedgerBook{
		TenantID:      1,
		LegalEntityID: 10,
		BookCode:      "LOCAL",
		BookName:      "Local book",
		IsPrimary:     true,
		CurrencyCode:  "EUR",
	}
	require.NoError(t, st.DB().Create(book).Error)
	period := &models.FiscalPeriod{
		TenantID:   1,
		PeriodCode: "2025-03",
		StartDate:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.DB().Create(period).Error)
	require.NoError(t, st.DB().Create(&models.BankAccount{
		ID:              100,
		TenantID:        1,
		LegalEntityID:   10,
		AccountCode:     "MAIN-EUR",
		AccountName:     "Main EUR account",
		CurrencyCode:    "EUR",
		LedgerAccountID: 1001,
		IsActive:        true,
	}).Error)
	return book, period
}

func seedLine(t *testing.T, st *store.Store, amount string) *models.StatementLine {
	t.Helper()
	line := &models.StatementLine{
		TenantID:      1,
		LegalEntityID: 10,
		BankAccountID: 100,
		LineNo:        1,
		TxnDate:       testDay,
		Description:   "ACME INVOICE 4711",
		ReferenceNo:   "TRX-889",
		Amount:        dec(amount),
		CurrencyCode:  "EUR",
		ReconStatus:   models.ReconStatusUnmatched,
	}
	require.NoError(t, st.InsertLine(line))
	return line
}

func seedTemplate(t *testing.T, st *store.Store, mutate func(*models.PostingTemplate)) *models.PostingTemplate {
	t.Helper()
	tpl := &models.PostingTemplate{
		TenantID:         1,
		TemplateCode:     fmt.Sprintf("TPL-%d", nextSeq()),
		TemplateName:     "Bank charges",
		Status:           models.TemplateStatusActive,
		ScopeType:        models.ScopeGlobal,
		CounterAccountID: 7100,
		DirectionPolicy:  models.DirectionPolicyBoth,
		TaxMode:          models.TaxModeNone,
		DescriptionMode:  models.DescriptionUseStatementText,
		ApprovalState:    models.ApprovalStateApproved,
		CreatedBy:        1,
	}
	if mutate != nil {
		mutate(tpl)
	}
	require.NoError(t, st.InsertTemplate(tpl))
	return tpl
}

func seedProfile(t *testing.T, st *store.Store, mutate func(*models.DifferenceProfile)) *models.DifferenceProfile {
	t.Helper()
	p := &models.DifferenceProfile{
		TenantID:         1,
		ProfileCode:      fmt.Sprintf("DP-%d", nextSeq()),
		ProfileName:      "FX tolerance",
		Status:           models.DifferenceProfileActive,
		ScopeType:        models.ScopeGlobal,
		DifferenceType:   models.DifferenceFX,
		DirectionPolicy:  models.DifferenceDirectionBoth,
		MaxAbsDifference: dec("10"),
		FXGainAccountID:  uintPtr(7201),
		FXLossAccountID:  uintPtr(7202),
		ApprovalState:    models.ApprovalStateApproved,
		CreatedBy:        1,
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, st.InsertProfile(p))
	return p
}

// seedBatchWithLine posts a one-line payment batch on bank account 100.
func seedBatchWithLine(t *testing.T, st *store.Store, lineAmount string) (*models.PaymentBatch, *models.PaymentLine) {
	t.Helper()
	now := time.Now()
	b := &models.PaymentBatch{
		TenantID:      1,
		LegalEntityID: 10,
		BankAccountID: 100,
		BatchNo:       fmt.Sprintf("PB-%d", nextSeq()),
		Status:        models.PaymentBatchPosted,
		CurrencyCode:  "EUR",
		TotalAmount:   dec(lineAmount),
		PostedAt:      &now,
		CreatedBy:     1,
	}
	require.NoError(t, st.DB().Create(b).Error)
	pl := &models.PaymentLine{
		TenantID:        1,
		PaymentBatchID:  b.ID,
		LineNo:          1,
		Status:          models.PaymentLinePending,
		BeneficiaryName: "ACME GMBH",
		BankReference:   "TRX-889",
		CurrencyCode:    "EUR",
		Amount:          dec(lineAmount),
	}
	require.NoError(t, st.DB().Create(pl).Error)
	return b, pl
}

func activeMatches(t *testing.T, st *store.Store, lineID uint) []models.ReconMatch {
	t.Helper()
	rows, err := st.ActiveMatches(1, lineID)
	require.NoError(t, err)
	return rows
}

func assertErrCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	re, ok := apperrors.AsReconError(err)
	require.True(t, ok, "expected ReconError, got %v", err)
	assert.Equal(t, code, re.Code)
}
