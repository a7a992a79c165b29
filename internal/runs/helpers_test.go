package runs

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-core/internal/engine"
	"bank-reconciliation-core/internal/exceptions"
	"bank-reconciliation-core/internal/executors"
	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/recon"
	"bank-reconciliation-core/internal/scope"
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
	exc := exceptions.New(st, nil)
	rec := recon.New(st, exc, nil)
	svc := New(st, engine.New(st, nil), executors.New(st, rec, nil), rec, exc, nil)
	return svc, st
}

// operator is an unrestricted principal for tenant 1.
func operator() *scope.Principal {
	return &scope.Principal{TenantID: 1, UserID: 42}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func uintPtr(v uint) *uint { return &v }

func seedLine(t *testing.T, st *store.Store, amount, ref, desc string) *models.StatementLine {
	t.Helper()
	return seedLineOn(t, st, testDay, amount, ref, desc)
}

func seedLineOn(t *testing.T, st *store.Store, day time.Time, amount, ref, desc string) *models.StatementLine {
	t.Helper()
	line := &models.StatementLine{
		TenantID:      1,
		LegalEntityID: 10,
		BankAccountID: 100,
		LineNo:        int(nextSeq()),
		TxnDate:       day,
		ReferenceNo:   ref,
		Description:   desc,
		Amount:        dec(amount),
		CurrencyCode:  "EUR",
		ReconStatus:   models.ReconStatusUnmatched,
	}
	require.NoError(t, st.InsertLine(line))
	return line
}

func seedRule(t *testing.T, st *store.Store, mutate func(*models.ReconRule)) *models.ReconRule {
	t.Helper()
	r := &models.ReconRule{
		TenantID:      1,
		RuleCode:      fmt.Sprintf("R-%d", nextSeq()),
		RuleName:      "Automation rule",
		Status:        models.RuleStatusActive,
		Priority:      100,
		ScopeType:     models.ScopeGlobal,
		MatchType:     models.MatchPaymentByTextAndAmount,
		ActionType:    models.ActionQueueException,
		StopOnMatch:   true,
		ApprovalState: models.ApprovalStateApproved,
		CreatedBy:     1,
	}
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, st.InsertRule(r))
	return r
}

// seedLedger wires the posting side the executors need: the LOCAL book of
// legal entity 10, an open March period and bank account 100 with GL
// account 1001.
func seedLedger(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.DB().Create(&models.LedgerBook{
		TenantID:      1,
		LegalEntityID: 10,
		BookCode:      "LOCAL",
		BookName:      "Local book",
		IsPrimary:     true,
		CurrencyCode:  "EUR",
	}).Error)
	require.NoError(t, st.DB().Create(&models.FiscalPeriod{
		TenantID:   1,
		PeriodCode: "2025-03",
		StartDate:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}).Error)
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
}

// seedBatch posts a one-line payment batch on bank account 100 so the
// candidate searches can find it by the bank reference.
func seedBatch(t *testing.T, st *store.Store, batchNo, bankRef, amount string) *models.PaymentBatch {
	t.Helper()
	postedAt := testDay.Add(12 * time.Hour)
	b := &models.PaymentBatch{
		TenantID:      1,
		LegalEntityID: 10,
		BankAccountID: 100,
		BatchNo:       batchNo,
		Status:        models.PaymentBatchPosted,
		CurrencyCode:  "EUR",
		TotalAmount:   dec(amount),
		BankReference: bankRef,
		PostedAt:      &postedAt,
		CreatedBy:     1,
		Lines: []models.PaymentLine{{
			TenantID:      1,
			LineNo:        1,
			Status:        models.PaymentLineCompleted,
			BankReference: bankRef,
			CurrencyCode:  "EUR",
			Amount:        dec(amount),
		}},
	}
	require.NoError(t, st.DB().Create(b).Error)
	return b
}

func seedTemplate(t *testing.T, st *store.Store) *models.PostingTemplate {
	t.Helper()
	tpl := &models.PostingTemplate{
		TenantID:         1,
		TemplateCode:     fmt.Sprintf("TPL-%d", nextSeq()),
		TemplateName:     "Bank interest",
		Status:           models.TemplateStatusActive,
		ScopeType:        models.ScopeGlobal,
		CounterAccountID: 7100,
		DirectionPolicy:  models.DirectionPolicyBoth,
		TaxMode:          models.TaxModeNone,
		DescriptionMode:  models.DescriptionUseStatementText,
		ApprovalState:    models.ApprovalStateApproved,
		CreatedBy:        1,
	}
	require.NoError(t, st.InsertTemplate(tpl))
	return tpl
}

func seedFXProfile(t *testing.T, st *store.Store) *models.DifferenceProfile {
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
	require.NoError(t, st.InsertProfile(p))
	return p
}

func countExceptions(t *testing.T, st *store.Store) int64 {
	t.Helper()
	var n int64
	require.NoError(t, st.DB().Model(&models.ReconException{}).
		Where("tenant_id = ?", 1).Count(&n).Error)
	return n
}

func assertErrCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	re, ok := apperrors.AsReconError(err)
	require.True(t, ok, "expected ReconError, got %v", err)
	assert.Equal(t, code, re.Code)
}
