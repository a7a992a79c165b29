package admin

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-core/internal/approvals"
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

type env struct {
	admin *Service
	gate  *approvals.Service
	exc   *exceptions.Service
	store *store.Store
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.Open(store.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, st.AutoMigrate())
	excSvc := exceptions.New(st, nil)
	rec := recon.New(st, excSvc, nil)
	execSvc := executors.New(st, rec, nil)
	gate := approvals.New(st, nil)
	svc := New(st, gate, execSvc, excSvc, nil)
	svc.RegisterExecutors()
	return &env{admin: svc, gate: gate, exc: excSvc, store: st}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func uintPtr(v uint) *uint { return &v }

func intPtr(v int) *int { return &v }

type policyOpts struct {
	minAmount *decimal.Decimal
	currency  string
	required  int
	autoExec  bool
}

// seedPolicy installs a GLOBAL approval policy for one (target, action)
// pair of the BANK module.
func seedPolicy(t *testing.T, st *store.Store, target, action string, o policyOpts) *models.ApprovalPolicy {
	t.Helper()
	if o.required == 0 {
		o.required = 1
	}
	p := &models.ApprovalPolicy{
		TenantID:                   1,
		ModuleCode:                 models.ModuleBank,
		TargetType:                 target,
		ActionType:                 action,
		Status:                     models.ApprovalPolicyActive,
		ScopeType:                  models.ScopeGlobal,
		CurrencyCode:               o.currency,
		MinAmount:                  o.minAmount,
		RequiredApprovals:          o.required,
		MakerCheckerRequired:       true,
		AutoExecuteOnFinalApproval: o.autoExec,
		CreatedBy:                  1,
	}
	require.NoError(t, st.InsertPolicy(p))
	return p
}

// decide records one verdict on a request as the given user.
func decide(t *testing.T, e *env, requestID, userID uint, verdict models.ApprovalDecisionVerdict) *models.ApprovalRequest {
	t.Helper()
	req, err := e.gate.Decide(1, requestID, &scope.Principal{TenantID: 1, UserID: userID}, verdict, "")
	require.NoError(t, err)
	return req
}

func seedLine(t *testing.T, st *store.Store, amount string) *models.StatementLine {
	t.Helper()
	line := &models.StatementLine{
		TenantID:      1,
		LegalEntityID: 10,
		BankAccountID: 100,
		LineNo:        int(nextSeq()),
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

// seedException queues an exception for a fresh statement line.
func seedException(t *testing.T, e *env, amount string) *models.ReconException {
	t.Helper()
	line := seedLine(t, e.store, amount)
	exc, err := e.exc.Upsert(exceptions.UpsertInput{
		Line:       line,
		ReasonCode: models.ReasonNoRuleMatch,
		Message:    "no rule matched the line",
	})
	require.NoError(t, err)
	return exc
}

func minimalRuleInput(actor uint) RuleInput {
	return RuleInput{
		RuleCode:   fmt.Sprintf("RL-%d", nextSeq()),
		RuleName:   "Match supplier payments",
		MatchType:  models.MatchPaymentByBankReference,
		ActionType: models.ActionAutoMatchPaymentBatch,
		ActorID:    actor,
	}
}

func minimalTemplateInput(actor uint) TemplateInput {
	return TemplateInput{
		TemplateCode:     fmt.Sprintf("TPL-%d", nextSeq()),
		TemplateName:     "Bank charges",
		CounterAccountID: 7100,
		ActorID:          actor,
	}
}

func minimalProfileInput(actor uint) ProfileInput {
	return ProfileInput{
		ProfileCode:      fmt.Sprintf("DP-%d", nextSeq()),
		ProfileName:      "Fee tolerance",
		DifferenceType:   models.DifferenceFee,
		MaxAbsDifference: decPtr("10"),
		ExpenseAccountID: uintPtr(7100),
		ActorID:          actor,
	}
}

func assertErrCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	re, ok := apperrors.AsReconError(err)
	require.True(t, ok, "expected ReconError, got %v", err)
	assert.Equal(t, code, re.Code)
}
