package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-core/internal/admin"
	"bank-reconciliation-core/internal/approvals"
	"bank-reconciliation-core/internal/engine"
	"bank-reconciliation-core/internal/exceptions"
	"bank-reconciliation-core/internal/executors"
	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/recon"
	"bank-reconciliation-core/internal/runs"
	"bank-reconciliation-core/internal/scope"
	"bank-reconciliation-core/internal/store"
)

const testSecret = "server-test-secret"

var testDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

var seedSeq atomic.Uint64

func nextSeq() uint64 { return seedSeq.Add(1) }

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// newTestServer wires the full service graph over an in-memory store.
func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, st.AutoMigrate())
	exc := exceptions.New(st, nil)
	rec := recon.New(st, exc, nil)
	exe := executors.New(st, rec, nil)
	gate := approvals.New(st, nil)
	adm := admin.New(st, gate, exe, exc, nil)
	adm.RegisterExecutors()
	run := runs.New(st, engine.New(st, nil), exe, rec, exc, nil)
	srv := New(Config{JWTSecret: testSecret}, Services{
		Store:      st,
		Runs:       run,
		Admin:      adm,
		Recon:      rec,
		Exceptions: exc,
		Approvals:  gate,
	}, nil)
	return srv, st
}

func mintToken(t *testing.T, p scope.Principal) string {
	t.Helper()
	tok, err := scope.IssueToken(testSecret, p, time.Hour)
	require.NoError(t, err)
	return tok
}

// operatorToken is an unrestricted tenant-1 user.
func operatorToken(t *testing.T) string {
	return mintToken(t, scope.Principal{TenantID: 1, UserID: 42})
}

func doJSON(t *testing.T, srv *Server, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), "body: %s", w.Body.String())
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decodeBody(t, w, &body)
	return body.Error
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func itoa(v uint) string { return strconv.FormatUint(uint64(v), 10) }

func seedLine(t *testing.T, st *store.Store, amount, ref, desc string) *models.StatementLine {
	t.Helper()
	line := &models.StatementLine{
		TenantID:      1,
		LegalEntityID: 10,
		BankAccountID: 100,
		LineNo:        int(nextSeq()),
		TxnDate:       testDay,
		ReferenceNo:   ref,
		Description:   desc,
		Amount:        dec(amount),
		CurrencyCode:  "EUR",
		ReconStatus:   models.ReconStatusUnmatched,
	}
	require.NoError(t, st.InsertLine(line))
	return line
}

// seedQueueRule routes every open line into the exception queue.
func seedQueueRule(t *testing.T, st *store.Store) *models.ReconRule {
	t.Helper()
	r := &models.ReconRule{
		TenantID:      1,
		RuleCode:      fmt.Sprintf("R-%d", nextSeq()),
		RuleName:      "Queue everything",
		Status:        models.RuleStatusActive,
		Priority:      100,
		ScopeType:     models.ScopeGlobal,
		MatchType:     models.MatchPaymentByTextAndAmount,
		ActionType:    models.ActionQueueException,
		ActionPayload: models.RuleActionPayload{Reason: "manual review required"},
		StopOnMatch:   true,
		ApprovalState: models.ApprovalStateApproved,
		CreatedBy:     1,
	}
	require.NoError(t, st.InsertRule(r))
	return r
}

// seedBatch posts a one-line payment batch on bank account 100.
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

// seedRulePolicy puts rule creation behind a single-checker gate.
func seedRulePolicy(t *testing.T, st *store.Store, approverPermission string) *models.ApprovalPolicy {
	t.Helper()
	p := &models.ApprovalPolicy{
		TenantID:                   1,
		ModuleCode:                 models.ModuleBank,
		TargetType:                 models.TargetReconRule,
		ActionType:                 models.ActionCreate,
		Status:                     models.ApprovalPolicyActive,
		ScopeType:                  models.ScopeGlobal,
		RequiredApprovals:          1,
		MakerCheckerRequired:       true,
		ApproverPermissionCode:     approverPermission,
		AutoExecuteOnFinalApproval: true,
	}
	require.NoError(t, st.InsertPolicy(p))
	return p
}
