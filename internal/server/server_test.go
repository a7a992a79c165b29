package server

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/scope"
)

// gateBody is the decoded governed-write envelope.
type gateBody struct {
	TenantID         uint                    `json:"tenantId"`
	ApprovalRequired bool                    `json:"approval_required"`
	Request          *models.ApprovalRequest `json:"approval_request"`
	Idempotent       bool                    `json:"idempotent"`
}

type ruleBody struct {
	gateBody
	Row models.ReconRule `json:"row"`
}

type runEnvelope struct {
	Run     models.AutoRun         `json:"run"`
	Summary models.RunSummary      `json:"summary"`
	Rows    []models.RunOutcomeRow `json:"rows"`
	Replay  *bool                  `json:"replay"`
}

func TestHealthzIsOpen(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/rules", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing bearer token", errorMessage(t, w))

	w = doJSON(t, srv, http.MethodGet, "/api/v1/rules", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid bearer token", errorMessage(t, w))

	other := mintToken(t, scope.Principal{TenantID: 2, UserID: 9})
	w = doJSON(t, srv, http.MethodGet, "/api/v1/rules", other, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRuleCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	tok := operatorToken(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/rules", tok, gin.H{
		"ruleCode":      "R-HTTP-1",
		"ruleName":      "Queue via HTTP",
		"matchType":     models.MatchPaymentByTextAndAmount,
		"actionType":    models.ActionQueueException,
		"actionPayload": gin.H{"reason": "check manually"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created ruleBody
	decodeBody(t, w, &created)
	assert.Equal(t, uint(1), created.TenantID)
	assert.False(t, created.ApprovalRequired)
	assert.Nil(t, created.Request)
	require.NotZero(t, created.Row.ID)
	assert.Equal(t, models.RuleStatusActive, created.Row.Status)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/rules", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		TenantID uint               `json:"tenantId"`
		Rows     []models.ReconRule `json:"rows"`
	}
	decodeBody(t, w, &listed)
	require.Len(t, listed.Rows, 1)
	assert.Equal(t, "R-HTTP-1", listed.Rows[0].RuleCode)

	rulePath := "/api/v1/rules/" + itoa(created.Row.ID)
	w = doJSON(t, srv, http.MethodPatch, rulePath, tok, gin.H{
		"ruleName": "Queue renamed",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated ruleBody
	decodeBody(t, w, &updated)
	assert.Equal(t, "Queue renamed", updated.Row.RuleName)
	assert.Equal(t, 2, updated.Row.VersionNo)

	w = doJSON(t, srv, http.MethodGet, rulePath, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got ruleBody
	decodeBody(t, w, &got)
	assert.Equal(t, "Queue renamed", got.Row.RuleName)
}

func TestRuleCreateMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/rules", operatorToken(t), gin.H{
		"ruleCode": "R-HTTP-2",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessage(t, w), "ruleName")
}

func TestRuleCreateGatedThenApproved(t *testing.T) {
	srv, st := newTestServer(t)
	seedRulePolicy(t, st, "recon.rule.approve")
	maker := operatorToken(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/rules", maker, gin.H{
		"ruleCode":   "R-GATED-1",
		"ruleName":   "Gated rule",
		"matchType":  models.MatchPaymentByTextAndAmount,
		"actionType": models.ActionQueueException,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var staged ruleBody
	decodeBody(t, w, &staged)
	assert.True(t, staged.ApprovalRequired)
	require.NotNil(t, staged.Request)
	assert.Equal(t, models.ApprovalPending, staged.Request.RequestStatus)
	assert.Equal(t, models.RuleStatusPaused, staged.Row.Status)
	assert.Equal(t, models.ApprovalStatePending, staged.Row.ApprovalState)

	reqPath := "/api/v1/approvals/" + itoa(staged.Request.ID)

	// The maker cannot clear their own request.
	w = doJSON(t, srv, http.MethodPost, reqPath+"/approve", maker, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Neither can a checker without the approver permission.
	wrong := mintToken(t, scope.Principal{TenantID: 1, UserID: 43})
	w = doJSON(t, srv, http.MethodPost, reqPath+"/approve", wrong, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	checker := mintToken(t, scope.Principal{
		TenantID:    1,
		UserID:      43,
		Permissions: []string{"recon.rule.approve"},
	})
	w = doJSON(t, srv, http.MethodPost, reqPath+"/approve", checker, gin.H{
		"decisionComment": "looks right",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var decided struct {
		Row models.ApprovalRequest `json:"row"`
	}
	decodeBody(t, w, &decided)
	assert.Equal(t, models.ApprovalExecuted, decided.Row.RequestStatus)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/rules/"+itoa(staged.Row.ID), maker, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var live ruleBody
	decodeBody(t, w, &live)
	assert.Equal(t, models.RuleStatusActive, live.Row.Status)
	assert.Equal(t, models.ApprovalStateApproved, live.Row.ApprovalState)

	w = doJSON(t, srv, http.MethodGet, reqPath, maker, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Row       models.ApprovalRequest    `json:"row"`
		Decisions []models.ApprovalDecision `json:"decisions"`
	}
	decodeBody(t, w, &detail)
	require.Len(t, detail.Decisions, 1)
	assert.Equal(t, "looks right", detail.Decisions[0].Comment)
}

func TestAutoPreviewApplyReplay(t *testing.T) {
	srv, st := newTestServer(t)
	seedQueueRule(t, st)
	seedLine(t, st, "-120.00", "TRX-1", "UNKNOWN WIRE")
	tok := operatorToken(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/auto/preview", tok, gin.H{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var preview runEnvelope
	decodeBody(t, w, &preview)
	assert.Equal(t, models.RunModePreview, preview.Run.RunMode)
	assert.Equal(t, 1, preview.Summary.ScannedCount)
	assert.Equal(t, 1, preview.Summary.ExceptionCount)
	require.Len(t, preview.Rows, 1)
	assert.Equal(t, models.OutcomeQueueException, preview.Rows[0].OutcomeCode)
	assert.Nil(t, preview.Replay)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/auto/apply", tok, gin.H{
		"runRequestId": "HTTP-APPLY-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var applied runEnvelope
	decodeBody(t, w, &applied)
	require.NotNil(t, applied.Replay)
	assert.False(t, *applied.Replay)
	assert.Equal(t, models.RunStatusPartial, applied.Run.Status)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/auto/apply", tok, gin.H{
		"runRequestId": "HTTP-APPLY-1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var replayed runEnvelope
	decodeBody(t, w, &replayed)
	require.NotNil(t, replayed.Replay)
	assert.True(t, *replayed.Replay)
	assert.Equal(t, applied.Run.ID, replayed.Run.ID)
	assert.Equal(t, applied.Summary, replayed.Summary)
}

func TestAutoApplyRejectsBadFilters(t *testing.T) {
	srv, _ := newTestServer(t)
	tok := operatorToken(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/auto/apply", tok, gin.H{"limit": 501})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessage(t, w), "limit")

	w = doJSON(t, srv, http.MethodPost, "/api/v1/auto/preview", tok, gin.H{"dateFrom": "03/10/2025"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessage(t, w), "dateFrom")
}

func TestRunGetAndList(t *testing.T) {
	srv, st := newTestServer(t)
	seedQueueRule(t, st)
	seedLine(t, st, "-50.00", "TRX-2", "SOMETHING")
	tok := operatorToken(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/auto/preview", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ran runEnvelope
	decodeBody(t, w, &ran)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/auto/runs/"+itoa(ran.Run.ID), tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got runEnvelope
	decodeBody(t, w, &got)
	assert.Equal(t, ran.Run.ID, got.Run.ID)
	assert.Equal(t, ran.Summary, got.Summary)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/auto/runs?limit=10", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Rows []models.AutoRun `json:"rows"`
	}
	decodeBody(t, w, &listed)
	require.Len(t, listed.Rows, 1)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/auto/runs/9999", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExceptionQueueFlow(t *testing.T) {
	srv, st := newTestServer(t)
	seedQueueRule(t, st)
	seedLine(t, st, "-75.00", "TRX-3", "REVIEW ME")
	tok := operatorToken(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/auto/apply", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/exceptions?status=OPEN", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page exceptionPage
	decodeBody(t, w, &page)
	require.Len(t, page.Rows, 1)
	assert.Empty(t, page.NextCursor)
	excID := page.Rows[0].ID

	w = doJSON(t, srv, http.MethodPost, "/api/v1/exceptions/"+itoa(excID)+"/assign", tok, gin.H{
		"assigneeId": 7,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var assigned struct {
		Row models.ReconException `json:"row"`
	}
	decodeBody(t, w, &assigned)
	assert.Equal(t, models.ExceptionAssigned, assigned.Row.Status)
	require.NotNil(t, assigned.Row.AssignedToUserID)
	assert.Equal(t, uint(7), *assigned.Row.AssignedToUserID)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/exceptions/"+itoa(excID)+"/resolve", tok, gin.H{
		"resolutionCode": "HANDLED_OUTSIDE",
		"note":           "booked by hand",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resolved struct {
		gateBody
		Row models.ReconException `json:"row"`
	}
	decodeBody(t, w, &resolved)
	assert.False(t, resolved.ApprovalRequired)
	assert.Equal(t, models.ExceptionResolved, resolved.Row.Status)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/exceptions/"+itoa(excID), tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Row    models.ReconException        `json:"row"`
		Events []models.ReconExceptionEvent `json:"events"`
	}
	decodeBody(t, w, &detail)
	assert.NotEmpty(t, detail.Events)
}

func TestExceptionListRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)
	tok := operatorToken(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/exceptions?cursor=%21%21", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessage(t, w), "cursor")

	w = doJSON(t, srv, http.MethodGet, "/api/v1/exceptions?status=WEIRD", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessage(t, w), "status")
}

func TestLineMatchAndUnmatch(t *testing.T) {
	srv, st := newTestServer(t)
	line := seedLine(t, st, "-150.00", "TRX-889", "PAYMENT BATCH")
	batch := seedBatch(t, st, "PB-2025-001", "TRX-889", "150.00")
	tok := operatorToken(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/lines/"+itoa(line.ID)+"/match", tok, gin.H{
		"targetType":    models.MatchedEntityPaymentBatch,
		"targetId":      batch.ID,
		"matchedAmount": "150.00",
		"notes":         "matched by operator",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var matched struct {
		Row   models.StatementLine `json:"row"`
		Match models.ReconMatch    `json:"match"`
	}
	decodeBody(t, w, &matched)
	assert.Equal(t, models.ReconStatusMatched, matched.Row.ReconStatus)
	require.NotZero(t, matched.Match.ID)
	assert.Equal(t, models.MatchTypeManual, matched.Match.MatchType)

	// Matching past the line amount answers 400.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/lines/"+itoa(line.ID)+"/match", tok, gin.H{
		"targetType":    models.MatchedEntityPaymentBatch,
		"targetId":      batch.ID,
		"matchedAmount": "10.00",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/lines/"+itoa(line.ID)+"/unmatch", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var unmatched struct {
		Row      models.StatementLine `json:"row"`
		Reversed []uint               `json:"reversedMatchIds"`
	}
	decodeBody(t, w, &unmatched)
	assert.Equal(t, models.ReconStatusUnmatched, unmatched.Row.ReconStatus)
	assert.Equal(t, []uint{matched.Match.ID}, unmatched.Reversed)
}

func TestLineIgnoreUnignore(t *testing.T) {
	srv, st := newTestServer(t)
	line := seedLine(t, st, "-5.00", "TRX-4", "ROUNDING NOISE")
	tok := operatorToken(t)
	path := "/api/v1/lines/" + itoa(line.ID)

	w := doJSON(t, srv, http.MethodPost, path+"/ignore", tok, gin.H{"reason": "noise"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ignored struct {
		Row models.StatementLine `json:"row"`
	}
	decodeBody(t, w, &ignored)
	assert.Equal(t, models.ReconStatusIgnored, ignored.Row.ReconStatus)

	w = doJSON(t, srv, http.MethodPost, path+"/unignore", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var restored struct {
		Row models.StatementLine `json:"row"`
	}
	decodeBody(t, w, &restored)
	assert.Equal(t, models.ReconStatusUnmatched, restored.Row.ReconStatus)
}

func TestScopeDenied(t *testing.T) {
	srv, st := newTestServer(t)
	line := seedLine(t, st, "-90.00", "TRX-5", "OUT OF SCOPE")
	restricted := mintToken(t, scope.Principal{TenantID: 1, UserID: 50, LegalEntityIDs: []uint{20}})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/lines/"+itoa(line.ID)+"/ignore", restricted, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/exceptions?legalEntityId=10", restricted, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Without an explicit filter the listing narrows to the allowed
	// entities instead of failing.
	w = doJSON(t, srv, http.MethodGet, "/api/v1/exceptions", restricted, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page exceptionPage
	decodeBody(t, w, &page)
	assert.Empty(t, page.Rows)
}

func TestManualReturnIdempotent(t *testing.T) {
	srv, st := newTestServer(t)
	batch := seedBatch(t, st, "PB-2025-009", "TRX-900", "150.00")
	tok := operatorToken(t)

	body := gin.H{
		"eventRequestId": "RET-HTTP-1",
		"paymentLineId":  batch.Lines[0].ID,
		"amount":         "150.00",
		"reason":         "account closed",
	}
	w := doJSON(t, srv, http.MethodPost, "/api/v1/payment-returns", tok, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first struct {
		gateBody
		Row   models.PaymentLine        `json:"row"`
		Event models.PaymentReturnEvent `json:"event"`
	}
	decodeBody(t, w, &first)
	assert.False(t, first.Idempotent)
	assert.Equal(t, models.ReturnStatusReturned, first.Row.ReturnStatus)
	require.NotZero(t, first.Event.ID)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/payment-returns", tok, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second struct {
		gateBody
		Event models.PaymentReturnEvent `json:"event"`
	}
	decodeBody(t, w, &second)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.Event.ID, second.Event.ID)
}

func TestManualReturnValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	tok := operatorToken(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/payment-returns", tok, gin.H{
		"eventRequestId": "RET-HTTP-2",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessage(t, w), "paymentLineId")

	w = doJSON(t, srv, http.MethodPost, "/api/v1/payment-returns", tok, gin.H{
		"eventRequestId": "RET-HTTP-3",
		"paymentLineId":  9999,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitExport(t *testing.T) {
	srv, st := newTestServer(t)
	batch := seedBatch(t, st, "PB-2025-010", "TRX-901", "500.00")
	tok := operatorToken(t)
	path := "/api/v1/payment-batches/" + itoa(batch.ID) + "/submit-export"

	w := doJSON(t, srv, http.MethodPost, path, tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var submitted struct {
		gateBody
		Row models.PaymentBatch `json:"row"`
	}
	decodeBody(t, w, &submitted)
	assert.False(t, submitted.Idempotent)
	assert.Equal(t, models.ExportSubmitted, submitted.Row.ExportStatus)

	w = doJSON(t, srv, http.MethodPost, path, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var again struct {
		gateBody
		Row models.PaymentBatch `json:"row"`
	}
	decodeBody(t, w, &again)
	assert.True(t, again.Idempotent)
}

func TestNotFoundAndBadIDs(t *testing.T) {
	srv, _ := newTestServer(t)
	tok := operatorToken(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/rules/9999", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/lines/9999/ignore", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/rules/abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
