package runs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/scope"
	apperrors "bank-reconciliation-core/pkg/errors"
)

func TestPreviewReportsWithoutTouching(t *testing.T) {
	svc, st := newTestEnv(t)
	line := seedLine(t, st, "175", "PRB07-REF-001", "supplier payout")
	rule := seedRule(t, st, func(r *models.ReconRule) {
		r.Conditions = models.RuleConditions{ReferenceIncludesAny: []string{"PRB07-REF-001"}}
		r.ActionPayload = models.RuleActionPayload{Reason: "manual review required"}
	})

	res, err := svc.Preview(operator(), Filters{})
	require.NoError(t, err)
	require.False(t, res.Replay)

	run := res.Run
	assert.NotZero(t, run.ID)
	assert.Equal(t, models.RunModePreview, run.RunMode)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.ScannedCount)
	assert.Equal(t, 0, run.MatchedCount)
	assert.Equal(t, 1, run.ExceptionCount)
	assert.Equal(t, run.Summary(), run.Payload.Summary)
	require.NotNil(t, run.FinishedAt)

	require.Len(t, run.Payload.Rows, 1)
	row := run.Payload.Rows[0]
	assert.Equal(t, line.ID, row.StatementLineID)
	assert.Equal(t, models.OutcomeQueueException, row.OutcomeCode)
	assert.Equal(t, rule.RuleCode, row.RuleCode)
	assert.Nil(t, row.ExceptionID)

	// A preview only reports: no exception row, line untouched.
	assert.EqualValues(t, 0, countExceptions(t, st))
	reloaded, err := st.LineByID(1, line.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconStatusUnmatched, reloaded.ReconStatus)
}

func TestApplyQueuesExceptionAndReplays(t *testing.T) {
	svc, st := newTestEnv(t)
	line := seedLine(t, st, "175", "PRB07-REF-001", "supplier payout")
	seedRule(t, st, func(r *models.ReconRule) {
		r.Conditions = models.RuleConditions{ReferenceIncludesAny: []string{"PRB07-REF-001"}}
		r.ActionPayload = models.RuleActionPayload{Reason: "manual review required"}
	})

	res, err := svc.Apply(operator(), Filters{RunRequestID: "PRB07_APPLY_1"})
	require.NoError(t, err)
	require.False(t, res.Replay)

	run := res.Run
	assert.Equal(t, models.RunModeApply, run.RunMode)
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.ScannedCount)
	assert.Equal(t, 1, run.ExceptionCount)
	assert.Equal(t, 0, run.ErrorCount)

	require.Len(t, run.Payload.Rows, 1)
	row := run.Payload.Rows[0]
	assert.Equal(t, models.OutcomeQueueException, row.OutcomeCode)
	require.NotNil(t, row.ExceptionID)

	exc, err := st.ExceptionByID(1, *row.ExceptionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExceptionOpen, exc.Status)
	assert.Equal(t, models.ReasonRuleQueueException, exc.ReasonCode)
	assert.Equal(t, "manual review required", exc.Message)
	assert.Equal(t, line.ID, exc.StatementLineID)

	reloaded, err := st.LineByID(1, line.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconStatusUnmatched, reloaded.ReconStatus)

	// The same request id replays the stored run verbatim.
	replay, err := svc.Apply(operator(), Filters{RunRequestID: "PRB07_APPLY_1"})
	require.NoError(t, err)
	assert.True(t, replay.Replay)
	assert.Equal(t, run.ID, replay.Run.ID)
	assert.Equal(t, models.RunStatusPartial, replay.Run.Status)
	assert.EqualValues(t, 1, countExceptions(t, st))

	got, err := svc.Get(1, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RunRequestID)
	assert.Equal(t, "PRB07_APPLY_1", *got.RunRequestID)

	listed, err := svc.List(1, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, run.ID, listed[0].ID)
}

func TestApplyAutoMatchesPostedBatch(t *testing.T) {
	svc, st := newTestEnv(t)
	line := seedLine(t, st, "-150", "TRX-889", "ACME PAYROLL MARCH")
	batch := seedBatch(t, st, "PB-2025-001", "TRX-889", "150")
	seedRule(t, st, func(r *models.ReconRule) {
		r.MatchType = models.MatchPaymentByBankReference
		r.ActionType = models.ActionAutoMatchPaymentBatch
	})

	res, err := svc.Apply(operator(), Filters{RunRequestID: "APPLY-MATCH-1"})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.ScannedCount)
	assert.Equal(t, 1, run.MatchedCount)
	assert.Equal(t, 1, run.ReconciledCount)
	assert.Equal(t, 0, run.ExceptionCount)

	require.Len(t, run.Payload.Rows, 1)
	row := run.Payload.Rows[0]
	assert.Equal(t, models.OutcomeAutoMatched, row.OutcomeCode)
	require.NotNil(t, row.MatchID)

	match, err := st.MatchByID(1, *row.MatchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchedEntityPaymentBatch, match.MatchedEntityType)
	assert.Equal(t, batch.ID, match.MatchedEntityID)
	assert.Equal(t, models.MatchTypeAutoRule, match.MatchType)
	assert.True(t, match.MatchedAmount.Equal(dec("150")), "got %s", match.MatchedAmount)

	reloaded, err := st.LineByID(1, line.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconStatusMatched, reloaded.ReconStatus)
	assert.Equal(t, models.MethodRuleAutoMatch, reloaded.ReconciliationMethod)
}

func TestApplyAutoPostsTemplateJournal(t *testing.T) {
	svc, st := newTestEnv(t)
	seedLedger(t, st)
	line := seedLine(t, st, "200", "", "BANK INTEREST Q1")
	tpl := seedTemplate(t, st)
	seedRule(t, st, func(r *models.ReconRule) {
		r.ActionType = models.ActionAutoPostTemplate
		r.Conditions = models.RuleConditions{TextIncludesAny: []string{"INTEREST"}}
		r.ActionPayload = models.RuleActionPayload{PostingTemplateID: &tpl.ID}
	})

	res, err := svc.Apply(operator(), Filters{})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.MatchedCount)
	assert.Equal(t, 1, run.ReconciledCount)

	require.Len(t, run.Payload.Rows, 1)
	row := run.Payload.Rows[0]
	assert.Equal(t, models.OutcomeAutoPosted, row.OutcomeCode)
	assert.Equal(t, fmt.Sprintf("BAP-%d", line.ID), row.JournalNo)
	require.NotNil(t, row.MatchID)

	reloaded, err := st.LineByID(1, line.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconStatusMatched, reloaded.ReconStatus)
}

func TestApplyProcessesPaymentReturn(t *testing.T) {
	svc, st := newTestEnv(t)
	line := seedLine(t, st, "150", "TRX-889", "RETURNED PAYMENT ACME")
	batch := seedBatch(t, st, "PB-2025-005", "TRX-889", "150")
	seedRule(t, st, func(r *models.ReconRule) {
		r.ActionType = models.ActionProcessPaymentReturn
		r.ActionPayload = models.RuleActionPayload{Reason: "account closed"}
	})

	res, err := svc.Apply(operator(), Filters{})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.ReconciledCount)

	require.Len(t, run.Payload.Rows, 1)
	row := run.Payload.Rows[0]
	assert.Equal(t, models.OutcomeReturnProcessed, row.OutcomeCode)
	require.NotNil(t, row.MatchID)

	pl, err := st.PaymentLineByID(1, batch.Lines[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusReturned, pl.ReturnStatus)
	require.NotNil(t, pl.ReturnedAmount)
	assert.True(t, pl.ReturnedAmount.Equal(dec("150")), "got %s", pl.ReturnedAmount)

	ev, err := st.ReturnEventByRequestID(1, 10, fmt.Sprintf("B08B-STMTRET:%d:%d", line.ID, pl.ID))
	require.NoError(t, err)
	assert.Equal(t, models.ReturnEventReturned, ev.EventType)
	assert.Equal(t, "account closed", ev.Reason)

	reloaded, err := st.LineByID(1, line.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconStatusMatched, reloaded.ReconStatus)
}

func TestApplyReconcilesDifference(t *testing.T) {
	svc, st := newTestEnv(t)
	seedLedger(t, st)
	line := seedLine(t, st, "-95", "TRX-889", "ACME SETTLEMENT")
	seedBatch(t, st, "PB-2025-006", "TRX-889", "100")
	profile := seedFXProfile(t, st)
	seedRule(t, st, func(r *models.ReconRule) {
		r.ActionType = models.ActionAutoMatchPaymentLineDiff
		r.ActionPayload = models.RuleActionPayload{DifferenceProfileID: &profile.ID}
	})

	res, err := svc.Apply(operator(), Filters{})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.ReconciledCount)

	require.Len(t, run.Payload.Rows, 1)
	row := run.Payload.Rows[0]
	assert.Equal(t, models.OutcomeDifferenceReconcile, row.OutcomeCode)
	assert.Equal(t, fmt.Sprintf("BDIFF-%d", line.ID), row.JournalNo)
	require.NotNil(t, row.MatchID)

	reloaded, err := st.LineByID(1, line.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconStatusMatched, reloaded.ReconStatus)
	require.NotNil(t, reloaded.DifferenceAmount)
	assert.True(t, reloaded.DifferenceAmount.Equal(dec("5")), "got %s", reloaded.DifferenceAmount)
}

func TestApplyExecutorFailureQueuesException(t *testing.T) {
	svc, st := newTestEnv(t)
	line := seedLine(t, st, "200", "", "BANK INTEREST Q1")
	seedRule(t, st, func(r *models.ReconRule) {
		r.ActionType = models.ActionAutoPostTemplate
		r.Conditions = models.RuleConditions{TextIncludesAny: []string{"INTEREST"}}
		r.ActionPayload = models.RuleActionPayload{PostingTemplateID: uintPtr(9999)}
	})

	res, err := svc.Apply(operator(), Filters{})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.MatchedCount)
	assert.Equal(t, 0, run.ReconciledCount)
	assert.Equal(t, 1, run.ExceptionCount)
	assert.Equal(t, 1, run.ErrorCount)

	require.Len(t, run.Payload.Rows, 1)
	row := run.Payload.Rows[0]
	assert.Equal(t, models.OutcomeApplyError, row.OutcomeCode)
	assert.NotEmpty(t, row.Error)
	require.NotNil(t, row.ExceptionID)

	exc, err := st.ExceptionByID(1, *row.ExceptionID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonApplyError, exc.ReasonCode)
	assert.Equal(t, models.SeverityHigh, exc.Severity)
	assert.Equal(t, line.ID, exc.StatementLineID)
}

func TestApplySuggestOnlyStaysPartial(t *testing.T) {
	svc, st := newTestEnv(t)
	line := seedLine(t, st, "-150", "TRX-889", "ACME PAYROLL MARCH")
	seedBatch(t, st, "PB-2025-002", "TRX-889", "150")
	seedRule(t, st, func(r *models.ReconRule) {
		r.ActionType = models.ActionSuggestOnly
	})

	res, err := svc.Apply(operator(), Filters{})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 0, run.MatchedCount)
	assert.Equal(t, 0, run.ReconciledCount)
	assert.Equal(t, 0, run.ExceptionCount)

	require.Len(t, run.Payload.Rows, 1)
	row := run.Payload.Rows[0]
	assert.Equal(t, models.OutcomeSuggestOnly, row.OutcomeCode)
	assert.NotEmpty(t, row.Candidates)

	// Suggestions change nothing.
	assert.EqualValues(t, 0, countExceptions(t, st))
	reloaded, err := st.LineByID(1, line.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconStatusUnmatched, reloaded.ReconStatus)
}

func TestApplyAmbiguousTargetQueuesException(t *testing.T) {
	svc, st := newTestEnv(t)
	seedLine(t, st, "-150", "TRX-889", "ACME PAYROLL MARCH")
	seedBatch(t, st, "PB-2025-003", "TRX-889", "150")
	seedBatch(t, st, "PB-2025-004", "TRX-889", "150")
	seedRule(t, st, func(r *models.ReconRule) {
		r.MatchType = models.MatchPaymentByBankReference
		r.ActionType = models.ActionAutoMatchPaymentBatch
	})

	res, err := svc.Apply(operator(), Filters{})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 0, run.MatchedCount)
	assert.Equal(t, 1, run.ExceptionCount)

	require.Len(t, run.Payload.Rows, 1)
	row := run.Payload.Rows[0]
	assert.Equal(t, models.OutcomeAmbiguousTarget, row.OutcomeCode)
	assert.Len(t, row.Candidates, 2)
	require.NotNil(t, row.ExceptionID)

	exc, err := st.ExceptionByID(1, *row.ExceptionID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonAmbiguousTarget, exc.ReasonCode)
	assert.NotEmpty(t, exc.SuggestedPayload["candidates"])
}

func TestApplyWalksLinesInDateOrder(t *testing.T) {
	svc, st := newTestEnv(t)
	later := seedLineOn(t, st, testDay.AddDate(0, 0, 2), "40", "", "second")
	earlier := seedLineOn(t, st, testDay, "60", "", "first")

	res, err := svc.Apply(operator(), Filters{})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 2, run.ScannedCount)
	assert.Equal(t, 2, run.ExceptionCount)

	require.Len(t, run.Payload.Rows, 2)
	assert.Equal(t, earlier.ID, run.Payload.Rows[0].StatementLineID)
	assert.Equal(t, later.ID, run.Payload.Rows[1].StatementLineID)
	assert.Equal(t, models.OutcomeNoRuleMatch, run.Payload.Rows[0].OutcomeCode)

	require.NotNil(t, run.Payload.Rows[0].ExceptionID)
	exc, err := st.ExceptionByID(1, *run.Payload.Rows[0].ExceptionID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonNoRuleMatch, exc.ReasonCode)
	assert.Equal(t, models.SeverityLow, exc.Severity)
}

func TestApplySkipsSettledRemainder(t *testing.T) {
	svc, st := newTestEnv(t)
	line := seedLine(t, st, "100", "", "already covered")
	require.NoError(t, st.DB().Create(&models.ReconMatch{
		TenantID:          1,
		LegalEntityID:     10,
		StatementLineID:   line.ID,
		MatchType:         models.MatchTypeManual,
		MatchedEntityType: models.MatchedEntityJournal,
		MatchedEntityID:   77,
		MatchedAmount:     dec("100"),
		Status:            models.MatchStatusActive,
		CreatedBy:         1,
	}).Error)

	res, err := svc.Apply(operator(), Filters{})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.SkippedCount)
	assert.Equal(t, 0, run.ExceptionCount)
	require.Len(t, run.Payload.Rows, 1)
	assert.Equal(t, models.OutcomeSkipped, run.Payload.Rows[0].OutcomeCode)
}

func TestPreviewDateWindow(t *testing.T) {
	svc, st := newTestEnv(t)
	inside := seedLineOn(t, st, testDay, "60", "", "inside window")
	seedLineOn(t, st, testDay.AddDate(0, 0, 9), "40", "", "outside window")

	from := testDay.AddDate(0, 0, -1)
	to := testDay.AddDate(0, 0, 1)
	res, err := svc.Preview(operator(), Filters{DateFrom: &from, DateTo: &to})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Run.ScannedCount)
	require.Len(t, res.Run.Payload.Rows, 1)
	assert.Equal(t, inside.ID, res.Run.Payload.Rows[0].StatementLineID)
}

func TestPreviewIgnoresRunRequestID(t *testing.T) {
	svc, st := newTestEnv(t)
	seedLine(t, st, "60", "", "one line")

	prev, err := svc.Preview(operator(), Filters{RunRequestID: "SHARED-KEY"})
	require.NoError(t, err)
	assert.Nil(t, prev.Run.RunRequestID)

	// The key is still free for the first real apply.
	applied, err := svc.Apply(operator(), Filters{RunRequestID: "SHARED-KEY"})
	require.NoError(t, err)
	assert.False(t, applied.Replay)
	assert.NotEqual(t, prev.Run.ID, applied.Run.ID)
}

func TestPreviewCapsPayloadRows(t *testing.T) {
	svc, st := newTestEnv(t)
	for i := 0; i < models.MaxRunOutcomeRows+1; i++ {
		seedLineOn(t, st, testDay, "10", "", "bulk line")
	}

	res, err := svc.Preview(operator(), Filters{Limit: maxLineLimit})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.MaxRunOutcomeRows+1, run.ScannedCount)
	assert.Equal(t, models.MaxRunOutcomeRows+1, run.ExceptionCount)
	assert.Len(t, run.Payload.Rows, models.MaxRunOutcomeRows)
	assert.True(t, run.Payload.Capped)
}

func TestRunScopeGuard(t *testing.T) {
	svc, st := newTestEnv(t)
	seedLedger(t, st)
	seedLine(t, st, "60", "", "entity ten line")

	t.Run("entity outside principal scope", func(t *testing.T) {
		restricted := &scope.Principal{TenantID: 1, UserID: 42, LegalEntityIDs: []uint{20}}
		_, err := svc.Preview(restricted, Filters{LegalEntityID: uintPtr(10)})
		assertErrCode(t, err, apperrors.CodeScopeDenied)
	})

	t.Run("bank account outside legal entity", func(t *testing.T) {
		_, err := svc.Preview(operator(), Filters{LegalEntityID: uintPtr(20), BankAccountID: uintPtr(100)})
		assertErrCode(t, err, apperrors.CodeScopeMismatch)
	})

	t.Run("unknown bank account", func(t *testing.T) {
		_, err := svc.Preview(operator(), Filters{BankAccountID: uintPtr(9999)})
		assertErrCode(t, err, apperrors.CodeEntityMissing)
	})

	t.Run("limit out of range", func(t *testing.T) {
		_, err := svc.Preview(operator(), Filters{Limit: maxLineLimit + 1})
		assertErrCode(t, err, apperrors.CodeOutOfRange)
	})

	t.Run("restricted principal sees only own entities", func(t *testing.T) {
		restricted := &scope.Principal{TenantID: 1, UserID: 42, LegalEntityIDs: []uint{20}}
		res, err := svc.Preview(restricted, Filters{})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Run.ScannedCount)
	})
}

func TestGetUnknownRun(t *testing.T) {
	svc, _ := newTestEnv(t)
	_, err := svc.Get(1, 404)
	assertErrCode(t, err, apperrors.CodeEntityMissing)
}
