package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-core/internal/executors"
	"bank-reconciliation-core/internal/models"
	apperrors "bank-reconciliation-core/pkg/errors"
)

func TestManualReturnInlineWhenUngated(t *testing.T) {
	e := newTestEnv(t)
	_, pl := seedBatchWithLine(t, e.store, "100")

	in := executors.ManualReturnInput{
		PaymentLineID: pl.ID,
		EventType:     models.ReturnEventReturned,
		Amount:        dec("100"),
		RequestID:     "RET-1",
		Reason:        "account closed",
		ActorID:       1,
	}
	res, err := e.admin.CreateManualReturn(1, in)
	require.NoError(t, err)
	assert.False(t, res.ApprovalRequired)
	require.NotNil(t, res.Event)
	assert.Equal(t, models.ReturnStatusReturned, res.PaymentLine.ReturnStatus)

	again, err := e.admin.CreateManualReturn(1, in)
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	require.NotNil(t, again.Event)
	assert.Equal(t, res.Event.ID, again.Event.ID)
}

func TestManualReturnRequiresRequestID(t *testing.T) {
	e := newTestEnv(t)
	_, pl := seedBatchWithLine(t, e.store, "100")

	_, err := e.admin.CreateManualReturn(1, executors.ManualReturnInput{
		PaymentLineID: pl.ID,
		EventType:     models.ReturnEventRejected,
		ActorID:       1,
	})
	assertErrCode(t, err, apperrors.CodeMissingPayload)
}

func TestManualReturnGatedLifecycle(t *testing.T) {
	e := newTestEnv(t)
	seedPolicy(t, e.store, models.TargetManualReturn, models.ActionCreate, policyOpts{autoExec: true})
	_, pl := seedBatchWithLine(t, e.store, "100")

	in := executors.ManualReturnInput{
		PaymentLineID: pl.ID,
		EventType:     models.ReturnEventReturned,
		Amount:        dec("100"),
		RequestID:     "RET-GATED-1",
		Reason:        "beneficiary unknown",
		ActorID:       1,
	}
	res, err := e.admin.CreateManualReturn(1, in)
	require.NoError(t, err)
	require.True(t, res.ApprovalRequired)
	require.NotNil(t, res.Request)
	assert.Nil(t, res.Event)

	untouched, err := e.store.PaymentLineByID(1, pl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusNone, untouched.ReturnStatus)

	req := decide(t, e, res.Request.ID, 2, models.VerdictApprove)
	assert.Equal(t, models.ApprovalExecuted, req.RequestStatus)
	require.NotNil(t, req.ExecutionResult)
	assert.Contains(t, req.ExecutionResult, "eventId")

	returned, err := e.store.PaymentLineByID(1, pl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusReturned, returned.ReturnStatus)
	assert.True(t, returned.ReturnedAmount.Equal(dec("100")))

	replay, err := e.admin.CreateManualReturn(1, in)
	require.NoError(t, err)
	assert.True(t, replay.Idempotent)
	require.NotNil(t, replay.Event)
	assert.Equal(t, in.RequestID, replay.Event.RequestID)
}

func TestSubmitExportLifecycle(t *testing.T) {
	e := newTestEnv(t)
	b, pl := seedBatchWithLine(t, e.store, "250")

	res, err := e.admin.SubmitExport(1, b.ID, 5)
	require.NoError(t, err)
	assert.False(t, res.ApprovalRequired)
	assert.Equal(t, models.ExportSubmitted, res.Batch.ExportStatus)
	require.NotNil(t, res.Batch.ExportedAt)
	require.NotNil(t, res.Batch.ExportedBy)
	assert.Equal(t, uint(5), *res.Batch.ExportedBy)

	line, err := e.store.PaymentLineByID(1, pl.ID)
	require.NoError(t, err)
	require.NotNil(t, line.ExportedAmount)
	assert.True(t, line.ExportedAmount.Equal(dec("250")))

	var audits []models.PaymentBatchAudit
	require.NoError(t, e.store.DB().
		Where("payment_batch_id = ? AND action = ?", b.ID, models.BatchAuditSubmitExport).
		Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, string(models.ExportNotSubmitted), audits[0].FromStatus)
	assert.Equal(t, string(models.ExportSubmitted), audits[0].ToStatus)

	again, err := e.admin.SubmitExport(1, b.ID, 5)
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
}

func TestSubmitExportRequiresPostedBatch(t *testing.T) {
	e := newTestEnv(t)
	b, _ := seedBatchWithLine(t, e.store, "250")
	b.Status = models.PaymentBatchDraft
	require.NoError(t, e.store.SaveBatch(b))

	_, err := e.admin.SubmitExport(1, b.ID, 1)
	assertErrCode(t, err, apperrors.CodeInvalidInput)
}

func TestSubmitExportGated(t *testing.T) {
	e := newTestEnv(t)
	seedPolicy(t, e.store, models.TargetPaymentBatch, models.ActionSubmitExport, policyOpts{autoExec: true})
	b, _ := seedBatchWithLine(t, e.store, "800")

	res, err := e.admin.SubmitExport(1, b.ID, 1)
	require.NoError(t, err)
	require.True(t, res.ApprovalRequired)
	require.NotNil(t, res.Request)
	assert.Equal(t, models.ExportNotSubmitted, res.Batch.ExportStatus)

	req := decide(t, e, res.Request.ID, 2, models.VerdictApprove)
	assert.Equal(t, models.ApprovalExecuted, req.RequestStatus)

	batch, err := e.store.PaymentBatchByID(1, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportSubmitted, batch.ExportStatus)

	replay, err := e.admin.SubmitExport(1, b.ID, 1)
	require.NoError(t, err)
	assert.True(t, replay.Idempotent)
	assert.False(t, replay.ApprovalRequired)
}
