package admin

import (
	"fmt"
	"time"

	"bank-reconciliation-core/internal/executors"
	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// ManualReturnResult is the outcome of a manual return request. Event is
// nil while the return waits for approval.
type ManualReturnResult struct {
	Event       *models.PaymentReturnEvent `json:"event,omitempty"`
	PaymentLine *models.PaymentLine        `json:"row,omitempty"`
	Gate
}

// CreateManualReturn records an operator-reported return or rejection
// against a payment line, routing it through the approval gate first.
// The caller's event request id keys idempotency end to end: a replay
// after approval returns the stored event.
func (s *Service) CreateManualReturn(tenantID uint, in executors.ManualReturnInput) (*ManualReturnResult, error) {
	if in.RequestID == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "eventRequestId", in.RequestID)
	}
	pl, err := s.store.PaymentLineByID(tenantID, in.PaymentLineID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("payment line", in.PaymentLineID)
		}
		return nil, apperrors.StorageError("loading payment line", err)
	}
	batch, err := s.store.PaymentBatchByID(tenantID, pl.PaymentBatchID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("payment batch", pl.PaymentBatchID)
		}
		return nil, apperrors.StorageError("loading payment batch", err)
	}
	if batch.Status != models.PaymentBatchPosted {
		return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"payment batch %d is %s, returns apply to POSTED batches only", batch.ID, batch.Status)
	}

	gate, err := s.gateChange(tenantID, gatedChange{
		target:        models.TargetManualReturn,
		action:        models.ActionCreate,
		targetID:      pl.ID,
		requestKey:    "MANUAL_RETURN:CREATE:" + in.RequestID,
		legalEntityID: &batch.LegalEntityID,
		bankAccountID: &batch.BankAccountID,
		amount:        in.Amount,
		currency:      pl.CurrencyCode,
		payload: models.ApprovalPayload{
			"paymentLineId":  pl.ID,
			"eventType":      string(in.EventType),
			"amount":         in.Amount.String(),
			"eventRequestId": in.RequestID,
			"bankReference":  in.BankReference,
			"reason":         in.Reason,
		},
		snapshot: models.ApprovalPayload{
			"paymentLineId":  pl.ID,
			"paymentBatchId": batch.ID,
			"returnStatus":   pl.ReturnStatus,
			"returnedAmount": pl.ReturnedAmount.String(),
		},
		actorID: in.ActorID,
	})
	if err != nil {
		return nil, err
	}
	if gate.ApprovalRequired {
		out := &ManualReturnResult{PaymentLine: pl, Gate: gate}
		if gate.Request != nil && gate.Request.RequestStatus != models.ApprovalPending {
			// Replay of an already-executed request: hand back the
			// stored event alongside the request.
			ev, err := s.store.ReturnEventByRequestID(tenantID, batch.LegalEntityID, in.RequestID)
			if err == nil {
				out.Event = ev
			} else if !store.IsNotFound(err) {
				return nil, apperrors.StorageError("loading return event", err)
			}
		}
		s.log.WithFields(logger.Fields{
			"tenant_id":       tenantID,
			"payment_line_id": pl.ID,
			"request_id":      in.RequestID,
			"idempotent":      gate.Idempotent,
		}).Info("Manual return staged for approval")
		return out, nil
	}

	res, err := s.executors.ApplyManualReturn(tenantID, in)
	if err != nil {
		return nil, err
	}
	return &ManualReturnResult{
		Event:       res.Event,
		PaymentLine: res.PaymentLine,
		Gate:        Gate{Idempotent: res.Idempotent},
	}, nil
}

// executeManualReturn replays an approved manual return from its request
// payload.
func (s *Service) executeManualReturn(tenantID uint, req *models.ApprovalRequest) (models.ApprovalPayload, error) {
	amount, err := payloadDecimal(req.ActionPayload, "amount")
	if err != nil {
		return nil, err
	}
	res, err := s.executors.ApplyManualReturn(tenantID, executors.ManualReturnInput{
		PaymentLineID: payloadUint(req.ActionPayload, "paymentLineId"),
		EventType:     models.ReturnEventType(payloadString(req.ActionPayload, "eventType")),
		Amount:        amount,
		RequestID:     payloadString(req.ActionPayload, "eventRequestId"),
		BankReference: payloadString(req.ActionPayload, "bankReference"),
		Reason:        payloadString(req.ActionPayload, "reason"),
		ActorID:       req.RequestedByUserID,
	})
	if err != nil {
		return nil, err
	}
	return models.ApprovalPayload{
		"eventId":       res.Event.ID,
		"paymentLineId": res.PaymentLine.ID,
		"returnStatus":  res.PaymentLine.ReturnStatus,
		"idempotent":    res.Idempotent,
	}, nil
}

// ExportResult is the batch row plus the gate outcome of an export
// submission.
type ExportResult struct {
	Batch *models.PaymentBatch `json:"row"`
	Gate
}

// SubmitExport hands a POSTED batch to the bank: export status flips to
// SUBMITTED, lines without an exported amount inherit their instructed
// amount, and the transition lands in the batch audit trail. Submitting
// an already-submitted batch is a no-op reported as idempotent.
func (s *Service) SubmitExport(tenantID, batchID, actorID uint) (*ExportResult, error) {
	batch, err := s.store.PaymentBatchByID(tenantID, batchID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("payment batch", batchID)
		}
		return nil, apperrors.StorageError("loading payment batch", err)
	}
	if batch.ExportStatus == models.ExportSubmitted {
		return &ExportResult{Batch: batch, Gate: Gate{Idempotent: true}}, nil
	}
	if batch.Status != models.PaymentBatchPosted {
		return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"payment batch %d is %s, only POSTED batches can be submitted for export", batch.ID, batch.Status)
	}

	gate, err := s.gateChange(tenantID, gatedChange{
		target:        models.TargetPaymentBatch,
		action:        models.ActionSubmitExport,
		targetID:      batch.ID,
		requestKey:    fmt.Sprintf("PAYMENT_BATCH:SUBMIT_EXPORT:%d", batch.ID),
		legalEntityID: &batch.LegalEntityID,
		bankAccountID: &batch.BankAccountID,
		amount:        batch.TotalAmount,
		currency:      batch.CurrencyCode,
		payload:       models.ApprovalPayload{"paymentBatchId": batch.ID},
		snapshot: models.ApprovalPayload{
			"batchNo":      batch.BatchNo,
			"status":       batch.Status,
			"exportStatus": batch.ExportStatus,
			"totalAmount":  batch.TotalAmount.String(),
		},
		actorID: actorID,
	})
	if err != nil {
		return nil, err
	}
	if gate.ApprovalRequired {
		s.log.WithFields(logger.Fields{
			"tenant_id":  tenantID,
			"batch_id":   batch.ID,
			"batch_no":   batch.BatchNo,
			"idempotent": gate.Idempotent,
		}).Info("Export submission staged for approval")
		return &ExportResult{Batch: batch, Gate: gate}, nil
	}

	applied, err := s.applyExport(tenantID, batchID, actorID)
	if err != nil {
		return nil, err
	}
	return &ExportResult{Batch: applied, Gate: gate}, nil
}

// applyExport performs the actual export transition under a row lock. A
// batch found already SUBMITTED is left untouched.
func (s *Service) applyExport(tenantID, batchID, actorID uint) (*models.PaymentBatch, error) {
	var batch *models.PaymentBatch
	err := s.store.Transaction(func(tx *store.Store) error {
		var err error
		batch, err = tx.PaymentBatchForUpdate(tenantID, batchID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("payment batch", batchID)
			}
			return apperrors.StorageError("locking payment batch", err)
		}
		if batch.ExportStatus == models.ExportSubmitted {
			return nil
		}
		if batch.Status != models.PaymentBatchPosted {
			return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
				"payment batch %d is %s, only POSTED batches can be submitted for export", batch.ID, batch.Status)
		}
		now := time.Now()
		batch.ExportStatus = models.ExportSubmitted
		batch.ExportedAt = &now
		batch.ExportedBy = &actorID
		if err := tx.SaveBatch(batch); err != nil {
			return apperrors.StorageError("saving payment batch", err)
		}
		lines, err := tx.PaymentLinesForBatch(tenantID, batch.ID)
		if err != nil {
			return apperrors.StorageError("listing payment lines", err)
		}
		for i := range lines {
			if lines[i].ExportedAmount != nil {
				continue
			}
			amt := lines[i].Amount
			lines[i].ExportedAmount = &amt
			if err := tx.SavePaymentLine(&lines[i]); err != nil {
				return apperrors.StorageError("stamping exported amount", err)
			}
		}
		audit := &models.PaymentBatchAudit{
			TenantID:       tenantID,
			PaymentBatchID: batch.ID,
			Action:         models.BatchAuditSubmitExport,
			FromStatus:     string(models.ExportNotSubmitted),
			ToStatus:       string(models.ExportSubmitted),
			Note:           fmt.Sprintf("batch %s submitted for export", batch.BatchNo),
			ActorID:        actorID,
		}
		if err := tx.InsertBatchAudit(audit); err != nil {
			return apperrors.StorageError("writing batch audit", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logger.Fields{
		"tenant_id": tenantID,
		"batch_id":  batch.ID,
		"batch_no":  batch.BatchNo,
	}).Info("Payment batch submitted for export")
	return batch, nil
}

// executeExport replays an approved export submission.
func (s *Service) executeExport(tenantID uint, req *models.ApprovalRequest) (models.ApprovalPayload, error) {
	batch, err := s.applyExport(tenantID, req.TargetID, req.RequestedByUserID)
	if err != nil {
		return nil, err
	}
	return models.ApprovalPayload{
		"paymentBatchId": batch.ID,
		"exportStatus":   batch.ExportStatus,
	}, nil
}
