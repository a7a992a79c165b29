package executors

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/recon"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// RuleReturnInput applies a bank return observed on a statement line to the
// payment line a PROCESS_PAYMENT_RETURN rule singled out.
type RuleReturnInput struct {
	LineID        uint
	PaymentLineID uint
	EventType     models.ReturnEventType
	Amount        decimal.Decimal
	RequestID     string
	Reason        string
	RuleID        *uint
	ActorID       uint
}

// ReturnResult reports what the return executor did.
type ReturnResult struct {
	Line        *models.StatementLine
	PaymentLine *models.PaymentLine
	Event       *models.PaymentReturnEvent
	Match       *models.ReconMatch
	Idempotent  bool
}

// ApplyRuleReturn records a PaymentReturnEvent for the statement line's
// return, applies its effects to the payment line and matches the line
// against the payment batch for the full statement amount. The event's
// request id makes replays idempotent.
func (s *Service) ApplyRuleReturn(tenantID uint, in RuleReturnInput) (*ReturnResult, error) {
	var out ReturnResult
	err := s.store.Transaction(func(tx *store.Store) error {
		line, err := tx.LineForUpdate(tenantID, in.LineID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("statement line", in.LineID)
			}
			return apperrors.StorageError("locking statement line", err)
		}

		pl, batch, err := s.lockPaymentLine(tx, tenantID, in.PaymentLineID)
		if err != nil {
			return err
		}
		if batch.LegalEntityID != line.LegalEntityID || batch.BankAccountID != line.BankAccountID {
			return apperrors.ValidationError(apperrors.CodeScopeMismatch, "paymentLineId", in.PaymentLineID)
		}
		if batch.CurrencyCode != line.CurrencyCode {
			return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
				"payment batch currency %s does not match line currency %s",
				batch.CurrencyCode, line.CurrencyCode)
		}

		ev := normalizeEvent(models.PaymentReturnEvent{
			TenantID:        tenantID,
			LegalEntityID:   batch.LegalEntityID,
			RequestID:       in.RequestID,
			PaymentBatchID:  batch.ID,
			PaymentLineID:   pl.ID,
			StatementLineID: &line.ID,
			EventType:       in.EventType,
			Amount:          in.Amount,
			BankReference:   line.ReferenceNo,
			Reason:          in.Reason,
			CreatedBy:       in.ActorID,
		})
		if ev.RequestID == "" {
			ev.RequestID = fmt.Sprintf("B08B-STMTRET:%d:%d", line.ID, pl.ID)
		}
		if ev.Amount.IsZero() && ev.EventType == models.ReturnEventReturned {
			ev.Amount = models.RoundMoney(line.AbsAmount())
		}

		applied, idempotent, err := s.applyEvent(tx, &ev, pl, batch, in.ActorID)
		if err != nil {
			return err
		}
		out.Event = applied
		out.PaymentLine = pl
		out.Idempotent = idempotent
		if idempotent {
			existing, err := tx.FindActiveMatchByTarget(tenantID, line.ID, models.MatchedEntityPaymentBatch, batch.ID)
			if err != nil {
				return apperrors.StorageError("looking up batch match", err)
			}
			out.Line = line
			out.Match = existing
			return nil
		}

		matchedLine, match, err := s.recon.MatchTx(tx, tenantID, line.ID, recon.MatchInput{
			TargetType: models.MatchedEntityPaymentBatch,
			TargetID:   batch.ID,
			Amount:     line.AbsAmount(),
			MatchType:  models.MatchTypeAutoRule,
			Method:     models.MethodRuleReturn,
			RuleID:     in.RuleID,
			Notes:      fmt.Sprintf("return of payment line %d", pl.ID),
			ActorID:    in.ActorID,
		})
		if err != nil {
			return err
		}
		out.Line = matchedLine
		out.Match = match
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		"tenant_id":       tenantID,
		"line_id":         out.Line.ID,
		"payment_line_id": out.PaymentLine.ID,
		"event_type":      out.Event.EventType,
		"request_id":      out.Event.RequestID,
		"idempotent":      out.Idempotent,
	}).Info("Payment return applied")
	return &out, nil
}

// ManualReturnInput records a return event reported outside any statement
// line, typically keyed in from a bank notice.
type ManualReturnInput struct {
	PaymentLineID uint
	EventType     models.ReturnEventType
	Amount        decimal.Decimal
	RequestID     string
	BankReference string
	Reason        string
	ActorID       uint
}

// ManualReturnResult reports what a manual return did.
type ManualReturnResult struct {
	Event       *models.PaymentReturnEvent
	PaymentLine *models.PaymentLine
	Idempotent  bool
}

// ApplyManualReturn applies an operator-reported return or rejection to a
// payment line. The caller must supply the event request id; repeating it
// returns the stored event with Idempotent=true and no further effects.
func (s *Service) ApplyManualReturn(tenantID uint, in ManualReturnInput) (*ManualReturnResult, error) {
	if in.RequestID == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "eventRequestId", in.RequestID)
	}
	var out ManualReturnResult
	err := s.store.Transaction(func(tx *store.Store) error {
		pl, batch, err := s.lockPaymentLine(tx, tenantID, in.PaymentLineID)
		if err != nil {
			return err
		}
		ev := normalizeEvent(models.PaymentReturnEvent{
			TenantID:       tenantID,
			LegalEntityID:  batch.LegalEntityID,
			RequestID:      in.RequestID,
			PaymentBatchID: batch.ID,
			PaymentLineID:  pl.ID,
			EventType:      in.EventType,
			Amount:         in.Amount,
			BankReference:  in.BankReference,
			Reason:         in.Reason,
			CreatedBy:      in.ActorID,
		})
		applied, idempotent, err := s.applyEvent(tx, &ev, pl, batch, in.ActorID)
		if err != nil {
			return err
		}
		out.Event = applied
		out.PaymentLine = pl
		out.Idempotent = idempotent
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		"tenant_id":       tenantID,
		"payment_line_id": out.PaymentLine.ID,
		"event_type":      out.Event.EventType,
		"request_id":      out.Event.RequestID,
		"idempotent":      out.Idempotent,
	}).Info("Manual payment return applied")
	return &out, nil
}

// lockPaymentLine locks a payment line and loads its batch, requiring the
// batch to be POSTED. Returns are only meaningful against money that left.
func (s *Service) lockPaymentLine(tx *store.Store, tenantID, paymentLineID uint) (*models.PaymentLine, *models.PaymentBatch, error) {
	pl, err := tx.PaymentLineForUpdate(tenantID, paymentLineID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil, apperrors.NotFoundError("payment line", paymentLineID)
		}
		return nil, nil, apperrors.StorageError("locking payment line", err)
	}
	batch, err := tx.PaymentBatchByID(tenantID, pl.PaymentBatchID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil, apperrors.NotFoundError("payment batch", pl.PaymentBatchID)
		}
		return nil, nil, apperrors.StorageError("loading payment batch", err)
	}
	if batch.Status != models.PaymentBatchPosted {
		return nil, nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"payment batch %d is %s, returns apply to POSTED batches only", batch.ID, batch.Status)
	}
	return pl, batch, nil
}

// normalizeEvent fills the event-type default. An engine hit with no
// explicit type means money came back.
func normalizeEvent(ev models.PaymentReturnEvent) models.PaymentReturnEvent {
	if ev.EventType == "" {
		ev.EventType = models.ReturnEventReturned
	}
	return ev
}

// applyEvent inserts the return event and applies its effects to the
// locked payment line. A duplicate request id short-circuits to the stored
// event without touching the line again.
func (s *Service) applyEvent(tx *store.Store, ev *models.PaymentReturnEvent, pl *models.PaymentLine, batch *models.PaymentBatch, actorID uint) (*models.PaymentReturnEvent, bool, error) {
	if !ev.EventType.IsValid() {
		return nil, false, apperrors.ValidationError(apperrors.CodeUnknownEnum, "eventType", string(ev.EventType))
	}
	if ev.Amount.IsNegative() {
		return nil, false, apperrors.ValidationError(apperrors.CodeOutOfRange, "amount", ev.Amount)
	}
	if ev.EventType == models.ReturnEventReturned && !ev.Amount.IsPositive() {
		return nil, false, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeOutOfRange,
			"PAYMENT_RETURNED needs a positive amount, got %s", ev.Amount)
	}
	ev.Amount = models.RoundMoney(ev.Amount)

	if err := tx.InsertReturnEvent(ev); err != nil {
		if !store.IsDuplicateKey(err) {
			return nil, false, apperrors.StorageError("inserting return event", err)
		}
		existing, lookupErr := tx.ReturnEventByRequestID(ev.TenantID, ev.LegalEntityID, ev.RequestID)
		if lookupErr != nil {
			return nil, false, apperrors.StorageError("replaying return event", lookupErr)
		}
		return existing, true, nil
	}

	priorStatus := pl.ReturnStatus
	switch ev.EventType {
	case models.ReturnEventRejected:
		pl.ReturnStatus = models.ReturnStatusRejectedPostAck
		pl.BankExecutionStatus = models.BankExecutionRejected
		if pl.Status == models.PaymentLinePending {
			pl.Status = models.PaymentLineFailed
		}
	case models.ReturnEventReturned:
		lineAbs := pl.Amount.Abs()
		if models.ExceedsWithEpsilon(pl.ReturnedAmount.Add(ev.Amount), lineAbs) {
			return nil, false, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeOutOfRange,
				"return of %s on top of %s already returned exceeds payment line amount %s",
				ev.Amount, pl.ReturnedAmount, lineAbs)
		}
		pl.ReturnedAmount = decimal.Min(lineAbs, pl.ReturnedAmount.Add(ev.Amount))
		if models.AmountsEqual(pl.ReturnedAmount, lineAbs) {
			pl.ReturnStatus = models.ReturnStatusReturned
			pl.BankExecutionStatus = models.BankExecutionReturned
		} else {
			pl.ReturnStatus = models.ReturnStatusPartiallyReturned
			pl.BankExecutionStatus = models.BankExecutionPartiallyReturned
		}
	}
	if err := tx.SavePaymentLine(pl); err != nil {
		return nil, false, apperrors.StorageError("saving payment line", err)
	}

	audit := &models.PaymentBatchAudit{
		TenantID:       ev.TenantID,
		PaymentBatchID: batch.ID,
		Action:         models.BatchAuditStatus,
		FromStatus:     string(priorStatus),
		ToStatus:       string(pl.ReturnStatus),
		Note: fmt.Sprintf("%s %s on payment line %d (%s)",
			ev.EventType, ev.Amount, pl.ID, ev.RequestID),
		ActorID: actorID,
	}
	if err := tx.InsertBatchAudit(audit); err != nil {
		return nil, false, apperrors.StorageError("inserting batch audit", err)
	}
	return ev, false, nil
}
