package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/admin"
	"bank-reconciliation-core/internal/executors"
	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/scope"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
)

// manualReturnRequest reports a bank-side return or rejection against a
// payment line. eventRequestId keys idempotency end to end.
type manualReturnRequest struct {
	EventRequestID string                 `json:"eventRequestId"`
	PaymentLineID  uint                   `json:"paymentLineId"`
	EventType      models.ReturnEventType `json:"eventType,omitempty"`
	Amount         decimal.Decimal        `json:"amount,omitempty"`
	BankReference  string                 `json:"bankReference,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
}

// returnEnvelope is the manual-return response: the payment line, the
// recorded event and the gate outcome.
type returnEnvelope struct {
	TenantID uint                       `json:"tenantId"`
	Row      *models.PaymentLine        `json:"row,omitempty"`
	Event    *models.PaymentReturnEvent `json:"event,omitempty"`
	admin.Gate
}

// guardPaymentLine asserts scope through the line's batch; payment lines
// carry no legal entity of their own.
func (s *Server) guardPaymentLine(c *gin.Context, p *scope.Principal, id uint) bool {
	pl, err := s.svc.Store.PaymentLineByID(p.TenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			s.renderError(c, apperrors.NotFoundError("payment line", id))
		} else {
			s.renderError(c, apperrors.StorageError("loading payment line", err))
		}
		return false
	}
	batch, err := s.svc.Store.PaymentBatchByID(p.TenantID, pl.PaymentBatchID)
	if err != nil {
		if store.IsNotFound(err) {
			s.renderError(c, apperrors.NotFoundError("payment batch", pl.PaymentBatchID))
		} else {
			s.renderError(c, apperrors.StorageError("loading payment batch", err))
		}
		return false
	}
	if err := p.RequireLegalEntity(batch.LegalEntityID); err != nil {
		s.renderError(c, err)
		return false
	}
	return true
}

func (s *Server) handleManualReturn(c *gin.Context) {
	p := principalFrom(c)
	var req manualReturnRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if req.PaymentLineID == 0 {
		s.renderError(c, apperrors.ValidationError(apperrors.CodeMissingPayload, "paymentLineId", nil))
		return
	}
	if !s.guardPaymentLine(c, p, req.PaymentLineID) {
		return
	}
	res, err := s.svc.Admin.CreateManualReturn(p.TenantID, executors.ManualReturnInput{
		PaymentLineID: req.PaymentLineID,
		EventType:     req.EventType,
		Amount:        req.Amount,
		RequestID:     req.EventRequestID,
		BankReference: req.BankReference,
		Reason:        req.Reason,
		ActorID:       p.UserID,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, returnEnvelope{TenantID: p.TenantID, Row: res.PaymentLine, Event: res.Event, Gate: res.Gate})
}

func (s *Server) handleSubmitExport(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	batch, err := s.svc.Store.PaymentBatchByID(p.TenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			s.renderError(c, apperrors.NotFoundError("payment batch", id))
		} else {
			s.renderError(c, apperrors.StorageError("loading payment batch", err))
		}
		return
	}
	if err := p.RequireLegalEntity(batch.LegalEntityID); err != nil {
		s.renderError(c, err)
		return
	}
	res, err := s.svc.Admin.SubmitExport(p.TenantID, id, p.UserID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: res.Batch, Gate: res.Gate})
}
