package admin

import (
	"fmt"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// ExceptionOverrideResult is the outcome of a resolve or ignore request.
// Exception carries the pre-override row while the request waits for
// approval.
type ExceptionOverrideResult struct {
	Exception *models.ReconException `json:"row,omitempty"`
	Gate
}

// ResolveException closes an exception as RESOLVED, through the approval
// gate when an override policy is active.
func (s *Service) ResolveException(tenantID, id uint, code, note string, actorID uint) (*ExceptionOverrideResult, error) {
	exc, err := s.loadOpenException(tenantID, id, models.ExceptionResolved)
	if err != nil {
		return nil, err
	}
	gate, err := s.gateOverride(tenantID, exc, models.ActionResolve, code, note, actorID)
	if err != nil {
		return nil, err
	}
	if gate.ApprovalRequired {
		s.logOverrideStaged(tenantID, exc, models.ActionResolve, gate)
		return &ExceptionOverrideResult{Exception: exc, Gate: gate}, nil
	}
	applied, err := s.exceptions.ApplyResolve(tenantID, id, code, note, actorID, nil)
	if err != nil {
		return nil, err
	}
	return &ExceptionOverrideResult{Exception: applied, Gate: gate}, nil
}

// IgnoreException closes an exception as IGNORED, through the approval
// gate when an override policy is active.
func (s *Service) IgnoreException(tenantID, id uint, note string, actorID uint) (*ExceptionOverrideResult, error) {
	exc, err := s.loadOpenException(tenantID, id, models.ExceptionIgnored)
	if err != nil {
		return nil, err
	}
	gate, err := s.gateOverride(tenantID, exc, models.ActionIgnore, "", note, actorID)
	if err != nil {
		return nil, err
	}
	if gate.ApprovalRequired {
		s.logOverrideStaged(tenantID, exc, models.ActionIgnore, gate)
		return &ExceptionOverrideResult{Exception: exc, Gate: gate}, nil
	}
	applied, err := s.exceptions.ApplyIgnore(tenantID, id, note, actorID, nil)
	if err != nil {
		return nil, err
	}
	return &ExceptionOverrideResult{Exception: applied, Gate: gate}, nil
}

// loadOpenException fetches an exception and rejects overrides on one
// already closed.
func (s *Service) loadOpenException(tenantID, id uint, target models.ExceptionStatus) (*models.ReconException, error) {
	exc, err := s.store.ExceptionByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("exception", id)
		}
		return nil, apperrors.StorageError("loading exception", err)
	}
	if !exc.Status.IsOpenish() {
		return nil, apperrors.TransitionError("exception", exc.Status, target)
	}
	return exc, nil
}

// gateOverride stages an exception override through the gate. The
// occurrence count in the request key lets a retried exception be
// overridden again after a fresh pass reopened it.
func (s *Service) gateOverride(tenantID uint, exc *models.ReconException, action, code, note string, actorID uint) (Gate, error) {
	line, err := s.store.LineByID(tenantID, exc.StatementLineID)
	if err != nil {
		if store.IsNotFound(err) {
			return Gate{}, apperrors.NotFoundError("statement line", exc.StatementLineID)
		}
		return Gate{}, apperrors.StorageError("loading statement line", err)
	}
	return s.gateChange(tenantID, gatedChange{
		target:        models.TargetExceptionOverride,
		action:        action,
		targetID:      exc.ID,
		requestKey:    fmt.Sprintf("RECON_EXCEPTION_OVERRIDE:%s:%d:occ%d", action, exc.ID, exc.OccurrenceCount),
		legalEntityID: &exc.LegalEntityID,
		bankAccountID: &exc.BankAccountID,
		amount:        line.AbsAmount(),
		currency:      line.CurrencyCode,
		payload: models.ApprovalPayload{
			"exceptionId":    exc.ID,
			"resolutionCode": code,
			"note":           note,
		},
		snapshot: models.ApprovalPayload{
			"exceptionId":     exc.ID,
			"status":          exc.Status,
			"reasonCode":      exc.ReasonCode,
			"occurrenceCount": exc.OccurrenceCount,
		},
		actorID: actorID,
	})
}

func (s *Service) logOverrideStaged(tenantID uint, exc *models.ReconException, action string, gate Gate) {
	s.log.WithFields(logger.Fields{
		"tenant_id":    tenantID,
		"exception_id": exc.ID,
		"action":       action,
		"idempotent":   gate.Idempotent,
	}).Info("Exception override staged for approval")
}

// executeResolve replays an approved resolve override, pinning the
// approval request on the exception.
func (s *Service) executeResolve(tenantID uint, req *models.ApprovalRequest) (models.ApprovalPayload, error) {
	exc, err := s.exceptions.ApplyResolve(tenantID, req.TargetID,
		payloadString(req.ActionPayload, "resolutionCode"),
		payloadString(req.ActionPayload, "note"),
		req.RequestedByUserID, &req.ID)
	if err != nil {
		return nil, err
	}
	return models.ApprovalPayload{"exceptionId": exc.ID, "status": exc.Status}, nil
}

// executeIgnore replays an approved ignore override.
func (s *Service) executeIgnore(tenantID uint, req *models.ApprovalRequest) (models.ApprovalPayload, error) {
	exc, err := s.exceptions.ApplyIgnore(tenantID, req.TargetID,
		payloadString(req.ActionPayload, "note"),
		req.RequestedByUserID, &req.ID)
	if err != nil {
		return nil, err
	}
	return models.ApprovalPayload{"exceptionId": exc.ID, "status": exc.Status}, nil
}
