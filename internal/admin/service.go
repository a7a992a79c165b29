// Package admin fronts the governed configuration writes: rule, template
// and profile create-or-update, manual payment returns, batch export
// submission and exception overrides. Each operation evaluates the
// approval gate first; ungoverned changes apply inline while governed
// ones are staged as approval requests and replayed by the executors
// this package registers.
package admin

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/approvals"
	"bank-reconciliation-core/internal/exceptions"
	"bank-reconciliation-core/internal/executors"
	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// Service owns the gated admin surface of the reconciliation core.
type Service struct {
	store      *store.Store
	approvals  *approvals.Service
	executors  *executors.Service
	exceptions *exceptions.Service
	validate   *validator.Validate
	log        logger.Logger
}

// New builds the admin service. Call RegisterExecutors afterwards so
// approved requests can be replayed.
func New(st *store.Store, gate *approvals.Service, exec *executors.Service, exc *exceptions.Service, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{
		store:      st,
		approvals:  gate,
		executors:  exec,
		exceptions: exc,
		validate:   validator.New(),
		log:        log.WithComponent("admin"),
	}
}

// RegisterExecutors binds every BANK-module executor and reject hook to
// the approval dispatcher. Must run at composition time, before the
// service takes traffic.
func (s *Service) RegisterExecutors() {
	gate := s.approvals
	gate.RegisterExecutor(models.ModuleBank, models.TargetReconRule, models.ActionCreate, s.activateRule, s.abandonRule)
	gate.RegisterExecutor(models.ModuleBank, models.TargetReconRule, models.ActionUpdate, s.activateRule, s.abandonRule)
	gate.RegisterExecutor(models.ModuleBank, models.TargetPostTemplate, models.ActionCreate, s.activateTemplate, s.abandonTemplate)
	gate.RegisterExecutor(models.ModuleBank, models.TargetPostTemplate, models.ActionUpdate, s.activateTemplate, s.abandonTemplate)
	gate.RegisterExecutor(models.ModuleBank, models.TargetDiffProfile, models.ActionCreate, s.activateProfile, s.abandonProfile)
	gate.RegisterExecutor(models.ModuleBank, models.TargetDiffProfile, models.ActionUpdate, s.activateProfile, s.abandonProfile)
	gate.RegisterExecutor(models.ModuleBank, models.TargetManualReturn, models.ActionCreate, s.executeManualReturn, nil)
	gate.RegisterExecutor(models.ModuleBank, models.TargetPaymentBatch, models.ActionSubmitExport, s.executeExport, nil)
	gate.RegisterExecutor(models.ModuleBank, models.TargetExceptionOverride, models.ActionResolve, s.executeResolve, nil)
	gate.RegisterExecutor(models.ModuleBank, models.TargetExceptionOverride, models.ActionIgnore, s.executeIgnore, nil)
}

// Gate reports how the approval gate handled one governed write. With no
// matching policy the write applied inline and Request stays nil.
type Gate struct {
	ApprovalRequired bool                    `json:"approval_required"`
	Request          *models.ApprovalRequest `json:"approval_request,omitempty"`
	Idempotent       bool                    `json:"idempotent"`
}

// gatedChange describes one governed write heading into the gate.
type gatedChange struct {
	target        string
	action        string
	targetID      uint
	requestKey    string
	legalEntityID *uint
	bankAccountID *uint
	amount        decimal.Decimal
	currency      string
	payload       models.ApprovalPayload
	snapshot      models.ApprovalPayload
	actorID       uint
}

// gateChange evaluates the governing policy for a write and stages the
// approval request when one applies. The zero Gate means the write may
// proceed inline.
func (s *Service) gateChange(tenantID uint, ch gatedChange) (Gate, error) {
	pol, err := s.approvals.EvaluatePolicy(tenantID, approvals.PolicyQuery{
		Module:        models.ModuleBank,
		Target:        ch.target,
		Action:        ch.action,
		LegalEntityID: deref(ch.legalEntityID),
		BankAccountID: deref(ch.bankAccountID),
		Amount:        ch.amount,
		Currency:      ch.currency,
	})
	if err != nil || pol == nil {
		return Gate{}, err
	}
	req, idem, err := s.approvals.Submit(tenantID, approvals.SubmitInput{
		Policy:         pol,
		TargetID:       ch.targetID,
		RequestKey:     ch.requestKey,
		LegalEntityID:  ch.legalEntityID,
		BankAccountID:  ch.bankAccountID,
		Amount:         ch.amount,
		Currency:       ch.currency,
		ActionPayload:  ch.payload,
		TargetSnapshot: ch.snapshot,
		RequestedBy:    ch.actorID,
	})
	if err != nil {
		return Gate{}, err
	}
	return Gate{ApprovalRequired: true, Request: req, Idempotent: idem}, nil
}

// checkInput runs the struct-tag validation on a request body.
func (s *Service) checkInput(in interface{}) error {
	if err := s.validate.Struct(in); err != nil {
		return apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			fmt.Sprintf("request validation failed: %v", err))
	}
	return nil
}

// validateScope rejects a scope anchor whose ids do not back the declared
// scope type.
func validateScope(scopeType models.ScopeType, legalEntityID, bankAccountID *uint) error {
	if !scopeType.IsValid() {
		return apperrors.ValidationError(apperrors.CodeUnknownEnum, "scopeType", scopeType)
	}
	switch scopeType {
	case models.ScopeLegalEntity:
		if legalEntityID == nil || *legalEntityID == 0 {
			return apperrors.ValidationError(apperrors.CodeMissingPayload, "legalEntityId", nil)
		}
	case models.ScopeBankAccount:
		if legalEntityID == nil || *legalEntityID == 0 {
			return apperrors.ValidationError(apperrors.CodeMissingPayload, "legalEntityId", nil)
		}
		if bankAccountID == nil || *bankAccountID == 0 {
			return apperrors.ValidationError(apperrors.CodeMissingPayload, "bankAccountId", nil)
		}
	}
	return nil
}

func deref(p *uint) uint {
	if p == nil {
		return 0
	}
	return *p
}

// Payload readers tolerate the JSON round trip: numbers come back as
// float64 once a request row has been through the database.

func payloadString(p models.ApprovalPayload, key string) string {
	v, _ := p[key].(string)
	return v
}

func payloadUint(p models.ApprovalPayload, key string) uint {
	switch v := p[key].(type) {
	case float64:
		return uint(v)
	case int:
		return uint(v)
	case uint:
		return v
	}
	return 0
}

func payloadDecimal(p models.ApprovalPayload, key string) (decimal.Decimal, error) {
	raw := payloadString(p, key)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"payload field %s value %q does not parse as a decimal", key, raw)
	}
	return d, nil
}
