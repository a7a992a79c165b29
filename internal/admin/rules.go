package admin

import (
	"fmt"
	"time"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// RuleInput carries the writable fields of a reconciliation rule. On
// update, zero-valued fields keep the stored value; changing the scope
// type replaces the whole scope anchor.
type RuleInput struct {
	RuleCode      string                    `json:"ruleCode" validate:"omitempty,max=60"`
	RuleName      string                    `json:"ruleName" validate:"omitempty,max=200"`
	Status        models.RuleStatus         `json:"status,omitempty"`
	Priority      *int                      `json:"priority,omitempty" validate:"omitempty,gte=0"`
	ScopeType     models.ScopeType          `json:"scopeType,omitempty"`
	LegalEntityID *uint                     `json:"legalEntityId,omitempty"`
	BankAccountID *uint                     `json:"bankAccountId,omitempty"`
	MatchType     models.RuleMatchType      `json:"matchType,omitempty"`
	ActionType    models.RuleActionType     `json:"actionType,omitempty"`
	Conditions    *models.RuleConditions    `json:"conditions,omitempty"`
	ActionPayload *models.RuleActionPayload `json:"actionPayload,omitempty"`
	StopOnMatch   *bool                     `json:"stopOnMatch,omitempty"`
	EffectiveFrom *time.Time                `json:"effectiveFrom,omitempty"`
	EffectiveTo   *time.Time                `json:"effectiveTo,omitempty"`
	ActorID       uint                      `json:"-"`
}

// RuleResult is the rule row plus the gate outcome.
type RuleResult struct {
	Rule *models.ReconRule `json:"row"`
	Gate
}

// CreateRule inserts a rule and runs it through the approval gate. When a
// policy governs rule creation the new rule is parked PAUSED and
// PENDING_APPROVAL until its request is approved.
func (s *Service) CreateRule(tenantID uint, in RuleInput) (*RuleResult, error) {
	if err := s.checkInput(in); err != nil {
		return nil, err
	}
	if in.RuleCode == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "ruleCode", nil)
	}
	if in.RuleName == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "ruleName", nil)
	}
	if in.MatchType == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "matchType", nil)
	}
	if in.ActionType == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "actionType", nil)
	}

	rule := &models.ReconRule{
		TenantID:      tenantID,
		RuleCode:      in.RuleCode,
		RuleName:      in.RuleName,
		Status:        models.RuleStatusActive,
		Priority:      100,
		ScopeType:     models.ScopeGlobal,
		StopOnMatch:   true,
		ApprovalState: models.ApprovalStateApproved,
		VersionNo:     1,
		CreatedBy:     in.ActorID,
		UpdatedBy:     in.ActorID,
	}
	applyRuleInput(rule, in)
	if err := s.validateRule(tenantID, rule); err != nil {
		return nil, err
	}
	if err := s.store.InsertRule(rule); err != nil {
		if store.IsDuplicateKey(err) {
			return nil, apperrors.ConflictError(apperrors.CodeDuplicateEntity,
				fmt.Sprintf("rule code %q", rule.RuleCode))
		}
		return nil, apperrors.StorageError("inserting rule", err)
	}

	gate, err := s.gateChange(tenantID, gatedChange{
		target:        models.TargetReconRule,
		action:        models.ActionCreate,
		targetID:      rule.ID,
		requestKey:    fmt.Sprintf("RECON_RULE:CREATE:%d:v1", rule.ID),
		legalEntityID: rule.LegalEntityID,
		bankAccountID: rule.BankAccountID,
		currency:      rule.Conditions.CurrencyCode,
		payload:       models.ApprovalPayload{"ruleId": rule.ID, "versionNo": rule.VersionNo},
		snapshot:      ruleSnapshot(rule),
		actorID:       in.ActorID,
	})
	if err != nil {
		return nil, err
	}
	if gate.Request != nil && gate.Request.RequestStatus == models.ApprovalPending {
		if err := s.parkRule(rule, gate.Request.ID); err != nil {
			return nil, err
		}
	}
	s.log.WithFields(logger.Fields{
		"tenant_id": tenantID,
		"rule_id":   rule.ID,
		"rule_code": rule.RuleCode,
		"gated":     gate.ApprovalRequired,
	}).Info("Reconciliation rule created")
	return &RuleResult{Rule: rule, Gate: gate}, nil
}

// UpdateRule applies the provided fields to an existing rule, bumps its
// version and runs the change through the approval gate. A rule already
// awaiting approval rejects further updates.
func (s *Service) UpdateRule(tenantID, id uint, in RuleInput) (*RuleResult, error) {
	if err := s.checkInput(in); err != nil {
		return nil, err
	}
	rule, err := s.store.RuleByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("reconciliation rule", id)
		}
		return nil, apperrors.StorageError("loading rule", err)
	}
	if rule.ApprovalState == models.ApprovalStatePending {
		return nil, apperrors.GovernancePendingError(deref(rule.ApprovalRequestID))
	}
	if in.RuleCode != "" && in.RuleCode != rule.RuleCode {
		return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"ruleCode cannot change on update")
	}

	applyRuleInput(rule, in)
	if err := s.validateRule(tenantID, rule); err != nil {
		return nil, err
	}
	rule.VersionNo++
	rule.UpdatedBy = in.ActorID
	if err := s.store.SaveRule(rule); err != nil {
		return nil, apperrors.StorageError("saving rule", err)
	}

	gate, err := s.gateChange(tenantID, gatedChange{
		target:        models.TargetReconRule,
		action:        models.ActionUpdate,
		targetID:      rule.ID,
		requestKey:    fmt.Sprintf("RECON_RULE:UPDATE:%d:v%d", rule.ID, rule.VersionNo),
		legalEntityID: rule.LegalEntityID,
		bankAccountID: rule.BankAccountID,
		currency:      rule.Conditions.CurrencyCode,
		payload:       models.ApprovalPayload{"ruleId": rule.ID, "versionNo": rule.VersionNo},
		snapshot:      ruleSnapshot(rule),
		actorID:       in.ActorID,
	})
	if err != nil {
		return nil, err
	}
	if gate.Request != nil && gate.Request.RequestStatus == models.ApprovalPending {
		if err := s.parkRule(rule, gate.Request.ID); err != nil {
			return nil, err
		}
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":  tenantID,
		"rule_id":    rule.ID,
		"version_no": rule.VersionNo,
		"gated":      gate.ApprovalRequired,
	}).Info("Reconciliation rule updated")
	return &RuleResult{Rule: rule, Gate: gate}, nil
}

// GetRule loads a single rule.
func (s *Service) GetRule(tenantID, id uint) (*models.ReconRule, error) {
	rule, err := s.store.RuleByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("reconciliation rule", id)
		}
		return nil, apperrors.StorageError("loading rule", err)
	}
	return rule, nil
}

// ListRules returns the tenant's rules in engine order.
func (s *Service) ListRules(tenantID uint) ([]models.ReconRule, error) {
	rows, err := s.store.ListRules(tenantID)
	if err != nil {
		return nil, apperrors.StorageError("listing rules", err)
	}
	return rows, nil
}

func applyRuleInput(rule *models.ReconRule, in RuleInput) {
	if in.RuleName != "" {
		rule.RuleName = in.RuleName
	}
	if in.Status != "" {
		rule.Status = in.Status
	}
	if in.Priority != nil {
		rule.Priority = *in.Priority
	}
	if in.ScopeType != "" {
		rule.ScopeType = in.ScopeType
		rule.LegalEntityID = in.LegalEntityID
		rule.BankAccountID = in.BankAccountID
	}
	if in.MatchType != "" {
		rule.MatchType = in.MatchType
	}
	if in.ActionType != "" {
		rule.ActionType = in.ActionType
	}
	if in.Conditions != nil {
		rule.Conditions = *in.Conditions
	}
	if in.ActionPayload != nil {
		rule.ActionPayload = *in.ActionPayload
	}
	if in.StopOnMatch != nil {
		rule.StopOnMatch = *in.StopOnMatch
	}
	if in.EffectiveFrom != nil {
		rule.EffectiveFrom = in.EffectiveFrom
	}
	if in.EffectiveTo != nil {
		rule.EffectiveTo = in.EffectiveTo
	}
}

// validateRule checks the resulting row after input application, including
// the existence of any referenced template or profile.
func (s *Service) validateRule(tenantID uint, rule *models.ReconRule) error {
	if !rule.Status.IsValid() {
		return apperrors.ValidationError(apperrors.CodeUnknownEnum, "status", rule.Status)
	}
	if !rule.MatchType.IsValid() {
		return apperrors.ValidationError(apperrors.CodeUnknownEnum, "matchType", rule.MatchType)
	}
	if !rule.ActionType.IsValid() {
		return apperrors.ValidationError(apperrors.CodeUnknownEnum, "actionType", rule.ActionType)
	}
	if err := validateScope(rule.ScopeType, rule.LegalEntityID, rule.BankAccountID); err != nil {
		return err
	}
	if err := rule.Conditions.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.CodeInvalidInput, err.Error())
	}
	if err := rule.ActionPayload.ValidateFor(rule.ActionType); err != nil {
		return apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.CodeInvalidInput, err.Error())
	}
	switch rule.ActionType {
	case models.ActionAutoPostTemplate:
		if _, err := s.store.TemplateByID(tenantID, *rule.ActionPayload.PostingTemplateID); err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("posting template", *rule.ActionPayload.PostingTemplateID)
			}
			return apperrors.StorageError("loading posting template", err)
		}
	case models.ActionAutoMatchPaymentLineDiff:
		if _, err := s.store.ProfileByID(tenantID, *rule.ActionPayload.DifferenceProfileID); err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("difference profile", *rule.ActionPayload.DifferenceProfileID)
			}
			return apperrors.StorageError("loading difference profile", err)
		}
	}
	return nil
}

// parkRule demotes a rule behind its pending approval request.
func (s *Service) parkRule(rule *models.ReconRule, requestID uint) error {
	if rule.Status == models.RuleStatusActive {
		rule.Status = models.RuleStatusPaused
	}
	rule.ApprovalState = models.ApprovalStatePending
	rule.ApprovalRequestID = &requestID
	if err := s.store.SaveRule(rule); err != nil {
		return apperrors.StorageError("parking rule behind approval", err)
	}
	return nil
}

func ruleSnapshot(r *models.ReconRule) models.ApprovalPayload {
	return models.ApprovalPayload{
		"ruleId":     r.ID,
		"ruleCode":   r.RuleCode,
		"status":     r.Status,
		"matchType":  r.MatchType,
		"actionType": r.ActionType,
		"versionNo":  r.VersionNo,
	}
}

// activateRule is the approval executor for rule changes: the approved
// version goes live again.
func (s *Service) activateRule(tenantID uint, req *models.ApprovalRequest) (models.ApprovalPayload, error) {
	var rule *models.ReconRule
	err := s.store.Transaction(func(tx *store.Store) error {
		var err error
		rule, err = tx.RuleForUpdate(tenantID, req.TargetID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("reconciliation rule", req.TargetID)
			}
			return apperrors.StorageError("locking rule", err)
		}
		rule.ApprovalState = models.ApprovalStateApproved
		rule.ApprovalRequestID = nil
		if rule.Status == models.RuleStatusPaused {
			rule.Status = models.RuleStatusActive
		}
		if err := tx.SaveRule(rule); err != nil {
			return apperrors.StorageError("activating rule", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logger.Fields{
		"tenant_id": tenantID,
		"rule_id":   rule.ID,
		"status":    rule.Status,
	}).Info("Reconciliation rule activated")
	return models.ApprovalPayload{
		"ruleId":    rule.ID,
		"status":    rule.Status,
		"versionNo": rule.VersionNo,
	}, nil
}

// abandonRule runs when a rule change is rejected: the pin is cleared but
// the rule stays parked until someone re-submits or disables it.
func (s *Service) abandonRule(tenantID uint, req *models.ApprovalRequest) error {
	rule, err := s.store.RuleByID(tenantID, req.TargetID)
	if err != nil {
		if store.IsNotFound(err) {
			return apperrors.NotFoundError("reconciliation rule", req.TargetID)
		}
		return apperrors.StorageError("loading rule", err)
	}
	if rule.ApprovalRequestID == nil || *rule.ApprovalRequestID != req.ID {
		return nil
	}
	rule.ApprovalRequestID = nil
	if err := s.store.SaveRule(rule); err != nil {
		return apperrors.StorageError("unpinning rule", err)
	}
	s.log.WithFields(logger.Fields{
		"tenant_id": tenantID,
		"rule_id":   rule.ID,
	}).Info("Rule change rejected, rule stays parked")
	return nil
}
