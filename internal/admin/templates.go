package admin

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// TemplateInput carries the writable fields of a posting template. On
// update, zero-valued fields keep the stored value.
type TemplateInput struct {
	TemplateCode      string                         `json:"templateCode" validate:"omitempty,max=60"`
	TemplateName      string                         `json:"templateName" validate:"omitempty,max=200"`
	Status            models.TemplateStatus          `json:"status,omitempty"`
	ScopeType         models.ScopeType               `json:"scopeType,omitempty"`
	LegalEntityID     *uint                          `json:"legalEntityId,omitempty"`
	BankAccountID     *uint                          `json:"bankAccountId,omitempty"`
	CounterAccountID  uint                           `json:"counterAccountId,omitempty"`
	DirectionPolicy   models.TemplateDirectionPolicy `json:"directionPolicy,omitempty"`
	MinAmountAbs      *decimal.Decimal               `json:"minAmountAbs,omitempty"`
	MaxAmountAbs      *decimal.Decimal               `json:"maxAmountAbs,omitempty"`
	CurrencyCode      string                         `json:"currencyCode,omitempty" validate:"omitempty,len=3"`
	TaxMode           models.TemplateTaxMode         `json:"taxMode,omitempty"`
	TaxAccountID      *uint                          `json:"taxAccountId,omitempty"`
	TaxRate           *decimal.Decimal               `json:"taxRate,omitempty"`
	DescriptionMode   models.TemplateDescriptionMode `json:"descriptionMode,omitempty"`
	DescriptionPrefix string                         `json:"descriptionPrefix,omitempty" validate:"omitempty,max=100"`
	FixedDescription  string                         `json:"fixedDescription,omitempty" validate:"omitempty,max=400"`
	EffectiveFrom     *time.Time                     `json:"effectiveFrom,omitempty"`
	EffectiveTo       *time.Time                     `json:"effectiveTo,omitempty"`
	ActorID           uint                           `json:"-"`
}

// TemplateResult is the template row plus the gate outcome.
type TemplateResult struct {
	Template *models.PostingTemplate `json:"row"`
	Gate
}

// CreateTemplate inserts a posting template and runs it through the
// approval gate.
func (s *Service) CreateTemplate(tenantID uint, in TemplateInput) (*TemplateResult, error) {
	if err := s.checkInput(in); err != nil {
		return nil, err
	}
	if in.TemplateCode == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "templateCode", nil)
	}
	if in.TemplateName == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "templateName", nil)
	}
	if in.CounterAccountID == 0 {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "counterAccountId", nil)
	}

	tpl := &models.PostingTemplate{
		TenantID:        tenantID,
		TemplateCode:    in.TemplateCode,
		TemplateName:    in.TemplateName,
		Status:          models.TemplateStatusActive,
		ScopeType:       models.ScopeGlobal,
		DirectionPolicy: models.DirectionPolicyBoth,
		TaxMode:         models.TaxModeNone,
		DescriptionMode: models.DescriptionUseStatementText,
		ApprovalState:   models.ApprovalStateApproved,
		VersionNo:       1,
		CreatedBy:       in.ActorID,
		UpdatedBy:       in.ActorID,
	}
	applyTemplateInput(tpl, in)
	if err := s.validateTemplate(tpl); err != nil {
		return nil, err
	}
	if err := s.store.InsertTemplate(tpl); err != nil {
		if store.IsDuplicateKey(err) {
			return nil, apperrors.ConflictError(apperrors.CodeDuplicateEntity,
				fmt.Sprintf("template code %q", tpl.TemplateCode))
		}
		return nil, apperrors.StorageError("inserting posting template", err)
	}

	gate, err := s.gateChange(tenantID, gatedChange{
		target:        models.TargetPostTemplate,
		action:        models.ActionCreate,
		targetID:      tpl.ID,
		requestKey:    fmt.Sprintf("POST_TEMPLATE:CREATE:%d:v1", tpl.ID),
		legalEntityID: tpl.LegalEntityID,
		bankAccountID: tpl.BankAccountID,
		currency:      tpl.CurrencyCode,
		payload:       models.ApprovalPayload{"templateId": tpl.ID, "versionNo": tpl.VersionNo},
		snapshot:      templateSnapshot(tpl),
		actorID:       in.ActorID,
	})
	if err != nil {
		return nil, err
	}
	if gate.Request != nil && gate.Request.RequestStatus == models.ApprovalPending {
		if err := s.parkTemplate(tpl, gate.Request.ID); err != nil {
			return nil, err
		}
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":     tenantID,
		"template_id":   tpl.ID,
		"template_code": tpl.TemplateCode,
		"gated":         gate.ApprovalRequired,
	}).Info("Posting template created")
	return &TemplateResult{Template: tpl, Gate: gate}, nil
}

// UpdateTemplate applies the provided fields to an existing template,
// bumps its version and runs the change through the approval gate.
func (s *Service) UpdateTemplate(tenantID, id uint, in TemplateInput) (*TemplateResult, error) {
	if err := s.checkInput(in); err != nil {
		return nil, err
	}
	tpl, err := s.store.TemplateByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("posting template", id)
		}
		return nil, apperrors.StorageError("loading posting template", err)
	}
	if tpl.ApprovalState == models.ApprovalStatePending {
		return nil, apperrors.GovernancePendingError(deref(tpl.ApprovalRequestID))
	}
	if in.TemplateCode != "" && in.TemplateCode != tpl.TemplateCode {
		return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"templateCode cannot change on update")
	}

	applyTemplateInput(tpl, in)
	if err := s.validateTemplate(tpl); err != nil {
		return nil, err
	}
	tpl.VersionNo++
	tpl.UpdatedBy = in.ActorID
	if err := s.store.SaveTemplate(tpl); err != nil {
		return nil, apperrors.StorageError("saving posting template", err)
	}

	gate, err := s.gateChange(tenantID, gatedChange{
		target:        models.TargetPostTemplate,
		action:        models.ActionUpdate,
		targetID:      tpl.ID,
		requestKey:    fmt.Sprintf("POST_TEMPLATE:UPDATE:%d:v%d", tpl.ID, tpl.VersionNo),
		legalEntityID: tpl.LegalEntityID,
		bankAccountID: tpl.BankAccountID,
		currency:      tpl.CurrencyCode,
		payload:       models.ApprovalPayload{"templateId": tpl.ID, "versionNo": tpl.VersionNo},
		snapshot:      templateSnapshot(tpl),
		actorID:       in.ActorID,
	})
	if err != nil {
		return nil, err
	}
	if gate.Request != nil && gate.Request.RequestStatus == models.ApprovalPending {
		if err := s.parkTemplate(tpl, gate.Request.ID); err != nil {
			return nil, err
		}
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":   tenantID,
		"template_id": tpl.ID,
		"version_no":  tpl.VersionNo,
		"gated":       gate.ApprovalRequired,
	}).Info("Posting template updated")
	return &TemplateResult{Template: tpl, Gate: gate}, nil
}

// GetTemplate loads a single posting template.
func (s *Service) GetTemplate(tenantID, id uint) (*models.PostingTemplate, error) {
	tpl, err := s.store.TemplateByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("posting template", id)
		}
		return nil, apperrors.StorageError("loading posting template", err)
	}
	return tpl, nil
}

// ListTemplates returns the tenant's posting templates.
func (s *Service) ListTemplates(tenantID uint) ([]models.PostingTemplate, error) {
	rows, err := s.store.ListTemplates(tenantID)
	if err != nil {
		return nil, apperrors.StorageError("listing posting templates", err)
	}
	return rows, nil
}

func applyTemplateInput(tpl *models.PostingTemplate, in TemplateInput) {
	if in.TemplateName != "" {
		tpl.TemplateName = in.TemplateName
	}
	if in.Status != "" {
		tpl.Status = in.Status
	}
	if in.ScopeType != "" {
		tpl.ScopeType = in.ScopeType
		tpl.LegalEntityID = in.LegalEntityID
		tpl.BankAccountID = in.BankAccountID
	}
	if in.CounterAccountID != 0 {
		tpl.CounterAccountID = in.CounterAccountID
	}
	if in.DirectionPolicy != "" {
		tpl.DirectionPolicy = in.DirectionPolicy
	}
	if in.MinAmountAbs != nil {
		tpl.MinAmountAbs = in.MinAmountAbs
	}
	if in.MaxAmountAbs != nil {
		tpl.MaxAmountAbs = in.MaxAmountAbs
	}
	if in.CurrencyCode != "" {
		tpl.CurrencyCode = in.CurrencyCode
	}
	if in.TaxMode != "" {
		tpl.TaxMode = in.TaxMode
	}
	if in.TaxAccountID != nil {
		tpl.TaxAccountID = in.TaxAccountID
	}
	if in.TaxRate != nil {
		tpl.TaxRate = *in.TaxRate
	}
	if in.DescriptionMode != "" {
		tpl.DescriptionMode = in.DescriptionMode
	}
	if in.DescriptionPrefix != "" {
		tpl.DescriptionPrefix = in.DescriptionPrefix
	}
	if in.FixedDescription != "" {
		tpl.FixedDescription = in.FixedDescription
	}
	if in.EffectiveFrom != nil {
		tpl.EffectiveFrom = in.EffectiveFrom
	}
	if in.EffectiveTo != nil {
		tpl.EffectiveTo = in.EffectiveTo
	}
}

func (s *Service) validateTemplate(tpl *models.PostingTemplate) error {
	if !tpl.Status.IsValid() {
		return apperrors.ValidationError(apperrors.CodeUnknownEnum, "status", tpl.Status)
	}
	if err := validateScope(tpl.ScopeType, tpl.LegalEntityID, tpl.BankAccountID); err != nil {
		return err
	}
	if err := tpl.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.CodeInvalidInput, err.Error())
	}
	return nil
}

// parkTemplate demotes a template behind its pending approval request.
func (s *Service) parkTemplate(tpl *models.PostingTemplate, requestID uint) error {
	if tpl.Status == models.TemplateStatusActive {
		tpl.Status = models.TemplateStatusPaused
	}
	tpl.ApprovalState = models.ApprovalStatePending
	tpl.ApprovalRequestID = &requestID
	if err := s.store.SaveTemplate(tpl); err != nil {
		return apperrors.StorageError("parking template behind approval", err)
	}
	return nil
}

func templateSnapshot(t *models.PostingTemplate) models.ApprovalPayload {
	return models.ApprovalPayload{
		"templateId":       t.ID,
		"templateCode":     t.TemplateCode,
		"status":           t.Status,
		"counterAccountId": t.CounterAccountID,
		"taxMode":          t.TaxMode,
		"versionNo":        t.VersionNo,
	}
}

// activateTemplate is the approval executor for template changes.
func (s *Service) activateTemplate(tenantID uint, req *models.ApprovalRequest) (models.ApprovalPayload, error) {
	var tpl *models.PostingTemplate
	err := s.store.Transaction(func(tx *store.Store) error {
		var err error
		tpl, err = tx.TemplateForUpdate(tenantID, req.TargetID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("posting template", req.TargetID)
			}
			return apperrors.StorageError("locking posting template", err)
		}
		tpl.ApprovalState = models.ApprovalStateApproved
		tpl.ApprovalRequestID = nil
		if tpl.Status == models.TemplateStatusPaused {
			tpl.Status = models.TemplateStatusActive
		}
		if err := tx.SaveTemplate(tpl); err != nil {
			return apperrors.StorageError("activating posting template", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":   tenantID,
		"template_id": tpl.ID,
		"status":      tpl.Status,
	}).Info("Posting template activated")
	return models.ApprovalPayload{
		"templateId": tpl.ID,
		"status":     tpl.Status,
		"versionNo":  tpl.VersionNo,
	}, nil
}

// abandonTemplate clears the pin after a rejected template change.
func (s *Service) abandonTemplate(tenantID uint, req *models.ApprovalRequest) error {
	tpl, err := s.store.TemplateByID(tenantID, req.TargetID)
	if err != nil {
		if store.IsNotFound(err) {
			return apperrors.NotFoundError("posting template", req.TargetID)
		}
		return apperrors.StorageError("loading posting template", err)
	}
	if tpl.ApprovalRequestID == nil || *tpl.ApprovalRequestID != req.ID {
		return nil
	}
	tpl.ApprovalRequestID = nil
	if err := s.store.SaveTemplate(tpl); err != nil {
		return apperrors.StorageError("unpinning posting template", err)
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":   tenantID,
		"template_id": tpl.ID,
	}).Info("Template change rejected, template stays parked")
	return nil
}
