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

// ProfileInput carries the writable fields of a difference profile. On
// update, zero-valued fields keep the stored value.
type ProfileInput struct {
	ProfileCode       string                           `json:"profileCode" validate:"omitempty,max=60"`
	ProfileName       string                           `json:"profileName" validate:"omitempty,max=200"`
	Status            models.DifferenceProfileStatus   `json:"status,omitempty"`
	ScopeType         models.ScopeType                 `json:"scopeType,omitempty"`
	LegalEntityID     *uint                            `json:"legalEntityId,omitempty"`
	BankAccountID     *uint                            `json:"bankAccountId,omitempty"`
	DifferenceType    models.DifferenceType            `json:"differenceType,omitempty"`
	DirectionPolicy   models.DifferenceDirectionPolicy `json:"directionPolicy,omitempty"`
	MaxAbsDifference  *decimal.Decimal                 `json:"maxAbsDifference,omitempty"`
	CurrencyCode      string                           `json:"currencyCode,omitempty" validate:"omitempty,len=3"`
	ExpenseAccountID  *uint                            `json:"expenseAccountId,omitempty"`
	FXGainAccountID   *uint                            `json:"fxGainAccountId,omitempty"`
	FXLossAccountID   *uint                            `json:"fxLossAccountId,omitempty"`
	DescriptionPrefix string                           `json:"descriptionPrefix,omitempty" validate:"omitempty,max=100"`
	EffectiveFrom     *time.Time                       `json:"effectiveFrom,omitempty"`
	EffectiveTo       *time.Time                       `json:"effectiveTo,omitempty"`
	ActorID           uint                             `json:"-"`
}

// ProfileResult is the profile row plus the gate outcome.
type ProfileResult struct {
	Profile *models.DifferenceProfile `json:"row"`
	Gate
}

// CreateProfile inserts a difference profile and runs it through the
// approval gate.
func (s *Service) CreateProfile(tenantID uint, in ProfileInput) (*ProfileResult, error) {
	if err := s.checkInput(in); err != nil {
		return nil, err
	}
	if in.ProfileCode == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "profileCode", nil)
	}
	if in.ProfileName == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "profileName", nil)
	}
	if in.DifferenceType == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "differenceType", nil)
	}
	if in.MaxAbsDifference == nil {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "maxAbsDifference", nil)
	}

	prof := &models.DifferenceProfile{
		TenantID:        tenantID,
		ProfileCode:     in.ProfileCode,
		ProfileName:     in.ProfileName,
		Status:          models.DifferenceProfileActive,
		ScopeType:       models.ScopeGlobal,
		DirectionPolicy: models.DifferenceDirectionBoth,
		ApprovalState:   models.ApprovalStateApproved,
		VersionNo:       1,
		CreatedBy:       in.ActorID,
		UpdatedBy:       in.ActorID,
	}
	applyProfileInput(prof, in)
	if err := s.validateProfile(prof); err != nil {
		return nil, err
	}
	if err := s.store.InsertProfile(prof); err != nil {
		if store.IsDuplicateKey(err) {
			return nil, apperrors.ConflictError(apperrors.CodeDuplicateEntity,
				fmt.Sprintf("profile code %q", prof.ProfileCode))
		}
		return nil, apperrors.StorageError("inserting difference profile", err)
	}

	gate, err := s.gateChange(tenantID, gatedChange{
		target:        models.TargetDiffProfile,
		action:        models.ActionCreate,
		targetID:      prof.ID,
		requestKey:    fmt.Sprintf("DIFF_PROFILE:CREATE:%d:v1", prof.ID),
		legalEntityID: prof.LegalEntityID,
		bankAccountID: prof.BankAccountID,
		amount:        prof.MaxAbsDifference,
		currency:      prof.CurrencyCode,
		payload:       models.ApprovalPayload{"profileId": prof.ID, "versionNo": prof.VersionNo},
		snapshot:      profileSnapshot(prof),
		actorID:       in.ActorID,
	})
	if err != nil {
		return nil, err
	}
	if gate.Request != nil && gate.Request.RequestStatus == models.ApprovalPending {
		if err := s.parkProfile(prof, gate.Request.ID); err != nil {
			return nil, err
		}
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":    tenantID,
		"profile_id":   prof.ID,
		"profile_code": prof.ProfileCode,
		"gated":        gate.ApprovalRequired,
	}).Info("Difference profile created")
	return &ProfileResult{Profile: prof, Gate: gate}, nil
}

// UpdateProfile applies the provided fields to an existing profile, bumps
// its version and runs the change through the approval gate.
func (s *Service) UpdateProfile(tenantID, id uint, in ProfileInput) (*ProfileResult, error) {
	if err := s.checkInput(in); err != nil {
		return nil, err
	}
	prof, err := s.store.ProfileByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("difference profile", id)
		}
		return nil, apperrors.StorageError("loading difference profile", err)
	}
	if prof.ApprovalState == models.ApprovalStatePending {
		return nil, apperrors.GovernancePendingError(deref(prof.ApprovalRequestID))
	}
	if in.ProfileCode != "" && in.ProfileCode != prof.ProfileCode {
		return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"profileCode cannot change on update")
	}

	applyProfileInput(prof, in)
	if err := s.validateProfile(prof); err != nil {
		return nil, err
	}
	prof.VersionNo++
	prof.UpdatedBy = in.ActorID
	if err := s.store.SaveProfile(prof); err != nil {
		return nil, apperrors.StorageError("saving difference profile", err)
	}

	gate, err := s.gateChange(tenantID, gatedChange{
		target:        models.TargetDiffProfile,
		action:        models.ActionUpdate,
		targetID:      prof.ID,
		requestKey:    fmt.Sprintf("DIFF_PROFILE:UPDATE:%d:v%d", prof.ID, prof.VersionNo),
		legalEntityID: prof.LegalEntityID,
		bankAccountID: prof.BankAccountID,
		amount:        prof.MaxAbsDifference,
		currency:      prof.CurrencyCode,
		payload:       models.ApprovalPayload{"profileId": prof.ID, "versionNo": prof.VersionNo},
		snapshot:      profileSnapshot(prof),
		actorID:       in.ActorID,
	})
	if err != nil {
		return nil, err
	}
	if gate.Request != nil && gate.Request.RequestStatus == models.ApprovalPending {
		if err := s.parkProfile(prof, gate.Request.ID); err != nil {
			return nil, err
		}
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":  tenantID,
		"profile_id": prof.ID,
		"version_no": prof.VersionNo,
		"gated":      gate.ApprovalRequired,
	}).Info("Difference profile updated")
	return &ProfileResult{Profile: prof, Gate: gate}, nil
}

// GetProfile loads a single difference profile.
func (s *Service) GetProfile(tenantID, id uint) (*models.DifferenceProfile, error) {
	prof, err := s.store.ProfileByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("difference profile", id)
		}
		return nil, apperrors.StorageError("loading difference profile", err)
	}
	return prof, nil
}

// ListProfiles returns the tenant's difference profiles.
func (s *Service) ListProfiles(tenantID uint) ([]models.DifferenceProfile, error) {
	rows, err := s.store.ListProfiles(tenantID)
	if err != nil {
		return nil, apperrors.StorageError("listing difference profiles", err)
	}
	return rows, nil
}

func applyProfileInput(prof *models.DifferenceProfile, in ProfileInput) {
	if in.ProfileName != "" {
		prof.ProfileName = in.ProfileName
	}
	if in.Status != "" {
		prof.Status = in.Status
	}
	if in.ScopeType != "" {
		prof.ScopeType = in.ScopeType
		prof.LegalEntityID = in.LegalEntityID
		prof.BankAccountID = in.BankAccountID
	}
	if in.DifferenceType != "" {
		prof.DifferenceType = in.DifferenceType
	}
	if in.DirectionPolicy != "" {
		prof.DirectionPolicy = in.DirectionPolicy
	}
	if in.MaxAbsDifference != nil {
		prof.MaxAbsDifference = *in.MaxAbsDifference
	}
	if in.CurrencyCode != "" {
		prof.CurrencyCode = in.CurrencyCode
	}
	if in.ExpenseAccountID != nil {
		prof.ExpenseAccountID = in.ExpenseAccountID
	}
	if in.FXGainAccountID != nil {
		prof.FXGainAccountID = in.FXGainAccountID
	}
	if in.FXLossAccountID != nil {
		prof.FXLossAccountID = in.FXLossAccountID
	}
	if in.DescriptionPrefix != "" {
		prof.DescriptionPrefix = in.DescriptionPrefix
	}
	if in.EffectiveFrom != nil {
		prof.EffectiveFrom = in.EffectiveFrom
	}
	if in.EffectiveTo != nil {
		prof.EffectiveTo = in.EffectiveTo
	}
}

func (s *Service) validateProfile(prof *models.DifferenceProfile) error {
	if !prof.Status.IsValid() {
		return apperrors.ValidationError(apperrors.CodeUnknownEnum, "status", prof.Status)
	}
	if err := validateScope(prof.ScopeType, prof.LegalEntityID, prof.BankAccountID); err != nil {
		return err
	}
	if err := prof.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.CodeInvalidInput, err.Error())
	}
	return nil
}

// parkProfile demotes a profile behind its pending approval request.
func (s *Service) parkProfile(prof *models.DifferenceProfile, requestID uint) error {
	if prof.Status == models.DifferenceProfileActive {
		prof.Status = models.DifferenceProfilePaused
	}
	prof.ApprovalState = models.ApprovalStatePending
	prof.ApprovalRequestID = &requestID
	if err := s.store.SaveProfile(prof); err != nil {
		return apperrors.StorageError("parking profile behind approval", err)
	}
	return nil
}

func profileSnapshot(p *models.DifferenceProfile) models.ApprovalPayload {
	return models.ApprovalPayload{
		"profileId":        p.ID,
		"profileCode":      p.ProfileCode,
		"status":           p.Status,
		"differenceType":   p.DifferenceType,
		"maxAbsDifference": p.MaxAbsDifference.String(),
		"versionNo":        p.VersionNo,
	}
}

// activateProfile is the approval executor for profile changes.
func (s *Service) activateProfile(tenantID uint, req *models.ApprovalRequest) (models.ApprovalPayload, error) {
	var prof *models.DifferenceProfile
	err := s.store.Transaction(func(tx *store.Store) error {
		var err error
		prof, err = tx.ProfileForUpdate(tenantID, req.TargetID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("difference profile", req.TargetID)
			}
			return apperrors.StorageError("locking difference profile", err)
		}
		prof.ApprovalState = models.ApprovalStateApproved
		prof.ApprovalRequestID = nil
		if prof.Status == models.DifferenceProfilePaused {
			prof.Status = models.DifferenceProfileActive
		}
		if err := tx.SaveProfile(prof); err != nil {
			return apperrors.StorageError("activating difference profile", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":  tenantID,
		"profile_id": prof.ID,
		"status":     prof.Status,
	}).Info("Difference profile activated")
	return models.ApprovalPayload{
		"profileId": prof.ID,
		"status":    prof.Status,
		"versionNo": prof.VersionNo,
	}, nil
}

// abandonProfile clears the pin after a rejected profile change.
func (s *Service) abandonProfile(tenantID uint, req *models.ApprovalRequest) error {
	prof, err := s.store.ProfileByID(tenantID, req.TargetID)
	if err != nil {
		if store.IsNotFound(err) {
			return apperrors.NotFoundError("difference profile", req.TargetID)
		}
		return apperrors.StorageError("loading difference profile", err)
	}
	if prof.ApprovalRequestID == nil || *prof.ApprovalRequestID != req.ID {
		return nil
	}
	prof.ApprovalRequestID = nil
	if err := s.store.SaveProfile(prof); err != nil {
		return apperrors.StorageError("unpinning difference profile", err)
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":  tenantID,
		"profile_id": prof.ID,
	}).Info("Profile change rejected, profile stays parked")
	return nil
}
