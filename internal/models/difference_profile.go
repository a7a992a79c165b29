package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DifferenceType classifies the small gap between a statement line and its
// matched payment line.
type DifferenceType string

const (
	DifferenceFee DifferenceType = "FEE"
	DifferenceFX  DifferenceType = "FX"
)

// IsValid checks if the difference type is a known value.
func (t DifferenceType) IsValid() bool {
	return t == DifferenceFee || t == DifferenceFX
}

// DifferenceProfileStatus is the lifecycle state of a difference profile.
type DifferenceProfileStatus string

const (
	DifferenceProfileActive   DifferenceProfileStatus = "ACTIVE"
	DifferenceProfilePaused   DifferenceProfileStatus = "PAUSED"
	DifferenceProfileDisabled DifferenceProfileStatus = "DISABLED"
)

// IsValid checks if the profile status is a known value.
func (s DifferenceProfileStatus) IsValid() bool {
	return s == DifferenceProfileActive || s == DifferenceProfilePaused || s == DifferenceProfileDisabled
}

// DifferenceDirectionPolicy bounds the sign of the difference a profile
// absorbs: INCREASE_ONLY accepts actual above expected, DECREASE_ONLY the
// reverse.
type DifferenceDirectionPolicy string

const (
	DifferenceDirectionBoth     DifferenceDirectionPolicy = "BOTH"
	DifferenceDirectionIncrease DifferenceDirectionPolicy = "INCREASE_ONLY"
	DifferenceDirectionDecrease DifferenceDirectionPolicy = "DECREASE_ONLY"
)

// IsValid checks if the direction policy is a known value.
func (p DifferenceDirectionPolicy) IsValid() bool {
	return p == DifferenceDirectionBoth || p == DifferenceDirectionIncrease || p == DifferenceDirectionDecrease
}

// Allows reports whether the policy accepts a signed difference
// (actual minus expected). A zero difference always passes.
func (p DifferenceDirectionPolicy) Allows(diffSigned decimal.Decimal) bool {
	switch {
	case diffSigned.IsZero():
		return true
	case p == DifferenceDirectionBoth:
		return true
	case p == DifferenceDirectionIncrease:
		return diffSigned.IsPositive()
	case p == DifferenceDirectionDecrease:
		return diffSigned.IsNegative()
	}
	return false
}

// DifferenceProfile carries the tolerance and GL wiring for absorbing small
// FX or fee gaps between expected payment amounts and the bank statement.
type DifferenceProfile struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	TenantID    uint   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_difference_profiles_tenant_code"`
	ProfileCode string `json:"profile_code" gorm:"size:60;not null;uniqueIndex:ux_difference_profiles_tenant_code"`
	ProfileName string `json:"profile_name" gorm:"size:200;not null"`

	Status DifferenceProfileStatus `json:"status" gorm:"size:20;not null;default:'ACTIVE'"`

	ScopeType     ScopeType `json:"scope_type" gorm:"size:20;not null;default:'GLOBAL'"`
	LegalEntityID *uint     `json:"legal_entity_id,omitempty"`
	BankAccountID *uint     `json:"bank_account_id,omitempty"`

	DifferenceType   DifferenceType            `json:"difference_type" gorm:"size:10;not null"`
	DirectionPolicy  DifferenceDirectionPolicy `json:"direction_policy" gorm:"size:20;not null;default:'BOTH'"`
	MaxAbsDifference decimal.Decimal           `json:"max_abs_difference" gorm:"type:decimal(24,6);not null"`
	CurrencyCode     string                    `json:"currency_code" gorm:"size:3"`

	ExpenseAccountID *uint `json:"expense_account_id,omitempty"`
	FXGainAccountID  *uint `json:"fx_gain_account_id,omitempty"`
	FXLossAccountID  *uint `json:"fx_loss_account_id,omitempty"`

	DescriptionPrefix string `json:"description_prefix" gorm:"size:100"`

	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`

	ApprovalState     ApprovalState `json:"approval_state" gorm:"size:20;not null;default:'APPROVED'"`
	ApprovalRequestID *uint         `json:"approval_request_id,omitempty"`
	VersionNo         int           `json:"version_no" gorm:"not null;default:1"`

	CreatedBy uint      `json:"created_by"`
	UpdatedBy uint      `json:"updated_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DifferenceProfile) TableName() string { return "bank_difference_profiles" }

// Validate checks the profile's internal consistency.
func (p *DifferenceProfile) Validate() error {
	if !p.DifferenceType.IsValid() {
		return fmt.Errorf("differenceType %q is not valid", p.DifferenceType)
	}
	if !p.DirectionPolicy.IsValid() {
		return fmt.Errorf("directionPolicy %q is not valid", p.DirectionPolicy)
	}
	if p.MaxAbsDifference.IsNegative() {
		return fmt.Errorf("maxAbsDifference cannot be negative, got %s", p.MaxAbsDifference)
	}
	switch p.DifferenceType {
	case DifferenceFee:
		if p.ExpenseAccountID == nil || *p.ExpenseAccountID == 0 {
			return fmt.Errorf("expenseAccountId is required for FEE profiles")
		}
	case DifferenceFX:
		if p.FXGainAccountID == nil || *p.FXGainAccountID == 0 ||
			p.FXLossAccountID == nil || *p.FXLossAccountID == 0 {
			return fmt.Errorf("fxGainAccountId and fxLossAccountId are required for FX profiles")
		}
	}
	return nil
}

// Covers reports whether an absolute difference fits under the profile cap,
// epsilon included.
func (p *DifferenceProfile) Covers(diffAbs decimal.Decimal) bool {
	return !ExceedsWithEpsilon(diffAbs, p.MaxAbsDifference)
}

// EffectiveOn reports whether the profile's effective window covers a date.
func (p *DifferenceProfile) EffectiveOn(day time.Time) bool {
	return effectiveWindowCovers(p.EffectiveFrom, p.EffectiveTo, day)
}

// AppliesToScope reports whether the profile's scope anchor covers a line.
func (p *DifferenceProfile) AppliesToScope(legalEntityID, bankAccountID uint) bool {
	switch p.ScopeType {
	case ScopeGlobal:
		return true
	case ScopeLegalEntity:
		return p.LegalEntityID != nil && *p.LegalEntityID == legalEntityID
	case ScopeBankAccount:
		return p.LegalEntityID != nil && *p.LegalEntityID == legalEntityID &&
			p.BankAccountID != nil && *p.BankAccountID == bankAccountID
	}
	return false
}

// CounterAccount picks the GL account the difference journal books against,
// given the line direction and the signed difference (actual minus expected).
// An outflow where the bank moved less than expected books a loss, an
// outflow where it moved more books a gain; inflow mirrors.
func (p *DifferenceProfile) CounterAccount(inflow bool, diffSigned decimal.Decimal) (uint, error) {
	if p.DifferenceType == DifferenceFee {
		if p.ExpenseAccountID == nil {
			return 0, fmt.Errorf("FEE profile %d has no expense account", p.ID)
		}
		return *p.ExpenseAccountID, nil
	}
	gain := (!inflow && diffSigned.IsPositive()) || (inflow && diffSigned.IsNegative())
	if gain {
		if p.FXGainAccountID == nil {
			return 0, fmt.Errorf("FX profile %d has no gain account", p.ID)
		}
		return *p.FXGainAccountID, nil
	}
	if p.FXLossAccountID == nil {
		return 0, fmt.Errorf("FX profile %d has no loss account", p.ID)
	}
	return *p.FXLossAccountID, nil
}
