package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TemplateStatus is the lifecycle state of a posting template.
type TemplateStatus string

const (
	TemplateStatusActive   TemplateStatus = "ACTIVE"
	TemplateStatusPaused   TemplateStatus = "PAUSED"
	TemplateStatusDisabled TemplateStatus = "DISABLED"
)

// IsValid checks if the template status is a known value.
func (s TemplateStatus) IsValid() bool {
	return s == TemplateStatusActive || s == TemplateStatusPaused || s == TemplateStatusDisabled
}

// TemplateDirectionPolicy controls which statement directions a template
// accepts.
type TemplateDirectionPolicy string

const (
	DirectionPolicyInflowOnly  TemplateDirectionPolicy = "INFLOW_ONLY"
	DirectionPolicyOutflowOnly TemplateDirectionPolicy = "OUTFLOW_ONLY"
	DirectionPolicyBoth        TemplateDirectionPolicy = "BOTH"
)

// IsValid checks if the direction policy is a known value.
func (p TemplateDirectionPolicy) IsValid() bool {
	return p == DirectionPolicyInflowOnly || p == DirectionPolicyOutflowOnly || p == DirectionPolicyBoth
}

// Allows reports whether the policy accepts a line with the given sign.
func (p TemplateDirectionPolicy) Allows(inflow bool) bool {
	switch p {
	case DirectionPolicyInflowOnly:
		return inflow
	case DirectionPolicyOutflowOnly:
		return !inflow
	case DirectionPolicyBoth:
		return true
	}
	return false
}

// TemplateTaxMode controls gross/net splitting on auto-posted journals.
type TemplateTaxMode string

const (
	TaxModeNone     TemplateTaxMode = "NONE"
	TaxModeIncluded TemplateTaxMode = "INCLUDED"
)

// IsValid checks if the tax mode is a known value.
func (m TemplateTaxMode) IsValid() bool {
	return m == TaxModeNone || m == TaxModeIncluded
}

// TemplateDescriptionMode controls the journal narration source.
type TemplateDescriptionMode string

const (
	DescriptionUseStatementText TemplateDescriptionMode = "USE_STATEMENT_TEXT"
	DescriptionPrefixed         TemplateDescriptionMode = "PREFIXED"
	DescriptionFixedText        TemplateDescriptionMode = "FIXED_TEXT"
)

// IsValid checks if the description mode is a known value.
func (m TemplateDescriptionMode) IsValid() bool {
	return m == DescriptionUseStatementText || m == DescriptionPrefixed || m == DescriptionFixedText
}

// PostingTemplate describes how an unmatched statement line turns into a
// balanced journal entry: the counter account, optional included tax split,
// the amount band and the narration policy.
type PostingTemplate struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	TenantID     uint   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_posting_templates_tenant_code"`
	TemplateCode string `json:"template_code" gorm:"size:60;not null;uniqueIndex:ux_posting_templates_tenant_code"`
	TemplateName string `json:"template_name" gorm:"size:200;not null"`

	Status TemplateStatus `json:"status" gorm:"size:20;not null;default:'ACTIVE'"`

	ScopeType     ScopeType `json:"scope_type" gorm:"size:20;not null;default:'GLOBAL'"`
	LegalEntityID *uint     `json:"legal_entity_id,omitempty"`
	BankAccountID *uint     `json:"bank_account_id,omitempty"`

	CounterAccountID uint                    `json:"counter_account_id" gorm:"not null"`
	DirectionPolicy  TemplateDirectionPolicy `json:"direction_policy" gorm:"size:20;not null;default:'BOTH'"`

	MinAmountAbs *decimal.Decimal `json:"min_amount_abs,omitempty" gorm:"type:decimal(24,6)"`
	MaxAmountAbs *decimal.Decimal `json:"max_amount_abs,omitempty" gorm:"type:decimal(24,6)"`
	CurrencyCode string           `json:"currency_code" gorm:"size:3"`

	TaxMode      TemplateTaxMode `json:"tax_mode" gorm:"size:20;not null;default:'NONE'"`
	TaxAccountID *uint           `json:"tax_account_id,omitempty"`
	TaxRate      decimal.Decimal `json:"tax_rate" gorm:"type:decimal(9,4);default:0"`

	DescriptionMode   TemplateDescriptionMode `json:"description_mode" gorm:"size:25;not null;default:'USE_STATEMENT_TEXT'"`
	DescriptionPrefix string                  `json:"description_prefix" gorm:"size:100"`
	FixedDescription  string                  `json:"fixed_description" gorm:"size:400"`

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

func (PostingTemplate) TableName() string { return "bank_posting_templates" }

var hundred = decimal.NewFromInt(100)

// Validate checks the template's internal consistency.
func (t *PostingTemplate) Validate() error {
	if t.CounterAccountID == 0 {
		return fmt.Errorf("counterAccountId is required")
	}
	if !t.DirectionPolicy.IsValid() {
		return fmt.Errorf("directionPolicy %q is not valid", t.DirectionPolicy)
	}
	if !t.TaxMode.IsValid() {
		return fmt.Errorf("taxMode %q is not valid", t.TaxMode)
	}
	if t.TaxMode == TaxModeIncluded {
		if t.TaxAccountID == nil || *t.TaxAccountID == 0 {
			return fmt.Errorf("taxAccountId is required when taxMode is INCLUDED")
		}
		if !t.TaxRate.IsPositive() || t.TaxRate.GreaterThanOrEqual(hundred) {
			return fmt.Errorf("taxRate must be within (0,100) when taxMode is INCLUDED, got %s", t.TaxRate)
		}
	}
	if t.MinAmountAbs != nil && t.MinAmountAbs.IsNegative() {
		return fmt.Errorf("minAmountAbs cannot be negative")
	}
	if t.MaxAmountAbs != nil && t.MinAmountAbs != nil && t.MaxAmountAbs.LessThan(*t.MinAmountAbs) {
		return fmt.Errorf("maxAmountAbs %s is below minAmountAbs %s", t.MaxAmountAbs, t.MinAmountAbs)
	}
	if !t.DescriptionMode.IsValid() {
		return fmt.Errorf("descriptionMode %q is not valid", t.DescriptionMode)
	}
	if t.DescriptionMode == DescriptionFixedText && t.FixedDescription == "" {
		return fmt.Errorf("fixedDescription is required when descriptionMode is FIXED_TEXT")
	}
	return nil
}

// AllowsAmount reports whether an absolute amount falls inside the
// template's band. Nil bounds are open.
func (t *PostingTemplate) AllowsAmount(abs decimal.Decimal) bool {
	if t.MinAmountAbs != nil && abs.LessThan(*t.MinAmountAbs) {
		return false
	}
	if t.MaxAmountAbs != nil && abs.GreaterThan(*t.MaxAmountAbs) {
		return false
	}
	return true
}

// EffectiveOn reports whether the template's effective window covers a date.
func (t *PostingTemplate) EffectiveOn(day time.Time) bool {
	return effectiveWindowCovers(t.EffectiveFrom, t.EffectiveTo, day)
}

// AppliesToScope reports whether the template's scope anchor covers a line.
func (t *PostingTemplate) AppliesToScope(legalEntityID, bankAccountID uint) bool {
	switch t.ScopeType {
	case ScopeGlobal:
		return true
	case ScopeLegalEntity:
		return t.LegalEntityID != nil && *t.LegalEntityID == legalEntityID
	case ScopeBankAccount:
		return t.LegalEntityID != nil && *t.LegalEntityID == legalEntityID &&
			t.BankAccountID != nil && *t.BankAccountID == bankAccountID
	}
	return false
}

// Narration resolves the journal text for a statement line under the
// template's description policy.
func (t *PostingTemplate) Narration(line *StatementLine) string {
	switch t.DescriptionMode {
	case DescriptionFixedText:
		return t.FixedDescription
	case DescriptionPrefixed:
		return strings.TrimSpace(t.DescriptionPrefix + " " + line.StatementText())
	default:
		return line.StatementText()
	}
}
