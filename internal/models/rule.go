package models

import (
	"fmt"
	"strings"
	"time"
)

// RuleStatus is the lifecycle state of a reconciliation rule.
type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "ACTIVE"
	RuleStatusPaused   RuleStatus = "PAUSED"
	RuleStatusDisabled RuleStatus = "DISABLED"
)

// IsValid checks if the rule status is a known value.
func (s RuleStatus) IsValid() bool {
	return s == RuleStatusActive || s == RuleStatusPaused || s == RuleStatusDisabled
}

// ScopeType anchors a rule, template, profile or policy to a slice of the
// tenant's ledger.
type ScopeType string

const (
	ScopeGlobal      ScopeType = "GLOBAL"
	ScopeLegalEntity ScopeType = "LEGAL_ENTITY"
	ScopeBankAccount ScopeType = "BANK_ACCOUNT"
)

// IsValid checks if the scope type is a known value.
func (s ScopeType) IsValid() bool {
	return s == ScopeGlobal || s == ScopeLegalEntity || s == ScopeBankAccount
}

// Rank orders scopes from widest to narrowest; a larger rank wins when
// several policies or rules overlap.
func (s ScopeType) Rank() int {
	switch s {
	case ScopeBankAccount:
		return 3
	case ScopeLegalEntity:
		return 2
	case ScopeGlobal:
		return 1
	}
	return 0
}

// RuleMatchType selects the candidate search a rule runs.
type RuleMatchType string

const (
	MatchPaymentByBankReference RuleMatchType = "PAYMENT_BY_BANK_REFERENCE"
	MatchPaymentByTextAndAmount RuleMatchType = "PAYMENT_BY_TEXT_AND_AMOUNT"
	MatchJournalByTextAndAmount RuleMatchType = "JOURNAL_BY_TEXT_AND_AMOUNT"
	MatchJournalByRefAndAmount  RuleMatchType = "JOURNAL_BY_REFERENCE_AND_AMOUNT"
)

// IsValid checks if the rule match type is a known value.
func (t RuleMatchType) IsValid() bool {
	switch t {
	case MatchPaymentByBankReference, MatchPaymentByTextAndAmount,
		MatchJournalByTextAndAmount, MatchJournalByRefAndAmount:
		return true
	}
	return false
}

// RuleActionType selects the executor a rule fires.
type RuleActionType string

const (
	ActionAutoMatchPaymentBatch    RuleActionType = "AUTO_MATCH_PAYMENT_BATCH"
	ActionAutoMatchPaymentLineDiff RuleActionType = "AUTO_MATCH_PAYMENT_LINE_WITH_DIFFERENCE"
	ActionAutoMatchJournal         RuleActionType = "AUTO_MATCH_JOURNAL"
	ActionAutoPostTemplate         RuleActionType = "AUTO_POST_TEMPLATE"
	ActionProcessPaymentReturn     RuleActionType = "PROCESS_PAYMENT_RETURN"
	ActionQueueException           RuleActionType = "QUEUE_EXCEPTION"
	ActionSuggestOnly              RuleActionType = "SUGGEST_ONLY"
)

// IsValid checks if the rule action type is a known value.
func (t RuleActionType) IsValid() bool {
	switch t {
	case ActionAutoMatchPaymentBatch, ActionAutoMatchPaymentLineDiff,
		ActionAutoMatchJournal, ActionAutoPostTemplate,
		ActionProcessPaymentReturn, ActionQueueException, ActionSuggestOnly:
		return true
	}
	return false
}

// DebitCredit expresses the statement direction a rule accepts.
type DebitCredit string

const (
	DirectionIn  DebitCredit = "IN"
	DirectionOut DebitCredit = "OUT"
)

// ApprovalState tracks whether a governed row's current version has passed
// the approval gate.
type ApprovalState string

const (
	ApprovalStateApproved ApprovalState = "APPROVED"
	ApprovalStatePending  ApprovalState = "PENDING_APPROVAL"
)

// RuleConditions is the fixed condition structure every rule carries. Empty
// slices and zero values mean "not constrained".
type RuleConditions struct {
	ReferenceIncludesAny []string    `json:"referenceIncludesAny,omitempty"`
	TextIncludesAny      []string    `json:"textIncludesAny,omitempty"`
	RequireReference     bool        `json:"requireReference,omitempty"`
	DebitCredit          DebitCredit `json:"debitCredit,omitempty"`
	CurrencyCode         string      `json:"currencyCode,omitempty"`
	AmountTolerance      float64     `json:"amountTolerance,omitempty"`
	DateLagDays          int         `json:"dateLagDays,omitempty"`
}

// Validate checks range constraints on the condition block.
func (c *RuleConditions) Validate() error {
	if c.AmountTolerance < 0 {
		return fmt.Errorf("amountTolerance must be >= 0, got %v", c.AmountTolerance)
	}
	if c.DateLagDays < 0 || c.DateLagDays > 365 {
		return fmt.Errorf("dateLagDays must be within [0,365], got %d", c.DateLagDays)
	}
	if c.DebitCredit != "" && c.DebitCredit != DirectionIn && c.DebitCredit != DirectionOut {
		return fmt.Errorf("debitCredit must be IN or OUT, got %q", c.DebitCredit)
	}
	for _, needle := range c.ReferenceIncludesAny {
		if strings.TrimSpace(needle) == "" {
			return fmt.Errorf("referenceIncludesAny entries cannot be blank")
		}
	}
	for _, needle := range c.TextIncludesAny {
		if strings.TrimSpace(needle) == "" {
			return fmt.Errorf("textIncludesAny entries cannot be blank")
		}
	}
	return nil
}

// RuleActionPayload carries the action-specific parameters of a rule. Which
// fields are required depends on the rule's actionType; ValidateFor enforces
// the pairing.
type RuleActionPayload struct {
	PostingTemplateID   *uint  `json:"postingTemplateId,omitempty"`
	DifferenceProfileID *uint  `json:"differenceProfileId,omitempty"`
	EventType           string `json:"eventType,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

// ValidateFor checks that the payload satisfies the given action type.
func (p *RuleActionPayload) ValidateFor(action RuleActionType) error {
	switch action {
	case ActionAutoPostTemplate:
		if p.PostingTemplateID == nil || *p.PostingTemplateID == 0 {
			return fmt.Errorf("actionPayload.postingTemplateId is required for %s", action)
		}
	case ActionAutoMatchPaymentLineDiff:
		if p.DifferenceProfileID == nil || *p.DifferenceProfileID == 0 {
			return fmt.Errorf("actionPayload.differenceProfileId is required for %s", action)
		}
	case ActionProcessPaymentReturn:
		if p.EventType != "" && p.EventType != string(ReturnEventReturned) && p.EventType != string(ReturnEventRejected) {
			return fmt.Errorf("actionPayload.eventType must be PAYMENT_RETURNED or PAYMENT_REJECTED, got %q", p.EventType)
		}
	}
	return nil
}

// ReconRule is a scoped, priority-ordered predicate plus action describing
// how the engine reacts to a statement line.
type ReconRule struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	TenantID uint   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_recon_rules_tenant_code;index:idx_recon_rules_tenant_status"`
	RuleCode string `json:"rule_code" gorm:"size:60;not null;uniqueIndex:ux_recon_rules_tenant_code"`
	RuleName string `json:"rule_name" gorm:"size:200;not null"`

	Status   RuleStatus `json:"status" gorm:"size:20;not null;default:'ACTIVE';index:idx_recon_rules_tenant_status"`
	Priority int        `json:"priority" gorm:"not null;default:100"`

	ScopeType     ScopeType `json:"scope_type" gorm:"size:20;not null;default:'GLOBAL'"`
	LegalEntityID *uint     `json:"legal_entity_id,omitempty"`
	BankAccountID *uint     `json:"bank_account_id,omitempty"`

	MatchType  RuleMatchType  `json:"match_type" gorm:"size:40;not null"`
	ActionType RuleActionType `json:"action_type" gorm:"size:50;not null"`

	Conditions    RuleConditions    `json:"conditions" gorm:"serializer:json"`
	ActionPayload RuleActionPayload `json:"action_payload" gorm:"serializer:json"`

	StopOnMatch   bool       `json:"stop_on_match" gorm:"not null;default:true"`
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

func (ReconRule) TableName() string { return "bank_reconciliation_rules" }

// AppliesToScope reports whether the rule's scope anchor covers a line in
// the given legal entity and bank account.
func (r *ReconRule) AppliesToScope(legalEntityID, bankAccountID uint) bool {
	switch r.ScopeType {
	case ScopeGlobal:
		return true
	case ScopeLegalEntity:
		return r.LegalEntityID != nil && *r.LegalEntityID == legalEntityID
	case ScopeBankAccount:
		return r.LegalEntityID != nil && *r.LegalEntityID == legalEntityID &&
			r.BankAccountID != nil && *r.BankAccountID == bankAccountID
	}
	return false
}

// EffectiveOn reports whether the rule's effective window covers a date.
// Open sides are unbounded; both bounds are inclusive.
func (r *ReconRule) EffectiveOn(day time.Time) bool {
	return effectiveWindowCovers(r.EffectiveFrom, r.EffectiveTo, day)
}

func effectiveWindowCovers(from, to *time.Time, day time.Time) bool {
	if from != nil && day.Before(truncateToDay(*from)) {
		return false
	}
	if to != nil && day.After(endOfDay(*to)) {
		return false
	}
	return true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
