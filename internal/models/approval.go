package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Module codes the approval gate currently serves.
const (
	ModuleBank    = "BANK"
	ModulePayroll = "PAYROLL"
)

// Gated target types and actions on the BANK side.
const (
	TargetPaymentBatch      = "PAYMENT_BATCH"
	TargetReconRule         = "RECON_RULE"
	TargetPostTemplate      = "POST_TEMPLATE"
	TargetDiffProfile       = "DIFF_PROFILE"
	TargetManualReturn      = "MANUAL_RETURN"
	TargetExceptionOverride = "RECON_EXCEPTION_OVERRIDE"

	ActionCreate       = "CREATE"
	ActionUpdate       = "UPDATE"
	ActionSubmitExport = "SUBMIT_EXPORT"
	ActionResolve      = "RESOLVE"
	ActionIgnore       = "IGNORE"
)

// ApprovalPolicyStatus is the lifecycle state of an approval policy.
type ApprovalPolicyStatus string

const (
	ApprovalPolicyActive   ApprovalPolicyStatus = "ACTIVE"
	ApprovalPolicyDisabled ApprovalPolicyStatus = "DISABLED"
)

// IsValid checks if the policy status is a known value.
func (s ApprovalPolicyStatus) IsValid() bool {
	return s == ApprovalPolicyActive || s == ApprovalPolicyDisabled
}

// ApprovalPolicy declares when an action in a module needs maker-checker
// sign-off. The narrowest scope with the highest threshold wins when several
// policies overlap.
type ApprovalPolicy struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	TenantID uint `json:"tenant_id" gorm:"not null;index:idx_approval_policies_lookup,priority:1"`

	ModuleCode string `json:"module_code" gorm:"size:40;not null;index:idx_approval_policies_lookup,priority:2"`
	TargetType string `json:"target_type" gorm:"size:40;not null;index:idx_approval_policies_lookup,priority:3"`
	ActionType string `json:"action_type" gorm:"size:40;not null;index:idx_approval_policies_lookup,priority:4"`

	Status ApprovalPolicyStatus `json:"status" gorm:"size:20;not null;default:'ACTIVE'"`

	ScopeType ScopeType `json:"scope_type" gorm:"size:20;not null;default:'GLOBAL'"`
	ScopeID   *uint     `json:"scope_id,omitempty"`

	CurrencyCode string           `json:"currency_code" gorm:"size:3"`
	MinAmount    *decimal.Decimal `json:"min_amount,omitempty" gorm:"type:decimal(24,6)"`
	MaxAmount    *decimal.Decimal `json:"max_amount,omitempty" gorm:"type:decimal(24,6)"`

	RequiredApprovals          int    `json:"required_approvals" gorm:"not null;default:1"`
	MakerCheckerRequired       bool   `json:"maker_checker_required" gorm:"not null;default:true"`
	ApproverPermissionCode     string `json:"approver_permission_code" gorm:"size:80"`
	AutoExecuteOnFinalApproval bool   `json:"auto_execute_on_final_approval" gorm:"not null;default:true"`

	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`

	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ApprovalPolicy) TableName() string { return "approval_policies" }

// AppliesToScope reports whether the policy's anchor covers the given
// legal entity and bank account.
func (p *ApprovalPolicy) AppliesToScope(legalEntityID, bankAccountID uint) bool {
	switch p.ScopeType {
	case ScopeGlobal:
		return true
	case ScopeLegalEntity:
		return p.ScopeID != nil && *p.ScopeID == legalEntityID && legalEntityID != 0
	case ScopeBankAccount:
		return p.ScopeID != nil && *p.ScopeID == bankAccountID && bankAccountID != 0
	}
	return false
}

// AppliesToAmount reports whether an absolute amount falls inside the
// policy's band. Nil bounds are open.
func (p *ApprovalPolicy) AppliesToAmount(absAmount decimal.Decimal) bool {
	if p.MinAmount != nil && absAmount.LessThan(*p.MinAmount) {
		return false
	}
	if p.MaxAmount != nil && absAmount.GreaterThan(*p.MaxAmount) {
		return false
	}
	return true
}

// AppliesToCurrency reports whether the policy catches a currency. Blank
// policy currency is a wildcard.
func (p *ApprovalPolicy) AppliesToCurrency(currency string) bool {
	return p.CurrencyCode == "" || p.CurrencyCode == currency
}

// EffectiveOn reports whether the policy's effective window covers a date.
func (p *ApprovalPolicy) EffectiveOn(day time.Time) bool {
	return effectiveWindowCovers(p.EffectiveFrom, p.EffectiveTo, day)
}

// ApprovalRequestStatus is the workflow state of an approval request.
type ApprovalRequestStatus string

const (
	ApprovalPending   ApprovalRequestStatus = "PENDING"
	ApprovalApproved  ApprovalRequestStatus = "APPROVED"
	ApprovalRejected  ApprovalRequestStatus = "REJECTED"
	ApprovalExecuted  ApprovalRequestStatus = "EXECUTED"
	ApprovalFailed    ApprovalRequestStatus = "FAILED"
	ApprovalCancelled ApprovalRequestStatus = "CANCELLED"
)

// IsValid checks if the request status is a known value.
func (s ApprovalRequestStatus) IsValid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected,
		ApprovalExecuted, ApprovalFailed, ApprovalCancelled:
		return true
	}
	return false
}

// AcceptsDecisions reports whether new verdicts may still land.
func (s ApprovalRequestStatus) AcceptsDecisions() bool { return s == ApprovalPending }

// ExecutionStatus tracks the post-approval executor dispatch separately
// from the request workflow.
type ExecutionStatus string

const (
	ExecutionNotExecuted ExecutionStatus = "NOT_EXECUTED"
	ExecutionExecuting   ExecutionStatus = "EXECUTING"
	ExecutionExecuted    ExecutionStatus = "EXECUTED"
	ExecutionFailed      ExecutionStatus = "FAILED"
)

// IsValid checks if the execution status is a known value.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionNotExecuted, ExecutionExecuting, ExecutionExecuted, ExecutionFailed:
		return true
	}
	return false
}

// ApprovalPayload carries JSON context: the action payload the executor
// replays, plus policy and target snapshots frozen at submission.
type ApprovalPayload map[string]interface{}

// ApprovalRequest is one maker-checker case. RequestKey is unique per
// tenant, which makes repeated submissions of the same underlying change
// idempotent.
type ApprovalRequest struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	TenantID uint `json:"tenant_id" gorm:"not null;uniqueIndex:ux_approval_requests_tenant_key;index:idx_approval_requests_tenant_status"`

	ModuleCode  string `json:"module_code" gorm:"size:40;not null"`
	RequestCode string `json:"request_code" gorm:"size:60;not null"`
	RequestKey  string `json:"request_key" gorm:"size:200;not null;uniqueIndex:ux_approval_requests_tenant_key"`

	PolicyID   uint   `json:"policy_id" gorm:"not null"`
	TargetType string `json:"target_type" gorm:"size:40;not null"`
	TargetID   uint   `json:"target_id" gorm:"not null"`
	ActionType string `json:"action_type" gorm:"size:40;not null"`

	RequestStatus   ApprovalRequestStatus `json:"request_status" gorm:"size:20;not null;default:'PENDING';index:idx_approval_requests_tenant_status"`
	ExecutionStatus ExecutionStatus       `json:"execution_status" gorm:"size:20;not null;default:'NOT_EXECUTED'"`

	LegalEntityID *uint `json:"legal_entity_id,omitempty"`
	BankAccountID *uint `json:"bank_account_id,omitempty"`

	ThresholdAmount *decimal.Decimal `json:"threshold_amount,omitempty" gorm:"type:decimal(24,6)"`
	CurrencyCode    string           `json:"currency_code" gorm:"size:3"`

	RequiredApprovals    int  `json:"required_approvals" gorm:"not null;default:1"`
	MakerCheckerRequired bool `json:"maker_checker_required" gorm:"not null;default:true"`
	AutoExecute          bool `json:"auto_execute" gorm:"not null;default:true"`

	PolicySnapshot  ApprovalPayload `json:"policy_snapshot,omitempty" gorm:"serializer:json"`
	ActionPayload   ApprovalPayload `json:"action_payload,omitempty" gorm:"serializer:json"`
	TargetSnapshot  ApprovalPayload `json:"target_snapshot,omitempty" gorm:"serializer:json"`
	ExecutionResult ApprovalPayload `json:"execution_result,omitempty" gorm:"serializer:json"`

	RequestedByUserID uint       `json:"requested_by_user_id" gorm:"not null"`
	RequestedAt       time.Time  `json:"requested_at"`
	DecidedAt         *time.Time `json:"decided_at,omitempty"`
	ExecutedAt        *time.Time `json:"executed_at,omitempty"`
	ExecutionError    string     `json:"execution_error" gorm:"size:500"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ApprovalRequest) TableName() string { return "approval_requests" }

// ApprovalDecisionVerdict is a single checker's call on a request.
type ApprovalDecisionVerdict string

const (
	VerdictApprove ApprovalDecisionVerdict = "APPROVE"
	VerdictReject  ApprovalDecisionVerdict = "REJECT"
)

// IsValid checks if the verdict is a known value.
func (v ApprovalDecisionVerdict) IsValid() bool {
	return v == VerdictApprove || v == VerdictReject
}

// ApprovalDecision records one approver's verdict. The (request, user) pair
// is unique; re-deciding upserts the row.
type ApprovalDecision struct {
	ID        uint                    `json:"id" gorm:"primaryKey"`
	TenantID  uint                    `json:"tenant_id" gorm:"not null"`
	RequestID uint                    `json:"request_id" gorm:"not null;uniqueIndex:ux_approval_decisions_request_user"`
	UserID    uint                    `json:"user_id" gorm:"not null;uniqueIndex:ux_approval_decisions_request_user"`
	Verdict   ApprovalDecisionVerdict `json:"verdict" gorm:"size:10;not null"`
	Comment   string                  `json:"comment" gorm:"size:500"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

func (ApprovalDecision) TableName() string { return "approval_decisions" }
