package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Audit actions recorded against statement lines.
const (
	AuditSuggested  = "SUGGESTED"
	AuditMatched    = "MATCHED"
	AuditUnmatched  = "UNMATCHED"
	AuditIgnore     = "IGNORE"
	AuditUnignore   = "UNIGNORE"
	AuditAutoStatus = "AUTO_STATUS"
)

// Reconciliation methods stamped onto lines and matches.
const (
	MethodManual        = "MANUAL"
	MethodRuleAutoMatch = "RULE_AUTO_MATCH"
	MethodRuleAutoPost  = "RULE_AUTO_POST"
	MethodRuleReturn    = "RULE_RETURN"
	MethodRuleDiffExact = "RULE_DIFF_EXACT"
	MethodRuleDiffPay   = "RULE_DIFF_PAY"
	MethodRuleDiffAdj   = "RULE_DIFF_ADJ"
)

// AuditDetail is the free-form JSON block an audit row carries.
type AuditDetail map[string]interface{}

// StatementLineAudit is one entry in a statement line's audit trail. Every
// status transition emits an AUTO_STATUS row recording the from/to pair and
// the matched-total arithmetic behind it.
type StatementLineAudit struct {
	ID              uint   `json:"id" gorm:"primaryKey"`
	TenantID        uint   `json:"tenant_id" gorm:"not null"`
	StatementLineID uint   `json:"statement_line_id" gorm:"not null;index:idx_statement_line_audits_line"`
	Action          string `json:"action" gorm:"size:20;not null"`

	FromStatus ReconStatus `json:"from_status" gorm:"size:15"`
	ToStatus   ReconStatus `json:"to_status" gorm:"size:15"`

	MatchedTotal *decimal.Decimal `json:"matched_total,omitempty" gorm:"type:decimal(24,6)"`
	TargetAmount *decimal.Decimal `json:"target_amount,omitempty" gorm:"type:decimal(24,6)"`

	Detail  AuditDetail `json:"detail,omitempty" gorm:"serializer:json"`
	ActorID *uint       `json:"actor_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (StatementLineAudit) TableName() string { return "bank_statement_line_audits" }

// AutoPostTrace anchors auto-post idempotency: one row per statement line,
// pointing at the deterministic BAP journal. Re-running the executor finds
// the trace and reuses the journal.
type AutoPostTrace struct {
	ID              uint `json:"id" gorm:"primaryKey"`
	TenantID        uint `json:"tenant_id" gorm:"not null;uniqueIndex:ux_auto_post_traces_line"`
	StatementLineID uint `json:"statement_line_id" gorm:"not null;uniqueIndex:ux_auto_post_traces_line"`

	PostingTemplateID uint `json:"posting_template_id" gorm:"not null"`
	JournalEntryID    uint `json:"journal_entry_id" gorm:"not null"`

	Status       JournalStatus   `json:"status" gorm:"size:15;not null;default:'POSTED'"`
	PostedAmount decimal.Decimal `json:"posted_amount" gorm:"type:decimal(24,6);not null"`

	Payload AuditDetail `json:"payload,omitempty" gorm:"serializer:json"`

	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AutoPostTrace) TableName() string { return "bank_reconciliation_auto_postings" }

// DifferenceAdjustment records one absorbed FX or fee gap: the payment line
// it was measured against, the profile that allowed it and the BDIFF
// journal that books it. One row per statement line.
type DifferenceAdjustment struct {
	ID              uint `json:"id" gorm:"primaryKey"`
	TenantID        uint `json:"tenant_id" gorm:"not null;uniqueIndex:ux_difference_adjustments_line"`
	StatementLineID uint `json:"statement_line_id" gorm:"not null;uniqueIndex:ux_difference_adjustments_line"`

	PaymentBatchID      uint `json:"payment_batch_id" gorm:"not null"`
	PaymentLineID       uint `json:"payment_line_id" gorm:"not null"`
	DifferenceProfileID uint `json:"difference_profile_id" gorm:"not null"`
	JournalEntryID      uint `json:"journal_entry_id" gorm:"not null"`

	Status JournalStatus `json:"status" gorm:"size:15;not null;default:'POSTED'"`

	DifferenceType   DifferenceType  `json:"difference_type" gorm:"size:10;not null"`
	DifferenceAmount decimal.Decimal `json:"difference_amount" gorm:"type:decimal(24,6);not null"`
	ExpectedAmount   decimal.Decimal `json:"expected_amount" gorm:"type:decimal(24,6);not null"`
	ActualAmount     decimal.Decimal `json:"actual_amount" gorm:"type:decimal(24,6);not null"`

	Narration string `json:"narration" gorm:"size:255"`

	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DifferenceAdjustment) TableName() string { return "bank_reconciliation_difference_adjustments" }
