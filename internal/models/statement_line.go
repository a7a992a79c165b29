package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconStatus is the derived reconciliation state of a statement line.
type ReconStatus string

const (
	ReconStatusUnmatched ReconStatus = "UNMATCHED"
	ReconStatusPartial   ReconStatus = "PARTIAL"
	ReconStatusMatched   ReconStatus = "MATCHED"
	ReconStatusIgnored   ReconStatus = "IGNORED"
)

// IsValid checks if the reconciliation status is a known value.
func (s ReconStatus) IsValid() bool {
	switch s {
	case ReconStatusUnmatched, ReconStatusPartial, ReconStatusMatched, ReconStatusIgnored:
		return true
	}
	return false
}

func (s ReconStatus) String() string { return string(s) }

// StatementLine is one imported bank-statement row. Lines are created by the
// statement import and never destroyed; reconciliation only mutates their
// derived status and the auto-post / difference links.
type StatementLine struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	TenantID      uint      `json:"tenant_id" gorm:"not null;index:idx_stmt_lines_tenant_status"`
	LegalEntityID uint      `json:"legal_entity_id" gorm:"not null;index"`
	BankAccountID uint      `json:"bank_account_id" gorm:"not null;index"`
	ImportID      uint      `json:"import_id" gorm:"index"`
	LineNo        int       `json:"line_no"`
	TxnDate       time.Time `json:"txn_date" gorm:"not null;index"`
	ValueDate     time.Time `json:"value_date"`

	Description  string          `json:"description" gorm:"size:500"`
	ReferenceNo  string          `json:"reference_no" gorm:"size:200;index"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:decimal(24,6);not null"`
	CurrencyCode string          `json:"currency_code" gorm:"size:3;not null"`
	BalanceAfter decimal.Decimal `json:"balance_after" gorm:"type:decimal(24,6)"`

	ReconStatus ReconStatus `json:"recon_status" gorm:"size:20;not null;default:'UNMATCHED';index:idx_stmt_lines_tenant_status"`

	// Attribution written by the rule engine when a rule reconciles the line.
	ReconciliationMethod string   `json:"reconciliation_method,omitempty" gorm:"size:40"`
	MatchedRuleID        *uint    `json:"matched_rule_id,omitempty"`
	MatchConfidence      *float64 `json:"match_confidence,omitempty"`

	// Links written by the auto-post executor.
	AutoPostTemplateID     *uint `json:"auto_post_template_id,omitempty"`
	AutoPostJournalEntryID *uint `json:"auto_post_journal_entry_id,omitempty"`

	// Links written by the difference executor.
	DifferenceProfileID      *uint            `json:"difference_profile_id,omitempty"`
	DifferenceJournalEntryID *uint            `json:"difference_journal_entry_id,omitempty"`
	DifferenceAmount         *decimal.Decimal `json:"difference_amount,omitempty" gorm:"type:decimal(24,6)"`
	DifferenceType           DifferenceType   `json:"difference_type,omitempty" gorm:"size:10"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StatementLine) TableName() string { return "bank_statement_lines" }

// AbsAmount returns the absolute statement amount.
func (l *StatementLine) AbsAmount() decimal.Decimal {
	return l.Amount.Abs()
}

// Remaining returns the unmatched portion of the line given the sum of its
// ACTIVE matches.
func (l *StatementLine) Remaining(matchedTotal decimal.Decimal) decimal.Decimal {
	return l.AbsAmount().Sub(matchedTotal)
}

// IsInflow reports whether money moved into the bank account.
func (l *StatementLine) IsInflow() bool { return l.Amount.IsPositive() }

// IsOutflow reports whether money moved out of the bank account.
func (l *StatementLine) IsOutflow() bool { return l.Amount.IsNegative() }

// DeriveReconStatus computes the status a line should carry for a given
// matched total. IGNORED is sticky and never produced here; callers guard it.
func DeriveReconStatus(lineAmount, matchedTotal decimal.Decimal) ReconStatus {
	if matchedTotal.LessThanOrEqual(Epsilon) {
		return ReconStatusUnmatched
	}
	remaining := lineAmount.Abs().Sub(matchedTotal).Abs()
	if remaining.LessThanOrEqual(Epsilon) {
		return ReconStatusMatched
	}
	return ReconStatusPartial
}

// StatementText returns the text used for narration fallbacks: the
// description when present, else the bank reference.
func (l *StatementLine) StatementText() string {
	if l.Description != "" {
		return l.Description
	}
	return l.ReferenceNo
}
