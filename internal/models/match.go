package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchType distinguishes operator-made matches from rule-made ones.
type MatchType string

const (
	MatchTypeManual   MatchType = "MANUAL"
	MatchTypeAutoRule MatchType = "AUTO_RULE"
)

// MatchedEntityType is the kind of posting a statement line is matched to.
type MatchedEntityType string

const (
	MatchedEntityJournal          MatchedEntityType = "JOURNAL"
	MatchedEntityPaymentBatch     MatchedEntityType = "PAYMENT_BATCH"
	MatchedEntityCashTxn          MatchedEntityType = "CASH_TXN"
	MatchedEntityManualAdjustment MatchedEntityType = "MANUAL_ADJUSTMENT"
)

// IsValid checks if the matched entity type is a known value.
func (t MatchedEntityType) IsValid() bool {
	switch t {
	case MatchedEntityJournal, MatchedEntityPaymentBatch, MatchedEntityCashTxn, MatchedEntityManualAdjustment:
		return true
	}
	return false
}

// MatchStatus is the lifecycle of one match row.
type MatchStatus string

const (
	MatchStatusActive   MatchStatus = "ACTIVE"
	MatchStatusReversed MatchStatus = "REVERSED"
)

// ReconMatch links a statement line to a target posting for a positive
// amount. Matches are reversed, never deleted, so the audit trail is
// reconstructible from the rows alone.
type ReconMatch struct {
	ID              uint `json:"id" gorm:"primaryKey"`
	TenantID        uint `json:"tenant_id" gorm:"not null;index:idx_recon_matches_line"`
	LegalEntityID   uint `json:"legal_entity_id" gorm:"not null"`
	StatementLineID uint `json:"statement_line_id" gorm:"not null;index:idx_recon_matches_line"`

	MatchType         MatchType         `json:"match_type" gorm:"size:20;not null"`
	MatchedEntityType MatchedEntityType `json:"matched_entity_type" gorm:"size:30;not null"`
	MatchedEntityID   uint              `json:"matched_entity_id" gorm:"not null"`
	MatchedAmount     decimal.Decimal   `json:"matched_amount" gorm:"type:decimal(24,6);not null"`

	Status MatchStatus `json:"status" gorm:"size:20;not null;default:'ACTIVE'"`
	Notes  string      `json:"notes" gorm:"size:500"`

	CreatedBy  uint       `json:"created_by"`
	ReversedBy *uint      `json:"reversed_by,omitempty"`
	ReversedAt *time.Time `json:"reversed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (ReconMatch) TableName() string { return "bank_reconciliation_matches" }

// IsActive reports whether the match still contributes to the line's
// matched total.
func (m *ReconMatch) IsActive() bool { return m.Status == MatchStatusActive }
