package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerBook is the posting book journals land in. Each legal entity has
// exactly one primary book.
type LedgerBook struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	TenantID      uint      `json:"tenant_id" gorm:"not null;index:idx_ledger_books_tenant_entity"`
	LegalEntityID uint      `json:"legal_entity_id" gorm:"not null;index:idx_ledger_books_tenant_entity"`
	BookCode      string    `json:"book_code" gorm:"size:30;not null"`
	BookName      string    `json:"book_name" gorm:"size:200"`
	IsPrimary     bool      `json:"is_primary" gorm:"not null;default:false"`
	CurrencyCode  string    `json:"currency_code" gorm:"size:3"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (LedgerBook) TableName() string { return "ledger_books" }

// FiscalPeriod is a calendar slice journals are dated into.
type FiscalPeriod struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	TenantID   uint      `json:"tenant_id" gorm:"not null;index:idx_fiscal_periods_tenant"`
	PeriodCode string    `json:"period_code" gorm:"size:20;not null"`
	StartDate  time.Time `json:"start_date" gorm:"not null"`
	EndDate    time.Time `json:"end_date" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (FiscalPeriod) TableName() string { return "fiscal_periods" }

// Contains reports whether a date falls inside the period, bounds inclusive.
func (p *FiscalPeriod) Contains(day time.Time) bool {
	d := truncateToDay(day)
	return !d.Before(truncateToDay(p.StartDate)) && !d.After(truncateToDay(p.EndDate))
}

// PeriodStatus is the open/closed state of a book-period pair.
type PeriodStatus string

const (
	PeriodOpen   PeriodStatus = "OPEN"
	PeriodClosed PeriodStatus = "CLOSED"
	PeriodLocked PeriodStatus = "LOCKED"
)

// IsValid checks if the period status is a known value.
func (s PeriodStatus) IsValid() bool {
	return s == PeriodOpen || s == PeriodClosed || s == PeriodLocked
}

// AcceptsPostings reports whether new journals may land in the period.
func (s PeriodStatus) AcceptsPostings() bool { return s == PeriodOpen }

// BookPeriodStatus pins a fiscal period's state per ledger book.
type BookPeriodStatus struct {
	ID             uint         `json:"id" gorm:"primaryKey"`
	TenantID       uint         `json:"tenant_id" gorm:"not null"`
	LedgerBookID   uint         `json:"ledger_book_id" gorm:"not null;uniqueIndex:ux_book_period_statuses"`
	FiscalPeriodID uint         `json:"fiscal_period_id" gorm:"not null;uniqueIndex:ux_book_period_statuses"`
	Status         PeriodStatus `json:"status" gorm:"size:10;not null;default:'OPEN'"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (BookPeriodStatus) TableName() string { return "book_period_statuses" }

// JournalStatus is the posting state of a journal entry.
type JournalStatus string

const (
	JournalDraft    JournalStatus = "DRAFT"
	JournalPosted   JournalStatus = "POSTED"
	JournalReversed JournalStatus = "REVERSED"
)

// IsValid checks if the journal status is a known value.
func (s JournalStatus) IsValid() bool {
	return s == JournalDraft || s == JournalPosted || s == JournalReversed
}

// Journal source types stamped by the automation executors.
const (
	JournalSourceBankAutoPost   = "BANK_AUTO_POST"
	JournalSourceBankDifference = "BANK_DIFFERENCE"
	JournalSourceManual         = "MANUAL"
)

// JournalEntry is a balanced accounting document. JournalNo is unique per
// (tenant, book) which is what makes executor retries idempotent.
type JournalEntry struct {
	ID             uint   `json:"id" gorm:"primaryKey"`
	TenantID       uint   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_journal_entries_tenant_book_no;index:idx_journal_entries_tenant_entity"`
	LegalEntityID  uint   `json:"legal_entity_id" gorm:"not null;index:idx_journal_entries_tenant_entity"`
	LedgerBookID   uint   `json:"ledger_book_id" gorm:"not null;uniqueIndex:ux_journal_entries_tenant_book_no"`
	FiscalPeriodID uint   `json:"fiscal_period_id" gorm:"not null"`
	JournalNo      string `json:"journal_no" gorm:"size:60;not null;uniqueIndex:ux_journal_entries_tenant_book_no"`

	JournalDate time.Time     `json:"journal_date" gorm:"not null"`
	Status      JournalStatus `json:"status" gorm:"size:15;not null;default:'DRAFT'"`
	Description string        `json:"description" gorm:"size:400"`
	ReferenceNo string        `json:"reference_no" gorm:"size:100;index:idx_journal_entries_reference"`

	CurrencyCode string          `json:"currency_code" gorm:"size:3"`
	TotalDebit   decimal.Decimal `json:"total_debit" gorm:"type:decimal(24,6);not null"`
	TotalCredit  decimal.Decimal `json:"total_credit" gorm:"type:decimal(24,6);not null"`

	SourceType string `json:"source_type" gorm:"size:30;index:idx_journal_entries_source"`
	SourceID   *uint  `json:"source_id,omitempty" gorm:"index:idx_journal_entries_source"`

	PostedBy  *uint      `json:"posted_by,omitempty"`
	PostedAt  *time.Time `json:"posted_at,omitempty"`
	CreatedBy uint       `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Lines []JournalLine `json:"lines,omitempty" gorm:"foreignKey:JournalEntryID"`
}

func (JournalEntry) TableName() string { return "journal_entries" }

// Validate checks the journal is balanced and has at least two lines.
func (j *JournalEntry) Validate() error {
	if len(j.Lines) < 2 {
		return fmt.Errorf("journal needs at least two lines, got %d", len(j.Lines))
	}
	debit := decimal.Zero
	credit := decimal.Zero
	for i := range j.Lines {
		l := &j.Lines[i]
		if l.AccountID == 0 {
			return fmt.Errorf("journal line %d is missing an account", i+1)
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return fmt.Errorf("journal line %d carries a negative side", i+1)
		}
		if l.Debit.IsPositive() && l.Credit.IsPositive() {
			return fmt.Errorf("journal line %d has both debit and credit", i+1)
		}
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	if !AmountsEqual(debit, credit) {
		return fmt.Errorf("journal is unbalanced: debit %s vs credit %s", debit, credit)
	}
	return nil
}

// JournalLine is one debit or credit leg of a journal entry.
type JournalLine struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	TenantID       uint            `json:"tenant_id" gorm:"not null"`
	JournalEntryID uint            `json:"journal_entry_id" gorm:"not null;index:idx_journal_lines_entry"`
	LineNo         int             `json:"line_no" gorm:"not null"`
	AccountID      uint            `json:"account_id" gorm:"not null;index:idx_journal_lines_account"`
	Description    string          `json:"description" gorm:"size:400"`
	Debit          decimal.Decimal `json:"debit" gorm:"type:decimal(24,6);not null"`
	Credit         decimal.Decimal `json:"credit" gorm:"type:decimal(24,6);not null"`
	TaxCodeID      *uint           `json:"tax_code_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (JournalLine) TableName() string { return "journal_lines" }

// BankAccount carries the ledger wiring of one physical bank account.
type BankAccount struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	TenantID        uint      `json:"tenant_id" gorm:"not null;index:idx_bank_accounts_tenant_entity"`
	LegalEntityID   uint      `json:"legal_entity_id" gorm:"not null;index:idx_bank_accounts_tenant_entity"`
	AccountCode     string    `json:"account_code" gorm:"size:60;not null"`
	AccountName     string    `json:"account_name" gorm:"size:200"`
	BankName        string    `json:"bank_name" gorm:"size:200"`
	AccountNumber   string    `json:"account_number" gorm:"size:60"`
	CurrencyCode    string    `json:"currency_code" gorm:"size:3;not null"`
	LedgerAccountID uint      `json:"ledger_account_id" gorm:"not null"`
	IsActive        bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (BankAccount) TableName() string { return "bank_accounts" }
