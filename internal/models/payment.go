package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentBatchStatus is the lifecycle state of a payment batch.
type PaymentBatchStatus string

const (
	PaymentBatchDraft     PaymentBatchStatus = "DRAFT"
	PaymentBatchPosted    PaymentBatchStatus = "POSTED"
	PaymentBatchCancelled PaymentBatchStatus = "CANCELLED"
)

// IsValid checks if the batch status is a known value.
func (s PaymentBatchStatus) IsValid() bool {
	return s == PaymentBatchDraft || s == PaymentBatchPosted || s == PaymentBatchCancelled
}

// ExportStatus tracks whether a batch has been handed to the bank.
type ExportStatus string

const (
	ExportNotSubmitted ExportStatus = "NOT_SUBMITTED"
	ExportSubmitted    ExportStatus = "SUBMITTED"
)

// IsValid checks if the export status is a known value.
func (s ExportStatus) IsValid() bool {
	return s == ExportNotSubmitted || s == ExportSubmitted
}

// PaymentBatch groups outgoing payment lines posted as one instruction set.
type PaymentBatch struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	TenantID      uint   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_payment_batches_tenant_no;index:idx_payment_batches_scope"`
	LegalEntityID uint   `json:"legal_entity_id" gorm:"not null;index:idx_payment_batches_scope"`
	BankAccountID uint   `json:"bank_account_id" gorm:"not null;index:idx_payment_batches_scope"`
	BatchNo       string `json:"batch_no" gorm:"size:60;not null;uniqueIndex:ux_payment_batches_tenant_no"`
	Description   string `json:"description" gorm:"size:400"`

	Status       PaymentBatchStatus `json:"status" gorm:"size:20;not null;default:'DRAFT'"`
	CurrencyCode string             `json:"currency_code" gorm:"size:3;not null"`
	TotalAmount  decimal.Decimal    `json:"total_amount" gorm:"type:decimal(24,6);not null"`

	BankReference string `json:"bank_reference" gorm:"size:100"`

	ExportStatus ExportStatus `json:"export_status" gorm:"size:20;not null;default:'NOT_SUBMITTED'"`
	ExportedAt   *time.Time   `json:"exported_at,omitempty"`
	ExportedBy   *uint        `json:"exported_by,omitempty"`

	PostedBy *uint      `json:"posted_by,omitempty"`
	PostedAt *time.Time `json:"posted_at,omitempty"`

	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lines []PaymentLine `json:"lines,omitempty" gorm:"foreignKey:PaymentBatchID"`
}

func (PaymentBatch) TableName() string { return "payment_batches" }

// TextBlob concatenates the searchable batch and line fields the candidate
// scorer tokenizes, upper-cased.
func (b *PaymentBatch) TextBlob() string {
	parts := []string{b.BatchNo, b.Description, b.BankReference}
	for i := range b.Lines {
		l := &b.Lines[i]
		parts = append(parts, l.BankReference, l.ExternalPaymentRef,
			l.BeneficiaryBankRef, l.PayableRef, l.BeneficiaryName)
	}
	return strings.ToUpper(strings.Join(parts, " "))
}

// PaymentLineStatus is the settlement state of one payment line.
type PaymentLineStatus string

const (
	PaymentLinePending   PaymentLineStatus = "PENDING"
	PaymentLineCompleted PaymentLineStatus = "COMPLETED"
	PaymentLineFailed    PaymentLineStatus = "FAILED"
)

// IsValid checks if the line status is a known value.
func (s PaymentLineStatus) IsValid() bool {
	return s == PaymentLinePending || s == PaymentLineCompleted || s == PaymentLineFailed
}

// PaymentReturnStatus tracks money coming back from the bank on a line.
type PaymentReturnStatus string

const (
	ReturnStatusNone              PaymentReturnStatus = "NONE"
	ReturnStatusPartiallyReturned PaymentReturnStatus = "PARTIALLY_RETURNED"
	ReturnStatusReturned          PaymentReturnStatus = "RETURNED"
	ReturnStatusRejectedPostAck   PaymentReturnStatus = "REJECTED_POST_ACK"
)

// IsValid checks if the return status is a known value.
func (s PaymentReturnStatus) IsValid() bool {
	switch s {
	case ReturnStatusNone, ReturnStatusPartiallyReturned,
		ReturnStatusReturned, ReturnStatusRejectedPostAck:
		return true
	}
	return false
}

// BankExecutionStatus mirrors what the bank reported for a line.
type BankExecutionStatus string

const (
	BankExecutionNone              BankExecutionStatus = "NONE"
	BankExecutionExecuted          BankExecutionStatus = "EXECUTED"
	BankExecutionRejected          BankExecutionStatus = "REJECTED"
	BankExecutionReturned          BankExecutionStatus = "RETURNED"
	BankExecutionPartiallyReturned BankExecutionStatus = "PARTIALLY_RETURNED"
)

// IsValid checks if the bank execution status is a known value.
func (s BankExecutionStatus) IsValid() bool {
	switch s {
	case BankExecutionNone, BankExecutionExecuted, BankExecutionRejected,
		BankExecutionReturned, BankExecutionPartiallyReturned:
		return true
	}
	return false
}

// PaymentLine is one beneficiary payment inside a batch.
type PaymentLine struct {
	ID             uint `json:"id" gorm:"primaryKey"`
	TenantID       uint `json:"tenant_id" gorm:"not null"`
	PaymentBatchID uint `json:"payment_batch_id" gorm:"not null;index:idx_payment_lines_batch"`
	LineNo         int  `json:"line_no" gorm:"not null"`

	Status PaymentLineStatus `json:"status" gorm:"size:20;not null;default:'PENDING'"`

	BeneficiaryName    string `json:"beneficiary_name" gorm:"size:200"`
	PayableRef         string `json:"payable_ref" gorm:"size:100"`
	BankReference      string `json:"bank_reference" gorm:"size:100;index:idx_payment_lines_bank_ref"`
	ExternalPaymentRef string `json:"external_payment_ref" gorm:"size:100"`
	BeneficiaryBankRef string `json:"beneficiary_bank_ref" gorm:"size:100"`

	CurrencyCode   string           `json:"currency_code" gorm:"size:3;not null"`
	Amount         decimal.Decimal  `json:"amount" gorm:"type:decimal(24,6);not null"`
	ExportedAmount *decimal.Decimal `json:"exported_amount,omitempty" gorm:"type:decimal(24,6)"`
	ExecutedAmount *decimal.Decimal `json:"executed_amount,omitempty" gorm:"type:decimal(24,6)"`

	ReturnedAmount      decimal.Decimal     `json:"returned_amount" gorm:"type:decimal(24,6);not null;default:0"`
	ReturnStatus        PaymentReturnStatus `json:"return_status" gorm:"size:20;not null;default:'NONE'"`
	BankExecutionStatus BankExecutionStatus `json:"bank_execution_status" gorm:"size:20;not null;default:'NONE'"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PaymentLine) TableName() string { return "payment_lines" }

// ExpectedAmount is the absolute amount the bank was expected to move:
// executed if reported, else exported, else the instructed amount.
func (l *PaymentLine) ExpectedAmount() decimal.Decimal {
	if l.ExecutedAmount != nil && !l.ExecutedAmount.IsZero() {
		return l.ExecutedAmount.Abs()
	}
	if l.ExportedAmount != nil && !l.ExportedAmount.IsZero() {
		return l.ExportedAmount.Abs()
	}
	return l.Amount.Abs()
}

// TextBlob concatenates the searchable line fields, upper-cased. BatchNo is
// appended by callers that have the batch loaded.
func (l *PaymentLine) TextBlob() string {
	return strings.ToUpper(strings.Join([]string{
		l.BankReference, l.ExternalPaymentRef, l.BeneficiaryBankRef,
		l.PayableRef, l.BeneficiaryName,
	}, " "))
}

// ReturnEventType distinguishes a post-acknowledgement rejection from money
// actually flowing back.
type ReturnEventType string

const (
	ReturnEventReturned ReturnEventType = "PAYMENT_RETURNED"
	ReturnEventRejected ReturnEventType = "PAYMENT_REJECTED"
)

// IsValid checks if the event type is a known value.
func (t ReturnEventType) IsValid() bool {
	return t == ReturnEventReturned || t == ReturnEventRejected
}

// PaymentReturnEvent records one return or rejection notice applied to a
// payment line. RequestID is unique per (tenant, legal entity), which is
// what makes replays idempotent.
type PaymentReturnEvent struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	TenantID      uint   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_payment_return_events_request"`
	LegalEntityID uint   `json:"legal_entity_id" gorm:"not null;uniqueIndex:ux_payment_return_events_request"`
	RequestID     string `json:"request_id" gorm:"size:120;not null;uniqueIndex:ux_payment_return_events_request"`

	PaymentBatchID  uint  `json:"payment_batch_id" gorm:"not null"`
	PaymentLineID   uint  `json:"payment_line_id" gorm:"not null;index:idx_payment_return_events_line"`
	StatementLineID *uint `json:"statement_line_id,omitempty"`

	EventType     ReturnEventType `json:"event_type" gorm:"size:30;not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(24,6);not null"`
	BankReference string          `json:"bank_reference" gorm:"size:100"`
	Reason        string          `json:"reason" gorm:"size:400"`

	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (PaymentReturnEvent) TableName() string { return "payment_return_events" }

// Payment batch audit actions.
const (
	BatchAuditStatus       = "STATUS"
	BatchAuditSubmitExport = "SUBMIT_EXPORT"
)

// PaymentBatchAudit is one entry in a batch's audit trail.
type PaymentBatchAudit struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	TenantID       uint      `json:"tenant_id" gorm:"not null"`
	PaymentBatchID uint      `json:"payment_batch_id" gorm:"not null;index:idx_payment_batch_audits_batch"`
	Action         string    `json:"action" gorm:"size:30;not null"`
	FromStatus     string    `json:"from_status" gorm:"size:30"`
	ToStatus       string    `json:"to_status" gorm:"size:30"`
	Note           string    `json:"note" gorm:"size:500"`
	ActorID        uint      `json:"actor_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func (PaymentBatchAudit) TableName() string { return "payment_batch_audits" }
