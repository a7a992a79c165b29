package models

import "time"

// ExceptionStatus is the workflow state of a reconciliation exception.
type ExceptionStatus string

const (
	ExceptionOpen     ExceptionStatus = "OPEN"
	ExceptionAssigned ExceptionStatus = "ASSIGNED"
	ExceptionResolved ExceptionStatus = "RESOLVED"
	ExceptionIgnored  ExceptionStatus = "IGNORED"
)

// IsValid checks if the exception status is a known value.
func (s ExceptionStatus) IsValid() bool {
	switch s {
	case ExceptionOpen, ExceptionAssigned, ExceptionResolved, ExceptionIgnored:
		return true
	}
	return false
}

// IsOpenish reports whether the exception still needs attention.
func (s ExceptionStatus) IsOpenish() bool {
	return s == ExceptionOpen || s == ExceptionAssigned
}

// Rank orders statuses for queue listing: open work first, closed last.
func (s ExceptionStatus) Rank() int {
	switch s {
	case ExceptionOpen:
		return 0
	case ExceptionAssigned:
		return 1
	case ExceptionResolved:
		return 2
	case ExceptionIgnored:
		return 3
	}
	return 4
}

// ExceptionSeverity grades how loudly an exception should surface.
type ExceptionSeverity string

const (
	SeverityLow    ExceptionSeverity = "LOW"
	SeverityMedium ExceptionSeverity = "MEDIUM"
	SeverityHigh   ExceptionSeverity = "HIGH"
)

// IsValid checks if the severity is a known value.
func (s ExceptionSeverity) IsValid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// Exception reason codes produced by the engine and the apply loop.
const (
	ReasonNoRuleMatch        = "NO_RULE_MATCH"
	ReasonAmbiguousTarget    = "AMBIGUOUS_TARGET"
	ReasonPolicyBlocked      = "POLICY_BLOCKED"
	ReasonApplyError         = "APPLY_ERROR"
	ReasonRuleQueueException = "RULE_QUEUE_EXCEPTION"
)

// Resolution codes stamped when an exception closes.
const (
	ResolutionReconciled       = "RECONCILED"
	ResolutionResolvedManually = "RESOLVED_MANUALLY"
	ResolutionIgnoredLine      = "IGNORED_LINE"
)

// ExceptionEventType tags entries in an exception's event log.
type ExceptionEventType string

const (
	ExceptionEventCreated  ExceptionEventType = "CREATED"
	ExceptionEventUpdated  ExceptionEventType = "UPDATED"
	ExceptionEventAssigned ExceptionEventType = "ASSIGNED"
	ExceptionEventResolved ExceptionEventType = "RESOLVED"
	ExceptionEventIgnored  ExceptionEventType = "IGNORED"
	ExceptionEventRetried  ExceptionEventType = "RETRIED"
)

// IsValid checks if the event type is a known value.
func (t ExceptionEventType) IsValid() bool {
	switch t {
	case ExceptionEventCreated, ExceptionEventUpdated, ExceptionEventAssigned,
		ExceptionEventResolved, ExceptionEventIgnored, ExceptionEventRetried:
		return true
	}
	return false
}

// ExceptionPayload is the suggestion context captured when the engine queues
// an exception: candidates seen, rule detail, executor error text.
type ExceptionPayload map[string]interface{}

// ReconException is a work item parked on a statement line the automation
// could not settle. At most one OPEN or ASSIGNED exception exists per
// (tenant, legal entity, line); repeated engine hits fold into it as
// UPDATED events with occurrenceCount bumped.
type ReconException struct {
	ID              uint `json:"id" gorm:"primaryKey"`
	TenantID        uint `json:"tenant_id" gorm:"not null;index:idx_recon_exceptions_tenant_status"`
	LegalEntityID   uint `json:"legal_entity_id" gorm:"not null"`
	BankAccountID   uint `json:"bank_account_id" gorm:"not null"`
	StatementLineID uint `json:"statement_line_id" gorm:"not null;index:idx_recon_exceptions_line"`

	Status     ExceptionStatus   `json:"status" gorm:"size:20;not null;default:'OPEN';index:idx_recon_exceptions_tenant_status"`
	StatusRank int               `json:"-" gorm:"not null;default:0;index:idx_recon_exceptions_queue,priority:1"`
	Severity   ExceptionSeverity `json:"severity" gorm:"size:10;not null;default:'MEDIUM'"`
	ReasonCode string            `json:"reason_code" gorm:"size:40;not null"`
	Message    string            `json:"message" gorm:"size:500"`

	MatchedRuleID    *uint            `json:"matched_rule_id,omitempty"`
	SuggestedPayload ExceptionPayload `json:"suggested_payload,omitempty" gorm:"serializer:json"`

	AssignedToUserID *uint `json:"assigned_to_user_id,omitempty"`

	OccurrenceCount int       `json:"occurrence_count" gorm:"not null;default:1"`
	LastSeenAt      time.Time `json:"last_seen_at"`

	ResolutionCode string     `json:"resolution_code" gorm:"size:40"`
	ResolutionNote string     `json:"resolution_note" gorm:"size:500"`
	ResolvedBy     *uint      `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	OverrideApprovalRequestID *uint `json:"override_approval_request_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index:idx_recon_exceptions_queue,priority:2"`
}

func (ReconException) TableName() string { return "bank_reconciliation_exceptions" }

// SyncStatusRank keeps the denormalized queue ordering column in step with
// the status. Callers must invoke it before saving a status change.
func (e *ReconException) SyncStatusRank() {
	e.StatusRank = e.Status.Rank()
}

// ReconExceptionEvent is one entry in an exception's append-only history.
type ReconExceptionEvent struct {
	ID          uint               `json:"id" gorm:"primaryKey"`
	TenantID    uint               `json:"tenant_id" gorm:"not null"`
	ExceptionID uint               `json:"exception_id" gorm:"not null;index:idx_recon_exception_events_exception"`
	EventType   ExceptionEventType `json:"event_type" gorm:"size:20;not null"`
	ActorID     *uint              `json:"actor_id,omitempty"`
	Note        string             `json:"note" gorm:"size:500"`
	Detail      ExceptionPayload   `json:"detail,omitempty" gorm:"serializer:json"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (ReconExceptionEvent) TableName() string { return "bank_reconciliation_exception_events" }
