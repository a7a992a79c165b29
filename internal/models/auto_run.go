package models

import "time"

// RunMode selects whether an automation run only reports or also applies.
type RunMode string

const (
	RunModePreview RunMode = "PREVIEW"
	RunModeApply   RunMode = "APPLY"
)

// IsValid checks if the run mode is a known value.
func (m RunMode) IsValid() bool {
	return m == RunModePreview || m == RunModeApply
}

// RunStatus is the lifecycle state of an automation run. RUNNING is a
// transient claim held while the run executes; the terminal states are
// SUCCESS (everything reconciled or suggested nothing), PARTIAL (exceptions
// or suggestions remain) and FAILED (the run itself aborted).
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusPartial RunStatus = "PARTIAL"
	RunStatusFailed  RunStatus = "FAILED"
)

// IsValid checks if the run status is a known value.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusSuccess, RunStatusPartial, RunStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool { return s != RunStatusRunning }

// Engine outcome codes. Preview rows carry *_READY codes; apply rewrites
// them to the applied code or APPLY_ERROR.
const (
	OutcomeAutoMatchReady  = "AUTO_MATCH_READY"
	OutcomeAutoPostReady   = "AUTO_POST_READY"
	OutcomeAutoReturnReady = "AUTO_RETURN_READY"
	OutcomeAutoDiffReady   = "AUTO_DIFF_READY"
	OutcomeSuggestOnly     = "SUGGEST_ONLY"
	OutcomeAmbiguousTarget = "AMBIGUOUS_TARGET"
	OutcomePolicyBlocked   = "POLICY_BLOCKED"
	OutcomeQueueException  = "RULE_QUEUE_EXCEPTION"
	OutcomeNoRuleMatch     = "NO_RULE_MATCH"
	OutcomeSkipped         = "SKIPPED"

	OutcomeAutoMatched         = "AUTO_MATCHED"
	OutcomeAutoPosted          = "AUTO_POSTED_RECONCILED"
	OutcomeReturnProcessed     = "RETURN_PROCESSED_RECONCILED"
	OutcomeDifferenceReconcile = "DIFFERENCE_RECONCILED"
	OutcomeApplyError          = "APPLY_ERROR"
)

// MaxRunOutcomeRows caps the per-line detail echoed back in a run payload.
// Counters always cover every processed line.
const MaxRunOutcomeRows = 200

// RunCandidate is one scored match candidate echoed in a run outcome row.
type RunCandidate struct {
	EntityType MatchedEntityType `json:"entityType"`
	EntityID   uint              `json:"entityId"`
	Label      string            `json:"label,omitempty"`
	Amount     string            `json:"amount,omitempty"`
	Score      int               `json:"score"`
}

// RunOutcomeRow is the per-line result recorded in a run's payload.
type RunOutcomeRow struct {
	StatementLineID uint           `json:"statementLineId"`
	LineNo          int            `json:"lineNo,omitempty"`
	TxnDate         string         `json:"txnDate,omitempty"`
	Amount          string         `json:"amount,omitempty"`
	OutcomeCode     string         `json:"outcomeCode"`
	RuleID          *uint          `json:"ruleId,omitempty"`
	RuleCode        string         `json:"ruleCode,omitempty"`
	Detail          string         `json:"detail,omitempty"`
	Candidates      []RunCandidate `json:"candidates,omitempty"`
	MatchID         *uint          `json:"matchId,omitempty"`
	JournalNo       string         `json:"journalNo,omitempty"`
	ExceptionID     *uint          `json:"exceptionId,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// RunSummary is the counter block of a run payload.
type RunSummary struct {
	ScannedCount    int `json:"scannedCount"`
	MatchedCount    int `json:"matchedCount"`
	ReconciledCount int `json:"reconciledCount"`
	ExceptionCount  int `json:"exceptionCount"`
	SkippedCount    int `json:"skippedCount"`
	ErrorCount      int `json:"errorCount"`
}

// RunPayload is the JSON body persisted with a run: the summary plus at
// most MaxRunOutcomeRows detail rows.
type RunPayload struct {
	Summary RunSummary      `json:"summary"`
	Rows    []RunOutcomeRow `json:"rows"`
	Capped  bool            `json:"capped,omitempty"`
}

// AutoRun is one recorded automation run. The (tenant, runRequestId) pair is
// unique so a retried request replays the stored result instead of running
// twice.
type AutoRun struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	TenantID uint `json:"tenant_id" gorm:"not null;uniqueIndex:ux_auto_runs_tenant_request;index:idx_auto_runs_tenant_account"`

	RunRequestID *string `json:"run_request_id,omitempty" gorm:"size:100;uniqueIndex:ux_auto_runs_tenant_request"`

	RunMode RunMode   `json:"run_mode" gorm:"size:10;not null"`
	Status  RunStatus `json:"status" gorm:"size:20;not null;default:'RUNNING'"`

	LegalEntityID *uint      `json:"legal_entity_id,omitempty"`
	BankAccountID *uint      `json:"bank_account_id,omitempty" gorm:"index:idx_auto_runs_tenant_account"`
	DateFrom      *time.Time `json:"date_from,omitempty"`
	DateTo        *time.Time `json:"date_to,omitempty"`
	LineLimit     int        `json:"line_limit" gorm:"not null;default:200"`

	ScannedCount    int `json:"scanned_count" gorm:"not null;default:0"`
	MatchedCount    int `json:"matched_count" gorm:"not null;default:0"`
	ReconciledCount int `json:"reconciled_count" gorm:"not null;default:0"`
	ExceptionCount  int `json:"exception_count" gorm:"not null;default:0"`
	SkippedCount    int `json:"skipped_count" gorm:"not null;default:0"`
	ErrorCount      int `json:"error_count" gorm:"not null;default:0"`

	Payload RunPayload `json:"payload" gorm:"serializer:json"`

	ErrorMessage string `json:"error_message" gorm:"size:500"`

	StartedBy  uint       `json:"started_by"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AutoRun) TableName() string { return "bank_reconciliation_auto_runs" }

// Summary rebuilds the counter block from the persisted columns.
func (r *AutoRun) Summary() RunSummary {
	return RunSummary{
		ScannedCount:    r.ScannedCount,
		MatchedCount:    r.MatchedCount,
		ReconciledCount: r.ReconciledCount,
		ExceptionCount:  r.ExceptionCount,
		SkippedCount:    r.SkippedCount,
		ErrorCount:      r.ErrorCount,
	}
}
