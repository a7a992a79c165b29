// Package runs orchestrates the automation passes over a tenant's open
// statement lines. A preview evaluates the active rule set and reports what
// would happen; an apply additionally dispatches every ready verdict to its
// executor and queues exceptions for the rest. Each pass persists an
// AutoRun row, and apply passes replay idempotently by run request id.
package runs

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/engine"
	"bank-reconciliation-core/internal/exceptions"
	"bank-reconciliation-core/internal/executors"
	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/recon"
	"bank-reconciliation-core/internal/scope"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// Line selection bounds for one pass.
const (
	defaultLineLimit = 200
	maxLineLimit     = 500
)

// Service runs the preview and apply passes.
type Service struct {
	store *store.Store
	eng   *engine.Engine
	exec  *executors.Service
	recon *recon.Service
	exc   *exceptions.Service
	log   logger.Logger
}

// New builds the run orchestrator.
func New(st *store.Store, eng *engine.Engine, exec *executors.Service, rec *recon.Service, exc *exceptions.Service, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{store: st, eng: eng, exec: exec, recon: rec, exc: exc, log: log.WithComponent("runs")}
}

// Filters narrow one pass to a slice of the tenant's open lines.
// RunRequestID is the apply replay key; preview ignores it.
type Filters struct {
	LegalEntityID *uint
	BankAccountID *uint
	DateFrom      *time.Time
	DateTo        *time.Time
	Limit         int
	RunRequestID  string
}

// Result is one finished or replayed pass.
type Result struct {
	Run    *models.AutoRun
	Replay bool
}

// Preview evaluates the rule set against the in-scope lines without
// touching them and persists the finished run.
func (s *Service) Preview(p *scope.Principal, f Filters) (*Result, error) {
	if err := s.checkFilters(p, &f); err != nil {
		return nil, err
	}
	run := newRun(p, f, models.RunModePreview)
	if err := s.execute(run, p, false); err != nil {
		return nil, s.fail(run, err)
	}
	if err := s.store.SaveRun(run); err != nil {
		return nil, apperrors.StorageError("saving run", err)
	}
	s.logFinished(run)
	return &Result{Run: run}, nil
}

// Apply evaluates and executes. A run request id that already owns a run
// short-circuits to the stored result with Replay set; otherwise the new
// run claims the key before any line is touched.
func (s *Service) Apply(p *scope.Principal, f Filters) (*Result, error) {
	if err := s.checkFilters(p, &f); err != nil {
		return nil, err
	}
	run, claimed, err := s.store.ClaimRun(newRun(p, f, models.RunModeApply))
	if err != nil {
		return nil, apperrors.StorageError("claiming run", err)
	}
	if !claimed {
		s.log.WithFields(logger.Fields{
			"tenant_id":      run.TenantID,
			"run_id":         run.ID,
			"run_request_id": f.RunRequestID,
		}).Info("Apply run replayed from request id")
		return &Result{Run: run, Replay: true}, nil
	}
	if err := s.execute(run, p, true); err != nil {
		return nil, s.fail(run, err)
	}
	if err := s.store.SaveRun(run); err != nil {
		return nil, apperrors.StorageError("saving run", err)
	}
	s.logFinished(run)
	return &Result{Run: run}, nil
}

// Get loads one stored run.
func (s *Service) Get(tenantID, id uint) (*models.AutoRun, error) {
	run, err := s.store.RunByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("auto run", id)
		}
		return nil, apperrors.StorageError("loading run", err)
	}
	return run, nil
}

// List returns the tenant's recent runs, newest first.
func (s *Service) List(tenantID uint, limit int) ([]models.AutoRun, error) {
	rows, err := s.store.ListRuns(tenantID, limit)
	if err != nil {
		return nil, apperrors.StorageError("listing runs", err)
	}
	return rows, nil
}

// checkFilters validates the window and enforces the scope guard: an
// explicit legal entity must be accessible to the caller and an explicit
// bank account must belong to it.
func (s *Service) checkFilters(p *scope.Principal, f *Filters) error {
	if f.Limit < 0 || f.Limit > maxLineLimit {
		return apperrors.ValidationError(apperrors.CodeOutOfRange, "limit", f.Limit)
	}
	if f.Limit == 0 {
		f.Limit = defaultLineLimit
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeOutOfRange,
			"dateTo %s precedes dateFrom %s",
			f.DateTo.Format("2006-01-02"), f.DateFrom.Format("2006-01-02"))
	}
	if f.LegalEntityID != nil {
		if err := p.RequireLegalEntity(*f.LegalEntityID); err != nil {
			return err
		}
	}
	if f.BankAccountID != nil {
		acc, err := s.store.BankAccountByID(p.TenantID, *f.BankAccountID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("bank account", *f.BankAccountID)
			}
			return apperrors.StorageError("loading bank account", err)
		}
		if f.LegalEntityID != nil && acc.LegalEntityID != *f.LegalEntityID {
			return apperrors.ValidationError(apperrors.CodeScopeMismatch, "bankAccountId", *f.BankAccountID)
		}
		if err := p.RequireLegalEntity(acc.LegalEntityID); err != nil {
			return err
		}
	}
	return nil
}

func newRun(p *scope.Principal, f Filters, mode models.RunMode) *models.AutoRun {
	run := &models.AutoRun{
		TenantID:      p.TenantID,
		RunMode:       mode,
		Status:        models.RunStatusRunning,
		LegalEntityID: f.LegalEntityID,
		BankAccountID: f.BankAccountID,
		DateFrom:      f.DateFrom,
		DateTo:        f.DateTo,
		LineLimit:     f.Limit,
		StartedBy:     p.UserID,
		StartedAt:     time.Now(),
	}
	if mode == models.RunModeApply && f.RunRequestID != "" {
		rid := f.RunRequestID
		run.RunRequestID = &rid
	}
	return run
}

// execute walks the in-scope lines in (txnDate, id) order, evaluates each
// one and, in apply mode, dispatches the verdict. Counters, the capped row
// payload and the final status land on the run; persisting it is the
// caller's job.
func (s *Service) execute(run *models.AutoRun, p *scope.Principal, apply bool) error {
	lines, err := s.store.ListLinesForRun(run.TenantID, store.LineFilter{
		LegalEntityID:         run.LegalEntityID,
		BankAccountID:         run.BankAccountID,
		DateFrom:              run.DateFrom,
		DateTo:                run.DateTo,
		Limit:                 run.LineLimit,
		AllowedLegalEntityIDs: p.AllowedLegalEntities(),
	})
	if err != nil {
		return apperrors.StorageError("loading lines for run", err)
	}
	rules, err := s.store.ActiveRules(run.TenantID)
	if err != nil {
		return apperrors.StorageError("loading active rules", err)
	}
	ids := make([]uint, len(lines))
	for i := range lines {
		ids[i] = lines[i].ID
	}
	totals, err := s.store.MatchedTotalsByLine(run.TenantID, ids)
	if err != nil {
		return apperrors.StorageError("loading matched totals", err)
	}

	accounts := make(map[uint]*models.BankAccount)
	suggested := 0
	for i := range lines {
		line := &lines[i]
		remaining := line.AbsAmount().Sub(totals[line.ID])
		out, err := s.eng.Evaluate(engine.LineContext{
			Line:        line,
			Remaining:   remaining,
			BankAccount: s.bankAccount(accounts, run.TenantID, line.BankAccountID),
		}, rules)
		if err != nil {
			return err
		}

		row := outcomeRow(line, out)
		if readyOutcome(out.Code) {
			run.MatchedCount++
		}
		if apply {
			s.dispatch(run, line, remaining, out, &row)
		}
		switch {
		case reconciledOutcome(row.OutcomeCode):
			run.ReconciledCount++
		case exceptionOutcome(row.OutcomeCode):
			run.ExceptionCount++
		case row.OutcomeCode == models.OutcomeSkipped:
			run.SkippedCount++
		case row.OutcomeCode == models.OutcomeSuggestOnly:
			suggested++
		}
		if row.OutcomeCode == models.OutcomeApplyError {
			run.ErrorCount++
		}
		if len(run.Payload.Rows) < models.MaxRunOutcomeRows {
			run.Payload.Rows = append(run.Payload.Rows, row)
		} else {
			run.Payload.Capped = true
		}
	}

	run.ScannedCount = len(lines)
	run.Status = models.RunStatusSuccess
	if apply && (run.ExceptionCount > 0 || suggested > 0) {
		run.Status = models.RunStatusPartial
	}
	run.Payload.Summary = run.Summary()
	now := time.Now()
	run.FinishedAt = &now
	return nil
}

// dispatch executes one verdict and rewrites the row with the applied
// outcome. Executor failures never abort the run: the row converts to
// APPLY_ERROR and the line lands in the exception queue.
func (s *Service) dispatch(run *models.AutoRun, line *models.StatementLine, remaining decimal.Decimal, out *engine.Outcome, row *models.RunOutcomeRow) {
	switch out.Code {
	case models.OutcomeAutoMatchReady:
		cand := out.Candidates[0]
		amount := cand.Amount
		if amount.GreaterThan(remaining) {
			amount = remaining
		}
		_, match, err := s.recon.Match(run.TenantID, line.ID, recon.MatchInput{
			TargetType: cand.EntityType,
			TargetID:   cand.EntityID,
			Amount:     amount,
			MatchType:  models.MatchTypeAutoRule,
			Method:     models.MethodRuleAutoMatch,
			RuleID:     outRuleID(out),
			Notes:      cand.Label,
			ActorID:    run.StartedBy,
		})
		if err != nil {
			s.applyError(run, line, out, row, err)
			return
		}
		row.OutcomeCode = models.OutcomeAutoMatched
		row.MatchID = &match.ID

	case models.OutcomeAutoPostReady:
		res, err := s.exec.AutoPost(run.TenantID, executors.AutoPostInput{
			LineID:     line.ID,
			TemplateID: *out.Rule.ActionPayload.PostingTemplateID,
			RuleID:     outRuleID(out),
			ActorID:    run.StartedBy,
		})
		if err != nil {
			s.applyError(run, line, out, row, err)
			return
		}
		row.OutcomeCode = models.OutcomeAutoPosted
		row.JournalNo = res.Journal.JournalNo
		if res.Match != nil {
			row.MatchID = &res.Match.ID
		}

	case models.OutcomeAutoReturnReady:
		cand := out.Candidates[0]
		res, err := s.exec.ApplyRuleReturn(run.TenantID, executors.RuleReturnInput{
			LineID:        line.ID,
			PaymentLineID: cand.PaymentLineID,
			EventType:     models.ReturnEventType(out.Rule.ActionPayload.EventType),
			Reason:        out.Rule.ActionPayload.Reason,
			RuleID:        outRuleID(out),
			ActorID:       run.StartedBy,
		})
		if err != nil {
			s.applyError(run, line, out, row, err)
			return
		}
		row.OutcomeCode = models.OutcomeReturnProcessed
		if res.Match != nil {
			row.MatchID = &res.Match.ID
		}

	case models.OutcomeAutoDiffReady:
		cand := out.Candidates[0]
		res, err := s.exec.ApplyDifference(run.TenantID, executors.DifferenceInput{
			LineID:        line.ID,
			PaymentLineID: cand.PaymentLineID,
			ProfileID:     *out.Rule.ActionPayload.DifferenceProfileID,
			RuleID:        outRuleID(out),
			ActorID:       run.StartedBy,
		})
		if err != nil {
			s.applyError(run, line, out, row, err)
			return
		}
		row.OutcomeCode = models.OutcomeDifferenceReconcile
		if res.Journal != nil {
			row.JournalNo = res.Journal.JournalNo
		}
		switch {
		case res.DiffMatch != nil:
			row.MatchID = &res.DiffMatch.ID
		case res.PaymentMatch != nil:
			row.MatchID = &res.PaymentMatch.ID
		}

	case models.OutcomeQueueException, models.OutcomeNoRuleMatch,
		models.OutcomeAmbiguousTarget, models.OutcomePolicyBlocked:
		s.queueException(run, line, out, row, out.Code, exceptionMessage(out))
	}
}

// queueException folds a terminal verdict into the exception queue and
// points the row at the resulting work item.
func (s *Service) queueException(run *models.AutoRun, line *models.StatementLine, out *engine.Outcome, row *models.RunOutcomeRow, reason, message string) {
	actor := run.StartedBy
	in := exceptions.UpsertInput{
		Line:       line,
		ReasonCode: reason,
		Message:    message,
		RuleID:     outRuleID(out),
		ActorID:    &actor,
	}
	if cands := out.RunCandidates(); len(cands) > 0 {
		in.Suggested = models.ExceptionPayload{"candidates": cands}
	}
	exc, err := s.exc.Upsert(in)
	if err != nil {
		s.log.WithError(err).WithFields(logger.Fields{
			"tenant_id": run.TenantID,
			"line_id":   line.ID,
		}).Error("Failed to queue exception for line")
		row.Error = err.Error()
		return
	}
	row.ExceptionID = &exc.ID
}

// applyError converts a failed dispatch into an APPLY_ERROR exception. The
// run keeps going; errorCount and the final PARTIAL status carry the news.
func (s *Service) applyError(run *models.AutoRun, line *models.StatementLine, out *engine.Outcome, row *models.RunOutcomeRow, cause error) {
	s.log.WithError(cause).WithFields(logger.Fields{
		"tenant_id": run.TenantID,
		"line_id":   line.ID,
		"verdict":   out.Code,
	}).Warn("Executor failed, queueing line as exception")
	row.OutcomeCode = models.OutcomeApplyError
	row.Error = cause.Error()
	actor := run.StartedBy
	exc, err := s.exc.Upsert(exceptions.UpsertInput{
		Line:       line,
		ReasonCode: models.ReasonApplyError,
		Message:    fmt.Sprintf("%s apply failed: %v", out.Code, cause),
		RuleID:     outRuleID(out),
		ActorID:    &actor,
	})
	if err != nil {
		s.log.WithError(err).WithFields(logger.Fields{
			"tenant_id": run.TenantID,
			"line_id":   line.ID,
		}).Error("Failed to queue exception for line")
		return
	}
	row.ExceptionID = &exc.ID
}

// fail marks the run FAILED and persists what we have. The original cause
// travels back to the caller.
func (s *Service) fail(run *models.AutoRun, cause error) error {
	run.Status = models.RunStatusFailed
	run.ErrorMessage = clip(cause.Error(), 500)
	run.Payload.Summary = run.Summary()
	now := time.Now()
	run.FinishedAt = &now
	if err := s.store.SaveRun(run); err != nil {
		s.log.WithError(err).WithFields(logger.Fields{
			"tenant_id": run.TenantID,
			"run_id":    run.ID,
		}).Error("Failed to persist FAILED run")
	}
	return cause
}

// bankAccount resolves the line's account through a per-run cache. Misses
// are cached as nil; the journal search just loses its GL anchor.
func (s *Service) bankAccount(cache map[uint]*models.BankAccount, tenantID, id uint) *models.BankAccount {
	if acc, ok := cache[id]; ok {
		return acc
	}
	acc, err := s.store.BankAccountByID(tenantID, id)
	if err != nil {
		if !store.IsNotFound(err) {
			s.log.WithError(err).WithFields(logger.Fields{
				"tenant_id":       tenantID,
				"bank_account_id": id,
			}).Warn("Bank account lookup failed during run")
		}
		acc = nil
	}
	cache[id] = acc
	return acc
}

func (s *Service) logFinished(run *models.AutoRun) {
	s.log.WithFields(logger.Fields{
		"tenant_id":  run.TenantID,
		"run_id":     run.ID,
		"mode":       run.RunMode,
		"status":     run.Status,
		"scanned":    run.ScannedCount,
		"reconciled": run.ReconciledCount,
		"exceptions": run.ExceptionCount,
	}).Info("Automation run finished")
}

func outcomeRow(line *models.StatementLine, out *engine.Outcome) models.RunOutcomeRow {
	row := models.RunOutcomeRow{
		StatementLineID: line.ID,
		LineNo:          line.LineNo,
		TxnDate:         line.TxnDate.Format("2006-01-02"),
		Amount:          line.Amount.String(),
		OutcomeCode:     out.Code,
		Detail:          out.Detail,
		Candidates:      out.RunCandidates(),
	}
	if out.Rule != nil {
		row.RuleID = outRuleID(out)
		row.RuleCode = out.Rule.RuleCode
	}
	return row
}

// exceptionMessage picks the queue message for a terminal verdict.
func exceptionMessage(out *engine.Outcome) string {
	if out.Detail != "" {
		return out.Detail
	}
	switch out.Code {
	case models.OutcomeNoRuleMatch:
		return "no rule matched the line"
	case models.OutcomeAmbiguousTarget:
		return "multiple candidates survived"
	case models.OutcomePolicyBlocked:
		return "a rule condition blocked the line"
	default:
		return "a rule queued the line for review"
	}
}

func outRuleID(out *engine.Outcome) *uint {
	if out.Rule == nil {
		return nil
	}
	id := out.Rule.ID
	return &id
}

func readyOutcome(code string) bool {
	switch code {
	case models.OutcomeAutoMatchReady, models.OutcomeAutoPostReady,
		models.OutcomeAutoReturnReady, models.OutcomeAutoDiffReady:
		return true
	}
	return false
}

func reconciledOutcome(code string) bool {
	switch code {
	case models.OutcomeAutoMatched, models.OutcomeAutoPosted,
		models.OutcomeReturnProcessed, models.OutcomeDifferenceReconcile:
		return true
	}
	return false
}

func exceptionOutcome(code string) bool {
	switch code {
	case models.OutcomeNoRuleMatch, models.OutcomeAmbiguousTarget,
		models.OutcomePolicyBlocked, models.OutcomeQueueException,
		models.OutcomeApplyError:
		return true
	}
	return false
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
