// Package executors implements the actions an auto-run dispatches after the
// rule engine resolves a line: posting a template journal, applying a
// payment return, and absorbing an FX or fee difference. Every executor
// runs in one transaction with the statement line locked, and re-running
// any of them is safe: auto-post and difference anchor on a trace row plus
// a deterministic journal number, returns anchor on the event request id.
package executors

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/recon"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// Service hosts the three rule executors.
type Service struct {
	store *store.Store
	recon *recon.Service
	log   logger.Logger
}

// New builds the executor service on top of the matching service.
func New(st *store.Store, rec *recon.Service, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{store: st, recon: rec, log: log.WithComponent("executors")}
}

// AutoPostInput names the line and template an AUTO_POST rule resolved.
type AutoPostInput struct {
	LineID     uint
	TemplateID uint
	RuleID     *uint
	ActorID    uint
}

// AutoPostResult reports what the auto-post executor did.
type AutoPostResult struct {
	Line    *models.StatementLine
	Journal *models.JournalEntry
	Trace   *models.AutoPostTrace
	Match   *models.ReconMatch
	Reused  bool
}

// AutoPost books a balanced journal for an unexplained statement line from
// a posting template and reconciles the line against it. The journal
// number is BAP-{lineId}; an existing trace row short-circuits the posting
// and only the idempotent reconcile step re-runs.
func (s *Service) AutoPost(tenantID uint, in AutoPostInput) (*AutoPostResult, error) {
	tpl, err := s.store.TemplateByID(tenantID, in.TemplateID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("posting template", in.TemplateID)
		}
		return nil, apperrors.StorageError("loading posting template", err)
	}

	var out AutoPostResult
	err = s.store.Transaction(func(tx *store.Store) error {
		line, err := tx.LineForUpdate(tenantID, in.LineID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("statement line", in.LineID)
			}
			return apperrors.StorageError("locking statement line", err)
		}
		if err := validateTemplateForLine(tpl, line); err != nil {
			return err
		}

		trace, err := tx.AutoPostTraceForLine(tenantID, line.ID, true)
		if err != nil {
			return apperrors.StorageError("looking up auto-post trace", err)
		}

		var journal *models.JournalEntry
		if trace != nil {
			journal, err = tx.JournalByID(tenantID, trace.JournalEntryID)
			if err != nil {
				return apperrors.StorageError("loading auto-post journal", err)
			}
			if journal.Status != models.JournalPosted {
				return apperrors.Newf(apperrors.CategoryConflict, apperrors.CodeReplayDivergence,
					"auto-post journal %s for line %d is %s, expected POSTED",
					journal.JournalNo, line.ID, journal.Status)
			}
			out.Reused = true
		} else {
			journal, err = s.postTemplateJournal(tx, line, tpl, in.ActorID)
			if err != nil {
				return err
			}
			trace = &models.AutoPostTrace{
				TenantID:          tenantID,
				StatementLineID:   line.ID,
				PostingTemplateID: tpl.ID,
				JournalEntryID:    journal.ID,
				Status:            models.JournalPosted,
				PostedAmount:      models.RoundMoney(line.AbsAmount()),
				Payload: models.AuditDetail{
					"taxMode":   tpl.TaxMode,
					"taxRate":   tpl.TaxRate.String(),
					"narration": journal.Description,
				},
				CreatedBy: in.ActorID,
			}
			if err := tx.InsertAutoPostTrace(trace); err != nil {
				return apperrors.StorageError("inserting auto-post trace", err)
			}
			line.AutoPostTemplateID = &tpl.ID
			line.AutoPostJournalEntryID = &journal.ID
			if err := tx.SaveLine(line); err != nil {
				return apperrors.StorageError("saving statement line", err)
			}
		}

		match, _, err := s.recon.ReconcileToJournalTx(tx, line, recon.JournalReconcileInput{
			JournalID: journal.ID,
			Method:    models.MethodRuleAutoPost,
			RuleID:    in.RuleID,
			ActorID:   in.ActorID,
		})
		if err != nil {
			return err
		}
		out.Line = line
		out.Journal = journal
		out.Trace = trace
		out.Match = match
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		"tenant_id":   tenantID,
		"line_id":     out.Line.ID,
		"template_id": tpl.ID,
		"journal_no":  out.Journal.JournalNo,
		"reused":      out.Reused,
	}).Info("Auto-post applied")
	return &out, nil
}

// validateTemplateForLine checks the template is allowed to post for the
// line: lifecycle, scope, effective window, direction, band and currency.
func validateTemplateForLine(tpl *models.PostingTemplate, line *models.StatementLine) error {
	if tpl.Status != models.TemplateStatusActive {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"posting template %d is %s, only ACTIVE templates may post", tpl.ID, tpl.Status)
	}
	if tpl.ApprovalState != models.ApprovalStateApproved {
		return apperrors.New(apperrors.CategoryGovernance, apperrors.CodePendingApproval,
			fmt.Sprintf("posting template %d is awaiting approval", tpl.ID))
	}
	if err := tpl.Validate(); err != nil {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"posting template %d: %s", tpl.ID, err)
	}
	if !tpl.AppliesToScope(line.LegalEntityID, line.BankAccountID) {
		return apperrors.ValidationError(apperrors.CodeScopeMismatch, "templateId", tpl.ID)
	}
	if !tpl.EffectiveOn(line.TxnDate) {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"posting template %d is not effective on %s", tpl.ID, line.TxnDate.Format("2006-01-02"))
	}
	if line.Amount.IsZero() {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"statement line %d has zero amount, nothing to post", line.ID)
	}
	if !tpl.DirectionPolicy.Allows(line.IsInflow()) {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"posting template %d does not allow %s lines", tpl.ID, direction(line))
	}
	if !tpl.AllowsAmount(line.AbsAmount()) {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeOutOfRange,
			"line amount %s is outside template %d amount band", line.AbsAmount(), tpl.ID)
	}
	if tpl.CurrencyCode != "" && tpl.CurrencyCode != line.CurrencyCode {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"posting template %d currency %s does not match line currency %s",
			tpl.ID, tpl.CurrencyCode, line.CurrencyCode)
	}
	return nil
}

// postTemplateJournal creates (or adopts) the POSTED BAP journal for a line.
func (s *Service) postTemplateJournal(tx *store.Store, line *models.StatementLine, tpl *models.PostingTemplate, actorID uint) (*models.JournalEntry, error) {
	book, period, err := tx.ResolveBookAndPeriod(line.TenantID, line.LegalEntityID, line.TxnDate)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"no open posting book and period for the line")
	}
	journalNo := fmt.Sprintf("BAP-%d", line.ID)
	existing, err := tx.JournalByNo(line.TenantID, book.ID, journalNo)
	if err != nil {
		return nil, apperrors.StorageError("looking up journal", err)
	}
	if existing != nil {
		if existing.Status != models.JournalPosted {
			return nil, apperrors.Newf(apperrors.CategoryConflict, apperrors.CodeReplayDivergence,
				"journal %s already exists with status %s", journalNo, existing.Status)
		}
		return existing, nil
	}

	account, err := tx.BankAccountByID(line.TenantID, line.BankAccountID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("bank account", line.BankAccountID)
		}
		return nil, apperrors.StorageError("loading bank account", err)
	}

	totalAbs := models.RoundMoney(line.AbsAmount())
	legs, err := templateLegs(tpl, account.LedgerAccountID, totalAbs, line.IsInflow())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	journal := &models.JournalEntry{
		TenantID:       line.TenantID,
		LegalEntityID:  line.LegalEntityID,
		LedgerBookID:   book.ID,
		FiscalPeriodID: period.ID,
		JournalNo:      journalNo,
		JournalDate:    line.TxnDate,
		Status:         models.JournalPosted,
		Description:    truncate(tpl.Narration(line), 400),
		ReferenceNo:    line.ReferenceNo,
		CurrencyCode:   line.CurrencyCode,
		TotalDebit:     totalAbs,
		TotalCredit:    totalAbs,
		SourceType:     models.JournalSourceBankAutoPost,
		SourceID:       &line.ID,
		PostedBy:       &actorID,
		PostedAt:       &now,
		CreatedBy:      actorID,
		Lines:          legs,
	}
	if err := journal.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.CodeUnexpectedError,
			"auto-post journal failed balance validation")
	}
	if err := tx.InsertJournal(journal); err != nil {
		return nil, apperrors.StorageError("inserting journal", err)
	}
	return journal, nil
}

// templateLegs builds the balanced journal lines: two legs without tax,
// three with an included-tax split. Direction follows the statement sign.
func templateLegs(tpl *models.PostingTemplate, bankAccountGL uint, totalAbs decimal.Decimal, inflow bool) ([]models.JournalLine, error) {
	counter := totalAbs
	tax := decimal.Zero
	if tpl.TaxMode == models.TaxModeIncluded {
		divisor := decimal.NewFromInt(1).Add(tpl.TaxRate.Div(decimal.NewFromInt(100)))
		counter = models.RoundMoney(totalAbs.Div(divisor))
		tax = totalAbs.Sub(counter)
		if !counter.IsPositive() || !tax.IsPositive() {
			return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeOutOfRange,
				"included-tax split of %s at %s%% collapses to base %s and tax %s",
				totalAbs, tpl.TaxRate, counter, tax)
		}
	}

	var legs []models.JournalLine
	if inflow {
		legs = append(legs, models.JournalLine{AccountID: bankAccountGL, Debit: totalAbs, Credit: decimal.Zero})
		legs = append(legs, models.JournalLine{AccountID: tpl.CounterAccountID, Debit: decimal.Zero, Credit: counter})
		if tax.IsPositive() {
			legs = append(legs, models.JournalLine{AccountID: *tpl.TaxAccountID, Debit: decimal.Zero, Credit: tax})
		}
		return legs, nil
	}
	legs = append(legs, models.JournalLine{AccountID: tpl.CounterAccountID, Debit: counter, Credit: decimal.Zero})
	if tax.IsPositive() {
		legs = append(legs, models.JournalLine{AccountID: *tpl.TaxAccountID, Debit: tax, Credit: decimal.Zero})
	}
	legs = append(legs, models.JournalLine{AccountID: bankAccountGL, Debit: decimal.Zero, Credit: totalAbs})
	return legs, nil
}

func direction(line *models.StatementLine) string {
	if line.IsInflow() {
		return "inflow"
	}
	return "outflow"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
