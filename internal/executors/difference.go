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

// DifferenceInput names the line, payment line and profile a difference
// rule resolved.
type DifferenceInput struct {
	LineID        uint
	PaymentLineID uint
	ProfileID     uint
	RuleID        *uint
	ActorID       uint
}

// DifferenceResult reports what the difference executor did. Journal and
// Adjustment stay nil when the gap was within epsilon and a plain batch
// match sufficed.
type DifferenceResult struct {
	Line         *models.StatementLine
	Adjustment   *models.DifferenceAdjustment
	Journal      *models.JournalEntry
	PaymentMatch *models.ReconMatch
	DiffMatch    *models.ReconMatch
	Reused       bool
}

// ApplyDifference reconciles a statement line against a payment line whose
// expected amount differs by a small FX or fee gap the profile absorbs.
// The payment batch takes a match for the covered part, a BDIFF journal
// books the gap and takes a match for the rest. The adjustment row is the
// idempotency anchor: a line that already carries one reuses its journal.
func (s *Service) ApplyDifference(tenantID uint, in DifferenceInput) (*DifferenceResult, error) {
	profile, err := s.store.ProfileByID(tenantID, in.ProfileID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("difference profile", in.ProfileID)
		}
		return nil, apperrors.StorageError("loading difference profile", err)
	}

	var out DifferenceResult
	err = s.store.Transaction(func(tx *store.Store) error {
		line, err := tx.LineForUpdate(tenantID, in.LineID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("statement line", in.LineID)
			}
			return apperrors.StorageError("locking statement line", err)
		}
		pl, batch, err := s.lockPaymentLine(tx, tenantID, in.PaymentLineID)
		if err != nil {
			return err
		}
		if batch.LegalEntityID != line.LegalEntityID || batch.BankAccountID != line.BankAccountID {
			return apperrors.ValidationError(apperrors.CodeScopeMismatch, "paymentLineId", in.PaymentLineID)
		}
		if batch.CurrencyCode != line.CurrencyCode {
			return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
				"payment batch currency %s does not match line currency %s",
				batch.CurrencyCode, line.CurrencyCode)
		}
		if err := validateProfileForLine(profile, line); err != nil {
			return err
		}

		adj, err := tx.DifferenceAdjustmentForLine(tenantID, line.ID, true)
		if err != nil {
			return apperrors.StorageError("looking up difference adjustment", err)
		}
		if adj != nil {
			return s.reuseAdjustment(tx, &out, line, batch, adj, in)
		}

		matched, err := tx.SumActiveMatched(tenantID, line.ID)
		if err != nil {
			return apperrors.StorageError("summing matches", err)
		}
		actual := models.RoundMoney(line.Remaining(matched))
		if models.WithinEpsilon(actual) {
			out.Line = line
			return nil
		}
		expected := models.RoundMoney(pl.ExpectedAmount())
		diffSigned := actual.Sub(expected)
		diffAbs := diffSigned.Abs()

		if models.WithinEpsilon(diffAbs) {
			matchedLine, match, err := s.recon.MatchTx(tx, tenantID, line.ID, recon.MatchInput{
				TargetType: models.MatchedEntityPaymentBatch,
				TargetID:   batch.ID,
				Amount:     actual,
				MatchType:  models.MatchTypeAutoRule,
				Method:     models.MethodRuleDiffExact,
				RuleID:     in.RuleID,
				Notes:      fmt.Sprintf("exact against payment line %d", pl.ID),
				ActorID:    in.ActorID,
			})
			if err != nil {
				return err
			}
			out.Line = matchedLine
			out.PaymentMatch = match
			return nil
		}

		if !profile.Covers(diffAbs) {
			return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeOutOfRange,
				"difference %s exceeds profile %d cap %s", diffAbs, profile.ID, profile.MaxAbsDifference)
		}
		if !profile.DirectionPolicy.Allows(diffSigned) {
			return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
				"profile %d direction policy %s does not absorb a difference of %s",
				profile.ID, profile.DirectionPolicy, diffSigned)
		}

		paymentMatchAmount := actual.Sub(diffAbs)
		if paymentMatchAmount.IsNegative() {
			paymentMatchAmount = decimal.Zero
		}
		if paymentMatchAmount.GreaterThan(models.Epsilon) {
			existing, err := tx.FindActiveMatchByTarget(tenantID, line.ID, models.MatchedEntityPaymentBatch, batch.ID)
			if err != nil {
				return apperrors.StorageError("looking up batch match", err)
			}
			if existing != nil {
				out.PaymentMatch = existing
			} else {
				matchedLine, match, err := s.recon.MatchTx(tx, tenantID, line.ID, recon.MatchInput{
					TargetType: models.MatchedEntityPaymentBatch,
					TargetID:   batch.ID,
					Amount:     paymentMatchAmount,
					MatchType:  models.MatchTypeAutoRule,
					Method:     models.MethodRuleDiffPay,
					RuleID:     in.RuleID,
					Notes:      fmt.Sprintf("covered part against payment line %d", pl.ID),
					ActorID:    in.ActorID,
				})
				if err != nil {
					return err
				}
				line = matchedLine
				out.PaymentMatch = match
			}
		}

		journal, err := s.postDifferenceJournal(tx, line, profile, diffSigned, in.ActorID)
		if err != nil {
			return err
		}
		adj = &models.DifferenceAdjustment{
			TenantID:            tenantID,
			StatementLineID:     line.ID,
			PaymentBatchID:      batch.ID,
			PaymentLineID:       pl.ID,
			DifferenceProfileID: profile.ID,
			JournalEntryID:      journal.ID,
			Status:              models.JournalPosted,
			DifferenceType:      profile.DifferenceType,
			DifferenceAmount:    expected.Sub(actual),
			ExpectedAmount:      expected,
			ActualAmount:        actual,
			Narration:           truncate(journal.Description, 255),
			CreatedBy:           in.ActorID,
		}
		if err := tx.InsertDifferenceAdjustment(adj); err != nil {
			return apperrors.StorageError("inserting difference adjustment", err)
		}

		diffStored := expected.Sub(actual)
		line.DifferenceProfileID = &profile.ID
		line.DifferenceJournalEntryID = &journal.ID
		line.DifferenceAmount = &diffStored
		line.DifferenceType = profile.DifferenceType
		if err := tx.SaveLine(line); err != nil {
			return apperrors.StorageError("saving statement line", err)
		}

		diffMatchAmount := actual.Sub(paymentMatchAmount)
		diffMatch, _, err := s.recon.ReconcileToJournalTx(tx, line, recon.JournalReconcileInput{
			JournalID: journal.ID,
			Amount:    &diffMatchAmount,
			Method:    models.MethodRuleDiffAdj,
			RuleID:    in.RuleID,
			ActorID:   in.ActorID,
		})
		if err != nil {
			return err
		}
		out.Line = line
		out.Adjustment = adj
		out.Journal = journal
		out.DiffMatch = diffMatch
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := logger.Fields{
		"tenant_id":       tenantID,
		"line_id":         out.Line.ID,
		"payment_line_id": in.PaymentLineID,
		"profile_id":      profile.ID,
		"reused":          out.Reused,
	}
	if out.Journal != nil {
		fields["journal_no"] = out.Journal.JournalNo
	}
	s.log.WithFields(fields).Info("Difference applied")
	return &out, nil
}

// reuseAdjustment serves a replay: the adjustment row pins the journal, so
// only the idempotent reconcile step re-runs.
func (s *Service) reuseAdjustment(tx *store.Store, out *DifferenceResult, line *models.StatementLine, batch *models.PaymentBatch, adj *models.DifferenceAdjustment, in DifferenceInput) error {
	journal, err := tx.JournalByID(line.TenantID, adj.JournalEntryID)
	if err != nil {
		return apperrors.StorageError("loading difference journal", err)
	}
	if journal.Status != models.JournalPosted {
		return apperrors.Newf(apperrors.CategoryConflict, apperrors.CodeReplayDivergence,
			"difference journal %s for line %d is %s, expected POSTED",
			journal.JournalNo, line.ID, journal.Status)
	}
	batchMatch, err := tx.FindActiveMatchByTarget(line.TenantID, line.ID, models.MatchedEntityPaymentBatch, batch.ID)
	if err != nil {
		return apperrors.StorageError("looking up batch match", err)
	}
	diffMatch, _, err := s.recon.ReconcileToJournalTx(tx, line, recon.JournalReconcileInput{
		JournalID: journal.ID,
		Method:    models.MethodRuleDiffAdj,
		RuleID:    in.RuleID,
		ActorID:   in.ActorID,
	})
	if err != nil {
		return err
	}
	out.Line = line
	out.Adjustment = adj
	out.Journal = journal
	out.PaymentMatch = batchMatch
	out.DiffMatch = diffMatch
	out.Reused = true
	return nil
}

// validateProfileForLine checks the profile is allowed to absorb a gap on
// the line: lifecycle, scope, effective window and currency.
func validateProfileForLine(p *models.DifferenceProfile, line *models.StatementLine) error {
	if p.Status != models.DifferenceProfileActive {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"difference profile %d is %s, only ACTIVE profiles apply", p.ID, p.Status)
	}
	if p.ApprovalState != models.ApprovalStateApproved {
		return apperrors.New(apperrors.CategoryGovernance, apperrors.CodePendingApproval,
			fmt.Sprintf("difference profile %d is awaiting approval", p.ID))
	}
	if err := p.Validate(); err != nil {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"difference profile %d: %s", p.ID, err)
	}
	if !p.AppliesToScope(line.LegalEntityID, line.BankAccountID) {
		return apperrors.ValidationError(apperrors.CodeScopeMismatch, "profileId", p.ID)
	}
	if !p.EffectiveOn(line.TxnDate) {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"difference profile %d is not effective on %s", p.ID, line.TxnDate.Format("2006-01-02"))
	}
	if p.CurrencyCode != "" && p.CurrencyCode != line.CurrencyCode {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"difference profile %d currency %s does not match line currency %s",
			p.ID, p.CurrencyCode, line.CurrencyCode)
	}
	return nil
}

// postDifferenceJournal creates (or adopts) the POSTED BDIFF journal that
// books the gap: both legs carry diffAbs, the bank leg debits when the
// bank moved more on an outflow or less on an inflow, and the counter side
// comes from the profile's GL wiring.
func (s *Service) postDifferenceJournal(tx *store.Store, line *models.StatementLine, profile *models.DifferenceProfile, diffSigned decimal.Decimal, actorID uint) (*models.JournalEntry, error) {
	book, period, err := tx.ResolveBookAndPeriod(line.TenantID, line.LegalEntityID, line.TxnDate)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"no open posting book and period for the line")
	}
	journalNo := fmt.Sprintf("BDIFF-%d", line.ID)
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
	counterID, err := profile.CounterAccount(line.IsInflow(), diffSigned)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.CodeInvalidInput,
			"difference profile GL wiring")
	}

	diffAbs := diffSigned.Abs()
	bankDebit := (!line.IsInflow() && diffSigned.IsPositive()) ||
		(line.IsInflow() && diffSigned.IsNegative())
	var legs []models.JournalLine
	if bankDebit {
		legs = append(legs, models.JournalLine{AccountID: account.LedgerAccountID, Debit: diffAbs, Credit: decimal.Zero})
		legs = append(legs, models.JournalLine{AccountID: counterID, Debit: decimal.Zero, Credit: diffAbs})
	} else {
		legs = append(legs, models.JournalLine{AccountID: counterID, Debit: diffAbs, Credit: decimal.Zero})
		legs = append(legs, models.JournalLine{AccountID: account.LedgerAccountID, Debit: decimal.Zero, Credit: diffAbs})
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
		Description:    truncate(differenceNarration(profile, line), 400),
		ReferenceNo:    line.ReferenceNo,
		CurrencyCode:   line.CurrencyCode,
		TotalDebit:     diffAbs,
		TotalCredit:    diffAbs,
		SourceType:     models.JournalSourceBankDifference,
		SourceID:       &line.ID,
		PostedBy:       &actorID,
		PostedAt:       &now,
		CreatedBy:      actorID,
		Lines:          legs,
	}
	if err := journal.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.CodeUnexpectedError,
			"difference journal failed balance validation")
	}
	if err := tx.InsertJournal(journal); err != nil {
		return nil, apperrors.StorageError("inserting journal", err)
	}
	return journal, nil
}

func differenceNarration(profile *models.DifferenceProfile, line *models.StatementLine) string {
	prefix := profile.DescriptionPrefix
	if prefix == "" {
		if profile.DifferenceType == models.DifferenceFee {
			prefix = "Bank fee"
		} else {
			prefix = "FX difference"
		}
	}
	return fmt.Sprintf("%s: %s", prefix, line.StatementText())
}
