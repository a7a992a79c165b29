// Package recon implements the statement-line matching machinery: recording
// and reversing matches, deriving the reconciliation status from the active
// matched total, and the ignore lifecycle. Every mutation runs inside a
// transaction with the line row locked, so the over-match guard and the
// status derivation always see a consistent matched total.
package recon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/exceptions"
	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// Service exposes the matching and status operations.
type Service struct {
	store *store.Store
	exc   *exceptions.Service
	log   logger.Logger
}

// New builds the matching service. The exception service is consulted to
// auto-resolve open exceptions when a line reaches MATCHED.
func New(st *store.Store, exc *exceptions.Service, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{store: st, exc: exc, log: log.WithComponent("recon")}
}

// MatchInput describes one match to record against a line. MatchType and
// Method default to MANUAL when unset; RuleID and Confidence are only
// stamped onto the line when provided.
type MatchInput struct {
	TargetType models.MatchedEntityType
	TargetID   uint
	Amount     decimal.Decimal
	MatchType  models.MatchType
	Method     string
	RuleID     *uint
	Confidence *float64
	Notes      string
	ActorID    uint
}

// Match records an ACTIVE match for a line in its own transaction.
func (s *Service) Match(tenantID, lineID uint, in MatchInput) (*models.StatementLine, *models.ReconMatch, error) {
	var (
		line  *models.StatementLine
		match *models.ReconMatch
	)
	err := s.store.Transaction(func(tx *store.Store) error {
		var err error
		line, match, err = s.MatchTx(tx, tenantID, lineID, in)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return line, match, nil
}

// MatchTx locks the line inside the caller's transaction and records the
// match. Rule executors use it to bundle a match with their other writes.
func (s *Service) MatchTx(tx *store.Store, tenantID, lineID uint, in MatchInput) (*models.StatementLine, *models.ReconMatch, error) {
	line, err := s.lockLine(tx, tenantID, lineID)
	if err != nil {
		return nil, nil, err
	}
	match, err := s.matchLocked(tx, line, in)
	if err != nil {
		return nil, nil, err
	}
	return line, match, nil
}

// matchLocked does the actual work against an already locked line.
func (s *Service) matchLocked(tx *store.Store, line *models.StatementLine, in MatchInput) (*models.ReconMatch, error) {
	if line.ReconStatus == models.ReconStatusIgnored {
		return nil, apperrors.IgnoredLineError(line.ID, "matched")
	}
	if in.MatchType == "" {
		in.MatchType = models.MatchTypeManual
	}
	if in.Method == "" && in.MatchType == models.MatchTypeManual {
		in.Method = models.MethodManual
	}
	if !in.TargetType.IsValid() {
		return nil, apperrors.ValidationError(apperrors.CodeUnknownEnum, "targetType", string(in.TargetType))
	}
	if in.TargetID == 0 {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "targetId", in.TargetID)
	}
	amount := models.RoundMoney(in.Amount)
	if !amount.IsPositive() {
		return nil, apperrors.ValidationError(apperrors.CodeOutOfRange, "amount", in.Amount.String())
	}
	if err := s.verifyTarget(tx, line, in.TargetType, in.TargetID); err != nil {
		return nil, err
	}

	total, err := tx.SumActiveMatched(line.TenantID, line.ID)
	if err != nil {
		return nil, apperrors.StorageError("summing active matches", err)
	}
	newTotal := total.Add(amount)
	if models.ExceedsWithEpsilon(newTotal, line.AbsAmount()) {
		return nil, apperrors.OverMatchError(line.ID,
			fmt.Sprintf("%s matched + %s new > %s line", total.String(), amount.String(), line.AbsAmount().String()))
	}

	match := &models.ReconMatch{
		TenantID:          line.TenantID,
		LegalEntityID:     line.LegalEntityID,
		StatementLineID:   line.ID,
		MatchType:         in.MatchType,
		MatchedEntityType: in.TargetType,
		MatchedEntityID:   in.TargetID,
		MatchedAmount:     amount,
		Status:            models.MatchStatusActive,
		Notes:             in.Notes,
		CreatedBy:         in.ActorID,
	}
	if err := tx.InsertMatch(match); err != nil {
		return nil, apperrors.StorageError("inserting match", err)
	}

	if in.Method != "" {
		line.ReconciliationMethod = in.Method
	}
	if in.RuleID != nil {
		line.MatchedRuleID = in.RuleID
	}
	if in.Confidence != nil {
		line.MatchConfidence = in.Confidence
	}

	prior := line.ReconStatus
	if err := s.refreshStatusLocked(tx, line, newTotal, &in.ActorID); err != nil {
		return nil, err
	}
	if prior != models.ReconStatusMatched && line.ReconStatus == models.ReconStatusMatched {
		if err := s.exc.AutoResolveForLineTx(tx, line.TenantID, line.ID, &in.ActorID); err != nil {
			return nil, err
		}
	}

	if err := s.audit(tx, line, models.AuditMatched, prior, newTotal, &in.ActorID, models.AuditDetail{
		"matchId":    match.ID,
		"targetType": string(in.TargetType),
		"targetId":   in.TargetID,
		"amount":     amount.String(),
	}); err != nil {
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		"tenant_id":    line.TenantID,
		"line_id":      line.ID,
		"match_id":     match.ID,
		"target_type":  in.TargetType,
		"target_id":    in.TargetID,
		"amount":       amount.String(),
		"recon_status": line.ReconStatus,
	}).Info("statement line matched")
	return match, nil
}

// verifyTarget checks the matched entity exists, sits in the line's legal
// entity and is POSTED. Cash transactions and manual adjustments live
// outside this service and are accepted by id alone.
func (s *Service) verifyTarget(tx *store.Store, line *models.StatementLine, targetType models.MatchedEntityType, targetID uint) error {
	switch targetType {
	case models.MatchedEntityJournal:
		j, err := tx.JournalByID(line.TenantID, targetID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("journal entry", targetID)
			}
			return apperrors.StorageError("loading journal entry", err)
		}
		if j.LegalEntityID != line.LegalEntityID {
			return apperrors.ValidationError(apperrors.CodeScopeMismatch, "targetId", targetID)
		}
		if j.Status != models.JournalPosted {
			return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
				"journal entry %d is %s, only POSTED entries can be matched", targetID, j.Status)
		}
	case models.MatchedEntityPaymentBatch:
		b, err := tx.PaymentBatchByID(line.TenantID, targetID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("payment batch", targetID)
			}
			return apperrors.StorageError("loading payment batch", err)
		}
		if b.LegalEntityID != line.LegalEntityID {
			return apperrors.ValidationError(apperrors.CodeScopeMismatch, "targetId", targetID)
		}
		if b.Status != models.PaymentBatchPosted {
			return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
				"payment batch %d is %s, only POSTED batches can be matched", targetID, b.Status)
		}
	case models.MatchedEntityCashTxn, models.MatchedEntityManualAdjustment:
		// Tracked outside this service; the positive-id check above is all
		// that can be enforced here.
	}
	return nil
}

// Unmatch reverses one ACTIVE match, or all of them when matchID is nil,
// then re-derives the status. Reversal never reopens exceptions.
func (s *Service) Unmatch(tenantID, lineID uint, matchID *uint, actorID uint) (*models.StatementLine, []uint, error) {
	var (
		line     *models.StatementLine
		reversed []uint
	)
	err := s.store.Transaction(func(tx *store.Store) error {
		var err error
		line, err = s.lockLine(tx, tenantID, lineID)
		if err != nil {
			return err
		}
		active, err := tx.ActiveMatches(tenantID, lineID)
		if err != nil {
			return apperrors.StorageError("loading active matches", err)
		}
		var targets []*models.ReconMatch
		if matchID == nil {
			for i := range active {
				targets = append(targets, &active[i])
			}
		} else {
			for i := range active {
				if active[i].ID == *matchID {
					targets = append(targets, &active[i])
					break
				}
			}
			if len(targets) == 0 {
				return apperrors.NotFoundError("active match", *matchID)
			}
		}

		now := time.Now()
		for _, m := range targets {
			m.Status = models.MatchStatusReversed
			m.ReversedBy = &actorID
			m.ReversedAt = &now
			if err := tx.SaveMatch(m); err != nil {
				return apperrors.StorageError("reversing match", err)
			}
			reversed = append(reversed, m.ID)
		}
		if len(reversed) == 0 {
			return nil
		}

		total, err := tx.SumActiveMatched(tenantID, lineID)
		if err != nil {
			return apperrors.StorageError("summing active matches", err)
		}
		prior := line.ReconStatus
		if err := s.refreshStatusLocked(tx, line, total, &actorID); err != nil {
			return err
		}
		return s.audit(tx, line, models.AuditUnmatched, prior, total, &actorID, models.AuditDetail{
			"reversedMatchIds": reversed,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return line, reversed, nil
}

// Ignore parks a line: no matches may be recorded against it until it is
// unignored. Lines with active matches must be unmatched first.
func (s *Service) Ignore(tenantID, lineID uint, reason string, actorID uint) (*models.StatementLine, error) {
	var line *models.StatementLine
	err := s.store.Transaction(func(tx *store.Store) error {
		var err error
		line, err = s.lockLine(tx, tenantID, lineID)
		if err != nil {
			return err
		}
		if line.ReconStatus == models.ReconStatusIgnored {
			return apperrors.TransitionError("statement line", line.ReconStatus, models.ReconStatusIgnored)
		}
		active, err := tx.ActiveMatches(tenantID, lineID)
		if err != nil {
			return apperrors.StorageError("loading active matches", err)
		}
		if len(active) > 0 {
			return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidInput,
				"statement line %d has %d active matches, unmatch before ignoring", lineID, len(active)).
				WithSuggestion("Reverse the active matches first, then ignore the line")
		}
		prior := line.ReconStatus
		line.ReconStatus = models.ReconStatusIgnored
		if err := tx.SaveLine(line); err != nil {
			return apperrors.StorageError("saving statement line", err)
		}
		return s.audit(tx, line, models.AuditIgnore, prior, decimal.Zero, &actorID, models.AuditDetail{
			"reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// Unignore lifts an IGNORED line back to the status its active matched
// total implies.
func (s *Service) Unignore(tenantID, lineID uint, reason string, actorID uint) (*models.StatementLine, error) {
	var line *models.StatementLine
	err := s.store.Transaction(func(tx *store.Store) error {
		var err error
		line, err = s.lockLine(tx, tenantID, lineID)
		if err != nil {
			return err
		}
		if line.ReconStatus != models.ReconStatusIgnored {
			return apperrors.TransitionError("statement line", line.ReconStatus, models.ReconStatusUnmatched)
		}
		total, err := tx.SumActiveMatched(tenantID, lineID)
		if err != nil {
			return apperrors.StorageError("summing active matches", err)
		}
		next := models.DeriveReconStatus(line.Amount, total)
		line.ReconStatus = next
		if err := tx.SaveLine(line); err != nil {
			return apperrors.StorageError("saving statement line", err)
		}
		if next == models.ReconStatusMatched {
			if err := s.exc.AutoResolveForLineTx(tx, tenantID, lineID, &actorID); err != nil {
				return err
			}
		}
		return s.audit(tx, line, models.AuditUnignore, models.ReconStatusIgnored, total, &actorID, models.AuditDetail{
			"reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// JournalReconcileInput drives ReconcileToJournalTx. A nil Amount means the
// full remaining amount of the line.
type JournalReconcileInput struct {
	JournalID  uint
	Amount     *decimal.Decimal
	Method     string
	RuleID     *uint
	Confidence *float64
	Notes      string
	ActorID    uint
}

// ReconcileToJournalTx matches a line against a journal entry inside the
// caller's transaction, idempotently: an existing ACTIVE match against the
// same journal is returned as is, and a line with nothing remaining is a
// no-op. Returns the match (nil on the no-op path) and whether it was
// created by this call.
func (s *Service) ReconcileToJournalTx(tx *store.Store, line *models.StatementLine, in JournalReconcileInput) (*models.ReconMatch, bool, error) {
	existing, err := tx.FindActiveMatchByTarget(line.TenantID, line.ID, models.MatchedEntityJournal, in.JournalID)
	if err != nil {
		return nil, false, apperrors.StorageError("looking up journal match", err)
	}
	if existing != nil {
		return existing, false, nil
	}
	total, err := tx.SumActiveMatched(line.TenantID, line.ID)
	if err != nil {
		return nil, false, apperrors.StorageError("summing active matches", err)
	}
	remaining := line.Remaining(total)
	if models.WithinEpsilon(remaining) {
		return nil, false, nil
	}
	amount := remaining
	if in.Amount != nil {
		amount = *in.Amount
	}
	match, err := s.matchLocked(tx, line, MatchInput{
		TargetType: models.MatchedEntityJournal,
		TargetID:   in.JournalID,
		Amount:     amount,
		MatchType:  models.MatchTypeAutoRule,
		Method:     in.Method,
		RuleID:     in.RuleID,
		Confidence: in.Confidence,
		Notes:      in.Notes,
		ActorID:    in.ActorID,
	})
	if err != nil {
		return nil, false, err
	}
	return match, true, nil
}

// refreshStatusLocked re-derives the status from the matched total and
// persists the line. IGNORED is sticky: only unignore leaves it. Status
// transitions leave an AUTO_STATUS audit row.
func (s *Service) refreshStatusLocked(tx *store.Store, line *models.StatementLine, matchedTotal decimal.Decimal, actorID *uint) error {
	prior := line.ReconStatus
	if prior != models.ReconStatusIgnored {
		next := models.DeriveReconStatus(line.Amount, matchedTotal)
		if next != prior {
			line.ReconStatus = next
			if err := s.audit(tx, line, models.AuditAutoStatus, prior, matchedTotal, actorID, nil); err != nil {
				return err
			}
		}
	}
	if err := tx.SaveLine(line); err != nil {
		return apperrors.StorageError("saving statement line", err)
	}
	return nil
}

func (s *Service) audit(tx *store.Store, line *models.StatementLine, action string, from models.ReconStatus, matchedTotal decimal.Decimal, actorID *uint, detail models.AuditDetail) error {
	target := line.AbsAmount()
	row := &models.StatementLineAudit{
		TenantID:        line.TenantID,
		StatementLineID: line.ID,
		Action:          action,
		FromStatus:      from,
		ToStatus:        line.ReconStatus,
		MatchedTotal:    &matchedTotal,
		TargetAmount:    &target,
		Detail:          detail,
		ActorID:         actorID,
	}
	if err := tx.InsertLineAudit(row); err != nil {
		return apperrors.StorageError("inserting line audit", err)
	}
	return nil
}

func (s *Service) lockLine(tx *store.Store, tenantID, lineID uint) (*models.StatementLine, error) {
	line, err := tx.LineForUpdate(tenantID, lineID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("statement line", lineID)
		}
		return nil, apperrors.StorageError("locking statement line", err)
	}
	return line, nil
}
