// Package exceptions manages the reconciliation exception queue: one work
// item per statement line the automation could not settle, with an
// append-only event log and cursor-paginated listing.
package exceptions

import (
	"fmt"
	"time"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	"bank-reconciliation-core/pkg/cursor"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// Service exposes the exception queue operations.
type Service struct {
	store *store.Store
	log   logger.Logger
}

// New builds the exception queue service.
func New(st *store.Store, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{store: st, log: log.WithComponent("exceptions")}
}

// UpsertInput describes one engine hit to fold into the queue.
type UpsertInput struct {
	Line       *models.StatementLine
	ReasonCode string
	Message    string
	Severity   models.ExceptionSeverity
	RuleID     *uint
	Suggested  models.ExceptionPayload
	ActorID    *uint
}

func defaultSeverity(reasonCode string) models.ExceptionSeverity {
	switch reasonCode {
	case models.ReasonPolicyBlocked, models.ReasonApplyError:
		return models.SeverityHigh
	case models.ReasonNoRuleMatch:
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}

// Upsert records an engine exception for a line. An existing OPEN or
// ASSIGNED exception absorbs the hit: its reason and suggestion refresh,
// occurrenceCount bumps and an UPDATED event lands. Otherwise a fresh OPEN
// row is created. The line row lock serializes concurrent upserts so the
// one-openish-per-line invariant holds without a partial index.
func (s *Service) Upsert(in UpsertInput) (*models.ReconException, error) {
	var out *models.ReconException
	err := s.store.Transaction(func(tx *store.Store) error {
		var err error
		out, err = s.upsertLocked(tx, in)
		return err
	})
	return out, err
}

func (s *Service) upsertLocked(tx *store.Store, in UpsertInput) (*models.ReconException, error) {
	line := in.Line
	if line == nil {
		return nil, apperrors.ValidationError(apperrors.CodeMissingPayload, "line", nil)
	}
	if _, err := tx.LineForUpdate(line.TenantID, line.ID); err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("statement line", line.ID)
		}
		return nil, apperrors.StorageError("locking statement line", err)
	}

	severity := in.Severity
	if severity == "" {
		severity = defaultSeverity(in.ReasonCode)
	}
	now := time.Now()

	existing, err := tx.OpenishExceptionForLine(line.TenantID, line.LegalEntityID, line.ID, true)
	if err != nil {
		return nil, apperrors.StorageError("loading open exception", err)
	}
	if existing != nil {
		existing.ReasonCode = in.ReasonCode
		existing.Message = in.Message
		existing.Severity = severity
		existing.MatchedRuleID = in.RuleID
		existing.SuggestedPayload = in.Suggested
		existing.OccurrenceCount++
		existing.LastSeenAt = now
		existing.SyncStatusRank()
		if err := tx.SaveException(existing); err != nil {
			return nil, apperrors.StorageError("updating exception", err)
		}
		if err := s.appendEvent(tx, existing, models.ExceptionEventUpdated, in.ActorID, in.Message, models.ExceptionPayload{
			"reasonCode":      in.ReasonCode,
			"occurrenceCount": existing.OccurrenceCount,
		}); err != nil {
			return nil, err
		}
		return existing, nil
	}

	exc := &models.ReconException{
		TenantID:         line.TenantID,
		LegalEntityID:    line.LegalEntityID,
		BankAccountID:    line.BankAccountID,
		StatementLineID:  line.ID,
		Status:           models.ExceptionOpen,
		Severity:         severity,
		ReasonCode:       in.ReasonCode,
		Message:          in.Message,
		MatchedRuleID:    in.RuleID,
		SuggestedPayload: in.Suggested,
		OccurrenceCount:  1,
		LastSeenAt:       now,
	}
	exc.SyncStatusRank()
	if err := tx.InsertException(exc); err != nil {
		return nil, apperrors.StorageError("inserting exception", err)
	}
	if err := s.appendEvent(tx, exc, models.ExceptionEventCreated, in.ActorID, in.Message, models.ExceptionPayload{
		"reasonCode": in.ReasonCode,
	}); err != nil {
		return nil, err
	}
	return exc, nil
}

// Get loads one exception with its event history.
func (s *Service) Get(tenantID, id uint) (*models.ReconException, []models.ReconExceptionEvent, error) {
	exc, err := s.store.ExceptionByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil, apperrors.NotFoundError("exception", id)
		}
		return nil, nil, apperrors.StorageError("loading exception", err)
	}
	events, err := s.store.EventsForException(tenantID, id)
	if err != nil {
		return nil, nil, apperrors.StorageError("loading exception events", err)
	}
	return exc, events, nil
}

// List returns a page of the queue plus the cursor for the next page, empty
// when the page was short.
func (s *Service) List(tenantID uint, f store.ExceptionFilter) ([]models.ReconException, string, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	f.Limit = limit
	rows, err := s.store.ListExceptions(tenantID, f)
	if err != nil {
		return nil, "", apperrors.StorageError("listing exceptions", err)
	}
	next := ""
	if len(rows) == limit {
		last := rows[len(rows)-1]
		next = cursor.Encode(cursor.Token{Rank: last.StatusRank, UpdatedAt: last.UpdatedAt, ID: last.ID})
	}
	return rows, next, nil
}

// Assign moves an exception to ASSIGNED for a user, reassigns it, or, with
// a nil assignee, flips it back to OPEN. Closed exceptions reject.
func (s *Service) Assign(tenantID, id uint, assignee *uint, actorID uint) (*models.ReconException, error) {
	var out *models.ReconException
	err := s.store.Transaction(func(tx *store.Store) error {
		exc, err := s.lockException(tx, tenantID, id)
		if err != nil {
			return err
		}
		if !exc.Status.IsOpenish() {
			return apperrors.TransitionError("exception", exc.Status, models.ExceptionAssigned)
		}
		if assignee == nil || *assignee == 0 {
			exc.Status = models.ExceptionOpen
			exc.AssignedToUserID = nil
		} else {
			exc.Status = models.ExceptionAssigned
			exc.AssignedToUserID = assignee
		}
		exc.SyncStatusRank()
		if err := tx.SaveException(exc); err != nil {
			return apperrors.StorageError("saving exception", err)
		}
		detail := models.ExceptionPayload{}
		if assignee != nil {
			detail["assignedToUserId"] = *assignee
		}
		if err := s.appendEvent(tx, exc, models.ExceptionEventAssigned, &actorID, "", detail); err != nil {
			return err
		}
		out = exc
		return nil
	})
	return out, err
}

// ApplyResolve closes an exception as RESOLVED. Callers go through the
// approval gate first when a RECON_EXCEPTION_OVERRIDE policy is active; the
// gate's executor lands here with the approval request pinned.
func (s *Service) ApplyResolve(tenantID, id uint, code, note string, actorID uint, approvalRequestID *uint) (*models.ReconException, error) {
	if code == "" {
		code = models.ResolutionResolvedManually
	}
	return s.close(tenantID, id, models.ExceptionResolved, code, note, actorID, approvalRequestID)
}

// ApplyIgnore closes an exception as IGNORED.
func (s *Service) ApplyIgnore(tenantID, id uint, note string, actorID uint, approvalRequestID *uint) (*models.ReconException, error) {
	return s.close(tenantID, id, models.ExceptionIgnored, models.ResolutionIgnoredLine, note, actorID, approvalRequestID)
}

func (s *Service) close(tenantID, id uint, target models.ExceptionStatus, code, note string, actorID uint, approvalRequestID *uint) (*models.ReconException, error) {
	var out *models.ReconException
	err := s.store.Transaction(func(tx *store.Store) error {
		exc, err := s.lockException(tx, tenantID, id)
		if err != nil {
			return err
		}
		if !exc.Status.IsOpenish() {
			return apperrors.TransitionError("exception", exc.Status, target)
		}
		now := time.Now()
		exc.Status = target
		exc.ResolutionCode = code
		exc.ResolutionNote = note
		exc.ResolvedBy = &actorID
		exc.ResolvedAt = &now
		if approvalRequestID != nil {
			exc.OverrideApprovalRequestID = approvalRequestID
		}
		exc.SyncStatusRank()
		if err := tx.SaveException(exc); err != nil {
			return apperrors.StorageError("saving exception", err)
		}
		eventType := models.ExceptionEventResolved
		if target == models.ExceptionIgnored {
			eventType = models.ExceptionEventIgnored
		}
		detail := models.ExceptionPayload{"resolutionCode": code}
		if err := s.appendEvent(tx, exc, eventType, &actorID, note, detail); err != nil {
			return err
		}
		out = exc
		return nil
	})
	return out, err
}

// Retry reopens an exception for another pass: status back to OPEN,
// assignment and resolution cleared, counters bumped. Returns the underlying
// statement line so callers can re-run the engine against it.
func (s *Service) Retry(tenantID, id uint, note string, actorID uint) (*models.ReconException, *models.StatementLine, error) {
	var (
		out  *models.ReconException
		line *models.StatementLine
	)
	err := s.store.Transaction(func(tx *store.Store) error {
		exc, err := s.lockException(tx, tenantID, id)
		if err != nil {
			return err
		}
		// Reopening a closed exception must not break the one-openish-per-line
		// invariant when another open exception already exists for the line.
		if !exc.Status.IsOpenish() {
			other, err := tx.OpenishExceptionForLine(tenantID, exc.LegalEntityID, exc.StatementLineID, true)
			if err != nil {
				return apperrors.StorageError("checking open exceptions", err)
			}
			if other != nil && other.ID != exc.ID {
				return apperrors.ConflictError(apperrors.CodeDuplicateEntity,
					fmt.Sprintf("statement line %d already has open exception %d", exc.StatementLineID, other.ID))
			}
		}
		exc.Status = models.ExceptionOpen
		exc.AssignedToUserID = nil
		exc.ResolutionCode = ""
		exc.ResolutionNote = ""
		exc.ResolvedBy = nil
		exc.ResolvedAt = nil
		exc.OccurrenceCount++
		exc.LastSeenAt = time.Now()
		exc.SyncStatusRank()
		if err := tx.SaveException(exc); err != nil {
			return apperrors.StorageError("saving exception", err)
		}
		if err := s.appendEvent(tx, exc, models.ExceptionEventRetried, &actorID, note, nil); err != nil {
			return err
		}
		line, err = tx.LineByID(tenantID, exc.StatementLineID)
		if err != nil {
			return apperrors.StorageError("loading statement line", err)
		}
		out = exc
		return nil
	})
	return out, line, err
}

// AutoResolveForLineTx closes every OPEN/ASSIGNED exception of a line with
// resolutionCode RECONCILED. The matching machinery calls it inside its own
// transaction when a line reaches MATCHED.
func (s *Service) AutoResolveForLineTx(tx *store.Store, tenantID, lineID uint, actorID *uint) error {
	open, err := tx.OpenishExceptionsForLine(tenantID, lineID)
	if err != nil {
		return apperrors.StorageError("loading open exceptions", err)
	}
	now := time.Now()
	for i := range open {
		exc := &open[i]
		exc.Status = models.ExceptionResolved
		exc.ResolutionCode = models.ResolutionReconciled
		exc.ResolvedBy = actorID
		exc.ResolvedAt = &now
		exc.SyncStatusRank()
		if err := tx.SaveException(exc); err != nil {
			return apperrors.StorageError("saving exception", err)
		}
		if err := s.appendEvent(tx, exc, models.ExceptionEventResolved, actorID, "", models.ExceptionPayload{
			"resolutionCode": models.ResolutionReconciled,
			"autoResolved":   true,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) lockException(tx *store.Store, tenantID, id uint) (*models.ReconException, error) {
	exc, err := tx.ExceptionForUpdate(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFoundError("exception", id)
		}
		return nil, apperrors.StorageError("locking exception", err)
	}
	return exc, nil
}

func (s *Service) appendEvent(tx *store.Store, exc *models.ReconException, eventType models.ExceptionEventType, actorID *uint, note string, detail models.ExceptionPayload) error {
	ev := &models.ReconExceptionEvent{
		TenantID:    exc.TenantID,
		ExceptionID: exc.ID,
		EventType:   eventType,
		ActorID:     actorID,
		Note:        note,
		Detail:      detail,
	}
	if err := tx.AppendExceptionEvent(ev); err != nil {
		return apperrors.StorageError("appending exception event", err)
	}
	return nil
}
