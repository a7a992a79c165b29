package store

import (
	"github.com/pkg/errors"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/pkg/cursor"
)

// ExceptionFilter narrows the exception queue listing.
type ExceptionFilter struct {
	Status                *models.ExceptionStatus
	LegalEntityID         *uint
	BankAccountID         *uint
	ReasonCode            string
	AllowedLegalEntityIDs []uint
	After                 *cursor.Token
	Limit                 int
}

// OpenishExceptionForLine returns the OPEN or ASSIGNED exception of a line,
// or nil. With lock=true the row is selected for update.
func (s *Store) OpenishExceptionForLine(tenantID, legalEntityID, lineID uint, lock bool) (*models.ReconException, error) {
	q := s.db.Where(
		"tenant_id = ? AND legal_entity_id = ? AND statement_line_id = ? AND status IN ?",
		tenantID, legalEntityID, lineID,
		[]models.ExceptionStatus{models.ExceptionOpen, models.ExceptionAssigned},
	)
	if lock {
		q = s.forUpdate(q)
	}
	var e models.ReconException
	err := q.First(&e).Error
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "looking up open exception for line %d", lineID)
	}
	return &e, nil
}

// OpenishExceptionsForLine returns every OPEN/ASSIGNED exception of a line.
// Normally zero or one row; the auto-resolver sweeps them all.
func (s *Store) OpenishExceptionsForLine(tenantID, lineID uint) ([]models.ReconException, error) {
	var rows []models.ReconException
	err := s.db.Where(
		"tenant_id = ? AND statement_line_id = ? AND status IN ?",
		tenantID, lineID,
		[]models.ExceptionStatus{models.ExceptionOpen, models.ExceptionAssigned},
	).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "listing open exceptions for line %d", lineID)
	}
	return rows, nil
}

// ExceptionByID loads one exception.
func (s *Store) ExceptionByID(tenantID, id uint) (*models.ReconException, error) {
	var e models.ReconException
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&e).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading exception %d", id)
	}
	return &e, nil
}

// ExceptionForUpdate loads one exception under a row lock.
func (s *Store) ExceptionForUpdate(tenantID, id uint) (*models.ReconException, error) {
	var e models.ReconException
	err := s.forUpdate(s.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&e).Error
	if err != nil {
		return nil, errors.Wrapf(err, "locking exception %d", id)
	}
	return &e, nil
}

// InsertException creates an exception row.
func (s *Store) InsertException(e *models.ReconException) error {
	e.SyncStatusRank()
	if err := s.db.Create(e).Error; err != nil {
		return errors.Wrap(err, "inserting exception")
	}
	return nil
}

// SaveException persists every column of the exception.
func (s *Store) SaveException(e *models.ReconException) error {
	e.SyncStatusRank()
	if err := s.db.Save(e).Error; err != nil {
		return errors.Wrapf(err, "saving exception %d", e.ID)
	}
	return nil
}

// AppendExceptionEvent adds one row to an exception's event log.
func (s *Store) AppendExceptionEvent(ev *models.ReconExceptionEvent) error {
	if err := s.db.Create(ev).Error; err != nil {
		return errors.Wrap(err, "appending exception event")
	}
	return nil
}

// EventsForException returns an exception's event log, oldest first.
func (s *Store) EventsForException(tenantID, exceptionID uint) ([]models.ReconExceptionEvent, error) {
	var rows []models.ReconExceptionEvent
	err := s.db.Where("tenant_id = ? AND exception_id = ?", tenantID, exceptionID).
		Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "listing events for exception %d", exceptionID)
	}
	return rows, nil
}

// ListExceptions pages through the queue in (statusRank ASC, updatedAt DESC,
// id DESC) order using keyset pagination.
func (s *Store) ListExceptions(tenantID uint, f ExceptionFilter) ([]models.ReconException, error) {
	q := s.db.Where("tenant_id = ?", tenantID)
	if f.AllowedLegalEntityIDs != nil {
		q = q.Where("legal_entity_id IN ?", f.AllowedLegalEntityIDs)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.LegalEntityID != nil {
		q = q.Where("legal_entity_id = ?", *f.LegalEntityID)
	}
	if f.BankAccountID != nil {
		q = q.Where("bank_account_id = ?", *f.BankAccountID)
	}
	if f.ReasonCode != "" {
		q = q.Where("reason_code = ?", f.ReasonCode)
	}
	if f.After != nil {
		q = q.Where(
			"(status_rank > ?) OR (status_rank = ? AND (updated_at < ? OR (updated_at = ? AND id < ?)))",
			f.After.Rank, f.After.Rank, f.After.UpdatedAt, f.After.UpdatedAt, f.After.ID,
		)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var rows []models.ReconException
	err := q.Order("status_rank ASC, updated_at DESC, id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing exceptions")
	}
	return rows, nil
}
