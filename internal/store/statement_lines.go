package store

import (
	"time"

	"github.com/pkg/errors"

	"bank-reconciliation-core/internal/models"
)

// LineFilter narrows the statement lines an automation run scans.
// AllowedLegalEntityIDs nil means the caller may see every legal entity.
type LineFilter struct {
	LegalEntityID         *uint
	BankAccountID         *uint
	DateFrom              *time.Time
	DateTo                *time.Time
	Limit                 int
	AllowedLegalEntityIDs []uint
}

// LineByID loads one statement line.
func (s *Store) LineByID(tenantID, id uint) (*models.StatementLine, error) {
	var line models.StatementLine
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&line).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading statement line %d", id)
	}
	return &line, nil
}

// LineForUpdate loads one statement line under a row lock. Callers must be
// inside a Transaction.
func (s *Store) LineForUpdate(tenantID, id uint) (*models.StatementLine, error) {
	var line models.StatementLine
	err := s.forUpdate(s.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&line).Error
	if err != nil {
		return nil, errors.Wrapf(err, "locking statement line %d", id)
	}
	return &line, nil
}

// ListLinesForRun returns UNMATCHED and PARTIAL lines in scope, ordered by
// (txnDate, id) so run output is deterministic.
func (s *Store) ListLinesForRun(tenantID uint, f LineFilter) ([]models.StatementLine, error) {
	q := s.db.Where("tenant_id = ?", tenantID).
		Where("recon_status IN ?", []models.ReconStatus{models.ReconStatusUnmatched, models.ReconStatusPartial})
	if f.AllowedLegalEntityIDs != nil {
		q = q.Where("legal_entity_id IN ?", f.AllowedLegalEntityIDs)
	}
	if f.LegalEntityID != nil {
		q = q.Where("legal_entity_id = ?", *f.LegalEntityID)
	}
	if f.BankAccountID != nil {
		q = q.Where("bank_account_id = ?", *f.BankAccountID)
	}
	if f.DateFrom != nil {
		q = q.Where("txn_date >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("txn_date <= ?", *f.DateTo)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var lines []models.StatementLine
	if err := q.Order("txn_date ASC, id ASC").Find(&lines).Error; err != nil {
		return nil, errors.Wrap(err, "listing lines for run")
	}
	return lines, nil
}

// LinesByIDs loads a set of statement lines keyed by id in one query.
// IDs that do not exist for the tenant are absent from the map.
func (s *Store) LinesByIDs(tenantID uint, ids []uint) (map[uint]models.StatementLine, error) {
	lines := make(map[uint]models.StatementLine, len(ids))
	if len(ids) == 0 {
		return lines, nil
	}
	var rows []models.StatementLine
	err := s.db.Where("tenant_id = ? AND id IN ?", tenantID, ids).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "loading statement lines")
	}
	for i := range rows {
		lines[rows[i].ID] = rows[i]
	}
	return lines, nil
}

// SaveLine persists every column of the line.
func (s *Store) SaveLine(line *models.StatementLine) error {
	if err := s.db.Save(line).Error; err != nil {
		return errors.Wrapf(err, "saving statement line %d", line.ID)
	}
	return nil
}

// InsertLine creates a statement line. Imports and test fixtures use it.
func (s *Store) InsertLine(line *models.StatementLine) error {
	if err := s.db.Create(line).Error; err != nil {
		return errors.Wrap(err, "inserting statement line")
	}
	return nil
}
