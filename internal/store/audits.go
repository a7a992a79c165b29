package store

import (
	"github.com/pkg/errors"

	"bank-reconciliation-core/internal/models"
)

// InsertLineAudit appends one row to a statement line's audit trail.
func (s *Store) InsertLineAudit(a *models.StatementLineAudit) error {
	if err := s.db.Create(a).Error; err != nil {
		return errors.Wrap(err, "inserting statement line audit")
	}
	return nil
}

// AuditsForLine returns a line's audit trail, oldest first.
func (s *Store) AuditsForLine(tenantID, lineID uint) ([]models.StatementLineAudit, error) {
	var rows []models.StatementLineAudit
	err := s.db.Where("tenant_id = ? AND statement_line_id = ?", tenantID, lineID).
		Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "listing audits for line %d", lineID)
	}
	return rows, nil
}

// AutoPostTraceForLine returns the auto-post trace of a line, or nil. With
// lock=true the row is selected for update.
func (s *Store) AutoPostTraceForLine(tenantID, lineID uint, lock bool) (*models.AutoPostTrace, error) {
	q := s.db.Where("tenant_id = ? AND statement_line_id = ?", tenantID, lineID)
	if lock {
		q = s.forUpdate(q)
	}
	var t models.AutoPostTrace
	err := q.First(&t).Error
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "looking up auto-post trace for line %d", lineID)
	}
	return &t, nil
}

// InsertAutoPostTrace creates the idempotency anchor for an auto-post.
func (s *Store) InsertAutoPostTrace(t *models.AutoPostTrace) error {
	if err := s.db.Create(t).Error; err != nil {
		return errors.Wrap(err, "inserting auto-post trace")
	}
	return nil
}

// DifferenceAdjustmentForLine returns the difference adjustment of a line,
// or nil. With lock=true the row is selected for update.
func (s *Store) DifferenceAdjustmentForLine(tenantID, lineID uint, lock bool) (*models.DifferenceAdjustment, error) {
	q := s.db.Where("tenant_id = ? AND statement_line_id = ?", tenantID, lineID)
	if lock {
		q = s.forUpdate(q)
	}
	var adj models.DifferenceAdjustment
	err := q.First(&adj).Error
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "looking up difference adjustment for line %d", lineID)
	}
	return &adj, nil
}

// InsertDifferenceAdjustment creates the idempotency anchor for a
// difference posting.
func (s *Store) InsertDifferenceAdjustment(adj *models.DifferenceAdjustment) error {
	if err := s.db.Create(adj).Error; err != nil {
		return errors.Wrap(err, "inserting difference adjustment")
	}
	return nil
}
