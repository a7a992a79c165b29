package store

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/models"
)

// ActiveMatches returns the ACTIVE matches of a line, oldest first.
func (s *Store) ActiveMatches(tenantID, lineID uint) ([]models.ReconMatch, error) {
	var rows []models.ReconMatch
	err := s.db.
		Where("tenant_id = ? AND statement_line_id = ? AND status = ?",
			tenantID, lineID, models.MatchStatusActive).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "listing active matches for line %d", lineID)
	}
	return rows, nil
}

// SumActiveMatched computes the matched total of a line. Summation happens
// in Go so decimal precision is independent of the SQL dialect.
func (s *Store) SumActiveMatched(tenantID, lineID uint) (decimal.Decimal, error) {
	rows, err := s.ActiveMatches(tenantID, lineID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for i := range rows {
		total = total.Add(rows[i].MatchedAmount)
	}
	return total, nil
}

// MatchedTotalsByLine computes matched totals for a set of lines in one
// query. Lines without any ACTIVE match are absent from the map.
func (s *Store) MatchedTotalsByLine(tenantID uint, lineIDs []uint) (map[uint]decimal.Decimal, error) {
	totals := make(map[uint]decimal.Decimal, len(lineIDs))
	if len(lineIDs) == 0 {
		return totals, nil
	}
	var rows []models.ReconMatch
	err := s.db.
		Where("tenant_id = ? AND statement_line_id IN ? AND status = ?",
			tenantID, lineIDs, models.MatchStatusActive).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "summing matched totals")
	}
	for i := range rows {
		totals[rows[i].StatementLineID] = totals[rows[i].StatementLineID].Add(rows[i].MatchedAmount)
	}
	return totals, nil
}

// MatchByID loads one match row.
func (s *Store) MatchByID(tenantID, id uint) (*models.ReconMatch, error) {
	var m models.ReconMatch
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&m).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading match %d", id)
	}
	return &m, nil
}

// FindActiveMatchByTarget returns the ACTIVE match of a line against one
// specific target, or nil when none exists.
func (s *Store) FindActiveMatchByTarget(tenantID, lineID uint, entityType models.MatchedEntityType, entityID uint) (*models.ReconMatch, error) {
	var m models.ReconMatch
	err := s.db.
		Where("tenant_id = ? AND statement_line_id = ? AND status = ? AND matched_entity_type = ? AND matched_entity_id = ?",
			tenantID, lineID, models.MatchStatusActive, entityType, entityID).
		First(&m).Error
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "looking up active %s match for line %d", entityType, lineID)
	}
	return &m, nil
}

// InsertMatch creates a match row.
func (s *Store) InsertMatch(m *models.ReconMatch) error {
	if err := s.db.Create(m).Error; err != nil {
		return errors.Wrap(err, "inserting match")
	}
	return nil
}

// SaveMatch persists every column of the match.
func (s *Store) SaveMatch(m *models.ReconMatch) error {
	if err := s.db.Save(m).Error; err != nil {
		return errors.Wrapf(err, "saving match %d", m.ID)
	}
	return nil
}
