package store

import (
	"github.com/pkg/errors"

	"bank-reconciliation-core/internal/models"
)

// ActiveRules returns a tenant's ACTIVE rules ordered by (priority, id).
// Results are cached until the TTL lapses or a rule write invalidates them.
func (s *Store) ActiveRules(tenantID uint) ([]models.ReconRule, error) {
	if cached, ok := s.rules.Get(tenantID); ok {
		return cached, nil
	}
	var rows []models.ReconRule
	err := s.db.
		Where("tenant_id = ? AND status = ?", tenantID, models.RuleStatusActive).
		Order("priority ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing active rules")
	}
	s.rules.Add(tenantID, rows)
	return rows, nil
}

// RuleByID loads one rule.
func (s *Store) RuleByID(tenantID, id uint) (*models.ReconRule, error) {
	var r models.ReconRule
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&r).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading rule %d", id)
	}
	return &r, nil
}

// RuleForUpdate loads one rule under a row lock.
func (s *Store) RuleForUpdate(tenantID, id uint) (*models.ReconRule, error) {
	var r models.ReconRule
	err := s.forUpdate(s.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&r).Error
	if err != nil {
		return nil, errors.Wrapf(err, "locking rule %d", id)
	}
	return &r, nil
}

// ListRules returns every rule of a tenant ordered by (priority, id).
func (s *Store) ListRules(tenantID uint) ([]models.ReconRule, error) {
	var rows []models.ReconRule
	err := s.db.Where("tenant_id = ?", tenantID).
		Order("priority ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing rules")
	}
	return rows, nil
}

// InsertRule creates a rule and invalidates the tenant's rule cache.
func (s *Store) InsertRule(r *models.ReconRule) error {
	if err := s.db.Create(r).Error; err != nil {
		return errors.Wrap(err, "inserting rule")
	}
	s.InvalidateRuleCache(r.TenantID)
	return nil
}

// SaveRule persists a rule and invalidates the tenant's rule cache.
func (s *Store) SaveRule(r *models.ReconRule) error {
	if err := s.db.Save(r).Error; err != nil {
		return errors.Wrapf(err, "saving rule %d", r.ID)
	}
	s.InvalidateRuleCache(r.TenantID)
	return nil
}
