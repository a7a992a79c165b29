package store

import (
	"github.com/pkg/errors"

	"bank-reconciliation-core/internal/models"
)

// TemplateByID loads one posting template.
func (s *Store) TemplateByID(tenantID, id uint) (*models.PostingTemplate, error) {
	var t models.PostingTemplate
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&t).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading posting template %d", id)
	}
	return &t, nil
}

// TemplateForUpdate loads one posting template under a row lock.
func (s *Store) TemplateForUpdate(tenantID, id uint) (*models.PostingTemplate, error) {
	var t models.PostingTemplate
	err := s.forUpdate(s.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&t).Error
	if err != nil {
		return nil, errors.Wrapf(err, "locking posting template %d", id)
	}
	return &t, nil
}

// ListTemplates returns every posting template of a tenant.
func (s *Store) ListTemplates(tenantID uint) ([]models.PostingTemplate, error) {
	var rows []models.PostingTemplate
	err := s.db.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing posting templates")
	}
	return rows, nil
}

// InsertTemplate creates a posting template.
func (s *Store) InsertTemplate(t *models.PostingTemplate) error {
	if err := s.db.Create(t).Error; err != nil {
		return errors.Wrap(err, "inserting posting template")
	}
	return nil
}

// SaveTemplate persists every column of the template.
func (s *Store) SaveTemplate(t *models.PostingTemplate) error {
	if err := s.db.Save(t).Error; err != nil {
		return errors.Wrapf(err, "saving posting template %d", t.ID)
	}
	return nil
}

// ProfileByID loads one difference profile.
func (s *Store) ProfileByID(tenantID, id uint) (*models.DifferenceProfile, error) {
	var p models.DifferenceProfile
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&p).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading difference profile %d", id)
	}
	return &p, nil
}

// ProfileForUpdate loads one difference profile under a row lock.
func (s *Store) ProfileForUpdate(tenantID, id uint) (*models.DifferenceProfile, error) {
	var p models.DifferenceProfile
	err := s.forUpdate(s.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&p).Error
	if err != nil {
		return nil, errors.Wrapf(err, "locking difference profile %d", id)
	}
	return &p, nil
}

// ListProfiles returns every difference profile of a tenant.
func (s *Store) ListProfiles(tenantID uint) ([]models.DifferenceProfile, error) {
	var rows []models.DifferenceProfile
	err := s.db.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing difference profiles")
	}
	return rows, nil
}

// InsertProfile creates a difference profile.
func (s *Store) InsertProfile(p *models.DifferenceProfile) error {
	if err := s.db.Create(p).Error; err != nil {
		return errors.Wrap(err, "inserting difference profile")
	}
	return nil
}

// SaveProfile persists every column of the profile.
func (s *Store) SaveProfile(p *models.DifferenceProfile) error {
	if err := s.db.Save(p).Error; err != nil {
		return errors.Wrapf(err, "saving difference profile %d", p.ID)
	}
	return nil
}
