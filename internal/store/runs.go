package store

import (
	"github.com/pkg/errors"

	"bank-reconciliation-core/internal/models"
)

// ClaimRun inserts a RUNNING run row. When the run carries a runRequestId
// and another run already owns (tenant, runRequestId), the existing run is
// returned with claimed=false — that is the replay path.
func (s *Store) ClaimRun(run *models.AutoRun) (*models.AutoRun, bool, error) {
	err := s.db.Create(run).Error
	if err == nil {
		return run, true, nil
	}
	if !IsDuplicateKey(err) || run.RunRequestID == nil {
		return nil, false, errors.Wrap(err, "claiming auto run")
	}
	existing, lookupErr := s.RunByRequestID(run.TenantID, *run.RunRequestID)
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	return existing, false, nil
}

// RunByRequestID loads the run that owns a replay key.
func (s *Store) RunByRequestID(tenantID uint, runRequestID string) (*models.AutoRun, error) {
	var run models.AutoRun
	err := s.db.Where("tenant_id = ? AND run_request_id = ?", tenantID, runRequestID).First(&run).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading run by request id %q", runRequestID)
	}
	return &run, nil
}

// RunByID loads one run.
func (s *Store) RunByID(tenantID, id uint) (*models.AutoRun, error) {
	var run models.AutoRun
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&run).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading run %d", id)
	}
	return &run, nil
}

// SaveRun persists every column of the run.
func (s *Store) SaveRun(run *models.AutoRun) error {
	if err := s.db.Save(run).Error; err != nil {
		return errors.Wrapf(err, "saving run %d", run.ID)
	}
	return nil
}

// ListRuns returns a tenant's runs, newest first.
func (s *Store) ListRuns(tenantID uint, limit int) ([]models.AutoRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.AutoRun
	err := s.db.Where("tenant_id = ?", tenantID).Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	return rows, nil
}
