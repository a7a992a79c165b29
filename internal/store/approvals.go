package store

import (
	"github.com/pkg/errors"

	"bank-reconciliation-core/internal/models"
)

// PoliciesFor returns the ACTIVE approval policies of one (module, target,
// action) triple. Results are cached; policy writes invalidate per tenant.
func (s *Store) PoliciesFor(tenantID uint, module, target, action string) ([]models.ApprovalPolicy, error) {
	key := policyCacheKey(tenantID, module, target, action)
	if cached, ok := s.policies.Get(key); ok {
		return cached, nil
	}
	var rows []models.ApprovalPolicy
	err := s.db.Where(
		"tenant_id = ? AND module_code = ? AND target_type = ? AND action_type = ? AND status = ?",
		tenantID, module, target, action, models.ApprovalPolicyActive,
	).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing approval policies")
	}
	s.policies.Add(key, rows)
	return rows, nil
}

// InsertPolicy creates an approval policy and drops cached lookups.
func (s *Store) InsertPolicy(p *models.ApprovalPolicy) error {
	if err := s.db.Create(p).Error; err != nil {
		return errors.Wrap(err, "inserting approval policy")
	}
	s.InvalidatePolicyCache(p.TenantID)
	return nil
}

// SavePolicy persists an approval policy and drops cached lookups.
func (s *Store) SavePolicy(p *models.ApprovalPolicy) error {
	if err := s.db.Save(p).Error; err != nil {
		return errors.Wrapf(err, "saving approval policy %d", p.ID)
	}
	s.InvalidatePolicyCache(p.TenantID)
	return nil
}

// InsertApprovalRequest creates a request row. Unique-key violations on
// (tenant, requestKey) surface as gorm.ErrDuplicatedKey for the caller's
// idempotent-replay path.
func (s *Store) InsertApprovalRequest(r *models.ApprovalRequest) error {
	if err := s.db.Create(r).Error; err != nil {
		return errors.Wrap(err, "inserting approval request")
	}
	return nil
}

// ApprovalRequestByKey loads a request by its idempotency key.
func (s *Store) ApprovalRequestByKey(tenantID uint, requestKey string) (*models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	err := s.db.Where("tenant_id = ? AND request_key = ?", tenantID, requestKey).First(&r).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading approval request by key %q", requestKey)
	}
	return &r, nil
}

// ApprovalRequestByID loads one request.
func (s *Store) ApprovalRequestByID(tenantID, id uint) (*models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&r).Error
	if err != nil {
		return nil, errors.Wrapf(err, "loading approval request %d", id)
	}
	return &r, nil
}

// ApprovalRequestForUpdate loads one request under a row lock so decision
// tallies serialize.
func (s *Store) ApprovalRequestForUpdate(tenantID, id uint) (*models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	err := s.forUpdate(s.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&r).Error
	if err != nil {
		return nil, errors.Wrapf(err, "locking approval request %d", id)
	}
	return &r, nil
}

// SaveApprovalRequest persists every column of the request.
func (s *Store) SaveApprovalRequest(r *models.ApprovalRequest) error {
	if err := s.db.Save(r).Error; err != nil {
		return errors.Wrapf(err, "saving approval request %d", r.ID)
	}
	return nil
}

// ListApprovalRequests returns a tenant's requests, newest first,
// optionally narrowed to one status.
func (s *Store) ListApprovalRequests(tenantID uint, status *models.ApprovalRequestStatus) ([]models.ApprovalRequest, error) {
	q := s.db.Where("tenant_id = ?", tenantID)
	if status != nil {
		q = q.Where("request_status = ?", *status)
	}
	var rows []models.ApprovalRequest
	if err := q.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "listing approval requests")
	}
	return rows, nil
}

// UpsertDecision records a checker's verdict, replacing any earlier verdict
// by the same user on the same request.
func (s *Store) UpsertDecision(d *models.ApprovalDecision) error {
	var existing models.ApprovalDecision
	err := s.db.Where("tenant_id = ? AND request_id = ? AND user_id = ?",
		d.TenantID, d.RequestID, d.UserID).First(&existing).Error
	switch {
	case IsNotFound(err):
		if err := s.db.Create(d).Error; err != nil {
			return errors.Wrap(err, "inserting approval decision")
		}
		return nil
	case err != nil:
		return errors.Wrap(err, "looking up approval decision")
	default:
		existing.Verdict = d.Verdict
		existing.Comment = d.Comment
		if err := s.db.Save(&existing).Error; err != nil {
			return errors.Wrap(err, "updating approval decision")
		}
		*d = existing
		return nil
	}
}

// DecisionsForRequest returns every verdict on a request, oldest first.
func (s *Store) DecisionsForRequest(tenantID, requestID uint) ([]models.ApprovalDecision, error) {
	var rows []models.ApprovalDecision
	err := s.db.Where("tenant_id = ? AND request_id = ?", tenantID, requestID).
		Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "listing decisions for request %d", requestID)
	}
	return rows, nil
}
