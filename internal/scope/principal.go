// Package scope carries the caller identity through the service and
// enforces tenant and legal-entity access on every operation.
package scope

import (
	apperrors "bank-reconciliation-core/pkg/errors"
)

// Principal is the authenticated caller: tenant, user, granted permission
// codes and the legal entities the user may touch. An empty LegalEntityIDs
// slice means the user is unrestricted within the tenant.
type Principal struct {
	TenantID       uint     `json:"tenant_id"`
	UserID         uint     `json:"user_id"`
	Permissions    []string `json:"permissions,omitempty"`
	LegalEntityIDs []uint   `json:"legal_entity_ids,omitempty"`
}

// HasPermission reports whether the principal holds a permission code.
func (p *Principal) HasPermission(code string) bool {
	for _, c := range p.Permissions {
		if c == code {
			return true
		}
	}
	return false
}

// CanAccessLegalEntity reports whether the principal may act on a legal
// entity. Unrestricted principals pass for any entity.
func (p *Principal) CanAccessLegalEntity(legalEntityID uint) bool {
	if len(p.LegalEntityIDs) == 0 {
		return true
	}
	for _, id := range p.LegalEntityIDs {
		if id == legalEntityID {
			return true
		}
	}
	return false
}

// AllowedLegalEntities returns the entity filter for list queries, nil
// when the principal is unrestricted.
func (p *Principal) AllowedLegalEntities() []uint {
	if len(p.LegalEntityIDs) == 0 {
		return nil
	}
	return p.LegalEntityIDs
}

// RequireLegalEntity fails with a scope denial when the principal cannot
// act on the given legal entity.
func (p *Principal) RequireLegalEntity(legalEntityID uint) error {
	if !p.CanAccessLegalEntity(legalEntityID) {
		return apperrors.ScopeDeniedError("LEGAL_ENTITY", legalEntityID)
	}
	return nil
}

// RequirePermission fails when the principal lacks a permission code.
func (p *Principal) RequirePermission(code string) error {
	if !p.HasPermission(code) {
		return apperrors.PermissionError(code)
	}
	return nil
}
