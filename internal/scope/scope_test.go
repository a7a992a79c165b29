package scope

import (
	"testing"
	"time"

	apperrors "bank-reconciliation-core/pkg/errors"
)

func TestPrincipalLegalEntityAccess(t *testing.T) {
	tests := []struct {
		name      string
		entities  []uint
		check     uint
		canAccess bool
	}{
		{"unrestricted principal", nil, 42, true},
		{"listed entity", []uint{7, 9}, 9, true},
		{"unlisted entity", []uint{7, 9}, 11, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Principal{TenantID: 1, UserID: 2, LegalEntityIDs: tt.entities}
			if got := p.CanAccessLegalEntity(tt.check); got != tt.canAccess {
				t.Errorf("CanAccessLegalEntity(%d) = %v, want %v", tt.check, got, tt.canAccess)
			}
		})
	}
}

func TestRequireLegalEntityDenial(t *testing.T) {
	p := Principal{TenantID: 1, UserID: 2, LegalEntityIDs: []uint{7}}

	if err := p.RequireLegalEntity(7); err != nil {
		t.Fatalf("expected access to entity 7, got %v", err)
	}

	err := p.RequireLegalEntity(8)
	if err == nil {
		t.Fatal("expected denial for entity 8")
	}
	re, ok := apperrors.AsReconError(err)
	if !ok || re.Category != apperrors.CategoryAuthorization {
		t.Errorf("expected authorization error, got %v", err)
	}
}

func TestPermissionCheck(t *testing.T) {
	p := Principal{TenantID: 1, UserID: 2, Permissions: []string{"BANK.APPROVE"}}

	if !p.HasPermission("BANK.APPROVE") {
		t.Error("expected granted permission to pass")
	}
	if p.HasPermission("BANK.ADMIN") {
		t.Error("expected missing permission to fail")
	}
	if err := p.RequirePermission("BANK.ADMIN"); err == nil {
		t.Error("expected RequirePermission to fail for missing code")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	secret := "test-secret"
	issued := Principal{
		TenantID:       3,
		UserID:         14,
		Permissions:    []string{"BANK.APPROVE"},
		LegalEntityIDs: []uint{10, 20},
	}

	raw, err := IssueToken(secret, issued, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	parsed, err := ParseToken(secret, raw)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if parsed.TenantID != issued.TenantID || parsed.UserID != issued.UserID {
		t.Errorf("identity mismatch: got tenant=%d user=%d", parsed.TenantID, parsed.UserID)
	}
	if len(parsed.LegalEntityIDs) != 2 || parsed.LegalEntityIDs[0] != 10 {
		t.Errorf("legal entities not preserved: %v", parsed.LegalEntityIDs)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	raw, err := IssueToken("secret-a", Principal{TenantID: 1, UserID: 1}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := ParseToken("secret-b", raw); err == nil {
		t.Fatal("expected signature validation to fail")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	raw, err := IssueToken("secret", Principal{TenantID: 1, UserID: 1}, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := ParseToken("secret", raw); err == nil {
		t.Fatal("expected expired token to fail")
	}
}
