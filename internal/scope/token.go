package scope

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "bank-reconciliation-core/pkg/errors"
)

// Claims is the JWT payload the service accepts. Tokens are signed with
// HS256 by the identity service that fronts this one.
type Claims struct {
	TenantID       uint     `json:"tenant_id"`
	UserID         uint     `json:"user_id"`
	Permissions    []string `json:"permissions,omitempty"`
	LegalEntityIDs []uint   `json:"legal_entity_ids,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken validates a bearer token and extracts the principal.
func ParseToken(secret, raw string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryAuthorization,
			apperrors.CodeMissingPermission, "invalid bearer token")
	}
	if !token.Valid || claims.TenantID == 0 || claims.UserID == 0 {
		return nil, apperrors.New(apperrors.CategoryAuthorization,
			apperrors.CodeMissingPermission, "token lacks tenant or user identity")
	}
	return &Principal{
		TenantID:       claims.TenantID,
		UserID:         claims.UserID,
		Permissions:    claims.Permissions,
		LegalEntityIDs: claims.LegalEntityIDs,
	}, nil
}

// IssueToken signs a token for a principal. Used by the CLI and tests;
// production tokens come from the identity service.
func IssueToken(secret string, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID:       p.TenantID,
		UserID:         p.UserID,
		Permissions:    p.Permissions,
		LegalEntityIDs: p.LegalEntityIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", apperrors.InternalError("signing token", err)
	}
	return signed, nil
}
