// Package session turns bearer tokens into a tenant scope. The ledger core
// treats the session purely as a scoping token; credentials themselves are
// issued and checked elsewhere.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pharmledger/pharmledger-backend/pkg/config"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

// Claims represents the JWT claims carried by access tokens
type Claims struct {
	jwt.RegisteredClaims
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	TenantID   string `json:"tenant_id"`
	PharmacyID string `json:"pharmacy_id,omitempty"`
}

// Manager handles token operations
type Manager struct {
	config *config.JWTConfig
}

// NewManager creates a new session manager
func NewManager(cfg *config.JWTConfig) *Manager {
	return &Manager{config: cfg}
}

// Generate issues an access token for the given scope.
func (m *Manager) Generate(scope tenant.Scope) (string, time.Time, error) {
	now := time.Now()
	expiry := now.Add(m.config.AccessExpiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   scope.UserID,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID:     scope.UserID,
		Username:   scope.Username,
		Role:       string(scope.Role),
		TenantID:   scope.TenantID,
		PharmacyID: scope.PharmacyID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiry, nil
}

// Verify parses and validates a token, returning the scope it carries.
func (m *Manager) Verify(tokenString string) (tenant.Scope, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected signing method")
		}
		return []byte(m.config.Secret), nil
	})
	if err != nil || !token.Valid {
		return tenant.Scope{}, errors.Unauthorized("invalid token")
	}
	if claims.TenantID == "" {
		return tenant.Scope{}, errors.Unauthorized("token carries no tenant")
	}

	return tenant.Scope{
		TenantID:   claims.TenantID,
		UserID:     claims.UserID,
		Username:   claims.Username,
		Role:       tenant.Role(claims.Role),
		PharmacyID: claims.PharmacyID,
	}, nil
}
