package session_test

import (
	"testing"
	"time"

	"github.com/pharmledger/pharmledger-backend/pkg/config"
	"github.com/pharmledger/pharmledger-backend/pkg/session"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *session.Manager {
	return session.NewManager(&config.JWTConfig{
		Secret:       "test-secret",
		AccessExpiry: time.Minute,
		Issuer:       "pharmledger-test",
	})
}

func TestGenerateVerify_RoundTrip(t *testing.T) {
	m := testManager()
	scope := tenant.Scope{
		TenantID:   "t-1",
		UserID:     "u-1",
		Username:   "karim",
		Role:       tenant.RoleSenior,
		PharmacyID: "ph-7",
	}

	token, expiry, err := m.Generate(scope)
	require.NoError(t, err)
	assert.True(t, expiry.After(time.Now()))

	got, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, scope, got)
}

func TestVerify_RejectsGarbage(t *testing.T) {
	m := testManager()
	_, err := m.Verify("not-a-token")
	assert.Error(t, err)
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	other := session.NewManager(&config.JWTConfig{
		Secret:       "other-secret",
		AccessExpiry: time.Minute,
		Issuer:       "pharmledger-test",
	})
	token, _, err := other.Generate(tenant.Scope{TenantID: "t-1", Role: tenant.RoleLead})
	require.NoError(t, err)

	_, err = testManager().Verify(token)
	assert.Error(t, err)
}
