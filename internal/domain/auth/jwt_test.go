package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, secret string) *JWTService {
	t.Helper()
	s, err := NewJWTService(DefaultJWTConfig(secret))
	require.NoError(t, err)
	return s
}

func TestIssueAndValidate(t *testing.T) {
	s := newService(t, "secret")

	token, expiresAt, err := s.Issue("ops@example.com", []string{RoleOperator}, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	op, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", op.Subject)
	assert.Equal(t, []string{RoleOperator}, op.Roles)
}

func TestValidate_Rejects(t *testing.T) {
	s := newService(t, "secret")
	token, _, err := s.Issue("ops", nil, time.Hour)
	require.NoError(t, err)

	t.Run("other secret", func(t *testing.T) {
		_, err := newService(t, "other").ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		later := newService(t, "secret")
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("other issuer", func(t *testing.T) {
		cfg := DefaultJWTConfig("secret")
		cfg.Issuer = "someone-else"
		other, err := NewJWTService(cfg)
		require.NoError(t, err)
		_, err = other.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.ValidateToken("not-a-token")
		assert.Error(t, err)
	})
}

func TestNewJWTService_EmptySecret(t *testing.T) {
	_, err := NewJWTService(DefaultJWTConfig(""))
	assert.Error(t, err)
}
