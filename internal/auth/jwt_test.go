package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenManager_IssueVerify(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour)
	user := domain.NewUser("u1", "alice", "alice@example.com", "hash")

	token, expiresAt, err := m.Issue(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
}

func TestTokenManager_Verify(t *testing.T) {
	user := domain.NewUser("u1", "alice", "alice@example.com", "hash")
	issuer := NewTokenManager(testSecret, time.Hour)
	valid, _, err := issuer.Issue(user)
	require.NoError(t, err)

	expired := NewTokenManager(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _, err := expired.Issue(user)
	require.NoError(t, err)

	otherKey, _, err := NewTokenManager("ffffffffffffffffffffffffffffffff", time.Hour).Issue(user)
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1", "iss": TokenIssuer, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid", valid, true},
		{"expired", expiredToken, false},
		{"wrong key", otherKey, false},
		{"alg none", noneToken, false},
		{"garbage", "not-a-token", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidToken)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(4)

	hash, err := h.Hash("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)

	require.NoError(t, h.Compare(hash, "s3cret-pass"))
	assert.ErrorIs(t, h.Compare(hash, "wrong"), domain.ErrInvalidCredentials)
	assert.ErrorIs(t, h.Compare("not-a-hash", "x"), domain.ErrInternal)
}
