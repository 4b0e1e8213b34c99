package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"collab-relay/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService(&config.Config{
		JWT: config.JWTConfig{Secret: []byte("test-secret"), ExpiresIn: time.Hour},
	})
}

func TestIssueAndResolve(t *testing.T) {
	s := newTestService()

	token, err := s.IssueToken("alice")
	require.NoError(t, err)

	userID, err := s.UserIDFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestUserIDFromToken_LegacyNumericClaim(t *testing.T) {
	s := newTestService()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	userID, err := s.UserIDFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "42", userID)
}

func TestUserIDFromToken_Rejects(t *testing.T) {
	s := newTestService()

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).
		SignedString([]byte("other"))
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "alice"}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":   "not-a-jwt",
		"wrong key": wrongKey,
		"expired":   expired,
		"no user":   noUser,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.UserIDFromToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	_, err := newTestService().UserFromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)
}
