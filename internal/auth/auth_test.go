package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"coffee-trace-api-server/internal/models"
)

func init() {
	PasswordCost = bcrypt.MinCost
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("s3cret", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}

func TestIssueAndVerify(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	user := &models.User{ID: 7, Email: "maria@coop.hn", Role: models.RoleFarmer, CooperativeID: 1}

	token, err := m.Issue(user)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "maria@coop.hn", claims.Email)
	assert.Equal(t, models.RoleFarmer, claims.Role)
	assert.Equal(t, int64(1), claims.CooperativeID)
	assert.Equal(t, "7", claims.Subject)
}

func TestVerifyRejects(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	user := &models.User{ID: 1, Email: "a@b.c", Role: models.RoleAdmin}

	t.Run("other secret", func(t *testing.T) {
		token, err := NewManager("other", time.Hour).Issue(user)
		require.NoError(t, err)
		_, err = m.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewManager("test-secret", time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := old.Issue(user)
		require.NoError(t, err)
		_, err = m.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Email: "a@b.c"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Verify("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
