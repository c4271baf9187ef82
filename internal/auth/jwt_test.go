package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campus-talks/backend/internal/models"
)

func init() {
	PasswordCost = bcrypt.MinCost
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := svc.Generate(models.UserProfile{UID: "u1", Email: "a@b.c", Name: "Ada", Role: models.RoleFaculty})
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	id := claims.Identity()
	assert.Equal(t, "u1", id.UID)
	assert.Equal(t, models.RoleFaculty, id.Role)
	assert.Equal(t, "Ada", id.Name)

	_, err = NewJWTService("other", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTExpired(t *testing.T) {
	svc := NewJWTService("secret", 1)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.Generate(models.UserProfile{UID: "u1"})
	require.NoError(t, err)
	_, err = NewJWTService("secret", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.True(t, CheckPassword("hunter22", hash))
	assert.False(t, CheckPassword("hunter23", hash))
}

