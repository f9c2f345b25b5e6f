package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Hour)

	token, err := a.Issue("user-1", "mentor")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "mentor", claims.Username)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	a := NewAuthenticator("secret-a", time.Hour)
	b := NewAuthenticator("secret-b", time.Hour)

	token, err := a.Issue("user-1", "mentor")
	require.NoError(t, err)

	_, err = b.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour)

	_, err := a.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Validate("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	a := NewAuthenticator("secret", time.Minute)
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return issued }

	token, err := a.Issue("user-1", "mentor")
	require.NoError(t, err)

	a.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = a.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
