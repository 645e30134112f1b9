package core

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	secret := []byte("secret")
	user := User{ID: "a", Name: "Alice"}

	t.Run("valid token", func(t *testing.T) {
		before := time.Now()
		token, expiresAt, err := NewToken(user, time.Hour, secret)
		require.Nil(t, err)
		require.NotEmpty(t, token)
		require.False(t, expiresAt.Before(before.Add(time.Hour)))

		claims, err := VerifyToken(token, secret)
		require.Nil(t, err)
		assert.Equal(t, user.ID, claims.UID)
	})

	t.Run("expired token", func(t *testing.T) {
		token, _, err := NewToken(user, -time.Minute, secret)
		require.Nil(t, err)
		_, err = VerifyToken(token, secret)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := NewToken(user, time.Hour, secret)
		require.Nil(t, err)
		_, err = VerifyToken(token, []byte("other"))
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := newClaims(user.ID, time.Now(), time.Now().Add(time.Hour))
		claims.Issuer = "elsewhere"
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.Nil(t, err)
		_, err = VerifyToken(token, secret)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("claims carry the user", func(t *testing.T) {
		token, _, err := NewToken(user, time.Hour, secret)
		require.Nil(t, err)
		claims, err := VerifyToken(token, secret)
		require.Nil(t, err)
		assert.Equal(t, user.ID, claims.Subject)
		assert.Equal(t, "roomchat", claims.Issuer)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := VerifyToken("garbage", secret)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}
