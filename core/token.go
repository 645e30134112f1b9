package core

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "roomchat"

var (
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers malformed tokens, bad signatures and foreign issuers.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrUnrecognizedToken is any other verification failure.
	ErrUnrecognizedToken = errors.New("unrecognized token")
)

// AuthClaims are the claims of a session token. UID is the user the session belongs to.
type AuthClaims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

func newClaims(uid string, now, exp time.Time) *AuthClaims {
	return &AuthClaims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
}

// NewToken signs an HS256 session token for user that expires after ttl.
// It returns the token with its expiry.
func NewToken(user User, ttl time.Duration, secret []byte) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, newClaims(user.ID, now, exp)).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyToken checks the signature, issuer and expiry of token.
func VerifyToken(token string, secret []byte) (*AuthClaims, error) {
	claims := &AuthClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(tokenIssuer),
	)

	switch {
	case err == nil && parsed.Valid && claims.UID != "":
		return claims, nil
	case err == nil:
		return nil, ErrTokenInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return nil, ErrTokenInvalid
	default:
		return nil, ErrUnrecognizedToken
	}
}
