package core

import (
	"context"
	"errors"
	"time"
)

// Session identifies the signed in user. It is passed explicitly to every component
// that acts on behalf of the user.
type Session struct {
	UID       string    `json:"uid"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
)

type AuthStore interface {
	NewSession(ctx context.Context, email, password string) (session *Session, err error)

	DestroySession(ctx context.Context, session Session) error

	// Session returns the session of the token.
	// It returns ErrUnauthenticated if the token is expired, invalid or destroyed.
	Session(ctx context.Context, token string) (session *Session, err error)
}
