package core

import (
	"context"
	"errors"
	"net/http"

	"github.com/putto11262002/roomchat/pkg/router"
)

const AuthCookieName = "auth_token"

type sessionKey struct{}

func ContextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(Session)
	return session, ok
}

// SessionFromRequest extracts the session from the request context.
// It panics if the request did not go through JWTMiddleware.
func SessionFromRequest(r *http.Request) Session {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		panic("session not found in request context: call this function in handlers that are protected by JWTMiddleware")
	}
	return session
}

func SessionCookie(session Session, httpOnly bool, path string) *http.Cookie {
	return &http.Cookie{
		Name:     AuthCookieName,
		Value:    session.Token,
		Expires:  session.ExpiresAt,
		HttpOnly: httpOnly,
		Path:     path,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredSessionCookie clears the auth cookie on the client.
func ExpiredSessionCookie(path string) *http.Cookie {
	return &http.Cookie{
		Name:     AuthCookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     path,
	}
}

// JWTMiddleware validates the auth cookie and attaches the session to the request context.
func JWTMiddleware(a AuthStore) router.Middleware {
	authErr := router.Unauthorized("unauthenticated")

	return func(next http.Handler) router.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			ctx := r.Context()

			cookie, err := r.Cookie(AuthCookieName)
			if err != nil || cookie.Valid() != nil || cookie.Value == "" {
				return authErr
			}

			session, err := a.Session(ctx, cookie.Value)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					return authErr
				}
				return err
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(ctx, *session)))
			return nil
		}
	}
}
