// Package session resolves the signed-in user for each request and carries
// it in the request context.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"finsight/internal/ledger"
)

var ErrNoSession = errors.New(ledger.NoSessionMessage)

// Session is the identity a request acts for.
type Session struct {
	UserID string
	Email  string
}

type contextKey struct{}

func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok && s.UserID != ""
}

// Resolver extracts the session from an incoming request.
type Resolver interface {
	Resolve(r *http.Request) (Session, error)
}

// HeaderResolver trusts the X-User-ID header. Only for local development
// behind a trusted proxy.
type HeaderResolver struct{}

const (
	HeaderUserID = "X-User-ID"
	HeaderEmail  = "X-User-Email"
)

func (HeaderResolver) Resolve(r *http.Request) (Session, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return Session{}, ErrNoSession
	}
	return Session{UserID: id, Email: strings.TrimSpace(r.Header.Get(HeaderEmail))}, nil
}

// BearerResolver validates "Authorization: Bearer <jwt>" with a Verifier.
type BearerResolver struct {
	Verifier *Verifier
}

func (b BearerResolver) Resolve(r *http.Request) (Session, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return Session{}, ErrNoSession
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Session{}, ErrNoSession
	}
	claims, err := b.Verifier.Verify(strings.TrimSpace(parts[1]))
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: claims.Subject, Email: claims.Email}, nil
}

// Middleware rejects requests without a session with 401 {"error":"No session"}.
// onReject, when set, is told why the request was turned away.
func Middleware(resolver Resolver, onReject func(r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := resolver.Resolve(r)
			if err != nil {
				if onReject != nil {
					onReject(r, err)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": ledger.NoSessionMessage})
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
		})
	}
}
