package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/soaringjerry/Coursepulse/internal/services"
)

type authCtxKey int

const sessionKey authCtxKey = 7

// SessionCookie carries the admin token for browser clients.
const SessionCookie = "cp_admin"

// SessionVerifier checks an admin token; *services.AuthService implements it.
type SessionVerifier interface {
	Verify(token string) (*services.AdminSession, error)
}

func tokenFrom(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// RequireAdmin rejects requests without a valid admin session and stores the
// session in the request context otherwise.
func RequireAdmin(v SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := tokenFrom(r)
			if tok == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			sess, err := v.Verify(tok)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func AdminFromContext(ctx context.Context) (*services.AdminSession, bool) {
	s, ok := ctx.Value(sessionKey).(*services.AdminSession)
	return s, ok
}
