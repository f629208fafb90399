package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/draftpulse/contest-payments/internal/http/response"
	"github.com/draftpulse/contest-payments/internal/security"
)

type claimsContextKey struct{}

// RequireAuth validates the bearer token (or access_token cookie) and puts
// the parsed claims on the request context. Requests without a valid access
// token get a 401 and never reach the handler.
func RequireAuth(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				raw = security.GetCookie(r, "access_token")
			}
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects authenticated requests whose token lacks the scope.
// It must run after RequireAuth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || !claims.HasScope(scope) {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "missing required scope", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*security.AccessClaims)
	return claims, ok
}

// UserIDFromContext returns the authenticated subject, or "" when the
// request did not pass RequireAuth.
func UserIDFromContext(ctx context.Context) string {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return ""
	}
	return strings.TrimSpace(claims.Subject)
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > len("bearer ") && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}
