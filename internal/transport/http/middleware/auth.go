package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
	"evaltrack/internal/transport/http/api"
)

type ctxKey string

const ctxKeyUser ctxKey = "user"

// SessionValidator reports whether a token's server-side session is still live.
type SessionValidator interface {
	Valid(ctx context.Context, userID, sessionID string) (bool, error)
}

// RoleLookup returns the stored role of a user. A deleted user is errs.ErrNotFound.
type RoleLookup interface {
	Role(ctx context.Context, userID string) (string, error)
}

// Auth attaches the verified identity to the context. Requests without a
// usable token pass through anonymously; RequireAuth rejects them later.
// When roles is set the role comes from the user record, not the token.
func Auth(secret string, sessions SessionValidator, roles RoleLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := auth.ParseToken(secret, token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if sessions != nil {
				ok, err := sessions.Valid(r.Context(), claims.UserID, claims.SessionID)
				if err != nil {
					slog.Warn("session lookup failed", "userId", claims.UserID, "err", err)
					api.Fail(w, http.StatusServiceUnavailable, "session_unavailable", "session check failed", GetRequestID(r.Context()))
					return
				}
				if !ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			role := claims.RoleName
			if roles != nil {
				stored, err := roles.Role(r.Context(), claims.UserID)
				if errors.Is(err, errs.ErrNotFound) {
					next.ServeHTTP(w, r)
					return
				}
				if err != nil {
					slog.Warn("user lookup failed", "userId", claims.UserID, "err", err)
					api.Fail(w, http.StatusServiceUnavailable, "session_unavailable", "session check failed", GetRequestID(r.Context()))
					return
				}
				role = stored
			}
			ctx := WithUser(r.Context(), auth.UserContext{
				UserID:    claims.UserID,
				RoleName:  auth.NormalizeRole(role),
				SessionID: claims.SessionID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUser(r.Context()); !ok {
			api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", GetRequestID(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithUser(ctx context.Context, user auth.UserContext) context.Context {
	return context.WithValue(ctx, ctxKeyUser, user)
}

func GetUser(ctx context.Context) (auth.UserContext, bool) {
	user, ok := ctx.Value(ctxKeyUser).(auth.UserContext)
	return user, ok
}
