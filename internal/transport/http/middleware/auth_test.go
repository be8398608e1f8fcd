package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
)

type sessionSet map[string]bool

func (s sessionSet) Valid(_ context.Context, _ string, sessionID string) (bool, error) {
	return s[sessionID], nil
}

func TestAuthMiddlewareSetsUser(t *testing.T) {
	secret := "test-secret"
	token, err := auth.GenerateToken(secret, auth.Claims{UserID: "u1", RoleName: "evaluator", SessionID: "s1"}, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	called := false
	handler := Auth(secret, sessionSet{"s1": true}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		user, ok := GetUser(r.Context())
		if !ok {
			t.Fatal("expected user in context")
		}
		if user.UserID != "u1" || user.RoleName != auth.RoleManagement || user.SessionID != "s1" {
			t.Fatalf("unexpected user: %+v", user)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("handler not called")
	}
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	handler := Auth("secret", nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUser(r.Context()); ok {
			t.Fatal("did not expect user in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestAuthMiddlewareRevokedSession(t *testing.T) {
	secret := "test-secret"
	token, err := auth.GenerateToken(secret, auth.Claims{UserID: "u1", RoleName: auth.RoleHR, SessionID: "gone"}, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	handler := Auth(secret, sessionSet{}, nil)(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("revoked session must not reach the handler")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

type roleTable map[string]string

func (r roleTable) Role(_ context.Context, userID string) (string, error) {
	role, ok := r[userID]
	if !ok {
		return "", fmt.Errorf("user %s: %w", userID, errs.ErrNotFound)
	}
	return role, nil
}

func TestAuthMiddlewareUsesStoredRole(t *testing.T) {
	secret := "test-secret"
	token, err := auth.GenerateToken(secret, auth.Claims{UserID: "u1", RoleName: auth.RoleManagement, SessionID: "s1"}, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	var got auth.UserContext
	handler := Auth(secret, sessionSet{"s1": true}, roleTable{"u1": auth.RoleEmployee})(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetUser(r.Context())
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got.RoleName != auth.RoleEmployee {
		t.Fatalf("expected demoted role, got %d %+v", rec.Code, got)
	}

	deleted := Auth(secret, sessionSet{"s1": true}, roleTable{})(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("deleted user must not reach the handler")
	})))
	rec = httptest.NewRecorder()
	deleted.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deleted user, got %d", rec.Code)
	}
}

func TestRequirePermission(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	guarded := RequirePermission(auth.PermUsersWrite, auth.StaticPermissions{})(ok)

	cases := []struct {
		name string
		user *auth.UserContext
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"employee", &auth.UserContext{UserID: "e", RoleName: auth.RoleEmployee}, http.StatusForbidden},
		{"hr", &auth.UserContext{UserID: "h", RoleName: auth.RoleHR}, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
		if tc.user != nil {
			req = req.WithContext(WithUser(req.Context(), *tc.user))
		}
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestRequestIDAndHeaders(t *testing.T) {
	handler := RequestID(SecureHeaders(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Fatal("expected request id in context")
		}
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/criteria", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
	if rec.Header().Get("Cache-Control") != "no-store" || rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("unexpected headers: %v", rec.Header())
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	handler := CORS([]string{"http://localhost:5173"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/criteria", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("expected origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/criteria", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected origin allowed: %q", got)
	}
}
