package auth

import (
	"testing"
	"time"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("super-secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if err := CheckPassword(hash, "super-secret"); err != nil {
		t.Fatalf("expected password to match, got %v", err)
	}

	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestGenerateAndParseToken(t *testing.T) {
	secret := "test-secret"
	claims := Claims{UserID: "u1", RoleName: RoleHR, SessionID: "s1"}

	token, err := GenerateToken(secret, claims, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	parsed, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	if parsed.UserID != claims.UserID || parsed.RoleName != claims.RoleName || parsed.SessionID != claims.SessionID {
		t.Fatalf("claims mismatch: %+v", parsed)
	}

	if _, err := ParseToken("other-secret", token); err == nil {
		t.Fatal("expected signature error for wrong secret")
	}
}

func TestParseTokenExpired(t *testing.T) {
	token, err := GenerateToken("s", Claims{UserID: "u1", RoleName: RoleEmployee}, -time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("s", token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]string{
		"hr":         RoleHR,
		"Management": RoleManagement,
		"evaluator":  RoleManagement,
		" employee ": RoleEmployee,
		"admin":      "",
		"":           "",
	}
	for in, want := range cases {
		if got := NormalizeRole(in); got != want {
			t.Fatalf("NormalizeRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHashTokenStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatal("expected stable hash")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatal("expected distinct hashes")
	}
}
