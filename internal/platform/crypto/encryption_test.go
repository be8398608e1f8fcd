package crypto

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealOpenRoundTrip(t *testing.T) {
	svc, err := New(testKey)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !svc.Configured() {
		t.Fatal("expected configured service")
	}

	sealed, err := svc.Seal("data:image/png;base64,AAAA")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) || strings.Contains(sealed, "AAAA") {
		t.Fatalf("value not sealed: %q", sealed)
	}
	plain, err := svc.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected plain: %q", plain)
	}
}

func TestUnconfiguredPassThrough(t *testing.T) {
	svc, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sealed, _ := svc.Seal("sig")
	if sealed != "sig" {
		t.Fatalf("expected pass through, got %q", sealed)
	}
	if _, err := svc.Open(sealedPrefix + "AAAA"); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
}

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := New("short"); err == nil {
		t.Fatal("expected error for short key")
	}
}
