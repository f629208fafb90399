package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJWTSignAndParseRoundTrip(t *testing.T) {
	mgr := NewJWTManager("contest-payments", "contest-clients", "abcdefghijklmnopqrstuvwxyz123456")
	raw, err := mgr.SignAccessToken("user-42", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := mgr.ParseAccessToken(raw)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "user-42" || claims.TokenType != "access" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.HasScope("payments:admin") {
		t.Fatal("unscoped token must not carry admin scope")
	}
}

func TestJWTScopedToken(t *testing.T) {
	mgr := NewJWTManager("contest-payments", "contest-clients", "abcdefghijklmnopqrstuvwxyz123456")
	raw, err := mgr.SignScopedToken("user-42", []string{"payments:admin", "payments:read"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := mgr.ParseAccessToken(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !claims.HasScope("payments:admin") {
		t.Fatal("expected payments:admin scope")
	}
	if claims.HasScope("payments:write") {
		t.Fatal("unexpected payments:write scope")
	}
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	mgr := NewJWTManager("contest-payments", "contest-clients", "abcdefghijklmnopqrstuvwxyz123456")
	raw, err := mgr.SignAccessToken("user-42", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.ParseAccessToken(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestJWTRejectsForeignIssuerAndAudience(t *testing.T) {
	mgr := NewJWTManager("contest-payments", "contest-clients", "abcdefghijklmnopqrstuvwxyz123456")

	other := NewJWTManager("other-issuer", "contest-clients", "abcdefghijklmnopqrstuvwxyz123456")
	raw, err := other.SignAccessToken("user-42", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.ParseAccessToken(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign issuer, got %v", err)
	}

	other = NewJWTManager("contest-payments", "other-audience", "abcdefghijklmnopqrstuvwxyz123456")
	raw, err = other.SignAccessToken("user-42", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.ParseAccessToken(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign audience, got %v", err)
	}
}

func TestJWTRejectsForeignSecret(t *testing.T) {
	mgr := NewJWTManager("contest-payments", "contest-clients", "abcdefghijklmnopqrstuvwxyz123456")
	other := NewJWTManager("contest-payments", "contest-clients", "abcdefghijklmnopqrstuvwxyz654321")
	raw, err := other.SignAccessToken("user-42", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.ParseAccessToken(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}
}

func FuzzParseAccessTokenRobustness(f *testing.F) {
	mgr := NewJWTManager("contest-payments", "contest-clients", "abcdefghijklmnopqrstuvwxyz123456")
	valid, _ := mgr.SignScopedToken("user-42", []string{"payments:admin"}, time.Minute)

	f.Add(valid)
	f.Add("")
	f.Add("not-a-jwt")
	f.Add("header.payload.signature")
	f.Add(strings.Repeat("a", 8192))

	f.Fuzz(func(t *testing.T, raw string) {
		if len(raw) > 16384 {
			raw = raw[:16384]
		}
		claims, err := mgr.ParseAccessToken(raw)
		if err != nil {
			return
		}
		if claims == nil {
			t.Fatal("expected non-nil claims on successful parse")
		}
		if claims.TokenType != "access" {
			t.Fatalf("unexpected token type: %q", claims.TokenType)
		}
		if claims.Subject == "" {
			t.Fatal("expected non-empty subject on successful parse")
		}
	})
}
