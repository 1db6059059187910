package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kozaktomas/event-photos/internal/config"
)

func testIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(config.AuthConfig{
		JWTSecret: "a-very-secret-signing-key",
		Issuer:    "event-photos",
		TokenTTL:  30 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenIssuer failed: %v", err)
	}
	return issuer
}

func TestNewTokenIssuer_Rejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AuthConfig
	}{
		{"missing secret", config.AuthConfig{TokenTTL: time.Hour}},
		{"short secret", config.AuthConfig{JWTSecret: "short", TokenTTL: time.Hour}},
		{"zero ttl", config.AuthConfig{JWTSecret: strings.Repeat("x", 32)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewTokenIssuer(tc.cfg); err == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := testIssuer(t)

	token, expires, err := issuer.Issue("photographer-1", "jana@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if d := time.Until(expires); d < 29*24*time.Hour || d > 31*24*time.Hour {
		t.Errorf("expected roughly 30 day expiry, got %v", d)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.PhotographerID() != "photographer-1" || claims.Email != "jana@example.com" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "event-photos" {
		t.Errorf("unexpected issuer %q", claims.Issuer)
	}
}

func TestTokenIssuer_RejectsInvalidTokens(t *testing.T) {
	issuer := testIssuer(t)
	valid, _, _ := issuer.Issue("photographer-1", "jana@example.com")

	expiredIssuer := testIssuer(t)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-60 * 24 * time.Hour) }
	expired, _, _ := expiredIssuer.Issue("photographer-1", "jana@example.com")

	otherSecret, _ := NewTokenIssuer(config.AuthConfig{JWTSecret: strings.Repeat("z", 32), Issuer: "event-photos", TokenTTL: time.Hour})
	forged, _, _ := otherSecret.Issue("photographer-1", "jana@example.com")

	otherIssuer, _ := NewTokenIssuer(config.AuthConfig{JWTSecret: "a-very-secret-signing-key", Issuer: "someone-else", TokenTTL: time.Hour})
	foreign, _, _ := otherIssuer.Issue("photographer-1", "jana@example.com")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x", Issuer: "event-photos"}})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"tampered", valid[:len(valid)-2] + "xx"},
		{"expired", expired},
		{"wrong secret", forged},
		{"wrong issuer", foreign},
		{"alg none", unsigned},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := issuer.Validate(tc.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the password")
	}

	if err := CheckPassword(hash, "correct horse"); err != nil {
		t.Errorf("expected password to match, got %v", err)
	}
	if err := CheckPassword(hash, "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("expected ErrPasswordMismatch, got %v", err)
	}
	if err := CheckPassword("not-a-hash", "x"); err == nil || errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("expected a malformed hash error, got %v", err)
	}
}

func TestHashPassword_TooShort(t *testing.T) {
	if _, err := HashPassword("abc"); err == nil {
		t.Error("expected error for short password")
	}
}
