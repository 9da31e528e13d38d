package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "alice", want: "alice"},
		{in: "  bob  ", want: "bob"},
		{in: "ab", wantErr: true},
		{in: "jo hn", wantErr: true},
		{in: strings.Repeat("x", 33), wantErr: true},
		{in: "émilie", want: "émilie"},
	}
	for _, tt := range tests {
		got, err := normalizeUsername(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidUsername) {
				t.Fatalf("normalizeUsername(%q): expected ErrInvalidUsername, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("normalizeUsername(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestCheckPassword(t *testing.T) {
	if err := checkPassword("secret1"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}
	if err := checkPassword("short"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword for short password, got %v", err)
	}
	if err := checkPassword(strings.Repeat("p", 73)); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword for long password, got %v", err)
	}
}

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !ComparePassword(hash, "password123") {
		t.Fatalf("expected password to match")
	}
	if ComparePassword(hash, "password124") {
		t.Fatalf("expected mismatch")
	}
	if ComparePassword("", "password123") {
		t.Fatalf("empty hash must never match")
	}
}

func TestTokenCarriesUserIDAsSubject(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("s3cret"), Issuer: "wiredm", Audience: "clients", TTL: time.Minute}

	token, err := GenerateToken(cfg, 42, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != 42 || claims.Subject != "42" || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("s3cret"), Issuer: "wiredm", TTL: time.Minute}

	sign := func(method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	exp := time.Now().Add(time.Minute).Unix()

	tests := map[string]string{
		"expired":        sign(jwt.SigningMethodHS256, cfg.Secret, jwt.MapClaims{"sub": "1", "iss": "wiredm", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no expiry":      sign(jwt.SigningMethodHS256, cfg.Secret, jwt.MapClaims{"sub": "1", "iss": "wiredm"}),
		"wrong issuer":   sign(jwt.SigningMethodHS256, cfg.Secret, jwt.MapClaims{"sub": "1", "iss": "other", "exp": exp}),
		"wrong key":      sign(jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "1", "iss": "wiredm", "exp": exp}),
		"other method":   sign(jwt.SigningMethodHS512, cfg.Secret, jwt.MapClaims{"sub": "1", "iss": "wiredm", "exp": exp}),
		"non-numeric id": sign(jwt.SigningMethodHS256, cfg.Secret, jwt.MapClaims{"sub": "alice", "iss": "wiredm", "exp": exp}),
		"missing id":     sign(jwt.SigningMethodHS256, cfg.Secret, jwt.MapClaims{"iss": "wiredm", "exp": exp}),
	}
	for name, token := range tests {
		if _, err := ValidateToken(cfg, token); err == nil {
			t.Fatalf("%s: expected token to be rejected", name)
		}
	}
}
