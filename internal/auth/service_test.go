package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wiredm/internal/store/sqlite"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return NewService(st, jwtConfig)
}

func TestRegister_RejectsInvalidUsername(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ab", "", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}

	// Should be validated after trimming whitespace.
	if _, err := svc.Register(ctx, " ab ", "", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestRegister_RejectsInvalidPassword(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "abc", "", "12345"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestRegister_TrimsUsernameAndCreatesUser(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	sess, err := svc.Register(ctx, " alice ", "", "password123")
	if err != nil {
		t.Fatalf("expected registration success, got %v", err)
	}
	if sess.Token == "" {
		t.Fatalf("expected non-empty token")
	}
	if sess.User.Username != "alice" || sess.User.FullName != "alice" {
		t.Fatalf("unexpected user: %+v", sess.User)
	}

	// Should collide because the stored username is trimmed.
	if _, err := svc.Register(ctx, "alice", "Alice A.", "password123"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLoginAndValidateToken(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "bob", "Bob Builder", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, "bob", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	sess, err := svc.Login(ctx, "bob", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.ValidateToken(sess.Token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != reg.User.ID || claims.Username != "bob" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := svc.ValidateToken(sess.Token + "x"); err == nil {
		t.Fatalf("expected tampered token to be rejected")
	}
}

func TestValidateToken_RejectsForeignAudience(t *testing.T) {
	other := &JWTConfig{Secret: []byte("test-secret-change-me"), Issuer: "test", Audience: "elsewhere", TTL: time.Hour}
	token, err := GenerateToken(other, 1, "mallory")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	svc := newTestAuthService(t)
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}

func TestUserExists(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	sess, err := svc.Register(ctx, "carol", "", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ok, err := svc.UserExists(ctx, sess.User.ID)
	if err != nil || !ok {
		t.Fatalf("expected user to exist, got %v %v", ok, err)
	}
	ok, err = svc.UserExists(ctx, sess.User.ID+100)
	if err != nil || ok {
		t.Fatalf("expected user to be missing, got %v %v", ok, err)
	}
}
