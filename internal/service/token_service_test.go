package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestToken_IssueAndVerify(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, withEmail("a@x.com"))
	user.IsAdmin = true

	token, expiresAt, err := env.tokens.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if want := env.clock.Now().Add(7 * 24 * time.Hour).UnixMilli(); expiresAt != want {
		t.Errorf("expiresAt = %d, want %d", expiresAt, want)
	}

	claims, err := env.tokens.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.UserID() != user.ID || !claims.IsAdmin || claims.IsSuperAdmin {
		t.Errorf("claims = %+v", claims)
	}
	if claims.TokenVersion == nil || *claims.TokenVersion != 0 {
		t.Errorf("tv = %v", claims.TokenVersion)
	}
}

func TestToken_StaleVersionRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, withEmail("a@x.com"))

	token, _, err := env.tokens.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if err := env.tokens.RevokeAll(ctx, user.ID); err != nil {
		t.Fatalf("RevokeAll() error = %v", err)
	}

	_, err = env.tokens.Verify(ctx, token)
	assertErrorIs(t, err, ErrUnauthorized)
	assertErrorIs(t, err, ErrTokenVersionMismatch)

	// 新签发的凭证携带新版本
	fresh, _, err := env.tokens.Issue(env.reloadUser(t, user.ID))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := env.tokens.Verify(ctx, fresh); err != nil {
		t.Fatalf("Verify(fresh) error = %v", err)
	}
}

func TestToken_Expired(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, withEmail("a@x.com"))

	token, _, err := env.tokens.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	env.clock.Advance(7*24*time.Hour + time.Minute)

	_, err = env.tokens.Verify(context.Background(), token)
	assertErrorIs(t, err, ErrUnauthorized)
	assertErrorIs(t, err, ErrTokenExpired)
}

func TestToken_BadSignature(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, withEmail("a@x.com"))

	other := NewTokenService(env.tokens.logger, env.db, "another-secret", time.Hour)
	other.now = env.clock.Now
	token, _, err := other.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	_, err = env.tokens.Verify(context.Background(), token)
	assertErrorIs(t, err, ErrUnauthorized)
	assertErrorIs(t, err, ErrTokenSignature)
}

func TestToken_MissingVersionAccepted(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, withEmail("a@x.com"))
	now := env.clock.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := env.tokens.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestToken_UnknownUserAndGarbage(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, withEmail("a@x.com"))
	token, _, err := env.tokens.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	env.db.Exec("DELETE FROM users WHERE id = ?", user.ID)

	if _, err := env.tokens.Verify(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Verify(deleted user) error = %v", err)
	}
	if _, err := env.tokens.Verify(context.Background(), "not-a-jwt"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Verify(garbage) error = %v", err)
	}
}

func TestToken_RevokeAllUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	assertErrorIs(t, env.tokens.RevokeAll(context.Background(), "missing"), ErrUserNotFound)
}
