package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/otpmail/otpmail/internal/otp"
)

func newUser(email string, ch *otp.Challenge) User {
	return User{
		ID:        "5f0c6d0e-4d7e-4a51-9b1e-0c1f5a0c2b11",
		Name:      "Ada",
		Email:     email,
		Mobile:    "+15550100",
		Address:   "1 Main St",
		Challenge: ch,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryCreateAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	expiry := time.Date(2024, 5, 10, 12, 10, 0, 0, time.UTC)

	if err := repo.Create(ctx, newUser("ada@example.com", &otp.Challenge{Code: "123456", ExpiresAt: expiry})); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, newUser("ada@example.com", nil)); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	user, err := repo.FindByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if user.Challenge == nil || user.Challenge.Code != "123456" || !user.Challenge.ExpiresAt.Equal(expiry) {
		t.Fatalf("unexpected challenge %+v", user.Challenge)
	}

	if _, err := repo.FindByEmail(ctx, "Ada@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("lookup must be case-sensitive, got %v", err)
	}
}

func TestMemoryChallengeLifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute).UTC()

	if err := repo.SetChallenge(ctx, "ghost@example.com", otp.Challenge{Code: "111111", ExpiresAt: expiry}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := repo.Create(ctx, newUser("bob@example.com", &otp.Challenge{Code: "111111", ExpiresAt: expiry})); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.SetChallenge(ctx, "bob@example.com", otp.Challenge{Code: "222222", ExpiresAt: expiry}); err != nil {
		t.Fatalf("set challenge: %v", err)
	}

	if err := repo.ClearChallenge(ctx, "bob@example.com", "111111"); !errors.Is(err, ErrChallengeChanged) {
		t.Fatalf("stale clear must be refused, got %v", err)
	}
	if err := repo.ClearChallenge(ctx, "bob@example.com", "222222"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := repo.ClearChallenge(ctx, "bob@example.com", "222222"); !errors.Is(err, ErrChallengeChanged) {
		t.Fatalf("second clear must be refused, got %v", err)
	}

	user, err := repo.FindByEmail(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if user.Challenge != nil {
		t.Fatalf("expected cleared challenge, got %+v", user.Challenge)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	if err := repo.Create(ctx, newUser("eve@example.com", &otp.Challenge{Code: "333333", ExpiresAt: time.Now()})); err != nil {
		t.Fatalf("create: %v", err)
	}

	user, _ := repo.FindByEmail(ctx, "eve@example.com")
	user.Challenge.Code = "tampered"

	again, _ := repo.FindByEmail(ctx, "eve@example.com")
	if again.Challenge.Code != "333333" {
		t.Fatalf("stored challenge was mutated through a returned user")
	}
}
