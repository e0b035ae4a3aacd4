package identity

import (
	"context"
	"sync"

	"github.com/otpmail/otpmail/internal/otp"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory user store for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.Email]; exists {
		return ErrUserExists
	}
	user.Challenge = copyChallenge(user.Challenge)
	r.users[user.Email] = user
	return nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	user.Challenge = copyChallenge(user.Challenge)
	return user, nil
}

func (r *memoryRepository) SetChallenge(_ context.Context, email string, ch otp.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[email]
	if !ok {
		return ErrUserNotFound
	}
	ch.ExpiresAt = ch.ExpiresAt.UTC()
	user.Challenge = &ch
	r.users[email] = user
	return nil
}

func (r *memoryRepository) ClearChallenge(_ context.Context, email, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[email]
	if !ok || user.Challenge == nil || user.Challenge.Code != code {
		return ErrChallengeChanged
	}
	user.Challenge = nil
	r.users[email] = user
	return nil
}

// stored users must not share challenge pointers with callers
func copyChallenge(ch *otp.Challenge) *otp.Challenge {
	if ch == nil {
		return nil
	}
	c := *ch
	return &c
}
