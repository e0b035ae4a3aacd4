package identity

import (
	"errors"
	"time"

	"github.com/otpmail/otpmail/internal/otp"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user exists")
	// ErrChallengeChanged is returned by ClearChallenge when the stored code
	// is no longer the one the caller verified.
	ErrChallengeChanged = errors.New("challenge changed")
)

// User is an account keyed by its email address. Email comparison is exact
// and case-sensitive.
type User struct {
	ID      string
	Name    string
	Email   string
	Mobile  string
	Address string
	// Challenge is nil when no code is outstanding.
	Challenge *otp.Challenge
	CreatedAt time.Time
}

// Profile carries the caller-supplied fields of a signup.
type Profile struct {
	Name    string
	Email   string
	Mobile  string
	Address string
}
