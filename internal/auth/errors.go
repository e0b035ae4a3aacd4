package auth

import "errors"

var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("user already exists")
	// ErrInvalidOrExpired covers a missing, mismatched or expired code.
	ErrInvalidOrExpired = errors.New("invalid or expired otp")
	// ErrStore wraps failures of the record store or the per-email lock.
	ErrStore = errors.New("store unavailable")
	// ErrDelivery wraps failures to hand a code to the notifier.
	ErrDelivery = errors.New("otp delivery failed")
)
