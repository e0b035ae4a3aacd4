package otp

import "time"

// Verifier decides whether a submitted code answers an outstanding challenge.
type Verifier struct {
	sealer Sealer
}

// NewVerifier returns a verifier that compares codes through sealer. A nil
// sealer compares plain codes.
func NewVerifier(sealer Sealer) *Verifier {
	if sealer == nil {
		sealer = PlainSealer{}
	}
	return &Verifier{sealer: sealer}
}

// Verify checks submitted against stored at now. The checks run in a fixed
// order: missing challenge, then code equality, then expiry. The expiry
// instant itself is already too late.
//
// A nil error means the caller may consume the challenge. Verify never
// mutates stored.
func (v *Verifier) Verify(submitted string, stored *Challenge, now time.Time) error {
	if stored == nil || stored.Code == "" {
		return ErrNoChallenge
	}
	if !v.sealer.Match(stored.Code, submitted) {
		return ErrMismatch
	}
	if !now.Before(stored.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// Reason returns a short log label for a verification error.
func Reason(err error) string {
	switch err {
	case nil:
		return "accepted"
	case ErrNoChallenge:
		return "no_challenge"
	case ErrMismatch:
		return "mismatch"
	case ErrExpired:
		return "expired"
	default:
		return "unknown"
	}
}
