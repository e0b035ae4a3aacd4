package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"
)

const (
	// CodeLength is the number of digits in every issued code.
	CodeLength = 6
	// DefaultTTL is how long an issued code stays acceptable.
	DefaultTTL = 10 * time.Minute

	minCode = 100000
	maxCode = 999999
)

var (
	// ErrNoChallenge is returned when no code is outstanding for the user.
	ErrNoChallenge = errors.New("no outstanding challenge")
	// ErrMismatch is returned when the submitted code differs from the stored one.
	ErrMismatch = errors.New("code mismatch")
	// ErrExpired is returned when the stored code is at or past its expiry.
	ErrExpired = errors.New("code expired")
)

// Challenge is the outstanding (code, expiry) pair attached to a user record.
// Code holds whatever the configured Sealer produced, which is the plain code
// unless sealing is enabled.
type Challenge struct {
	Code      string
	ExpiresAt time.Time
}

// Issuer generates fresh challenges.
type Issuer struct {
	ttl    time.Duration
	random io.Reader
}

// NewIssuer builds an issuer. A non-positive ttl falls back to DefaultTTL and a
// nil random source falls back to crypto/rand.
func NewIssuer(ttl time.Duration, random io.Reader) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if random == nil {
		random = rand.Reader
	}
	return &Issuer{ttl: ttl, random: random}
}

// TTL reports the validity window applied to issued codes.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue draws a code uniformly from [100000, 999999] and stamps it with an
// absolute UTC expiry of now+TTL.
func (i *Issuer) Issue(now time.Time) (Challenge, error) {
	n, err := rand.Int(i.random, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return Challenge{}, fmt.Errorf("draw otp: %w", err)
	}
	return Challenge{
		Code:      fmt.Sprintf("%0*d", CodeLength, minCode+n.Int64()),
		ExpiresAt: now.UTC().Add(i.ttl),
	}, nil
}
