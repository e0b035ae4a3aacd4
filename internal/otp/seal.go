package otp

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Storage modes accepted by NewSealer.
const (
	StoragePlain  = "plain"
	StorageBcrypt = "bcrypt"
)

// Sealer controls the form in which a code is persisted and how a submitted
// code is compared against the persisted form.
type Sealer interface {
	Seal(code string) (string, error)
	Match(sealed, submitted string) bool
}

// NewSealer resolves a storage mode name to a Sealer.
func NewSealer(mode string, bcryptCost int) (Sealer, error) {
	switch mode {
	case "", StoragePlain:
		return PlainSealer{}, nil
	case StorageBcrypt:
		return NewBcryptSealer(bcryptCost)
	default:
		return nil, fmt.Errorf("unknown otp storage mode %q", mode)
	}
}

// PlainSealer stores codes verbatim.
type PlainSealer struct{}

func (PlainSealer) Seal(code string) (string, error) {
	return code, nil
}

func (PlainSealer) Match(sealed, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(sealed), []byte(submitted)) == 1
}

// BcryptSealer stores a bcrypt hash of the code.
type BcryptSealer struct {
	cost int
}

func NewBcryptSealer(cost int) (*BcryptSealer, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("invalid bcrypt cost %d", cost)
	}
	return &BcryptSealer{cost: cost}, nil
}

func (s *BcryptSealer) Seal(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return "", fmt.Errorf("seal otp: %w", err)
	}
	return string(hash), nil
}

func (s *BcryptSealer) Match(sealed, submitted string) bool {
	return bcrypt.CompareHashAndPassword([]byte(sealed), []byte(submitted)) == nil
}
