package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/otpmail/otpmail/internal/clock"
	"github.com/otpmail/otpmail/internal/identity"
	"github.com/otpmail/otpmail/internal/lock"
	"github.com/otpmail/otpmail/internal/notification"
	"github.com/otpmail/otpmail/internal/otp"
)

const otpSubject = "Your OTP Code"

// Deps are the collaborators a Service needs.
type Deps struct {
	Users    identity.Repository
	Issuer   *otp.Issuer
	Sealer   otp.Sealer
	Notifier notification.Notifier
	Locks    lock.Locker
	Clock    clock.Clocker
	Logger   *slog.Logger
	// DeliveryTimeout bounds one send, retries included. Keep it below the
	// lock TTL so a slow mail server cannot outlive the email lock.
	DeliveryTimeout time.Duration
}

// Service runs the signup and login OTP flows. Every read-modify-write of a
// user's challenge happens under that user's email lock.
type Service struct {
	users    identity.Repository
	issuer   *otp.Issuer
	sealer   otp.Sealer
	verifier *otp.Verifier
	notifier notification.Notifier
	locks    lock.Locker
	clock    clock.Clocker
	logger   *slog.Logger

	deliveryTimeout time.Duration
}

func NewService(deps Deps) *Service {
	s := &Service{
		users:    deps.Users,
		issuer:   deps.Issuer,
		sealer:   deps.Sealer,
		notifier: deps.Notifier,
		locks:    deps.Locks,
		clock:    deps.Clock,
		logger:   deps.Logger,

		deliveryTimeout: deps.DeliveryTimeout,
	}
	if s.issuer == nil {
		s.issuer = otp.NewIssuer(otp.DefaultTTL, nil)
	}
	if s.sealer == nil {
		s.sealer = otp.PlainSealer{}
	}
	if s.locks == nil {
		s.locks = lock.NewKeyedMutex()
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.notifier == nil {
		s.notifier = notification.NewLoggerNotifier(s.logger)
	}
	s.verifier = otp.NewVerifier(s.sealer)
	return s
}

// Register creates a pending user and emails the first code. The code is
// delivered before the record is written, so a delivery failure leaves no
// account behind and the caller can simply register again.
func (s *Service) Register(ctx context.Context, profile identity.Profile) (identity.User, error) {
	release, err := s.lock(ctx, profile.Email)
	if err != nil {
		return identity.User{}, err
	}
	defer release()

	if _, err := s.users.FindByEmail(ctx, profile.Email); err == nil {
		return identity.User{}, ErrAlreadyExists
	} else if !errors.Is(err, identity.ErrUserNotFound) {
		return identity.User{}, fmt.Errorf("%w: find user: %w", ErrStore, err)
	}

	now := s.issuedAt()
	ch, sealed, err := s.issue(now)
	if err != nil {
		return identity.User{}, err
	}

	if err := s.deliver(ctx, profile.Email, ch); err != nil {
		return identity.User{}, err
	}

	user := identity.User{
		ID:        uuid.NewString(),
		Name:      profile.Name,
		Email:     profile.Email,
		Mobile:    profile.Mobile,
		Address:   profile.Address,
		Challenge: &sealed,
		CreatedAt: now.UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, identity.ErrUserExists) {
			return identity.User{}, ErrAlreadyExists
		}
		return identity.User{}, fmt.Errorf("%w: create user: %w", ErrStore, err)
	}

	s.logger.InfoContext(ctx, "signup otp issued", "user_id", user.ID, "email", user.Email, "expires_at", ch.ExpiresAt)
	user.Challenge = nil
	return user, nil
}

// ConfirmSignup consumes the signup code.
func (s *Service) ConfirmSignup(ctx context.Context, email, code string) error {
	return s.confirm(ctx, "signup", email, code)
}

// RequestLogin replaces any outstanding code with a fresh one and emails it.
// The new code is stored before it is sent so a delivered code is always
// the live one.
func (s *Service) RequestLogin(ctx context.Context, email string) error {
	release, err := s.lock(ctx, email)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.users.FindByEmail(ctx, email); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: find user: %w", ErrStore, err)
	}

	ch, sealed, err := s.issue(s.issuedAt())
	if err != nil {
		return err
	}

	if err := s.users.SetChallenge(ctx, email, sealed); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: store challenge: %w", ErrStore, err)
	}

	if err := s.deliver(ctx, email, ch); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "login otp issued", "email", email, "expires_at", ch.ExpiresAt)
	return nil
}

// ConfirmLogin consumes the login code.
func (s *Service) ConfirmLogin(ctx context.Context, email, code string) error {
	return s.confirm(ctx, "login", email, code)
}

func (s *Service) confirm(ctx context.Context, flow, email, code string) error {
	release, err := s.lock(ctx, email)
	if err != nil {
		return err
	}
	defer release()

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: find user: %w", ErrStore, err)
	}

	if err := s.verifier.Verify(code, user.Challenge, s.clock.Now()); err != nil {
		s.logger.WarnContext(ctx, "otp rejected", "flow", flow, "user_id", user.ID, "reason", otp.Reason(err))
		return ErrInvalidOrExpired
	}

	// Only report success once the code is gone.
	if err := s.users.ClearChallenge(ctx, email, user.Challenge.Code); err != nil {
		if errors.Is(err, identity.ErrChallengeChanged) {
			s.logger.WarnContext(ctx, "otp rejected", "flow", flow, "user_id", user.ID, "reason", "superseded")
			return ErrInvalidOrExpired
		}
		return fmt.Errorf("%w: clear challenge: %w", ErrStore, err)
	}

	s.logger.InfoContext(ctx, "otp verified", "flow", flow, "user_id", user.ID)
	return nil
}

// issuedAt is the current instant at the resolution Postgres keeps for
// timestamptz, so a stored expiry reads back exactly as issued.
func (s *Service) issuedAt() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// issue returns the plain challenge for delivery and its sealed form for
// storage.
func (s *Service) issue(now time.Time) (otp.Challenge, otp.Challenge, error) {
	ch, err := s.issuer.Issue(now)
	if err != nil {
		return otp.Challenge{}, otp.Challenge{}, fmt.Errorf("issue otp: %w", err)
	}
	code, err := s.sealer.Seal(ch.Code)
	if err != nil {
		return otp.Challenge{}, otp.Challenge{}, fmt.Errorf("issue otp: %w", err)
	}
	return ch, otp.Challenge{Code: code, ExpiresAt: ch.ExpiresAt}, nil
}

func (s *Service) deliver(ctx context.Context, email string, ch otp.Challenge) error {
	msg := notification.Message{
		Kind:        notification.KindOTP,
		Destination: email,
		Subject:     otpSubject,
		Body:        otpBody(ch.Code, s.issuer.TTL()),
	}
	if s.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deliveryTimeout)
		defer cancel()
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

func (s *Service) lock(ctx context.Context, email string) (func(), error) {
	release, err := s.locks.Lock(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return release, nil
}

func otpBody(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your OTP code is %s. It is valid for %d minutes.", code, int(ttl.Minutes()))
}
