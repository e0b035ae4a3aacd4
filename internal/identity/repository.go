package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otpmail/otpmail/internal/otp"
)

const uniqueViolation = "23505"

// Repository persists users and their outstanding challenge.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByEmail(ctx context.Context, email string) (User, error)
	// SetChallenge replaces the outstanding challenge, code and expiry together.
	SetChallenge(ctx context.Context, email string, ch otp.Challenge) error
	// ClearChallenge removes the challenge only while the stored code still
	// equals code.
	ClearChallenge(ctx context.Context, email, code string) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user. A duplicate email yields ErrUserExists.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	var (
		code   *string
		expiry *time.Time
	)
	if user.Challenge != nil {
		c, e := user.Challenge.Code, user.Challenge.ExpiresAt.UTC()
		code, expiry = &c, &e
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, name, email, mobile, address, otp, otp_expiry, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		userID, user.Name, user.Email, user.Mobile, user.Address, code, expiry, user.CreatedAt.UTC())
	return mapError(err)
}

// FindByEmail fetches a user by exact email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, email, mobile, address, otp, otp_expiry, created_at
        FROM users WHERE email = $1`, email)
	var (
		id        uuid.UUID
		code      *string
		expiry    *time.Time
		createdAt time.Time
		user      User
	)
	if err := row.Scan(&id, &user.Name, &user.Email, &user.Mobile, &user.Address, &code, &expiry, &createdAt); err != nil {
		return User{}, mapError(err)
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()
	if code != nil && expiry != nil {
		user.Challenge = &otp.Challenge{Code: *code, ExpiresAt: expiry.UTC()}
	}
	return user, nil
}

// SetChallenge overwrites the user's code and expiry in one statement.
func (r *PostgresRepository) SetChallenge(ctx context.Context, email string, ch otp.Challenge) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET otp = $1, otp_expiry = $2 WHERE email = $3`,
		ch.Code, ch.ExpiresAt.UTC(), email)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ClearChallenge nulls code and expiry together, guarded by the code that was
// verified so a concurrent reissue is never wiped.
func (r *PostgresRepository) ClearChallenge(ctx context.Context, email, code string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET otp = NULL, otp_expiry = NULL WHERE email = $1 AND otp = $2`,
		email, code)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrChallengeChanged
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrUserExists, pgErr.ConstraintName)
	}
	return err
}
