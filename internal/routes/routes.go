package routes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/otpmail/otpmail/internal/auth"
	"github.com/otpmail/otpmail/internal/clock"
	"github.com/otpmail/otpmail/internal/config"
	"github.com/otpmail/otpmail/internal/identity"
	"github.com/otpmail/otpmail/internal/lock"
	"github.com/otpmail/otpmail/internal/middleware"
	"github.com/otpmail/otpmail/internal/notification"
	"github.com/otpmail/otpmail/internal/otp"
	"github.com/otpmail/otpmail/internal/validation"
)

// Deps aggregates shared dependencies required to wire routes. A nil
// Notifier is replaced by SMTP or, in development, the logging notifier.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Notifier notification.Notifier
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: d.Cfg.CORSOrigins,
		AllowMethods: "GET,POST,PUT,DELETE",
		AllowHeaders: "Content-Type,Authorization",
	}))

	RegisterHealthRoutes(app, d)

	handler, err := newAuthHandler(d)
	if err != nil {
		return err
	}
	RegisterAuthRoutes(app, handler,
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
		middleware.IssueRateLimit(d.Cache, d.Cfg.OTP.RequestLimitPerMin, d.Logger),
	)
	return nil
}

func newAuthHandler(d Deps) (*auth.Handler, error) {
	var users identity.Repository
	if d.DB != nil {
		users = identity.NewPostgresRepository(d.DB)
	} else {
		d.Logger.Warn("no database configured, users are kept in memory")
		users = identity.NewMemoryRepository()
	}

	var locks lock.Locker
	if d.Cache != nil {
		locks = lock.NewRedisLocker(d.Cache, d.Cfg.OTP.LockTTL, d.Cfg.OTP.LockTTL, d.Logger)
	} else {
		locks = lock.NewKeyedMutex()
	}

	notifier, err := newNotifier(d)
	if err != nil {
		return nil, err
	}

	sealer, err := otp.NewSealer(d.Cfg.OTP.Storage, d.Cfg.OTP.BcryptCost)
	if err != nil {
		return nil, err
	}

	validate, err := validation.New()
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}

	svc := auth.NewService(auth.Deps{
		Users:    users,
		Issuer:   otp.NewIssuer(d.Cfg.OTP.TTL, nil),
		Sealer:   sealer,
		Notifier: notifier,
		Locks:    locks,
		Clock:    clock.New(),
		Logger:   d.Logger,

		DeliveryTimeout: deliveryBudget(d.Cfg.OTP.LockTTL),
	})
	return auth.NewHandler(svc, validate, d.Logger), nil
}

func newNotifier(d Deps) (notification.Notifier, error) {
	if d.Notifier != nil {
		return d.Notifier, nil
	}
	if d.Cfg.SMTP.Host == "" {
		if !d.Cfg.IsDev() {
			return nil, fmt.Errorf("smtp is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		return notification.NewLoggerNotifier(d.Logger), nil
	}
	return notification.NewSMTPNotifier(notification.SMTPConfig{
		Host:       d.Cfg.SMTP.Host,
		Port:       d.Cfg.SMTP.Port,
		Username:   d.Cfg.SMTP.Username,
		Password:   d.Cfg.SMTP.Password,
		From:       d.Cfg.SMTP.From,
		MaxRetries: d.Cfg.SMTP.MaxRetries,
		Timeout:    d.Cfg.SMTP.Timeout,
	}, d.Logger)
}

// deliveryBudget leaves half the lock TTL for the store round trips around a
// send.
func deliveryBudget(lockTTL time.Duration) time.Duration {
	return lockTTL / 2
}
