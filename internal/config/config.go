package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAppName        = "otpmail"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultOTPTTL         = 10 * time.Minute
	defaultOTPStorage     = "plain"
	defaultRequestLimit   = 5
	defaultLockTTL        = 10 * time.Second
	defaultSMTPPort       = 587
	defaultSMTPRetries    = 3
	defaultSMTPTimeout    = 5 * time.Second
	defaultCORSOrigins    = "*"

	// dotEnvFile is read when present; real environment variables win.
	dotEnvFile = ".env"
)

// Config captures application runtime configuration.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	CORSOrigins    string
	OTP            OTP
	SMTP           SMTP
}

// OTP tunes code issuance and storage.
type OTP struct {
	TTL                time.Duration
	Storage            string
	BcryptCost         int
	RequestLimitPerMin int
	LockTTL            time.Duration
}

// SMTP configures outbound email. An empty Host selects the logging
// notifier, which is only allowed in development.
type SMTP struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	MaxRetries uint64
	Timeout    time.Duration
}

// Load reads configuration from the environment, layered over an optional
// .env file in the working directory.
func Load() (Config, error) {
	v := viper.New()
	if _, err := os.Stat(dotEnvFile); err == nil {
		v.SetConfigFile(dotEnvFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", dotEnvFile, err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (Config, error) {
	v.AutomaticEnv()
	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("LOG_FORMAT", defaultLogFormat)
	v.SetDefault("OTP_STORAGE", defaultOTPStorage)
	v.SetDefault("CORS_ORIGINS", defaultCORSOrigins)

	cfg := Config{
		AppName:     v.GetString("APP_NAME"),
		AppEnv:      strings.ToLower(v.GetString("APP_ENV")),
		Port:        v.GetString("PORT"),
		LogLevel:    strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:   strings.ToLower(v.GetString("LOG_FORMAT")),
		DatabaseURL: v.GetString("DATABASE_URL"),
		RedisURL:    v.GetString("REDIS_URL"),
		CORSOrigins: v.GetString("CORS_ORIGINS"),
		OTP: OTP{
			Storage: strings.ToLower(v.GetString("OTP_STORAGE")),
		},
		SMTP: SMTP{
			Host:     v.GetString("SMTP_HOST"),
			Username: firstNonEmpty(v.GetString("SMTP_USERNAME"), v.GetString("EMAIL")),
			Password: firstNonEmpty(v.GetString("SMTP_PASSWORD"), v.GetString("PASSWORD")),
			From:     v.GetString("SMTP_FROM"),
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(v, "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(v, "IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.OTP.TTL, err = duration(v, "OTP_TTL", defaultOTPTTL); err != nil {
		return Config{}, err
	}
	if cfg.OTP.LockTTL, err = duration(v, "LOCK_TTL", defaultLockTTL); err != nil {
		return Config{}, err
	}
	if cfg.OTP.BcryptCost, err = integer(v, "OTP_BCRYPT_COST", 0); err != nil {
		return Config{}, err
	}
	if cfg.OTP.RequestLimitPerMin, err = integer(v, "OTP_REQUEST_LIMIT_PER_MIN", defaultRequestLimit); err != nil {
		return Config{}, err
	}
	if cfg.SMTP.Port, err = integer(v, "SMTP_PORT", defaultSMTPPort); err != nil {
		return Config{}, err
	}
	retries, err := integer(v, "SMTP_MAX_RETRIES", defaultSMTPRetries)
	if err != nil {
		return Config{}, err
	}
	if retries < 0 {
		return Config{}, fmt.Errorf("invalid SMTP_MAX_RETRIES: %d", retries)
	}
	cfg.SMTP.MaxRetries = uint64(retries)
	if cfg.SMTP.Timeout, err = duration(v, "SMTP_TIMEOUT", defaultSMTPTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.OTP.TTL <= 0 {
		return errors.New("OTP_TTL must be positive")
	}
	if c.OTP.LockTTL <= 0 {
		return errors.New("LOCK_TTL must be positive")
	}
	if c.OTP.Storage != "plain" && c.OTP.Storage != "bcrypt" {
		return fmt.Errorf("OTP_STORAGE must be plain or bcrypt, got %q", c.OTP.Storage)
	}
	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL must be set")
	}
	if c.SMTP.Host == "" {
		return errors.New("SMTP_HOST must be set")
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether in-memory fallbacks are allowed.
func (c Config) IsDev() bool {
	switch c.AppEnv {
	case "", "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// secondsOrDuration accepts KEY_SECONDS as an integer or KEY as a Go duration.
func secondsOrDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	if raw := v.GetString(key + "_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(v, key, fallback)
}

func duration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func integer(v *viper.Viper, key string, fallback int) (int, error) {
	raw := v.GetString(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
