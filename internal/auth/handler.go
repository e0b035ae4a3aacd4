package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/otpmail/otpmail/internal/identity"
	"github.com/otpmail/otpmail/internal/validation"
)

const (
	msgSignupSent     = "User created. OTP sent to email for verification."
	msgSignupVerified = "OTP verified successfully. Signup complete."
	msgLoginSent      = "OTP sent to email for login verification."
	msgLoginVerified  = "Login successful!"
	msgUserExists     = "User already exists with this email."
	msgUserNotFound   = "User not found."
	msgInvalidOTP     = "Invalid or expired OTP."
	msgDeliveryFailed = "Error sending OTP email"
	msgValidation     = "Validation failed."
)

// Handler exposes the signup and login endpoints.
type Handler struct {
	svc      *Service
	validate *validation.Validator
	logger   *slog.Logger
}

func NewHandler(svc *Service, validate *validation.Validator, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, validate: validate, logger: logger}
}

type signupRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email" validate:"required,email"`
	Mobile  string `json:"mobile"`
	Address string `json:"address"`
}

type loginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// OTP is only required to be present; a malformed code is rejected by the
// verifier like any other wrong code.
type verifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required"`
}

type messageResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

type errorResponse struct {
	Message string            `json:"message"`
	Error   string            `json:"error,omitempty"`
	Fields  validation.Errors `json:"errors,omitempty"`
}

// Signup registers a user and emails the verification code.
func (h *Handler) Signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err, "Error creating user")
	}
	_, err := h.svc.Register(c.UserContext(), identity.Profile{
		Name:    req.Name,
		Email:   req.Email,
		Mobile:  req.Mobile,
		Address: req.Address,
	})
	if err != nil {
		return h.fail(c, err, "Error creating user")
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: msgSignupSent, Success: true})
}

// VerifySignup completes a signup.
func (h *Handler) VerifySignup(c *fiber.Ctx) error {
	var req verifyRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err, "Error verifying OTP")
	}
	if err := h.svc.ConfirmSignup(c.UserContext(), req.Email, req.OTP); err != nil {
		return h.fail(c, err, "Error verifying OTP")
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: msgSignupVerified, Success: true})
}

// Login emails a fresh login code.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err, "Error logging in")
	}
	if err := h.svc.RequestLogin(c.UserContext(), req.Email); err != nil {
		return h.fail(c, err, "Error logging in")
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: msgLoginSent, Success: true})
}

// VerifyLogin completes a login.
func (h *Handler) VerifyLogin(c *fiber.Ctx) error {
	var req verifyRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err, "Error verifying login OTP")
	}
	if err := h.svc.ConfirmLogin(c.UserContext(), req.Email, req.OTP); err != nil {
		return h.fail(c, err, "Error verifying login OTP")
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: msgLoginVerified, Success: true})
}

func (h *Handler) bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return h.validate.Struct(dst)
}

func (h *Handler) fail(c *fiber.Ctx, err error, fallback string) error {
	var (
		fields   validation.Errors
		fiberErr *fiber.Error
	)
	switch {
	case errors.As(err, &fields):
		return c.Status(http.StatusUnprocessableEntity).JSON(errorResponse{Message: msgValidation, Fields: fields})
	case errors.As(err, &fiberErr):
		return err
	case errors.Is(err, ErrAlreadyExists):
		return c.Status(http.StatusBadRequest).JSON(errorResponse{Message: msgUserExists})
	case errors.Is(err, ErrNotFound):
		return c.Status(http.StatusBadRequest).JSON(errorResponse{Message: msgUserNotFound})
	case errors.Is(err, ErrInvalidOrExpired):
		return c.Status(http.StatusBadRequest).JSON(errorResponse{Message: msgInvalidOTP})
	case errors.Is(err, ErrDelivery):
		h.logger.ErrorContext(c.UserContext(), "otp delivery failed", "path", c.Path(), "error", err)
		return c.Status(http.StatusBadGateway).JSON(errorResponse{Message: msgDeliveryFailed, Error: err.Error()})
	default:
		h.logger.ErrorContext(c.UserContext(), fallback, "path", c.Path(), "error", err)
		return c.Status(http.StatusInternalServerError).JSON(errorResponse{Message: fallback, Error: err.Error()})
	}
}
