package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/otpmail/otpmail/internal/auth"
)

// RegisterAuthRoutes wires the signup and login endpoints. Only the routes
// that send email are rate limited and replayable by Idempotency-Key; a
// verification always runs against the stored code.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, idempotent, issueLimiter fiber.Handler) {
	r.Post("/signup", idempotent, issueLimiter, h.Signup)
	r.Post("/verify-otp", h.VerifySignup)
	r.Post("/login", idempotent, issueLimiter, h.Login)
	r.Post("/login-verify", h.VerifyLogin)
}
