package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders errors that escape handlers as {"message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"message": msg})
}
