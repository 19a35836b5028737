package storefront

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/wichananm65/pet-shop-checkout/internal/domain"
)

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrEmptySelection):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrVoucherRejected):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStockConflict), errors.Is(err, domain.ErrBusy):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrPaymentInitiation), errors.Is(err, domain.ErrNetwork):
		return fiber.StatusBadGateway
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	}
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return ferr.Code
	}
	return fiber.StatusInternalServerError
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	code := "INTERNAL"
	message := "internal error"

	var derr *domain.DomainError
	var ferr *fiber.Error
	switch {
	case errors.As(err, &derr):
		code = derr.Code
		message = derr.Message
	case errors.As(err, &ferr):
		code = fiberCode(ferr.Code)
		message = ferr.Message
	}
	return c.Status(status).JSON(fiber.Map{"code": code, "message": message})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": domain.CodeValidation, "message": err.Error()})
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	}
	return "HTTP_ERROR"
}
