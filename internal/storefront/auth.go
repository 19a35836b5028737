package storefront

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"

	"github.com/wichananm65/pet-shop-checkout/internal/identity"
)

const (
	HeaderSessionID = "X-Session-ID"
	HeaderCartToken = "X-Cart-Token"
)

// SubjectFromCtx extracts the user_id claim from the JWT token stored in
// c.Locals("user"). Requests without a token are anonymous.
func SubjectFromCtx(c *fiber.Ctx) (string, error) {
	u := c.Locals("user")
	if u == nil {
		return "", fiber.ErrUnauthorized
	}
	tok, ok := u.(*jwt.Token)
	if !ok {
		return "", fiber.ErrUnauthorized
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", fiber.ErrUnauthorized
	}
	switch v := claims["user_id"].(type) {
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case string:
		if v == "" {
			return "", fiber.ErrUnauthorized
		}
		return v, nil
	default:
		return "", fiber.ErrUnauthorized
	}
}

// identityFromCtx builds the identity a request presents: the account
// token and subject when signed in, plus any anonymous cart token.
func identityFromCtx(c *fiber.Ctx) identity.State {
	state := identity.State{AnonymousID: strings.TrimSpace(c.Get(HeaderCartToken))}
	subject, err := SubjectFromCtx(c)
	if err != nil {
		return state
	}
	token := ""
	if tok, ok := c.Locals("user").(*jwt.Token); ok {
		token = tok.Raw
	}
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
	}
	if token == "" {
		return state
	}
	state.AccountToken = token
	state.Subject = subject
	return state
}
