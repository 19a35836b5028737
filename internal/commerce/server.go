package commerce

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Server exposes a Client over the commerce JSON API. The development
// backend (cmd/api) serves a MemoryBackend through it.
type Server struct {
	backend Client
}

func NewServer(backend Client) *Server {
	return &Server{backend: backend}
}

func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Get(cartPath, s.getCart)
	app.Post(cartItemsPath, s.addItem)
	app.Patch("/cart/items/:id", s.updateItem)
	app.Delete(cartItemsPath, s.removeItems)
	app.Post(cartMergePath, s.mergeCart)
	app.Post(previewPath, s.previewOrder)
	app.Post(shippingFeePath, s.shippingFee)
	app.Get(activeVoucherPath, s.activeVouchers)
	app.Post(ordersPath, s.createOrder)
	app.Post("/orders/:id/cancel", s.cancelOrder)
	app.Post(paymentsPath, s.createPayment)
}

func credentialsFromCtx(c *fiber.Ctx) Credentials {
	creds := Credentials{AnonymousID: c.Get(AnonymousHeader)}
	if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		creds.AccountToken = strings.TrimPrefix(auth, "Bearer ")
	}
	return creds
}

func writeError(c *fiber.Ctx, err error) error {
	var serr *StatusError
	if errors.As(err, &serr) {
		return c.Status(serr.StatusCode).JSON(fiber.Map{"message": serr.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": msg})
}

func (s *Server) getCart(c *fiber.Ctx) error {
	items, err := s.backend.GetCart(c.UserContext(), credentialsFromCtx(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"items": items})
}

type addItemRequest struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

func (s *Server) addItem(c *fiber.Ctx) error {
	payload := new(addItemRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.backend.AddItem(c.UserContext(), credentialsFromCtx(c), payload.VariantID, payload.Quantity); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) updateItem(c *fiber.Ctx) error {
	payload := new(updateItemRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.backend.UpdateItem(c.UserContext(), credentialsFromCtx(c), c.Params("id"), payload.Quantity); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type removeItemsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) removeItems(c *fiber.Ctx) error {
	payload := new(removeItemsRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.backend.RemoveItems(c.UserContext(), credentialsFromCtx(c), payload.IDs); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type mergeRequest struct {
	AnonymousID string `json:"anonymousId"`
}

func (s *Server) mergeCart(c *fiber.Ctx) error {
	payload := new(mergeRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err.Error())
	}
	creds := credentialsFromCtx(c)
	if err := s.backend.MergeCart(c.UserContext(), creds.AccountToken, payload.AnonymousID); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) previewOrder(c *fiber.Ctx) error {
	payload := new(PreviewRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err.Error())
	}
	p, err := s.backend.PreviewOrder(c.UserContext(), credentialsFromCtx(c), *payload)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(p)
}

func (s *Server) shippingFee(c *fiber.Ctx) error {
	payload := new(ShippingRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err.Error())
	}
	fee, err := s.backend.ShippingFee(c.UserContext(), *payload)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(struct {
		Fee decimal.Decimal `json:"fee"`
	}{Fee: fee})
}

func (s *Server) activeVouchers(c *fiber.Ctx) error {
	vouchers, err := s.backend.ActiveVouchers(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(vouchers)
}

func (s *Server) createOrder(c *fiber.Ctx) error {
	payload := new(CreateOrderRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err.Error())
	}
	created, err := s.backend.CreateOrder(c.UserContext(), credentialsFromCtx(c), *payload)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

type paymentRequest struct {
	OrderID string `json:"orderId"`
}

func (s *Server) createPayment(c *fiber.Ctx) error {
	payload := new(paymentRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err.Error())
	}
	ps, err := s.backend.CreatePayment(c.UserContext(), credentialsFromCtx(c), payload.OrderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ps)
}

func (s *Server) cancelOrder(c *fiber.Ctx) error {
	status, err := s.backend.CancelOrder(c.UserContext(), credentialsFromCtx(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": status})
}
