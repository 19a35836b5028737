package storefront

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wichananm65/pet-shop-checkout/internal/cart"
	"github.com/wichananm65/pet-shop-checkout/internal/metrics"
	"github.com/wichananm65/pet-shop-checkout/internal/order"
	"github.com/wichananm65/pet-shop-checkout/internal/pricing"
)

const sessionLocal = "storefront.session"

type Handler struct {
	manager *Manager
	logger  *zap.Logger
}

type addItemRequest struct {
	VariantRef string `json:"variantRef"`
	Quantity   int    `json:"quantity"`
	AutoReveal bool   `json:"autoReveal"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type removeItemsRequest struct {
	LineIDs []string `json:"lineIds"`
}

type buyNowRequest struct {
	VariantRef string `json:"variantRef"`
	Quantity   int    `json:"quantity"`
}

type selectionRequest struct {
	Keys []string `json:"keys"`
}

type voucherRequest struct {
	Code          string              `json:"code"`
	Destination   pricing.Destination `json:"destination"`
	PaymentMethod string              `json:"paymentMethod"`
}

func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, logger: logger.Named("http")}
}

// RegisterRoutes mounts the cart, checkout and order endpoints. Every route
// runs inside the caller's tab session.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/v1", h.observe, h.session)

	api.Get("/cart", h.getCart)
	api.Post("/cart/items", h.addItem)
	api.Patch("/cart/items/:id", h.updateItem)
	api.Delete("/cart/items", h.removeItems)
	api.Delete("/cart", h.clearCart)

	api.Get("/checkout", h.getCheckout)
	api.Post("/checkout/buy-now", h.buyNow)
	api.Post("/checkout/selection", h.selectLines)
	api.Post("/checkout/shipping", h.quoteShipping)
	api.Post("/checkout/voucher", h.applyVoucher)
	api.Delete("/checkout/voucher", h.removeVoucher)
	api.Get("/checkout/vouchers", h.listVouchers)
	api.Post("/checkout/reload", h.markReload)
	api.Delete("/checkout", h.abandonCheckout)

	api.Post("/orders", h.submitOrder)
	api.Get("/orders", h.listOrders)
	api.Post("/orders/:id/cancel", h.cancelOrder)

	api.Post("/logout", h.logout)
}

func (h *Handler) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		if ferr, ok := err.(*fiber.Error); ok {
			status = ferr.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}
	path := c.Path()
	if r := c.Route(); r != nil && r.Path != "" {
		path = r.Path
	}
	metrics.ObserveHTTPRequest(c.Method(), path, status, time.Since(start))
	return err
}

// session resolves the tab session and applies the request identity.
func (h *Handler) session(c *fiber.Ctx) error {
	s, err := h.manager.Acquire(c.UserContext(), c.Get(HeaderSessionID), identityFromCtx(c))
	if s != nil {
		c.Set(HeaderSessionID, s.ID)
	}
	if err != nil {
		h.logger.Warn("session sync failed", zap.Error(err))
		if s == nil {
			return writeError(c, err)
		}
	}
	c.Locals(sessionLocal, s)
	err = c.Next()
	if token := s.CartToken(); token != "" {
		c.Set(HeaderCartToken, token)
	}
	return err
}

func current(c *fiber.Ctx) *Session {
	return c.Locals(sessionLocal).(*Session)
}

func cartBody(s *Session) fiber.Map {
	return fiber.Map{
		"cart":   s.Cart.Snapshot(),
		"busy":   s.Cart.Busy(),
		"reveal": s.TakeReveal(),
	}
}

func checkoutBody(s *Session) fiber.Map {
	return fiber.Map{
		"selection": s.Selection.View(),
		"pricing":   s.Pricing.Summary(),
	}
}

func (h *Handler) getCart(c *fiber.Ctx) error {
	return c.JSON(cartBody(current(c)))
}

func (h *Handler) addItem(c *fiber.Ctx) error {
	payload := new(addItemRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err)
	}
	if payload.Quantity == 0 {
		payload.Quantity = 1
	}
	s := current(c)
	if err := s.Cart.AddLine(c.UserContext(), payload.VariantRef, payload.Quantity, cart.AddOptions{AutoReveal: payload.AutoReveal}); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(cartBody(s))
}

func (h *Handler) updateItem(c *fiber.Ctx) error {
	payload := new(updateItemRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err)
	}
	s := current(c)
	if err := s.Cart.SetLineQuantity(c.UserContext(), c.Params("id"), payload.Quantity); err != nil {
		return writeError(c, err)
	}
	return c.JSON(cartBody(s))
}

func (h *Handler) removeItems(c *fiber.Ctx) error {
	payload := new(removeItemsRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err)
	}
	s := current(c)
	if err := s.Cart.RemoveLines(c.UserContext(), payload.LineIDs...); err != nil {
		return writeError(c, err)
	}
	return c.JSON(cartBody(s))
}

func (h *Handler) clearCart(c *fiber.Ctx) error {
	s := current(c)
	if err := s.Cart.Clear(c.UserContext()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(cartBody(s))
}

func (h *Handler) getCheckout(c *fiber.Ctx) error {
	return c.JSON(checkoutBody(current(c)))
}

// buyNow starts a single-item attempt: the selection waits for the line the
// add creates.
func (h *Handler) buyNow(c *fiber.Ctx) error {
	payload := new(buyNowRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err)
	}
	if payload.Quantity == 0 {
		payload.Quantity = 1
	}
	s := current(c)
	ctx := c.UserContext()
	if err := s.Selection.BuyNow(ctx, payload.VariantRef, payload.Quantity); err != nil {
		return writeError(c, err)
	}
	if err := s.Cart.AddLine(ctx, payload.VariantRef, payload.Quantity, cart.AddOptions{}); err != nil {
		s.Selection.Abandon(ctx)
		return writeError(c, err)
	}
	return c.JSON(checkoutBody(s))
}

func (h *Handler) selectLines(c *fiber.Ctx) error {
	payload := new(selectionRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err)
	}
	s := current(c)
	if err := s.Selection.Select(c.UserContext(), payload.Keys...); err != nil {
		return writeError(c, err)
	}
	return c.JSON(checkoutBody(s))
}

func (h *Handler) quoteShipping(c *fiber.Ctx) error {
	payload := new(pricing.Destination)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err)
	}
	s := current(c)
	if _, err := s.Pricing.QuoteShipping(c.UserContext(), *payload); err != nil {
		return writeError(c, err)
	}
	return c.JSON(checkoutBody(s))
}

func (h *Handler) applyVoucher(c *fiber.Ctx) error {
	payload := new(voucherRequest)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err)
	}
	s := current(c)
	if _, err := s.Pricing.ApplyVoucher(c.UserContext(), payload.Code, payload.Destination, payload.PaymentMethod); err != nil {
		return writeError(c, err)
	}
	return c.JSON(checkoutBody(s))
}

func (h *Handler) removeVoucher(c *fiber.Ctx) error {
	s := current(c)
	s.Pricing.RemoveVoucher(c.UserContext())
	return c.JSON(checkoutBody(s))
}

func (h *Handler) listVouchers(c *fiber.Ctx) error {
	s := current(c)
	vouchers, err := s.Pricing.AvailableVouchers(c.UserContext(), s.Selection.View().Subtotal)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"vouchers": vouchers})
}

func (h *Handler) markReload(c *fiber.Ctx) error {
	if err := current(c).Selection.MarkReload(c.UserContext()); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) abandonCheckout(c *fiber.Ctx) error {
	s := current(c)
	s.Selection.Abandon(c.UserContext())
	return c.JSON(checkoutBody(s))
}

func (h *Handler) submitOrder(c *fiber.Ctx) error {
	payload := new(order.Request)
	if err := c.BodyParser(payload); err != nil {
		return badRequest(c, err)
	}
	s := current(c)
	subject := s.Identity.State().Subject
	result, err := s.Orders.Submit(c.UserContext(), subject, *payload)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// listOrders serves the signed-in history, or with ?ids=a,b the orders a
// guest kept the ids of.
func (h *Handler) listOrders(c *fiber.Ctx) error {
	subject, err := SubjectFromCtx(c)
	if raw := c.Query("ids"); raw != "" {
		orders, err := current(c).Orders.Lookup(c.UserContext(), subject, splitIDs(raw))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"orders": orders})
	}
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": "UNAUTHORIZED", "message": "sign in to see your orders"})
	}
	orders, err := current(c).Orders.History(c.UserContext(), subject)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"orders": orders})
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (h *Handler) cancelOrder(c *fiber.Ctx) error {
	status, err := current(c).Orders.Cancel(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"id": c.Params("id"), "status": status})
}

// logout clears the tab synchronously; the cart token header is dropped
// with it.
func (h *Handler) logout(c *fiber.Ctx) error {
	s := current(c)
	s.Identity.Logout(c.UserContext())
	return c.JSON(cartBody(s))
}
