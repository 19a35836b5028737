package order

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wichananm65/pet-shop-checkout/internal/cart"
	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/domain"
	"github.com/wichananm65/pet-shop-checkout/internal/metrics"
	"github.com/wichananm65/pet-shop-checkout/internal/pricing"
)

const (
	settlementRedirect = "redirect"
	settlementOnSite   = "on_site"

	successPathPrefix = "/order-success/"
)

// Request carries the shipping form fields of a submission.
type Request struct {
	Recipient     Recipient `json:"recipient"`
	Address       Address   `json:"address"`
	PaymentMethod string    `json:"paymentMethod" validate:"required"`
	Note          string    `json:"note" validate:"max=500"`
}

// Result tells the caller where to send the customer next: RedirectURL for
// gateway methods, SuccessPath otherwise.
type Result struct {
	Order       Order  `json:"order"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	SuccessPath string `json:"successPath,omitempty"`
}

type Cart interface {
	Credentials() commerce.Credentials
	Lines() []cart.Line
	Refresh(ctx context.Context) error
	SetLineQuantity(ctx context.Context, lineID string, quantity int) error
	RemoveLines(ctx context.Context, lineIDs ...string) error
}

type Selection interface {
	Lines() []cart.Line
	Items() []commerce.OrderItem
	Conflicts() []string
	Consume(ctx context.Context)
}

type Pricing interface {
	Summary() pricing.Summary
	QuoteShipping(ctx context.Context, dest pricing.Destination) (decimal.Decimal, error)
	Reset()
}

type Config struct {
	// RedirectMethods are payment methods settled on an external gateway.
	RedirectMethods []string
	// MinDelay is the shortest time a submission takes.
	MinDelay time.Duration
}

// Submitter turns a priced selection into an order.
type Submitter struct {
	client    commerce.Client
	cart      Cart
	selection Selection
	pricing   Pricing
	repo      Repository
	cfg       Config
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

func NewSubmitter(client commerce.Client, c Cart, sel Selection, p Pricing, repo Repository, cfg Config, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if repo == nil {
		repo = NewInMemoryRepository()
	}
	return &Submitter{
		client:    client,
		cart:      c,
		selection: sel,
		pricing:   p,
		repo:      repo,
		cfg:       cfg,
		validate:  newValidator(),
		logger:    logger.Named("order"),
		now:       time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// IsRedirect reports whether method settles on an external gateway.
func (s *Submitter) IsRedirect(method string) bool {
	method = strings.ToLower(strings.TrimSpace(method))
	for _, m := range s.cfg.RedirectMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Submit places the order for the current selection. Nothing local changes
// unless the order is placed and, for gateway methods, a redirect url is
// obtained.
func (s *Submitter) Submit(ctx context.Context, subject string, req Request) (Result, error) {
	if err := s.validate.Struct(req); err != nil {
		return Result{}, validationError(err)
	}
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))

	// Stock status is only as fresh as the last refresh.
	if err := s.cart.Refresh(ctx); err != nil {
		return Result{}, err
	}
	lines := s.selection.Lines()
	if len(lines) == 0 {
		return Result{}, domain.ErrEmptySelection
	}
	if conflicts := s.selection.Conflicts(); len(conflicts) > 0 {
		return Result{}, domain.StockConflict(conflicts)
	}

	settlement := settlementOnSite
	if s.IsRedirect(req.PaymentMethod) {
		settlement = settlementRedirect
	}

	summary, err := s.priceFor(ctx, req.Address)
	if err != nil {
		return Result{}, err
	}
	creds := s.cart.Credentials()
	payload := commerce.CreateOrderRequest{
		Items:          s.selection.Items(),
		ShippingFee:    summary.ShippingFee,
		DiscountFee:    summary.DiscountTotal,
		GrandTotal:     summary.GrandTotal,
		CouponCode:     summary.VoucherCode,
		RecipientName:  req.Recipient.Name,
		RecipientPhone: req.Recipient.Phone,
		RecipientEmail: req.Recipient.Email,
		Province:       req.Address.Province,
		District:       req.Address.District,
		Ward:           req.Address.Ward,
		Street:         req.Address.Street,
		PaymentMethod:  req.PaymentMethod,
		Note:           req.Note,
	}

	created, err := s.create(ctx, creds, payload)
	if err != nil {
		metrics.ObserveOrderSubmission(settlement, err)
		s.logger.Error("order creation failed", zap.Error(err))
		return Result{}, domain.Network("create order", err)
	}

	result := Result{}
	if settlement == settlementRedirect {
		ps, err := s.client.CreatePayment(ctx, creds, created.ID)
		if err != nil {
			metrics.ObserveOrderSubmission(settlement, err)
			s.logger.Error("payment initiation failed", zap.String("order_code", created.Code), zap.Error(err))
			return Result{}, domain.PaymentInitiation("payment session could not be created", err)
		}
		if ps.PaymentURL == "" {
			err := domain.ErrPaymentInitiation
			metrics.ObserveOrderSubmission(settlement, err)
			s.logger.Error("payment gateway returned no redirect url", zap.String("order_code", created.Code))
			return Result{}, err
		}
		result.RedirectURL = ps.PaymentURL
	} else {
		result.SuccessPath = successPathPrefix + created.Code
	}

	now := s.now().UTC()
	ord := Order{
		ID:            created.ID,
		Code:          created.Code,
		Subject:       subject,
		Items:         orderItems(lines),
		ShippingFee:   summary.ShippingFee,
		DiscountFee:   summary.DiscountTotal,
		GrandTotal:    summary.GrandTotal,
		CouponCode:    summary.VoucherCode,
		PaymentMethod: req.PaymentMethod,
		Recipient:     req.Recipient,
		Address:       req.Address,
		Note:          req.Note,
		Status:        created.Status,
		CreatedAt:     created.CreatedAt,
		UpdatedAt:     now,
	}
	if ord.Status == "" {
		ord.Status = StatusPending
	}
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = now
	}
	if _, err := s.repo.Save(ctx, ord); err != nil {
		s.logger.Warn("failed to record order history", zap.String("order_code", ord.Code), zap.Error(err))
	}
	result.Order = ord

	metrics.ObserveOrderSubmission(settlement, nil)
	s.logger.Info("order placed",
		zap.String("order_code", ord.Code),
		zap.String("payment_method", ord.PaymentMethod),
		zap.String("grand_total", ord.GrandTotal.String()),
	)
	s.cleanup(ctx, lines)
	return result, nil
}

// priceFor returns the totals for shipping to addr. The fee is quoted again
// when the last quote was for another destination, or when there was none.
// A voucher that stops applying at the new destination fails the submission
// so the customer sees the changed total first.
func (s *Submitter) priceFor(ctx context.Context, addr Address) (pricing.Summary, error) {
	summary := s.pricing.Summary()
	if summary.Destination.District == addr.District && summary.Destination.Ward == addr.Ward {
		return summary, nil
	}
	dest := pricing.Destination{Province: addr.Province, District: addr.District, Ward: addr.Ward}
	if _, err := s.pricing.QuoteShipping(ctx, dest); err != nil {
		return pricing.Summary{}, err
	}
	requoted := s.pricing.Summary()
	if summary.VoucherCode != "" && requoted.VoucherCode == "" {
		s.logger.Warn("voucher dropped by shipping re-quote", zap.String("voucher_code", summary.VoucherCode))
		return pricing.Summary{}, domain.ErrVoucherRejected
	}
	s.logger.Debug("shipping re-quoted for submitted address",
		zap.String("district", addr.District),
		zap.String("shipping_fee", requoted.ShippingFee.String()),
	)
	return requoted, nil
}

// create calls the backend while holding the submission open for at least
// MinDelay.
func (s *Submitter) create(ctx context.Context, creds commerce.Credentials, payload commerce.CreateOrderRequest) (commerce.CreatedOrder, error) {
	var created commerce.CreatedOrder
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		created, err = s.client.CreateOrder(gctx, creds, payload)
		return err
	})
	if s.cfg.MinDelay > 0 {
		g.Go(func() error {
			t := time.NewTimer(s.cfg.MinDelay)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-gctx.Done():
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		return commerce.CreatedOrder{}, err
	}
	return created, nil
}

// cleanup takes the ordered units out of the cart and ends the attempt. A
// line holding more units than were ordered keeps the rest. A failure here
// does not undo the placed order.
func (s *Submitter) cleanup(ctx context.Context, lines []cart.Line) {
	s.selection.Consume(ctx)
	s.pricing.Reset()

	held := make(map[string]int)
	for _, l := range s.cart.Lines() {
		held[l.ID] = l.Quantity
	}
	var ids []string
	for _, l := range lines {
		if l.ID == "" {
			continue
		}
		if rest := held[l.ID] - l.Quantity; rest > 0 {
			if err := s.cart.SetLineQuantity(ctx, l.ID, rest); err != nil {
				s.logger.Warn("failed to reduce ordered line", zap.String("line_id", l.ID), zap.Error(err))
			}
			continue
		}
		ids = append(ids, l.ID)
	}
	if len(ids) == 0 {
		return
	}
	if err := s.cart.RemoveLines(ctx, ids...); err != nil {
		s.logger.Warn("failed to remove ordered lines from cart", zap.Strings("line_ids", ids), zap.Error(err))
	}
}

// Cancel asks the backend to cancel an order and mirrors the new status in
// the local history.
func (s *Submitter) Cancel(ctx context.Context, orderID string) (string, error) {
	if orderID == "" {
		return "", domain.Validation("order id is required")
	}
	status, err := s.client.CancelOrder(ctx, s.cart.Credentials(), orderID)
	if err != nil {
		var serr *commerce.StatusError
		if errors.As(err, &serr) && serr.StatusCode == 404 {
			return "", domain.ErrNotFound
		}
		return "", domain.Network("cancel order", err)
	}
	if status == "" {
		status = StatusCancelled
	}
	if err := s.repo.UpdateStatus(ctx, orderID, status, s.now().UTC()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("failed to update order history", zap.String("order_id", orderID), zap.Error(err))
	}
	return status, nil
}

// History lists the orders recorded for subject.
func (s *Submitter) History(ctx context.Context, subject string) ([]Order, error) {
	if subject == "" {
		return []Order{}, nil
	}
	return s.repo.ListBySubject(ctx, subject)
}

// Lookup returns the orders among ids that subject may see: guest orders,
// plus subject's own when subject is set. Unknown ids are skipped.
func (s *Submitter) Lookup(ctx context.Context, subject string, ids []string) ([]Order, error) {
	orders, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	visible := make([]Order, 0, len(orders))
	for _, o := range orders {
		if o.Subject == "" || o.Subject == subject {
			visible = append(visible, o)
		}
	}
	return visible, nil
}

func orderItems(lines []cart.Line) []Item {
	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, Item{
			VariantRef:  l.VariantRef,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return items
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Validation(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Request.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return domain.Validation(strings.Join(msgs, "; "))
}
