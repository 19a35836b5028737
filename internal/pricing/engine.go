package pricing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wichananm65/pet-shop-checkout/internal/cart"
	"github.com/wichananm65/pet-shop-checkout/internal/checkout"
	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/domain"
	"github.com/wichananm65/pet-shop-checkout/internal/metrics"
	"github.com/wichananm65/pet-shop-checkout/internal/session"
)

// Subtotal prices lines at their final unit price.
func Subtotal(lines []cart.Line) decimal.Decimal {
	return cart.Subtotal(lines)
}

// GrandTotal clamps the order and shipping parts separately, so neither
// discount can eat into the other part.
func GrandTotal(subtotal, shippingFee, orderDiscount, shippingDiscount decimal.Decimal) decimal.Decimal {
	goods := decimal.Max(decimal.Zero, subtotal.Sub(orderDiscount))
	shipping := decimal.Max(decimal.Zero, shippingFee.Sub(shippingDiscount))
	return goods.Add(shipping)
}

type Destination struct {
	Province string `json:"province"`
	District string `json:"district" validate:"required"`
	Ward     string `json:"ward" validate:"required"`
}

// Complete reports whether the destination can be priced.
func (d Destination) Complete() bool {
	return d.District != "" && d.Ward != ""
}

type AppliedVoucher struct {
	Code             string          `json:"code"`
	OrderDiscount    decimal.Decimal `json:"orderDiscount"`
	ShippingDiscount decimal.Decimal `json:"shippingDiscount"`
}

type Summary struct {
	Subtotal         decimal.Decimal `json:"subtotal"`
	ShippingFee      decimal.Decimal `json:"shippingFee"`
	OrderDiscount    decimal.Decimal `json:"orderDiscount"`
	ShippingDiscount decimal.Decimal `json:"shippingDiscount"`
	DiscountTotal    decimal.Decimal `json:"discountTotal"`
	GrandTotal       decimal.Decimal `json:"grandTotal"`
	VoucherCode      string          `json:"voucherCode,omitempty"`
	Destination      Destination     `json:"destination"`
	PaymentMethod    string          `json:"paymentMethod,omitempty"`
}

// Source is the checkout selection being priced.
type Source interface {
	Lines() []cart.Line
	Items() []commerce.OrderItem
}

type CredentialSource interface {
	Credentials() commerce.Credentials
}

type Options struct {
	SessionID string
	Store     session.Store
	TTL       time.Duration
	Rules     Rules
	Logger    *zap.Logger
}

// discountMarker is the persisted pricing state of one attempt.
type discountMarker struct {
	Voucher       *AppliedVoucher `json:"voucher,omitempty"`
	ShippingFee   decimal.Decimal `json:"shippingFee"`
	Destination   Destination     `json:"destination"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
}

// Engine prices the checkout selection. Discounts only ever come from the
// server preview; voucher metadata is never used to compute them.
type Engine struct {
	client commerce.Client
	creds  CredentialSource
	source Source
	opts   Options
	logger *zap.Logger

	mu            sync.Mutex
	destination   Destination
	paymentMethod string
	shippingFee   decimal.Decimal
	applied       *AppliedVoucher
}

func NewEngine(client commerce.Client, creds CredentialSource, source Source, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if len(opts.Rules.VoucherEligibility) == 0 {
		opts.Rules = DefaultRules()
	}
	return &Engine{
		client: client,
		creds:  creds,
		source: source,
		opts:   opts,
		logger: logger.Named("pricing").With(zap.String("session_id", opts.SessionID)),
	}
}

func (e *Engine) markerKey() string {
	return session.DiscountPrefix + e.opts.SessionID
}

func (e *Engine) Summary() Summary {
	subtotal := Subtotal(e.source.Lines())

	e.mu.Lock()
	defer e.mu.Unlock()
	s := Summary{
		Subtotal:         subtotal,
		ShippingFee:      e.shippingFee,
		OrderDiscount:    decimal.Zero,
		ShippingDiscount: decimal.Zero,
		Destination:      e.destination,
		PaymentMethod:    e.paymentMethod,
	}
	if e.applied != nil {
		s.VoucherCode = e.applied.Code
		s.OrderDiscount = e.applied.OrderDiscount
		s.ShippingDiscount = e.applied.ShippingDiscount
	}
	s.GrandTotal = GrandTotal(s.Subtotal, s.ShippingFee, s.OrderDiscount, s.ShippingDiscount)
	s.DiscountTotal = s.Subtotal.Add(s.ShippingFee).Sub(s.GrandTotal)
	return s
}

func (e *Engine) Applied() (AppliedVoucher, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applied == nil {
		return AppliedVoucher{}, false
	}
	return *e.applied, true
}

// QuoteShipping fetches the shipping fee for the selection to dest. An
// applied voucher is re-evaluated against the new fee.
func (e *Engine) QuoteShipping(ctx context.Context, dest Destination) (decimal.Decimal, error) {
	if !dest.Complete() {
		return decimal.Zero, domain.Validation("destination incomplete")
	}
	items := e.source.Items()
	fee := decimal.Zero
	if len(items) > 0 {
		var err error
		fee, err = e.client.ShippingFee(ctx, commerce.ShippingRequest{
			Items:               items,
			DestinationProvince: dest.Province,
			DestinationDistrict: dest.District,
			DestinationWard:     dest.Ward,
		})
		if err != nil {
			e.logger.Error("shipping quote failed", zap.Error(err))
			return decimal.Zero, domain.Network("quote shipping", err)
		}
	}

	e.mu.Lock()
	e.destination = dest
	e.shippingFee = fee
	applied := e.applied
	method := e.paymentMethod
	e.mu.Unlock()

	if applied != nil {
		if _, err := e.ApplyVoucher(ctx, applied.Code, dest, method); err != nil {
			e.logger.Warn("voucher no longer applies after shipping change", zap.String("voucher_code", applied.Code), zap.Error(err))
		}
	}
	e.persist(ctx)
	return fee, nil
}

// ApplyVoucher evaluates code through the server preview. A preview with
// no discount at all rejects the code and drops any applied voucher.
func (e *Engine) ApplyVoucher(ctx context.Context, code string, dest Destination, paymentMethod string) (AppliedVoucher, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return AppliedVoucher{}, domain.Validation("voucher code is required")
	}
	if !dest.Complete() {
		return AppliedVoucher{}, domain.Validation("destination incomplete")
	}
	items := e.source.Items()
	if len(items) == 0 {
		return AppliedVoucher{}, domain.ErrEmptySelection
	}

	preview, err := e.client.PreviewOrder(ctx, e.creds.Credentials(), commerce.PreviewRequest{
		Items:               items,
		DestinationWard:     dest.Ward,
		DestinationDistrict: dest.District,
		PaymentMethod:       paymentMethod,
		VoucherCode:         code,
	})
	if err != nil {
		metrics.ObserveVoucher(metrics.OutcomeError)
		e.logger.Error("voucher preview failed", zap.String("voucher_code", code), zap.Error(err))
		return AppliedVoucher{}, domain.Network("preview order", err)
	}

	e.mu.Lock()
	e.destination = dest
	e.paymentMethod = paymentMethod
	if !preview.ShippingFee.IsZero() {
		e.shippingFee = preview.ShippingFee
	}
	if !preview.OrderDiscount.IsPositive() && !preview.ShippingDiscount.IsPositive() {
		e.applied = nil
		e.mu.Unlock()
		metrics.ObserveVoucher(metrics.OutcomeRejected)
		e.logger.Warn("voucher rejected", zap.String("voucher_code", code))
		e.persist(ctx)
		return AppliedVoucher{}, domain.ErrVoucherRejected
	}
	applied := AppliedVoucher{
		Code:             code,
		OrderDiscount:    preview.OrderDiscount,
		ShippingDiscount: preview.ShippingDiscount,
	}
	e.applied = &applied
	e.mu.Unlock()

	metrics.ObserveVoucher(metrics.OutcomeApplied)
	e.logger.Info("voucher applied",
		zap.String("voucher_code", code),
		zap.String("order_discount", applied.OrderDiscount.String()),
		zap.String("shipping_discount", applied.ShippingDiscount.String()),
	)
	e.persist(ctx)
	return applied, nil
}

func (e *Engine) RemoveVoucher(ctx context.Context) {
	e.mu.Lock()
	e.applied = nil
	e.mu.Unlock()
	e.persist(ctx)
}

// OnSelection follows selection changes. An empty selection drops the
// shipping fee and any voucher; a changed one has its voucher re-checked.
func (e *Engine) OnSelection(ctx context.Context, v checkout.View) {
	if v.Empty() {
		e.mu.Lock()
		e.shippingFee = decimal.Zero
		e.applied = nil
		e.mu.Unlock()
		e.Discard(ctx)
		return
	}

	e.mu.Lock()
	applied, dest, method := e.applied, e.destination, e.paymentMethod
	e.mu.Unlock()
	if applied == nil || !dest.Complete() {
		return
	}
	if _, err := e.ApplyVoucher(ctx, applied.Code, dest, method); err != nil {
		e.logger.Warn("voucher re-check failed", zap.String("voucher_code", applied.Code), zap.Error(err))
	}
}

// AvailableVouchers lists active vouchers the eligibility rule accepts for
// subtotal. The list is advisory; ApplyVoucher is the real check.
func (e *Engine) AvailableVouchers(ctx context.Context, subtotal decimal.Decimal) ([]commerce.Voucher, error) {
	all, err := e.client.ActiveVouchers(ctx)
	if err != nil {
		return nil, domain.Network("list vouchers", err)
	}
	out := make([]commerce.Voucher, 0, len(all))
	for _, v := range all {
		ok, err := e.opts.Rules.Eligible(v, subtotal)
		if err != nil {
			e.logger.Warn("eligibility rule failed", zap.String("voucher_code", v.Code), zap.Error(err))
			continue
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Reset drops all pricing state synchronously.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.destination = Destination{}
	e.paymentMethod = ""
	e.shippingFee = decimal.Zero
	e.applied = nil
	e.mu.Unlock()
	e.Discard(context.Background())
}

// Restore reloads the pricing state persisted for this session.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	if e.opts.Store == nil {
		return false, nil
	}
	var m discountMarker
	ok, err := session.GetJSON(ctx, e.opts.Store, e.markerKey(), &m)
	if err != nil || !ok {
		return false, err
	}
	e.mu.Lock()
	e.applied = m.Voucher
	e.shippingFee = m.ShippingFee
	e.destination = m.Destination
	e.paymentMethod = m.PaymentMethod
	e.mu.Unlock()
	return true, nil
}

// Discard removes the persisted pricing state.
func (e *Engine) Discard(ctx context.Context) {
	if e.opts.Store == nil {
		return
	}
	if err := e.opts.Store.Delete(ctx, e.markerKey()); err != nil {
		e.logger.Warn("failed to delete discount marker", zap.Error(err))
	}
}

func (e *Engine) persist(ctx context.Context) {
	if e.opts.Store == nil {
		return
	}
	e.mu.Lock()
	m := discountMarker{
		Voucher:       e.applied,
		ShippingFee:   e.shippingFee,
		Destination:   e.destination,
		PaymentMethod: e.paymentMethod,
	}
	e.mu.Unlock()
	if err := session.SetJSON(ctx, e.opts.Store, e.markerKey(), m, e.opts.TTL); err != nil {
		e.logger.Warn("failed to persist discount marker", zap.Error(err))
	}
}
