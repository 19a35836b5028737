package commerce

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Client is the remote commerce backend as seen by the storefront: cart
// persistence, order preview, vouchers, orders and payment initiation.
type Client interface {
	GetCart(ctx context.Context, creds Credentials) ([]CartItem, error)
	AddItem(ctx context.Context, creds Credentials, variantID string, quantity int) error
	UpdateItem(ctx context.Context, creds Credentials, itemID string, quantity int) error
	RemoveItems(ctx context.Context, creds Credentials, itemIDs []string) error
	MergeCart(ctx context.Context, accountToken, anonymousID string) error

	PreviewOrder(ctx context.Context, creds Credentials, req PreviewRequest) (Preview, error)
	ShippingFee(ctx context.Context, req ShippingRequest) (decimal.Decimal, error)
	ActiveVouchers(ctx context.Context) ([]Voucher, error)

	CreateOrder(ctx context.Context, creds Credentials, req CreateOrderRequest) (CreatedOrder, error)
	CreatePayment(ctx context.Context, creds Credentials, orderID string) (PaymentSession, error)
	CancelOrder(ctx context.Context, creds Credentials, orderID string) (string, error)
}

// Credentials identify whose cart a request addresses. An account token
// takes precedence over the anonymous id when both are present.
type Credentials struct {
	AnonymousID  string
	AccountToken string
}

func (c Credentials) Empty() bool {
	return c.AnonymousID == "" && c.AccountToken == ""
}

type StockStatus string

const (
	StockInStock    StockStatus = "in_stock"
	StockLow        StockStatus = "low_stock"
	StockOutOfStock StockStatus = "out_of_stock"
)

// CartItem is one persisted cart line as returned by GET cart.
type CartItem struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"productId"`
	VariantID         string          `json:"variantId"`
	ProductName       string          `json:"productName"`
	Price             decimal.Decimal `json:"price"`
	OriginalPrice     decimal.Decimal `json:"originalPrice"`
	Quantity          int             `json:"quantity"`
	StockStatus       StockStatus     `json:"stockStatus"`
	AvailableQuantity int             `json:"availableQuantity"`
}

type OrderItem struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type PreviewRequest struct {
	Items               []OrderItem `json:"items"`
	DestinationWard     string      `json:"destinationWard"`
	DestinationDistrict string      `json:"destinationDistrict"`
	PaymentMethod       string      `json:"paymentMethod"`
	VoucherCode         string      `json:"voucherCode,omitempty"`
}

type Preview struct {
	Subtotal         decimal.Decimal `json:"subtotal"`
	ShippingFee      decimal.Decimal `json:"shippingFee"`
	OrderDiscount    decimal.Decimal `json:"orderDiscount"`
	ShippingDiscount decimal.Decimal `json:"shippingDiscount"`
}

type ShippingRequest struct {
	Items               []OrderItem `json:"items"`
	DestinationProvince string      `json:"destinationProvince,omitempty"`
	DestinationDistrict string      `json:"destinationDistrict"`
	DestinationWard     string      `json:"destinationWard"`
}

type VoucherType string

const (
	VoucherPercentage   VoucherType = "percentage"
	VoucherFixed        VoucherType = "fixed"
	VoucherFreeShipping VoucherType = "free_shipping"
)

// Voucher is a summary of an active voucher. Its numbers are for display
// only; the effect of a code is always taken from PreviewOrder.
type Voucher struct {
	Code             string           `json:"code"`
	Type             VoucherType      `json:"type"`
	Description      string           `json:"description,omitempty"`
	Value            decimal.Decimal  `json:"value"`
	MinOrderAmount   decimal.Decimal  `json:"minOrderAmount"`
	MaxDiscountValue *decimal.Decimal `json:"maxDiscountValue,omitempty"`
	UsageLimit       int              `json:"usageLimit"`
	UsedCount        int              `json:"usedCount"`
	Active           bool             `json:"active"`
}

type CreateOrderRequest struct {
	Items          []OrderItem     `json:"items"`
	ShippingFee    decimal.Decimal `json:"shippingFee"`
	DiscountFee    decimal.Decimal `json:"discountFee"`
	GrandTotal     decimal.Decimal `json:"grandTotal"`
	CouponCode     string          `json:"couponCode,omitempty"`
	RecipientName  string          `json:"recipientName"`
	RecipientPhone string          `json:"recipientPhone"`
	RecipientEmail string          `json:"recipientEmail,omitempty"`
	Province       string          `json:"province,omitempty"`
	District       string          `json:"district"`
	Ward           string          `json:"ward"`
	Street         string          `json:"street,omitempty"`
	PaymentMethod  string          `json:"paymentMethod"`
	Note           string          `json:"note,omitempty"`
}

type CreatedOrder struct {
	ID         string          `json:"id"`
	Code       string          `json:"code"`
	Status     string          `json:"status"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type PaymentSession struct {
	PaymentURL string `json:"paymentUrl"`
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("commerce: status %d: %s", e.StatusCode, e.Message)
}
