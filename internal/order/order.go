package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusCancelled = "cancelled"
)

// Item is one ordered variant.
type Item struct {
	VariantRef  string          `json:"variantRef"`
	ProductName string          `json:"productName,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

type Recipient struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"required,min=8,max=20"`
	Email string `json:"email" validate:"omitempty,email"`
}

type Address struct {
	Province string `json:"province"`
	District string `json:"district" validate:"required"`
	Ward     string `json:"ward" validate:"required"`
	Street   string `json:"street" validate:"max=255"`
}

// Order is a placed order as remembered by the storefront. Only Status
// changes after creation.
type Order struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Subject       string          `json:"-"`
	Items         []Item          `json:"items"`
	ShippingFee   decimal.Decimal `json:"shippingFee"`
	DiscountFee   decimal.Decimal `json:"discountFee"`
	GrandTotal    decimal.Decimal `json:"grandTotal"`
	CouponCode    string          `json:"couponCode,omitempty"`
	PaymentMethod string          `json:"paymentMethod"`
	Recipient     Recipient       `json:"recipient"`
	Address       Address         `json:"address"`
	Note          string          `json:"note,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
