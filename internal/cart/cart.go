package cart

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
)

// Line is one variant and quantity held in the cart. ID is empty until the
// remote store has persisted the line.
type Line struct {
	ID                string               `json:"lineId,omitempty"`
	ProductRef        string               `json:"productRef"`
	VariantRef        string               `json:"variantRef"`
	ProductName       string               `json:"productName"`
	UnitPrice         decimal.Decimal      `json:"unitPrice"`
	OriginalUnitPrice decimal.Decimal      `json:"originalUnitPrice"`
	Quantity          int                  `json:"quantity"`
	StockStatus       commerce.StockStatus `json:"stockStatus"`
	AvailableQuantity int                  `json:"availableQuantity"`
}

// Key identifies the line across refreshes: the line id once assigned,
// otherwise the product and variant pair.
func (l Line) Key() string {
	if l.ID != "" {
		return l.ID
	}
	return CompositeKey(l.ProductRef, l.VariantRef)
}

func CompositeKey(productRef, variantRef string) string {
	return productRef + ":" + variantRef
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Conflicts reports whether stock no longer covers the line.
func (l Line) Conflicts() bool {
	if l.StockStatus == commerce.StockOutOfStock {
		return true
	}
	return l.AvailableQuantity > 0 && l.Quantity > l.AvailableQuantity
}

func lineFromItem(it commerce.CartItem) Line {
	return Line{
		ID:                it.ID,
		ProductRef:        it.ProductID,
		VariantRef:        it.VariantID,
		ProductName:       it.ProductName,
		UnitPrice:         it.Price,
		OriginalUnitPrice: it.OriginalPrice,
		Quantity:          it.Quantity,
		StockStatus:       it.StockStatus,
		AvailableQuantity: it.AvailableQuantity,
	}
}

// Subtotal sums unit price times quantity. It is always recomputed from lines.
func Subtotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

func TotalQuantity(lines []Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// Snapshot is a point-in-time view of the cart with its derived values.
type Snapshot struct {
	Lines         []Line          `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalQuantity int             `json:"totalQuantity"`
}

func NewSnapshot(lines []Line) Snapshot {
	if lines == nil {
		lines = []Line{}
	}
	return Snapshot{Lines: lines, Subtotal: Subtotal(lines), TotalQuantity: TotalQuantity(lines)}
}

type EventKind string

const (
	// EventRefreshed follows every replacement of local cart state.
	EventRefreshed EventKind = "refreshed"
	// EventReveal asks the UI to open the cart preview after an add.
	EventReveal EventKind = "reveal"
	// EventIdentity reports a freshly assigned anonymous cart identity.
	EventIdentity EventKind = "identity"
)

type Event struct {
	Kind        EventKind
	Lines       []Line
	Changed     bool
	Credentials commerce.Credentials
}

// Listener receives store events synchronously on the mutating goroutine.
type Listener func(ctx context.Context, e Event)
