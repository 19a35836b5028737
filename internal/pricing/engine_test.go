package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/pet-shop-checkout/internal/cart"
	"github.com/wichananm65/pet-shop-checkout/internal/checkout"
	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/domain"
	"github.com/wichananm65/pet-shop-checkout/internal/session"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixedSource struct {
	lines []cart.Line
}

func (f *fixedSource) Lines() []cart.Line { return f.lines }

func (f *fixedSource) Items() []commerce.OrderItem {
	items := make([]commerce.OrderItem, 0, len(f.lines))
	for _, l := range f.lines {
		items = append(items, commerce.OrderItem{VariantID: l.VariantRef, Quantity: l.Quantity})
	}
	return items
}

type anonCreds struct{}

func (anonCreds) Credentials() commerce.Credentials {
	return commerce.Credentials{AnonymousID: "anon"}
}

var dest = Destination{Province: "HCM", District: "d1", Ward: "w1"}

func fixture(t *testing.T) (*commerce.MemoryBackend, *fixedSource, *Engine, session.Store) {
	t.Helper()
	b := commerce.NewMemoryBackend()
	b.AddVariant(commerce.Variant{ID: "v-bowl", ProductID: "p-bowl", Price: d(500000), Stock: 10})
	b.AddVariant(commerce.Variant{ID: "v-leash", ProductID: "p-leash", Price: d(300000), Stock: 10})
	b.AddVoucher(commerce.Voucher{Code: "SAVE10", Type: commerce.VoucherPercentage, Value: d(10), Active: true})

	src := &fixedSource{lines: []cart.Line{
		{ID: "l-1", ProductRef: "p-bowl", VariantRef: "v-bowl", UnitPrice: d(500000), OriginalUnitPrice: d(550000), Quantity: 1},
		{ID: "l-2", ProductRef: "p-leash", VariantRef: "v-leash", UnitPrice: d(300000), Quantity: 2},
	}}
	store := session.NewMemoryStore()
	e := NewEngine(b, anonCreds{}, src, Options{SessionID: "tab-1", Store: store, TTL: time.Minute})
	return b, src, e, store
}

func TestGrandTotal_ClampsEachPart(t *testing.T) {
	tests := []struct {
		name                                string
		subtotal, ship, orderDisc, shipDisc int64
		want                                int64
	}{
		{"order discount larger than subtotal", 100000, 20000, 150000, 5000, 15000},
		{"shipping discount larger than fee", 100000, 20000, 0, 50000, 100000},
		{"no discounts", 1100000, 30000, 0, 0, 1130000},
		{"both oversized", 1000, 1000, 5000, 5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GrandTotal(d(tt.subtotal), d(tt.ship), d(tt.orderDisc), d(tt.shipDisc))
			assert.True(t, got.Equal(d(tt.want)), got.String())
		})
	}
}

func TestSubtotal_UsesFinalPrice(t *testing.T) {
	_, src, _, _ := fixture(t)
	assert.True(t, Subtotal(src.lines).Equal(d(1100000)))
}

func TestApplyVoucher_EndToEndTotals(t *testing.T) {
	ctx := context.Background()
	_, _, e, _ := fixture(t)

	fee, err := e.QuoteShipping(ctx, dest)
	require.NoError(t, err)
	assert.True(t, fee.Equal(d(30000)))

	applied, err := e.ApplyVoucher(ctx, "save10", dest, "cod")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", applied.Code)
	assert.True(t, applied.OrderDiscount.Equal(d(110000)))

	s := e.Summary()
	assert.True(t, s.Subtotal.Equal(d(1100000)))
	assert.True(t, s.GrandTotal.Equal(d(1020000)), s.GrandTotal.String())
	assert.True(t, s.DiscountTotal.Equal(d(110000)))
	assert.Equal(t, "SAVE10", s.VoucherCode)
}

func TestApplyVoucher_RequiresDestination(t *testing.T) {
	b, _, e, _ := fixture(t)
	_, err := e.ApplyVoucher(context.Background(), "SAVE10", Destination{District: "d1"}, "cod")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Contains(t, err.Error(), "destination incomplete")
	assert.Equal(t, 0, b.Calls(commerce.OpPreviewOrder))
}

func TestApplyVoucher_ZeroDiscountRejectsAndClears(t *testing.T) {
	ctx := context.Background()
	_, _, e, _ := fixture(t)
	_, err := e.ApplyVoucher(ctx, "SAVE10", dest, "cod")
	require.NoError(t, err)

	_, err = e.ApplyVoucher(ctx, "BOGUS", dest, "cod")
	assert.True(t, errors.Is(err, domain.ErrVoucherRejected))

	_, ok := e.Applied()
	assert.False(t, ok)
	s := e.Summary()
	assert.True(t, s.OrderDiscount.IsZero())
	assert.Empty(t, s.VoucherCode)
}

func TestApplyVoucher_NetworkFailureKeepsPriorVoucher(t *testing.T) {
	ctx := context.Background()
	b, _, e, _ := fixture(t)
	_, err := e.ApplyVoucher(ctx, "SAVE10", dest, "cod")
	require.NoError(t, err)

	b.FailNext(commerce.OpPreviewOrder, errors.New("timeout"))
	_, err = e.ApplyVoucher(ctx, "OTHER", dest, "cod")
	assert.True(t, errors.Is(err, domain.ErrNetwork))

	applied, ok := e.Applied()
	require.True(t, ok)
	assert.Equal(t, "SAVE10", applied.Code)
}

func TestApplyVoucher_SecondCodeOverwrites(t *testing.T) {
	ctx := context.Background()
	b, _, e, _ := fixture(t)
	b.AddVoucher(commerce.Voucher{Code: "FLAT50K", Type: commerce.VoucherFixed, Value: d(50000), Active: true})

	_, err := e.ApplyVoucher(ctx, "SAVE10", dest, "cod")
	require.NoError(t, err)
	_, err = e.ApplyVoucher(ctx, "FLAT50K", dest, "cod")
	require.NoError(t, err)

	applied, _ := e.Applied()
	assert.Equal(t, "FLAT50K", applied.Code)
	assert.True(t, applied.OrderDiscount.Equal(d(50000)))
}

func TestOnSelection_EmptyResetsShipping(t *testing.T) {
	ctx := context.Background()
	_, src, e, store := fixture(t)
	_, err := e.QuoteShipping(ctx, dest)
	require.NoError(t, err)
	_, err = e.ApplyVoucher(ctx, "SAVE10", dest, "cod")
	require.NoError(t, err)

	src.lines = nil
	e.OnSelection(ctx, checkout.View{Phase: checkout.PhaseNone})

	s := e.Summary()
	assert.True(t, s.ShippingFee.IsZero())
	assert.True(t, s.GrandTotal.IsZero())
	_, ok, _ := store.Get(ctx, session.DiscountPrefix+"tab-1")
	assert.False(t, ok)
}

func TestRestore_ReloadsPersistedDiscount(t *testing.T) {
	ctx := context.Background()
	b, src, e, store := fixture(t)
	_, err := e.ApplyVoucher(ctx, "SAVE10", dest, "cod")
	require.NoError(t, err)

	fresh := NewEngine(b, anonCreds{}, src, Options{SessionID: "tab-1", Store: store})
	ok, err := fresh.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, fresh.Summary().GrandTotal.Equal(d(1020000)))
}

func TestAvailableVouchers_FiltersByRule(t *testing.T) {
	ctx := context.Background()
	b, _, e, _ := fixture(t)
	b.AddVoucher(commerce.Voucher{Code: "BIGSPEND", Type: commerce.VoucherFixed, Value: d(1), MinOrderAmount: d(2000000), Active: true})
	b.AddVoucher(commerce.Voucher{Code: "USEDUP", Type: commerce.VoucherFixed, Value: d(1), UsageLimit: 3, UsedCount: 3, Active: true})
	b.AddVoucher(commerce.Voucher{Code: "OFF", Type: commerce.VoucherFixed, Value: d(1), Active: false})

	vouchers, err := e.AvailableVouchers(ctx, d(1100000))
	require.NoError(t, err)
	require.Len(t, vouchers, 1)
	assert.Equal(t, "SAVE10", vouchers[0].Code)
}

func TestReset_ClearsEverything(t *testing.T) {
	ctx := context.Background()
	_, _, e, _ := fixture(t)
	_, err := e.ApplyVoucher(ctx, "SAVE10", dest, "cod")
	require.NoError(t, err)

	e.Reset()
	s := e.Summary()
	assert.True(t, s.ShippingFee.IsZero())
	assert.Empty(t, s.VoucherCode)
	assert.False(t, s.Destination.Complete())
}
