package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/pet-shop-checkout/internal/cart"
	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/domain"
	"github.com/wichananm65/pet-shop-checkout/internal/session"
)

func line(id, product, variant string, price int64, qty int) cart.Line {
	return cart.Line{
		ID:          id,
		ProductRef:  product,
		VariantRef:  variant,
		UnitPrice:   decimal.NewFromInt(price),
		Quantity:    qty,
		StockStatus: commerce.StockInStock,
	}
}

func newSelection(store session.Store) *Selection {
	return NewSelection("tab-1", store, Options{TTL: time.Minute, ReloadTTL: time.Second}, nil)
}

func TestSelection_BuyNowResolvesOnSync(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	sel := newSelection(store)

	require.NoError(t, sel.BuyNow(ctx, "v-leash", 1))
	assert.Equal(t, PhasePending, sel.Phase())
	assert.Equal(t, "v-leash", sel.PendingVariant())
	assert.Empty(t, sel.Lines())

	// A refresh that does not yet contain the line keeps it pending.
	sel.Sync(ctx, []cart.Line{line("l-1", "p-bowl", "v-bowl", 500000, 1)})
	assert.Equal(t, PhasePending, sel.Phase())

	sel.Sync(ctx, []cart.Line{
		line("l-1", "p-bowl", "v-bowl", 500000, 1),
		line("l-2", "p-leash", "v-leash", 300000, 1),
	})
	assert.Equal(t, PhaseActive, sel.Phase())
	require.Len(t, sel.Lines(), 1)
	assert.Equal(t, "l-2", sel.Lines()[0].ID)
	assert.Equal(t, []commerce.OrderItem{{VariantID: "v-leash", Quantity: 1}}, sel.Items())

	var m marker
	ok, err := session.GetJSON(ctx, store, session.SelectionPrefix+"tab-1", &m)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"l-2"}, m.Keys)
}

func TestSelection_SelectIgnoresUnknownKeys(t *testing.T) {
	ctx := context.Background()
	sel := newSelection(session.NewMemoryStore())
	sel.Sync(ctx, []cart.Line{line("l-1", "p1", "v1", 100, 1), line("l-2", "p2", "v2", 200, 2)})

	require.NoError(t, sel.Select(ctx, "l-2", "gone"))
	view := sel.View()
	assert.Equal(t, PhaseActive, view.Phase)
	require.Len(t, view.Lines, 1)
	assert.True(t, view.Subtotal.Equal(decimal.NewFromInt(400)))

	err := sel.Select(ctx, "gone")
	assert.True(t, errors.Is(err, domain.ErrEmptySelection))
	assert.Len(t, sel.Lines(), 1)
}

func TestSelection_NarrowsWhenLineRemoved(t *testing.T) {
	ctx := context.Background()
	sel := newSelection(session.NewMemoryStore())
	sel.Sync(ctx, []cart.Line{line("l-1", "p1", "v1", 100, 1), line("l-2", "p2", "v2", 200, 1)})
	require.NoError(t, sel.Select(ctx, "l-1", "l-2"))

	sel.Sync(ctx, []cart.Line{line("l-2", "p2", "v2", 200, 1)})
	require.Len(t, sel.Lines(), 1)
	assert.Equal(t, "l-2", sel.Lines()[0].ID)
}

func TestSelection_EmptiedSelectionIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	sel := newSelection(store)
	sel.Sync(ctx, []cart.Line{line("l-1", "p1", "v1", 100, 1)})
	require.NoError(t, sel.Select(ctx, "l-1"))

	var views []View
	sel.Subscribe(func(_ context.Context, v View) { views = append(views, v) })

	sel.Sync(ctx, nil)
	assert.Equal(t, PhaseNone, sel.Phase())
	require.Len(t, views, 1)
	assert.True(t, views[0].Empty())

	_, ok, _ := store.Get(ctx, session.SelectionPrefix+"tab-1")
	assert.False(t, ok)
}

func TestSelection_CompositeKeyFollowsAssignedID(t *testing.T) {
	ctx := context.Background()
	sel := newSelection(session.NewMemoryStore())
	sel.Sync(ctx, []cart.Line{line("", "p1", "v1", 100, 1)})
	require.NoError(t, sel.Select(ctx, "p1:v1"))

	sel.Sync(ctx, []cart.Line{line("l-9", "p1", "v1", 100, 1)})
	require.Len(t, sel.Lines(), 1)
	assert.Equal(t, "l-9", sel.Lines()[0].Key())
}

func TestSelection_Conflicts(t *testing.T) {
	ctx := context.Background()
	sel := newSelection(session.NewMemoryStore())
	short := line("l-1", "p1", "v1", 100, 3)
	short.StockStatus = commerce.StockLow
	short.AvailableQuantity = 2
	sel.Sync(ctx, []cart.Line{short, line("l-2", "p2", "v2", 100, 1)})
	require.NoError(t, sel.Select(ctx, "l-1", "l-2"))

	assert.Equal(t, []string{"l-1"}, sel.Conflicts())
}

func TestSelection_ReloadRestoresOtherwiseDiscards(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	lines := []cart.Line{line("l-1", "p1", "v1", 100, 1)}

	first := newSelection(store)
	first.Sync(ctx, lines)
	require.NoError(t, first.Select(ctx, "l-1"))
	require.NoError(t, first.MarkReload(ctx))

	// Same tab after a reload.
	second := newSelection(store)
	restored, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, PhaseActive, second.Phase())
	second.Sync(ctx, lines)
	assert.Len(t, second.Lines(), 1)

	// Navigating back later without the reload flag starts over.
	third := newSelection(store)
	restored, err = third.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
	_, ok, _ := store.Get(ctx, session.SelectionPrefix+"tab-1")
	assert.False(t, ok)
}

func TestSelection_ReloadMarkerExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := session.NewMemoryStore().WithClock(func() time.Time { return now })
	sel := newSelection(store)
	sel.Sync(ctx, []cart.Line{line("l-1", "p1", "v1", 100, 1)})
	require.NoError(t, sel.Select(ctx, "l-1"))
	require.NoError(t, sel.MarkReload(ctx))

	now = now.Add(2 * time.Second)
	restored, err := newSelection(store).Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestSelection_ConsumeClearsMarkers(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	sel := newSelection(store)
	sel.Sync(ctx, []cart.Line{line("l-1", "p1", "v1", 100, 1)})
	require.NoError(t, sel.Select(ctx, "l-1"))

	sel.Consume(ctx)
	assert.Equal(t, PhaseConsumed, sel.Phase())
	assert.Empty(t, sel.Lines())
	_, ok, _ := store.Get(ctx, session.SelectionPrefix+"tab-1")
	assert.False(t, ok)

	// A consumed selection ignores later cart syncs.
	sel.Sync(ctx, []cart.Line{line("l-1", "p1", "v1", 100, 1)})
	assert.Empty(t, sel.Lines())
}

func TestSelection_BuyNowRequiresVariant(t *testing.T) {
	err := newSelection(session.NewMemoryStore()).BuyNow(context.Background(), "", 1)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	err = newSelection(session.NewMemoryStore()).BuyNow(context.Background(), "v-leash", 0)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestSelection_BuyNowCoversOnlyRequestedQuantity(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	sel := newSelection(store)

	require.NoError(t, sel.BuyNow(ctx, "v-bowl", 1))
	// The line already held two units before the buy-now add.
	sel.Sync(ctx, []cart.Line{line("l-1", "p-bowl", "v-bowl", 500000, 3)})

	require.Len(t, sel.Lines(), 1)
	assert.Equal(t, 1, sel.Lines()[0].Quantity)
	assert.Equal(t, []commerce.OrderItem{{VariantID: "v-bowl", Quantity: 1}}, sel.Items())
	assert.True(t, sel.View().Subtotal.Equal(decimal.NewFromInt(500000)))

	// Later syncs keep the cap, and it survives a reload.
	sel.Sync(ctx, []cart.Line{line("l-1", "p-bowl", "v-bowl", 500000, 4)})
	assert.Equal(t, 1, sel.Lines()[0].Quantity)

	require.NoError(t, sel.MarkReload(ctx))
	reloaded := newSelection(store)
	reloaded.Sync(ctx, []cart.Line{line("l-1", "p-bowl", "v-bowl", 500000, 3)})
	ok, err := reloaded.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, reloaded.Lines(), 1)
	assert.Equal(t, 1, reloaded.Lines()[0].Quantity)
}
