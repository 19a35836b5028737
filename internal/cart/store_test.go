package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/domain"
)

func newBackend() *commerce.MemoryBackend {
	b := commerce.NewMemoryBackend()
	b.AddVariant(commerce.Variant{ID: "v-bowl", ProductID: "p-bowl", Name: "Bowl", Price: decimal.NewFromInt(500000), Stock: 10})
	b.AddVariant(commerce.Variant{ID: "v-leash", ProductID: "p-leash", Name: "Leash", Price: decimal.NewFromInt(300000), Stock: 10})
	return b
}

// blockingClient parks AddItem until release is closed.
type blockingClient struct {
	commerce.Client
	entered chan struct{}
	release chan struct{}
}

func (b *blockingClient) AddItem(ctx context.Context, creds commerce.Credentials, variantID string, qty int) error {
	close(b.entered)
	<-b.release
	return b.Client.AddItem(ctx, creds, variantID, qty)
}

func TestStore_RefreshWithoutIdentityIsEmpty(t *testing.T) {
	b := newBackend()
	s := NewStore(b, nil)

	require.NoError(t, s.Refresh(context.Background()))
	assert.Empty(t, s.Lines())
	assert.Equal(t, 0, b.Calls(commerce.OpGetCart))
}

func TestStore_AddLineAssignsIdentityAndRefreshes(t *testing.T) {
	ctx := context.Background()
	b := newBackend()
	s := NewStore(b, nil)

	var identity commerce.Credentials
	var revealed bool
	s.Subscribe(func(_ context.Context, e Event) {
		switch e.Kind {
		case EventIdentity:
			identity = e.Credentials
		case EventReveal:
			revealed = true
		}
	})

	require.NoError(t, s.AddLine(ctx, "v-bowl", 1, AddOptions{AutoReveal: true}))
	require.NoError(t, s.AddLine(ctx, "v-leash", 2, AddOptions{}))

	assert.NotEmpty(t, identity.AnonymousID)
	assert.Equal(t, identity, s.Credentials())
	assert.True(t, revealed)

	lines := s.Lines()
	require.Len(t, lines, 2)
	assert.NotEmpty(t, lines[0].ID)
	assert.True(t, s.Subtotal().Equal(decimal.NewFromInt(1100000)))
	assert.Equal(t, 3, s.TotalQuantity())
	assert.Equal(t, 2, b.Calls(commerce.OpGetCart))
}

func TestStore_AddLineValidation(t *testing.T) {
	s := NewStore(newBackend(), nil)

	err := s.AddLine(context.Background(), "  ", 1, AddOptions{})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	err = s.AddLine(context.Background(), "v-bowl", 0, AddOptions{})
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.True(t, s.Credentials().Empty())
}

func TestStore_SetQuantityZeroRemoves(t *testing.T) {
	ctx := context.Background()
	b := newBackend()
	s := NewStore(b, nil)
	require.NoError(t, s.AddLine(ctx, "v-bowl", 1, AddOptions{}))
	id := s.Lines()[0].ID

	require.NoError(t, s.SetLineQuantity(ctx, id, 0))
	assert.Empty(t, s.Lines())
	assert.Equal(t, 1, b.Calls(commerce.OpRemoveItems))
	assert.Equal(t, 0, b.Calls(commerce.OpUpdateItem))
}

func TestStore_SetQuantity(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newBackend(), nil)
	require.NoError(t, s.AddLine(ctx, "v-bowl", 1, AddOptions{}))

	require.NoError(t, s.SetLineQuantity(ctx, s.Lines()[0].ID, 4))
	assert.Equal(t, 4, s.Lines()[0].Quantity)
}

func TestStore_ClearRemovesAllInOneBatch(t *testing.T) {
	ctx := context.Background()
	b := newBackend()
	s := NewStore(b, nil)
	require.NoError(t, s.AddLine(ctx, "v-bowl", 1, AddOptions{}))
	require.NoError(t, s.AddLine(ctx, "v-leash", 1, AddOptions{}))

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.Lines())
	assert.Equal(t, 1, b.Calls(commerce.OpRemoveItems))
}

func TestStore_FailedMutationStillRefreshes(t *testing.T) {
	ctx := context.Background()
	b := newBackend()
	s := NewStore(b, nil)
	require.NoError(t, s.AddLine(ctx, "v-bowl", 1, AddOptions{}))
	refreshes := b.Calls(commerce.OpGetCart)

	b.FailNext(commerce.OpUpdateItem, errors.New("connection reset"))
	err := s.SetLineQuantity(ctx, s.Lines()[0].ID, 3)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNetwork))
	assert.Equal(t, refreshes+1, b.Calls(commerce.OpGetCart))
	assert.Equal(t, 1, s.Lines()[0].Quantity)
	assert.False(t, s.Busy())
}

func TestStore_OverlappingMutationIsBusy(t *testing.T) {
	ctx := context.Background()
	b := newBackend()
	bc := &blockingClient{Client: b, entered: make(chan struct{}), release: make(chan struct{})}
	s := NewStore(bc, nil)
	s.SetCredentials(commerce.Credentials{AnonymousID: "anon"})

	done := make(chan error, 1)
	go func() { done <- s.AddLine(ctx, "v-bowl", 1, AddOptions{}) }()
	<-bc.entered

	assert.True(t, s.Busy())
	err := s.AddLine(ctx, "v-leash", 1, AddOptions{})
	assert.True(t, errors.Is(err, domain.ErrBusy))

	close(bc.release)
	require.NoError(t, <-done)
	assert.False(t, s.Busy())
	assert.Len(t, s.Lines(), 1)
}

func TestStore_RefreshChangedFlag(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newBackend(), nil)
	s.SetCredentials(commerce.Credentials{AnonymousID: "anon"})

	var changes []bool
	s.Subscribe(func(_ context.Context, e Event) {
		if e.Kind == EventRefreshed {
			changes = append(changes, e.Changed)
		}
	})

	require.NoError(t, s.Refresh(ctx))
	require.NoError(t, s.Refresh(ctx))
	require.NoError(t, s.AddLine(ctx, "v-bowl", 1, AddOptions{}))

	assert.Equal(t, []bool{true, false, true}, changes)
}

func TestStore_ResetIsSynchronous(t *testing.T) {
	ctx := context.Background()
	b := newBackend()
	s := NewStore(b, nil)
	require.NoError(t, s.AddLine(ctx, "v-bowl", 1, AddOptions{}))
	calls := b.Calls(commerce.OpGetCart)

	s.Reset()
	assert.Empty(t, s.Lines())
	assert.True(t, s.Credentials().Empty())
	assert.Equal(t, calls, b.Calls(commerce.OpGetCart))
}

// slowCartClient parks GetCart until release is closed.
type slowCartClient struct {
	commerce.Client
	entered chan struct{}
	release chan struct{}
}

func (c *slowCartClient) GetCart(ctx context.Context, creds commerce.Credentials) ([]commerce.CartItem, error) {
	items, err := c.Client.GetCart(ctx, creds)
	close(c.entered)
	<-c.release
	return items, err
}

func TestStore_ResetDropsInFlightRefresh(t *testing.T) {
	ctx := context.Background()
	b := newBackend()
	account := commerce.Credentials{AccountToken: "tok"}
	require.NoError(t, b.AddItem(ctx, account, "v-bowl", 3))

	sc := &slowCartClient{Client: b, entered: make(chan struct{}), release: make(chan struct{})}
	s := NewStore(sc, nil)
	s.SetCredentials(account)

	done := make(chan error, 1)
	go func() { done <- s.Refresh(ctx) }()
	<-sc.entered

	s.Reset()
	close(sc.release)
	require.NoError(t, <-done)

	assert.Empty(t, s.Lines())
	assert.True(t, s.Credentials().Empty())
}

func TestStore_SwitchDropsRefreshForPreviousIdentity(t *testing.T) {
	ctx := context.Background()
	b := newBackend()
	require.NoError(t, b.AddItem(ctx, commerce.Credentials{AccountToken: "tok-a"}, "v-bowl", 1))

	sc := &slowCartClient{Client: b, entered: make(chan struct{}), release: make(chan struct{})}
	s := NewStore(sc, nil)
	s.SetCredentials(commerce.Credentials{AccountToken: "tok-a"})

	done := make(chan error, 1)
	go func() { done <- s.Refresh(ctx) }()
	<-sc.entered

	s.SetCredentials(commerce.Credentials{AccountToken: "tok-b"})
	close(sc.release)
	require.NoError(t, <-done)
	assert.Empty(t, s.Lines())
}

func TestStore_MergeSwitchesToAccount(t *testing.T) {
	ctx := context.Background()
	b := newBackend()
	s := NewStore(b, nil)
	require.NoError(t, s.AddLine(ctx, "v-bowl", 2, AddOptions{}))
	anon := s.Credentials().AnonymousID

	require.NoError(t, s.Merge(ctx, "tok-1", anon))
	assert.Equal(t, commerce.Credentials{AccountToken: "tok-1"}, s.Credentials())
	require.Len(t, s.Lines(), 1)
	assert.Equal(t, 2, s.Lines()[0].Quantity)
}

func TestLine_KeyAndConflicts(t *testing.T) {
	l := Line{ProductRef: "p", VariantRef: "v", Quantity: 3, AvailableQuantity: 2, StockStatus: commerce.StockLow}
	assert.Equal(t, "p:v", l.Key())
	assert.True(t, l.Conflicts())

	l.ID = "line-1"
	l.Quantity = 2
	assert.Equal(t, "line-1", l.Key())
	assert.False(t, l.Conflicts())

	l.StockStatus = commerce.StockOutOfStock
	assert.True(t, l.Conflicts())
}
