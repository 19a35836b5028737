package commerce

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContractServer(t *testing.T) (*HTTPClient, *MemoryBackend) {
	t.Helper()
	backend := seededBackend()
	app := fiber.New()
	NewServer(backend).RegisterRoutes(app)
	srv := httptest.NewServer(adaptor.FiberApp(app))
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", 5*time.Second, nil), backend
}

func TestHTTPClient_CartRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, _ := newContractServer(t)
	creds := Credentials{AnonymousID: "anon-http"}

	require.NoError(t, client.AddItem(ctx, creds, "v-bowl", 1))
	require.NoError(t, client.AddItem(ctx, creds, "v-leash", 2))

	items, err := client.GetCart(ctx, creds)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[1].Price.Equal(decimal.NewFromInt(300000)))
	assert.True(t, items[1].OriginalPrice.Equal(decimal.NewFromInt(350000)))

	require.NoError(t, client.UpdateItem(ctx, creds, items[0].ID, 4))
	require.NoError(t, client.RemoveItems(ctx, creds, []string{items[1].ID}))

	items, err = client.GetCart(ctx, creds)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].Quantity)
}

func TestHTTPClient_MergeUsesBearerToken(t *testing.T) {
	ctx := context.Background()
	client, _ := newContractServer(t)

	require.NoError(t, client.AddItem(ctx, Credentials{AnonymousID: "anon"}, "v-bowl", 2))
	require.NoError(t, client.MergeCart(ctx, "tok-7", "anon"))

	items, err := client.GetCart(ctx, Credentials{AccountToken: "tok-7"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestHTTPClient_StatusError(t *testing.T) {
	client, _ := newContractServer(t)

	err := client.AddItem(context.Background(), Credentials{AnonymousID: "a"}, "missing", 1)
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, fiber.StatusNotFound, serr.StatusCode)
	assert.Equal(t, "variant not found", serr.Message)
}

func TestHTTPClient_PricingAndOrders(t *testing.T) {
	ctx := context.Background()
	client, backend := newContractServer(t)
	backend.SetShippingFee("d1", decimal.NewFromInt(25000))
	creds := Credentials{AccountToken: "tok"}
	items := []OrderItem{{VariantID: "v-bowl", Quantity: 1}, {VariantID: "v-leash", Quantity: 2}}

	fee, err := client.ShippingFee(ctx, ShippingRequest{Items: items, DestinationDistrict: "d1", DestinationWard: "w1"})
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromInt(25000)))

	p, err := client.PreviewOrder(ctx, creds, PreviewRequest{Items: items, DestinationDistrict: "d1", DestinationWard: "w1", VoucherCode: "SAVE10"})
	require.NoError(t, err)
	assert.True(t, p.OrderDiscount.Equal(decimal.NewFromInt(110000)))

	vouchers, err := client.ActiveVouchers(ctx)
	require.NoError(t, err)
	require.Len(t, vouchers, 1)
	assert.Equal(t, "SAVE10", vouchers[0].Code)

	created, err := client.CreateOrder(ctx, creds, CreateOrderRequest{Items: items, GrandTotal: decimal.NewFromInt(1015000)})
	require.NoError(t, err)
	assert.Equal(t, "ORD-000001", created.Code)

	ps, err := client.CreatePayment(ctx, creds, created.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, ps.PaymentURL)

	status, err := client.CancelOrder(ctx, creds, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", status)
}

func TestHTTPClient_TransportFailure(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1", time.Second, nil)
	_, err := client.GetCart(context.Background(), Credentials{AnonymousID: "a"})
	require.Error(t, err)
	var serr *StatusError
	assert.False(t, errors.As(err, &serr))
}
