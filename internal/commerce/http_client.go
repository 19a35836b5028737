package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	cartPath          = "/cart"
	cartItemsPath     = "/cart/items"
	cartItemPath      = "/cart/items/%s"
	cartMergePath     = "/cart/merge"
	previewPath       = "/orders/preview"
	ordersPath        = "/orders"
	orderCancelPath   = "/orders/%s/cancel"
	paymentsPath      = "/payments"
	activeVoucherPath = "/vouchers/active"
	shippingFeePath   = "/shipping/fee"

	// AnonymousHeader carries the anonymous cart id on every cart request.
	AnonymousHeader = "X-Cart-Id"
)

// HTTPClient talks to the commerce backend over its JSON API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates a client for the backend rooted at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("commerce"),
	}
}

func (c *HTTPClient) GetCart(ctx context.Context, creds Credentials) ([]CartItem, error) {
	var resp struct {
		Items []CartItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, cartPath, creds, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *HTTPClient) AddItem(ctx context.Context, creds Credentials, variantID string, quantity int) error {
	body := map[string]any{"variantId": variantID, "quantity": quantity}
	return c.do(ctx, http.MethodPost, cartItemsPath, creds, body, nil)
}

func (c *HTTPClient) UpdateItem(ctx context.Context, creds Credentials, itemID string, quantity int) error {
	body := map[string]any{"quantity": quantity}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf(cartItemPath, url.PathEscape(itemID)), creds, body, nil)
}

func (c *HTTPClient) RemoveItems(ctx context.Context, creds Credentials, itemIDs []string) error {
	body := map[string]any{"ids": itemIDs}
	return c.do(ctx, http.MethodDelete, cartItemsPath, creds, body, nil)
}

func (c *HTTPClient) MergeCart(ctx context.Context, accountToken, anonymousID string) error {
	body := map[string]any{"anonymousId": anonymousID}
	return c.do(ctx, http.MethodPost, cartMergePath, Credentials{AccountToken: accountToken}, body, nil)
}

func (c *HTTPClient) PreviewOrder(ctx context.Context, creds Credentials, req PreviewRequest) (Preview, error) {
	var out Preview
	err := c.do(ctx, http.MethodPost, previewPath, creds, req, &out)
	return out, err
}

func (c *HTTPClient) ShippingFee(ctx context.Context, req ShippingRequest) (decimal.Decimal, error) {
	var out struct {
		Fee decimal.Decimal `json:"fee"`
	}
	if err := c.do(ctx, http.MethodPost, shippingFeePath, Credentials{}, req, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Fee, nil
}

func (c *HTTPClient) ActiveVouchers(ctx context.Context) ([]Voucher, error) {
	var out []Voucher
	if err := c.do(ctx, http.MethodGet, activeVoucherPath, Credentials{}, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateOrder(ctx context.Context, creds Credentials, req CreateOrderRequest) (CreatedOrder, error) {
	var out CreatedOrder
	err := c.do(ctx, http.MethodPost, ordersPath, creds, req, &out)
	return out, err
}

func (c *HTTPClient) CreatePayment(ctx context.Context, creds Credentials, orderID string) (PaymentSession, error) {
	var out PaymentSession
	err := c.do(ctx, http.MethodPost, paymentsPath, creds, map[string]any{"orderId": orderID}, &out)
	return out, err
}

func (c *HTTPClient) CancelOrder(ctx context.Context, creds Credentials, orderID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf(orderCancelPath, url.PathEscape(orderID)), creds, nil, &out)
	return out.Status, err
}

// do sends one JSON request and decodes a 2xx body into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, creds Credentials, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("commerce: failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("commerce: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds.AccountToken != "" {
		req.Header.Set("Authorization", "Bearer "+creds.AccountToken)
	}
	if creds.AnonymousID != "" {
		req.Header.Set(AnonymousHeader, creds.AnonymousID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("commerce: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("commerce: failed to read response: %w", err)
	}
	c.logger.Debug("commerce request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &StatusError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, serr) != nil || serr.Message == "" {
			serr.Message = http.StatusText(resp.StatusCode)
		}
		return serr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("commerce: failed to parse response: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
