package commerce

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation names accepted by MemoryBackend.FailNext.
const (
	OpGetCart        = "GetCart"
	OpAddItem        = "AddItem"
	OpUpdateItem     = "UpdateItem"
	OpRemoveItems    = "RemoveItems"
	OpMergeCart      = "MergeCart"
	OpPreviewOrder   = "PreviewOrder"
	OpShippingFee    = "ShippingFee"
	OpActiveVouchers = "ActiveVouchers"
	OpCreateOrder    = "CreateOrder"
	OpCreatePayment  = "CreatePayment"
	OpCancelOrder    = "CancelOrder"
)

const lowStockThreshold = 5

// Variant is a sellable product variant in the in-memory catalog.
type Variant struct {
	ID            string
	ProductID     string
	Name          string
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
	Stock         int
}

type storedLine struct {
	id        string
	variantID string
	quantity  int
}

type storedOrder struct {
	CreatedOrder
	key           string
	paymentMethod string
}

// MemoryBackend is an in-process commerce backend used by tests and by the
// development API server. It keeps carts, vouchers and orders in memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	variants map[string]Variant
	carts    map[string][]storedLine
	vouchers map[string]Voucher
	orders   map[string]*storedOrder
	orderSeq int

	shippingByDistrict map[string]decimal.Decimal
	defaultShipping    decimal.Decimal

	paymentBaseURL  string
	omitPaymentURLs bool
	failures        map[string]error
	calls           map[string]int
	now             func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		variants:           make(map[string]Variant),
		carts:              make(map[string][]storedLine),
		vouchers:           make(map[string]Voucher),
		orders:             make(map[string]*storedOrder),
		shippingByDistrict: make(map[string]decimal.Decimal),
		defaultShipping:    decimal.NewFromInt(30000),
		paymentBaseURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		failures:           make(map[string]error),
		calls:              make(map[string]int),
		now:                time.Now,
	}
}

// AddVariant registers or replaces a catalog variant.
func (m *MemoryBackend) AddVariant(v Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.OriginalPrice.IsZero() {
		v.OriginalPrice = v.Price
	}
	m.variants[v.ID] = v
}

func (m *MemoryBackend) SetStock(variantID string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.variants[variantID]; ok {
		v.Stock = stock
		m.variants[variantID] = v
	}
}

func (m *MemoryBackend) AddVoucher(v Voucher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.Code = strings.ToUpper(v.Code)
	m.vouchers[v.Code] = v
}

// SetShippingFee sets the flat fee for a district; an empty district sets the default.
func (m *MemoryBackend) SetShippingFee(district string, fee decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if district == "" {
		m.defaultShipping = fee
		return
	}
	m.shippingByDistrict[district] = fee
}

// OmitPaymentURLs makes CreatePayment answer without a redirect url.
func (m *MemoryBackend) OmitPaymentURLs(omit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitPaymentURLs = omit
}

// FailNext makes the next call of op return err.
func (m *MemoryBackend) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// Calls reports how many times op has been invoked.
func (m *MemoryBackend) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Order returns a stored order by id.
func (m *MemoryBackend) Order(id string) (CreatedOrder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return CreatedOrder{}, false
	}
	return o.CreatedOrder, true
}

// enter records a call of op and returns any injected failure. Callers hold mu.
func (m *MemoryBackend) enter(op string) error {
	m.calls[op]++
	if err, ok := m.failures[op]; ok {
		delete(m.failures, op)
		return err
	}
	return nil
}

// accountKey keys an account cart by the token's user_id claim so a renewed
// token keeps its cart. Signatures are the storefront's concern; a token
// that does not parse is used as is.
func accountKey(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		switch v := claims["user_id"].(type) {
		case float64:
			return "acct:" + strconv.FormatInt(int64(v), 10)
		case string:
			if v != "" {
				return "acct:" + v
			}
		}
	}
	return "acct:" + token
}

func cartKey(creds Credentials) (string, error) {
	switch {
	case creds.AccountToken != "":
		return accountKey(creds.AccountToken), nil
	case creds.AnonymousID != "":
		return "anon:" + creds.AnonymousID, nil
	}
	return "", &StatusError{StatusCode: http.StatusUnauthorized, Message: "missing cart identity"}
}

func (m *MemoryBackend) GetCart(_ context.Context, creds Credentials) ([]CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetCart); err != nil {
		return nil, err
	}
	key, err := cartKey(creds)
	if err != nil {
		return nil, err
	}
	lines := m.carts[key]
	out := make([]CartItem, 0, len(lines))
	for _, l := range lines {
		v := m.variants[l.variantID]
		out = append(out, CartItem{
			ID:                l.id,
			ProductID:         v.ProductID,
			VariantID:         l.variantID,
			ProductName:       v.Name,
			Price:             v.Price,
			OriginalPrice:     v.OriginalPrice,
			Quantity:          l.quantity,
			StockStatus:       stockStatus(v.Stock),
			AvailableQuantity: v.Stock,
		})
	}
	return out, nil
}

func stockStatus(stock int) StockStatus {
	switch {
	case stock <= 0:
		return StockOutOfStock
	case stock <= lowStockThreshold:
		return StockLow
	}
	return StockInStock
}

func (m *MemoryBackend) AddItem(_ context.Context, creds Credentials, variantID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpAddItem); err != nil {
		return err
	}
	key, err := cartKey(creds)
	if err != nil {
		return err
	}
	if _, ok := m.variants[variantID]; !ok {
		return &StatusError{StatusCode: http.StatusNotFound, Message: "variant not found"}
	}
	if quantity <= 0 {
		return &StatusError{StatusCode: http.StatusBadRequest, Message: "quantity must be positive"}
	}
	m.carts[key] = addToLines(m.carts[key], variantID, quantity)
	return nil
}

func addToLines(lines []storedLine, variantID string, quantity int) []storedLine {
	for i := range lines {
		if lines[i].variantID == variantID {
			lines[i].quantity += quantity
			return lines
		}
	}
	return append(lines, storedLine{id: uuid.NewString(), variantID: variantID, quantity: quantity})
}

func (m *MemoryBackend) UpdateItem(_ context.Context, creds Credentials, itemID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpdateItem); err != nil {
		return err
	}
	key, err := cartKey(creds)
	if err != nil {
		return err
	}
	lines := m.carts[key]
	for i := range lines {
		if lines[i].id != itemID {
			continue
		}
		if quantity <= 0 {
			m.carts[key] = append(lines[:i], lines[i+1:]...)
		} else {
			lines[i].quantity = quantity
		}
		return nil
	}
	return &StatusError{StatusCode: http.StatusNotFound, Message: "cart item not found"}
}

func (m *MemoryBackend) RemoveItems(_ context.Context, creds Credentials, itemIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpRemoveItems); err != nil {
		return err
	}
	key, err := cartKey(creds)
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		drop[id] = struct{}{}
	}
	kept := make([]storedLine, 0, len(m.carts[key]))
	for _, l := range m.carts[key] {
		if _, ok := drop[l.id]; !ok {
			kept = append(kept, l)
		}
	}
	m.carts[key] = kept
	return nil
}

func (m *MemoryBackend) MergeCart(_ context.Context, accountToken, anonymousID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpMergeCart); err != nil {
		return err
	}
	if accountToken == "" {
		return &StatusError{StatusCode: http.StatusUnauthorized, Message: "account token required"}
	}
	anonKey := "anon:" + anonymousID
	acctKey := accountKey(accountToken)
	merged := m.carts[acctKey]
	for _, l := range m.carts[anonKey] {
		merged = addToLines(merged, l.variantID, l.quantity)
	}
	m.carts[acctKey] = merged
	delete(m.carts, anonKey)
	return nil
}

func (m *MemoryBackend) subtotal(items []OrderItem) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, it := range items {
		v, ok := m.variants[it.VariantID]
		if !ok {
			return decimal.Zero, &StatusError{StatusCode: http.StatusNotFound, Message: "variant not found: " + it.VariantID}
		}
		total = total.Add(v.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total, nil
}

func (m *MemoryBackend) shippingFee(items []OrderItem, district string) decimal.Decimal {
	if len(items) == 0 {
		return decimal.Zero
	}
	if fee, ok := m.shippingByDistrict[district]; ok {
		return fee
	}
	return m.defaultShipping
}

func (m *MemoryBackend) ShippingFee(_ context.Context, req ShippingRequest) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpShippingFee); err != nil {
		return decimal.Zero, err
	}
	if req.DestinationDistrict == "" || req.DestinationWard == "" {
		return decimal.Zero, &StatusError{StatusCode: http.StatusBadRequest, Message: "destination incomplete"}
	}
	return m.shippingFee(req.Items, req.DestinationDistrict), nil
}

func (m *MemoryBackend) PreviewOrder(_ context.Context, _ Credentials, req PreviewRequest) (Preview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpPreviewOrder); err != nil {
		return Preview{}, err
	}
	subtotal, err := m.subtotal(req.Items)
	if err != nil {
		return Preview{}, err
	}
	p := Preview{
		Subtotal:         subtotal,
		ShippingFee:      m.shippingFee(req.Items, req.DestinationDistrict),
		OrderDiscount:    decimal.Zero,
		ShippingDiscount: decimal.Zero,
	}
	v, ok := m.vouchers[strings.ToUpper(req.VoucherCode)]
	if !ok || !m.usable(v, subtotal) {
		return p, nil
	}
	switch v.Type {
	case VoucherPercentage:
		p.OrderDiscount = capped(subtotal.Mul(v.Value).Div(decimal.NewFromInt(100)), v.MaxDiscountValue)
	case VoucherFixed:
		p.OrderDiscount = v.Value
	case VoucherFreeShipping:
		p.ShippingDiscount = capped(p.ShippingFee, v.MaxDiscountValue)
	}
	return p, nil
}

func (m *MemoryBackend) usable(v Voucher, subtotal decimal.Decimal) bool {
	if !v.Active {
		return false
	}
	if v.UsageLimit > 0 && v.UsedCount >= v.UsageLimit {
		return false
	}
	return subtotal.GreaterThanOrEqual(v.MinOrderAmount)
}

func capped(d decimal.Decimal, limit *decimal.Decimal) decimal.Decimal {
	if limit != nil && d.GreaterThan(*limit) {
		return *limit
	}
	return d
}

func (m *MemoryBackend) ActiveVouchers(_ context.Context) ([]Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpActiveVouchers); err != nil {
		return nil, err
	}
	out := make([]Voucher, 0, len(m.vouchers))
	for _, v := range m.vouchers {
		if v.Active {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryBackend) CreateOrder(_ context.Context, creds Credentials, req CreateOrderRequest) (CreatedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCreateOrder); err != nil {
		return CreatedOrder{}, err
	}
	key, err := cartKey(creds)
	if err != nil {
		return CreatedOrder{}, err
	}
	if len(req.Items) == 0 {
		return CreatedOrder{}, &StatusError{StatusCode: http.StatusBadRequest, Message: "order has no items"}
	}
	if _, err := m.subtotal(req.Items); err != nil {
		return CreatedOrder{}, err
	}
	if code := strings.ToUpper(req.CouponCode); code != "" {
		if v, ok := m.vouchers[code]; ok {
			v.UsedCount++
			m.vouchers[code] = v
		}
	}
	m.orderSeq++
	o := &storedOrder{
		CreatedOrder: CreatedOrder{
			ID:         uuid.NewString(),
			Code:       fmt.Sprintf("ORD-%06d", m.orderSeq),
			Status:     "pending",
			GrandTotal: req.GrandTotal,
			CreatedAt:  m.now().UTC(),
		},
		key:           key,
		paymentMethod: req.PaymentMethod,
	}
	m.orders[o.ID] = o
	return o.CreatedOrder, nil
}

func (m *MemoryBackend) CreatePayment(_ context.Context, _ Credentials, orderID string) (PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCreatePayment); err != nil {
		return PaymentSession{}, err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return PaymentSession{}, &StatusError{StatusCode: http.StatusNotFound, Message: "order not found"}
	}
	if m.omitPaymentURLs {
		return PaymentSession{}, nil
	}
	return PaymentSession{PaymentURL: m.paymentBaseURL + "?vnp_TxnRef=" + o.Code}, nil
}

func (m *MemoryBackend) CancelOrder(_ context.Context, creds Credentials, orderID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCancelOrder); err != nil {
		return "", err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return "", &StatusError{StatusCode: http.StatusNotFound, Message: "order not found"}
	}
	if key, _ := cartKey(creds); key != o.key {
		return "", &StatusError{StatusCode: http.StatusForbidden, Message: "order belongs to another customer"}
	}
	if o.Status != "pending" {
		return "", &StatusError{StatusCode: http.StatusConflict, Message: "order can no longer be cancelled"}
	}
	o.Status = "cancelled"
	return o.Status, nil
}

var _ Client = (*MemoryBackend)(nil)
