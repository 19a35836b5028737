package checkout

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wichananm65/pet-shop-checkout/internal/cart"
	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/domain"
	"github.com/wichananm65/pet-shop-checkout/internal/session"
)

type Phase string

const (
	PhaseNone     Phase = "none"
	PhasePending  Phase = "pending"
	PhaseActive   Phase = "active"
	PhaseConsumed Phase = "consumed"
)

// View is what a subscriber sees after each selection change.
type View struct {
	Phase          Phase           `json:"phase"`
	PendingVariant string          `json:"pendingVariant,omitempty"`
	Lines          []cart.Line     `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TotalQuantity  int             `json:"totalQuantity"`
	Conflicts      []string        `json:"conflicts,omitempty"`
}

func (v View) Empty() bool {
	return len(v.Lines) == 0
}

// marker is the persisted form of a selection.
type marker struct {
	Phase          Phase    `json:"phase"`
	PendingVariant string   `json:"pendingVariant,omitempty"`
	Quantity       int      `json:"quantity,omitempty"`
	Keys           []string `json:"keys,omitempty"`
}

type Options struct {
	TTL       time.Duration
	ReloadTTL time.Duration
}

// Selection tracks which cart lines one checkout attempt covers.
//
// A buy-now request starts in PhasePending holding only a variant; the next
// cart sync resolves it to the line the remote store created. That line may
// also hold units added earlier, so a buy-now selection only covers the
// requested quantity. Active selections are narrowed on every sync to lines
// still in the cart.
type Selection struct {
	store     session.Store
	sessionID string
	opts      Options
	logger    *zap.Logger

	mu             sync.Mutex
	phase          Phase
	pendingVariant string
	quantity       int
	keys           []string
	lines          []cart.Line
	cartLines      []cart.Line
	listeners      map[int]func(context.Context, View)
	nextID         int
}

func NewSelection(sessionID string, store session.Store, opts Options, logger *zap.Logger) *Selection {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.ReloadTTL <= 0 {
		opts.ReloadTTL = 10 * time.Second
	}
	return &Selection{
		store:     store,
		sessionID: sessionID,
		opts:      opts,
		logger:    logger.Named("checkout").With(zap.String("session_id", sessionID)),
		phase:     PhaseNone,
		listeners: make(map[int]func(context.Context, View)),
	}
}

func (s *Selection) selectionKey() string { return session.SelectionPrefix + s.sessionID }
func (s *Selection) reloadKey() string    { return session.ReloadPrefix + s.sessionID }

func (s *Selection) Subscribe(fn func(ctx context.Context, v View)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Selection) notify(ctx context.Context) {
	s.mu.Lock()
	v := s.viewLocked()
	fns := make([]func(context.Context, View), 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ctx, v)
	}
}

func (s *Selection) viewLocked() View {
	lines := append([]cart.Line{}, s.lines...)
	v := View{
		Phase:          s.phase,
		PendingVariant: s.pendingVariant,
		Lines:          lines,
		Subtotal:       cart.Subtotal(lines),
		TotalQuantity:  cart.TotalQuantity(lines),
	}
	for _, l := range lines {
		if l.Conflicts() {
			v.Conflicts = append(v.Conflicts, l.Key())
		}
	}
	return v
}

func (s *Selection) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Selection) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Selection) PendingVariant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingVariant
}

func (s *Selection) Lines() []cart.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cart.Line(nil), s.lines...)
}

// Items returns the order items for the selected lines.
func (s *Selection) Items() []commerce.OrderItem {
	lines := s.Lines()
	items := make([]commerce.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, commerce.OrderItem{VariantID: l.VariantRef, Quantity: l.Quantity})
	}
	return items
}

// Conflicts lists the keys of selected lines whose stock no longer covers them.
func (s *Selection) Conflicts() []string {
	return s.View().Conflicts
}

// BuyNow starts a single-item attempt for quantity units of variantRef. It
// stays pending until a cart sync shows the line for that variant.
func (s *Selection) BuyNow(ctx context.Context, variantRef string, quantity int) error {
	variantRef = strings.TrimSpace(variantRef)
	if variantRef == "" {
		return domain.Validation("variant reference is required")
	}
	if quantity <= 0 {
		return domain.Validation("quantity must be positive")
	}
	s.mu.Lock()
	s.phase = PhasePending
	s.pendingVariant = variantRef
	s.quantity = quantity
	s.keys = nil
	s.lines = nil
	m := s.markerLocked()
	s.mu.Unlock()

	if err := s.persist(ctx, m); err != nil {
		return err
	}
	s.logger.Debug("buy now pending", zap.String("variant_ref", variantRef))
	s.notify(ctx)
	return nil
}

// Select activates a selection over the given line keys. Keys not in the
// current cart are ignored; selecting nothing that exists is an error.
func (s *Selection) Select(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return domain.ErrEmptySelection
	}
	s.mu.Lock()
	lines := filterLines(s.cartLines, keys)
	if len(lines) == 0 {
		s.mu.Unlock()
		return domain.ErrEmptySelection
	}
	s.phase = PhaseActive
	s.pendingVariant = ""
	s.quantity = 0
	s.lines = lines
	s.keys = lineKeys(lines)
	m := s.markerLocked()
	s.mu.Unlock()

	if err := s.persist(ctx, m); err != nil {
		return err
	}
	s.notify(ctx)
	return nil
}

// Sync receives the latest cart lines, resolves a pending buy-now and
// narrows an active selection.
func (s *Selection) Sync(ctx context.Context, lines []cart.Line) {
	s.mu.Lock()
	s.cartLines = append([]cart.Line(nil), lines...)

	switch s.phase {
	case PhasePending:
		for _, l := range lines {
			if l.VariantRef == s.pendingVariant {
				s.phase = PhaseActive
				s.pendingVariant = ""
				s.lines = s.limitLocked([]cart.Line{l})
				s.keys = []string{l.Key()}
				break
			}
		}
		if s.phase == PhasePending {
			s.mu.Unlock()
			return
		}
		s.logger.Debug("buy now resolved", zap.Strings("keys", s.keys))
	case PhaseActive:
		s.lines = s.limitLocked(filterLines(lines, s.keys))
		if len(s.lines) == 0 {
			s.logger.Info("selection emptied by cart change")
			s.discardLocked()
			s.mu.Unlock()
			s.deleteMarkers(ctx)
			s.notify(ctx)
			return
		}
		s.keys = lineKeys(s.lines)
	default:
		s.mu.Unlock()
		return
	}
	m := s.markerLocked()
	s.mu.Unlock()

	if err := s.persist(ctx, m); err != nil {
		s.logger.Warn("failed to persist selection", zap.Error(err))
	}
	s.notify(ctx)
}

// Consume ends the attempt after a successful order.
func (s *Selection) Consume(ctx context.Context) {
	s.mu.Lock()
	s.discardLocked()
	s.phase = PhaseConsumed
	s.mu.Unlock()
	s.deleteMarkers(ctx)
	s.notify(ctx)
}

// Abandon drops the attempt without an order.
func (s *Selection) Abandon(ctx context.Context) {
	s.mu.Lock()
	s.discardLocked()
	s.mu.Unlock()
	s.deleteMarkers(ctx)
	s.notify(ctx)
}

// Reset clears the selection synchronously. Marker removal is best effort.
func (s *Selection) Reset() {
	s.Abandon(context.Background())
}

// MarkReload flags the next Restore as a reload of the same attempt.
func (s *Selection) MarkReload(ctx context.Context) error {
	if s.Phase() == PhaseNone {
		return nil
	}
	return s.store.Set(ctx, s.reloadKey(), []byte("1"), s.opts.ReloadTTL)
}

// Restore reloads a persisted selection when the reload marker is present.
// Without it the attempt was abandoned and any stale selection is dropped.
func (s *Selection) Restore(ctx context.Context) (bool, error) {
	_, reloading, err := s.store.Get(ctx, s.reloadKey())
	if err != nil {
		return false, err
	}
	if !reloading {
		if err := s.store.Delete(ctx, s.selectionKey()); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := s.store.Delete(ctx, s.reloadKey()); err != nil {
		return false, err
	}

	var m marker
	ok, err := session.GetJSON(ctx, s.store, s.selectionKey(), &m)
	if err != nil || !ok {
		return false, err
	}

	s.mu.Lock()
	s.phase = m.Phase
	s.pendingVariant = m.PendingVariant
	s.quantity = m.Quantity
	s.keys = m.Keys
	s.lines = nil
	if s.phase == PhaseActive {
		s.lines = s.limitLocked(filterLines(s.cartLines, s.keys))
	}
	s.mu.Unlock()
	s.logger.Debug("selection restored", zap.String("phase", string(m.Phase)))
	return true, nil
}

// limitLocked caps buy-now lines at the requested quantity.
func (s *Selection) limitLocked(lines []cart.Line) []cart.Line {
	if s.quantity <= 0 {
		return lines
	}
	out := make([]cart.Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity > s.quantity {
			l.Quantity = s.quantity
		}
		out = append(out, l)
	}
	return out
}

func (s *Selection) discardLocked() {
	s.phase = PhaseNone
	s.pendingVariant = ""
	s.quantity = 0
	s.keys = nil
	s.lines = nil
}

func (s *Selection) markerLocked() marker {
	return marker{Phase: s.phase, PendingVariant: s.pendingVariant, Quantity: s.quantity, Keys: append([]string(nil), s.keys...)}
}

func (s *Selection) persist(ctx context.Context, m marker) error {
	return session.SetJSON(ctx, s.store, s.selectionKey(), m, s.opts.TTL)
}

func (s *Selection) deleteMarkers(ctx context.Context) {
	if err := s.store.Delete(ctx, s.selectionKey(), s.reloadKey()); err != nil {
		s.logger.Warn("failed to delete selection markers", zap.Error(err))
	}
}

// filterLines keeps lines matching keys by line id or, for keys recorded
// before the id was known, by the product and variant pair.
func filterLines(lines []cart.Line, keys []string) []cart.Line {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	var out []cart.Line
	for _, l := range lines {
		if _, ok := want[l.Key()]; ok {
			out = append(out, l)
			continue
		}
		if _, ok := want[cart.CompositeKey(l.ProductRef, l.VariantRef)]; ok {
			out = append(out, l)
		}
	}
	return out
}

func lineKeys(lines []cart.Line) []string {
	keys := make([]string, 0, len(lines))
	for _, l := range lines {
		keys = append(keys, l.Key())
	}
	return keys
}
