package cart

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/domain"
	"github.com/wichananm65/pet-shop-checkout/internal/metrics"
)

// AddOptions tunes AddLine.
type AddOptions struct {
	AutoReveal bool
}

// Store owns the cart lines of one session and mirrors the remote cart.
// Every mutation goes to the remote store first and is followed by a
// refresh, so local lines are only ever replaced wholesale.
type Store struct {
	client commerce.Client
	logger *zap.Logger

	mu        sync.RWMutex
	creds     commerce.Credentials
	gen       uint64
	lines     []Line
	raw       []byte
	listeners map[int]Listener
	nextID    int

	busy atomic.Bool
}

func NewStore(client commerce.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:    client,
		logger:    logger.Named("cart"),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) emit(ctx context.Context, e Event) {
	s.mu.RLock()
	ls := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if l, ok := s.listeners[i]; ok {
			ls = append(ls, l)
		}
	}
	s.mu.RUnlock()
	for _, l := range ls {
		l(ctx, e)
	}
}

func (s *Store) Credentials() commerce.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// SetCredentials switches the cart identity. Refreshes started under the
// previous identity no longer land.
func (s *Store) SetCredentials(creds commerce.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.gen++
}

func (s *Store) identity() (commerce.Credentials, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, s.gen
}

// Busy reports whether a mutation is in flight.
func (s *Store) Busy() bool {
	return s.busy.Load()
}

func (s *Store) Lines() []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Line(nil), s.lines...)
}

func (s *Store) Snapshot() Snapshot {
	return NewSnapshot(s.Lines())
}

func (s *Store) Subtotal() decimal.Decimal {
	return Subtotal(s.Lines())
}

func (s *Store) TotalQuantity() int {
	return TotalQuantity(s.Lines())
}

// Refresh replaces local lines with the remote cart. Without any cart
// identity the cart is cleared and no remote call is made.
func (s *Store) Refresh(ctx context.Context) error {
	creds, gen := s.identity()
	if creds.Empty() {
		s.replace(ctx, gen, nil)
		return nil
	}

	start := time.Now()
	items, err := s.client.GetCart(ctx, creds)
	metrics.ObserveCartRefresh(time.Since(start))
	if err != nil {
		s.logger.Error("cart refresh failed", zap.Error(err))
		return domain.Network("refresh cart", err)
	}

	lines := make([]Line, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		lines = append(lines, lineFromItem(it))
	}
	s.replace(ctx, gen, lines)
	return nil
}

// replace swaps in lines fetched under identity generation gen and notifies
// listeners, flagging whether the serialized cart differs from the previous
// one. Lines fetched for an identity that has since been reset or switched
// are dropped.
func (s *Store) replace(ctx context.Context, gen uint64, lines []Line) {
	raw, err := json.Marshal(NewSnapshot(lines))
	if err != nil {
		s.logger.Warn("failed to encode cart snapshot", zap.Error(err))
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("discarding cart fetched for a previous identity")
		return
	}
	prev := s.raw
	s.lines = lines
	s.raw = raw
	s.mu.Unlock()

	changed := true
	if prev != nil && raw != nil {
		if patch, err := jsonpatch.CreateMergePatch(prev, raw); err == nil {
			changed = string(patch) != "{}"
			if changed {
				s.logger.Debug("cart changed", zap.ByteString("patch", patch))
			}
		}
	}
	s.emit(ctx, Event{Kind: EventRefreshed, Lines: append([]Line(nil), lines...), Changed: changed})
}

// Reset drops local lines and the cart identity without contacting the
// remote store.
func (s *Store) Reset() {
	s.mu.Lock()
	hadLines := len(s.lines) > 0
	s.lines = nil
	s.raw = nil
	s.creds = commerce.Credentials{}
	s.gen++
	s.mu.Unlock()
	s.emit(context.Background(), Event{Kind: EventRefreshed, Changed: hadLines})
}

// mutate runs fn against the remote store with the busy flag held and
// always refreshes afterwards. The remote error wins over a refresh error.
func (s *Store) mutate(ctx context.Context, op string, fn func(creds commerce.Credentials) error) (err error) {
	if !s.busy.CompareAndSwap(false, true) {
		return domain.ErrBusy
	}
	defer s.busy.Store(false)

	defer func() {
		if rerr := s.Refresh(ctx); err == nil {
			err = rerr
		}
		metrics.ObserveCartMutation(op, err)
	}()

	if ferr := fn(s.Credentials()); ferr != nil {
		s.logger.Error("cart mutation failed", zap.String("op", op), zap.Error(ferr))
		return domain.Network(op, ferr)
	}
	return nil
}

// ensureIdentity assigns an anonymous cart identity when none exists.
func (s *Store) ensureIdentity(ctx context.Context) {
	s.mu.Lock()
	if !s.creds.Empty() {
		s.mu.Unlock()
		return
	}
	s.creds.AnonymousID = uuid.NewString()
	creds := s.creds
	s.mu.Unlock()

	s.logger.Info("assigned anonymous cart identity", zap.String("anonymous_id", creds.AnonymousID))
	s.emit(ctx, Event{Kind: EventIdentity, Credentials: creds})
}

func (s *Store) AddLine(ctx context.Context, variantRef string, quantity int, opts AddOptions) error {
	variantRef = strings.TrimSpace(variantRef)
	if variantRef == "" {
		return domain.Validation("variant reference is required")
	}
	if quantity <= 0 {
		return domain.Validation("quantity must be positive")
	}
	if s.Busy() {
		return domain.ErrBusy
	}
	s.ensureIdentity(ctx)

	err := s.mutate(ctx, "add", func(creds commerce.Credentials) error {
		return s.client.AddItem(ctx, creds, variantRef, quantity)
	})
	if err != nil {
		return err
	}
	s.logger.Debug("line added", zap.String("variant_ref", variantRef), zap.Int("quantity", quantity))
	if opts.AutoReveal {
		s.emit(ctx, Event{Kind: EventReveal, Lines: s.Lines()})
	}
	return nil
}

// SetLineQuantity updates a line; a quantity of zero or less removes it.
func (s *Store) SetLineQuantity(ctx context.Context, lineID string, quantity int) error {
	if lineID == "" {
		return domain.Validation("line id is required")
	}
	if quantity <= 0 {
		return s.RemoveLines(ctx, lineID)
	}
	return s.mutate(ctx, "update", func(creds commerce.Credentials) error {
		return s.client.UpdateItem(ctx, creds, lineID, quantity)
	})
}

func (s *Store) RemoveLines(ctx context.Context, lineIDs ...string) error {
	ids := make([]string, 0, len(lineIDs))
	for _, id := range lineIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return domain.Validation("at least one line id is required")
	}
	return s.mutate(ctx, "remove", func(creds commerce.Credentials) error {
		return s.client.RemoveItems(ctx, creds, ids)
	})
}

// Clear removes every persisted line in one batch.
func (s *Store) Clear(ctx context.Context) error {
	var ids []string
	for _, l := range s.Lines() {
		if l.ID != "" {
			ids = append(ids, l.ID)
		}
	}
	if len(ids) == 0 {
		return s.Refresh(ctx)
	}
	return s.RemoveLines(ctx, ids...)
}

// Merge switches the store to the account identity and folds the anonymous
// cart into the account cart. The switch happens even when the merge call
// fails, so the following refresh shows the account cart.
func (s *Store) Merge(ctx context.Context, accountToken, anonymousID string) error {
	if accountToken == "" {
		return domain.Validation("account token is required")
	}
	return s.mutate(ctx, "merge", func(commerce.Credentials) error {
		s.SetCredentials(commerce.Credentials{AccountToken: accountToken})
		if anonymousID == "" {
			return nil
		}
		return s.client.MergeCart(ctx, accountToken, anonymousID)
	})
}
