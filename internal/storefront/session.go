package storefront

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wichananm65/pet-shop-checkout/internal/cart"
	"github.com/wichananm65/pet-shop-checkout/internal/checkout"
	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/identity"
	"github.com/wichananm65/pet-shop-checkout/internal/order"
	"github.com/wichananm65/pet-shop-checkout/internal/pricing"
	"github.com/wichananm65/pet-shop-checkout/internal/session"
)

// identityTTL bounds how long an anonymous cart token is remembered.
const identityTTL = 30 * 24 * time.Hour

// Deps are shared by every session a Manager creates.
type Deps struct {
	Client  commerce.Client
	Store   session.Store
	Channel identity.Channel
	Orders  order.Repository
	Rules   pricing.Rules

	SelectionTTL time.Duration
	ReloadTTL    time.Duration
	Submit       order.Config

	Logger *zap.Logger
}

// Session is the engine for one browser tab.
type Session struct {
	ID        string
	Cart      *cart.Store
	Identity  *identity.Bridge
	Selection *checkout.Selection
	Pricing   *pricing.Engine
	Orders    *order.Submitter

	store  session.Store
	logger *zap.Logger

	reveal   atomic.Bool
	lastSeen atomic.Int64

	mu     sync.Mutex
	unsubs []func()
}

func NewSession(id string, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := deps.Store
	if store == nil {
		store = session.NewMemoryStore()
	}

	c := cart.NewStore(deps.Client, logger)
	sel := checkout.NewSelection(id, store, checkout.Options{TTL: deps.SelectionTTL, ReloadTTL: deps.ReloadTTL}, logger)
	eng := pricing.NewEngine(deps.Client, c, sel, pricing.Options{
		SessionID: id,
		Store:     store,
		TTL:       deps.SelectionTTL,
		Rules:     deps.Rules,
		Logger:    logger,
	})

	s := &Session{
		ID:        id,
		Cart:      c,
		Identity:  identity.NewBridge(id, c, deps.Channel, logger),
		Selection: sel,
		Pricing:   eng,
		Orders:    order.NewSubmitter(deps.Client, c, sel, eng, deps.Orders, deps.Submit, logger),
		store:     store,
		logger:    logger.Named("session").With(zap.String("session_id", id)),
	}
	s.touch()

	s.unsubs = append(s.unsubs,
		c.Subscribe(s.onCartEvent),
		sel.Subscribe(eng.OnSelection),
	)
	s.Identity.OnReset(sel.Reset)
	s.Identity.OnReset(eng.Reset)
	s.Identity.OnReset(s.forgetIdentity)
	return s
}

func (s *Session) identityKey() string { return session.IdentityPrefix + s.ID }

func (s *Session) onCartEvent(ctx context.Context, e cart.Event) {
	switch e.Kind {
	case cart.EventRefreshed:
		// A pending buy-now waits for its line, so it sees every refresh.
		if !e.Changed && s.Selection.Phase() != checkout.PhasePending {
			return
		}
		s.Selection.Sync(ctx, e.Lines)
	case cart.EventReveal:
		s.reveal.Store(true)
	case cart.EventIdentity:
		if e.Credentials.AnonymousID == "" {
			return
		}
		if err := s.store.Set(ctx, s.identityKey(), []byte(e.Credentials.AnonymousID), identityTTL); err != nil {
			s.logger.Warn("failed to persist cart identity", zap.Error(err))
		}
	}
}

// forgetIdentity removes the persisted anonymous token after a logout.
func (s *Session) forgetIdentity() {
	if err := s.store.Delete(context.Background(), s.identityKey()); err != nil {
		s.logger.Warn("failed to delete cart identity", zap.Error(err))
	}
}

// Init brings a new session up: it restores a checkout attempt when the
// tab is reloading, applies the request identity and loads the cart.
func (s *Session) Init(ctx context.Context, state identity.State) error {
	if err := s.Identity.Start(context.Background()); err != nil {
		s.logger.Warn("identity listener not started", zap.Error(err))
	}

	restored, err := s.Selection.Restore(ctx)
	if err != nil {
		s.logger.Warn("failed to restore selection", zap.Error(err))
	}
	if restored {
		if _, err := s.Pricing.Restore(ctx); err != nil {
			s.logger.Warn("failed to restore pricing", zap.Error(err))
		}
	} else {
		s.Pricing.Discard(ctx)
	}

	t, err := s.Observe(ctx, state)
	if err != nil {
		return err
	}
	if t == identity.TransitionNone && !s.Cart.Credentials().Empty() {
		return s.Cart.Refresh(ctx)
	}
	return nil
}

// Observe applies the identity of the current request. A request without
// an anonymous token falls back to the one remembered for the tab. The
// token is forgotten only once a login has merged that cart.
func (s *Session) Observe(ctx context.Context, state identity.State) (identity.Transition, error) {
	s.touch()
	if state.AnonymousID == "" {
		if raw, ok, err := s.store.Get(ctx, s.identityKey()); err == nil && ok {
			state.AnonymousID = string(raw)
		}
	}
	t, err := s.Identity.Observe(ctx, state)
	if t == identity.TransitionLogin && err == nil {
		s.forgetIdentity()
	}
	return t, err
}

// TakeReveal reports whether an add asked for the cart preview since the
// last call.
func (s *Session) TakeReveal() bool {
	return s.reveal.Swap(false)
}

// CartToken is the anonymous cart identity to hand back to the client.
func (s *Session) CartToken() string {
	return s.Cart.Credentials().AnonymousID
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// Teardown detaches listeners. Persisted markers are kept so a reload can
// pick them up.
func (s *Session) Teardown() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
	s.Identity.Stop()
}
