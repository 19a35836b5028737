package identity

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/domain"
	"github.com/wichananm65/pet-shop-checkout/internal/metrics"
)

// State is the identity seen on a request.
type State struct {
	AccountToken string `json:"-"`
	Subject      string `json:"subject,omitempty"`
	AnonymousID  string `json:"anonymousId,omitempty"`
}

func (s State) Authenticated() bool {
	return s.AccountToken != ""
}

func (s State) sameAccount(o State) bool {
	if s.Subject != "" || o.Subject != "" {
		return s.Subject == o.Subject
	}
	return s.AccountToken == o.AccountToken
}

type Transition string

const (
	TransitionNone   Transition = "none"
	TransitionLogin  Transition = "login"
	TransitionLogout Transition = "logout"
	TransitionSwitch Transition = "switch"
	TransitionRemote Transition = "remote_logout"
)

// Cart is the part of the cart store the bridge drives.
type Cart interface {
	Credentials() commerce.Credentials
	SetCredentials(creds commerce.Credentials)
	Merge(ctx context.Context, accountToken, anonymousID string) error
	Refresh(ctx context.Context) error
	Reset()
}

// Bridge keeps one session's cart consistent across identity changes.
type Bridge struct {
	sessionID string
	cart      Cart
	channel   Channel
	logger    *zap.Logger

	mu        sync.Mutex
	state     State
	resetters []func()

	cancel context.CancelFunc
	done   chan struct{}
}

func NewBridge(sessionID string, cart Cart, channel Channel, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		sessionID: sessionID,
		cart:      cart,
		channel:   channel,
		logger:    logger.Named("identity").With(zap.String("session_id", sessionID)),
	}
}

// OnReset registers fn to run whenever the session loses its identity.
func (b *Bridge) OnReset(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetters = append(b.resetters, fn)
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Observe compares next with the last seen identity and acts on the
// transition. Logout clears local state before anything touches the network.
func (b *Bridge) Observe(ctx context.Context, next State) (Transition, error) {
	b.mu.Lock()
	prev := b.state
	b.mu.Unlock()

	var t Transition
	switch {
	case prev.Authenticated() && !next.Authenticated():
		t = TransitionLogout
	case !prev.Authenticated() && next.Authenticated():
		t = TransitionLogin
	case prev.Authenticated() && next.Authenticated() && !prev.sameAccount(next):
		t = TransitionSwitch
	default:
		t = TransitionNone
	}
	if t != TransitionNone {
		metrics.ObserveIdentityTransition(string(t))
		b.logger.Info("identity transition", zap.String("transition", string(t)), zap.String("subject", next.Subject))
	}

	var err error
	switch t {
	case TransitionLogout:
		b.clear()
		b.publishLogout(ctx, prev.Subject)
		b.setState(State{})
	case TransitionLogin:
		anon := prev.AnonymousID
		if anon == "" {
			anon = next.AnonymousID
		}
		if anon == "" {
			anon = b.cart.Credentials().AnonymousID
		}
		err = b.cart.Merge(ctx, next.AccountToken, anon)
		if errors.Is(err, domain.ErrBusy) {
			// The merge never ran; stay anonymous so the next request retries it.
			b.logger.Warn("login merge deferred, cart is busy")
			return t, err
		}
		b.setState(State{AccountToken: next.AccountToken, Subject: next.Subject})
	case TransitionSwitch:
		b.clear()
		b.publishLogout(ctx, prev.Subject)
		b.setState(State{AccountToken: next.AccountToken, Subject: next.Subject})
		b.cart.SetCredentials(commerce.Credentials{AccountToken: next.AccountToken})
		err = b.cart.Refresh(ctx)
	default:
		if next.Authenticated() {
			// Same account, possibly a renewed token.
			b.setState(State{AccountToken: next.AccountToken, Subject: next.Subject})
			if b.cart.Credentials().AccountToken != next.AccountToken {
				b.cart.SetCredentials(commerce.Credentials{AccountToken: next.AccountToken})
			}
		} else {
			b.setState(State{AnonymousID: next.AnonymousID})
			b.adoptAnonymous(next.AnonymousID)
		}
	}

	if b.cart.Credentials().Empty() {
		if rerr := b.cart.Refresh(ctx); err == nil {
			err = rerr
		}
	}
	return t, err
}

// Logout clears the session as an explicit sign-out.
func (b *Bridge) Logout(ctx context.Context) {
	prev := b.State()
	metrics.ObserveIdentityTransition(string(TransitionLogout))
	b.logger.Info("identity transition", zap.String("transition", string(TransitionLogout)))
	b.clear()
	b.setState(State{})
	if prev.Authenticated() {
		b.publishLogout(ctx, prev.Subject)
	}
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

func (b *Bridge) adoptAnonymous(anonymousID string) {
	if anonymousID == "" {
		return
	}
	if creds := b.cart.Credentials(); creds.AnonymousID != anonymousID || creds.AccountToken != "" {
		b.cart.SetCredentials(commerce.Credentials{AnonymousID: anonymousID})
	}
}

// clear drops cart and discount state synchronously.
func (b *Bridge) clear() {
	b.cart.Reset()
	b.mu.Lock()
	resetters := append([]func(){}, b.resetters...)
	b.mu.Unlock()
	for _, fn := range resetters {
		fn()
	}
}

func (b *Bridge) publishLogout(ctx context.Context, subject string) {
	if b.channel == nil || subject == "" {
		return
	}
	sig := Signal{Kind: SignalLogout, Subject: subject, Origin: b.sessionID}
	if err := b.channel.Publish(ctx, sig); err != nil {
		b.logger.Warn("failed to publish logout signal", zap.Error(err))
	}
}

// Start listens for logout signals from other sessions until Stop.
func (b *Bridge) Start(ctx context.Context) error {
	if b.channel == nil {
		return nil
	}
	signals, closeSub, err := b.channel.Subscribe(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	b.mu.Lock()
	b.cancel = cancel
	b.done = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		defer closeSub()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				b.handleSignal(sig)
			}
		}
	}()
	return nil
}

func (b *Bridge) handleSignal(sig Signal) {
	if sig.Kind != SignalLogout || sig.Origin == b.sessionID {
		return
	}
	cur := b.State()
	if !cur.Authenticated() || cur.Subject == "" || cur.Subject != sig.Subject {
		return
	}
	metrics.ObserveIdentityTransition(string(TransitionRemote))
	b.logger.Info("logout signalled by another session", zap.String("origin", sig.Origin))
	b.clear()
	b.setState(State{})
}

// Stop ends the signal listener and waits for it to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
