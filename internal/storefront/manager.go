package storefront

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wichananm65/pet-shop-checkout/internal/identity"
	"github.com/wichananm65/pet-shop-checkout/internal/metrics"
	"github.com/wichananm65/pet-shop-checkout/internal/order"
)

const defaultIdleTTL = 2 * time.Hour

// Manager owns the live sessions, keyed by tab session id.
type Manager struct {
	deps    Deps
	idleTTL time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, idleTTL time.Duration) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	// sessions share one history
	if deps.Orders == nil {
		deps.Orders = order.NewInMemoryRepository()
	}
	return &Manager{
		deps:     deps,
		idleTTL:  idleTTL,
		logger:   deps.Logger.Named("sessions"),
		sessions: make(map[string]*Session),
	}
}

// Acquire returns the session for id, creating and initialising it when it
// is not live. An empty id gets a fresh one. The request identity is
// applied to the session either way.
func (m *Manager) Acquire(ctx context.Context, id string, state identity.State) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = NewSession(id, m.deps)
		m.sessions[id] = s
		metrics.ActiveSessions.Inc()
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("session created", zap.String("session_id", id))
		return s, s.Init(ctx, state)
	}
	_, err := s.Observe(ctx, state)
	return s, err
}

// Lookup returns a live session without touching its identity.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep tears down sessions idle for longer than the idle TTL and returns
// how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.idleSince(now) > m.idleTTL {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Teardown()
		metrics.ActiveSessions.Dec()
	}
	if len(idle) > 0 {
		m.logger.Info("idle sessions swept", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Run sweeps idle sessions every interval until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.Sweep(now)
		}
	}
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Teardown()
		metrics.ActiveSessions.Dec()
	}
}
