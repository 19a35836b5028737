package identity

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type SignalKind string

const SignalLogout SignalKind = "logout"

// Signal is broadcast between sessions of the same browser. Origin is the
// publishing session, so a session can ignore its own signals.
type Signal struct {
	Kind    SignalKind `json:"kind"`
	Subject string     `json:"subject"`
	Origin  string     `json:"origin"`
}

// Channel carries cross-session signals. Delivery is best effort.
type Channel interface {
	Publish(ctx context.Context, sig Signal) error
	// Subscribe returns a stream of signals and a function that closes it.
	Subscribe(ctx context.Context) (<-chan Signal, func(), error)
}

const subscriberBuffer = 16

// MemoryHub is an in-process Channel.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[int]chan Signal
	nextID int
	logger *zap.Logger
}

func NewMemoryHub(logger *zap.Logger) *MemoryHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHub{subs: make(map[int]chan Signal), logger: logger.Named("hub")}
}

func (h *MemoryHub) Publish(_ context.Context, sig Signal) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- sig:
		default:
			h.logger.Warn("dropping signal for slow subscriber", zap.String("kind", string(sig.Kind)))
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(_ context.Context) (<-chan Signal, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Signal, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}, nil
}

var _ Channel = (*MemoryHub)(nil)
