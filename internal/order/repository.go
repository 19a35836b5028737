package order

import (
	"context"
	"sync"
	"time"

	"github.com/wichananm65/pet-shop-checkout/internal/domain"
)

// Repository keeps the local order history.
type Repository interface {
	Save(ctx context.Context, ord Order) (Order, error)

	// ListByIDs returns the orders whose id is present in ids, in the same
	// order as ids. An empty ids slice returns an empty result without
	// touching storage.
	ListByIDs(ctx context.Context, ids []string) ([]Order, error)

	// ListBySubject returns a customer's orders, newest first.
	ListBySubject(ctx context.Context, subject string) ([]Order, error)
	UpdateStatus(ctx context.Context, id, status string, updatedAt time.Time) error
}

// InMemoryRepository is used for tests and single-instance deployments.
type InMemoryRepository struct {
	mu     sync.RWMutex
	orders []Order
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

func (r *InMemoryRepository) Save(_ context.Context, ord Order) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.orders {
		if o.ID == ord.ID {
			r.orders[i] = ord
			return ord, nil
		}
	}
	r.orders = append(r.orders, ord)
	return ord, nil
}

func (r *InMemoryRepository) ListByIDs(_ context.Context, ids []string) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		for _, o := range r.orders {
			if o.ID == id {
				out = append(out, o)
				break
			}
		}
	}
	return out, nil
}

func (r *InMemoryRepository) ListBySubject(_ context.Context, subject string) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Order, 0)
	for i := len(r.orders) - 1; i >= 0; i-- {
		if r.orders[i].Subject == subject {
			out = append(out, r.orders[i])
		}
	}
	return out, nil
}

func (r *InMemoryRepository) UpdateStatus(_ context.Context, id, status string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.orders {
		if o.ID == id {
			r.orders[i].Status = status
			r.orders[i].UpdatedAt = updatedAt
			return nil
		}
	}
	return domain.ErrNotFound
}
