// Package memory provides an in-memory implementation of the newsletter
// repository, mainly for tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/deals247/newsletter/internal/domain"
	"github.com/deals247/newsletter/internal/newsletter"
)

// compile time check of interface implementation
var _ newsletter.Repository = (*Repository)(nil)

// Repository keeps subscribers in a map keyed by exact email.
type Repository struct {
	mu          sync.Mutex
	subscribers map[string]*domain.Subscriber
	nextID      int64
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		subscribers: make(map[string]*domain.Subscriber),
	}
}

// GetByEmail returns a copy of the stored subscriber.
func (r *Repository) GetByEmail(_ context.Context, email string) (*domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subscribers[email]
	if !ok {
		return nil, newsletter.ErrSubscriberNotFound
	}
	return clone(sub), nil
}

// Create stores a copy of subscriber and assigns its ID.
func (r *Repository) Create(_ context.Context, subscriber *domain.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subscribers[subscriber.Email]; ok {
		return newsletter.ErrDuplicateEmail
	}

	r.nextID++
	subscriber.ID = r.nextID
	r.subscribers[subscriber.Email] = clone(subscriber)
	return nil
}

// Reactivate flips an inactive subscriber back to active.
func (r *Repository) Reactivate(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subscribers[email]
	if !ok || sub.IsActive() {
		return newsletter.ErrSubscriberNotFound
	}
	return sub.Reactivate()
}

// Deactivate flips an active subscriber to inactive.
func (r *Repository) Deactivate(_ context.Context, email string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subscribers[email]
	if !ok || !sub.IsActive() {
		return newsletter.ErrSubscriberNotFound
	}
	return sub.Unsubscribe(at)
}

// CountActive returns the number of active subscribers.
func (r *Repository) CountActive(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, sub := range r.subscribers {
		if sub.IsActive() {
			total++
		}
	}
	return total, nil
}

// Len returns the number of stored rows regardless of state.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// Ping always succeeds.
func (r *Repository) Ping(_ context.Context) error {
	return nil
}

func clone(sub *domain.Subscriber) *domain.Subscriber {
	c := *sub
	if sub.UnsubscribedAt != nil {
		at := *sub.UnsubscribedAt
		c.UnsubscribedAt = &at
	}
	return &c
}
