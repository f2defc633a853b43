// Package newsletter provides newsletter subscription management.
package newsletter

import (
	"context"
	"time"

	"github.com/deals247/newsletter/internal/domain"
)

// Repository defines the interface for subscriber data access.
type Repository interface {
	// GetByEmail returns ErrSubscriberNotFound when no row matches exactly.
	GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error)

	// Create inserts an active subscriber and fills ID. Returns
	// ErrDuplicateEmail when the email already has a row.
	Create(ctx context.Context, subscriber *domain.Subscriber) error

	// Reactivate flips an inactive row to active and clears unsubscribed_at.
	// Returns ErrSubscriberNotFound when no inactive row matches.
	Reactivate(ctx context.Context, email string) error

	// Deactivate flips an active row to inactive and stamps unsubscribed_at.
	// Returns ErrSubscriberNotFound when no active row matches.
	Deactivate(ctx context.Context, email string, at time.Time) error

	CountActive(ctx context.Context) (int64, error)
}

// WelcomeSender delivers the welcome mail after a successful subscription.
type WelcomeSender interface {
	SendWelcome(ctx context.Context, email string) error
}
