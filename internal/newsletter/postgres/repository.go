// Package postgres provides PostgreSQL implementation of the newsletter repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deals247/newsletter/internal/domain"
	"github.com/deals247/newsletter/internal/newsletter"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository implements newsletter.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetByEmail retrieves a subscriber by exact email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	query := `
		SELECT id, email, is_active, subscribed_at, unsubscribed_at, subscription_source
		FROM newsletter_subscribers
		WHERE email = $1
	`
	var (
		sub    domain.Subscriber
		active bool
	)
	err := r.db.QueryRow(ctx, query, email).Scan(
		&sub.ID,
		&sub.Email,
		&active,
		&sub.SubscribedAt,
		&sub.UnsubscribedAt,
		&sub.Source,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newsletter.ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	sub.Status = domain.StatusFromActive(active)
	return &sub, nil
}

// Create inserts a new subscriber.
func (r *Repository) Create(ctx context.Context, sub *domain.Subscriber) error {
	query := `
		INSERT INTO newsletter_subscribers (email, is_active, subscribed_at, subscription_source)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		sub.Email,
		sub.IsActive(),
		sub.SubscribedAt,
		sub.Source,
	).Scan(&sub.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return newsletter.ErrDuplicateEmail
		}
		return fmt.Errorf("create subscriber: %w", err)
	}
	return nil
}

// Reactivate marks an inactive subscriber active again.
func (r *Repository) Reactivate(ctx context.Context, email string) error {
	query := `
		UPDATE newsletter_subscribers
		SET is_active = TRUE, unsubscribed_at = NULL
		WHERE email = $1 AND is_active = FALSE
	`
	result, err := r.db.Exec(ctx, query, email)
	if err != nil {
		return fmt.Errorf("reactivate subscriber: %w", err)
	}
	if result.RowsAffected() == 0 {
		return newsletter.ErrSubscriberNotFound
	}
	return nil
}

// Deactivate marks an active subscriber inactive.
func (r *Repository) Deactivate(ctx context.Context, email string, at time.Time) error {
	query := `
		UPDATE newsletter_subscribers
		SET is_active = FALSE, unsubscribed_at = $2
		WHERE email = $1 AND is_active = TRUE
	`
	result, err := r.db.Exec(ctx, query, email, at)
	if err != nil {
		return fmt.Errorf("deactivate subscriber: %w", err)
	}
	if result.RowsAffected() == 0 {
		return newsletter.ErrSubscriberNotFound
	}
	return nil
}

// CountActive returns the number of active subscribers.
func (r *Repository) CountActive(ctx context.Context) (int64, error) {
	var total int64
	query := `SELECT COUNT(*) FROM newsletter_subscribers WHERE is_active = TRUE`
	if err := r.db.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("count active subscribers: %w", err)
	}
	return total, nil
}
