// Package mysql provides the MySQL implementation of the newsletter
// repository on top of gorm.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deals247/newsletter/internal/domain"
	"github.com/deals247/newsletter/internal/newsletter"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const duplicateEntry = 1062

// subscriberRow maps the newsletter_subscribers table.
type subscriberRow struct {
	ID                 int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Email              string     `gorm:"column:email"`
	SubscribedAt       time.Time  `gorm:"column:subscribed_at"`
	UnsubscribedAt     *time.Time `gorm:"column:unsubscribed_at"`
	IsActive           bool       `gorm:"column:is_active"`
	SubscriptionSource string     `gorm:"column:subscription_source"`
}

func (subscriberRow) TableName() string { return "newsletter_subscribers" }

func (row *subscriberRow) toDomain() *domain.Subscriber {
	return &domain.Subscriber{
		ID:             row.ID,
		Email:          row.Email,
		Status:         domain.StatusFromActive(row.IsActive),
		SubscribedAt:   row.SubscribedAt,
		UnsubscribedAt: row.UnsubscribedAt,
		Source:         row.SubscriptionSource,
	}
}

// Repository implements newsletter.Repository using MySQL.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new MySQL repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetByEmail retrieves a subscriber by exact email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	var row subscriberRow
	err := r.db.WithContext(ctx).Where("email = ?", email).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newsletter.ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return row.toDomain(), nil
}

// Create inserts a new subscriber.
func (r *Repository) Create(ctx context.Context, sub *domain.Subscriber) error {
	row := subscriberRow{
		Email:              sub.Email,
		SubscribedAt:       sub.SubscribedAt,
		IsActive:           sub.IsActive(),
		SubscriptionSource: sub.Source,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateEntry(err) {
			return newsletter.ErrDuplicateEmail
		}
		return fmt.Errorf("create subscriber: %w", err)
	}
	sub.ID = row.ID
	return nil
}

// Reactivate marks an inactive subscriber active again.
func (r *Repository) Reactivate(ctx context.Context, email string) error {
	result := r.db.WithContext(ctx).
		Model(&subscriberRow{}).
		Where("email = ? AND is_active = ?", email, false).
		Updates(map[string]interface{}{
			"is_active":       true,
			"unsubscribed_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("reactivate subscriber: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return newsletter.ErrSubscriberNotFound
	}
	return nil
}

// Deactivate marks an active subscriber inactive.
func (r *Repository) Deactivate(ctx context.Context, email string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&subscriberRow{}).
		Where("email = ? AND is_active = ?", email, true).
		Updates(map[string]interface{}{
			"is_active":       false,
			"unsubscribed_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("deactivate subscriber: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return newsletter.ErrSubscriberNotFound
	}
	return nil
}

// CountActive returns the number of active subscribers.
func (r *Repository) CountActive(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&subscriberRow{}).
		Where("is_active = ?", true).
		Count(&total).Error
	if err != nil {
		return 0, fmt.Errorf("count active subscribers: %w", err)
	}
	return total, nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntry
}
