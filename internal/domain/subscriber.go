package domain

import (
	"errors"
	"time"
)

// DefaultSubscriptionSource tags subscribers created through the website widget.
const DefaultSubscriptionSource = "website"

// ErrInvalidTransition is returned when a subscriber is moved to a state it cannot reach.
var ErrInvalidTransition = errors.New("invalid subscriber state transition")

// SubscriberStatus is the lifecycle state of a newsletter subscriber.
type SubscriberStatus string

const (
	SubscriberStatusActive   SubscriberStatus = "active"
	SubscriberStatusInactive SubscriberStatus = "inactive"
)

// StatusFromActive maps the persisted is_active flag to a status.
func StatusFromActive(active bool) SubscriberStatus {
	if active {
		return SubscriberStatusActive
	}
	return SubscriberStatusInactive
}

// Subscriber is a single newsletter subscription, one per unique email.
type Subscriber struct {
	ID             int64
	Email          string
	Status         SubscriberStatus
	SubscribedAt   time.Time
	UnsubscribedAt *time.Time
	Source         string
}

// NewSubscriber returns an active subscriber that has not been persisted yet.
func NewSubscriber(email, source string, now time.Time) *Subscriber {
	if source == "" {
		source = DefaultSubscriptionSource
	}
	return &Subscriber{
		Email:        email,
		Status:       SubscriberStatusActive,
		SubscribedAt: now,
		Source:       source,
	}
}

// IsActive reports whether the subscriber currently receives the newsletter.
func (s *Subscriber) IsActive() bool {
	return s.Status == SubscriberStatusActive
}

// Reactivate moves an inactive subscriber back to active.
// SubscribedAt is left untouched.
func (s *Subscriber) Reactivate() error {
	if s.Status != SubscriberStatusInactive {
		return ErrInvalidTransition
	}
	s.Status = SubscriberStatusActive
	s.UnsubscribedAt = nil
	return nil
}

// Unsubscribe moves an active subscriber to inactive and stamps the time.
func (s *Subscriber) Unsubscribe(now time.Time) error {
	if s.Status != SubscriberStatusActive {
		return ErrInvalidTransition
	}
	s.Status = SubscriberStatusInactive
	s.UnsubscribedAt = &now
	return nil
}
