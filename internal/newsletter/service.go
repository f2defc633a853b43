package newsletter

import (
	"context"
	"errors"
	"time"

	"github.com/deals247/newsletter/internal/domain"
	"github.com/deals247/newsletter/internal/pkg/ctxlog"
)

// Outcome describes how a successful subscribe call changed the store.
type Outcome int

const (
	OutcomeSubscribed Outcome = iota + 1
	OutcomeResubscribed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSubscribed:
		return "subscribed"
	case OutcomeResubscribed:
		return "resubscribed"
	default:
		return "unknown"
	}
}

// Config contains subscription service settings.
type Config struct {
	DefaultSource         string
	CaseInsensitiveEmails bool
}

// Service provides newsletter business logic.
type Service struct {
	repo    Repository
	welcome WelcomeSender
	config  Config
	now     func() time.Time
}

// NewService creates a new newsletter service. welcome may be nil.
func NewService(repo Repository, welcome WelcomeSender, config Config) *Service {
	if config.DefaultSource == "" {
		config.DefaultSource = domain.DefaultSubscriptionSource
	}
	return &Service{
		repo:    repo,
		welcome: welcome,
		config:  config,
		now:     time.Now,
	}
}

// Subscribe creates a new active subscriber or reactivates an inactive one.
// An empty source falls back to the configured default.
func (s *Service) Subscribe(ctx context.Context, email, source string) (Outcome, error) {
	email, err := NormalizeEmail(email, s.config.CaseInsensitiveEmails)
	if err != nil {
		recordSubscriptionEvent("subscribe", "invalid")
		return 0, err
	}

	outcome, err := s.subscribe(ctx, email, source)
	if err != nil {
		recordSubscriptionEvent("subscribe", resultLabel(err))
		return 0, err
	}
	recordSubscriptionEvent("subscribe", outcome.String())

	s.sendWelcome(ctx, email)

	return outcome, nil
}

func (s *Service) subscribe(ctx context.Context, email, source string) (Outcome, error) {
	existing, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return s.resubscribe(ctx, existing)
	}
	if !errors.Is(err, ErrSubscriberNotFound) {
		return 0, storeError("get subscriber", err)
	}

	if source == "" {
		source = s.config.DefaultSource
	}
	subscriber := domain.NewSubscriber(email, source, s.now())

	err = s.repo.Create(ctx, subscriber)
	if err == nil {
		return OutcomeSubscribed, nil
	}
	if !errors.Is(err, ErrDuplicateEmail) {
		return 0, storeError("create subscriber", err)
	}

	// A concurrent subscribe inserted the row between our read and write.
	ctxlog.FromContext(ctx).Debug("subscriber insert lost race, resolving against existing row")

	existing, err = s.repo.GetByEmail(ctx, email)
	if err != nil {
		return 0, storeError("get subscriber after duplicate", err)
	}
	return s.resubscribe(ctx, existing)
}

func (s *Service) resubscribe(ctx context.Context, existing *domain.Subscriber) (Outcome, error) {
	if err := existing.Reactivate(); err != nil {
		return 0, ErrAlreadySubscribed
	}

	if err := s.repo.Reactivate(ctx, existing.Email); err != nil {
		if errors.Is(err, ErrSubscriberNotFound) {
			// Someone else reactivated it first.
			return 0, ErrAlreadySubscribed
		}
		return 0, storeError("reactivate subscriber", err)
	}

	return OutcomeResubscribed, nil
}

// Unsubscribe deactivates an active subscriber.
func (s *Service) Unsubscribe(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email, s.config.CaseInsensitiveEmails)
	if err != nil {
		recordSubscriptionEvent("unsubscribe", "invalid")
		return err
	}

	if err := s.repo.Deactivate(ctx, email, s.now()); err != nil {
		if !errors.Is(err, ErrSubscriberNotFound) {
			err = storeError("deactivate subscriber", err)
		}
		recordSubscriptionEvent("unsubscribe", resultLabel(err))
		return err
	}

	recordSubscriptionEvent("unsubscribe", "unsubscribed")
	return nil
}

// Count returns the number of active subscribers.
func (s *Service) Count(ctx context.Context) (int64, error) {
	total, err := s.repo.CountActive(ctx)
	if err != nil {
		return 0, storeError("count active subscribers", err)
	}
	return total, nil
}

func (s *Service) sendWelcome(ctx context.Context, email string) {
	if s.welcome == nil {
		return
	}
	if err := s.welcome.SendWelcome(ctx, email); err != nil {
		// Subscription is stored; the mail is best effort.
		ctxlog.FromContext(ctx).Error("failed to send welcome email", "error", err)
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrAlreadySubscribed):
		return "conflict"
	case errors.Is(err, ErrSubscriberNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
