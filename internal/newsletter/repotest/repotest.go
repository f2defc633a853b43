// Package repotest holds behaviour checks every newsletter.Repository
// implementation must pass. Emails are unique per call so the checks can
// share one database.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/deals247/newsletter/internal/domain"
	"github.com/deals247/newsletter/internal/newsletter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises repo through the Repository contract.
func Run(t *testing.T, repo newsletter.Repository) {
	t.Run("create and get", func(t *testing.T) { testCreateAndGet(t, repo) })
	t.Run("duplicate email", func(t *testing.T) { testDuplicate(t, repo) })
	t.Run("case sensitive lookup", func(t *testing.T) { testCaseSensitive(t, repo) })
	t.Run("deactivate and reactivate", func(t *testing.T) { testLifecycle(t, repo) })
	t.Run("conditional updates", func(t *testing.T) { testConditionalUpdates(t, repo) })
	t.Run("count active", func(t *testing.T) { testCountActive(t, repo) })
	t.Run("concurrent create", func(t *testing.T) { testConcurrentCreate(t, repo) })
}

// UniqueEmail returns an address no other check uses.
func UniqueEmail(prefix string) string {
	return prefix + "-" + uuid.NewString() + "@example.com"
}

// now is truncated to whole seconds because MySQL TIMESTAMP drops fractions.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func testCreateAndGet(t *testing.T, repo newsletter.Repository) {
	ctx := context.Background()
	email := UniqueEmail("create")
	at := now()

	sub := domain.NewSubscriber(email, "footer", at)
	require.NoError(t, repo.Create(ctx, sub))
	assert.NotZero(t, sub.ID)

	got, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, email, got.Email)
	assert.Equal(t, domain.SubscriberStatusActive, got.Status)
	assert.Equal(t, "footer", got.Source)
	assert.WithinDuration(t, at, got.SubscribedAt, time.Second)
	assert.Nil(t, got.UnsubscribedAt)

	_, err = repo.GetByEmail(ctx, UniqueEmail("missing"))
	assert.ErrorIs(t, err, newsletter.ErrSubscriberNotFound)
}

func testDuplicate(t *testing.T, repo newsletter.Repository) {
	ctx := context.Background()
	email := UniqueEmail("dup")

	require.NoError(t, repo.Create(ctx, domain.NewSubscriber(email, "website", now())))

	err := repo.Create(ctx, domain.NewSubscriber(email, "popup", now()))
	assert.ErrorIs(t, err, newsletter.ErrDuplicateEmail)

	got, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, "website", got.Source, "the first row is kept")
}

func testCaseSensitive(t *testing.T, repo newsletter.Repository) {
	ctx := context.Background()
	lower := UniqueEmail("case")
	upper := "CASE" + lower[len("case"):]

	require.NoError(t, repo.Create(ctx, domain.NewSubscriber(lower, "website", now())))

	_, err := repo.GetByEmail(ctx, upper)
	assert.ErrorIs(t, err, newsletter.ErrSubscriberNotFound)

	assert.NoError(t, repo.Create(ctx, domain.NewSubscriber(upper, "website", now())))
}

func testLifecycle(t *testing.T, repo newsletter.Repository) {
	ctx := context.Background()
	email := UniqueEmail("lifecycle")
	subscribedAt := now().Add(-time.Hour)

	sub := domain.NewSubscriber(email, "website", subscribedAt)
	require.NoError(t, repo.Create(ctx, sub))

	unsubscribedAt := now()
	require.NoError(t, repo.Deactivate(ctx, email, unsubscribedAt))

	got, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriberStatusInactive, got.Status)
	require.NotNil(t, got.UnsubscribedAt)
	assert.WithinDuration(t, unsubscribedAt, *got.UnsubscribedAt, time.Second)

	require.NoError(t, repo.Reactivate(ctx, email))

	got, err = repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriberStatusActive, got.Status)
	assert.Nil(t, got.UnsubscribedAt)
	assert.Equal(t, sub.ID, got.ID)
	assert.WithinDuration(t, subscribedAt, got.SubscribedAt, time.Second, "subscribed_at never changes")
}

func testConditionalUpdates(t *testing.T, repo newsletter.Repository) {
	ctx := context.Background()
	email := UniqueEmail("conditional")

	assert.ErrorIs(t, repo.Deactivate(ctx, email, now()), newsletter.ErrSubscriberNotFound)
	assert.ErrorIs(t, repo.Reactivate(ctx, email), newsletter.ErrSubscriberNotFound)

	require.NoError(t, repo.Create(ctx, domain.NewSubscriber(email, "website", now())))
	assert.ErrorIs(t, repo.Reactivate(ctx, email), newsletter.ErrSubscriberNotFound, "already active")

	require.NoError(t, repo.Deactivate(ctx, email, now()))
	assert.ErrorIs(t, repo.Deactivate(ctx, email, now()), newsletter.ErrSubscriberNotFound, "already inactive")
}

func testCountActive(t *testing.T, repo newsletter.Repository) {
	ctx := context.Background()

	before, err := repo.CountActive(ctx)
	require.NoError(t, err)

	emails := []string{UniqueEmail("count"), UniqueEmail("count"), UniqueEmail("count")}
	for _, email := range emails {
		require.NoError(t, repo.Create(ctx, domain.NewSubscriber(email, "website", now())))
	}
	require.NoError(t, repo.Deactivate(ctx, emails[1], now()))

	after, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+2, after)
}

func testConcurrentCreate(t *testing.T, repo newsletter.Repository) {
	ctx := context.Background()
	email := UniqueEmail("race")

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Create(ctx, domain.NewSubscriber(email, "website", now()))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, newsletter.ErrDuplicateEmail):
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, duplicates)
}
