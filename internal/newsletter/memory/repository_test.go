package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/deals247/newsletter/internal/domain"
	"github.com/deals247/newsletter/internal/newsletter"
	"github.com/deals247/newsletter/internal/newsletter/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	sub := domain.NewSubscriber("a@b.com", "", time.Now())
	require.NoError(t, repo.Create(ctx, sub))
	assert.Equal(t, int64(1), sub.ID)

	got, err := repo.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.True(t, got.IsActive())

	_, err = repo.GetByEmail(ctx, "A@b.com")
	assert.ErrorIs(t, err, newsletter.ErrSubscriberNotFound, "lookup is case-sensitive")
}

func TestRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	require.NoError(t, repo.Create(ctx, domain.NewSubscriber("a@b.com", "", time.Now())))
	err := repo.Create(ctx, domain.NewSubscriber("a@b.com", "", time.Now()))

	assert.ErrorIs(t, err, newsletter.ErrDuplicateEmail)
	assert.Equal(t, 1, repo.Len())
}

func TestRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	require.NoError(t, repo.Create(ctx, domain.NewSubscriber("a@b.com", "", time.Now())))

	got, err := repo.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NoError(t, got.Unsubscribe(time.Now()))

	stored, err := repo.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, stored.IsActive())
}

func TestRepository_DeactivateReactivate(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	require.NoError(t, repo.Create(ctx, domain.NewSubscriber("a@b.com", "", time.Now())))

	assert.ErrorIs(t, repo.Reactivate(ctx, "a@b.com"), newsletter.ErrSubscriberNotFound)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Deactivate(ctx, "a@b.com", at))
	assert.ErrorIs(t, repo.Deactivate(ctx, "a@b.com", at), newsletter.ErrSubscriberNotFound)

	got, err := repo.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, got.UnsubscribedAt)
	assert.Equal(t, at, *got.UnsubscribedAt)

	require.NoError(t, repo.Reactivate(ctx, "a@b.com"))
	got, err = repo.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, got.IsActive())
	assert.Nil(t, got.UnsubscribedAt)

	assert.ErrorIs(t, repo.Deactivate(ctx, "missing@b.com", at), newsletter.ErrSubscriberNotFound)
}

func TestRepository_CountActive(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	for _, email := range []string{"a@b.com", "c@d.com", "e@f.com"} {
		require.NoError(t, repo.Create(ctx, domain.NewSubscriber(email, "", time.Now())))
	}
	require.NoError(t, repo.Deactivate(ctx, "c@d.com", time.Now()))

	total, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestRepository_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Create(ctx, domain.NewSubscriber("race@b.com", "", time.Now()))
		}()
	}
	wg.Wait()
	close(errs)

	var created, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			created++
		case assert.ErrorIs(t, err, newsletter.ErrDuplicateEmail):
			duplicates++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, duplicates)
}

func TestRepository_Contract(t *testing.T) {
	repotest.Run(t, NewRepository())
}
