//go:build integration

package postgres_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/deals247/newsletter/internal/domain"
	"github.com/deals247/newsletter/internal/newsletter"
	"github.com/deals247/newsletter/internal/newsletter/postgres"
	"github.com/deals247/newsletter/internal/newsletter/repotest"
	pgconnect "github.com/deals247/newsletter/internal/pkg/postgres"
	"github.com/deals247/newsletter/internal/testutil"
	"github.com/deals247/newsletter/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	if err := migrations.Up("postgres", container.ConnectionString); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	testDB, err = pgconnect.Connect(ctx, pgconnect.Config{
		URL:             container.ConnectionString,
		MaxOpenConns:    10,
		ConnectAttempts: 3,
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	code := m.Run()

	testDB.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}
	os.Exit(code)
}

func TestRepository_Contract(t *testing.T) {
	repotest.Run(t, postgres.NewRepository(testDB))
}

func TestRepository_DefaultsFromSchema(t *testing.T) {
	ctx := context.Background()
	email := repotest.UniqueEmail("schema")

	_, err := testDB.Exec(ctx, `INSERT INTO newsletter_subscribers (email) VALUES ($1)`, email)
	require.NoError(t, err)

	got, err := postgres.NewRepository(testDB).GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriberStatusActive, got.Status)
	assert.Equal(t, domain.DefaultSubscriptionSource, got.Source)
	assert.WithinDuration(t, time.Now(), got.SubscribedAt, time.Minute)
}

func TestService_Postgres(t *testing.T) {
	ctx := context.Background()
	svc := newsletter.NewService(postgres.NewRepository(testDB), nil, newsletter.Config{})
	email := repotest.UniqueEmail("service")

	outcome, err := svc.Subscribe(ctx, email, "")
	require.NoError(t, err)
	assert.Equal(t, newsletter.OutcomeSubscribed, outcome)

	_, err = svc.Subscribe(ctx, email, "")
	assert.ErrorIs(t, err, newsletter.ErrAlreadySubscribed)

	require.NoError(t, svc.Unsubscribe(ctx, email))
	assert.ErrorIs(t, svc.Unsubscribe(ctx, email), newsletter.ErrSubscriberNotFound)

	outcome, err = svc.Subscribe(ctx, email, "")
	require.NoError(t, err)
	assert.Equal(t, newsletter.OutcomeResubscribed, outcome)

	var rows int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT COUNT(*) FROM newsletter_subscribers WHERE email = $1`, email).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestRepository_StoreFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := postgres.NewRepository(testDB).CountActive(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, newsletter.ErrSubscriberNotFound)
}
