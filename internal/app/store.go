package app

import (
	"context"
	"fmt"

	"github.com/deals247/newsletter/internal/config"
	"github.com/deals247/newsletter/internal/newsletter"
	"github.com/deals247/newsletter/internal/newsletter/memory"
	newslettermysql "github.com/deals247/newsletter/internal/newsletter/mysql"
	newsletterpostgres "github.com/deals247/newsletter/internal/newsletter/postgres"
	"github.com/deals247/newsletter/internal/pkg/metrics"
	"github.com/deals247/newsletter/internal/pkg/mysql"
	"github.com/deals247/newsletter/internal/pkg/postgres"
	"github.com/deals247/newsletter/migrations"
)

// store bundles the subscriber repository with the pool it runs on.
type store struct {
	driver        string
	repo          newsletter.Repository
	ping          func(ctx context.Context) error
	recordMetrics func()
	close         func()
}

// openStore connects to the configured database and applies migrations
// when auto_migrate is set.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (*store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg)
	case config.DriverMySQL:
		return openMySQL(ctx, cfg)
	case config.DriverMemory:
		repo := memory.NewRepository()
		return &store{
			driver:        cfg.Driver,
			repo:          repo,
			ping:          repo.Ping,
			recordMetrics: func() {},
			close:         func() {},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*store, error) {
	pool, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectAttempts: cfg.ConnectAttempts,
	})
	if err != nil {
		return nil, err
	}

	if err := migrate(cfg); err != nil {
		pool.Close()
		return nil, err
	}

	return &store{
		driver:        cfg.Driver,
		repo:          newsletterpostgres.NewRepository(pool),
		ping:          pool.Ping,
		recordMetrics: func() { metrics.RecordPgxPoolMetrics(pool) },
		close:         pool.Close,
	}, nil
}

func openMySQL(ctx context.Context, cfg config.DatabaseConfig) (*store, error) {
	dsn, err := cfg.MySQLDSN()
	if err != nil {
		return nil, err
	}

	db, err := mysql.Connect(ctx, mysql.Config{
		DSN:             dsn,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectAttempts: cfg.ConnectAttempts,
		Debug:           cfg.Debug,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve sql db: %w", err)
	}

	if err := migrate(cfg); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &store{
		driver:        cfg.Driver,
		repo:          newslettermysql.NewRepository(db),
		ping:          sqlDB.PingContext,
		recordMetrics: func() { metrics.RecordSQLPoolMetrics(cfg.Driver, sqlDB.Stats()) },
		close:         func() { _ = sqlDB.Close() },
	}, nil
}

func migrate(cfg config.DatabaseConfig) error {
	if !cfg.AutoMigrate {
		return nil
	}
	url, err := cfg.MigrationURL()
	if err != nil {
		return err
	}
	if err := migrations.Up(cfg.Driver, url); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
