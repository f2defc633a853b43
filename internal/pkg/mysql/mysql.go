// Package mysql provides MySQL connection setup through gorm.
package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/deals247/newsletter/internal/pkg/connect"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config contains MySQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectAttempts int
	// Debug logs every SQL statement through gorm's logger.
	Debug bool
}

// DSNConfig holds the parts of a MySQL DSN.
type DSNConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Params   map[string]string
}

// FormatDSN builds a go-sql-driver DSN. parseTime is always enabled so
// TIMESTAMP columns scan into time.Time.
func FormatDSN(c DSNConfig) string {
	cfg := mysqlDriver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if len(c.Params) > 0 {
		cfg.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN()
}

// EnsureParseTime returns dsn with parseTime enabled and everything else kept.
func EnsureParseTime(dsn string) (string, error) {
	cfg, err := mysqlDriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Connect opens a gorm MySQL pool with retry logic.
func Connect(ctx context.Context, cfg Config) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}

	var db *gorm.DB
	err := connect.Retry(ctx, cfg.ConnectAttempts, "mysql", func(ctx context.Context) error {
		gdb, err := gorm.Open(mysql.New(mysql.Config{
			DSN:               cfg.DSN,
			DefaultStringSize: 255,
		}), &gorm.Config{
			Logger: logger.Default.LogMode(logLevel),
		})
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}

		sqlDB, err := gdb.DB()
		if err != nil {
			return fmt.Errorf("resolve sql db: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return fmt.Errorf("ping: %w", err)
		}
		db = gdb
		return nil
	})
	if err != nil {
		return nil, err
	}

	return db, nil
}
