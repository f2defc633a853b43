// Package config loads application configuration from defaults, an optional
// YAML file, an optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/deals247/newsletter/internal/pkg/mysql"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every application environment variable. Nested keys
// are separated by a double underscore: NEWSLETTER_DATABASE__DRIVER.
const EnvPrefix = "NEWSLETTER_"

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Log        LogConfig        `koanf:"log"`
	CORS       CORSConfig       `koanf:"cors"`
	Newsletter NewsletterConfig `koanf:"newsletter"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig contains store settings. For postgres URL is used as is.
// For mysql DSN wins over the discrete host/port/user/password/name fields.
type DatabaseConfig struct {
	Driver          string            `koanf:"driver"`
	URL             string            `koanf:"url"`
	DSN             string            `koanf:"dsn"`
	Host            string            `koanf:"host"`
	Port            int               `koanf:"port"`
	User            string            `koanf:"user"`
	Password        string            `koanf:"password"`
	Name            string            `koanf:"name"`
	Params          map[string]string `koanf:"params"`
	MaxOpenConns    int               `koanf:"max_open_conns"`
	MaxIdleConns    int               `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration     `koanf:"conn_max_idle_time"`
	ConnectTimeout  time.Duration     `koanf:"connect_timeout"`
	ConnectAttempts int               `koanf:"connect_attempts"`
	AutoMigrate     bool              `koanf:"auto_migrate"`
	Debug           bool              `koanf:"debug"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// NewsletterConfig contains subscription workflow settings.
type NewsletterConfig struct {
	DefaultSource         string             `koanf:"default_source"`
	CaseInsensitiveEmails bool               `koanf:"case_insensitive_emails"`
	StatsInterval         time.Duration      `koanf:"stats_interval"`
	RateLimit             RateLimitConfig    `koanf:"rate_limit"`
	WelcomeEmail          WelcomeEmailConfig `koanf:"welcome_email"`
}

// RateLimitConfig contains per-client limits for the newsletter routes.
type RateLimitConfig struct {
	Enabled           bool `koanf:"enabled"`
	RequestsPerMinute int  `koanf:"requests_per_minute"`
	Burst             int  `koanf:"burst"`
}

// WelcomeEmailConfig contains SMTP settings for the welcome mail.
type WelcomeEmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
	Subject      string `koanf:"subject"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "5000",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestTimeout:    30 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverMySQL,
			Host:            "localhost",
			Port:            3306,
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 60 * time.Second,
			ConnectTimeout:  60 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Newsletter: NewsletterConfig{
			DefaultSource: "website",
			StatsInterval: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             10,
			},
			WelcomeEmail: WelcomeEmailConfig{
				SMTPPort: 587,
				Subject:  "Welcome to the Deals247 newsletter",
			},
		},
	}
}

// Options controls where Load reads from.
type Options struct {
	// ConfigPath is an optional YAML file. Missing files are an error.
	ConfigPath string
	// EnvFile is an optional .env file. Missing files are ignored.
	EnvFile string
}

// Load builds the configuration: defaults, then the YAML file, then the
// legacy deployment variables (PORT, DB_*), then NEWSLETTER_* variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	k := koanf.New(".")

	if opts.ConfigPath != "" {
		if err := k.Load(file.Provider(opts.ConfigPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", opts.ConfigPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", legacyEnvKeyValue), nil); err != nil {
		return nil, fmt.Errorf("load legacy environment: %w", err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKeyValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// legacyEnv maps the variables of the original deployment to config keys.
var legacyEnv = map[string]string{
	"PORT":        "server.port",
	"DB_HOST":     "database.host",
	"DB_PORT":     "database.port",
	"DB_USER":     "database.user",
	"DB_PASSWORD": "database.password",
	"DB_NAME":     "database.name",
}

// Empty values are skipped so an exported but blank variable keeps the default.
func legacyEnvKeyValue(key, value string) (string, interface{}) {
	if value == "" {
		return "", nil
	}
	return legacyEnv[key], value
}

func envKeyValue(key, value string) (string, interface{}) {
	if value == "" {
		return "", nil
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")

	if key == "cors.allowed_origins" {
		origins := strings.Split(value, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		return key, origins
	}
	return key, value
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.MetricsPort == "" {
		errs = append(errs, errors.New("server.metrics_port is required"))
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		}
	case DriverMySQL:
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "") {
			errs = append(errs, errors.New("database.dsn or database.host and database.name are required for mysql"))
		}
		if _, err := c.Database.MySQLDSN(); err != nil {
			errs = append(errs, fmt.Errorf("database.dsn: %w", err))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("database.max_open_conns must be positive"))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	if c.Newsletter.RateLimit.Enabled && c.Newsletter.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("newsletter.rate_limit.requests_per_minute must be positive"))
	}

	if w := c.Newsletter.WelcomeEmail; w.Enabled {
		if w.SMTPHost == "" {
			errs = append(errs, errors.New("newsletter.welcome_email.smtp_host is required when enabled"))
		}
		if w.FromAddress == "" {
			errs = append(errs, errors.New("newsletter.welcome_email.from_address is required when enabled"))
		}
	}

	return errors.Join(errs...)
}

// MySQLDSN returns the go-sql-driver DSN for the mysql driver. A configured
// DSN always gets parseTime so timestamps scan into time.Time.
func (c DatabaseConfig) MySQLDSN() (string, error) {
	if c.DSN != "" {
		return mysql.EnsureParseTime(c.DSN)
	}
	return mysql.FormatDSN(mysql.DSNConfig{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
		Params:   c.Params,
	}), nil
}

// MigrationURL returns the URL golang-migrate expects for the configured driver.
func (c DatabaseConfig) MigrationURL() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		u, err := url.Parse(c.URL)
		if err != nil {
			return "", fmt.Errorf("parse database url: %w", err)
		}
		// pgx accepts postgresql://, golang-migrate registers postgres://.
		u.Scheme = "postgres"
		return u.String(), nil
	case DriverMySQL:
		dsn, err := c.MySQLDSN()
		if err != nil {
			return "", err
		}
		return "mysql://" + dsn, nil
	default:
		return "", fmt.Errorf("driver %q has no migrations", c.Driver)
	}
}
