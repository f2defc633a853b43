// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/deals247/newsletter/api/openapi"
	"github.com/deals247/newsletter/internal/config"
	"github.com/deals247/newsletter/internal/newsletter"
	"github.com/deals247/newsletter/internal/newsletter/email"
	"github.com/deals247/newsletter/internal/pkg/ctxlog"
	"github.com/deals247/newsletter/internal/pkg/httputil"
	"github.com/deals247/newsletter/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const dbMetricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config           *config.Config
	logger           *slog.Logger
	store            *store
	service          *newsletter.Service
	welcomeWorker    *email.Worker
	server           *http.Server
	metricsServer    *http.Server
	backgroundCancel context.CancelFunc
	background       sync.WaitGroup
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	st, err := openStore(connectCtx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	welcomeWorker, err := newWelcomeWorker(cfg.Newsletter.WelcomeEmail)
	if err != nil {
		st.close()
		return nil, err
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())

	app := &App{
		config:           cfg,
		logger:           logger,
		store:            st,
		welcomeWorker:    welcomeWorker,
		backgroundCancel: backgroundCancel,
	}

	// A nil *email.Worker must not reach the service as a non-nil interface.
	var welcome newsletter.WelcomeSender
	if welcomeWorker != nil {
		welcomeWorker.Start(backgroundCtx)
		welcome = welcomeWorker
	}
	app.service = newsletter.NewService(st.repo, welcome, newsletter.Config{
		DefaultSource:         cfg.Newsletter.DefaultSource,
		CaseInsensitiveEmails: cfg.Newsletter.CaseInsensitiveEmails,
	})

	app.goBackground(func() { app.collectDBMetrics(backgroundCtx) })
	app.goBackground(func() { app.collectSubscriberStats(backgroundCtx) })

	router := app.setupRouter(backgroundCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("application initialized",
		"driver", st.driver,
		"version", version.Version,
		"welcome_email", cfg.Newsletter.WelcomeEmail.Enabled,
		"rate_limit", cfg.Newsletter.RateLimit.Enabled,
	)

	return app, nil
}

// newWelcomeWorker returns nil when the welcome mail is disabled.
func newWelcomeWorker(cfg config.WelcomeEmailConfig) (*email.Worker, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	sender, err := email.NewSender(email.Config{
		Enabled:      cfg.Enabled,
		SMTPHost:     cfg.SMTPHost,
		SMTPPort:     cfg.SMTPPort,
		SMTPUser:     cfg.SMTPUser,
		SMTPPassword: cfg.SMTPPassword,
		FromAddress:  cfg.FromAddress,
		Subject:      cfg.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("create welcome sender: %w", err)
	}
	return email.NewWorker(email.DefaultWorkerConfig(), sender), nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// Cancelling first aborts a welcome mail stuck in dial or backoff.
	a.backgroundCancel()
	if a.welcomeWorker != nil {
		a.welcomeWorker.Stop()
	}
	a.background.Wait()

	a.store.close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) goBackground(fn func()) {
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		fn()
	}()
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	a.store.recordMetrics()

	ticker := time.NewTicker(dbMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.store.recordMetrics()
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectSubscriberStats(ctx context.Context) {
	interval := a.config.Newsletter.StatsInterval
	if interval <= 0 {
		return
	}

	record := func() {
		total, err := a.service.Count(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Error("failed to count active subscribers", "error", err)
			}
			return
		}
		newsletter.RecordActiveSubscribers(total)
	}

	record()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			record()
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) setupRouter(ctx context.Context) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if a.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(a.config.Server.RequestTimeout))
	}

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		_, _ = w.Write(openapi.Spec)
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Deals247 Newsletter API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	newsletterHandler := newsletter.NewHandler(a.service)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.apiHealthHandler)

		r.Route("/newsletter", func(r chi.Router) {
			if rl := a.config.Newsletter.RateLimit; rl.Enabled {
				limiter := httputil.NewRateLimiter(httputil.RateLimitConfig{
					RequestsPerMinute: rl.RequestsPerMinute,
					Burst:             rl.Burst,
				})
				a.goBackground(func() { limiter.Run(ctx) })
				r.Use(limiter.Middleware)
			}
			newsletterHandler.RegisterRoutes(r)
		})
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) apiHealthHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Deals247 API is running",
	})
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
