package email

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned by Worker.SendWelcome when no slot is free.
var ErrQueueFull = errors.New("welcome email queue is full")

// WorkerConfig contains welcome mail worker configuration.
type WorkerConfig struct {
	QueueSize         int
	NumWorkers        int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		QueueSize:         256,
		NumWorkers:        2,
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

type deliverer interface {
	SendWelcome(ctx context.Context, to string) error
}

// Worker queues welcome mails in memory and delivers them in the
// background, so subscribe requests never wait on SMTP.
type Worker struct {
	config WorkerConfig
	sender deliverer
	queue  chan string

	stopOnce sync.Once
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWorker creates a worker delivering through sender. Zero config
// fields take their defaults.
func NewWorker(config WorkerConfig, sender deliverer) *Worker {
	def := DefaultWorkerConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = def.NumWorkers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}

	return &Worker{
		config: config,
		sender: sender,
		queue:  make(chan string, config.QueueSize),
		stopCh: make(chan struct{}),
		cancel: func() {},
	}
}

// Start launches worker goroutines. Stop cancels the context they deliver with.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	slog.Info("starting welcome email worker",
		"workers", w.config.NumWorkers,
		"queue_size", w.config.QueueSize,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Stop aborts in-flight deliveries, waits for the workers and drops whatever
// is still queued.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.cancel()
	})
	w.wg.Wait()

	if pending := len(w.queue); pending > 0 {
		slog.Warn("welcome email worker stopped with pending mails", "pending", pending)
		return
	}
	slog.Info("welcome email worker stopped")
}

// SendWelcome enqueues a welcome mail without blocking.
func (w *Worker) SendWelcome(_ context.Context, to string) error {
	select {
	case w.queue <- to:
		recordWelcomeEmail("queued")
		return nil
	default:
		recordWelcomeEmail("dropped")
		return ErrQueueFull
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case to := <-w.queue:
			w.deliver(ctx, to)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, to string) {
	start := time.Now()

	for attempt := 1; ; attempt++ {
		err := w.sender.SendWelcome(ctx, to)
		if err == nil {
			recordWelcomeEmail("sent")
			recordWelcomeEmailDuration(time.Since(start))
			slog.Debug("welcome email sent", "attempts", attempt)
			return
		}

		if !IsRetryable(err) || attempt >= w.config.MaxAttempts {
			recordWelcomeEmail("failed")
			slog.Error("failed to send welcome email",
				"attempts", attempt,
				"retryable", IsRetryable(err),
				"error", err,
			)
			return
		}

		backoff := w.backoff(attempt)
		recordWelcomeEmail("retry")
		slog.Warn("welcome email send failed, retrying",
			"attempt", attempt,
			"max_attempts", w.config.MaxAttempts,
			"backoff", backoff,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.stopCh:
			timer.Stop()
			return
		}
	}
}

// backoff returns the wait after the given failed attempt.
func (w *Worker) backoff(attempt int) time.Duration {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return time.Duration(backoff)
}
