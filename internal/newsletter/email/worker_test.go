package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender fails with the queued errors in order, then succeeds.
type fakeSender struct {
	mu        sync.Mutex
	errs      []error
	attempts  map[string]int
	delivered chan string
}

func newFakeSender(errs ...error) *fakeSender {
	return &fakeSender{
		errs:      errs,
		attempts:  make(map[string]int),
		delivered: make(chan string, 16),
	}
}

func (f *fakeSender) SendWelcome(_ context.Context, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[to]++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.delivered <- to
	return nil
}

func (f *fakeSender) Attempts(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[to]
}

func fastConfig() WorkerConfig {
	return WorkerConfig{
		QueueSize:      4,
		NumWorkers:     1,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func startWorker(t *testing.T, config WorkerConfig, sender deliverer) *Worker {
	t.Helper()
	w := NewWorker(config, sender)
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w
}

func waitDelivered(t *testing.T, f *fakeSender) string {
	t.Helper()
	select {
	case to := <-f.delivered:
		return to
	case <-time.After(5 * time.Second):
		t.Fatal("mail was not delivered")
		return ""
	}
}

var errTempFailure = &textproto.Error{Code: 421, Msg: "service not available"}

func TestWorker_Delivers(t *testing.T) {
	sender := newFakeSender()
	w := startWorker(t, fastConfig(), sender)

	require.NoError(t, w.SendWelcome(context.Background(), "reader@example.com"))

	assert.Equal(t, "reader@example.com", waitDelivered(t, sender))
	assert.Equal(t, 1, sender.Attempts("reader@example.com"))
}

func TestWorker_RetriesTemporaryFailures(t *testing.T) {
	sender := newFakeSender(errTempFailure, errTempFailure)
	w := startWorker(t, fastConfig(), sender)

	require.NoError(t, w.SendWelcome(context.Background(), "reader@example.com"))

	waitDelivered(t, sender)
	assert.Equal(t, 3, sender.Attempts("reader@example.com"))
}

func TestWorker_GivesUp(t *testing.T) {
	t.Run("permanent failure", func(t *testing.T) {
		sender := newFakeSender(&textproto.Error{Code: 550, Msg: "mailbox unavailable"})
		w := startWorker(t, fastConfig(), sender)

		require.NoError(t, w.SendWelcome(context.Background(), "gone@example.com"))
		require.NoError(t, w.SendWelcome(context.Background(), "next@example.com"))

		assert.Equal(t, "next@example.com", waitDelivered(t, sender))
		assert.Equal(t, 1, sender.Attempts("gone@example.com"))
	})

	t.Run("max attempts", func(t *testing.T) {
		sender := newFakeSender(errTempFailure, errTempFailure, errTempFailure)
		w := startWorker(t, fastConfig(), sender)

		require.NoError(t, w.SendWelcome(context.Background(), "flaky@example.com"))
		require.NoError(t, w.SendWelcome(context.Background(), "next@example.com"))

		assert.Equal(t, "next@example.com", waitDelivered(t, sender))
		assert.Equal(t, 3, sender.Attempts("flaky@example.com"))
	})
}

func TestWorker_QueueFull(t *testing.T) {
	config := fastConfig()
	config.QueueSize = 1
	w := NewWorker(config, newFakeSender())

	require.NoError(t, w.SendWelcome(context.Background(), "a@example.com"))
	assert.ErrorIs(t, w.SendWelcome(context.Background(), "b@example.com"), ErrQueueFull)

	w.Stop()
}

func TestWorker_StopTwice(t *testing.T) {
	w := NewWorker(fastConfig(), newFakeSender())
	w.Start(context.Background())

	w.Stop()
	assert.NotPanics(t, w.Stop)
}

// blockingSender holds every delivery until its context is done.
type blockingSender struct {
	started chan struct{}
}

func (b *blockingSender) SendWelcome(ctx context.Context, _ string) error {
	b.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func TestWorker_StopAbortsInFlightDelivery(t *testing.T) {
	sender := &blockingSender{started: make(chan struct{}, 1)}
	w := NewWorker(fastConfig(), sender)
	w.Start(context.Background())

	require.NoError(t, w.SendWelcome(context.Background(), "reader@example.com"))
	select {
	case <-sender.started:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not start")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while a delivery was blocked")
	}
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(WorkerConfig{}, newFakeSender())

	assert.Equal(t, DefaultWorkerConfig(), w.config)
	assert.Equal(t, 256, cap(w.queue))
}

func TestWorker_Backoff(t *testing.T) {
	w := NewWorker(WorkerConfig{
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}, newFakeSender())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, w.backoff(tt.attempt))
		})
	}
}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", &timeoutError{}, true},
		{"dial error", fmt.Errorf("dial smtp: %w", &net.OpError{Op: "dial", Err: errors.New("connection refused")}), true},
		{"421", fmt.Errorf("mail from: %w", errTempFailure), true},
		{"452", &textproto.Error{Code: 452, Msg: "insufficient storage"}, true},
		{"552", &textproto.Error{Code: 552, Msg: "mailbox full"}, true},
		{"550", &textproto.Error{Code: 550, Msg: "no such user"}, false},
		{"535", &textproto.Error{Code: 535, Msg: "authentication failed"}, false},
		{"other", errors.New("no valid recipients"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
