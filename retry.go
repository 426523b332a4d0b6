package hashiru

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// retryBackend wraps a ChatBackend and retries transient failures (HTTP
// 429, 500, 503 reported as retryable *ErrBackend) with exponential
// backoff. A stream that has already delivered chunks is never retried:
// the caller has seen partial output, so the error propagates instead of
// silently replaying the response.
type retryBackend struct {
	inner       ChatBackend
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// RetryOption configures a retryBackend.
type RetryOption func(*retryBackend)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryBackend) { r.maxAttempts = n }
}

// RetryBaseDelay sets the delay before the second attempt (default: 1s).
// Each subsequent delay doubles: baseDelay, 2×baseDelay, 4×baseDelay, …
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryBackend) { r.baseDelay = d }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN and final failures at ERROR.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryBackend) { r.logger = l }
}

// WithRetry wraps b with automatic retry on transient backend errors.
// Compose with any ChatBackend:
//
//	backend = hashiru.WithRetry(gemini.New(apiKey, model))
//	backend = hashiru.WithRetry(gemini.New(apiKey, model), hashiru.RetryMaxAttempts(5))
func WithRetry(b ChatBackend, opts ...RetryOption) ChatBackend {
	r := &retryBackend{
		inner:       b,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name delegates to the inner backend.
func (r *retryBackend) Name() string { return r.inner.Name() }

// CountTokens delegates to the inner backend with retry.
func (r *retryBackend) CountTokens(ctx context.Context, history []ModelContent) (int, error) {
	var count int
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		count, err = r.inner.CountTokens(ctx, history)
		if err == nil || !retryableBackendErr(err) || attempt == r.maxAttempts {
			break
		}
		if !r.sleep(ctx, attempt) {
			return 0, ctx.Err()
		}
	}
	return count, err
}

// Stream implements ChatBackend with retry. The outer channel is closed
// exactly once, after the final attempt completes.
func (r *retryBackend) Stream(ctx context.Context, req StreamRequest, ch chan<- Chunk) (StreamResult, error) {
	defer close(ch)

	var result StreamResult
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		inner := make(chan Chunk)
		forwarded := make(chan int, 1)
		go func() {
			n := 0
			for c := range inner {
				ch <- c
				n++
			}
			forwarded <- n
		}()

		result, err = r.inner.Stream(ctx, req, inner)
		delivered := <-forwarded
		if err == nil {
			return result, nil
		}
		if delivered > 0 {
			r.logger.Error("stream failed after partial output, not retrying",
				"backend", r.inner.Name(), "chunks", delivered, "error", err)
			return result, err
		}
		if !retryableBackendErr(err) || attempt == r.maxAttempts {
			break
		}
		r.logger.Warn("retrying stream",
			"backend", r.inner.Name(), "attempt", attempt, "error", err)
		if !r.sleep(ctx, attempt) {
			return result, ctx.Err()
		}
	}
	if err != nil {
		r.logger.Error("stream failed",
			"backend", r.inner.Name(), "attempts", r.maxAttempts, "error", err)
	}
	return result, err
}

// sleep waits out the backoff for the given attempt number. Returns false
// when the context expires first.
func (r *retryBackend) sleep(ctx context.Context, attempt int) bool {
	delay := r.baseDelay << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func retryableBackendErr(err error) bool {
	var be *ErrBackend
	return errors.As(err, &be) && be.Retryable
}
