package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/logging"
)

// Observer receives the outcome of every provider call.
type Observer func(provider, outcome string, elapsed time.Duration)

// Outcomes reported to an Observer.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Guard wraps a Provider with a rate limiter, retries with exponential
// backoff and an optional observer.
type Guard struct {
	next       Provider
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	observe    Observer
	logger     *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithRateLimit allows perSecond calls with the given burst.
func WithRateLimit(perSecond float64, burst int) GuardOption {
	return func(g *Guard) {
		if perSecond > 0 && burst > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithRetries sets how often transient failures are retried and the first
// backoff delay, which doubles on each attempt.
func WithRetries(maxRetries int, base time.Duration) GuardOption {
	return func(g *Guard) {
		if maxRetries >= 0 {
			g.maxRetries = maxRetries
		}
		if base > 0 {
			g.backoff = base
		}
	}
}

// WithObserver reports every call to fn.
func WithObserver(fn Observer) GuardOption {
	return func(g *Guard) { g.observe = fn }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard wraps next.
func NewGuard(next Provider, opts ...GuardOption) *Guard {
	g := &Guard{
		next:    next,
		limiter: rate.NewLimiter(rate.Inf, 1),
		backoff: defaultBaseBackoff,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Provider.
func (g *Guard) Name() string { return g.next.Name() }

// Generate implements Provider.
func (g *Guard) Generate(ctx context.Context, req Request) (string, error) {
	return g.run(ctx, func(ctx context.Context) (string, bool, error) {
		reply, err := g.next.Generate(ctx, req)
		return reply, false, err
	})
}

// Stream implements Provider. A stream that already delivered text is never
// retried, so callers do not see duplicated chunks.
func (g *Guard) Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error) {
	return g.run(ctx, func(ctx context.Context) (string, bool, error) {
		delivered := false
		reply, err := g.next.Stream(ctx, req, func(chunk string) error {
			delivered = true
			if onChunk == nil {
				return nil
			}
			return onChunk(chunk)
		})
		return reply, delivered, err
	})
}

func (g *Guard) run(ctx context.Context, call func(context.Context) (string, bool, error)) (string, error) {
	start := time.Now()
	reply, err := g.retry(ctx, call)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = coachErrors.NewTimeoutError(g.next.Name(), time.Since(start).Round(time.Millisecond).String(), err)
	}
	if g.observe != nil {
		g.observe(g.next.Name(), outcomeOf(ctx, err), time.Since(start))
	}
	return reply, err
}

func (g *Guard) retry(ctx context.Context, call func(context.Context) (string, bool, error)) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	log := logging.For(ctx, g.logger).With(zap.String("provider", g.next.Name()))

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := g.backoff * time.Duration(1<<(attempt-1))
			log.Warn("retrying provider call",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		reply, delivered, err := call(ctx)
		if err == nil {
			return reply, nil
		}

		lastErr = err
		if delivered || !isRetryable(ctx, err) {
			return reply, err
		}
	}

	return "", lastErr
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var providerErr *coachErrors.ProviderError
	if coachErrors.As(err, &providerErr) {
		return providerErr.Retryable()
	}
	var networkErr *coachErrors.NetworkError
	return coachErrors.As(err, &networkErr)
}

func outcomeOf(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case ctx.Err() != nil:
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
