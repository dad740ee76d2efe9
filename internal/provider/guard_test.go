package provider

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaguanLabs/coach/internal/config"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
)

type scriptedProvider struct {
	mu     sync.Mutex
	errs   []error
	chunks []string
	calls  int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedProvider) Generate(ctx context.Context, req Request) (string, error) {
	if err := s.next(); err != nil {
		return "", err
	}
	return "ok:" + req.Message, nil
}

func (s *scriptedProvider) Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error) {
	for _, c := range s.chunks {
		if err := onChunk(c); err != nil {
			return "", err
		}
	}
	if err := s.next(); err != nil {
		return "", err
	}
	return "ok", nil
}

func TestGuard_RetriesTransientErrors(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		coachErrors.NewProviderError("scripted", http.StatusTooManyRequests, "slow down", nil),
		coachErrors.NewNetworkError("http://upstream", "reset", 0, errors.New("connection reset")),
	}}
	g := NewGuard(p, WithRetries(2, time.Millisecond))

	reply, err := g.Generate(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok:hi", reply)
	assert.Equal(t, 3, p.calls)
}

func TestGuard_DoesNotRetryClientErrors(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		coachErrors.NewProviderError("scripted", http.StatusUnauthorized, "bad key", nil),
	}}
	g := NewGuard(p, WithRetries(3, time.Millisecond))

	_, err := g.Generate(context.Background(), Request{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestGuard_GivesUpAfterMaxRetries(t *testing.T) {
	transient := coachErrors.NewProviderError("scripted", http.StatusServiceUnavailable, "down", nil)
	p := &scriptedProvider{errs: []error{transient, transient, transient, transient}}
	g := NewGuard(p, WithRetries(2, time.Millisecond))

	_, err := g.Generate(context.Background(), Request{Message: "hi"})
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, p.calls)
}

func TestGuard_StreamNotRetriedAfterDelivery(t *testing.T) {
	p := &scriptedProvider{
		chunks: []string{"partial"},
		errs:   []error{coachErrors.NewNetworkError("http://upstream", "cut", 0, nil)},
	}
	g := NewGuard(p, WithRetries(3, time.Millisecond))

	var got []string
	_, err := g.Stream(context.Background(), Request{}, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, []string{"partial"}, got)
}

func TestGuard_ObserverOutcomes(t *testing.T) {
	type obs struct{ provider, outcome string }
	var seen []obs
	observer := func(provider, outcome string, _ time.Duration) {
		seen = append(seen, obs{provider, outcome})
	}

	p := &scriptedProvider{errs: []error{nil, coachErrors.NewProviderError("scripted", 400, "bad", nil)}}
	g := NewGuard(p, WithRetries(0, time.Millisecond), WithObserver(observer))

	_, _ = g.Generate(context.Background(), Request{})
	_, _ = g.Generate(context.Background(), Request{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, Request{})
	require.Error(t, err)

	assert.Equal(t, []obs{
		{"scripted", OutcomeSuccess},
		{"scripted", OutcomeError},
		{"scripted", OutcomeTimeout},
	}, seen)
}

func TestGuard_DoesNotRetryUnclassifiedProviderErrors(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		coachErrors.NewProviderError("scripted", 0, "bad request config", errors.New("marshal failed")),
	}}
	g := NewGuard(p, WithRetries(3, time.Millisecond))

	_, err := g.Generate(context.Background(), Request{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

type blockingProvider struct{ scriptedProvider }

func (b *blockingProvider) Generate(ctx context.Context, req Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGuard_DeadlineBecomesTimeoutError(t *testing.T) {
	g := NewGuard(&blockingProvider{}, WithRetries(2, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Generate(ctx, Request{Message: "hi"})

	var timeoutErr *coachErrors.TimeoutError
	require.True(t, coachErrors.As(err, &timeoutErr))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "TIMEOUT", coachErrors.Public(err).Code())
}

func TestGuard_RateLimitHonoursContext(t *testing.T) {
	g := NewGuard(&scriptedProvider{}, WithRateLimit(0.001, 1))

	_, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, Request{})
	assert.Error(t, err)
}

func TestNew_SelectsProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Provider = config.ProviderPlaceholder
	p, err := New(context.Background(), &cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "placeholder", p.Name())

	cfg.Provider = config.ProviderOpenAI
	cfg.OpenAI.APIKey = "k"
	p, err = New(context.Background(), &cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &Guard{}, p)
	assert.Equal(t, "openai", p.Name())

	cfg.Provider = config.ProviderGemini
	cfg.Gemini.APIKey = ""
	_, err = New(context.Background(), &cfg, nil)
	assert.Error(t, err)
}
