// Package provider talks to the language models that write the coach's
// replies.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ZaguanLabs/coach/internal/config"
	"github.com/ZaguanLabs/coach/internal/conversation"
)

// Request is one generation: a system prompt, the prior turns and the new
// user message.
type Request struct {
	System      string
	History     []conversation.Turn
	Message     string
	Temperature float64
}

// Provider produces assistant replies.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	// Stream calls onChunk for every text delta and returns the full reply.
	Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error)
}

// New builds the provider selected in cfg, wrapped with rate limiting and
// retries. Placeholder replies are local and are returned unwrapped.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...GuardOption) (Provider, error) {
	if err := cfg.ValidateProvider(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Model.Timeout}

	var p Provider
	switch cfg.Provider {
	case config.ProviderPlaceholder:
		return NewPlaceholder(), nil
	case config.ProviderOpenAI:
		c, err := NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.URL, cfg.OpenAI.Model, httpClient)
		if err != nil {
			return nil, err
		}
		p = c
	case config.ProviderGemini:
		c, err := NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.BaseURL, httpClient)
		if err != nil {
			return nil, err
		}
		p = c
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	base := []GuardOption{
		WithRateLimit(cfg.Model.RateLimit, cfg.Model.Burst),
		WithRetries(cfg.Model.MaxRetries, defaultBaseBackoff),
		WithLogger(logger),
	}
	return NewGuard(p, append(base, opts...)...), nil
}

// messagesFor flattens a request into role/content turns: system first, then
// history, then the new user message.
func messagesFor(req Request) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for _, turn := range req.History {
		msgs = append(msgs, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	msgs = append(msgs, chatMessage{Role: string(conversation.RoleUser), Content: req.Message})
	return msgs
}

const (
	defaultBaseBackoff = 500 * time.Millisecond
	streamingTimeout   = 120 * time.Second
)
