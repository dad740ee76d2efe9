// Package coach runs the coaching conversation: it builds prompts from the
// stored history, calls the provider, persists the exchange and keeps the
// insights panel current.
package coach

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/ZaguanLabs/coach/internal/conversation"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/insights"
	"github.com/ZaguanLabs/coach/internal/logging"
	"github.com/ZaguanLabs/coach/internal/provider"
	"github.com/ZaguanLabs/coach/internal/validation"
)

const saveRetries = 3

// Store is the persistence the service needs.
type Store interface {
	EnsureConversation(ctx context.Context, id, title string) (bool, error)
	CreateConversation(ctx context.Context, title string) (*conversation.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) error
	SaveMessagesWithRetry(ctx context.Context, id string, messages []conversation.Message, maxRetries int) error
	SaveInsights(ctx context.Context, id string, insights *conversation.Insights) error
	LoadConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]conversation.Summary, error)
	ResetConversation(ctx context.Context, id string) error
	DeleteConversation(ctx context.Context, id string) error
}

// Backend is what the terminal clients and the HTTP API drive. *Service
// implements it in-process and client.Client implements it over HTTP.
type Backend interface {
	Reply(ctx context.Context, message string, history []conversation.Turn) (string, error)
	Send(ctx context.Context, id, text string) (*conversation.Exchange, error)
	Conversation(ctx context.Context, id string) (*conversation.Conversation, error)
	List(ctx context.Context, limit int) ([]conversation.Summary, error)
	Create(ctx context.Context, title string) (*conversation.Conversation, error)
	Rename(ctx context.Context, id, title string) (*conversation.Conversation, error)
	Reset(ctx context.Context, id string) (*conversation.Conversation, error)
	Delete(ctx context.Context, id string) error
	PreviewInsights(ctx context.Context, id string, profile insights.Profile) (*conversation.Insights, error)
	ApplyInsights(ctx context.Context, id string, profile insights.Profile) (*conversation.Insights, error)
}

var _ Backend = (*Service)(nil)

// Options tune the service.
type Options struct {
	SystemPrompt  string
	Temperature   float64
	HistoryWindow int
	Profile       insights.Profile
	CacheSize     int
	Logger        *zap.Logger
	Now           func() time.Time
}

// Service implements the coaching operations on top of a Store and a Provider.
type Service struct {
	store    Store
	provider provider.Provider
	opts     Options
	cache    *lru.Cache[string, *conversation.Conversation]
	logger   *zap.Logger
	now      func() time.Time

	busyMu sync.Mutex
	busy   map[string]struct{}

	// writes counts invalidations per id so a read that started before a
	// write cannot put its snapshot back into the cache.
	cacheMu sync.Mutex
	writes  map[string]uint64
}

// New creates a Service.
func New(store Store, p provider.Provider, opts Options) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("coach: store is required")
	}
	if p == nil {
		return nil, fmt.Errorf("coach: provider is required")
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = conversation.HistoryWindow
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	if opts.Profile == "" {
		opts.Profile = insights.ProfileCompact
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cache, err := lru.New[string, *conversation.Conversation](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("coach: create cache: %w", err)
	}

	return &Service{
		store:    store,
		provider: p,
		opts:     opts,
		cache:    cache,
		logger:   opts.Logger.Named("coach"),
		now:      opts.Now,
		busy:     make(map[string]struct{}),
		writes:   make(map[string]uint64),
	}, nil
}

// ProviderName reports which provider writes the replies.
func (s *Service) ProviderName() string { return s.provider.Name() }

// Reply answers one message given a client-held history. Nothing is stored.
func (s *Service) Reply(ctx context.Context, message string, history []conversation.Turn) (string, error) {
	message = validation.NormalizeMessage(message)
	if err := validation.ValidateMessage(message); err != nil {
		return "", err
	}
	if err := validation.ValidateHistory(history); err != nil {
		return "", err
	}

	return s.generate(ctx, s.request(conversation.TrimTurns(history, s.opts.HistoryWindow), message), nil)
}

// Send appends text to the conversation, asks the provider for a reply and
// stores both messages once the reply arrived. Insights are recomputed
// afterwards. A second Send for the same conversation while one is in flight
// fails with ErrConversationBusy.
func (s *Service) Send(ctx context.Context, id, text string) (*conversation.Exchange, error) {
	return s.send(ctx, id, text, nil)
}

// SendStream is Send with the reply delivered incrementally to onChunk.
func (s *Service) SendStream(ctx context.Context, id, text string, onChunk func(string) error) (*conversation.Exchange, error) {
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}
	return s.send(ctx, id, text, onChunk)
}

func (s *Service) send(ctx context.Context, id, text string, onChunk func(string) error) (*conversation.Exchange, error) {
	text = validation.NormalizeMessage(text)
	if err := validation.ValidateMessage(text); err != nil {
		return nil, err
	}
	if err := validation.ValidateConversationID(id); err != nil {
		return nil, err
	}

	release, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx = logging.WithConversationID(ctx, id)
	log := logging.For(ctx, s.logger)

	conv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	userMsg := conversation.NewMessage(conversation.RoleUser, text, s.now())
	start := time.Now()
	reply, err := s.generate(ctx, s.request(conv.Tail(s.opts.HistoryWindow), text), onChunk)
	if err != nil {
		log.Warn("provider call failed",
			zap.String("provider", s.provider.Name()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	assistantMsg := conversation.NewMessage(conversation.RoleAssistant, reply, s.now())

	if err := s.store.SaveMessagesWithRetry(ctx, id, []conversation.Message{userMsg, assistantMsg}, saveRetries); err != nil {
		s.invalidate(id)
		return nil, err
	}
	s.invalidate(id)

	exchange := &conversation.Exchange{ConversationID: id, User: userMsg, Assistant: assistantMsg}

	messages := append(conv.Messages, userMsg, assistantMsg)
	ins := insights.NewHeuristic(s.opts.Profile).Extract(messages, s.now())
	if err := s.store.SaveInsights(ctx, id, &ins); err != nil {
		// The exchange is already stored; a stale panel is recomputed on the next send.
		log.Warn("save insights failed", zap.Error(err))
	} else {
		exchange.Insights = &ins
	}

	log.Info("exchange stored",
		zap.String("provider", s.provider.Name()),
		zap.Duration("duration", time.Since(start)),
		zap.Int("messages", len(messages)))

	return exchange, nil
}

func (s *Service) request(history []conversation.Turn, message string) provider.Request {
	return provider.Request{
		System:      s.opts.SystemPrompt,
		History:     history,
		Message:     message,
		Temperature: s.opts.Temperature,
	}
}

func (s *Service) generate(ctx context.Context, req provider.Request, onChunk func(string) error) (string, error) {
	var (
		reply string
		err   error
	)
	if onChunk != nil {
		reply, err = s.provider.Stream(ctx, req, onChunk)
	} else {
		reply, err = s.provider.Generate(ctx, req)
	}
	if err != nil {
		return "", err
	}
	reply = validation.StripControl(reply)
	if strings.TrimSpace(reply) == "" {
		return conversation.EmptyReply, nil
	}
	return reply, nil
}

func (s *Service) acquire(id string) (func(), error) {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if _, ok := s.busy[id]; ok {
		return nil, coachErrors.NewConversationError(id, "a reply is still pending", coachErrors.ErrConversationBusy)
	}
	s.busy[id] = struct{}{}
	return func() {
		s.busyMu.Lock()
		delete(s.busy, id)
		s.busyMu.Unlock()
	}, nil
}

// Busy reports whether a send is in flight for the conversation.
func (s *Service) Busy(id string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	_, ok := s.busy[id]
	return ok
}

// load returns the cached conversation, creating it on first access.
func (s *Service) load(ctx context.Context, id string) (*conversation.Conversation, error) {
	if conv, ok := s.cache.Get(id); ok {
		return conv.Clone(), nil
	}

	s.cacheMu.Lock()
	gen := s.writes[id]
	s.cacheMu.Unlock()

	if _, err := s.store.EnsureConversation(ctx, id, ""); err != nil {
		return nil, err
	}
	conv, err := s.store.LoadConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	if s.writes[id] == gen {
		s.cache.Add(id, conv.Clone())
	}
	s.cacheMu.Unlock()
	return conv, nil
}

// invalidate drops the cached conversation after a write.
func (s *Service) invalidate(id string) {
	s.cacheMu.Lock()
	s.writes[id]++
	s.cache.Remove(id)
	s.cacheMu.Unlock()
}

// Conversation returns the conversation, creating an empty one on first access.
func (s *Service) Conversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	if err := validation.ValidateConversationID(id); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// List returns conversation summaries, most recently active first.
func (s *Service) List(ctx context.Context, limit int) ([]conversation.Summary, error) {
	return s.store.ListConversations(ctx, limit)
}

// Create starts a new conversation with a generated identifier.
func (s *Service) Create(ctx context.Context, title string) (*conversation.Conversation, error) {
	return s.store.CreateConversation(ctx, title)
}

// Rename changes the title of an existing conversation.
func (s *Service) Rename(ctx context.Context, id, title string) (*conversation.Conversation, error) {
	if err := s.store.RenameConversation(ctx, id, title); err != nil {
		return nil, err
	}
	s.invalidate(id)
	return s.load(ctx, id)
}

// Reset clears every message and the insights but keeps the identifier.
func (s *Service) Reset(ctx context.Context, id string) (*conversation.Conversation, error) {
	if err := validation.ValidateConversationID(id); err != nil {
		return nil, err
	}
	release, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.store.EnsureConversation(ctx, id, ""); err != nil {
		return nil, err
	}
	if err := s.store.ResetConversation(ctx, id); err != nil {
		return nil, err
	}
	s.invalidate(id)
	logging.For(logging.WithConversationID(ctx, id), s.logger).Info("conversation reset")
	return s.load(ctx, id)
}

// Delete removes the conversation.
func (s *Service) Delete(ctx context.Context, id string) error {
	release, err := s.acquire(id)
	if err != nil {
		return err
	}
	defer release()

	s.invalidate(id)
	return s.store.DeleteConversation(ctx, id)
}

// PreviewInsights computes insights for the given profile without storing them.
func (s *Service) PreviewInsights(ctx context.Context, id string, profile insights.Profile) (*conversation.Insights, error) {
	conv, err := s.Conversation(ctx, id)
	if err != nil {
		return nil, err
	}
	ins := insights.NewHeuristic(profile).Extract(conv.Messages, s.now())
	return &ins, nil
}

// ApplyInsights computes insights for the given profile and stores them.
func (s *Service) ApplyInsights(ctx context.Context, id string, profile insights.Profile) (*conversation.Insights, error) {
	ins, err := s.PreviewInsights(ctx, id, profile)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveInsights(ctx, id, ins); err != nil {
		return nil, err
	}
	s.invalidate(id)
	return ins, nil
}
