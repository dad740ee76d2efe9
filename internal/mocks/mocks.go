package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZaguanLabs/coach/internal/conversation"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/provider"
)

// MockProvider simulates an LLM provider for testing
type MockProvider struct {
	name          string
	responses     []string
	responseIndex int
	err           error
	mu            sync.Mutex
	callCount     int
	delay         time.Duration
	gate          chan struct{}
	requests      []provider.Request
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:      "mock",
		responses: []string{"どんな場面でそう感じますか？"},
	}
}

// Name implements provider.Provider.
func (m *MockProvider) Name() string { return m.name }

// SetResponse sets a custom response
func (m *MockProvider) SetResponse(response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = []string{response}
	m.responseIndex = 0
}

// SetResponses sets multiple responses that will be returned in sequence
func (m *MockProvider) SetResponses(responses []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.responseIndex = 0
}

// SetError makes every call fail with err until cleared with nil.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay sets a simulated network delay
func (m *MockProvider) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// Hold makes calls block until the returned release function is called.
func (m *MockProvider) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Generate implements provider.Provider.
func (m *MockProvider) Generate(ctx context.Context, req provider.Request) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.requests = append(m.requests, req)
	delay, gate, err := m.delay, m.gate, m.err
	m.mu.Unlock()

	// Check context
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// Simulate delay
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return "", nil
	}
	response := m.responses[m.responseIndex%len(m.responses)]
	m.responseIndex++
	return response, nil
}

// Stream implements provider.Provider by splitting the response on spaces.
func (m *MockProvider) Stream(ctx context.Context, req provider.Request, onChunk func(string) error) (string, error) {
	full, err := m.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	for _, word := range strings.SplitAfter(full, " ") {
		if word == "" {
			continue
		}
		if err := onChunk(word); err != nil {
			return full, err
		}
	}
	return full, nil
}

// GetCallCount returns the number of calls made
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastRequest returns the most recent request, if any.
func (m *MockProvider) LastRequest() (provider.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return provider.Request{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// MockStore is an in-memory conversation store for testing
type MockStore struct {
	mu            sync.Mutex
	conversations map[string]*conversation.Conversation
	errors        map[string]error
	callCount     int
	delay         time.Duration
}

// NewMockStore creates a new mock store
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*conversation.Conversation),
		errors:        make(map[string]error),
	}
}

// SetError sets an error to be returned for a specific operation
func (m *MockStore) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, operation)
		return
	}
	m.errors[operation] = err
}

// SetDelay sets a simulated storage delay
func (m *MockStore) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

func (m *MockStore) begin(ctx context.Context, op string) error {
	m.mu.Lock()
	m.callCount++
	delay := m.delay
	err := m.errors[op]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func notFound(id string) error {
	return coachErrors.NewConversationError(id, "not found", coachErrors.ErrConversationNotFound)
}

func defaultTitle(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return conversation.DefaultTitle
}

// EnsureConversation creates the conversation if needed.
func (m *MockStore) EnsureConversation(ctx context.Context, id, title string) (bool, error) {
	if err := m.begin(ctx, "ensure"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; ok {
		return false, nil
	}
	now := time.Now()
	m.conversations[id] = &conversation.Conversation{
		ID: id, Title: defaultTitle(title), Messages: []conversation.Message{}, CreatedAt: now, UpdatedAt: now,
	}
	return true, nil
}

// CreateConversation creates a conversation with a fresh identifier.
func (m *MockStore) CreateConversation(ctx context.Context, title string) (*conversation.Conversation, error) {
	id := uuid.NewString()
	if _, err := m.EnsureConversation(ctx, id, title); err != nil {
		return nil, err
	}
	return m.LoadConversation(ctx, id)
}

// RenameConversation updates the title.
func (m *MockStore) RenameConversation(ctx context.Context, id, title string) error {
	if err := m.begin(ctx, "rename"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return notFound(id)
	}
	c.Title = defaultTitle(title)
	c.UpdatedAt = time.Now()
	return nil
}

// SaveMessagesWithRetry appends messages; the retry count is ignored.
func (m *MockStore) SaveMessagesWithRetry(ctx context.Context, id string, messages []conversation.Message, maxRetries int) error {
	if err := m.begin(ctx, "append"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return notFound(id)
	}
	c.Messages = append(c.Messages, messages...)
	c.UpdatedAt = time.Now()
	return nil
}

// SaveInsights stores the insights panel.
func (m *MockStore) SaveInsights(ctx context.Context, id string, insights *conversation.Insights) error {
	if err := m.begin(ctx, "insights"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return notFound(id)
	}
	if insights == nil {
		c.Insights = nil
		return nil
	}
	cp := insights.Clone()
	c.Insights = &cp
	return nil
}

// LoadConversation returns a copy of the stored conversation.
func (m *MockStore) LoadConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	if err := m.begin(ctx, "load"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, notFound(id)
	}
	return c.Clone(), nil
}

// ListConversations returns summaries, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, limit int) ([]conversation.Summary, error) {
	if err := m.begin(ctx, "list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]conversation.Summary, 0, len(m.conversations))
	for _, c := range m.conversations {
		out = append(out, conversation.Summary{
			ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt, MessageCount: len(c.Messages),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ResetConversation clears messages and insights.
func (m *MockStore) ResetConversation(ctx context.Context, id string) error {
	if err := m.begin(ctx, "reset"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return notFound(id)
	}
	c.Messages = []conversation.Message{}
	c.Insights = nil
	c.Title = conversation.DefaultTitle
	c.UpdatedAt = time.Now()
	return nil
}

// DeleteConversation removes the conversation.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	if err := m.begin(ctx, "delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return notFound(id)
	}
	delete(m.conversations, id)
	return nil
}

// GetCallCount returns the number of calls made
func (m *MockStore) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// ResetCallCount resets the call counter
func (m *MockStore) ResetCallCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
}
