package mocks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ZaguanLabs/coach/internal/conversation"
)

// TestHelper bundles a mock provider and store
type TestHelper struct {
	Provider *MockProvider
	Store    *MockStore
}

// NewTestHelper creates a new test helper with fresh mocks
func NewTestHelper() *TestHelper {
	return &TestHelper{
		Provider: NewMockProvider(),
		Store:    NewMockStore(),
	}
}

// WithStoreError injects a storage error for one operation.
func (h *TestHelper) WithStoreError(operation string, err error) *TestHelper {
	h.Store.SetError(operation, err)
	return h
}

// WithProviderError makes every provider call fail.
func (h *TestHelper) WithProviderError(err error) *TestHelper {
	h.Provider.SetError(err)
	return h
}

// Seed stores a conversation with count alternating messages.
func (h *TestHelper) Seed(t testing.TB, id string, count int) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.Store.EnsureConversation(ctx, id, ""); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	if count == 0 {
		return
	}
	if err := h.Store.SaveMessagesWithRetry(ctx, id, CreateTestMessages(count), 1); err != nil {
		t.Fatalf("seed messages: %v", err)
	}
}

// WaitForCompletion polls fn until it returns true or timeout elapses.
func WaitForCompletion(timeout time.Duration, fn func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("condition not met within %s", timeout)
}

// CreateTestMessages builds count messages alternating user and assistant,
// starting with user, one minute apart.
func CreateTestMessages(count int) []conversation.Message {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	messages := make([]conversation.Message, count)
	for i := range messages {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		messages[i] = conversation.NewMessage(role, fmt.Sprintf("message %d", i), base.Add(time.Duration(i)*time.Minute))
	}
	return messages
}
