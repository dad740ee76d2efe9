package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderError_Retryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, false},
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			err := NewProviderError("openai", tt.status, "boom", nil)
			assert.Equal(t, tt.want, err.Retryable())
		})
	}
}

func TestUnwrapChain(t *testing.T) {
	root := stderrors.New("disk full")
	err := NewStorageError("append", "insert failed", NewConversationError("abc", "write", root))

	assert.Equal(t, root, Unwrap(err))
	assert.True(t, Is(err, root))

	var convErr *ConversationError
	require.True(t, As(err, &convErr))
	assert.Equal(t, "CONVERSATION_ERROR", convErr.Code())
}

func TestPublic(t *testing.T) {
	SetErrorSecurityLevel(ErrorLevelProduction)
	t.Cleanup(func() { SetErrorSecurityLevel(ErrorLevelProduction) })

	t.Run("validation passes message through", func(t *testing.T) {
		err := Public(NewValidationError("message", "cannot be empty", nil, nil))
		assert.Equal(t, "message: cannot be empty", err.Error())
		assert.Equal(t, "VALIDATION_FAILED", err.Code())
	})

	t.Run("provider failure hides detail", func(t *testing.T) {
		err := Public(NewProviderError("gemini", 500, "api key=sk-secret leaked", nil))
		assert.Equal(t, PublicMessageTransport, err.Error())
		assert.NotContains(t, err.Error(), "sk-secret")
	})

	t.Run("sentinels", func(t *testing.T) {
		assert.Equal(t, "NOT_FOUND", Public(fmt.Errorf("load: %w", ErrConversationNotFound)).Code())
		assert.Equal(t, "BUSY", Public(ErrConversationBusy).Code())
	})

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, Public(nil))
	})
}

func TestSecureError_Levels(t *testing.T) {
	t.Cleanup(func() { SetErrorSecurityLevel(ErrorLevelProduction) })

	SetErrorSecurityLevel(ErrorLevelInfo)
	err := NewSecureError("request failed", "upstream 502", "API_502", "ERROR", nil)
	assert.Equal(t, "request failed (Code: API_502)", err.Error())

	SetErrorSecurityLevel(ErrorLevelDebug)
	err = NewSecureError("request failed", "upstream 502", "API_502", "ERROR", nil)
	assert.Contains(t, err.Error(), "Detail: upstream 502")
	assert.Equal(t, "request failed", err.PublicMessage())
}

func TestSanitizePublicMessage(t *testing.T) {
	got := sanitizePublicMessage("failed reading /home/me/.coach/coach.db from 10.0.0.1 token=abc123")
	assert.NotContains(t, got, "/home/me")
	assert.NotContains(t, got, "10.0.0.1")
	assert.NotContains(t, got, "abc123")
}

func TestParseErrorSecurityLevel(t *testing.T) {
	assert.Equal(t, ErrorLevelDebug, ParseErrorSecurityLevel("DEBUG"))
	assert.Equal(t, ErrorLevelInfo, ParseErrorSecurityLevel("info"))
	assert.Equal(t, ErrorLevelProduction, ParseErrorSecurityLevel("whatever"))
}
