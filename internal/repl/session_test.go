package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaguanLabs/coach/internal/coach"
	"github.com/ZaguanLabs/coach/internal/conversation"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/mocks"
)

func newTestSession(t *testing.T, input string, opts Options) (*Session, *mocks.TestHelper, *bytes.Buffer) {
	t.Helper()
	h := mocks.NewTestHelper()
	svc, err := coach.New(h.Store, h.Provider, coach.Options{})
	require.NoError(t, err)

	s, err := NewSession(svc, opts)
	require.NoError(t, err)

	var out bytes.Buffer
	s.SetIO(strings.NewReader(input), &out)
	s.DisableColors()
	return s, h, &out
}

func TestNewSession_RequiresBackend(t *testing.T) {
	_, err := NewSession(nil, Options{})
	assert.Error(t, err)
}

func TestRun_EmptyConversationAndExit(t *testing.T) {
	s, _, out := newTestSession(t, "/exit\n", Options{Version: "1.2.3"})

	require.NoError(t, s.Run(context.Background()))
	assert.Contains(t, out.String(), "=== Coaching v1.2.3 ===")
	assert.Contains(t, out.String(), emptyHint)
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestRun_SendsMessages(t *testing.T) {
	s, h, out := newTestSession(t, "迷っている\n\n", Options{})
	h.Provider.SetResponse("何に迷っていますか？")

	require.NoError(t, s.Run(context.Background()), "EOF ends the session")

	assert.Contains(t, out.String(), thinkingText)
	assert.Contains(t, out.String(), "何に迷っていますか？")
	assert.Equal(t, 1, h.Provider.GetCallCount())

	stored, err := h.Store.LoadConversation(context.Background(), conversation.DefaultID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "迷っている", stored.Messages[0].Content)
}

func TestRun_StreamsInLocalMode(t *testing.T) {
	s, h, out := newTestSession(t, "hello\n/exit\n", Options{Stream: true})
	h.Provider.SetResponse("one two three")

	require.NoError(t, s.Run(context.Background()))
	assert.Contains(t, out.String(), "one two three")
	assert.NotContains(t, out.String(), thinkingText)
}

func TestRun_SendFailure(t *testing.T) {
	s, h, out := newTestSession(t, "hello\n/exit\n", Options{})
	h.Provider.SetError(coachErrors.NewProviderError("mock", 500, "boom", nil))

	require.NoError(t, s.Run(context.Background()))
	assert.Contains(t, out.String(), "Error: "+coachErrors.PublicMessageTransport)
	assert.Contains(t, out.String(), conversation.TransportFailureReply)
	assert.NotContains(t, out.String(), "boom")
}

func TestRun_ValidationFailureHasNoBubble(t *testing.T) {
	s, h, out := newTestSession(t, strings.Repeat("a", 8001)+"\n/exit\n", Options{})

	require.NoError(t, s.Run(context.Background()))
	assert.Contains(t, out.String(), "Error: ")
	assert.NotContains(t, out.String(), conversation.TransportFailureReply)
	assert.Zero(t, h.Provider.GetCallCount())
}

func TestRun_ShowsRecentAndHistory(t *testing.T) {
	s, h, out := newTestSession(t, "/history\n/exit\n", Options{})
	h.Seed(t, conversation.DefaultID, 8)

	require.NoError(t, s.Run(context.Background()))
	text := out.String()
	assert.Contains(t, text, "… 2 earlier messages (/history)")
	assert.Contains(t, text, "=== History ===")
	assert.Contains(t, text, "[8] ")
	assert.Contains(t, text, "message 0")
}

func TestRun_Insights(t *testing.T) {
	s, h, out := newTestSession(t, "/insights\n/exit\n", Options{Profile: "wide"})
	h.Seed(t, conversation.DefaultID, 2)

	require.NoError(t, s.Run(context.Background()))
	text := out.String()
	assert.Contains(t, text, "🧩 Insights")
	assert.Contains(t, text, "最近のテーマ：message 0")
	assert.Contains(t, text, "重要だが避けていることを1つ書く")
	assert.Contains(t, text, "25%")

	stored, err := h.Store.LoadConversation(context.Background(), conversation.DefaultID)
	require.NoError(t, err)
	require.NotNil(t, stored.Insights)
}

func TestRun_ResetAsksForConfirmation(t *testing.T) {
	s, h, out := newTestSession(t, "/reset\nn\n/reset\ny\n/exit\n", Options{})
	h.Seed(t, conversation.DefaultID, 4)

	require.NoError(t, s.Run(context.Background()))
	assert.Contains(t, out.String(), "リセットを取り消しました。")
	assert.Contains(t, out.String(), "History cleared.")

	stored, err := h.Store.LoadConversation(context.Background(), conversation.DefaultID)
	require.NoError(t, err)
	assert.Empty(t, stored.Messages)
}

func TestRun_MarkdownToggleAndUnknown(t *testing.T) {
	s, _, out := newTestSession(t, "/markdown\n/markdown\n/nope\n/help\n/exit\n", Options{})

	require.NoError(t, s.Run(context.Background()))
	text := out.String()
	assert.Contains(t, text, "Markdown rendering enabled.")
	assert.Contains(t, text, "Markdown rendering disabled.")
	assert.Contains(t, text, `command error for "/nope": unknown command`)
	assert.Contains(t, text, "/insights - Update and show insights")
}

func TestRun_CancelledContext(t *testing.T) {
	s, h, _ := newTestSession(t, "hello\nagain\n", Options{Timeout: time.Second})
	h.Provider.SetDelay(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = mocks.WaitForCompletion(time.Second, func() bool { return h.Provider.GetCallCount() > 0 })
		cancel()
	}()

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 1, h.Provider.GetCallCount())
}
