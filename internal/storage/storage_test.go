package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaguanLabs/coach/internal/conversation"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "coach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func exchange(at time.Time, user, assistant string) []conversation.Message {
	return []conversation.Message{
		conversation.NewMessage(conversation.RoleUser, user, at),
		conversation.NewMessage(conversation.RoleAssistant, assistant, at.Add(time.Second)),
	}
}

func TestEnsureConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.EnsureConversation(ctx, conversation.DefaultID, "")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.EnsureConversation(ctx, conversation.DefaultID, "other")
	require.NoError(t, err)
	assert.False(t, created)

	conv, err := store.LoadConversation(ctx, conversation.DefaultID)
	require.NoError(t, err)
	assert.Equal(t, conversation.DefaultTitle, conv.Title)
	assert.Empty(t, conv.Messages)
	assert.NotNil(t, conv.Messages)
	assert.Nil(t, conv.Insights)

	_, err = store.EnsureConversation(ctx, "../bad", "")
	assert.Error(t, err)
}

func TestAppendAndLoadMessages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureConversation(ctx, "c1", "週次")
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 9, 30, 0, 123, time.UTC)
	msgs := exchange(at, "転職するか迷っている", "どんな場面で迷いますか？")
	require.NoError(t, store.AppendMessages(ctx, "c1", msgs))

	conv, err := store.LoadConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, msgs[0].ID, conv.Messages[0].ID)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "どんな場面で迷いますか？", conv.Messages[1].Content)
	assert.True(t, at.Equal(conv.Messages[0].CreatedAt))
	assert.Equal(t, "週次", conv.Title)
}

func TestAppendMessages_IsAtomic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureConversation(ctx, "c1", "")
	require.NoError(t, err)

	first := exchange(time.Now(), "a", "b")
	require.NoError(t, store.AppendMessages(ctx, "c1", first))

	dup := []conversation.Message{
		conversation.NewMessage(conversation.RoleUser, "c", time.Now()),
		first[0], // duplicate id violates UNIQUE
	}
	require.Error(t, store.AppendMessages(ctx, "c1", dup))

	conv, err := store.LoadConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestAppendMessages_Validation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureConversation(ctx, "c1", "")
	require.NoError(t, err)

	tests := []conversation.Message{
		{ID: "x", Role: "system", Content: "hi"},
		{ID: "x", Role: conversation.RoleUser, Content: "  "},
		{ID: "", Role: conversation.RoleUser, Content: "hi"},
		{ID: "x", Role: conversation.RoleUser, Content: "bell\a"},
	}
	for i, m := range tests {
		err := store.AppendMessages(ctx, "c1", []conversation.Message{m})
		var vErr *coachErrors.ValidationError
		assert.True(t, coachErrors.As(err, &vErr), "case %d: %v", i, err)
	}
}

func TestAppendMessages_UnknownConversation(t *testing.T) {
	store := openTestStore(t)
	err := store.AppendMessages(context.Background(), "missing", exchange(time.Now(), "a", "b"))
	assert.ErrorIs(t, err, coachErrors.ErrConversationNotFound)

	err = store.SaveMessagesWithRetry(context.Background(), "missing", exchange(time.Now(), "a", "b"), 3)
	assert.ErrorIs(t, err, coachErrors.ErrConversationNotFound)
}

func TestSaveMessagesWithRetry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureConversation(ctx, "c1", "")
	require.NoError(t, err)

	require.NoError(t, store.SaveMessagesWithRetry(ctx, "c1", exchange(time.Now(), "a", "b"), 3))
	conv, err := store.LoadConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestSaveInsights(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureConversation(ctx, "c1", "")
	require.NoError(t, err)

	ins := &conversation.Insights{
		Summary:    "最近のテーマ：x",
		Direction:  "（仮）方向性はまだ暫定",
		NextSteps:  []string{"a", "b"},
		Questions:  []string{"q"},
		Confidence: 0.25,
		UpdatedAt:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveInsights(ctx, "c1", ins))

	conv, err := store.LoadConversation(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, conv.Insights)
	assert.Equal(t, ins.Summary, conv.Insights.Summary)
	assert.Equal(t, ins.NextSteps, conv.Insights.NextSteps)
	assert.True(t, ins.UpdatedAt.Equal(conv.Insights.UpdatedAt))

	require.NoError(t, store.SaveInsights(ctx, "c1", nil))
	conv, err = store.LoadConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, conv.Insights)

	assert.ErrorIs(t, store.SaveInsights(ctx, "missing", ins), coachErrors.ErrConversationNotFound)
}

func TestListConversations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.EnsureConversation(ctx, id, "title "+id)
		require.NoError(t, err)
	}
	require.NoError(t, store.AppendMessages(ctx, "a", exchange(time.Now(), "x", "y")))

	all, err := store.ListConversations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID, "most recently touched first")
	assert.Equal(t, 2, all[0].MessageCount)
	assert.Equal(t, "c", all[1].ID)

	limited, err := store.ListConversations(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCreateAndRenameConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "  first\tsession ")
	require.NoError(t, err)
	assert.Equal(t, "first session", conv.Title)
	assert.NotEmpty(t, conv.ID)

	require.NoError(t, store.RenameConversation(ctx, conv.ID, "renamed"))
	loaded, err := store.LoadConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", loaded.Title)

	require.NoError(t, store.RenameConversation(ctx, conv.ID, ""))
	loaded, err = store.LoadConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.DefaultTitle, loaded.Title)

	assert.ErrorIs(t, store.RenameConversation(ctx, "missing", "x"), coachErrors.ErrConversationNotFound)
}

func TestResetConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureConversation(ctx, "c1", "custom")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessages(ctx, "c1", exchange(time.Now(), "a", "b")))
	require.NoError(t, store.SaveInsights(ctx, "c1", &conversation.Insights{Summary: "s"}))

	require.NoError(t, store.ResetConversation(ctx, "c1"))

	conv, err := store.LoadConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, conversation.DefaultTitle, conv.Title)
	assert.Empty(t, conv.Messages)
	assert.Nil(t, conv.Insights)

	assert.ErrorIs(t, store.ResetConversation(ctx, "missing"), coachErrors.ErrConversationNotFound)
}

func TestDeleteConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureConversation(ctx, "c1", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessages(ctx, "c1", exchange(time.Now(), "a", "b")))

	require.NoError(t, store.DeleteConversation(ctx, "c1"))

	_, err = store.LoadConversation(ctx, "c1")
	assert.ErrorIs(t, err, coachErrors.ErrConversationNotFound)
	assert.ErrorIs(t, store.DeleteConversation(ctx, "c1"), coachErrors.ErrConversationNotFound)

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count))
	assert.Zero(t, count, "messages cascade with their conversation")
}

func TestLoadConversationWithPagination(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureConversation(ctx, "c1", "")
	require.NoError(t, err)

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var msgs []conversation.Message
	for i := 0; i < 7; i++ {
		msgs = append(msgs, conversation.NewMessage(conversation.RoleUser, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, store.AppendMessages(ctx, "c1", msgs))

	page1, err := store.LoadConversationWithPagination(ctx, "c1", &PaginationOptions{Page: 1, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, page1.TotalMessages)
	require.Len(t, page1.Conversation.Messages, 3)
	assert.Equal(t, "m4", page1.Conversation.Messages[0].Content)
	assert.Equal(t, "m6", page1.Conversation.Messages[2].Content)

	page3, err := store.LoadConversationWithPagination(ctx, "c1", &PaginationOptions{Page: 3, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, page3.Conversation.Messages, 1)
	assert.Equal(t, "m0", page3.Conversation.Messages[0].Content)

	def, err := store.LoadConversationWithPagination(ctx, "c1", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, def.PageSize)
	assert.Len(t, def.Conversation.Messages, 7)
}

func TestOpen_InMemory(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.EnsureConversation(context.Background(), "c1", "")
	require.NoError(t, err)
}

func TestNilStore(t *testing.T) {
	var store *Store
	assert.NoError(t, store.Close())
	_, err := store.LoadConversation(context.Background(), "x")
	assert.Error(t, err)
}
