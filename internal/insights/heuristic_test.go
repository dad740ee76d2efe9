package insights

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaguanLabs/coach/internal/conversation"
)

var fixedNow = time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

func msgs(pairs ...string) []conversation.Message {
	out := make([]conversation.Message, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, conversation.NewMessage(conversation.Role(pairs[i]), pairs[i+1], fixedNow))
	}
	return out
}

func TestHeuristic_Empty(t *testing.T) {
	for _, p := range []Profile{ProfileCompact, ProfileWide} {
		got := NewHeuristic(p).Extract(msgs("assistant", "hello"), fixedNow)
		assert.Equal(t, Placeholder, got.Summary)
		assert.Equal(t, Placeholder, got.Direction)
		assert.Equal(t, []string{Placeholder}, got.NextSteps)
		assert.Equal(t, []string{Placeholder}, got.Questions)
		assert.Zero(t, got.Confidence)
		assert.Equal(t, fixedNow, got.UpdatedAt)
	}
}

func TestHeuristic_UsesLastUserMessage(t *testing.T) {
	got := NewHeuristic(ProfileCompact).Extract(msgs(
		"user", "first",
		"assistant", "reply",
		"user", "転職するか迷っている",
		"assistant", "reply",
	), fixedNow)

	assert.Equal(t, "最近のテーマ：転職するか迷っている", got.Summary)
	assert.Equal(t, "（仮）方向性はまだ暫定", got.Direction)
	assert.Equal(t, []string{"モヤモヤを3つ書く", "最小の一歩を1つ決める"}, got.NextSteps)
	assert.Equal(t, []string{"避けたい未来は？", "本当は何がしたい？"}, got.Questions)
	assert.InDelta(t, 0.2, got.Confidence, 1e-9)
}

func TestHeuristic_TruncatesByProfile(t *testing.T) {
	long := strings.Repeat("あ", 30)

	compact := NewHeuristic(ProfileCompact).Extract(msgs("user", long), fixedNow)
	assert.Equal(t, "最近のテーマ："+strings.Repeat("あ", 22)+"…", compact.Summary)

	wide := NewHeuristic(ProfileWide).Extract(msgs("user", long), fixedNow)
	assert.Equal(t, "最近のテーマ："+strings.Repeat("あ", 28)+"…", wide.Summary)
	assert.InDelta(t, 0.25, wide.Confidence, 1e-9)
	assert.Equal(t, []string{"避けたい未来は？", "何を選べば後悔が少ない？"}, wide.Questions)

	exact := NewHeuristic(ProfileCompact).Extract(msgs("user", strings.Repeat("x", 22)), fixedNow)
	assert.Equal(t, "最近のテーマ："+strings.Repeat("x", 22), exact.Summary)
}

func TestHeuristic_ResultsDoNotAlias(t *testing.T) {
	h := NewHeuristic(ProfileWide)
	a := h.Extract(msgs("user", "x"), fixedNow)
	a.NextSteps[0] = "mutated"
	b := h.Extract(msgs("user", "x"), fixedNow)
	assert.NotEqual(t, "mutated", b.NextSteps[0])
}

func TestParseProfile(t *testing.T) {
	tests := map[string]Profile{
		"":          ProfileCompact,
		"mobile":    ProfileCompact,
		"Compact":   ProfileCompact,
		"dashboard": ProfileWide,
		"wide":      ProfileWide,
		"desktop":   ProfileWide,
	}
	for in, want := range tests {
		got, err := ParseProfile(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseProfile("tablet")
	assert.Error(t, err)
}

func TestNewHeuristic_UnknownProfile(t *testing.T) {
	assert.Equal(t, ProfileCompact, NewHeuristic("bogus").Profile())
}
