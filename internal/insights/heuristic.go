// Package insights derives the insights panel from a conversation.
//
// Only the heuristic extractor exists today. It looks at the most recent user
// message and fills the rest from fixed, profile-specific prompts; an
// AI-backed extractor would implement the same Extractor interface.
package insights

import (
	"fmt"
	"strings"
	"time"

	"github.com/ZaguanLabs/coach/internal/conversation"
)

// Placeholder is shown for every field when there is nothing to summarise.
const Placeholder = "—"

const (
	summaryPrefix    = "最近のテーマ："
	ellipsis         = "…"
	directionPending = "（仮）方向性はまだ暫定"
)

// Profile selects the layout-specific heuristic parameters.
type Profile string

const (
	// ProfileCompact matches the phone "focus mode" view.
	ProfileCompact Profile = "compact"
	// ProfileWide matches the desktop dashboard view.
	ProfileWide Profile = "wide"
)

// ParseProfile accepts the profile names and their layout aliases.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "compact", "mobile", "chat":
		return ProfileCompact, nil
	case "wide", "desktop", "dashboard":
		return ProfileWide, nil
	default:
		return "", fmt.Errorf("unknown insights profile %q (want compact or wide)", s)
	}
}

// Extractor computes insights from a message list.
type Extractor interface {
	Extract(messages []conversation.Message, now time.Time) conversation.Insights
}

type profileParams struct {
	summaryRunes int
	nextSteps    []string
	questions    []string
	confidence   float64
}

var profiles = map[Profile]profileParams{
	ProfileCompact: {
		summaryRunes: 22,
		nextSteps:    []string{"モヤモヤを3つ書く", "最小の一歩を1つ決める"},
		questions:    []string{"避けたい未来は？", "本当は何がしたい？"},
		confidence:   0.2,
	},
	ProfileWide: {
		summaryRunes: 28,
		nextSteps:    []string{"重要だが避けていることを1つ書く", "今日できる最小の一歩を決める"},
		questions:    []string{"避けたい未来は？", "何を選べば後悔が少ない？"},
		confidence:   0.25,
	},
}

// Heuristic is the temporary string-slicing extractor.
type Heuristic struct {
	profile Profile
	params  profileParams
}

// NewHeuristic returns a heuristic extractor for the given profile.
// Unknown profiles fall back to compact.
func NewHeuristic(profile Profile) *Heuristic {
	params, ok := profiles[profile]
	if !ok {
		profile = ProfileCompact
		params = profiles[ProfileCompact]
	}
	return &Heuristic{profile: profile, params: params}
}

// Profile returns the profile the extractor was built for.
func (h *Heuristic) Profile() Profile { return h.profile }

// Extract implements Extractor.
func (h *Heuristic) Extract(messages []conversation.Message, now time.Time) conversation.Insights {
	var last string
	userCount := 0
	for _, m := range messages {
		if m.Role == conversation.RoleUser {
			last = m.Content
			userCount++
		}
	}

	if userCount == 0 {
		return conversation.Insights{
			Summary:    Placeholder,
			Direction:  Placeholder,
			NextSteps:  []string{Placeholder},
			Questions:  []string{Placeholder},
			Confidence: 0,
			UpdatedAt:  now,
		}
	}

	return conversation.Insights{
		Summary:    summaryPrefix + truncateRunes(last, h.params.summaryRunes),
		Direction:  directionPending,
		NextSteps:  append([]string(nil), h.params.nextSteps...),
		Questions:  append([]string(nil), h.params.questions...),
		Confidence: h.params.confidence,
		UpdatedAt:  now,
	}
}

// truncateRunes cuts s to n runes and marks the cut with an ellipsis.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + ellipsis
}
