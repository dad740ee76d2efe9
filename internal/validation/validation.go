package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/conversation"
)

// Validation constants
const (
	MaxMessageRunes     = 8000 // one coaching message
	MaxHistoryTurns     = 200
	MaxTitleRunes       = 80
	MaxIdentifierLength = 128
	MaxCommandLength    = 1000
)

var (
	// IdentifierPattern allows alphanumeric, underscore and hyphen.
	IdentifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// CommandPattern matches slash commands typed into the terminal clients.
	CommandPattern = regexp.MustCompile(`^/[a-zA-Z]+(\s+\S.*)?$`)

	whitespaceRun = regexp.MustCompile(`\s+`)
	ansiEscape    = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
)

// NormalizeMessage trims surrounding whitespace from a user message.
func NormalizeMessage(message string) string {
	return strings.TrimSpace(message)
}

// ValidateMessage checks a user message after normalisation.
func ValidateMessage(message string) error {
	message = NormalizeMessage(message)
	if message == "" {
		return coachErrors.NewValidationError("message", "message cannot be empty", nil, nil)
	}
	if !utf8.ValidString(message) {
		return coachErrors.NewValidationError("message", "message is not valid UTF-8", nil, nil)
	}
	if n := utf8.RuneCountInString(message); n > MaxMessageRunes {
		return coachErrors.NewValidationError("message", fmt.Sprintf("message too long (max %d characters, got %d)", MaxMessageRunes, n), nil, nil)
	}
	if err := ValidatePrintable(message); err != nil {
		return coachErrors.NewValidationError("message", err.Error(), nil, nil)
	}
	return nil
}

// ValidateHistory checks every turn of a client-supplied history.
// Content may be empty: providers occasionally return blank replies that are stored as is.
func ValidateHistory(history []conversation.Turn) error {
	if len(history) > MaxHistoryTurns {
		return coachErrors.NewValidationError("history", fmt.Sprintf("history too long (max %d turns)", MaxHistoryTurns), nil, nil)
	}
	for i, turn := range history {
		if !turn.Role.Valid() {
			return coachErrors.NewValidationError("history", fmt.Sprintf("turn %d has invalid role %q (want user or assistant)", i, turn.Role), nil, nil)
		}
		if utf8.RuneCountInString(turn.Content) > MaxMessageRunes {
			return coachErrors.NewValidationError("history", fmt.Sprintf("turn %d too long (max %d characters)", i, MaxMessageRunes), nil, nil)
		}
	}
	return nil
}

// ValidateRole checks a stored message role.
func ValidateRole(role conversation.Role) error {
	if !role.Valid() {
		return coachErrors.NewValidationError("role", fmt.Sprintf("invalid role %q (want user or assistant)", role), nil, nil)
	}
	return nil
}

// ValidateConversationID checks a conversation key.
func ValidateConversationID(id string) error {
	if id == "" {
		return coachErrors.NewValidationError("conversation_id", "conversation id cannot be empty", nil, nil)
	}
	if len(id) > MaxIdentifierLength {
		return coachErrors.NewValidationError("conversation_id", fmt.Sprintf("conversation id too long (max %d characters)", MaxIdentifierLength), nil, nil)
	}
	if !IdentifierPattern.MatchString(id) {
		return coachErrors.NewValidationError("conversation_id", "conversation id contains invalid characters (only alphanumeric, - and _ allowed)", nil, nil)
	}
	return nil
}

// SanitizeTitle collapses whitespace, strips control characters and caps
// the length. An empty result means the caller should use the default title.
func SanitizeTitle(title string) string {
	title = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, title)
	title = strings.TrimSpace(whitespaceRun.ReplaceAllString(title, " "))
	if utf8.RuneCountInString(title) > MaxTitleRunes {
		title = string([]rune(title)[:MaxTitleRunes])
	}
	return title
}

// ValidateCommand validates a slash command typed into a terminal client.
func ValidateCommand(input string) error {
	if input == "" {
		return coachErrors.NewValidationError("command", "command cannot be empty", nil, nil)
	}
	if len(input) > MaxCommandLength {
		return coachErrors.NewValidationError("command", fmt.Sprintf("command too long (max %d characters)", MaxCommandLength), nil, nil)
	}
	if !CommandPattern.MatchString(input) {
		return coachErrors.NewValidationError("command", "commands start with a letter after the leading slash", nil, nil)
	}
	return nil
}

// ValidateTemperature validates the temperature parameter.
func ValidateTemperature(temp float64) error {
	if temp < 0.0 || temp > 2.0 {
		return coachErrors.NewValidationError("temperature", fmt.Sprintf("must be between 0.0 and 2.0, got %.2f", temp), nil, nil)
	}
	return nil
}

// IsPrintable reports whether s is free of control characters other than
// newlines and tabs. Format characters such as the zero-width joiner inside
// emoji sequences are allowed.
func IsPrintable(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}
	return true
}

// StripControl removes control characters other than newlines and tabs, such
// as the ANSI escapes some models emit.
func StripControl(s string) string {
	if IsPrintable(s) {
		return s
	}
	s = ansiEscape.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// ValidatePrintable validates that input contains only printable characters
func ValidatePrintable(input string) error {
	if !IsPrintable(input) {
		return fmt.Errorf("input contains non-printable characters")
	}
	return nil
}
