// Package ui holds the ANSI helpers shared by the line REPL and the
// one-shot commands.
package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/ZaguanLabs/coach/internal/conversation"
)

// Colors provides ANSI color constants for terminal rendering
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Faint  = "\033[2m"
	Normal = "\033[22m"

	DeepBlue  = "\033[38;5;24m"  // user messages
	DeepGreen = "\033[38;5;28m"  // assistant messages
	Gray      = "\033[38;5;245m" // system text
	Cyan      = "\033[38;5;51m"
	Yellow    = "\033[38;5;226m"
	Red       = "\033[38;5;196m"
	Green     = "\033[38;5;82m"
)

const defaultWidth = 80

// FormatShortTimestamp formats the bubble time as HH:MM.
func FormatShortTimestamp(t time.Time) string {
	return t.Local().Format("15:04")
}

// FormatRelative formats t relative to now.
func FormatRelative(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	delta := now.Sub(t)
	switch {
	case delta < time.Minute:
		return "just now"
	case delta < time.Hour:
		return fmt.Sprintf("%d min ago", int(delta.Minutes()))
	case delta < 24*time.Hour:
		return fmt.Sprintf("%d hr ago", int(delta.Hours()))
	case delta < 30*24*time.Hour:
		return fmt.Sprintf("%d d ago", int(delta.Hours()/24))
	default:
		return t.Local().Format("2006-01-02")
	}
}

// CreateSeparatorWithWidth creates a separator line of the given width.
func CreateSeparatorWithWidth(width int, style string) string {
	if width <= 0 {
		width = 50
	}

	switch style {
	case "thick":
		return strings.Repeat("═", width)
	case "dots":
		return strings.Repeat("•", width)
	default:
		return strings.Repeat("─", width)
	}
}

// CreateMessageHeader renders the "role・HH:MM" line above a message.
func CreateMessageHeader(role conversation.Role, ts time.Time) string {
	color := Gray
	switch role {
	case conversation.RoleUser:
		color = DeepBlue
	case conversation.RoleAssistant:
		color = DeepGreen
	}
	meta := string(role)
	if !ts.IsZero() {
		meta += "・" + FormatShortTimestamp(ts)
	}
	return color + Bold + meta + Normal + Reset
}

// CreateStatusMessage creates a styled status message
func CreateStatusMessage(emoji, message, statusType string) string {
	var color string

	switch statusType {
	case "success":
		color = Green
	case "error":
		color = Red
	case "warning":
		color = Yellow
	case "info":
		color = Cyan
	default:
		color = Gray
	}

	return fmt.Sprintf("%s%s %s%s", color, emoji, message, Reset)
}

// GetLoadingFrame returns a frame for the loading animation
func GetLoadingFrame(index int) string {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	return frames[index%len(frames)]
}

// CreateLoadingMessage creates a styled loading message
func CreateLoadingMessage(message string, frameIndex int) string {
	return fmt.Sprintf("%s%s %s%s", Cyan, GetLoadingFrame(frameIndex), message, Reset)
}

// CreateBulletPoint renders one list item.
func CreateBulletPoint(text string) string {
	return fmt.Sprintf("%s %s", Cyan+"•"+Reset, text)
}

// CreateProgressBar creates a visual progress bar
func CreateProgressBar(current, total int, width int) string {
	if width <= 0 {
		return ""
	}
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := current * width / total
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// ConfidenceBar renders a 0..1 confidence as a bar plus percentage.
func ConfidenceBar(confidence float64, width int) string {
	pct := int(confidence*100 + 0.5)
	return fmt.Sprintf("%s %d%%", CreateProgressBar(pct, 100, width), pct)
}

// GetTerminalWidth returns the width of stdout, or 80 when it is not a terminal.
func GetTerminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}
