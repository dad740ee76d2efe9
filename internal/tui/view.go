package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ZaguanLabs/coach/internal/conversation"
	"github.com/ZaguanLabs/coach/internal/insights"
	"github.com/ZaguanLabs/coach/internal/ui"
)

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	title := "Coaching"
	if m.conv != nil && m.conv.Title != "" {
		title += " • " + m.conv.Title
	}
	header := styleHeader.Render(title)

	body := m.viewport.View()
	if m.wide() {
		pane := stylePanel.
			Width(insightsPaneWidth - 2).
			Height(m.viewport.Height - 2).
			Render(m.renderInsights(insightsPaneWidth - 4))
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, " ", pane)
	}

	var footer strings.Builder
	if m.view == viewChat || m.wide() {
		footer.WriteString(styleInput.Render(m.textinput.View()))
		footer.WriteString("\n")
	}
	if m.errLine != "" {
		footer.WriteString(styleError.Render(m.errLine))
		footer.WriteString("\n")
	}
	footer.WriteString(styleFooter.Render(m.footerHint()))

	return header + "\n" + body + "\n" + footer.String()
}

func (m Model) footerHint() string {
	switch {
	case m.confirm:
		return resetPrompt
	case m.pending:
		return "送信中… 返答を待っています"
	case m.view == viewInsights && !m.wide():
		return "/chat でチャットに戻る • /refresh で更新 • ctrl+t 切り替え"
	default:
		return "enter 送信 • /help コマンド • ctrl+t 切り替え • esc 終了"
	}
}

func (m Model) renderChat() string {
	var b strings.Builder
	width := m.chatWidth()

	if !m.loaded && len(m.conv.Messages) == 0 {
		b.WriteString(styleSystem.Render("Loading..."))
		b.WriteString("\n")
	} else if len(m.conv.Messages) == 0 {
		b.WriteString(styleSystem.Render(emptyHint))
		b.WriteString("\n")
	}

	for _, msg := range m.conv.Messages {
		b.WriteString(m.renderBubble(msg, width))
		b.WriteString("\n")
	}

	if m.pending {
		meta := styleAILabel.Render("assistant・送信中…")
		b.WriteString(m.bubble(conversation.RoleAssistant, meta, m.spinner.View()+" "+thinkingText, width))
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString(styleSystem.Render(m.notice))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderBubble(msg conversation.Message, width int) string {
	label := styleAILabel
	if msg.Role == conversation.RoleUser {
		label = styleUserLabel
	}
	meta := label.Render(string(msg.Role)) + styleSystem.Render("・"+ui.FormatShortTimestamp(msg.CreatedAt))

	content := msg.Content
	if m.opts.Markdown && m.renderer != nil && msg.Role == conversation.RoleAssistant {
		if rendered, err := m.renderer.Render(content); err == nil {
			content = strings.TrimSpace(rendered)
		}
	}
	return m.bubble(msg.Role, meta, content, width)
}

// bubble draws a bordered message box, user messages flush right.
func (m Model) bubble(role conversation.Role, meta, content string, width int) string {
	maxWidth := width * 4 / 5
	if maxWidth < 20 {
		maxWidth = 20
	}

	style := styleAssistantBubble
	if role == conversation.RoleUser {
		style = styleUserBubble
	}

	inner := meta + "\n" + content
	if lipgloss.Width(inner)+4 > maxWidth {
		style = style.Width(maxWidth - 2)
	}
	box := style.Render(inner)

	if role == conversation.RoleUser {
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, box)
	}
	return box
}

func (m Model) renderInsights(width int) string {
	var ins conversation.Insights
	if m.conv != nil && m.conv.Insights != nil {
		ins = *m.conv.Insights
	}

	field := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return insights.Placeholder
		}
		return s
	}
	list := func(items []string) string {
		if len(items) == 0 {
			items = []string{insights.Placeholder}
		}
		lines := make([]string, len(items))
		for i, it := range items {
			lines[i] = "• " + it
		}
		return strings.Join(lines, "\n")
	}

	wrap := lipgloss.NewStyle().Width(width)
	var b strings.Builder
	b.WriteString(styleHeader.UnsetBorderBottom().Render("🧩 Insights"))
	b.WriteString("\n\n")

	sections := []struct {
		label string
		value string
	}{
		{"Summary", field(ins.Summary)},
		{"Direction", field(ins.Direction)},
		{"Next steps", list(ins.NextSteps)},
		{"Questions", list(ins.Questions)},
	}
	for _, s := range sections {
		b.WriteString(styleLabel.Render(s.label))
		b.WriteString("\n")
		b.WriteString(wrap.Render(s.value))
		b.WriteString("\n\n")
	}

	if m.conv != nil && m.conv.Insights != nil {
		b.WriteString(styleLabel.Render("Confidence"))
		b.WriteString("\n")
		b.WriteString(ui.ConfidenceBar(ins.Confidence, 16))
		b.WriteString("\n\n")
		b.WriteString(styleSystem.Render("updated: " + ins.UpdatedAt.Local().Format("2006-01-02 15:04")))
	} else {
		b.WriteString(styleSystem.Render("まだInsightsはありません"))
	}
	return b.String()
}
