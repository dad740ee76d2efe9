// Package tui is the Bubble Tea client: a chat view and an insights view,
// shown one at a time on narrow terminals and side by side on wide ones.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/ZaguanLabs/coach/internal/coach"
	"github.com/ZaguanLabs/coach/internal/conversation"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/insights"
	"github.com/ZaguanLabs/coach/internal/validation"
)

const (
	defaultWideThreshold = 110
	defaultTimeout       = 90 * time.Second
	insightsPaneWidth    = 42

	emptyHint    = "まずは今の迷い・モヤモヤをそのまま書いてください。"
	thinkingText = "考え中…"
	resetPrompt  = "今の対話をリセットしますか？ (y/n)"
)

type viewMode int

const (
	viewChat viewMode = iota
	viewInsights
)

// Options configure the model.
type Options struct {
	ConversationID string
	Profile        insights.Profile
	WideThreshold  int
	Markdown       bool
	Timeout        time.Duration
	Now            func() time.Time
}

// Model is the Bubble Tea model for the coaching client.
type Model struct {
	backend coach.Backend
	opts    Options

	viewport  viewport.Model
	textinput textinput.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer

	conv     *conversation.Conversation
	loaded   bool
	pending  bool
	confirm  bool
	view     viewMode
	errLine  string
	notice   string
	quitting bool

	width  int
	height int
}

// NewModel initializes the TUI model.
func NewModel(backend coach.Backend, opts Options) Model {
	if opts.ConversationID == "" {
		opts.ConversationID = conversation.DefaultID
	}
	if opts.Profile == "" {
		opts.Profile = insights.ProfileCompact
	}
	if opts.WideThreshold <= 0 {
		opts.WideThreshold = defaultWideThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ti := textinput.New()
	ti.Placeholder = "ここに入力…"
	ti.Focus()
	ti.CharLimit = validation.MaxMessageRunes

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styleAILabel

	return Model{
		backend:   backend,
		opts:      opts,
		textinput: ti,
		viewport:  viewport.New(80, 20),
		spinner:   sp,
		conv:      &conversation.Conversation{ID: opts.ConversationID, Title: conversation.DefaultTitle},
	}
}

// Msg types
type (
	conversationLoadedMsg struct{ conv *conversation.Conversation }
	exchangeMsg           struct{ exchange *conversation.Exchange }
	sendFailedMsg         struct{ err error }
	resetDoneMsg          struct{ conv *conversation.Conversation }
	insightsMsg           struct{ insights *conversation.Insights }
	rendererLoadedMsg     struct{ renderer *glamour.TermRenderer }
	errMsg                struct{ err error }
)

// Init loads the conversation and the markdown renderer.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.loadConversation()}
	if m.opts.Markdown {
		cmds = append(cmds, initRenderer(m.chatWidth()))
	}
	return tea.Batch(cmds...)
}

func initRenderer(width int) tea.Cmd {
	return func() tea.Msg {
		r, err := newRenderer(width)
		if err != nil {
			return errMsg{err}
		}
		return rendererLoadedMsg{r}
	}
}

func newRenderer(width int) (*glamour.TermRenderer, error) {
	if width < 20 {
		width = 20
	}
	// A fixed style avoids querying the terminal background.
	return glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(width-8),
	)
}

func (m Model) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.opts.Timeout)
}

func (m Model) loadConversation() tea.Cmd {
	backend, id := m.backend, m.opts.ConversationID
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		conv, err := backend.Conversation(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return conversationLoadedMsg{conv}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	backend, id := m.backend, m.opts.ConversationID
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		ex, err := backend.Send(ctx, id, text)
		if err != nil {
			return sendFailedMsg{err}
		}
		return exchangeMsg{ex}
	}
}

func (m Model) resetCmd() tea.Cmd {
	backend, id := m.backend, m.opts.ConversationID
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		conv, err := backend.Reset(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return resetDoneMsg{conv}
	}
}

func (m Model) applyInsightsCmd() tea.Cmd {
	backend, id, profile := m.backend, m.opts.ConversationID, m.opts.Profile
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		ins, err := backend.ApplyInsights(ctx, id, profile)
		if err != nil {
			return errMsg{err}
		}
		return insightsMsg{ins}
	}
}

// Update handles events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		var cmd tea.Cmd
		if m.renderer != nil {
			cmd = initRenderer(m.chatWidth())
		}
		m.refreshViewport()
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshViewport()
		return m, cmd

	case conversationLoadedMsg:
		m.conv = msg.conv
		m.loaded = true
		m.refreshViewport()
		return m, nil

	case exchangeMsg:
		m.pending = false
		m.replaceOptimistic(msg.exchange.User)
		m.conv.Messages = append(m.conv.Messages, msg.exchange.Assistant)
		if msg.exchange.Insights != nil {
			m.conv.Insights = msg.exchange.Insights
		}
		m.refreshViewport()
		return m, nil

	case sendFailedMsg:
		m.pending = false
		m.errLine = publicMessage(msg.err)
		m.conv.Messages = append(m.conv.Messages,
			conversation.NewMessage(conversation.RoleAssistant, conversation.TransportFailureReply, m.opts.Now()))
		m.refreshViewport()
		return m, nil

	case resetDoneMsg:
		m.conv = msg.conv
		m.view = viewChat
		m.errLine = ""
		m.notice = ""
		m.textinput.Reset()
		m.refreshViewport()
		return m, nil

	case insightsMsg:
		m.conv.Insights = msg.insights
		m.refreshViewport()
		return m, nil

	case rendererLoadedMsg:
		m.renderer = msg.renderer
		m.refreshViewport()
		return m, nil

	case errMsg:
		m.errLine = publicMessage(msg.err)
		m.refreshViewport()
		return m, nil
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)
	if !m.pending {
		m.textinput, tiCmd = m.textinput.Update(msg)
	}
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.quitting = true
		return m, tea.Quit
	}

	if m.confirm {
		m.confirm = false
		if s := strings.ToLower(msg.String()); s == "y" {
			m.notice = ""
			return m, m.resetCmd()
		}
		m.notice = "リセットを取り消しました。"
		m.refreshViewport()
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlT:
		return m.toggleView()
	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case tea.KeyEnter:
		// Input stays in the box until the conversation has loaded.
		if m.pending || !m.loaded {
			return m, nil
		}
		input := strings.TrimSpace(m.textinput.Value())
		if input == "" {
			return m, nil
		}
		m.textinput.Reset()
		if strings.HasPrefix(input, "/") {
			return m.handleCommand(input)
		}
		return m.sendMessage(input)
	}

	if m.pending {
		return m, nil
	}
	var cmd tea.Cmd
	m.textinput, cmd = m.textinput.Update(msg)
	return m, cmd
}

func (m Model) sendMessage(text string) (tea.Model, tea.Cmd) {
	text = validation.NormalizeMessage(text)
	if err := validation.ValidateMessage(text); err != nil {
		m.errLine = publicMessage(err)
		m.refreshViewport()
		return m, nil
	}

	m.errLine = ""
	m.notice = ""
	m.view = viewChat
	m.pending = true
	m.conv.Messages = append(m.conv.Messages, conversation.NewMessage(conversation.RoleUser, text, m.opts.Now()))
	m.refreshViewport()

	return m, tea.Batch(m.sendCmd(text), m.spinner.Tick)
}

// replaceOptimistic swaps the locally shown user message for the stored one.
func (m *Model) replaceOptimistic(stored conversation.Message) {
	msgs := m.conv.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.RoleUser && msgs[i].Content == stored.Content {
			msgs[i] = stored
			return
		}
	}
	m.conv.Messages = append(msgs, stored)
}

func (m Model) toggleView() (tea.Model, tea.Cmd) {
	if m.view == viewChat {
		return m.showInsights()
	}
	m.view = viewChat
	m.refreshViewport()
	return m, nil
}

func (m Model) showInsights() (tea.Model, tea.Cmd) {
	if !m.wide() {
		m.view = viewInsights
	}
	m.refreshViewport()
	return m, m.applyInsightsCmd()
}

func (m Model) handleCommand(input string) (tea.Model, tea.Cmd) {
	if err := validation.ValidateCommand(input); err != nil {
		m.errLine = "Invalid command: " + input
		m.refreshViewport()
		return m, nil
	}

	parts := strings.Fields(input)
	m.errLine = ""
	m.notice = ""

	switch parts[0] {
	case "/exit", "/quit":
		m.quitting = true
		return m, tea.Quit

	case "/chat":
		m.view = viewChat
		m.refreshViewport()
		return m, nil

	case "/insights":
		return m.showInsights()

	case "/refresh":
		return m, tea.Batch(m.loadConversation(), m.applyInsightsCmd())

	case "/reset":
		if m.pending {
			m.errLine = coachErrors.PublicMessageBusy
			m.refreshViewport()
			return m, nil
		}
		m.confirm = true
		m.notice = resetPrompt
		m.refreshViewport()
		return m, nil

	case "/help":
		m.notice = helpText
		m.refreshViewport()
		return m, nil

	default:
		m.errLine = "Unknown command: " + parts[0] + " (/help)"
		m.refreshViewport()
		return m, nil
	}
}

const helpText = `Commands:
/chat       チャットに戻る
/insights   Insights を更新して表示
/refresh    対話と Insights を再読み込み
/reset      対話をリセット (y/n で確認)
/help       このヘルプ
/exit       終了
ctrl+t      ビュー切り替え   esc / ctrl+c  終了`

func publicMessage(err error) string {
	if err == nil {
		return ""
	}
	var vErr *coachErrors.ValidationError
	if coachErrors.As(err, &vErr) || coachErrors.Is(err, coachErrors.ErrConversationBusy) {
		return coachErrors.Public(err).PublicMessage()
	}
	return coachErrors.PublicMessageTransport
}

func (m Model) wide() bool {
	return m.width >= m.opts.WideThreshold
}

func (m Model) chatWidth() int {
	w := m.width
	if w <= 0 {
		w = 80
	}
	if m.wide() {
		w -= insightsPaneWidth + 1
	}
	return w
}

func (m *Model) resize() {
	headerHeight := 2
	footerHeight := 5
	m.viewport.Width = m.chatWidth()
	m.viewport.Height = m.height - headerHeight - footerHeight
	if m.viewport.Height < 3 {
		m.viewport.Height = 3
	}
	m.textinput.Width = m.chatWidth() - 6
}

func (m *Model) refreshViewport() {
	if m.view == viewInsights && !m.wide() {
		m.viewport.SetContent(m.renderInsights(m.chatWidth()))
		m.viewport.GotoTop()
		return
	}
	m.viewport.SetContent(m.renderChat())
	m.viewport.GotoBottom()
}
