// Package repl is the line-oriented chat client for plain terminals and pipes.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/ZaguanLabs/coach/internal/coach"
	"github.com/ZaguanLabs/coach/internal/conversation"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/insights"
	"github.com/ZaguanLabs/coach/internal/ui"
	"github.com/ZaguanLabs/coach/internal/validation"
)

const (
	emptyHint    = "まずは今の迷い・モヤモヤをそのまま書いてください。"
	thinkingText = "考え中…"
	recentCount  = 6
)

// streamer is implemented by backends that can deliver a reply incrementally.
type streamer interface {
	SendStream(ctx context.Context, id, text string, onChunk func(string) error) (*conversation.Exchange, error)
}

// Options configure a Session.
type Options struct {
	ConversationID string
	Profile        insights.Profile
	Markdown       bool
	Stream         bool
	Timeout        time.Duration
	HistoryFile    string
	Version        string
}

// Session manages one line-mode chat.
type Session struct {
	backend coach.Backend
	opts    Options

	input     io.Reader
	output    io.Writer
	reader    lineReader
	useColors bool

	mdRenderer     *glamour.TermRenderer
	renderMarkdown bool

	conv *conversation.Conversation
}

// NewSession creates a new chat session.
func NewSession(backend coach.Backend, opts Options) (*Session, error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	if opts.ConversationID == "" {
		opts.ConversationID = conversation.DefaultID
	}
	if opts.Profile == "" {
		opts.Profile = insights.ProfileCompact
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}

	var renderer *glamour.TermRenderer
	if opts.Markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithStylePath("dark"),
			glamour.WithWordWrap(ui.GetTerminalWidth()-4),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
		}
		renderer = r
	}

	return &Session{
		backend:        backend,
		opts:           opts,
		input:          os.Stdin,
		output:         os.Stdout,
		useColors:      isTerminal(),
		mdRenderer:     renderer,
		renderMarkdown: renderer != nil,
	}, nil
}

// SetIO overrides input/output streams (useful for testing).
func (s *Session) SetIO(in io.Reader, out io.Writer) {
	if in != nil {
		s.input = in
		s.reader = newScannerReader(in, s.output)
	}
	if out != nil {
		s.output = out
		if sr, ok := s.reader.(*scannerReader); ok {
			sr.output = out
		}
	}
}

// DisableColors turns off ANSI color output.
func (s *Session) DisableColors() {
	s.useColors = false
}

// Run starts the interactive chat loop. It returns nil on /exit, EOF or ctrl+c.
func (s *Session) Run(ctx context.Context) error {
	if s.reader == nil {
		if s.input == os.Stdin && isTerminal() {
			s.reader = newLinerReader(s.opts.HistoryFile)
		} else {
			s.reader = newScannerReader(s.input, s.output)
		}
	}
	defer s.reader.Close()

	s.printWelcome()
	if err := s.load(ctx); err != nil {
		s.printError(err)
	} else {
		s.printRecent()
	}

	for {
		line, err := s.reader.ReadLine(s.colorize(ui.Cyan, "> "))
		if err != nil {
			fmt.Fprintln(s.output)
			if errors.Is(err, io.EOF) || errors.Is(err, errAborted) {
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if exit := s.handleCommand(ctx, input); exit {
				return nil
			}
			continue
		}

		s.sendMessage(ctx, input)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Session) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.Timeout)
}

func (s *Session) load(ctx context.Context) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	conv, err := s.backend.Conversation(ctx, s.opts.ConversationID)
	if err != nil {
		return err
	}
	s.conv = conv
	return nil
}

func (s *Session) messages() []conversation.Message {
	if s.conv == nil {
		return nil
	}
	return s.conv.Messages
}

func (s *Session) sendMessage(ctx context.Context, input string) {
	text := validation.NormalizeMessage(input)
	if err := validation.ValidateMessage(text); err != nil {
		s.printError(err)
		return
	}

	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	var (
		ex       *conversation.Exchange
		err      error
		streamed bool
	)
	if st, ok := s.backend.(streamer); ok && s.opts.Stream && !s.renderMarkdown {
		streamed = true
		fmt.Fprintln(s.output, ui.CreateMessageHeader(conversation.RoleAssistant, time.Now()))
		ex, err = st.SendStream(ctx, s.opts.ConversationID, text, func(chunk string) error {
			_, werr := io.WriteString(s.output, s.colorize(ui.DeepGreen, chunk))
			return werr
		})
		fmt.Fprintln(s.output)
	} else {
		s.println(ui.CreateLoadingMessage(thinkingText, 0))
		ex, err = s.backend.Send(ctx, s.opts.ConversationID, text)
	}

	if err != nil {
		s.printError(err)
		if !isUserError(err) {
			s.printMessage(conversation.NewMessage(conversation.RoleAssistant, conversation.TransportFailureReply, time.Now()))
		}
		return
	}

	if s.conv != nil {
		s.conv.Messages = append(s.conv.Messages, ex.User, ex.Assistant)
		if ex.Insights != nil {
			s.conv.Insights = ex.Insights
		}
	}
	if !streamed {
		s.printMessage(ex.Assistant)
	}
}

func (s *Session) handleCommand(ctx context.Context, input string) (exit bool) {
	if err := validation.ValidateCommand(input); err != nil {
		s.printError(err)
		return false
	}

	switch strings.Fields(input)[0] {
	case "/exit", "/quit":
		s.println(s.colorize(ui.Yellow, "Goodbye!"))
		return true

	case "/chat":
		s.printRecent()

	case "/history":
		s.printHistory()

	case "/insights":
		s.applyInsights(ctx)

	case "/refresh":
		if err := s.load(ctx); err != nil {
			s.printError(err)
			return false
		}
		s.println(s.colorize(ui.Yellow, fmt.Sprintf("Reloaded: %d messages.", len(s.messages()))))
		s.applyInsights(ctx)

	case "/reset":
		s.reset(ctx)

	case "/markdown":
		if s.mdRenderer == nil {
			r, err := glamour.NewTermRenderer(glamour.WithStylePath("dark"), glamour.WithWordWrap(ui.GetTerminalWidth()-4))
			if err != nil {
				s.printError(err)
				return false
			}
			s.mdRenderer = r
			s.renderMarkdown = false
		}
		s.renderMarkdown = !s.renderMarkdown
		status := "enabled"
		if !s.renderMarkdown {
			status = "disabled"
		}
		s.println(s.colorize(ui.Yellow, fmt.Sprintf("Markdown rendering %s.", status)))

	case "/help":
		s.printHelp()

	default:
		s.printError(coachErrors.NewCommandError(strings.Fields(input)[0], "unknown command, try /help", nil))
	}
	return false
}

func (s *Session) reset(ctx context.Context) {
	answer, err := s.reader.ReadLine(s.colorize(ui.Yellow, "今の対話をリセットしますか？ (y/n) "))
	if err != nil || !strings.EqualFold(strings.TrimSpace(answer), "y") {
		s.println(s.colorize(ui.Yellow, "リセットを取り消しました。"))
		return
	}

	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	conv, err := s.backend.Reset(ctx, s.opts.ConversationID)
	if err != nil {
		s.printError(err)
		return
	}
	s.conv = conv
	s.println(ui.CreateStatusMessage("🔄", "History cleared.", "success"))
	s.println(s.colorize(ui.Gray, emptyHint))
}

func (s *Session) applyInsights(ctx context.Context) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	ins, err := s.backend.ApplyInsights(ctx, s.opts.ConversationID, s.opts.Profile)
	if err != nil {
		s.printError(err)
		return
	}
	if s.conv != nil {
		s.conv.Insights = ins
	}
	s.printInsights(ins)
}

func (s *Session) printWelcome() {
	title := "=== Coaching ==="
	if s.opts.Version != "" {
		title = fmt.Sprintf("=== Coaching v%s ===", s.opts.Version)
	}
	s.println(s.colorize(ui.Cyan, title))
	s.println(s.colorize(ui.Yellow, "Type /help for commands, /exit to quit"))
	s.println("")
}

func (s *Session) printRecent() {
	msgs := s.messages()
	if len(msgs) == 0 {
		s.println(s.colorize(ui.Gray, emptyHint))
		return
	}
	if len(msgs) > recentCount {
		s.println(s.colorize(ui.Gray, fmt.Sprintf("… %d earlier messages (/history)", len(msgs)-recentCount)))
		msgs = msgs[len(msgs)-recentCount:]
	}
	for _, m := range msgs {
		s.printMessage(m)
	}
}

func (s *Session) printHelp() {
	help := `Available commands:
  /chat     - Show the latest messages
  /history  - Show the whole conversation
  /insights - Update and show insights
  /refresh  - Reload the conversation and insights
  /reset    - Clear the conversation (asks y/n)
  /markdown - Toggle markdown rendering
  /help     - Show this help message
  /exit     - Exit the chat`
	s.println(s.colorize(ui.Yellow, help))
}

func (s *Session) printHistory() {
	msgs := s.messages()
	if len(msgs) == 0 {
		s.println(s.colorize(ui.Yellow, "No history yet."))
		return
	}

	s.println(s.colorize(ui.Yellow, "=== History ==="))
	for i, m := range msgs {
		s.println(fmt.Sprintf("[%d] %s", i+1, ui.CreateMessageHeader(m.Role, m.CreatedAt)))
		s.println(m.Content)
	}
}

func (s *Session) printMessage(m conversation.Message) {
	s.println(ui.CreateMessageHeader(m.Role, m.CreatedAt))
	if m.Role == conversation.RoleAssistant && s.renderMarkdown && s.mdRenderer != nil {
		if rendered, err := s.mdRenderer.Render(m.Content); err == nil {
			fmt.Fprint(s.output, rendered)
			return
		}
	}
	color := ui.DeepGreen
	if m.Role == conversation.RoleUser {
		color = ui.DeepBlue
	}
	s.println(s.colorize(color, m.Content))
}

func (s *Session) printInsights(ins *conversation.Insights) {
	width := ui.GetTerminalWidth()
	if width > 60 {
		width = 60
	}
	s.println(s.colorize(ui.Cyan, "🧩 Insights"))
	s.println(ui.CreateSeparatorWithWidth(width, "thin"))
	s.println(s.colorize(ui.Gray, "Summary") + "\n  " + ins.Summary)
	s.println(s.colorize(ui.Gray, "Direction") + "\n  " + ins.Direction)
	s.println(s.colorize(ui.Gray, "Next steps"))
	for _, step := range ins.NextSteps {
		s.println("  " + ui.CreateBulletPoint(step))
	}
	s.println(s.colorize(ui.Gray, "Questions"))
	for _, q := range ins.Questions {
		s.println("  " + ui.CreateBulletPoint(q))
	}
	s.println(s.colorize(ui.Gray, "Confidence") + "\n  " + ui.ConfidenceBar(ins.Confidence, 20))
	s.println(s.colorize(ui.Gray, "updated: "+ins.UpdatedAt.Local().Format("2006-01-02 15:04")))
}

func (s *Session) printError(err error) {
	s.println(s.colorize(ui.Red, "Error: "+userMessage(err)))
}

func (s *Session) println(text string) {
	fmt.Fprintln(s.output, text)
}

func (s *Session) colorize(color, text string) string {
	if !s.useColors {
		return text
	}
	return color + text + ui.Reset
}

func isUserError(err error) bool {
	var vErr *coachErrors.ValidationError
	return coachErrors.As(err, &vErr) || coachErrors.Is(err, coachErrors.ErrConversationBusy)
}

// userMessage picks the text shown for err: validation and busy errors
// explain themselves, everything from the provider or transport collapses
// to the fixed failure line.
func userMessage(err error) string {
	var (
		providerErr *coachErrors.ProviderError
		networkErr  *coachErrors.NetworkError
		timeoutErr  *coachErrors.TimeoutError
	)
	switch {
	case isUserError(err):
		return coachErrors.Public(err).PublicMessage()
	case coachErrors.As(err, &providerErr), coachErrors.As(err, &networkErr), coachErrors.As(err, &timeoutErr),
		errors.Is(err, context.DeadlineExceeded):
		return coachErrors.PublicMessageTransport
	default:
		return err.Error()
	}
}
