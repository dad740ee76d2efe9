package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ZaguanLabs/coach/internal/insights"
	"github.com/ZaguanLabs/coach/internal/repl"
	"github.com/ZaguanLabs/coach/internal/storage"
	"github.com/ZaguanLabs/coach/internal/tui"
)

var (
	chatPlain        bool
	chatConversation string
	chatProfile      string
)

// chatCmd opens an interactive chat
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal UI, or line by line with --plain",
	Long: `Open the coaching conversation interactively.

The full-screen UI shows the insights pane beside the chat on wide terminals.
--plain, or a stdin that is not a terminal, selects the line-oriented client.

Examples:
  # Full-screen UI on the default conversation
  coach chat

  # Line mode against a server
  coach chat --plain --server http://localhost:8787

  # Pipe a message in
  echo "転職するか迷っています" | coach chat`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	addChatFlags(chatCmd)
}

func addChatFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&chatPlain, "plain", false, "use the line-oriented client instead of the full-screen UI")
	cmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "conversation id (default from configuration)")
	cmd.Flags().StringVar(&chatProfile, "profile", "", "insights profile: compact or wide")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	id := a.cfg.Coach.ConversationID
	if chatConversation != "" {
		id = chatConversation
	}
	profile := a.profile
	if chatProfile != "" {
		if profile, err = insights.ParseProfile(chatProfile); err != nil {
			return err
		}
	}

	in, out := cmd.InOrStdin(), cmd.OutOrStdout()
	interactive := in == os.Stdin && out == os.Stdout &&
		term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))

	if chatPlain || !interactive {
		session, err := repl.NewSession(a.backend, repl.Options{
			ConversationID: id,
			Profile:        profile,
			Markdown:       a.cfg.UI.Markdown && interactive,
			Stream:         a.cfg.Model.Stream,
			Timeout:        a.cfg.Model.Timeout,
			HistoryFile:    filepath.Join(filepath.Dir(storage.DefaultPath()), "history"),
			Version:        displayVersion(),
		})
		if err != nil {
			return err
		}
		if !interactive {
			session.SetIO(in, out)
			session.DisableColors()
		}
		return session.Run(ctx)
	}

	model := tui.NewModel(a.backend, tui.Options{
		ConversationID: id,
		Profile:        profile,
		WideThreshold:  a.cfg.UI.WideThreshold,
		Markdown:       a.cfg.UI.Markdown,
		Timeout:        a.cfg.Model.Timeout,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	return nil
}
