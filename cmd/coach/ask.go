package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZaguanLabs/coach/internal/client"
)

// askCmd sends one stateless message
var askCmd = &cobra.Command{
	Use:   "ask [message...]",
	Short: "Ask one question without touching the stored conversation",
	Long: `Send a single message and print the coach's reply. Nothing is stored.
Without arguments the message is read from stdin.

Examples:
  coach ask "上司との関係に悩んでいます"
  cat note.txt | coach ask`,
	RunE: runAsk,
}

// healthCmd checks a server
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check coach server health",
	Long: `Check the health of the coach server named by --server or server.url.

Examples:
  coach health --server http://localhost:8787`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runAsk(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		message = string(data)
	}

	ctx := commandContext(cmd)
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.backend.Reply(ctx, message, nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.URL == "" {
		return errors.New("no server configured; pass --server or set server.url")
	}

	c, err := client.New(cfg.Server.URL, nil)
	if err != nil {
		return err
	}
	status, provider, err := c.Health(commandContext(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\nProvider: %s\n", status, provider)
	return nil
}
