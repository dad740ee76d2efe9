// Package main implements the coach command: the HTTP server, the terminal
// clients and a handful of one-shot conversation commands.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// configPath points at the YAML configuration file
	configPath string
	// serverURL switches every client command to remote mode
	serverURL string

	// version information
	version = "0.1.0"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errorText(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "A single-conversation coaching chat with live insights",
	Long: `coach keeps one long-running coaching conversation, asks a language model
for every reply and distils the exchange into a summary, a direction and next steps.

Without a subcommand it opens the terminal UI on the default conversation.

Examples:
  # Run the HTTP API
  coach serve

  # Chat against a running server
  coach chat --server http://localhost:8787

  # One stateless question
  coach ask "最近仕事のやる気が出ません"`,
	Version:       displayVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (default ./coach.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "coach server URL; empty runs everything in-process")
	addChatFlags(rootCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(insightsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "coach %s\n", displayVersion())
		fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", date)
	},
}

func displayVersion() string {
	v := strings.TrimPrefix(version, "v")
	if commit != "none" && commit != "" {
		v = fmt.Sprintf("%s (build %s)", v, commit)
	}
	return v
}
