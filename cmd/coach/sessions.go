package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZaguanLabs/coach/internal/conversation"
	"github.com/ZaguanLabs/coach/internal/insights"
	"github.com/ZaguanLabs/coach/internal/storage"
	"github.com/ZaguanLabs/coach/internal/ui"
)

var (
	listLimit    int
	showPage     int
	showPageSize int
	resetYes     bool
	insProfile   string
	insApply     bool
)

// sessionsCmd groups the conversation management commands
var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"conversations"},
	Short:   "List and manage stored conversations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a conversation transcript",
	Long: `Print a conversation transcript. Page 1 holds the newest messages.

Examples:
  coach sessions show
  coach sessions show coach_single_conv_v1 --page 2 --page-size 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionsShow,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create an empty conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsNew,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Change a conversation title",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsRename,
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset [id]",
	Short: "Remove every message and the insights of a conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsReset,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

// insightsCmd prints or recomputes insights
var insightsCmd = &cobra.Command{
	Use:   "insights [id]",
	Short: "Show the insights derived from a conversation",
	Long: `Compute the insights for a conversation and print them.
--apply also stores the result on the conversation.

Examples:
  coach insights
  coach insights --profile wide --apply`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInsights,
}

func init() {
	sessionsListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of conversations (0 for all)")
	sessionsShowCmd.Flags().IntVar(&showPage, "page", 1, "page number, newest first")
	sessionsShowCmd.Flags().IntVar(&showPageSize, "page-size", 50, "messages per page")
	sessionsResetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
	insightsCmd.Flags().StringVar(&insProfile, "profile", "", "insights profile: compact or wide")
	insightsCmd.Flags().BoolVar(&insApply, "apply", false, "store the insights on the conversation")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	summaries, err := a.backend.List(ctx, listLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No saved conversations found.")
		return nil
	}

	now := time.Now()
	fmt.Fprintln(out, "Saved Conversations:")
	fmt.Fprintln(out, "====================")
	for _, s := range summaries {
		fmt.Fprintf(out, "%s: %s\n", s.ID, titleOf(s.Title))
		fmt.Fprintf(out, "     %d messages • Last updated %s\n", s.MessageCount, ui.FormatRelative(s.UpdatedAt, now))
		fmt.Fprintln(out)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	id := a.conversationID(args)
	conv, err := a.backend.Conversation(ctx, id)
	if err != nil {
		return err
	}

	total := len(conv.Messages)
	messages := conv.Messages
	paged := false
	if !a.remote() {
		tr, err := a.store.LoadConversationWithPagination(ctx, id, &storage.PaginationOptions{Page: showPage, PageSize: showPageSize})
		if err != nil {
			return err
		}
		total, messages = tr.TotalMessages, tr.Conversation.Messages
		paged = tr.PageSize < tr.TotalMessages
	}

	out := cmd.OutOrStdout()
	separator := strings.Repeat("=", 50)
	fmt.Fprintf(out, "%s: %s\n", conv.ID, titleOf(conv.Title))
	fmt.Fprintf(out, "%d messages • Created %s\n", total, conv.CreatedAt.Local().Format("2006-01-02 15:04"))
	if paged {
		fmt.Fprintf(out, "Page %d of %d\n", showPage, (total+showPageSize-1)/showPageSize)
	}
	fmt.Fprintln(out, separator)

	for _, m := range messages {
		fmt.Fprintf(out, "\n%s・%s\n", m.Role, ui.FormatShortTimestamp(m.CreatedAt))
		fmt.Fprintln(out, strings.Repeat("-", 30))
		fmt.Fprintln(out, m.Content)
	}

	fmt.Fprintln(out, "\n"+separator)
	return nil
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	title := ""
	if len(args) > 0 {
		title = args[0]
	}
	conv, err := a.backend.Create(ctx, title)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s: %s\n", conv.ID, titleOf(conv.Title))
	return nil
}

func runSessionsRename(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.backend.Rename(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s: %s\n", conv.ID, titleOf(conv.Title))
	return nil
}

func runSessionsReset(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	id := a.conversationID(args)
	if !resetYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Reset %s? (y/n) ", id)) {
		fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
		return nil
	}

	if _, err := a.backend.Reset(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", id)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.backend.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runInsights(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	profile := a.profile
	if insProfile != "" {
		if profile, err = insights.ParseProfile(insProfile); err != nil {
			return err
		}
	}

	id := a.conversationID(args)
	var ins *conversation.Insights
	if insApply {
		ins, err = a.backend.ApplyInsights(ctx, id, profile)
	} else {
		ins, err = a.backend.PreviewInsights(ctx, id, profile)
	}
	if err != nil {
		return err
	}
	printInsights(cmd.OutOrStdout(), ins)
	return nil
}

func printInsights(out io.Writer, ins *conversation.Insights) {
	fmt.Fprintln(out, "Summary")
	fmt.Fprintln(out, "  "+ins.Summary)
	fmt.Fprintln(out, "Direction")
	fmt.Fprintln(out, "  "+ins.Direction)
	fmt.Fprintln(out, "Next steps")
	for _, step := range ins.NextSteps {
		fmt.Fprintln(out, "  • "+step)
	}
	fmt.Fprintln(out, "Questions")
	for _, q := range ins.Questions {
		fmt.Fprintln(out, "  • "+q)
	}
	fmt.Fprintln(out, "Confidence")
	fmt.Fprintln(out, "  "+ui.ConfidenceBar(ins.Confidence, 20))
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func titleOf(title string) string {
	if strings.TrimSpace(title) == "" {
		return conversation.DefaultTitle
	}
	return title
}
