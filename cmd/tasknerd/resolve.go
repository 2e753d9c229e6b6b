package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"tasknerd/internal/resolver"

	"github.com/spf13/cobra"
)

var (
	resolveUser     string
	resolveChannel  string
	resolveMaxIndex int
	resolveJSON     bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [message]",
	Short: "Resolve a single message and print the decision",
	Long: `Runs one message through the resolver and prints the outcome and prompt.

With the Redis session backend a follow-up invocation for the same user and channel
answers the pending question:

  tasknerd resolve "1,3,5は消しといて" --max-index 10
  tasknerd resolve "はい"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveUser, "user", "cli", "User ID")
	resolveCmd.Flags().StringVar(&resolveChannel, "channel", "cli", "Channel ID")
	resolveCmd.Flags().IntVar(&resolveMaxIndex, "max-index", 0, "Size of the list in view (0 = unknown)")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Print the full decision as JSON")
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.engine.Handle(ctx, resolver.Message{
		Text:      strings.Join(args, " "),
		UserID:    resolveUser,
		ChannelID: resolveChannel,
		MaxIndex:  resolveMaxIndex,
	})
	if err != nil {
		return err
	}
	return printDecision(cmd.OutOrStdout(), d, resolveJSON)
}

func printDecision(w io.Writer, d resolver.Decision, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(d)
	}
	fmt.Fprintf(w, "[%s]", d.Outcome)
	if d.Spec != nil && d.Spec.Intent.Valid() {
		fmt.Fprintf(w, " %s (%.2f, %s)", d.Spec.Intent, d.Spec.Confidence, d.Spec.Source)
	}
	fmt.Fprintln(w)
	if d.Prompt != "" {
		fmt.Fprintln(w, d.Prompt)
	}
	return nil
}
