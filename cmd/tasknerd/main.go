// Command tasknerd resolves chat messages into task and reminder commands. It runs
// the HTTP service used by chat transports, and offers one-shot, interactive and
// preference-management modes for operators.
package main

import (
	"fmt"
	"os"

	"tasknerd/internal/config"
	"tasknerd/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tasknerd",
	Short: "tasknerd - natural-language command resolver for a task/reminder assistant",
	Long: `tasknerd turns free-form chat messages ("1,3,5は消しといて", "明日18時に会議をリマインド")
into structured task and reminder commands.

A rule classifier handles the common phrasings; an optional reasoning service is
consulted when the rules are unsure. Low-confidence, incomplete or destructive
commands are answered with a question and a pending session that waits for the
user's reply.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}

		// The chat TUI owns the terminal; it only logs when a file is configured.
		if cmd.Name() == "chat" && cfg.Logging.File == "" {
			logger = zap.NewNop()
			logging.SetLogger(logger)
			return nil
		}

		lc := cfg.Logging.ToLogging()
		if verbose {
			lc.Level = "debug"
		}
		if err := logging.Initialize(lc); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.Zap()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tasknerd.yaml", "Configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(prefsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
