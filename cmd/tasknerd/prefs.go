package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"tasknerd/internal/resolver"
	"tasknerd/internal/types"

	"github.com/spf13/cobra"
)

var prefsUser string

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Inspect and teach learned preferences",
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's preferences with their decayed confidence",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		p := a.engine.Personalizer()
		if p == nil {
			return resolver.ErrPersonalizationDisabled
		}
		prefs, err := p.List(cmd.Context(), prefsUser)
		if err != nil {
			return err
		}
		return printPreferences(cmd.OutOrStdout(), prefs)
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set [category] [key] [value]",
	Short: "Teach a preference explicitly",
	Long: `Stores a preference at full confidence. Categories:

  default_mention   key: remind-create          value: @mrc
  default_time      key: remind-create|create   value: 18:00
  default_priority  key: create                 value: high
  shortcut          key: 朝会                    value: 毎朝9時に朝会
  disambiguation    key: message text           value: intent name`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		p := a.engine.Personalizer()
		if p == nil {
			return resolver.ErrPersonalizationDisabled
		}
		pref, err := p.Teach(cmd.Context(), prefsUser, types.PreferenceCategory(args[0]), args[1], args[2])
		if err != nil {
			return err
		}
		return printPreferences(cmd.OutOrStdout(), []types.Preference{pref})
	},
}

func init() {
	prefsCmd.PersistentFlags().StringVar(&prefsUser, "user", "cli", "User ID")
	prefsCmd.AddCommand(prefsListCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}

func printPreferences(w io.Writer, prefs []types.Preference) error {
	if len(prefs) == 0 {
		_, err := fmt.Fprintln(w, "No preferences learned yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tKEY\tVALUE\tCONFIDENCE\tUSES\tLAST USED")
	for _, p := range prefs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%d\t%s\n",
			p.Category, p.Key, p.Value, p.Confidence, p.UseCount, p.LastUsed.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
