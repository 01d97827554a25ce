package cmd

import (
	"fmt"
	"text/tabwriter"

	"modkeeper/ui"

	"github.com/spf13/cobra"
)

var modsCmd = &cobra.Command{
	Use:   "mods",
	Short: "Lists and manages installed mods",
}

var modsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists installed mods, shaders and resource packs",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		mods, err := a.inventory.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(mods) == 0 {
			fmt.Fprintln(out, "Nothing installed.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TITLE\tSLUG\tTYPE\tVERSION\tSTATE\tFILE")
		for _, m := range mods {
			state := ui.Success.Render("enabled")
			if !m.Enabled {
				state = ui.Muted.Render("disabled")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", m.Title, m.ProjectSlug, m.ProjectType, m.VersionNumber, state, m.FileName)
		}
		return tw.Flush()
	}),
}

func toggleCmd(enable bool) *cobra.Command {
	use, verb := "disable", "Disabled"
	if enable {
		use, verb = "enable", "Enabled"
	}
	return &cobra.Command{
		Use:   use + " <project>",
		Short: fmt.Sprintf("%ss an installed mod by renaming its file", verb[:len(verb)-1]),
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			m, err := a.inventory.SetEnabled(args[0], enable)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, displayName(m.Title, m.Color))
			return nil
		}),
	}
}

var modsRemoveCmd = &cobra.Command{
	Use:   "remove <project>",
	Short: "Removes a mod from the inventory and deletes its file",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		keep, _ := cmd.Flags().GetBool("keep-file")
		m, err := a.inventory.Remove(args[0], !keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", displayName(m.Title, m.Color))
		return nil
	}),
}

var modsHistoryCmd = &cobra.Command{
	Use:   "history <project>",
	Short: "Lists the versions a mod was updated from",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		history, err := a.inventory.History(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(history) == 0 {
			fmt.Fprintln(out, "No previous versions recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "REPLACED\tVERSION\tFILE")
		for _, v := range history {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", formatTime(v.CreatedAt), v.VersionNumber, v.FileName)
		}
		return tw.Flush()
	}),
}

var modsRollbackCmd = &cobra.Command{
	Use:   "rollback <project>",
	Short: "Reinstalls the version a mod was last updated from",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		r, err := a.updater.Rollback(cmd.Context(), args[0], a.client)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Successfully rolled back %s\n", r)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(modsCmd)
	modsCmd.AddCommand(modsListCmd, toggleCmd(true), toggleCmd(false), modsRemoveCmd, modsHistoryCmd, modsRollbackCmd)
	modsRemoveCmd.Flags().Bool("keep-file", false, "keep the file on disk")
}
