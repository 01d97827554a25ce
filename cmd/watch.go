package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"modkeeper/resolver"
	"modkeeper/ui"
	"modkeeper/watcher"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manages watches for versions that are not published yet",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <project>",
	Short: "Watches a project for a version matching the loader and game version",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		project, err := a.client.GetProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		t, err := watchTarget(cmd, a, project.ID)
		if err != nil {
			return err
		}
		added, err := a.watcher.Registry().AddWatch(a.cfg.MinecraftDir, watcher.Watch{ProjectID: project.ID, ModName: project.Title, Target: t})
		if err != nil {
			return err
		}
		name := displayName(project.Title, project.Color)
		if !added {
			fmt.Fprintf(cmd.OutOrStdout(), "Already watching %s for %s %s\n", name, t.Loader, t.GameVersion)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for %s %s\n", name, t.Loader, t.GameVersion)
		return nil
	}),
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <project>",
	Short: "Stops watching a project",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		projectID := args[0]
		if project, err := a.client.GetProject(cmd.Context(), args[0]); err == nil {
			projectID = project.ID
		}
		t, err := watchTarget(cmd, a, projectID)
		if err != nil {
			return err
		}
		if !a.watcher.Registry().RemoveWatch(a.cfg.MinecraftDir, t) {
			fmt.Fprintf(cmd.OutOrStdout(), "No watch for %s\n", t)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed watch for %s\n", t)
		return nil
	}),
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the watches of this installation",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		reg := a.watcher.Registry()
		watches := reg.Watches(a.cfg.MinecraftDir)
		out := cmd.OutOrStdout()
		if len(watches) == 0 {
			fmt.Fprintln(out, "No watches.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MOD\tLOADER\tGAME VERSION\tADDED\tLAST CHECKED\tLAST ERROR")
		for _, w := range watches {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", w.ModName, w.Target.Loader, w.Target.GameVersion,
				formatTime(w.AddedAt), formatTime(w.LastCheckedAt), w.LastError)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		s := reg.Schedule(a.cfg.MinecraftDir)
		fmt.Fprintln(out, ui.Muted.Render(fmt.Sprintf("Checked every %s, next check %s", reg.Interval(), formatTime(s.NextCheckAt))))
		return nil
	}),
}

var watchHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists fulfilled watches",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		history := a.watcher.Registry().History(a.cfg.MinecraftDir)
		out := cmd.OutOrStdout()
		if len(history) == 0 {
			fmt.Fprintln(out, "No fulfilled watches.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FOUND\tMOD\tVERSION\tLOADER\tGAME VERSION")
		for i := len(history) - 1; i >= 0; i-- {
			h := history[i]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", formatTime(h.FoundAt), h.ModName, h.VersionFound, h.Target.Loader, h.Target.GameVersion)
		}
		return tw.Flush()
	}),
}

var watchIntervalCmd = &cobra.Command{
	Use:   "interval [hours]",
	Short: "Shows or sets the check interval (12 or 24 hours)",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if len(args) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), a.watcher.Registry().Interval())
			return nil
		}
		hours, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", args[0], err)
		}
		if err := a.watcher.SetInterval(hours); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watches are checked every %d hours\n", hours)
		return nil
	}),
}

var watchCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Checks every watch of this installation now",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		res := a.watcher.CheckServer(cmd.Context(), a.cfg.MinecraftDir)
		fmt.Fprintf(cmd.OutOrStdout(), "Checked %d watch(es): %d fulfilled, %d failed. Next check %s\n",
			res.Checked, len(res.Fulfilled), res.Failed, formatTime(res.NextCheck))
		return cmd.Context().Err()
	}),
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.AddCommand(watchAddCmd, watchRemoveCmd, watchListCmd, watchHistoryCmd, watchIntervalCmd, watchCheckCmd)
	for _, c := range []*cobra.Command{watchAddCmd, watchRemoveCmd} {
		c.Flags().String("loader", "", "loader to wait for (default MINECRAFT_LOADER)")
		c.Flags().String("game-version", "", "game version to wait for (default MINECRAFT_VERSION)")
	}
}

// watchTarget is the configured triple with flag overrides applied.
func watchTarget(cmd *cobra.Command, a *app, projectID string) (resolver.Target, error) {
	t := a.target(projectID)
	if v, _ := cmd.Flags().GetString("loader"); v != "" {
		t.Loader = v
	}
	if v, _ := cmd.Flags().GetString("game-version"); v != "" {
		t.GameVersion = v
	}
	return t, t.Validate()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
