package cmd

import (
	"fmt"
	"io"

	"modkeeper/coordinator"
	"modkeeper/ui"
	"modkeeper/updater"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update [project...]",
	Short: "Checks for and downloads updates for installed mods",
	Long: `Checks Modrinth for a newer compatible version of every installed mod,
shader and resource pack, and downloads it into place after verifying
its checksum. Naming projects limits the pass to them. Mods with no
compatible version are watched when WATCH_INCOMPATIBLE is set.`,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		a.log.Info("Running update command...")
		if err := a.cfg.RequireGameVersion(); err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		tui, _ := cmd.Flags().GetBool("tui")
		skipImport, _ := cmd.Flags().GetBool("no-import")

		if !skipImport {
			if _, err := importInstalled(cmd.Context(), a); err != nil {
				a.log.Warnw("Failed to import installed mods", zap.Error(err))
			}
		}

		req := coordinator.Request{ServerPath: a.cfg.MinecraftDir, Targets: args, ForceRefresh: force, Source: "cli"}
		if tui {
			return runUpdateTUI(cmd.Context(), a, req)
		}
		out := cmd.OutOrStdout()
		sum, err := a.refresh(cmd.Context(), req, func(p updater.Progress) {
			fmt.Fprintf(out, "[%d/%d] %s %s\n", p.Done, p.Total, statusLabel(p.Result.Status), p.Result)
		})
		if err != nil {
			return err
		}
		printSummary(out, sum)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().BoolP("force", "f", false, "Force redownload of all mods regardless of version")
	updateCmd.Flags().Bool("tui", false, "Show an interactive progress view")
	updateCmd.Flags().Bool("no-import", false, "Skip scanning for files missing from the inventory")
}

func statusLabel(s updater.Status) string {
	label := string(s)
	switch s {
	case updater.StatusUpdated, updater.StatusInstalled, updater.StatusReinstalled, updater.StatusRolledBack:
		return ui.Success.Render(label)
	case updater.StatusWatching, updater.StatusNotFound:
		return ui.Warning.Render(label)
	case updater.StatusFailed:
		return ui.Failure.Render(label)
	default:
		return ui.Muted.Render(label)
	}
}

func summaryLine(sum updater.Summary) string {
	return fmt.Sprintf("Checked %d: %d updated, %d reinstalled, %d up to date, %d watching, %d not found, %d failed",
		len(sum.Results),
		sum.Count(updater.StatusUpdated)+sum.Count(updater.StatusInstalled),
		sum.Count(updater.StatusReinstalled),
		sum.Count(updater.StatusUpToDate),
		sum.Count(updater.StatusWatching),
		sum.Count(updater.StatusNotFound),
		sum.Count(updater.StatusFailed),
	)
}

func printSummary(w io.Writer, sum updater.Summary) {
	fmt.Fprintln(w, ui.Title.Render(summaryLine(sum)))
}
