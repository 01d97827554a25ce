package cmd

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"modkeeper/db"
	"modkeeper/integrity"
	"modkeeper/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [file...]",
	Short: "Verifies installed files against their recorded checksums",
	Long: `Hashes every installed file, or the named files, and compares the result
with the checksum recorded when the file was downloaded or imported.
Mismatches raise corruption alerts; files without a record are reported
as unverifiable.`,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		out := cmd.OutOrStdout()
		paths := args
		byPath := make(map[string]db.Mod)
		if len(paths) == 0 {
			mods, err := a.inventory.List()
			if err != nil {
				return err
			}
			for _, m := range mods {
				p := a.inventory.Path(m)
				paths = append(paths, p)
				byPath[p] = m
			}
		}
		if len(paths) == 0 {
			fmt.Fprintln(out, "Nothing installed.")
			return nil
		}

		res, err := a.verifier.BatchVerify(cmd.Context(), paths, func(p integrity.Progress) {
			label := ui.Outcome(p.Result.Outcome.String())
			if p.Result.Err != nil {
				label = ui.Failure.Render("error")
			}
			fmt.Fprintf(out, "[%d/%d] %s %s\n", p.Done, p.Total, label, filepath.Base(paths[p.Done-1]))
		})
		for i, f := range res.Files {
			m, ok := byPath[paths[i]]
			if !ok || f.Err != nil || f.Outcome != integrity.Valid {
				continue
			}
			now := time.Now()
			m.LastVerifiedHash, m.LastVerifiedAlgo, m.LastVerifiedAt = f.Actual, string(f.Algorithm), &now
			if err := a.inventory.Save(&m); err != nil {
				a.log.Warnw("Failed to record verification", zap.String("project_id", m.ProjectID), zap.Error(err))
			}
		}
		fmt.Fprintln(out, ui.Title.Render(fmt.Sprintf("%d valid, %d mismatched, %d unverifiable, %d errors",
			res.Valid, res.Invalid, res.Unverifiable, res.Errors)))
		if err != nil {
			return err
		}
		if res.Invalid > 0 {
			return fmt.Errorf("%d file(s) failed verification; see 'modkeeper verify alerts'", res.Invalid)
		}
		return nil
	}),
}

var verifyAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Lists active corruption alerts",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		alerts := a.verifier.Alerts()
		out := cmd.OutOrStdout()
		if len(alerts) == 0 {
			fmt.Fprintln(out, "No corruption alerts.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FILE\tCOUNT\tFIRST SEEN\tLAST SEEN\tEXPECTED\tACTUAL")
		for _, al := range alerts {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s:%s\t%s\n", al.FilePath, al.AlertCount,
				formatTime(al.FirstSeenAt), formatTime(al.LastSeenAt), al.Algorithm, short(al.Expected), short(al.Actual))
		}
		return tw.Flush()
	}),
}

var verifyClearCmd = &cobra.Command{
	Use:   "clear [file]",
	Short: "Clears the corruption alert of a file, or all alerts with --all",
	Args: func(cmd *cobra.Command, args []string) error {
		if all, _ := cmd.Flags().GetBool("all"); all {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		out := cmd.OutOrStdout()
		if all, _ := cmd.Flags().GetBool("all"); all {
			fmt.Fprintf(out, "Cleared %d alert(s)\n", a.verifier.ClearAllAlerts())
			return nil
		}
		if !a.verifier.ClearAlert(args[0]) {
			fmt.Fprintf(out, "No alert for %s\n", args[0])
			return nil
		}
		fmt.Fprintf(out, "Cleared alert for %s\n", args[0])
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.AddCommand(verifyAlertsCmd, verifyClearCmd)
	verifyClearCmd.Flags().Bool("all", false, "clear every alert")
}

func short(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}
