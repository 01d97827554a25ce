package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"modkeeper/monitor"
	"modkeeper/ui"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarizes recent failures and recommends fixes",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		a.monitor.Prune()
		r := a.monitor.Report()
		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}
		printReport(cmd, r, a.monitor.Alerts())
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Bool("json", false, "print the report as JSON")
}

func printReport(cmd *cobra.Command, r monitor.Report, alerts []monitor.PatternAlert) {
	out := cmd.OutOrStdout()
	st := r.Statistics
	if st.Total == 0 {
		fmt.Fprintln(out, ui.Success.Render("No failures recorded in the last 7 days."))
		return
	}
	fmt.Fprintln(out, ui.Title.Render(fmt.Sprintf("%d failures, %d in the last minute", st.Total, st.ErrorsLastMinute)))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tCOUNT")
	categories := make([]string, 0, len(st.ByCategory))
	for c := range st.ByCategory {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Fprintf(tw, "%s\t%d\n", c, st.ByCategory[monitor.Category(c)])
	}
	_ = tw.Flush()

	if len(st.TopPatterns) > 0 {
		fmt.Fprintln(out)
		tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATTERN\tCOUNT")
		for _, p := range st.TopPatterns {
			fmt.Fprintf(tw, "%s %s/%s\t%d\n", p.Category, p.Source, p.Type, p.Count)
		}
		_ = tw.Flush()
	}

	if len(alerts) > 0 {
		fmt.Fprintln(out)
		for _, al := range alerts {
			fmt.Fprintf(out, "%s %s/%s reached %d occurrences at %s\n", ui.Warning.Render("pattern"), al.Source, al.Type, al.Count, formatTime(al.RaisedAt))
		}
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintln(out)
		for _, rec := range r.Recommendations {
			fmt.Fprintf(out, "[%s] %s\n", ui.Severity(string(rec.Priority)), rec.Message)
		}
	}
}
