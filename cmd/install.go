package cmd

import (
	"fmt"

	"modkeeper/errs"
	"modkeeper/ui"
	"modkeeper/updater"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install [project]",
	Short: "Installs a project, or every followed project with --followed",
	Long: `Installs the best compatible version of a Modrinth project by slug or id.
When no version is available for the configured loader and game version,
--watch registers a watch that reports once one is published.

With --followed, every project followed by the MODRINTH_API_KEY owner that
fits MINECRAFT_INSTALLATION_TYPE and is not installed yet is installed.`,
	Args: func(cmd *cobra.Command, args []string) error {
		followed, _ := cmd.Flags().GetBool("followed")
		if followed {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if err := a.cfg.RequireGameVersion(); err != nil {
			return err
		}
		watch, _ := cmd.Flags().GetBool("watch")
		if followed, _ := cmd.Flags().GetBool("followed"); followed {
			return installFollowed(cmd, a)
		}
		return installOne(cmd, a, args[0], watch)
	}),
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().BoolP("watch", "w", false, "Watch for a compatible version when none exists yet")
	installCmd.Flags().Bool("followed", false, "Install all followed projects")
}

func installOne(cmd *cobra.Command, a *app, idOrSlug string, watch bool) error {
	out := cmd.OutOrStdout()
	project, err := a.client.GetProject(cmd.Context(), idOrSlug)
	if err != nil {
		return err
	}
	name := displayName(project.Title, project.Color)

	r, err := a.updater.Install(cmd.Context(), *project, watch)
	switch {
	case err == nil:
		fmt.Fprintf(out, "%s %s %s\n", statusLabel(r.Status), name, r.ToVersion)
		return nil
	case errs.IsNotFound(err):
		t := a.target(project.ID)
		fmt.Fprintf(out, "%s has no version for %s %s (incompatible version)\n", name, t.Loader, t.GameVersion)
		if r.Status == updater.StatusWatching {
			fmt.Fprintln(out, ui.Muted.Render("Watching for a compatible version; run 'modkeeper watch list' to see all watches."))
		} else {
			fmt.Fprintln(out, ui.Muted.Render("Re-run with --watch to be told when one is published."))
		}
		return nil
	case errs.IsValidation(err):
		return err
	default:
		return fmt.Errorf("failed to install %s: %w", project.Title, err)
	}
}

func installFollowed(cmd *cobra.Command, a *app) error {
	out := cmd.OutOrStdout()
	projects, err := a.client.GetFollowedProjects(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get followed projects: %w", err)
	}
	if len(projects) == 0 {
		fmt.Fprintln(out, "No followed projects found.")
		return nil
	}
	a.log.Infof("Found %d followed projects. Installing for Minecraft %s (%s)...",
		len(projects), a.cfg.MinecraftVersion, a.cfg.MinecraftLoader)

	sum := a.updater.InstallFollowed(cmd.Context(), projects, func(p updater.Progress) {
		fmt.Fprintf(out, "[%d/%d] %s %s\n", p.Done, p.Total, statusLabel(p.Result.Status), p.Result)
	})
	printSummary(out, sum)
	return nil
}
