package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modkeeper/coordinator"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownGrace = 30 * time.Second

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Runs scheduled watch checks, refreshes and error reports until stopped",
	Long: `Runs in the foreground until SIGINT or SIGTERM:
  - watches are checked on the configured 12 or 24 hour interval
  - installed mods are refreshed every --refresh-every (SIGHUP requests one now)
  - the error monitor prunes old events hourly and logs a report every six hours`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		ctx := cmd.Context()
		log := a.log.Named("daemon")
		every, _ := cmd.Flags().GetDuration("refresh-every")
		refreshNow, _ := cmd.Flags().GetBool("refresh-now")

		if err := a.monitor.Start(); err != nil {
			return err
		}
		defer a.monitor.Stop()

		if err := a.watcher.Start(ctx); err != nil {
			return err
		}
		defer a.watcher.Stop()

		coord := coordinator.New(ctx, a.updater.Run, log)
		coord.OnComplete = func(r coordinator.RunResult) {
			if r.Err != nil {
				log.Warnw("Refresh failed", zap.String("source", r.Request.Source), zap.Error(r.Err))
				return
			}
			log.Infow("Refresh finished", zap.String("source", r.Request.Source))
		}
		trigger := func(source string) {
			outcome := coord.Trigger(coordinator.Request{ServerPath: a.cfg.MinecraftDir, Source: source})
			log.Infow("Refresh requested", zap.String("source", source), zap.Stringer("outcome", outcome))
		}

		if a.cfg.MinecraftVersion != "" && every > 0 {
			c := cron.New()
			if _, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() { trigger("schedule") }); err != nil {
				return fmt.Errorf("invalid refresh interval %s: %w", every, err)
			}
			c.Start()
			defer func() { <-c.Stop().Done() }()
			if refreshNow {
				trigger("startup")
			}
		} else {
			log.Warn("Scheduled refresh disabled; set MINECRAFT_VERSION and --refresh-every to enable it")
		}

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		fmt.Fprintln(cmd.OutOrStdout(), "modkeeper daemon running; press Ctrl+C to stop")
		for {
			select {
			case <-hup:
				trigger("signal")
			case <-ctx.Done():
				log.Info("Shutting down")
				waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				if err := coord.Wait(waitCtx); err != nil {
					log.Warnw("Refresh still running at shutdown", zap.Error(err))
				}
				a.monitor.LogReport()
				return nil
			}
		}
	}),
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().Duration("refresh-every", 6*time.Hour, "interval between refreshes of installed mods (0 disables)")
	daemonCmd.Flags().Bool("refresh-now", true, "refresh once at startup")
}
