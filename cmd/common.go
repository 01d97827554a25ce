package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"modkeeper/config"
	"modkeeper/coordinator"
	"modkeeper/db"
	"modkeeper/fetcher"
	"modkeeper/integrity"
	"modkeeper/inventory"
	"modkeeper/logger"
	"modkeeper/modrinth"
	"modkeeper/monitor"
	"modkeeper/notify"
	"modkeeper/resolver"
	"modkeeper/store"
	"modkeeper/ui"
	"modkeeper/updater"
	"modkeeper/watcher"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds every component a command can reach.
type app struct {
	cfg  config.Config
	log  *zap.SugaredLogger
	out  io.Writer
	conn *gorm.DB

	client    *modrinth.Client
	monitor   *monitor.Monitor
	verifier  *integrity.Verifier
	resolver  *resolver.Resolver
	fetcher   *fetcher.Fetcher
	inventory *inventory.Inventory
	watcher   *watcher.Watcher
	updater   *updater.Updater
}

// bootstrap handles shared initialization logic for commands.
func bootstrap(path string, out io.Writer) (*app, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.InitLogger(cfg.LogFile, true); err != nil {
		return nil, err
	}
	return newApp(cfg, logger.Log, out)
}

// newApp wires the components for cfg.
func newApp(cfg config.Config, log *zap.SugaredLogger, out io.Writer) (*app, error) {
	conn, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	log.Infow("Database initialized", zap.String("path", cfg.DatabasePath))

	client, err := modrinth.NewClient(cfg)
	if err != nil {
		_ = db.Close(conn)
		return nil, fmt.Errorf("failed to create Modrinth client: %w", err)
	}

	sidecars, err := store.NewFileStore(filepath.Join(cfg.DataDir, "checksums"))
	if err != nil {
		_ = db.Close(conn)
		return nil, err
	}
	docs := store.NewDBStore(conn)

	a := &app{cfg: cfg, log: log, out: out, conn: conn, client: client}
	a.monitor = monitor.New(docs, log, monitor.Options{
		OnAlert: func(pa monitor.PatternAlert) {
			fmt.Fprintln(out, ui.Toast(fmt.Sprintf("%s %s/%s failed %d times", ui.Severity("high"), pa.Source, pa.Type, pa.Count)))
		},
	})
	a.verifier = integrity.New(sidecars, a.monitor, log)
	a.resolver = resolver.New(client, log)
	a.fetcher = fetcher.New(client, a.verifier, a.monitor, log, cfg.DownloadTimeout())
	a.inventory = inventory.New(conn, cfg.MinecraftDir)
	a.inventory.Track(a.verifier)

	resolveOpts := resolver.Options{RequireStableOnly: cfg.StableOnly}
	sink := notify.Multi{notify.NewLogSink(log), notify.NewConsoleSink(out)}
	a.watcher = watcher.New(watcher.NewRegistry(docs, log), a.resolver, sink, a.monitor, log, watcher.Options{ResolveOptions: resolveOpts})
	if err := a.watcher.SeedInterval(cfg.WatchIntervalHours); err != nil {
		log.Warnw("Ignoring configured watch interval", zap.Error(err))
	}

	a.updater = updater.New(a.inventory, a.resolver, a.fetcher, a.watcher.Registry(), a.monitor, log, updater.Options{
		ServerPath:        cfg.MinecraftDir,
		Loader:            cfg.MinecraftLoader,
		GameVersion:       cfg.MinecraftVersion,
		InstallationType:  cfg.MinecraftInstallationType,
		Resolve:           resolveOpts,
		Concurrency:       cfg.UpdateConcurrency,
		WatchIncompatible: cfg.WatchIncompatible,
	})
	return a, nil
}

// Close releases the database.
func (a *app) Close() {
	if err := db.Close(a.conn); err != nil {
		a.log.Warnw("Failed to close database", zap.Error(err))
	}
}

// target is the configured triple for a project.
func (a *app) target(projectID string) resolver.Target {
	return resolver.Target{ProjectID: projectID, Loader: a.cfg.MinecraftLoader, GameVersion: a.cfg.MinecraftVersion}
}

// refresh runs one refresh pass through a coordinator and waits for it.
func (a *app) refresh(ctx context.Context, req coordinator.Request, onProgress func(updater.Progress)) (updater.Summary, error) {
	var sum updater.Summary
	var runErr error
	c := coordinator.New(ctx, func(ctx context.Context, req coordinator.Request) error {
		s, err := a.updater.CheckAll(ctx, req, onProgress)
		sum = s
		return err
	}, a.log)
	c.OnComplete = func(r coordinator.RunResult) { runErr = r.Err }
	c.Trigger(req)
	if err := c.Wait(ctx); err != nil {
		return updater.Summary{}, err
	}
	return sum, runErr
}

// withApp adapts a command body that needs the wired components.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(configDir, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

func displayName(title string, color int) string {
	if color != 0 {
		return ui.Colorize(title, color)
	}
	return title
}
