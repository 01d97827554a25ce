// Package watcher re-checks mods that had no compatible version until one
// appears. A cheap tick runs every few minutes and only looks at each
// server's next-due time; a due server gets a full pass over its watches.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"modkeeper/errs"
	"modkeeper/modrinth"
	"modkeeper/monitor"
	"modkeeper/notify"
	"modkeeper/resolver"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultTickSpec is the light-tick schedule.
const DefaultTickSpec = "@every 5m"

// Resolver resolves a target to a version.
type Resolver interface {
	Resolve(ctx context.Context, target resolver.Target, opts resolver.Options) (*modrinth.Version, error)
}

// Options configure a Watcher.
type Options struct {
	TickSpec       string
	ResolveOptions resolver.Options
}

// PassResult summarizes one heavy check of a server.
type PassResult struct {
	ServerPath string
	Checked    int
	Fulfilled  []FulfillmentRecord
	Failed     int
	NextCheck  time.Time
}

// Watcher drives the registry's watches through the resolver.
type Watcher struct {
	registry *Registry
	resolver Resolver
	sink     notify.Sink
	recorder monitor.Recorder
	log      *zap.SugaredLogger
	opts     Options
	now      func() time.Time

	passMu sync.Mutex // one tick or pass at a time

	cronMu sync.Mutex
	cron   *cron.Cron
	ticks  sync.WaitGroup // startup ticks not owned by cron
}

// New returns a Watcher. sink and recorder may be nil.
func New(reg *Registry, res Resolver, sink notify.Sink, recorder monitor.Recorder, log *zap.SugaredLogger, opts Options) *Watcher {
	if opts.TickSpec == "" {
		opts.TickSpec = DefaultTickSpec
	}
	return &Watcher{
		registry: reg,
		resolver: res,
		sink:     sink,
		recorder: recorder,
		log:      log.Named("watcher"),
		opts:     opts,
		now:      time.Now,
	}
}

// Registry returns the underlying registry.
func (w *Watcher) Registry() *Registry { return w.registry }

// Tick runs a heavy pass for every server whose next check is due and
// returns the passes performed.
func (w *Watcher) Tick(ctx context.Context) []PassResult {
	w.passMu.Lock()
	defer w.passMu.Unlock()

	var results []PassResult
	for _, serverPath := range w.registry.Servers() {
		if ctx.Err() != nil {
			break
		}
		if !w.registry.Schedule(serverPath).Due(w.now()) {
			continue
		}
		if len(w.registry.Watches(serverPath)) == 0 {
			continue
		}
		results = append(results, w.checkServer(ctx, serverPath))
	}
	return results
}

// CheckServer runs a heavy pass over serverPath immediately, regardless of its schedule.
func (w *Watcher) CheckServer(ctx context.Context, serverPath string) PassResult {
	w.passMu.Lock()
	defer w.passMu.Unlock()
	return w.checkServer(ctx, serverPath)
}

func (w *Watcher) checkServer(ctx context.Context, serverPath string) PassResult {
	log := w.log.With(zap.String("server", serverPath))
	res := PassResult{ServerPath: serverPath}

	watches := w.registry.Watches(serverPath)
	log.Infow("Checking watched mods", zap.Int("watches", len(watches)))

	for _, watch := range watches {
		if ctx.Err() != nil {
			log.Infow("Watch pass interrupted", zap.Int("checked", res.Checked))
			return res
		}
		res.Checked++
		rec, err := w.checkOne(ctx, serverPath, watch)
		if err != nil {
			res.Failed++
			continue
		}
		if rec != nil {
			res.Fulfilled = append(res.Fulfilled, *rec)
		}
	}

	res.NextCheck = w.registry.completePass(serverPath, w.now()).NextCheckAt
	log.Infow("Watch pass complete",
		zap.Int("checked", res.Checked),
		zap.Int("fulfilled", len(res.Fulfilled)),
		zap.Int("failed", res.Failed),
		zap.Time("next_check", res.NextCheck),
	)
	return res
}

// checkOne resolves a single watch. A nil record with a nil error means
// the watch is still unsatisfied.
func (w *Watcher) checkOne(ctx context.Context, serverPath string, watch Watch) (rec *FulfillmentRecord, err error) {
	log := w.log.With(zap.String("project_id", watch.ProjectID), zap.String("target", watch.Target.String()))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watch check panicked: %v", r)
			log.Errorw("Watch check panicked", zap.Any("panic", r))
			w.registry.touch(serverPath, watch.Target, w.now(), err)
		}
	}()

	version, err := w.resolver.Resolve(ctx, watch.Target, w.opts.ResolveOptions)
	switch {
	case errs.IsNotFound(err):
		log.Debugw("Still no compatible version")
		w.registry.touch(serverPath, watch.Target, w.now(), nil)
		return nil, nil
	case errors.Is(err, context.Canceled):
		return nil, err
	case err != nil:
		log.Warnw("Watch check failed", zap.Error(err))
		w.registry.touch(serverPath, watch.Target, w.now(), err)
		if w.recorder != nil {
			ev := monitor.FromError("watcher", "resolve_failure", err, 1)
			ev.Path = serverPath
			w.recorder.Record(ev)
		}
		return nil, err
	}

	if !version.Supports(watch.Target.Loader, watch.Target.GameVersion) {
		log.Warnw("Resolved version does not match the watched target", zap.String("version", version.VersionNumber))
		w.registry.touch(serverPath, watch.Target, w.now(), nil)
		return nil, nil
	}

	found := FulfillmentRecord{
		ProjectID:    watch.ProjectID,
		ModName:      watch.ModName,
		Target:       watch.Target,
		VersionID:    version.ID,
		VersionFound: version.VersionNumber,
		FoundAt:      w.now(),
	}
	if !w.registry.fulfill(serverPath, found) {
		return nil, nil
	}
	log.Infow("Compatible version found", zap.String("version", version.VersionNumber))

	if w.sink != nil {
		err := w.sink.Notify(notify.Fulfillment{
			ServerPath:   serverPath,
			ProjectID:    found.ProjectID,
			ModName:      found.ModName,
			Target:       found.Target,
			VersionID:    found.VersionID,
			VersionFound: found.VersionFound,
			FoundAt:      found.FoundAt,
		})
		if err != nil {
			log.Warnw("Failed to deliver notification", zap.Error(err))
		}
	}
	return &found, nil
}

// SetInterval changes the heavy-check interval to 12 or 24 hours and
// reschedules every server.
func (w *Watcher) SetInterval(hours int) error {
	if err := w.registry.setInterval(hours, w.now()); err != nil {
		return err
	}
	w.log.Infow("Watch interval changed", zap.Int("hours", hours))
	return nil
}

// SeedInterval sets the initial interval. An interval chosen earlier with
// SetInterval is kept.
func (w *Watcher) SeedInterval(hours int) error {
	return w.registry.seedInterval(hours, w.now())
}

// Start schedules the light tick and runs one tick right away. ctx bounds
// every pass started by the schedule.
func (w *Watcher) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.opts.TickSpec, func() { w.Tick(ctx) }); err != nil {
		return fmt.Errorf("invalid tick schedule %q: %w", w.opts.TickSpec, err)
	}
	c.Start()

	w.cronMu.Lock()
	w.cron = c
	w.cronMu.Unlock()

	w.ticks.Add(1)
	go func() {
		defer w.ticks.Done()
		w.Tick(ctx)
	}()
	w.log.Infow("Watcher started", zap.String("tick", w.opts.TickSpec), zap.Duration("interval", w.registry.Interval()))
	return nil
}

// Stop halts the tick and waits for a running pass to return.
func (w *Watcher) Stop() {
	w.cronMu.Lock()
	c := w.cron
	w.cron = nil
	w.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	w.ticks.Wait()
}
