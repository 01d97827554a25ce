// Package updater implements the refresh-all pass over the installed mods
// and direct installs of new projects.
package updater

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modkeeper/coordinator"
	"modkeeper/db"
	"modkeeper/errs"
	"modkeeper/fetcher"
	"modkeeper/integrity"
	"modkeeper/inventory"
	"modkeeper/modrinth"
	"modkeeper/monitor"
	"modkeeper/resolver"
	"modkeeper/watcher"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Resolver resolves a target to a version.
type Resolver interface {
	Resolve(ctx context.Context, target resolver.Target, opts resolver.Options) (*modrinth.Version, error)
}

// Fetcher downloads and verifies one artifact.
type Fetcher interface {
	Fetch(ctx context.Context, url, destDir, fileName string, expected *fetcher.Expected) (string, error)
}

// WatchAdder registers a watch for a target with no compatible version.
type WatchAdder interface {
	AddWatch(serverPath string, w watcher.Watch) (bool, error)
}

// VersionGetter fetches one version of a project.
type VersionGetter interface {
	GetVersion(ctx context.Context, projectID, versionID string) (*modrinth.Version, error)
}

// Status is the per-mod outcome of a pass.
type Status string

const (
	StatusUpToDate    Status = "up_to_date"
	StatusUpdated     Status = "updated"
	StatusReinstalled Status = "reinstalled"
	StatusInstalled   Status = "installed"
	StatusRolledBack  Status = "rolled_back"
	StatusWatching    Status = "watching"
	StatusNotFound    Status = "not_found"
	StatusSkipped     Status = "skipped"
	StatusFailed      Status = "failed"
)

// Result is the outcome for one mod.
type Result struct {
	ProjectID   string
	Title       string
	Status      Status
	FromVersion string
	ToVersion   string
	Path        string
	Err         error
}

// Summary aggregates the results of a pass.
type Summary struct {
	Results []Result
}

// Count returns how many results have status s.
func (s Summary) Count(status Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Progress is reported after every mod.
type Progress struct {
	Total  int
	Done   int
	Result Result
}

// Options configure an Updater.
type Options struct {
	ServerPath        string
	Loader            string
	GameVersion       string
	InstallationType  string
	Resolve           resolver.Options
	Concurrency       int
	WatchIncompatible bool
}

// Updater applies resolved versions to the inventory.
type Updater struct {
	inv      *inventory.Inventory
	resolver Resolver
	fetcher  Fetcher
	watches  WatchAdder
	recorder monitor.Recorder
	log      *zap.SugaredLogger
	opts     Options
	now      func() time.Time

	dbMu sync.Mutex // serializes writes to the inventory
}

// New returns an Updater. watches and recorder may be nil.
func New(inv *inventory.Inventory, res Resolver, f Fetcher, watches WatchAdder, recorder monitor.Recorder, log *zap.SugaredLogger, opts Options) *Updater {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Updater{
		inv:      inv,
		resolver: res,
		fetcher:  f,
		watches:  watches,
		recorder: recorder,
		log:      log.Named("updater"),
		opts:     opts,
		now:      time.Now,
	}
}

// Run performs a refresh pass; it satisfies coordinator.RunFunc.
func (u *Updater) Run(ctx context.Context, req coordinator.Request) error {
	_, err := u.CheckAll(ctx, req, nil)
	return err
}

// CheckAll refreshes every installed mod, or only req.Targets when set.
// Failures are isolated per mod and reported in the summary; the returned
// error is non-nil only when the pass itself could not run.
func (u *Updater) CheckAll(ctx context.Context, req coordinator.Request, onProgress func(Progress)) (Summary, error) {
	if u.opts.Loader == "" || u.opts.GameVersion == "" {
		return Summary{}, errs.Validationf("check all", "loader and game version are required")
	}
	mods, err := u.inv.List()
	if err != nil {
		return Summary{}, err
	}
	mods = selectTargets(mods, req.Targets)

	serverPath := req.ServerPath
	if serverPath == "" {
		serverPath = u.opts.ServerPath
	}
	u.log.Infow("Checking installed mods for updates",
		zap.Int("mods", len(mods)),
		zap.Bool("force", req.ForceRefresh),
		zap.String("game_version", u.opts.GameVersion),
		zap.String("loader", u.opts.Loader),
	)

	results := make([]Result, len(mods))
	var progressMu sync.Mutex
	done := 0

	var g errgroup.Group
	g.SetLimit(u.opts.Concurrency)
	for i, mod := range mods {
		g.Go(func() error {
			var r Result
			if ctx.Err() != nil {
				r = Result{ProjectID: mod.ProjectID, Title: mod.Title, Status: StatusSkipped, FromVersion: mod.VersionNumber, Err: ctx.Err()}
			} else {
				r = u.checkOne(ctx, mod, req.ForceRefresh, serverPath)
			}
			results[i] = r

			progressMu.Lock()
			done++
			if onProgress != nil {
				onProgress(Progress{Total: len(mods), Done: done, Result: r})
			}
			progressMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Results: results}
	u.log.Infow("Update check finished",
		zap.Int("updated", sum.Count(StatusUpdated)+sum.Count(StatusReinstalled)),
		zap.Int("up_to_date", sum.Count(StatusUpToDate)),
		zap.Int("watching", sum.Count(StatusWatching)),
		zap.Int("failed", sum.Count(StatusFailed)),
	)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

func selectTargets(mods []db.Mod, targets []string) []db.Mod {
	if len(targets) == 0 {
		return mods
	}
	want := make(map[string]bool, len(targets))
	for _, t := range targets {
		want[t] = true
	}
	var out []db.Mod
	for _, m := range mods {
		if want[m.ProjectID] || want[m.ProjectSlug] {
			out = append(out, m)
		}
	}
	return out
}

func (u *Updater) target(projectID string) resolver.Target {
	return resolver.Target{ProjectID: projectID, Loader: u.opts.Loader, GameVersion: u.opts.GameVersion}
}

func (u *Updater) checkOne(ctx context.Context, mod db.Mod, force bool, serverPath string) Result {
	log := u.log.With(zap.String("project_id", mod.ProjectID), zap.String("title", mod.Title))
	r := Result{ProjectID: mod.ProjectID, Title: mod.Title, FromVersion: mod.VersionNumber}

	target := u.target(mod.ProjectID)
	v, err := u.resolver.Resolve(ctx, target, u.opts.Resolve)
	if err != nil {
		return u.unresolved(log, r, mod.Title, target, serverPath, u.opts.WatchIncompatible, err)
	}
	r.ToVersion = v.VersionNumber

	cmp := resolver.Compare(v.VersionNumber, mod.VersionNumber)
	if cmp < 0 || (cmp == 0 && !force) {
		log.Infow("Mod is already up to date", zap.String("version", mod.VersionNumber), zap.String("latest", v.VersionNumber))
		r.Status = StatusUpToDate
		return r
	}
	upgrade := cmp > 0

	path, err := u.apply(ctx, log, &mod, v)
	if err != nil {
		r.Status, r.Err = StatusFailed, err
		return r
	}
	r.Path = path
	r.Status = StatusUpdated
	if !upgrade {
		r.Status = StatusReinstalled
	}
	return r
}

// unresolved turns a failed resolution into a result, registering a watch for NotFound.
func (u *Updater) unresolved(log *zap.SugaredLogger, r Result, modName string, target resolver.Target, serverPath string, watch bool, err error) Result {
	if !errs.IsNotFound(err) {
		log.Warnw("Failed to resolve version", zap.Error(err))
		if u.recorder != nil && !errors.Is(err, context.Canceled) {
			u.recorder.Record(monitor.FromError("updater", "resolve_failure", err, 1))
		}
		r.Status, r.Err = StatusFailed, err
		return r
	}
	r.Status, r.Err = StatusNotFound, err
	if !watch || u.watches == nil || serverPath == "" {
		log.Infow("No compatible version", zap.String("target", target.String()))
		return r
	}
	if _, werr := u.watches.AddWatch(serverPath, watcher.Watch{ProjectID: target.ProjectID, ModName: modName, Target: target}); werr != nil {
		log.Warnw("Failed to add watch", zap.Error(werr))
		return r
	}
	log.Infow("No compatible version, watching for one", zap.String("target", target.String()))
	r.Status = StatusWatching
	return r
}

// apply downloads v for mod and updates the record. mod.ID == 0 means a new install.
func (u *Updater) apply(ctx context.Context, log *zap.SugaredLogger, mod *db.Mod, v *modrinth.Version) (string, error) {
	file := v.PrimaryFile()
	if file == nil {
		return "", errs.Validationf("apply "+mod.ProjectID, "version %s has no files", v.VersionNumber)
	}

	var expected *fetcher.Expected
	hash, algName := file.Hash()
	if hash != "" {
		alg, err := integrity.ParseAlgorithm(algName)
		if err != nil {
			return "", err
		}
		expected = &fetcher.Expected{Checksum: hash, Algorithm: alg}
	} else {
		log.Warnw("Registry published no hash; installing unverified", zap.String("file", file.Filename))
	}

	old := *mod
	next := *mod
	next.FileName = file.Filename
	if next.ID == 0 {
		next.Enabled = true
	}
	dir := u.inv.Dir(mod.ProjectType)
	log.Infow("Downloading", zap.String("file", file.Filename), zap.String("version", v.VersionNumber))
	path, err := u.fetcher.Fetch(ctx, file.URL, dir, inventory.DiskName(next), expected)
	if err != nil {
		return "", err
	}

	if old.ID != 0 && old.FileName != "" && inventory.DiskName(old) != inventory.DiskName(next) {
		oldPath := filepath.Join(dir, inventory.DiskName(old))
		if err := u.inv.DeleteFile(oldPath); err != nil {
			log.Warnw("Failed to remove replaced file", zap.String("path", oldPath), zap.Error(err))
		}
	}

	now := u.now()
	next.VersionID = v.ID
	next.VersionNumber = v.VersionNumber
	next.Loader = u.opts.Loader
	next.LastVerifiedHash = hash
	next.LastVerifiedAlgo = algName
	next.LastVerifiedAt = nil
	if hash != "" {
		next.LastVerifiedAt = &now
	}

	u.dbMu.Lock()
	defer u.dbMu.Unlock()
	if old.ID != 0 && old.VersionID != "" && old.VersionID != v.ID {
		if err := u.inv.RecordReplaced(old); err != nil {
			log.Warnw("Failed to save version history", zap.Error(err))
		}
	}
	if err := u.inv.Save(&next); err != nil {
		return path, err
	}
	*mod = next
	log.Infow("Installed version", zap.String("version", v.VersionNumber), zap.String("path", path))
	return path, nil
}

// Install resolves and installs project. An already installed project is
// refreshed like a forced update. A NotFound resolution registers a watch
// when watch is set and is returned as an error either way.
func (u *Updater) Install(ctx context.Context, project modrinth.Project, watch bool) (Result, error) {
	if u.opts.Loader == "" || u.opts.GameVersion == "" {
		return Result{}, errs.Validationf("install", "loader and game version are required")
	}
	if !inventory.SupportedType(project.ProjectType) {
		return Result{ProjectID: project.ID, Title: project.Title, Status: StatusSkipped},
			errs.Validationf("install", "unsupported project type %q", project.ProjectType)
	}
	log := u.log.With(zap.String("project_id", project.ID), zap.String("title", project.Title))
	r := Result{ProjectID: project.ID, Title: project.Title}

	mod := db.Mod{ProjectID: project.ID, ProjectType: project.ProjectType}
	if existing, err := u.inv.Get(project.ID); err == nil {
		mod = *existing
		r.FromVersion = existing.VersionNumber
	} else if !errs.IsNotFound(err) {
		return r, err
	}
	mod.ProjectSlug = project.Slug
	mod.Title = project.Title
	mod.Color = project.Color

	target := u.target(project.ID)
	v, err := u.resolver.Resolve(ctx, target, u.opts.Resolve)
	if err != nil {
		return u.unresolved(log, r, project.Title, target, u.opts.ServerPath, watch, err), err
	}
	r.ToVersion = v.VersionNumber

	isNew := mod.ID == 0
	if !isNew && resolver.Compare(v.VersionNumber, r.FromVersion) < 0 {
		log.Infow("Installed version is newer than the best candidate", zap.String("version", r.FromVersion), zap.String("latest", v.VersionNumber))
		r.Status = StatusUpToDate
		return r, nil
	}
	path, err := u.apply(ctx, log, &mod, v)
	if err != nil {
		r.Status, r.Err = StatusFailed, err
		return r, err
	}
	r.Path = path
	r.Status = StatusReinstalled
	switch {
	case isNew:
		r.Status = StatusInstalled
	case resolver.IsUpgrade(v.VersionNumber, r.FromVersion):
		r.Status = StatusUpdated
	}
	return r, nil
}

// Rollback reinstalls the most recently replaced version of a mod and
// removes that entry from its history. The version being replaced is
// recorded in turn.
func (u *Updater) Rollback(ctx context.Context, projectIDOrSlug string, versions VersionGetter) (Result, error) {
	mod, err := u.inv.Get(projectIDOrSlug)
	if err != nil {
		return Result{}, err
	}
	r := Result{ProjectID: mod.ProjectID, Title: mod.Title, FromVersion: mod.VersionNumber}
	history, err := u.inv.History(mod.ProjectID)
	if err != nil {
		return r, err
	}
	if len(history) == 0 {
		return r, errs.E(errs.KindNotFound, "rollback "+mod.ProjectID, errors.New("no previous version recorded"))
	}
	prev := history[0]
	log := u.log.With(zap.String("project_id", mod.ProjectID), zap.String("title", mod.Title))

	v, err := versions.GetVersion(ctx, mod.ProjectID, prev.VersionID)
	if err != nil {
		r.Status, r.Err = StatusFailed, err
		return r, err
	}
	r.ToVersion = v.VersionNumber
	path, err := u.apply(ctx, log, mod, v)
	if err != nil {
		r.Status, r.Err = StatusFailed, err
		return r, err
	}
	if err := u.inv.DropHistory(prev.ID); err != nil {
		log.Warnw("Failed to delete history record", zap.String("version", prev.VersionID), zap.Error(err))
	}
	log.Infow("Rollback successful", zap.String("restored_version", v.VersionNumber))
	r.Path = path
	r.Status = StatusRolledBack
	return r, nil
}

// SupportsInstallationType reports whether p can run on the given side.
func SupportsInstallationType(p modrinth.Project, installationType string) bool {
	supported := func(side string) bool { return side == "required" || side == "optional" }
	switch strings.ToLower(installationType) {
	case "client":
		return supported(p.ClientSide)
	case "server":
		return supported(p.ServerSide)
	case "both":
		return supported(p.ClientSide) && supported(p.ServerSide)
	default:
		return true
	}
}

// InstallFollowed installs every followed project that is not installed
// yet and fits the configured installation type.
func (u *Updater) InstallFollowed(ctx context.Context, projects []modrinth.Project, onProgress func(Progress)) Summary {
	var pending []modrinth.Project
	var sum Summary
	for _, p := range projects {
		skip := ""
		switch {
		case !inventory.SupportedType(p.ProjectType):
			skip = "unsupported project type " + p.ProjectType
		case !SupportsInstallationType(p, u.opts.InstallationType):
			skip = "unsupported on " + u.opts.InstallationType
		}
		if skip != "" {
			u.log.Infow("Skipping followed project", zap.String("title", p.Title), zap.String("reason", skip))
			sum.Results = append(sum.Results, Result{ProjectID: p.ID, Title: p.Title, Status: StatusSkipped, Err: errors.New(skip)})
			continue
		}
		if _, err := u.inv.Get(p.ID); err == nil {
			continue
		}
		pending = append(pending, p)
	}

	results := make([]Result, len(pending))
	var progressMu sync.Mutex
	done := 0
	var g errgroup.Group
	g.SetLimit(u.opts.Concurrency)
	for i, p := range pending {
		g.Go(func() error {
			r, err := u.Install(ctx, p, u.opts.WatchIncompatible)
			if err != nil && r.Err == nil && r.Status != StatusWatching && r.Status != StatusNotFound {
				r.Status, r.Err = StatusFailed, err
			}
			results[i] = r
			progressMu.Lock()
			done++
			if onProgress != nil {
				onProgress(Progress{Total: len(pending), Done: done, Result: r})
			}
			progressMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sum.Results = append(sum.Results, results...)
	return sum
}

func (r Result) String() string {
	switch r.Status {
	case StatusUpdated, StatusRolledBack:
		return fmt.Sprintf("%s: %s -> %s", r.Title, r.FromVersion, r.ToVersion)
	case StatusFailed, StatusSkipped:
		if r.Err != nil {
			return fmt.Sprintf("%s: %s (%v)", r.Title, r.Status, r.Err)
		}
	}
	if r.ToVersion != "" {
		return fmt.Sprintf("%s: %s %s", r.Title, r.Status, r.ToVersion)
	}
	return fmt.Sprintf("%s: %s", r.Title, r.Status)
}
