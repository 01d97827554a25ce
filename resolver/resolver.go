// Package resolver selects the registry version that best fits a
// loader/game-version target.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"modkeeper/errs"
	"modkeeper/modrinth"

	"go.uber.org/zap"
)

// Target identifies which compatible version is needed. All three fields
// must match exactly for a resolution or watch to count as satisfied.
type Target struct {
	ProjectID   string `json:"project_id"`
	Loader      string `json:"loader"`
	GameVersion string `json:"game_version"`
}

// Key returns a stable lookup key for the target.
func (t Target) Key() string {
	return t.ProjectID + "|" + t.Loader + "|" + t.GameVersion
}

func (t Target) String() string {
	return fmt.Sprintf("%s (%s %s)", t.ProjectID, t.Loader, t.GameVersion)
}

// Validate rejects targets with missing fields.
func (t Target) Validate() error {
	switch {
	case t.ProjectID == "":
		return errs.Validationf("resolve", "project id is required")
	case t.Loader == "":
		return errs.Validationf("resolve", "loader is required")
	case t.GameVersion == "":
		return errs.Validationf("resolve", "game version is required")
	}
	return nil
}

// Options tune selection.
type Options struct {
	// RequireStableOnly rejects non-release versions entirely.
	RequireStableOnly bool
	// WantLatestOnly picks the newest candidate regardless of stability.
	WantLatestOnly bool
}

// Registry is the part of the registry client the resolver needs.
type Registry interface {
	ListVersions(ctx context.Context, projectID, loader, gameVersion string) ([]modrinth.Version, error)
}

// Resolver queries the registry and selects the best version for a target.
type Resolver struct {
	registry Registry
	log      *zap.SugaredLogger
}

func New(registry Registry, log *zap.SugaredLogger) *Resolver {
	return &Resolver{registry: registry, log: log.Named("resolver")}
}

// Resolve returns the selected version for target. It returns a
// KindNotFound error when nothing matches and passes through the
// registry's KindTransient errors unchanged.
func (r *Resolver) Resolve(ctx context.Context, target Target, opts Options) (*modrinth.Version, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	versions, err := r.registry.ListVersions(ctx, target.ProjectID, target.Loader, target.GameVersion)
	if err != nil {
		return nil, err
	}

	// The registry filter is advisory; enforce it here.
	candidates := make([]modrinth.Version, 0, len(versions))
	for _, v := range versions {
		if !v.Supports(target.Loader, target.GameVersion) {
			continue
		}
		if opts.RequireStableOnly && !v.IsStable() {
			continue
		}
		candidates = append(candidates, v)
	}

	var best *modrinth.Version
	if opts.WantLatestOnly {
		best = latest(candidates)
	} else {
		best = SelectBestVersion(candidates)
	}
	if best == nil {
		return nil, errs.E(errs.KindNotFound, "resolve "+target.String(),
			fmt.Errorf("no compatible version among %d published", len(versions)))
	}

	r.log.Debugw("Resolved version",
		zap.String("target", target.String()),
		zap.String("version_id", best.ID),
		zap.String("version_number", best.VersionNumber),
	)
	return best, nil
}

// SelectBestVersion prefers stable versions when any exist, then picks
// the most recently published. Ties keep the input order.
func SelectBestVersion(candidates []modrinth.Version) *modrinth.Version {
	stable := make([]modrinth.Version, 0, len(candidates))
	for _, v := range candidates {
		if v.IsStable() {
			stable = append(stable, v)
		}
	}
	if len(stable) > 0 {
		return latest(stable)
	}
	return latest(candidates)
}

func latest(candidates []modrinth.Version) *modrinth.Version {
	if len(candidates) == 0 {
		return nil
	}
	sorted := make([]modrinth.Version, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DatePublished.After(sorted[j].DatePublished)
	})
	return &sorted[0]
}
