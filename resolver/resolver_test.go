package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"modkeeper/errs"
	"modkeeper/modrinth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRegistry struct {
	versions []modrinth.Version
	err      error
	calls    int
}

func (f *fakeRegistry) ListVersions(_ context.Context, _, _, _ string) ([]modrinth.Version, error) {
	f.calls++
	return f.versions, f.err
}

var base = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func version(id, number, kind string, age time.Duration) modrinth.Version {
	return modrinth.Version{
		ID:            id,
		ProjectID:     "sodium",
		VersionNumber: number,
		VersionType:   kind,
		DatePublished: base.Add(-age),
		Loaders:       []string{"fabric"},
		GameVersions:  []string{"1.21.0"},
	}
}

var sodium = Target{ProjectID: "sodium", Loader: "fabric", GameVersion: "1.21.0"}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.2", "1.2.0", 0},
		{"1.10.0", "1.9.9", 1},
		{"v2.0.0", "1.99.99", 1},
		{"0.15.10-pre", "0.15.10", 0},
		{"0.15.10-pre", "0.15.9", 1},
		{"1.0.0+build.5", "1.0.0+build.9", 0},
		{"1.2.3.4", "1.2.3", 1},
		{"01.2.0", "1.2.0", 0},
		{"mc1.20.1-0.5.3", "mc1.20.1-0.5.2", 1},
		{"mc1.20.1-0.5.3", "mc1.20.1-0.5.3", 0},
		{"mc1.21.0-0.5.0", "mc1.20.1-0.5.3", 1},
		{"mc1.20.1-0.5.3", "0.5.2", 1},
		{"0.5.3+mc1.20.1", "0.5.2+mc1.20.1", 1},
		{"r5.1-fix", "r5.0", 1},
		{"beta", "alpha", 0},
		{"", "0.0.0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.want, Compare(tt.b, tt.a), "antisymmetry")
			assert.Equal(t, 0, Compare(tt.a, tt.a), "reflexive")
		})
	}
}

func TestIsUpgrade(t *testing.T) {
	assert.True(t, IsUpgrade("0.5.4", "0.5.3"))
	assert.False(t, IsUpgrade("0.5.3", "0.5.3"))
	assert.False(t, IsUpgrade("0.5.3-hotfix", "0.5.3"), "a differing suffix is not an upgrade")
	assert.False(t, IsUpgrade("0.5.2", "0.5.3"))
	assert.True(t, IsUpgrade("mc1.20.1-0.5.4", "mc1.20.1-0.5.3"), "the game version tag is not the mod version")
	assert.False(t, IsUpgrade("mc1.20.1-0.5.3", "mc1.20.1-0.5.3"))
}

func TestSelectBestVersionPrefersStable(t *testing.T) {
	candidates := []modrinth.Version{
		version("pre", "0.15.10-pre", "beta", 0),
		version("stable", "0.15.9", "release", time.Hour),
	}
	best := SelectBestVersion(candidates)
	require.NotNil(t, best)
	assert.Equal(t, "0.15.9", best.VersionNumber)
}

func TestSelectBestVersionFallsBackToUnstable(t *testing.T) {
	candidates := []modrinth.Version{
		version("old", "0.1.0", "alpha", 2*time.Hour),
		version("new", "0.2.0", "beta", time.Hour),
	}
	best := SelectBestVersion(candidates)
	require.NotNil(t, best)
	assert.Equal(t, "new", best.ID)
}

func TestSelectBestVersionTieKeepsRegistryOrder(t *testing.T) {
	candidates := []modrinth.Version{
		version("first", "1.0.0", "release", time.Hour),
		version("second", "1.0.1", "release", time.Hour),
	}
	assert.Equal(t, "first", SelectBestVersion(candidates).ID)
}

func TestSelectBestVersionEmpty(t *testing.T) {
	assert.Nil(t, SelectBestVersion(nil))
}

func TestResolveStableFirst(t *testing.T) {
	// stable 0.15.9 published after unstable 0.15.10-pre
	reg := &fakeRegistry{versions: []modrinth.Version{
		version("pre", "0.15.10-pre", "beta", 2*time.Hour),
		version("stable", "0.15.9", "release", time.Hour),
	}}
	r := New(reg, zap.NewNop().Sugar())

	got, err := r.Resolve(context.Background(), sodium, Options{})
	require.NoError(t, err)
	assert.Equal(t, "0.15.9", got.VersionNumber)
}

func TestResolveOptions(t *testing.T) {
	reg := &fakeRegistry{versions: []modrinth.Version{
		version("pre", "0.16.0-beta", "beta", 0),
		version("stable", "0.15.9", "release", time.Hour),
	}}
	r := New(reg, zap.NewNop().Sugar())

	got, err := r.Resolve(context.Background(), sodium, Options{WantLatestOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "pre", got.ID)

	reg.versions = reg.versions[:1]
	_, err = r.Resolve(context.Background(), sodium, Options{RequireStableOnly: true})
	assert.True(t, errs.IsNotFound(err))
}

func TestResolveFiltersIncompatible(t *testing.T) {
	forge := version("forge", "1.0.0", "release", 0)
	forge.Loaders = []string{"forge"}
	oldMC := version("old-mc", "1.0.0", "release", 0)
	oldMC.GameVersions = []string{"1.20.1"}

	reg := &fakeRegistry{versions: []modrinth.Version{forge, oldMC}}
	r := New(reg, zap.NewNop().Sugar())

	_, err := r.Resolve(context.Background(), sodium, Options{})
	assert.True(t, errs.IsNotFound(err))
}

func TestResolveErrors(t *testing.T) {
	t.Run("invalid target does no I/O", func(t *testing.T) {
		reg := &fakeRegistry{}
		r := New(reg, zap.NewNop().Sugar())
		_, err := r.Resolve(context.Background(), Target{ProjectID: "sodium"}, Options{})
		assert.True(t, errs.IsValidation(err))
		assert.Zero(t, reg.calls)
	})

	t.Run("transient passes through", func(t *testing.T) {
		reg := &fakeRegistry{err: errs.E(errs.KindTransient, "list", errors.New("connection reset"))}
		r := New(reg, zap.NewNop().Sugar())
		_, err := r.Resolve(context.Background(), sodium, Options{})
		assert.True(t, errs.IsTransient(err))
		assert.False(t, errs.IsNotFound(err))
	})

	t.Run("registry not found passes through", func(t *testing.T) {
		reg := &fakeRegistry{err: errs.E(errs.KindNotFound, "list", errors.New("404"))}
		r := New(reg, zap.NewNop().Sugar())
		_, err := r.Resolve(context.Background(), sodium, Options{})
		assert.True(t, errs.IsNotFound(err))
	})
}
