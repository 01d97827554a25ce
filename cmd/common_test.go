package cmd

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"modkeeper/config"
	"modkeeper/coordinator"
	"modkeeper/inventory"
	"modkeeper/modrinth"
	"modkeeper/updater"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// registry is a fake Modrinth API serving a fixed set of projects.
type registry struct {
	projects map[string]modrinth.Project
	versions map[string][]modrinth.Version // by project id
	byHash   map[string]modrinth.Version
	files    map[string][]byte // by path
}

func newRegistry() *registry {
	return &registry{
		projects: map[string]modrinth.Project{},
		versions: map[string][]modrinth.Version{},
		byHash:   map[string]modrinth.Version{},
		files:    map[string][]byte{},
	}
}

func (r *registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	var body any
	switch {
	case len(parts) == 2 && parts[0] == "files":
		data, ok := r.files[req.URL.Path]
		if !ok {
			http.NotFound(w, req)
			return
		}
		_, _ = w.Write(data)
		return
	case len(parts) == 3 && parts[0] == "project" && parts[2] == "version":
		body = r.versions[parts[1]]
	case len(parts) == 2 && parts[0] == "project":
		p, ok := r.projects[parts[1]]
		if !ok {
			http.NotFound(w, req)
			return
		}
		body = p
	case len(parts) == 2 && parts[0] == "version":
		for _, vs := range r.versions {
			for _, v := range vs {
				if v.ID == parts[1] {
					body = v
				}
			}
		}
		if body == nil {
			http.NotFound(w, req)
			return
		}
	case len(parts) == 2 && parts[0] == "version_file":
		v, ok := r.byHash[parts[1]]
		if !ok {
			http.NotFound(w, req)
			return
		}
		body = v
	default:
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// publish adds a release of project whose primary file has content.
func (r *registry) publish(srvURL string, p modrinth.Project, id, number, fileName string, content []byte) modrinth.Version {
	sum := sha512.Sum512(content)
	path := "/files/" + fileName
	r.files[path] = content
	v := modrinth.Version{
		ID:            id,
		ProjectID:     p.ID,
		VersionNumber: number,
		VersionType:   "release",
		Loaders:       []string{"fabric"},
		GameVersions:  []string{"1.20.1"},
		Files: []modrinth.File{{
			Filename: fileName,
			URL:      srvURL + path,
			Primary:  true,
			Hashes:   map[string]string{"sha512": hex.EncodeToString(sum[:])},
		}},
	}
	r.projects[p.ID] = p
	r.projects[p.Slug] = p
	r.versions[p.ID] = append([]modrinth.Version{v}, r.versions[p.ID]...)
	return v
}

type testApp struct {
	*app
	registry *registry
	url      string
	out      *bytes.Buffer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	reg := newRegistry()
	srv := httptest.NewServer(reg)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	mc := filepath.Join(dir, "minecraft")
	for _, sub := range []string{"mods", "shaderpacks", "resourcepacks"} {
		require.NoError(t, os.MkdirAll(filepath.Join(mc, sub), 0755))
	}
	cfg := config.Config{
		MinecraftInstallationType: "server",
		MinecraftLoader:           "fabric",
		MinecraftVersion:          "1.20.1",
		UserAgent:                 "modkeeper-test",
		MinecraftDir:              mc,
		DataDir:                   filepath.Join(dir, "data"),
		WatchIntervalHours:        24,
		DownloadTimeoutSeconds:    5,
		UpdateConcurrency:         2,
		WatchIncompatible:         true,
		DatabasePath:              filepath.Join(dir, "modkeeper.db"),
	}
	out := &bytes.Buffer{}
	a, err := newApp(cfg, zap.NewNop().Sugar(), out)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	a.client.BaseURL = srv.URL
	return &testApp{app: a, registry: reg, url: srv.URL, out: out}
}

func TestImportInstalled(t *testing.T) {
	ta := newTestApp(t)
	content := []byte("sodium jar bytes")
	sum := sha1.Sum(content)
	hash := hex.EncodeToString(sum[:])

	project := modrinth.Project{ID: "AANobbMI", Slug: "sodium", Title: "Sodium", ProjectType: "mod"}
	ta.registry.projects[project.ID] = project
	ta.registry.byHash[hash] = modrinth.Version{ID: "v1", ProjectID: project.ID, VersionNumber: "0.5.3", Loaders: []string{"fabric"}}

	mods := ta.inventory.Dir("mod")
	require.NoError(t, os.WriteFile(filepath.Join(mods, "sodium.jar"+inventory.DisabledSuffix), content, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(mods, "unknown.jar"), []byte("not on modrinth"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(mods, "notes.txt"), []byte("ignored"), 0644))

	n, err := importInstalled(context.Background(), ta.app)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m, err := ta.inventory.Get("sodium")
	require.NoError(t, err)
	assert.Equal(t, "sodium.jar", m.FileName)
	assert.False(t, m.Enabled, "disabled suffix is kept as state")
	assert.Equal(t, "0.5.3", m.VersionNumber)
	assert.Equal(t, hash, m.LastVerifiedHash)

	rec, ok := ta.verifier.Lookup(filepath.Join(mods, "sodium.jar"+inventory.DisabledSuffix))
	require.True(t, ok)
	assert.Equal(t, hash, rec.Checksum)

	// a second scan finds nothing new
	n, err = importInstalled(context.Background(), ta.app)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRefreshDownloadsVerifiedUpdate(t *testing.T) {
	ta := newTestApp(t)
	project := modrinth.Project{ID: "P1", Slug: "lithium", Title: "Lithium", ProjectType: "mod", ServerSide: "required"}
	ta.registry.publish(ta.url, project, "v1", "0.11.1", "lithium-0.11.1.jar", []byte("old build"))

	r, err := ta.updater.Install(context.Background(), project, false)
	require.NoError(t, err)
	assert.Equal(t, updater.StatusInstalled, r.Status)

	ta.registry.publish(ta.url, project, "v2", "0.11.2", "lithium-0.11.2.jar", []byte("new build"))
	var progress []updater.Progress
	sum, err := ta.refresh(context.Background(), coordinator.Request{ServerPath: ta.cfg.MinecraftDir, Source: "test"}, func(p updater.Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 1, sum.Count(updater.StatusUpdated))

	mods := ta.inventory.Dir("mod")
	data, err := os.ReadFile(filepath.Join(mods, "lithium-0.11.2.jar"))
	require.NoError(t, err)
	assert.Equal(t, "new build", string(data))
	assert.NoFileExists(t, filepath.Join(mods, "lithium-0.11.1.jar"))

	res, err := ta.verifier.BatchVerify(context.Background(), []string{filepath.Join(mods, "lithium-0.11.2.jar")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Valid)

	r, err = ta.updater.Rollback(context.Background(), "lithium", ta.client)
	require.NoError(t, err)
	assert.Equal(t, updater.StatusRolledBack, r.Status)
	assert.FileExists(t, filepath.Join(mods, "lithium-0.11.1.jar"))
}

func TestVerifyAfterDisableAndRemove(t *testing.T) {
	ta := newTestApp(t)
	project := modrinth.Project{ID: "P3", Slug: "sodium", Title: "Sodium", ProjectType: "mod"}
	ta.registry.publish(ta.url, project, "v1", "mc1.20.1-0.5.3", "sodium.jar", []byte("sodium"))
	_, err := ta.updater.Install(context.Background(), project, false)
	require.NoError(t, err)

	m, err := ta.inventory.SetEnabled("sodium", false)
	require.NoError(t, err)
	disabled := ta.inventory.Path(*m)

	res, err := ta.verifier.BatchVerify(context.Background(), []string{disabled}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Valid, "a disabled file keeps its checksum record")

	_, err = ta.inventory.Remove("sodium", true)
	require.NoError(t, err)
	_, ok := ta.verifier.Lookup(disabled)
	assert.False(t, ok)
}

func TestRefreshWatchesIncompatibleMods(t *testing.T) {
	ta := newTestApp(t)
	project := modrinth.Project{ID: "P2", Slug: "iris", Title: "Iris", ProjectType: "mod"}
	ta.registry.publish(ta.url, project, "v1", "1.6.4", "iris.jar", []byte("iris"))
	_, err := ta.updater.Install(context.Background(), project, false)
	require.NoError(t, err)

	// the registry no longer offers anything for the target
	ta.registry.versions[project.ID] = nil
	sum, err := ta.refresh(context.Background(), coordinator.Request{ServerPath: ta.cfg.MinecraftDir}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Count(updater.StatusWatching))

	watches := ta.watcher.Registry().Watches(ta.cfg.MinecraftDir)
	require.Len(t, watches, 1)
	assert.Equal(t, "P2", watches[0].ProjectID)

	ta.registry.publish(ta.url, project, "v2", "1.7.0", "iris-1.7.jar", []byte("iris 1.7"))
	res := ta.watcher.CheckServer(context.Background(), ta.cfg.MinecraftDir)
	require.Len(t, res.Fulfilled, 1)
	assert.Equal(t, "1.7.0", res.Fulfilled[0].VersionFound)
	assert.Contains(t, ta.out.String(), "Iris 1.7.0 is now available for fabric 1.20.1")
}

func TestSummaryLine(t *testing.T) {
	sum := updater.Summary{Results: []updater.Result{
		{Status: updater.StatusUpdated},
		{Status: updater.StatusInstalled},
		{Status: updater.StatusUpToDate},
		{Status: updater.StatusFailed},
	}}
	want := "Checked 4: 2 updated, 0 reinstalled, 1 up to date, 0 watching, 0 not found, 1 failed"
	if got := summaryLine(sum); got != want {
		t.Errorf("summaryLine() = %q, want %q", got, want)
	}
}

func TestShort(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abc", "abc"},
		{"0123456789abcdef", "0123456789ab"},
	}
	for _, tt := range tests {
		if got := short(tt.in); got != tt.want {
			t.Errorf("short(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
