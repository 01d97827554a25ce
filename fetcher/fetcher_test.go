package fetcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"modkeeper/config"
	"modkeeper/errs"
	"modkeeper/integrity"
	"modkeeper/modrinth"
	"modkeeper/monitor"
	"modkeeper/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []monitor.Event
}

func (c *captureRecorder) Record(ev monitor.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureRecorder) all() []monitor.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]monitor.Event(nil), c.events...)
}

type harness struct {
	fetcher  *Fetcher
	verifier *integrity.Verifier
	recorder *captureRecorder
	server   *httptest.Server
	dir      string
}

func newHarness(t *testing.T, timeout time.Duration, handler http.HandlerFunc) *harness {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := modrinth.NewClient(config.Config{UserAgent: "modkeeper-test"})
	require.NoError(t, err)

	fs, err := store.NewFileStore(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	rec := &captureRecorder{}
	v := integrity.New(fs, rec, zap.NewNop().Sugar())
	return &harness{
		fetcher:  New(client, v, rec, zap.NewNop().Sugar(), timeout),
		verifier: v,
		recorder: rec,
		server:   srv,
		dir:      filepath.Join(t.TempDir(), "mods"),
	}
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func serve(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}
}

func TestFetchVerifiedDownload(t *testing.T) {
	h := newHarness(t, 0, serve("sodium bytes"))

	path, err := h.fetcher.Fetch(context.Background(), h.server.URL+"/sodium.jar", h.dir, "sodium.jar",
		&Expected{Checksum: sha1Hex("sodium bytes"), Algorithm: integrity.SHA1})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, "sodium.jar"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sodium bytes", string(data))
	assert.Equal(t, []string{"sodium.jar"}, listDir(t, h.dir), "no temp files left behind")

	rec, ok := h.verifier.Lookup(path)
	require.True(t, ok)
	assert.Equal(t, sha1Hex("sodium bytes"), rec.Checksum)
	assert.Equal(t, h.server.URL+"/sodium.jar", rec.Metadata["url"])
}

func TestFetchWithoutExpectedHash(t *testing.T) {
	h := newHarness(t, 0, serve("bytes"))
	path, err := h.fetcher.Fetch(context.Background(), h.server.URL+"/a.jar", h.dir, "a.jar", nil)
	require.NoError(t, err)

	_, ok := h.verifier.Lookup(path)
	assert.False(t, ok)
}

func TestFetchMismatchKeepsExistingFile(t *testing.T) {
	h := newHarness(t, 0, serve("corrupted bytes"))
	require.NoError(t, os.MkdirAll(h.dir, 0755))
	existing := filepath.Join(h.dir, "sodium.jar")
	require.NoError(t, os.WriteFile(existing, []byte("old good bytes"), 0644))

	_, err := h.fetcher.Fetch(context.Background(), h.server.URL+"/sodium.jar", h.dir, "sodium.jar",
		&Expected{Checksum: sha1Hex("expected bytes"), Algorithm: integrity.SHA1})
	require.Error(t, err)
	assert.True(t, errs.IsIntegrity(err))

	var mismatch *integrity.MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, existing, mismatch.FilePath)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old good bytes", string(data), "update must not clobber the installed file")
	assert.Equal(t, []string{"sodium.jar"}, listDir(t, h.dir))

	alerts := h.verifier.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, existing, alerts[0].FilePath)

	events := h.recorder.all()
	require.Len(t, events, 1, "the mismatch is reported once, by the verifier")
	assert.Equal(t, "integrity", events[0].Source)
}

func TestFetchTimeout(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "partial")
		w.(http.Flusher).Flush()
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	})

	_, err := h.fetcher.Fetch(context.Background(), h.server.URL+"/slow.jar", h.dir, "slow.jar", nil)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err), err.Error())
	assert.Empty(t, listDir(t, h.dir), "partial file discarded")

	events := h.recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, "network_timeout", events[0].Type)
	assert.Equal(t, monitor.CategoryTimeout, events[0].Category)
}

func TestFetchHTTPErrors(t *testing.T) {
	h := newHarness(t, 0, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.jar" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := h.fetcher.Fetch(context.Background(), h.server.URL+"/gone.jar", h.dir, "gone.jar", nil)
	assert.True(t, errs.IsNotFound(err))

	_, err = h.fetcher.Fetch(context.Background(), h.server.URL+"/broken.jar", h.dir, "broken.jar", nil)
	assert.True(t, errs.IsTransient(err))

	events := h.recorder.all()
	require.Len(t, events, 2)
	assert.Equal(t, "http_status", events[0].Type)
	assert.Equal(t, 404, events[0].StatusCode)
	assert.Equal(t, monitor.CategoryServerError, events[1].Category)
}

func TestFetchValidation(t *testing.T) {
	h := newHarness(t, 0, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid input")
	})

	for _, name := range []string{"", "..", "../escape.jar", "dir/inner.jar"} {
		_, err := h.fetcher.Fetch(context.Background(), h.server.URL+"/x.jar", h.dir, name, nil)
		assert.True(t, errs.IsValidation(err), name)
	}
	_, err := h.fetcher.Fetch(context.Background(), "", h.dir, "x.jar", nil)
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, h.recorder.all())
}
