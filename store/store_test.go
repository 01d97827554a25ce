package store

import (
	"path/filepath"
	"testing"

	"modkeeper/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "docs"))
	require.NoError(t, err)

	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })

	return map[string]Store{"file": fs, "db": NewDBStore(conn)}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var got sample
			assert.ErrorIs(t, s.Load("servers/a/watches.json", &got), ErrNotFound)

			require.NoError(t, s.Save("servers/a/watches.json", sample{Name: "first", Items: []string{"x"}}))
			require.NoError(t, s.Save("servers/a/watches.json", sample{Name: "second"}))

			require.NoError(t, s.Load("servers/a/watches.json", &got))
			assert.Equal(t, "second", got.Name)
			assert.Empty(t, got.Items)

			require.NoError(t, s.Delete("servers/a/watches.json"))
			assert.ErrorIs(t, s.Load("servers/a/watches.json", &got), ErrNotFound)
			assert.NoError(t, s.Delete("servers/a/watches.json"))
		})
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside.json", "/etc/passwd"} {
		assert.Error(t, fs.Save(key, sample{}), key)
	}
}
