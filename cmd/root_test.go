package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestOfflineCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MINECRAFT_DIR", filepath.Join(dir, "server"))
	t.Setenv("MINECRAFT_VERSION", "1.20.1")
	t.Setenv("LOG_FILE", filepath.Join(dir, "modkeeper.log"))
	t.Setenv("WATCH_INTERVAL_HOURS", "24")

	assert.Contains(t, execute(t, "mods", "list", "-c", dir), "Nothing installed.")
	assert.Contains(t, execute(t, "watch", "list", "-c", dir), "No watches.")

	assert.Contains(t, execute(t, "watch", "interval", "12", "-c", dir), "every 12 hours")
	assert.Equal(t, "12h0m0s", strings.TrimSpace(execute(t, "watch", "interval", "-c", dir)), "chosen interval survives restarts")

	assert.Contains(t, execute(t, "verify", "alerts", "-c", dir), "No corruption alerts.")
	assert.Contains(t, execute(t, "report", "-c", dir), "No failures recorded")
}
