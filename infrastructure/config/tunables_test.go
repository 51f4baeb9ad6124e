package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeTunablesFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tunables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTunables_PartialFileKeepsDefaults(t *testing.T) {
	path := writeTunablesFile(t, t.TempDir(), "maxSubgraphNodes: 200\n")

	tunables, err := loadTunables(path)
	require.NoError(t, err)

	assert.Equal(t, 200, tunables.MaxSubgraphNodes)
	assert.Equal(t, DefaultTunables().MaxSubgraphDepth, tunables.MaxSubgraphDepth)
	assert.Equal(t, DefaultTunables().StreamThrottleMS, tunables.StreamThrottleMS)
}

func TestLoadTunables_RejectsInvalidValues(t *testing.T) {
	path := writeTunablesFile(t, t.TempDir(), "maxSubgraphDepth: -1\n")

	_, err := loadTunables(path)
	assert.Error(t, err)
}

func TestLoadTunables_RejectsMalformedYAML(t *testing.T) {
	path := writeTunablesFile(t, t.TempDir(), "maxSubgraphDepth: [oops\n")

	_, err := loadTunables(path)
	assert.Error(t, err)
}

func TestTunablesWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeTunablesFile(t, dir, "maxSubgraphNodes: 100\n")

	watcher, err := NewTunablesWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer watcher.Stop()

	assert.Equal(t, 100, watcher.Current().MaxSubgraphNodes)

	require.NoError(t, os.WriteFile(path, []byte("maxSubgraphNodes: 250\n"), 0o644))

	assert.Eventually(t, func() bool {
		return watcher.Current().MaxSubgraphNodes == 250
	}, 3*time.Second, 20*time.Millisecond)
}

func TestTunablesWatcher_KeepsSnapshotOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := writeTunablesFile(t, dir, "maxSubgraphNodes: 100\n")

	watcher, err := NewTunablesWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte("maxSubgraphNodes: 0\n"), 0o644))

	// The invalid write must not clobber the running snapshot
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 100, watcher.Current().MaxSubgraphNodes)
}

func TestStreamThrottleDuration(t *testing.T) {
	tunables := Tunables{StreamThrottleMS: 250}
	assert.Equal(t, 250*time.Millisecond, tunables.StreamThrottleDuration())
}
