package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyv/researchmem/internal/config"
	"github.com/tobyv/researchmem/internal/logger"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.MetricsAddr = ""
	cfg.Embedding.Dimension = 64

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	d, err := New(cfg, log)
	require.NoError(t, err)
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t)

	require.NoError(t, d.Start(nil))
	status := d.Status()
	assert.True(t, status.Running)

	pidFile := PIDFilePath(d.config.DataDir)
	pid, err := ReadPID(pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)

	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestDaemonDoubleStart(t *testing.T) {
	d := newTestDaemon(t)

	require.NoError(t, d.Start(nil))
	assert.Error(t, d.Start(nil))
	require.NoError(t, d.Stop())
	assert.Error(t, d.Stop())
}

func TestDaemonCreateScope(t *testing.T) {
	d := newTestDaemon(t)
	require.NoError(t, d.Start(nil))
	defer func() { _ = d.Stop() }()

	ctx := context.Background()
	s, err := d.CreateScope(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, s)

	status := d.Status()
	assert.Equal(t, []string{"task-1"}, status.Scopes)
}

func TestDaemonHotReloadsMemoryKnobs(t *testing.T) {
	d := newTestDaemon(t)

	next := *d.config
	next.Memory.K = 12
	next.Memory.PromotionThreshold = 5
	d.applyConfig(&next)

	mem := d.MemoryConfig()
	assert.Equal(t, 12, mem.K)
	assert.Equal(t, 5, mem.PromotionThreshold)
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "researchmem.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0644))

	_, err := ReadPID(pidFile)
	assert.Error(t, err)
}

func TestIsRunningForCurrentProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "researchmem.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("4194300"), 0644))
	assert.False(t, IsRunning(pidFile))

	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644))
	assert.True(t, IsRunning(pidFile))
}
