package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayCommand(t *testing.T) {
	t.Run("rebuilds scope from snapshot", func(t *testing.T) {
		cfgPath, _ := writeTestConfig(t)
		snapPath := writeTestSnapshot(t)
		dataDir := t.TempDir()

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"replay", "--config", cfgPath, "--data-dir", dataDir, snapPath})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		assert.Contains(t, output.String(), "replayed scope cwv-task")
		assert.Contains(t, output.String(), "2 chunk(s)")

		// The persistent store lands next to the snapshots.
		assert.FileExists(t, filepath.Join(dataDir, "cwv-task.db"))
	})

	t.Run("rejects missing snapshot", func(t *testing.T) {
		cfgPath, _ := writeTestConfig(t)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"replay", "--config", cfgPath, filepath.Join(t.TempDir(), "missing.jsonl")})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		assert.Error(t, cmd.Execute())
	})
}
