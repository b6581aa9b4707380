package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyv/researchmem/pkg/audit"
	"github.com/tobyv/researchmem/pkg/concept"
	"github.com/tobyv/researchmem/pkg/evidence"
)

func writeTestSnapshot(t *testing.T) string {
	t.Helper()

	chunks := []*evidence.Chunk{
		{
			ID:          "abc123",
			ScopeID:     "cwv-task",
			Text:        "Largest Contentful Paint measures render time of the largest element.",
			Sources:     []evidence.Provenance{{URL: "https://web.dev/lcp", Selector: "main"}},
			ConceptPath: "Core Web Vitals > LCP",
			LastUpdated: time.Now().UTC(),
			CreatedAt:   time.Now().UTC(),
		},
		{
			ID:          "def456",
			ScopeID:     "cwv-task",
			Text:        "Cumulative Layout Shift quantifies unexpected layout movement.",
			Sources:     []evidence.Provenance{{URL: "https://web.dev/cls", Selector: "main"}},
			ConceptPath: "Core Web Vitals > CLS",
			LastUpdated: time.Now().UTC(),
			CreatedAt:   time.Now().UTC(),
		},
	}
	nodes := []*concept.Node{
		{ID: concept.RootID, Label: "root", Status: concept.StatusStable},
	}

	path := filepath.Join(t.TempDir(), "snap.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, audit.Write(f, "cwv-task", chunks, nodes, nil))
	return path
}

func TestInspectCommand(t *testing.T) {
	t.Run("summarizes snapshot", func(t *testing.T) {
		path := writeTestSnapshot(t)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"inspect", path})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		text := output.String()
		assert.Contains(t, text, "cwv-task")
		assert.Contains(t, text, "chunks:         2")
		assert.Contains(t, text, "Core Web Vitals > LCP")
		assert.Contains(t, text, "Core Web Vitals > CLS")
	})

	t.Run("missing file", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"inspect", filepath.Join(t.TempDir(), "nope.jsonl")})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		assert.Error(t, cmd.Execute())
	})

	t.Run("rejects malformed snapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.jsonl")
		require.NoError(t, os.WriteFile(path, []byte("{\"kind\":\"chunk\"}\n"), 0644))

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"inspect", path})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		assert.Error(t, cmd.Execute())
	})
}
