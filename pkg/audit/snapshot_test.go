package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyv/researchmem/pkg/concept"
	"github.com/tobyv/researchmem/pkg/embedding"
	"github.com/tobyv/researchmem/pkg/evidence"
)

func buildFixture(t *testing.T) ([]*evidence.Chunk, []*concept.Node, []concept.Event) {
	t.Helper()
	ctx := context.Background()

	chunks := []*evidence.Chunk{
		{
			ID:      "sha256:aa",
			ScopeID: "scope-1",
			Text:    "CLS is a layout metric",
			Sources: []evidence.Provenance{
				{URL: "https://web.dev/cls"},
				{URL: "https://example.com/mirror"},
			},
			Embedding:   []float32{0.1, 0.9},
			LastUpdated: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	emb := embedding.NewHashingProvider(64, "test")
	idx, err := concept.NewIndex(ctx, "scope-1", concept.DefaultConfig(), emb, concept.NewHeuristicComparator(), zerolog.Nop())
	require.NoError(t, err)
	_, err = idx.Insert(ctx, "Core Web Vitals")
	require.NoError(t, err)
	_, err = idx.Insert(ctx, "layout shift details for core web vitals")
	require.NoError(t, err)

	return chunks, idx.Nodes(), idx.Events()
}

func TestSnapshotRoundTrip(t *testing.T) {
	chunks, nodes, events := buildFixture(t)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "scope-1", chunks, nodes, events))

	snap, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, "scope-1", snap.Header.ScopeID)
	assert.Equal(t, FormatVersion, snap.Header.FormatVersion)

	require.Len(t, snap.Chunks, 1)
	assert.Equal(t, chunks[0].ID, snap.Chunks[0].ID)
	assert.Equal(t, chunks[0].Sources, snap.Chunks[0].Sources)

	require.Len(t, snap.Nodes, len(nodes))
	for i, n := range nodes {
		assert.Equal(t, n.ID, snap.Nodes[i].ID)
		assert.Equal(t, n.ParentID, snap.Nodes[i].ParentID)
		assert.Equal(t, n.Children, snap.Nodes[i].Children)
		assert.Equal(t, n.Status, snap.Nodes[i].Status)
	}
	assert.Len(t, snap.Events, len(events))
}

func TestReplayRebuildsEquivalentIndex(t *testing.T) {
	_, nodes, events := buildFixture(t)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "scope-1", nil, nodes, events))
	snap, err := Read(&buf)
	require.NoError(t, err)

	emb := embedding.NewHashingProvider(64, "test")
	restored, err := concept.NewIndex(context.Background(), "scope-1", concept.DefaultConfig(), emb, concept.NewHeuristicComparator(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap.Nodes, snap.Events))

	got := restored.Nodes()
	require.Len(t, got, len(nodes))
	for i := range nodes {
		assert.Equal(t, nodes[i].ID, got[i].ID)
		assert.Equal(t, nodes[i].ParentID, got[i].ParentID)
		assert.Equal(t, nodes[i].Children, got[i].Children)
	}
}

func TestReadRejectsMissingHeader(t *testing.T) {
	in := `{"kind":"event","event":{"id":"x","timestamp":"2026-03-01T00:00:00Z","action":"insert"}}` + "\n"
	_, err := Read(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header")
}

func TestReadRejectsUnknownKind(t *testing.T) {
	chunks, nodes, events := buildFixture(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "scope-1", chunks, nodes, events))
	buf.WriteString(`{"kind":"mystery"}` + "\n")

	_, err := Read(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown record kind")
}

func TestReadRejectsSchemaViolation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "scope-1", nil, nil, nil))
	// A chunk with no id violates the record schema.
	buf.WriteString(`{"kind":"chunk","chunk":{"scope_id":"scope-1","text":"x"}}` + "\n")

	_, err := Read(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema violation")
}

func TestReadRejectsMajorVersionMismatch(t *testing.T) {
	in := `{"kind":"header","format_version":"2.0.0","scope_id":"scope-1","created_at":"2026-03-01T00:00:00Z"}` + "\n"
	_, err := Read(strings.NewReader(in))
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestReadAcceptsNewerMinorVersion(t *testing.T) {
	in := `{"kind":"header","format_version":"1.7.2","scope_id":"scope-1","created_at":"2026-03-01T00:00:00Z"}` + "\n"
	snap, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, "1.7.2", snap.Header.FormatVersion)
}

func TestReadRejectsEmptyStream(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	assert.Error(t, err)
}
