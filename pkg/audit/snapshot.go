package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/tobyv/researchmem/internal/observability"
	"github.com/tobyv/researchmem/pkg/concept"
	"github.com/tobyv/researchmem/pkg/evidence"
)

// FormatVersion is the snapshot wire version. Readers accept any snapshot
// sharing the same major version.
const FormatVersion = "1.0.0"

// Record kinds, one per JSONL line.
const (
	KindHeader = "header"
	KindChunk  = "chunk"
	KindNode   = "node"
	KindEvent  = "event"
)

// Header is the first line of every snapshot.
type Header struct {
	Kind          string    `json:"kind"`
	FormatVersion string    `json:"format_version"`
	ScopeID       string    `json:"scope_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type chunkRecord struct {
	Kind  string          `json:"kind"`
	Chunk *evidence.Chunk `json:"chunk"`
}

type nodeRecord struct {
	Kind string        `json:"kind"`
	Node *concept.Node `json:"node"`
}

type eventRecord struct {
	Kind  string        `json:"kind"`
	Event concept.Event `json:"event"`
}

// Snapshot is the parsed content of one snapshot stream.
type Snapshot struct {
	Header Header
	Chunks []*evidence.Chunk
	Nodes  []*concept.Node
	Events []concept.Event
}

// Write serializes a complete, replayable record of a scope's chunks and
// concept state to the sink as one JSON record per line. The stream is
// append-only: a header line, then chunk, node, and event records.
func Write(sink io.Writer, scopeID string, chunks []*evidence.Chunk, nodes []*concept.Node, events []concept.Event) error {
	enc := json.NewEncoder(sink)

	header := Header{
		Kind:          KindHeader,
		FormatVersion: FormatVersion,
		ScopeID:       scopeID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	for _, c := range chunks {
		if err := enc.Encode(chunkRecord{Kind: KindChunk, Chunk: c}); err != nil {
			return fmt.Errorf("write chunk record %s: %w", c.ID, err)
		}
	}
	for _, n := range nodes {
		if err := enc.Encode(nodeRecord{Kind: KindNode, Node: n}); err != nil {
			return fmt.Errorf("write node record %s: %w", n.ID, err)
		}
	}
	for _, ev := range events {
		if err := enc.Encode(eventRecord{Kind: KindEvent, Event: ev}); err != nil {
			return fmt.Errorf("write event record %s: %w", ev.ID, err)
		}
	}

	observability.RecordSnapshotWrite()
	return nil
}
