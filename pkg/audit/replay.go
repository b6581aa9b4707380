package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Masterminds/semver/v3"
	"github.com/xeipuuv/gojsonschema"
)

var ErrVersionMismatch = errors.New("snapshot format version not supported")

// maxLineBytes bounds one snapshot line; chunk texts are capped well
// below this by the chunker.
const maxLineBytes = 4 << 20

// Per-kind schemas. Validation runs before decoding into structs so a
// corrupted or hand-edited log fails fast with the offending line.
var recordSchemas = map[string]*gojsonschema.Schema{
	KindHeader: mustSchema(`{
		"type": "object",
		"required": ["kind", "format_version", "scope_id", "created_at"],
		"properties": {
			"kind": {"enum": ["header"]},
			"format_version": {"type": "string"},
			"scope_id": {"type": "string", "minLength": 1},
			"created_at": {"type": "string"}
		}
	}`),
	KindChunk: mustSchema(`{
		"type": "object",
		"required": ["kind", "chunk"],
		"properties": {
			"kind": {"enum": ["chunk"]},
			"chunk": {
				"type": "object",
				"required": ["id", "scope_id", "text"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"scope_id": {"type": "string", "minLength": 1},
					"text": {"type": "string"}
				}
			}
		}
	}`),
	KindNode: mustSchema(`{
		"type": "object",
		"required": ["kind", "node"],
		"properties": {
			"kind": {"enum": ["node"]},
			"node": {
				"type": "object",
				"required": ["id", "label", "status"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"label": {"type": "string", "minLength": 1},
					"status": {"enum": ["tentative", "stable"]}
				}
			}
		}
	}`),
	KindEvent: mustSchema(`{
		"type": "object",
		"required": ["kind", "event"],
		"properties": {
			"kind": {"enum": ["event"]},
			"event": {
				"type": "object",
				"required": ["id", "timestamp", "action"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"action": {"type": "string", "minLength": 1}
				}
			}
		}
	}`),
}

func mustSchema(doc string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("invalid snapshot record schema: %v", err))
	}
	return schema
}

// Read parses and validates a snapshot stream. Any integrity problem (bad
// JSON, schema violation, missing header, unsupported version) fails fast
// with the line number; a snapshot is either fully readable or rejected.
func Read(r io.Reader) (*Snapshot, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	snap := &Snapshot{}
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var probe struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("snapshot line %d: invalid JSON: %w", line, err)
		}
		schema, ok := recordSchemas[probe.Kind]
		if !ok {
			return nil, fmt.Errorf("snapshot line %d: unknown record kind %q", line, probe.Kind)
		}
		if err := validate(schema, raw); err != nil {
			return nil, fmt.Errorf("snapshot line %d: %w", line, err)
		}

		if line == 1 && probe.Kind != KindHeader {
			return nil, fmt.Errorf("snapshot line 1: expected header record, got %q", probe.Kind)
		}

		switch probe.Kind {
		case KindHeader:
			if line != 1 {
				return nil, fmt.Errorf("snapshot line %d: duplicate header", line)
			}
			if err := json.Unmarshal(raw, &snap.Header); err != nil {
				return nil, fmt.Errorf("snapshot line %d: %w", line, err)
			}
			if err := checkVersion(snap.Header.FormatVersion); err != nil {
				return nil, err
			}
		case KindChunk:
			var rec chunkRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, fmt.Errorf("snapshot line %d: %w", line, err)
			}
			snap.Chunks = append(snap.Chunks, rec.Chunk)
		case KindNode:
			var rec nodeRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, fmt.Errorf("snapshot line %d: %w", line, err)
			}
			snap.Nodes = append(snap.Nodes, rec.Node)
		case KindEvent:
			var rec eventRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, fmt.Errorf("snapshot line %d: %w", line, err)
			}
			snap.Events = append(snap.Events, rec.Event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if line == 0 {
		return nil, errors.New("snapshot is empty")
	}
	return snap, nil
}

func validate(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema violation: %v", msgs)
	}
	return nil
}

// checkVersion gates replay on the snapshot's major format version.
func checkVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid snapshot format version %q: %w", version, err)
	}
	supported := semver.MustParse(FormatVersion)
	if v.Major() != supported.Major() {
		return fmt.Errorf("%w: snapshot is %s, reader supports %d.x", ErrVersionMismatch, version, supported.Major())
	}
	return nil
}
