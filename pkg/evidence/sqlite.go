package evidence

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// SQLiteBackend stores chunks in SQLite with a vec0 virtual table for
// nearest-neighbor search. Used for scopes configured to persist.
type SQLiteBackend struct {
	db        *sql.DB
	dimension int
}

// NewSQLiteBackend opens (or creates) the database at path for vectors of
// the given dimensionality.
func NewSQLiteBackend(path string, dimension int) (*SQLiteBackend, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent readers during harvesting
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	b := &SQLiteBackend{db: db, dimension: dimension}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			scope_id TEXT NOT NULL,
			text TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			start_idx INTEGER NOT NULL,
			end_idx INTEGER NOT NULL,
			split_algo TEXT NOT NULL,
			sources TEXT NOT NULL,
			concept_path TEXT NOT NULL DEFAULT '',
			embed_failed INTEGER NOT NULL DEFAULT 0,
			last_updated INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(concept_path);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return err
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
			chunk_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, b.dimension)
	if _, err := b.db.Exec(vectorSchema); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Add(ctx context.Context, chunk *Chunk) error {
	sources, err := json.Marshal(chunk.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lastUpdated int64
	if !chunk.LastUpdated.IsZero() {
		lastUpdated = chunk.LastUpdated.UTC().Unix()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, scope_id, text, token_count, start_idx, end_idx, split_algo,
			 sources, concept_path, embed_failed, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.ScopeID, chunk.Text, chunk.TokenCount,
		chunk.StartIdx, chunk.EndIdx, chunk.SplitAlgo,
		string(sources), chunk.ConceptPath, boolToInt(chunk.EmbedFailed),
		lastUpdated, chunk.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write chunk row: %w", err)
	}

	if !chunk.EmbedFailed && len(chunk.Embedding) > 0 {
		blob, err := sqlite_vec.SerializeFloat32(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		// vec0 virtual tables do not support OR REPLACE conflict resolution,
		// so emulate it with an explicit delete before the insert.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM embeddings WHERE chunk_id = ?", chunk.ID,
		); err != nil {
			return fmt.Errorf("failed to replace embedding row: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO embeddings (chunk_id, embedding) VALUES (?, ?)",
			chunk.ID, blob,
		)
		if err != nil {
			return fmt.Errorf("failed to write embedding row: %w", err)
		}
	}

	return tx.Commit()
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (*Chunk, bool, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, scope_id, text, token_count, start_idx, end_idx, split_algo,
		       sources, concept_path, embed_failed, last_updated, created_at
		FROM chunks WHERE id = ?`, id)

	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := b.loadEmbedding(ctx, chunk); err != nil {
		return nil, false, err
	}
	return chunk, true, nil
}

// loadEmbedding reads the vector back from the vec0 table. vec0 hands the
// column out as a raw little-endian float32 blob regardless of how the
// vector went in.
func (b *SQLiteBackend) loadEmbedding(ctx context.Context, chunk *Chunk) error {
	var blob []byte
	err := b.db.QueryRowContext(ctx,
		"SELECT embedding FROM embeddings WHERE chunk_id = ?", chunk.ID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	vec, err := deserializeFloat32(blob)
	if err != nil {
		return fmt.Errorf("corrupt embedding for chunk %s: %w", chunk.ID, err)
	}
	chunk.Embedding = vec
	return nil
}

func deserializeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

func (b *SQLiteBackend) Search(ctx context.Context, query []float32, k int, pathPrefix string) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	queryBlob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	// The subtree predicate runs in SQL so ranking happens inside the
	// filtered set, same as the in-memory backend.
	rows, err := b.db.QueryContext(ctx, `
		SELECT e.chunk_id, vec_distance_cosine(e.embedding, ?1) AS distance,
		       c.text, c.sources, c.concept_path, c.last_updated
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE ?2 = '' OR c.concept_path = ?2 OR c.concept_path LIKE ?2 || ' > %'
		ORDER BY distance ASC
		LIMIT ?3`, queryBlob, pathPrefix, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			chunkID, text, sourcesJSON, conceptPath string
			distance                                float64
			lastUpdated                             int64
		)
		if err := rows.Scan(&chunkID, &distance, &text, &sourcesJSON, &conceptPath, &lastUpdated); err != nil {
			return nil, err
		}

		var sources []Provenance
		if err := json.Unmarshal([]byte(sourcesJSON), &sources); err != nil {
			return nil, fmt.Errorf("corrupt sources for chunk %s: %w", chunkID, err)
		}

		hit := Hit{
			ChunkID:     chunkID,
			Score:       1.0 - distance, // cosine distance → similarity
			Snippet:     Snippet(text),
			Text:        text,
			ConceptPath: conceptPath,
		}
		if lastUpdated > 0 {
			hit.LastUpdated = time.Unix(lastUpdated, 0).UTC()
		}
		if len(sources) > 0 {
			hit.SourceURL = sources[0].URL
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Vectors are needed downstream for diversity selection
	for i := range hits {
		c := &Chunk{ID: hits[i].ChunkID}
		if err := b.loadEmbedding(ctx, c); err != nil {
			return nil, err
		}
		hits[i].Vector = c.Embedding
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (b *SQLiteBackend) Items(ctx context.Context) ([]*Chunk, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, scope_id, text, token_count, start_idx, end_idx, split_algo,
		       sources, concept_path, embed_failed, last_updated, created_at
		FROM chunks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, chunk := range items {
		if err := b.loadEmbedding(ctx, chunk); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (b *SQLiteBackend) Len(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

func (b *SQLiteBackend) Reset(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var (
		chunk       Chunk
		sourcesJSON string
		embedFailed int
		lastUpdated int64
		createdAt   int64
	)
	err := row.Scan(
		&chunk.ID, &chunk.ScopeID, &chunk.Text, &chunk.TokenCount,
		&chunk.StartIdx, &chunk.EndIdx, &chunk.SplitAlgo,
		&sourcesJSON, &chunk.ConceptPath, &embedFailed,
		&lastUpdated, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sourcesJSON), &chunk.Sources); err != nil {
		return nil, fmt.Errorf("corrupt sources for chunk %s: %w", chunk.ID, err)
	}
	chunk.EmbedFailed = embedFailed != 0
	if lastUpdated > 0 {
		chunk.LastUpdated = time.Unix(lastUpdated, 0).UTC()
	}
	chunk.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &chunk, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
