package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnsureRegisteredIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
}

func TestRecorders(t *testing.T) {
	EnsureRegistered()

	assert.NotPanics(t, func() {
		RecordUpsert(5 * time.Millisecond)
		RecordSearch(5 * time.Millisecond)
		RecordConceptInsert(5 * time.Millisecond)
		RecordRetrieve(5 * time.Millisecond)
		SetChunks(10)
		SetConceptNodes(3)
		SetActiveScopes(1)
		RecordEmbedCacheHit()
		RecordEmbedCacheMiss()
		RecordRerankSkipped()
		RecordDroppedHit()
		RecordEmbedFailure()
		RecordSnapshotWrite()
	})
}

func TestHandler(t *testing.T) {
	assert.NotNil(t, Handler())
}
