package rag

import (
	"context"
	"hash/fnv"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder derives a deterministic unit vector from the text hash, so
// identical texts embed identically and tests need no backend.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, 8)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)) / float32(1<<30)
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{}, fakeEmbedder{})
	require.NoError(t, err)
	return store
}

func TestStoreAddAndQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	docs := []Document{
		{ID: "s1", Content: "SupplierA delivered late twice in Q3", Metadata: map[string]string{"year": "2025"}},
		{ID: "s2", Content: "SupplierA raised prices by 4 percent"},
		{ID: "s3", Content: "SupplierB had a quality incident"},
	}
	require.NoError(t, store.Add(ctx, IndexSupplierHistory, docs))
	assert.Equal(t, 3, store.Count(IndexSupplierHistory))

	results, err := store.Query(ctx, IndexSupplierHistory, "SupplierA delivered late twice in Q3", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// An identical text embeds identically, so it ranks first.
	assert.Equal(t, "s1", results[0].Document.ID)
	assert.Equal(t, "2025", results[0].Document.Metadata["year"])
}

func TestStoreQueryClampsTopK(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Add(ctx, IndexItemHistory, []Document{
		{ID: "i1", Content: "item 100000 stocked out in June"},
	}))

	// Asking for more results than stored must not error.
	results, err := store.Query(ctx, IndexItemHistory, "stock outs", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestStoreUnknownIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	results, err := store.Query(ctx, "no_such_index", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.Error(t, store.Add(ctx, "no_such_index", []Document{{ID: "x", Content: "y"}}))
	assert.Zero(t, store.Count("no_such_index"))
}

func TestStoreEmptyCollection(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	results, err := store.Query(context.Background(), IndexEmailExamples, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStoreCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Add(ctx, IndexAnalysisExamples, []Document{
		{ID: "a1", Content: "example analysis"},
	}))

	counts := store.Counts()
	assert.Len(t, counts, len(KnownIndices))
	assert.Equal(t, 1, counts[IndexAnalysisExamples])
	assert.Zero(t, counts[IndexSupplierHistory])
}

func TestRetrieverSearch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	retriever := NewRetriever(store)

	require.NoError(t, store.Add(ctx, IndexEmailExamples, []Document{
		{ID: "e1", Content: "Dear supplier, we noticed delays."},
	}))

	docs, err := retriever.Search(ctx, IndexEmailExamples, "supplier email tone", 2)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "e1", docs[0].ID)

	// A blank query is a no-op, not an error.
	docs, err = retriever.Search(ctx, IndexEmailExamples, "   ", 2)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestJoinContents(t *testing.T) {
	t.Parallel()

	assert.Empty(t, JoinContents(nil))
	assert.Equal(t, "a\n\nb", JoinContents([]Document{
		{Content: "a"},
		{Content: "   "},
		{Content: "b"},
	}))
}

func TestIndexerIngest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	indexer := NewIndexer(store)

	stats, err := indexer.Ingest(ctx, IndexRequestExamples, []IngestDocument{
		{Content: "purchase request example one"},
		{ID: "fixed-id", Content: "purchase request example two"},
		{Content: "   "}, // skipped
	})
	require.NoError(t, err)

	assert.Equal(t, IndexRequestExamples, stats.Index)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, store.Count(IndexRequestExamples))

	_, err = indexer.Ingest(ctx, "no_such_index", []IngestDocument{{Content: "x"}})
	assert.Error(t, err)
}
