package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Named indices backing the retrieval service. Supplier and item history
// feed the analysis tools; the example indices feed document-stage style
// references.
const (
	IndexSupplierHistory  = "supplier_history"
	IndexItemHistory      = "item_history"
	IndexAnalysisExamples = "analysis_examples"
	IndexRequestExamples  = "request_examples"
	IndexEmailExamples    = "email_examples"
)

// KnownIndices lists every collection the store manages.
var KnownIndices = []string{
	IndexSupplierHistory,
	IndexItemHistory,
	IndexAnalysisExamples,
	IndexRequestExamples,
	IndexEmailExamples,
}

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	PersistPath string // empty for in-memory
}

// Document represents a stored document.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult pairs a document with its similarity score.
type SearchResult struct {
	Document   Document
	Similarity float32
}

// Store manages the named chromem-go collections.
type Store struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	embedder    Embedder
}

// NewStore creates the vector store and its named collections.
func NewStore(config StoreConfig, embedder Embedder) (*Store, error) {
	var db *chromem.DB
	var err error

	if config.PersistPath != "" {
		persistFile := filepath.Join(config.PersistPath, "chromem.gob")
		db, err = chromem.NewPersistentDB(persistFile, false)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collections := make(map[string]*chromem.Collection, len(KnownIndices))
	for _, name := range KnownIndices {
		collection, err := db.GetOrCreateCollection(name, nil, embeddingFunc)
		if err != nil {
			return nil, fmt.Errorf("create collection %s: %w", name, err)
		}
		collections[name] = collection
	}

	return &Store{
		db:          db,
		collections: collections,
		embedder:    embedder,
	}, nil
}

func (s *Store) collection(index string) (*chromem.Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[index]
	return c, ok
}

// Add adds documents to the named index.
func (s *Store) Add(ctx context.Context, index string, docs []Document) error {
	collection, ok := s.collection(index)
	if !ok {
		return fmt.Errorf("unknown index: %s", index)
	}
	for _, doc := range docs {
		err := collection.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Query performs similarity search against the named index. An unknown
// index or an empty collection yields an empty result, not an error.
func (s *Store) Query(ctx context.Context, index, query string, topK int) ([]SearchResult, error) {
	collection, ok := s.collection(index)
	if !ok {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	// chromem rejects queries asking for more results than stored documents.
	if count := collection.Count(); count < topK {
		if count == 0 {
			return nil, nil
		}
		topK = count
	}

	results, err := collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", index, err)
	}

	searchResults := make([]SearchResult, 0, len(results))
	for _, r := range results {
		searchResults = append(searchResults, SearchResult{
			Document: Document{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: r.Metadata,
			},
			Similarity: r.Similarity,
		})
	}
	return searchResults, nil
}

// Count returns the document count of the named index, 0 when unknown.
func (s *Store) Count(index string) int {
	collection, ok := s.collection(index)
	if !ok {
		return 0
	}
	return collection.Count()
}

// Counts returns per-index document counts.
func (s *Store) Counts() map[string]int {
	counts := make(map[string]int, len(KnownIndices))
	for _, name := range KnownIndices {
		counts[name] = s.Count(name)
	}
	return counts
}
