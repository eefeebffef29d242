package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"procura/internal/logging"
)

// IngestDocument is one document submitted through the ingest API.
type IngestDocument struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IngestStats summarizes one ingest call.
type IngestStats struct {
	Index   string `json:"index"`
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
	Total   int    `json:"total_in_index"`
}

// Indexer writes reference documents into the named indices.
type Indexer struct {
	store  *Store
	logger logging.Logger
}

// NewIndexer creates an indexer over the store.
func NewIndexer(store *Store) *Indexer {
	return &Indexer{
		store:  store,
		logger: logging.NewComponentLogger("rag-indexer"),
	}
}

// Ingest adds documents to the named index. Documents without an ID get a
// generated one; documents with empty content are skipped.
func (idx *Indexer) Ingest(ctx context.Context, index string, docs []IngestDocument) (*IngestStats, error) {
	stats := &IngestStats{Index: index}

	batch := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			stats.Skipped++
			continue
		}
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch = append(batch, Document{
			ID:       id,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}

	if err := idx.store.Add(ctx, index, batch); err != nil {
		return nil, fmt.Errorf("ingest into %s: %w", index, err)
	}

	stats.Added = len(batch)
	stats.Total = idx.store.Count(index)
	idx.logger.Info("ingested %d document(s) into %s (%d skipped, %d total)",
		stats.Added, index, stats.Skipped, stats.Total)
	return stats, nil
}
