package rag

import (
	"context"
	"strings"
)

// Retriever is the read side of the retrieval service: similarity search
// over one of the named indices. Nothing matching yields an empty slice,
// never an error.
type Retriever struct {
	store *Store
}

// NewRetriever creates a retriever over the store.
func NewRetriever(store *Store) *Retriever {
	return &Retriever{store: store}
}

// Search returns up to k documents from the named index ranked by
// similarity to the query.
func (r *Retriever) Search(ctx context.Context, index, query string, k int) ([]Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	results, err := r.store.Query(ctx, index, query, k)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(results))
	for _, sr := range results {
		docs = append(docs, sr.Document)
	}
	return docs, nil
}

// JoinContents concatenates document texts for prompt consumption.
func JoinContents(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if text := strings.TrimSpace(d.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}
