package db

import (
	"context"
	"fmt"

	"github.com/noahchander/labtree/internal/llm"
	"github.com/noahchander/labtree/internal/models"
)

// SearchStore pairs the database client with an embedder so text queries
// can be answered by the HNSW index. It satisfies the retrieval store
// contract.
type SearchStore struct {
	*Client
	embedder llm.TextEmbedder
}

// NewSearchStore wraps a client with query embedding support.
func NewSearchStore(client *Client, embedder llm.TextEmbedder) *SearchStore {
	return &SearchStore{Client: client, embedder: embedder}
}

// VectorSearch embeds the query text and searches chunk embeddings.
func (s *SearchStore) VectorSearch(ctx context.Context, query string, limit int, minSimilarity float64) ([]models.ScoredChunk, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.SearchVector(ctx, embedding, limit, minSimilarity)
}

// KeywordSearch answers a text query from the BM25 full-text index.
func (s *SearchStore) KeywordSearch(ctx context.Context, query string, limit int) ([]models.ScoredChunk, error) {
	return s.SearchFulltext(ctx, query, limit)
}
