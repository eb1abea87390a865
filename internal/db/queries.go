package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/noahchander/labtree/internal/models"
)

// chunkRecord is the stored form of a document chunk.
type chunkRecord struct {
	ID         surrealmodels.RecordID `json:"id,omitempty"`
	DocumentID string                 `json:"document_id"`
	Heading    string                 `json:"heading,omitempty"`
	Content    string                 `json:"content"`
	Similarity float64                `json:"similarity,omitempty"`
}

// proposedNodeRecord is the stored form of a proposed node.
type proposedNodeRecord struct {
	ID         surrealmodels.RecordID `json:"id,omitempty"`
	Title      string                 `json:"title"`
	NodeJSON   string                 `json:"node_json"`
	Status     string                 `json:"status"`
	Confidence float64                `json:"confidence"`
	Provenance *models.Provenance     `json:"provenance,omitempty"`
}

func recordString(id surrealmodels.RecordID) string {
	if s, ok := id.ID.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id.ID)
}

func (r chunkRecord) toScored() models.ScoredChunk {
	return models.ScoredChunk{
		ID:         recordString(r.ID),
		DocumentID: r.DocumentID,
		Content:    r.Content,
		Heading:    r.Heading,
		Similarity: r.Similarity,
	}
}

func firstResult[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

// UpsertDocument stores a document keyed by source ID. The full payload
// is kept so the feed can be re-extracted without the original files.
func (c *Client) UpsertDocument(ctx context.Context, doc models.StructuredDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("document", $id) SET
			source_id = $id,
			file_name = $file_name,
			doc_type = $doc_type,
			section_count = $section_count,
			payload = $payload
	`, map[string]any{
		"id":            doc.SourceID,
		"file_name":     doc.FileName,
		"doc_type":      doc.Type,
		"section_count": len(doc.Sections),
		"payload":       string(payload),
	})
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// Documents returns every stored document in creation order.
func (c *Client) Documents(ctx context.Context) ([]models.StructuredDocument, error) {
	type documentRecord struct {
		Payload string `json:"payload,omitempty"`
	}
	results, err := surrealdb.Query[[]documentRecord](ctx, c.db, `
		SELECT payload FROM document ORDER BY created ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var out []models.StructuredDocument
	for _, r := range firstResult(results) {
		if r.Payload == "" {
			continue
		}
		var doc models.StructuredDocument
		if err := json.Unmarshal([]byte(r.Payload), &doc); err != nil {
			return nil, fmt.Errorf("decode stored document: %w", err)
		}
		out = append(out, doc)
	}
	return out, nil
}

// InsertChunk stores one chunk of document text with its embedding.
func (c *Client) InsertChunk(ctx context.Context, documentID, heading, content string, embedding []float32) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE chunk SET
			document_id = $document_id,
			heading = $heading,
			content = $content,
			embedding = $embedding
	`, map[string]any{
		"document_id": documentID,
		"heading":     heading,
		"content":     content,
		"embedding":   embedding,
	})
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// ChunksByDocument returns every stored chunk of one document.
func (c *Client) ChunksByDocument(ctx context.Context, documentID string) ([]models.ScoredChunk, error) {
	results, err := surrealdb.Query[[]chunkRecord](ctx, c.db, `
		SELECT id, document_id, heading, content FROM chunk
		WHERE document_id = $document_id
	`, map[string]any{"document_id": documentID})
	if err != nil {
		return nil, fmt.Errorf("chunks by document: %w", err)
	}

	records := firstResult(results)
	out := make([]models.ScoredChunk, len(records))
	for i, r := range records {
		out[i] = r.toScored()
	}
	return out, nil
}

// SearchVector runs an HNSW similarity search over chunk embeddings,
// dropping results below minSimilarity.
func (c *Client) SearchVector(ctx context.Context, embedding []float32, limit int, minSimilarity float64) ([]models.ScoredChunk, error) {
	sql := fmt.Sprintf(`
		SELECT id, document_id, heading, content,
			vector::similarity::cosine(embedding, $emb) AS similarity
		FROM chunk
		WHERE embedding <|%d,40|> $emb
		ORDER BY similarity DESC
	`, limit)

	results, err := surrealdb.Query[[]chunkRecord](ctx, c.db, sql, map[string]any{"emb": embedding})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var out []models.ScoredChunk
	for _, r := range firstResult(results) {
		if r.Similarity < minSimilarity {
			continue
		}
		out = append(out, r.toScored())
	}
	return out, nil
}

// SearchFulltext runs a BM25 full-text search over chunk content.
func (c *Client) SearchFulltext(ctx context.Context, query string, limit int) ([]models.ScoredChunk, error) {
	results, err := surrealdb.Query[[]chunkRecord](ctx, c.db, `
		SELECT id, document_id, heading, content FROM chunk
		WHERE content @0@ $q
		LIMIT $limit
	`, map[string]any{"q": query, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}

	records := firstResult(results)
	out := make([]models.ScoredChunk, len(records))
	for i, r := range records {
		out[i] = r.toScored()
	}
	return out, nil
}

// ChunksMatching returns chunks whose content contains the phrase.
func (c *Client) ChunksMatching(ctx context.Context, phrase string, limit int) ([]models.ScoredChunk, error) {
	results, err := surrealdb.Query[[]chunkRecord](ctx, c.db, `
		SELECT id, document_id, heading, content FROM chunk
		WHERE string::contains(string::lowercase(content), string::lowercase($phrase))
		LIMIT $limit
	`, map[string]any{"phrase": phrase, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("chunks matching: %w", err)
	}

	records := firstResult(results)
	out := make([]models.ScoredChunk, len(records))
	for i, r := range records {
		out[i] = r.toScored()
	}
	return out, nil
}

// InsertProposedNode stores one proposed node and returns its record ID.
func (c *Client) InsertProposedNode(ctx context.Context, node models.ProposedNode) (string, error) {
	var title struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(node.NodeJSON, &title); err != nil {
		return "", fmt.Errorf("proposed node payload: %w", err)
	}

	results, err := surrealdb.Query[[]proposedNodeRecord](ctx, c.db, `
		CREATE proposed_node SET
			title = $title,
			node_json = $node_json,
			status = $status,
			confidence = $confidence,
			provenance = $provenance
		RETURN AFTER
	`, map[string]any{
		"title":      title.Title,
		"node_json":  string(node.NodeJSON),
		"status":     string(node.Status),
		"confidence": node.Confidence,
		"provenance": node.Provenance,
	})
	if err != nil {
		return "", fmt.Errorf("insert proposed node: %w", wrapQueryError(err))
	}

	records := firstResult(results)
	if len(records) == 0 {
		return "", fmt.Errorf("insert proposed node: no result returned")
	}
	return recordString(records[0].ID), nil
}

// ExistingNodes lists stored proposed nodes for duplicate suppression.
func (c *Client) ExistingNodes(ctx context.Context) ([]models.ExistingNode, error) {
	results, err := surrealdb.Query[[]proposedNodeRecord](ctx, c.db, `
		SELECT id, title, status, confidence FROM proposed_node
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("existing nodes: %w", err)
	}

	records := firstResult(results)
	out := make([]models.ExistingNode, len(records))
	for i, r := range records {
		out[i] = models.ExistingNode{
			ID:     recordString(r.ID),
			Title:  r.Title,
			Status: r.Status,
		}
	}
	return out, nil
}

// ProposedNodesByStatus lists proposed nodes filtered by review status.
func (c *Client) ProposedNodesByStatus(ctx context.Context, status models.ProposalStatus) ([]models.ProposedNode, error) {
	results, err := surrealdb.Query[[]proposedNodeRecord](ctx, c.db, `
		SELECT id, title, node_json, status, confidence, provenance FROM proposed_node
		WHERE status = $status
	`, map[string]any{"status": string(status)})
	if err != nil {
		return nil, fmt.Errorf("proposed nodes by status: %w", err)
	}

	records := firstResult(results)
	out := make([]models.ProposedNode, len(records))
	for i, r := range records {
		node := models.ProposedNode{
			ID:         recordString(r.ID),
			NodeJSON:   json.RawMessage(r.NodeJSON),
			Status:     models.ProposalStatus(r.Status),
			Confidence: r.Confidence,
		}
		if r.Provenance != nil {
			node.Provenance = *r.Provenance
		}
		out[i] = node
	}
	return out, nil
}
