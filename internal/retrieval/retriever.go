// Package retrieval assembles supplementary context for extraction from
// previously ingested documents and proposed nodes. Every lookup is
// best-effort: a failing store degrades the context, never the run.
package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/noahchander/labtree/internal/enrich"
	"github.com/noahchander/labtree/internal/models"
)

const (
	relatedChunkLimit    = 8
	dependencyChunkLimit = 3
	maxDependencyPhrases = 5
	minVectorSimilarity  = 0.5

	// duplicateSimilarity marks an existing node as a near-certain
	// duplicate of this document's content.
	duplicateSimilarity = 0.85
	// similarTitleFloor is the minimum score for an existing node to be
	// surfaced at all.
	similarTitleFloor = 0.5
)

// Store is the persistence surface the retriever reads from.
type Store interface {
	ChunksByDocument(ctx context.Context, documentID string) ([]models.ScoredChunk, error)
	VectorSearch(ctx context.Context, query string, limit int, minSimilarity float64) ([]models.ScoredChunk, error)
	KeywordSearch(ctx context.Context, query string, limit int) ([]models.ScoredChunk, error)
	ChunksMatching(ctx context.Context, phrase string, limit int) ([]models.ScoredChunk, error)
	ExistingNodes(ctx context.Context) ([]models.ExistingNode, error)
}

// Retriever builds RetrievedContext values for documents.
type Retriever struct {
	store Store
}

// NewRetriever creates a Retriever over the given store.
func NewRetriever(store Store) *Retriever {
	return &Retriever{store: store}
}

// ForDocument gathers primary chunks, related material, dependency
// evidence, and similar existing nodes for one document. Sub-lookups fail
// independently; the returned context holds whatever succeeded.
func (r *Retriever) ForDocument(ctx context.Context, doc models.StructuredDocument) (models.RetrievedContext, error) {
	var rc models.RetrievedContext

	primary, err := r.store.ChunksByDocument(ctx, doc.SourceID)
	if err != nil {
		slog.Warn("primary chunk lookup failed", "file", doc.FileName, "error", err)
	} else {
		rc.PrimaryChunks = primary
	}

	query := buildQuery(doc)
	if query != "" {
		rc.RelatedChunks = r.relatedChunks(ctx, doc, query)
	}

	rc.DependencyChunks = r.dependencyChunks(ctx, doc)
	rc.ExistingNodes = r.similarNodes(ctx, doc)
	return rc, nil
}

// relatedChunks runs a vector search and falls back to keyword search when
// the vector side errors or returns fewer than half the requested chunks.
func (r *Retriever) relatedChunks(ctx context.Context, doc models.StructuredDocument, query string) []models.ScoredChunk {
	chunks, err := r.store.VectorSearch(ctx, query, relatedChunkLimit, minVectorSimilarity)
	if err != nil {
		slog.Warn("vector search failed, falling back to keyword search", "file", doc.FileName, "error", err)
		chunks = nil
	}
	if len(chunks) >= relatedChunkLimit/2 {
		return excludeDocument(chunks, doc.SourceID)
	}

	keyword, kerr := r.store.KeywordSearch(ctx, query, relatedChunkLimit-len(chunks))
	if kerr != nil {
		slog.Warn("keyword search failed", "file", doc.FileName, "error", kerr)
		return excludeDocument(chunks, doc.SourceID)
	}

	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		seen[c.ID] = true
	}
	for _, c := range keyword {
		if !seen[c.ID] {
			chunks = append(chunks, c)
		}
	}
	return excludeDocument(chunks, doc.SourceID)
}

// dependencyChunks searches stored text for the connective phrases found
// in this document, as evidence for cross-document dependencies.
func (r *Retriever) dependencyChunks(ctx context.Context, doc models.StructuredDocument) []models.ScoredChunk {
	var out []models.ScoredChunk
	seen := make(map[string]bool)
	for _, phrase := range connectivePhrases(doc) {
		chunks, err := r.store.ChunksMatching(ctx, phrase, dependencyChunkLimit)
		if err != nil {
			slog.Warn("dependency chunk lookup failed", "file", doc.FileName, "phrase", phrase, "error", err)
			continue
		}
		for _, c := range chunks {
			if c.DocumentID != doc.SourceID && !seen[c.ID] {
				seen[c.ID] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// similarNodes returns existing nodes whose titles resemble this
// document's section titles, scored by word overlap. Near-certain
// duplicates are logged at a higher level so they stand out.
func (r *Retriever) similarNodes(ctx context.Context, doc models.StructuredDocument) []models.ExistingNode {
	nodes, err := r.store.ExistingNodes(ctx)
	if err != nil {
		slog.Warn("existing node lookup failed", "file", doc.FileName, "error", err)
		return nil
	}

	var out []models.ExistingNode
	for _, node := range nodes {
		best := 0.0
		for _, section := range doc.Sections {
			if sim := models.TitleSimilarity(node.Title, section.Title); sim > best {
				best = sim
			}
		}
		if best <= similarTitleFloor {
			continue
		}
		node.Similarity = best
		out = append(out, node)
		if best > duplicateSimilarity {
			slog.Info("existing node likely duplicates document content",
				"file", doc.FileName, "node", node.Title, "similarity", best)
		}
	}
	return out
}

// buildQuery derives a search query from the document's section titles.
func buildQuery(doc models.StructuredDocument) string {
	var parts []string
	for _, s := range doc.Sections {
		title := strings.TrimSpace(s.Title)
		if title != "" {
			parts = append(parts, title)
		}
		if len(parts) == 6 {
			break
		}
	}
	return strings.Join(parts, " ")
}

// connectivePhrases captures phrases like "using X" or "after Y" from the
// document text, capped to keep lookups bounded.
func connectivePhrases(doc models.StructuredDocument) []string {
	var phrases []string
	seen := make(map[string]bool)
	patterns := enrich.DefaultPatterns()
	for _, section := range doc.Sections {
		text := section.Text()
		for _, pp := range patterns {
			for _, m := range pp.Pattern.FindAllStringSubmatch(text, -1) {
				phrase := strings.TrimSpace(m[1])
				key := strings.ToLower(phrase)
				if phrase == "" || seen[key] {
					continue
				}
				seen[key] = true
				phrases = append(phrases, phrase)
				if len(phrases) == maxDependencyPhrases {
					return phrases
				}
			}
		}
	}
	return phrases
}

func excludeDocument(chunks []models.ScoredChunk, documentID string) []models.ScoredChunk {
	out := chunks[:0]
	for _, c := range chunks {
		if c.DocumentID != documentID {
			out = append(out, c)
		}
	}
	return out
}
