package models

// ScoredChunk is a retrievable unit of source text with an optional
// similarity score from vector or keyword search.
type ScoredChunk struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id,omitempty"`
	Content    string  `json:"content"`
	Heading    string  `json:"heading,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// ExistingNode is a previously proposed or accepted node retrieved for
// duplicate suppression, scored against the current section title.
type ExistingNode struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Similarity float64 `json:"similarity"`
}

// RetrievedContext is the supplementary context supplied during synthesis.
// Each list is independently best-effort; any may be empty.
type RetrievedContext struct {
	PrimaryChunks    []ScoredChunk  `json:"primary_chunks,omitempty"`
	RelatedChunks    []ScoredChunk  `json:"related_chunks,omitempty"`
	DependencyChunks []ScoredChunk  `json:"dependency_chunks,omitempty"`
	ExistingNodes    []ExistingNode `json:"existing_nodes,omitempty"`
}
