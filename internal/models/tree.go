package models

// NodeType classifies an atomic workflow node.
type NodeType string

const (
	NodeProtocol     NodeType = "protocol"
	NodeDataCreation NodeType = "data_creation"
	NodeAnalysis     NodeType = "analysis"
	NodeResults      NodeType = "results"
)

// DependencyType is the relationship a node has to another node.
type DependencyType string

const (
	DepRequires   DependencyType = "requires"
	DepUsesOutput DependencyType = "uses_output"
	DepFollows    DependencyType = "follows"
	DepValidates  DependencyType = "validates"
)

// Valid reports whether t is one of the fixed dependency types.
func (t DependencyType) Valid() bool {
	switch t {
	case DepRequires, DepUsesOutput, DepFollows, DepValidates:
		return true
	}
	return false
}

// Dependency links a node to another node in the same tree by title.
// Never a bare string reference: the triggering phrase and type travel with it.
type Dependency struct {
	ReferencedNodeTitle string         `json:"referenced_node_title"`
	Type                DependencyType `json:"dependency_type"`
	ExtractedPhrase     string         `json:"extracted_phrase"`
	Confidence          float64        `json:"confidence,omitempty"`
}

// Attachment links a node to a figure or table in its source document.
type Attachment struct {
	SourceID  string `json:"source_id"`
	FileName  string `json:"file_name"`
	PageRange string `json:"page_range,omitempty"`
	Relevance string `json:"relevance,omitempty"`
}

// Link is an external resource a node references, such as a code
// repository, dataset archive, or published protocol.
type Link struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	LinkType string `json:"link_type,omitempty"`
}

// NodeContent holds the body of a node, optionally decomposed into steps.
type NodeContent struct {
	Text            string   `json:"text"`
	StructuredSteps []string `json:"structured_steps,omitempty"`
}

// ExtractionMetrics are informational quality signals from extraction.
// They are logged, never used to filter proposals.
type ExtractionMetrics struct {
	CoverageRatio float64 `json:"coverage_ratio,omitempty"`
	Quality       string  `json:"quality,omitempty"`
}

// NodeMetadata carries block association and extraction provenance.
type NodeMetadata struct {
	BlockName        string             `json:"block_name,omitempty"`
	SourceDocumentID string             `json:"source_document_id,omitempty"`
	Provider         string             `json:"provider,omitempty"`
	Strategy         ExtractionStrategy `json:"strategy,omitempty"`
	Metrics          *ExtractionMetrics `json:"extraction_metrics,omitempty"`
}

// ExtractedNode is one atomic protocol step, analysis, or result.
// Titles are unique within a tree; dependencies resolve by title.
type ExtractedNode struct {
	NodeID       string            `json:"node_id"`
	Title        string            `json:"title"`
	Content      NodeContent       `json:"content"`
	NodeType     NodeType          `json:"node_type"`
	Status       string            `json:"status,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Dependencies []Dependency      `json:"dependencies,omitempty"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	Links        []Link            `json:"links,omitempty"`
	IsNestedTree bool              `json:"is_nested_tree,omitempty"`
	Metadata     NodeMetadata      `json:"metadata,omitempty"`
}

// ExtractedBlock is a named phase of the workflow grouping related nodes.
// Block names are domain-specific, never generic placeholders.
type ExtractedBlock struct {
	BlockName        string          `json:"block_name"`
	BlockType        string          `json:"block_type"`
	BlockDescription string          `json:"block_description,omitempty"`
	Position         int             `json:"position"`
	Nodes            []ExtractedNode `json:"nodes"`
}

// NestedTreeRef records a node promoted to a reusable sub-workflow.
type NestedTreeRef struct {
	NodeTitle string   `json:"node_title"`
	Score     int      `json:"score"`
	Reasons   []string `json:"reasons,omitempty"`
}

// WorkflowExtractionResult is the full tree produced for one extraction.
// Invariant: every node belongs to exactly one block; node titles are unique
// within the result.
type WorkflowExtractionResult struct {
	TreeName        string           `json:"tree_name"`
	TreeDescription string           `json:"tree_description"`
	Blocks          []ExtractedBlock `json:"blocks"`
	NestedTrees     []NestedTreeRef  `json:"nested_trees,omitempty"`
}

// Nodes returns pointers to every node across all blocks, block order first.
func (r *WorkflowExtractionResult) Nodes() []*ExtractedNode {
	var nodes []*ExtractedNode
	for i := range r.Blocks {
		for j := range r.Blocks[i].Nodes {
			nodes = append(nodes, &r.Blocks[i].Nodes[j])
		}
	}
	return nodes
}

// NodeCount returns the total number of nodes across all blocks.
func (r *WorkflowExtractionResult) NodeCount() int {
	n := 0
	for _, b := range r.Blocks {
		n += len(b.Nodes)
	}
	return n
}

// TreeSummary aggregates counts over a finished tree.
type TreeSummary struct {
	TotalNodes        int            `json:"total_nodes"`
	TotalBlocks       int            `json:"total_blocks"`
	TotalDependencies int            `json:"total_dependencies"`
	TotalAttachments  int            `json:"total_attachments"`
	TotalLinks        int            `json:"total_links"`
	NodesByType       map[string]int `json:"nodes_by_type"`
	NodesByBlock      map[string]int `json:"nodes_by_block"`
}

// Summarize computes summary statistics for the tree.
func (r *WorkflowExtractionResult) Summarize() TreeSummary {
	s := TreeSummary{
		TotalBlocks:  len(r.Blocks),
		NodesByType:  make(map[string]int),
		NodesByBlock: make(map[string]int),
	}
	for _, b := range r.Blocks {
		s.NodesByBlock[b.BlockName] = len(b.Nodes)
		for _, n := range b.Nodes {
			s.TotalNodes++
			s.NodesByType[string(n.NodeType)]++
			s.TotalDependencies += len(n.Dependencies)
			s.TotalAttachments += len(n.Attachments)
			s.TotalLinks += len(n.Links)
		}
	}
	return s
}
