package models

// ExtractionStrategy is the extraction intensity tier driving prompt shape
// and node-count expectations.
type ExtractionStrategy string

const (
	StrategySimple        ExtractionStrategy = "simple"
	StrategyModerate      ExtractionStrategy = "moderate"
	StrategyComplex       ExtractionStrategy = "complex"
	StrategyComprehensive ExtractionStrategy = "comprehensive"
)

// Valid reports whether s is one of the four defined tiers.
func (s ExtractionStrategy) Valid() bool {
	switch s {
	case StrategySimple, StrategyModerate, StrategyComplex, StrategyComprehensive:
		return true
	}
	return false
}

// Rank orders strategies by intensity, simple < moderate < complex < comprehensive.
func (s ExtractionStrategy) Rank() int {
	switch s {
	case StrategySimple:
		return 0
	case StrategyModerate:
		return 1
	case StrategyComplex:
		return 2
	case StrategyComprehensive:
		return 3
	}
	return -1
}

// DocumentComplexity is the per-run shape estimate for one document.
// Computed once per extraction run and threaded through to validation.
type DocumentComplexity struct {
	EstimatedNodeCount    int                `json:"estimated_node_count"`
	Strategy              ExtractionStrategy `json:"extraction_strategy"`
	ShouldUseHierarchical bool               `json:"should_use_hierarchical"`
	RecommendedProvider   string             `json:"recommended_provider,omitempty"`
}
