// Package analyze inspects structured documents before extraction: shape
// estimation and content cleaning.
package analyze

import (
	"github.com/noahchander/labtree/internal/config"
	"github.com/noahchander/labtree/internal/models"
)

// Strategy tier breakpoints over the estimated node count.
const (
	simpleMaxNodes   = 15
	moderateMaxNodes = 30
	complexMaxNodes  = 50
)

// Node-count estimation proxies.
const (
	nodesPerSection  = 2
	charsPerNode     = 400
	listItemsPerNode = 4
)

// singleCallTokenBudget is the input budget for one extraction call.
// Documents estimated above it are routed to the hierarchical path.
// Rough heuristic: 4 chars per token.
const (
	singleCallTokenBudget = 24000
	charsPerToken         = 4
)

// EstimateComplexity derives a node-count estimate from document size proxies
// and maps it to a strategy tier. Pure function of the document.
func EstimateComplexity(doc models.StructuredDocument) models.DocumentComplexity {
	contentLen := doc.ContentLength()

	estimate := nodesPerSection*len(doc.Sections) +
		contentLen/charsPerNode +
		doc.CountBlocks(models.ContentFigure) +
		doc.CountBlocks(models.ContentTable) +
		doc.CountListItems()/listItemsPerNode
	if estimate < 1 {
		estimate = 1
	}

	strategy := strategyFor(estimate)

	return models.DocumentComplexity{
		EstimatedNodeCount:    estimate,
		Strategy:              strategy,
		ShouldUseHierarchical: contentLen/charsPerToken > singleCallTokenBudget,
		RecommendedProvider:   recommendProvider(strategy),
	}
}

func strategyFor(estimate int) models.ExtractionStrategy {
	switch {
	case estimate < simpleMaxNodes:
		return models.StrategySimple
	case estimate <= moderateMaxNodes:
		return models.StrategyModerate
	case estimate <= complexMaxNodes:
		return models.StrategyComplex
	default:
		return models.StrategyComprehensive
	}
}

// recommendProvider routes large documents to the large-context backend.
func recommendProvider(s models.ExtractionStrategy) string {
	switch s {
	case models.StrategyComplex, models.StrategyComprehensive:
		return config.ProviderAnthropic
	default:
		return config.ProviderOpenAI
	}
}
