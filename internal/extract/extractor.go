package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/noahchander/labtree/internal/llm"
	"github.com/noahchander/labtree/internal/models"
)

// Post-validation thresholds. Violations warn, never fail.
const (
	fragmentationCeiling   = 12
	duplicateNameThreshold = 0.7
)

// ExtractionError is an irrecoverable per-document extraction failure.
type ExtractionError struct {
	FileName string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.FileName, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// HierarchicalStrategy is the multi-section, multi-call extraction path for
// documents too large for a single call. Implemented elsewhere; consumed here.
type HierarchicalStrategy interface {
	Extract(ctx context.Context, doc models.StructuredDocument, projectContext string, complexity models.DocumentComplexity) (*models.WorkflowExtractionResult, error)
}

// ContextRetriever supplies supplementary context during extraction.
// Best-effort: a failed retrieval degrades the prompt, not the run.
type ContextRetriever interface {
	ForDocument(ctx context.Context, doc models.StructuredDocument) (models.RetrievedContext, error)
}

// Outcome is a successful extraction plus its non-fatal findings.
type Outcome struct {
	Result   *models.WorkflowExtractionResult
	Provider string
	Warnings []string
}

// Extractor builds prompts, calls the provider chain, and validates results.
type Extractor struct {
	chain        *llm.Chain
	retriever    ContextRetriever
	hierarchical HierarchicalStrategy
	useHierarchy bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRetriever attaches a context retriever consulted before each prompt.
func WithRetriever(r ContextRetriever) Option {
	return func(e *Extractor) { e.retriever = r }
}

// WithHierarchical enables delegation to a hierarchical strategy for
// documents flagged ShouldUseHierarchical.
func WithHierarchical(h HierarchicalStrategy) Option {
	return func(e *Extractor) {
		e.hierarchical = h
		e.useHierarchy = h != nil
	}
}

// New creates an Extractor over an ordered provider chain.
func New(chain *llm.Chain, opts ...Option) *Extractor {
	e := &Extractor{chain: chain}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractWorkflow extracts one document into a workflow tree.
// Retry semantics live in the chain: one pass over the ordered providers,
// advancing only on retryable failures (rate limit, truncation, timeout).
func (e *Extractor) ExtractWorkflow(ctx context.Context, doc models.StructuredDocument, projectContext string, complexity models.DocumentComplexity) (*Outcome, error) {
	if e.useHierarchy && complexity.ShouldUseHierarchical {
		slog.Info("delegating to hierarchical extraction",
			"file", doc.FileName,
			"strategy", complexity.Strategy,
			"estimated_nodes", complexity.EstimatedNodeCount)
		result, err := e.hierarchical.Extract(ctx, doc, projectContext, complexity)
		if err != nil {
			return nil, &ExtractionError{FileName: doc.FileName, Err: err}
		}
		e.annotate(result, "hierarchical", doc, complexity)
		return &Outcome{Result: result, Provider: "hierarchical", Warnings: Warnings(result)}, nil
	}

	var retrieved *models.RetrievedContext
	if e.retriever != nil {
		rc, err := e.retriever.ForDocument(ctx, doc)
		if err != nil {
			slog.Warn("context retrieval failed, extracting without it", "file", doc.FileName, "error", err)
		} else {
			retrieved = &rc
		}
	}

	prompt := BuildPrompt(doc, projectContext, complexity, retrieved)
	chain := e.chainFor(complexity)

	raw, provider, err := chain.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, &ExtractionError{FileName: doc.FileName, Err: err}
	}

	result, err := ParseResult(raw)
	if err != nil {
		// Malformed output is reported with field diagnostics, not retried.
		return nil, &ExtractionError{FileName: doc.FileName, Err: err}
	}

	e.annotate(result, provider, doc, complexity)

	warnings := Warnings(result)
	for _, w := range warnings {
		slog.Warn("extraction post-validation", "file", doc.FileName, "warning", w)
	}

	return &Outcome{Result: result, Provider: provider, Warnings: warnings}, nil
}

// chainFor reorders the provider chain so the complexity-recommended
// provider goes first, keeping the rest as fallbacks in original order.
func (e *Extractor) chainFor(complexity models.DocumentComplexity) *llm.Chain {
	recommended := complexity.RecommendedProvider
	providers := e.chain.Providers()
	if recommended == "" || len(providers) < 2 {
		return e.chain
	}
	for i, p := range providers {
		if p.Name() == recommended && i != 0 {
			reordered := make([]llm.Provider, 0, len(providers))
			reordered = append(reordered, p)
			reordered = append(reordered, providers[:i]...)
			reordered = append(reordered, providers[i+1:]...)
			return llm.NewChain(llm.IsRetryable, reordered...)
		}
	}
	return e.chain
}

// annotate stamps provenance and block association onto every node.
func (e *Extractor) annotate(result *models.WorkflowExtractionResult, provider string, doc models.StructuredDocument, complexity models.DocumentComplexity) {
	for i := range result.Blocks {
		block := &result.Blocks[i]
		if block.Position == 0 {
			block.Position = i + 1
		}
		for j := range block.Nodes {
			node := &block.Nodes[j]
			node.Metadata.BlockName = block.BlockName
			node.Metadata.SourceDocumentID = doc.SourceID
			node.Metadata.Provider = provider
			node.Metadata.Strategy = complexity.Strategy
		}
	}
}

// Warnings reports non-fatal shape problems: fragmentation above the
// ceiling, single-node blocks, and near-duplicate block names.
func Warnings(result *models.WorkflowExtractionResult) []string {
	var warnings []string

	if len(result.Blocks) > fragmentationCeiling {
		warnings = append(warnings, fmt.Sprintf("block count %d exceeds fragmentation ceiling %d", len(result.Blocks), fragmentationCeiling))
	}
	for _, block := range result.Blocks {
		if len(block.Nodes) == 1 {
			warnings = append(warnings, fmt.Sprintf("block %q has a single node", block.BlockName))
		}
	}
	for i := 0; i < len(result.Blocks); i++ {
		for j := i + 1; j < len(result.Blocks); j++ {
			a, b := result.Blocks[i].BlockName, result.Blocks[j].BlockName
			if sim := models.TitleSimilarity(a, b); sim > duplicateNameThreshold {
				warnings = append(warnings, fmt.Sprintf("blocks %q and %q look like duplicates (similarity %.2f)", a, b, sim))
			}
		}
	}
	return warnings
}
