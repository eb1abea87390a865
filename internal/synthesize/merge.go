// Package synthesize merges per-document workflow trees into one
// project-level tree, preferring a generative merge with a deterministic
// fallback that never fails.
package synthesize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/noahchander/labtree/internal/extract"
	"github.com/noahchander/labtree/internal/llm"
	"github.com/noahchander/labtree/internal/models"
)

// ErrNoResults is returned when there is nothing to merge.
var ErrNoResults = errors.New("synthesize: no extraction results to merge")

// Outcome is a merged tree plus how it was produced.
type Outcome struct {
	Result       *models.WorkflowExtractionResult
	Provider     string
	UsedFallback bool
}

// Merger combines extraction results from multiple documents.
type Merger struct {
	chain *llm.Chain
}

// NewMerger creates a Merger over an ordered provider chain.
func NewMerger(chain *llm.Chain) *Merger {
	return &Merger{chain: chain}
}

// Merge combines the given trees into one. Zero inputs is an error and a
// single input is returned unchanged. With several inputs the provider
// chain performs the merge; any provider or validation failure falls back
// to a deterministic structural merge that preserves every node.
func (m *Merger) Merge(ctx context.Context, projectContext string, results []*models.WorkflowExtractionResult) (*Outcome, error) {
	switch len(results) {
	case 0:
		return nil, ErrNoResults
	case 1:
		return &Outcome{Result: results[0], Provider: "passthrough"}, nil
	}

	total := 0
	for _, r := range results {
		total += r.NodeCount()
	}

	raw, provider, err := m.chain.GenerateJSON(ctx, buildMergePrompt(projectContext, results))
	if err == nil {
		merged, perr := extract.ParseResult(raw)
		if perr == nil {
			if merged.NodeCount() < total/2 {
				slog.Warn("merged tree lost too many nodes, using structural merge",
					"merged_nodes", merged.NodeCount(), "input_nodes", total)
			} else {
				return &Outcome{Result: merged, Provider: provider}, nil
			}
		} else {
			slog.Warn("merge output failed validation, using structural merge", "error", perr)
		}
	} else {
		slog.Warn("generative merge failed, using structural merge", "error", err)
	}

	return &Outcome{Result: StructuralMerge(results), Provider: "structural", UsedFallback: true}, nil
}

// StructuralMerge combines trees without a model call. The merged name
// and description concatenate the inputs' so no source tree disappears
// from the record. Blocks are grouped by block type in first-seen order
// and every input node is kept; title collisions get a numeric suffix.
// The result always has exactly as many nodes as the inputs combined.
func StructuralMerge(results []*models.WorkflowExtractionResult) *models.WorkflowExtractionResult {
	merged := &models.WorkflowExtractionResult{
		TreeName:        joinDistinct(results, func(r *models.WorkflowExtractionResult) string { return r.TreeName }, " + "),
		TreeDescription: joinDistinct(results, func(r *models.WorkflowExtractionResult) string { return r.TreeDescription }, " "),
	}

	byType := make(map[string]*models.ExtractedBlock)
	var order []string
	seenTitles := make(map[string]int)

	for _, r := range results {
		for _, block := range r.Blocks {
			key := block.BlockType
			if key == "" {
				key = strings.ToLower(block.BlockName)
			}
			dst, ok := byType[key]
			if !ok {
				dst = &models.ExtractedBlock{
					BlockName:        block.BlockName,
					BlockType:        block.BlockType,
					BlockDescription: block.BlockDescription,
				}
				byType[key] = dst
				order = append(order, key)
			}
			for _, node := range block.Nodes {
				node.Title = dedupeTitle(node.Title, seenTitles)
				dst.Nodes = append(dst.Nodes, node)
			}
		}
	}

	for i, key := range order {
		block := byType[key]
		block.Position = i + 1
		merged.Blocks = append(merged.Blocks, *block)
	}
	return merged
}

// joinDistinct concatenates a field across the input trees, skipping
// blanks and repeats while keeping input order.
func joinDistinct(results []*models.WorkflowExtractionResult, field func(*models.WorkflowExtractionResult) string, sep string) string {
	var parts []string
	seen := make(map[string]bool)
	for _, r := range results {
		v := strings.TrimSpace(field(r))
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		parts = append(parts, v)
	}
	return strings.Join(parts, sep)
}

func dedupeTitle(title string, seen map[string]int) string {
	key := strings.ToLower(strings.TrimSpace(title))
	seen[key]++
	if seen[key] == 1 {
		return title
	}
	return fmt.Sprintf("%s (%d)", title, seen[key])
}

func buildMergePrompt(projectContext string, results []*models.WorkflowExtractionResult) string {
	var b strings.Builder
	b.WriteString("You are merging experiment workflow trees extracted from related documents into one coherent project tree.\n\n")
	if projectContext != "" {
		fmt.Fprintf(&b, "Project context: %s\n\n", projectContext)
	}
	b.WriteString("Rules:\n")
	b.WriteString("- Combine blocks covering the same phase; keep domain-specific block names.\n")
	b.WriteString("- Keep every distinct node. Merge only nodes that describe the same step in different documents.\n")
	b.WriteString("- Preserve node_type, content, and dependencies of kept nodes.\n")
	b.WriteString("- Order blocks by experimental sequence: protocols, data creation, analysis, results.\n\n")
	b.WriteString("Respond with a single JSON object in the same shape as the inputs.\n")

	for i, r := range results {
		raw, err := json.Marshal(r)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\nTree %d:\n%s\n", i+1, raw)
	}
	return b.String()
}
