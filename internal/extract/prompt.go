// Package extract turns one structured document into a workflow tree via a
// generative provider, with strategy-scaled prompts and schema validation.
package extract

import (
	"fmt"
	"strings"

	"github.com/noahchander/labtree/internal/models"
)

// genericBlockNames are banned: block names must describe the science, not
// the scaffold.
var genericBlockNames = []string{
	"block",
	"section",
	"miscellaneous",
	"general",
	"other",
	"content",
	"workflow",
	"main",
}

// promptShape scales extraction intensity with the complexity tier.
type promptShape struct {
	nodeGuidance  string
	blockRange    string
	detail        string
	withChecklist bool
}

func shapeFor(c models.DocumentComplexity) promptShape {
	switch c.Strategy {
	case models.StrategySimple:
		return promptShape{
			nodeGuidance: fmt.Sprintf("Extract roughly %d nodes (between 5 and 15).", clamp(c.EstimatedNodeCount, 5, 15)),
			blockRange:   "3-5",
			detail:       "Keep nodes coarse: one node per distinct procedure, analysis, or result.",
		}
	case models.StrategyModerate:
		return promptShape{
			nodeGuidance: fmt.Sprintf("Extract roughly %d nodes (between 15 and 30).", clamp(c.EstimatedNodeCount, 15, 30)),
			blockRange:   "4-8",
			detail:       "Split multi-step procedures into separate nodes when steps produce distinct outputs.",
		}
	case models.StrategyComplex:
		return promptShape{
			nodeGuidance:  fmt.Sprintf("Extract roughly %d nodes (between 30 and 50).", clamp(c.EstimatedNodeCount, 30, 50)),
			blockRange:    "5-10",
			detail:        "Capture every procedure, intermediate dataset, analysis, and reported result as its own node.",
			withChecklist: true,
		}
	default: // comprehensive
		return promptShape{
			nodeGuidance:  fmt.Sprintf("Extract all distinct steps, around %d nodes.", max(c.EstimatedNodeCount, 50)),
			blockRange:    "6-12",
			detail:        "Be exhaustive: no procedure, control, dataset, analysis, or result may be skipped.",
			withChecklist: true,
		}
	}
}

var extractionChecklist = []string{
	"every numbered protocol step is represented by a node",
	"every figure and table has at least one node referencing it",
	"every dataset creation step appears before the analyses that use it",
	"result nodes state the concrete finding, not just the topic",
}

// BuildPrompt assembles the strategy-specific extraction prompt for one
// document, optionally augmented with retrieved context.
func BuildPrompt(doc models.StructuredDocument, projectContext string, c models.DocumentComplexity, retrieved *models.RetrievedContext) string {
	shape := shapeFor(c)

	var b strings.Builder
	b.WriteString("You are an expert at converting research documents into structured experiment workflow trees.\n")
	b.WriteString("A tree is a set of thematic blocks, each containing atomic nodes (one protocol step, analysis, or result each).\n\n")

	if projectContext != "" {
		fmt.Fprintf(&b, "Project context: %s\n\n", projectContext)
	}

	b.WriteString("Extraction intensity:\n")
	fmt.Fprintf(&b, "- %s\n- %s\n\n", shape.nodeGuidance, shape.detail)

	b.WriteString("Block rules:\n")
	fmt.Fprintf(&b, "- Produce %s blocks for a document of this length.\n", shape.blockRange)
	b.WriteString("- Block names must be domain-specific (e.g. \"RNA Extraction & Purification Protocol\"), never generic names like ")
	b.WriteString(strings.Join(quoteAll(genericBlockNames[:4]), ", "))
	b.WriteString(".\n")
	b.WriteString("- Consolidate near-duplicate themes into one block; do not create two blocks whose names differ only in wording.\n")
	b.WriteString("- No block may hold a single node unless the document truly has an isolated phase.\n\n")

	if shape.withChecklist {
		b.WriteString("Before answering, verify:\n")
		for _, item := range extractionChecklist {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}

	b.WriteString("Node rules:\n")
	b.WriteString("- node_type is one of: protocol, data_creation, analysis, results.\n")
	b.WriteString("- Titles are short, unique, and specific.\n")
	b.WriteString("- content.text quotes or faithfully paraphrases the source; structured_steps lists numbered steps when present.\n")
	b.WriteString(`- When a node cites an external resource (code repository, dataset, published protocol), record it under links as {"name": "...", "url": "...", "link_type": "..."}.` + "\n\n")

	writeRetrievedContext(&b, retrieved)

	b.WriteString("Respond with a single JSON object of this exact shape:\n")
	b.WriteString(`{"tree_name": "...", "tree_description": "...", "blocks": [{"block_name": "...", "block_type": "...", "block_description": "...", "position": 1, "nodes": [{"title": "...", "node_type": "protocol", "content": {"text": "...", "structured_steps": []}, "parameters": {}}]}]}`)
	b.WriteString("\n\nDocument:\n")
	writeDocument(&b, doc)

	return b.String()
}

func writeRetrievedContext(b *strings.Builder, retrieved *models.RetrievedContext) {
	if retrieved == nil {
		return
	}
	if len(retrieved.RelatedChunks) > 0 {
		b.WriteString("Related material from the same project (use for terminology and linking, do not re-extract):\n")
		for _, chunk := range retrieved.RelatedChunks {
			fmt.Fprintf(b, "- %s\n", truncate(chunk.Content, 300))
		}
		b.WriteString("\n")
	}
	if len(retrieved.ExistingNodes) > 0 {
		b.WriteString("Nodes already proposed for this project (do NOT duplicate them):\n")
		for _, node := range retrieved.ExistingNodes {
			fmt.Fprintf(b, "- %s\n", node.Title)
		}
		b.WriteString("\n")
	}
}

func writeDocument(b *strings.Builder, doc models.StructuredDocument) {
	fmt.Fprintf(b, "File: %s\n", doc.FileName)
	for _, section := range doc.Sections {
		fmt.Fprintf(b, "\n## %s\n", section.Title)
		for _, block := range section.Content {
			switch block.Type {
			case models.ContentList:
				for _, item := range block.Items {
					fmt.Fprintf(b, "- %s\n", item)
				}
			case models.ContentFigure, models.ContentTable:
				if block.Caption != "" {
					fmt.Fprintf(b, "[%s] %s\n", block.Type, block.Caption)
				}
			default:
				if block.Text != "" {
					b.WriteString(block.Text)
					b.WriteString("\n")
				}
			}
		}
	}
}

func quoteAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
