// Package enrich augments extracted trees with attachment links and
// phrase-derived dependencies. Pure functions, no provider calls.
package enrich

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/noahchander/labtree/internal/models"
)

// figureRefPattern matches "Figure 2", "Fig. 3a", "figure 4B" and the
// parenthetical forms "(Figure 2)" and "(Fig. 3)".
var figureRefPattern = regexp.MustCompile(`(?i)\bfig(?:ure)?\.?\s*(\d+[a-z]?)`)

// tableRefPattern matches "Table 1", "table 2B" and parenthetical forms.
var tableRefPattern = regexp.MustCompile(`(?i)\btable\s*(\d+[a-z]?)`)

type reference struct {
	kind   models.ContentType
	number string
	label  string
}

// ResolveAttachments links every figure and table mention in the tree's
// nodes to the matching content block of the source document. Nodes are
// modified in place. Each attachment is named by its reference label
// ("Figure 2", "Table 1") and deduplicated on source id plus label, so
// resolving the same document twice adds nothing. Returns how many
// references resolved and how many mentions had no matching block.
func ResolveAttachments(doc models.StructuredDocument, result *models.WorkflowExtractionResult) (resolved, unresolved int) {
	for _, node := range result.Nodes() {
		seen := make(map[string]bool)
		for _, a := range node.Attachments {
			seen[a.SourceID+"|"+a.FileName] = true
		}
		for _, ref := range findReferences(node) {
			key := doc.SourceID + "|" + ref.label
			if seen[key] {
				continue
			}
			seen[key] = true

			caption, pageRange, ok := lookupBlock(doc, ref)
			if !ok {
				unresolved++
				slog.Debug("attachment reference has no matching block",
					"file", doc.FileName, "node", node.Title, "reference", ref.label)
				continue
			}

			relevance := ref.label
			if caption != "" {
				relevance = fmt.Sprintf("%s: %s", ref.label, caption)
			}
			node.Attachments = append(node.Attachments, models.Attachment{
				SourceID:  doc.SourceID,
				FileName:  ref.label,
				PageRange: pageRange,
				Relevance: relevance,
			})
			resolved++
		}
	}
	return resolved, unresolved
}

func findReferences(node *models.ExtractedNode) []reference {
	text := node.Content.Text
	if len(node.Content.StructuredSteps) > 0 {
		text += "\n" + strings.Join(node.Content.StructuredSteps, "\n")
	}

	var refs []reference
	for _, m := range figureRefPattern.FindAllStringSubmatch(text, -1) {
		refs = append(refs, reference{kind: models.ContentFigure, number: strings.ToLower(m[1]), label: "Figure " + m[1]})
	}
	for _, m := range tableRefPattern.FindAllStringSubmatch(text, -1) {
		refs = append(refs, reference{kind: models.ContentTable, number: strings.ToLower(m[1]), label: "Table " + m[1]})
	}
	return refs
}

// lookupBlock finds the document block for a reference, first by caption
// match, then by ordinal position among blocks of the same kind.
func lookupBlock(doc models.StructuredDocument, ref reference) (caption, pageRange string, ok bool) {
	wantCaption := strings.ToLower(ref.label)
	alt := strings.ToLower(string(ref.kind)) + " " + ref.number

	ordinal := 0
	var fallbackCaption, fallbackPage string
	fallbackFound := false
	wantOrdinal := ordinalOf(ref.number)

	for _, section := range doc.Sections {
		for _, block := range section.Content {
			if block.Type != ref.kind {
				continue
			}
			ordinal++
			lower := strings.ToLower(block.Caption)
			if strings.Contains(lower, wantCaption) || strings.Contains(lower, alt) {
				return block.Caption, section.PageRange, true
			}
			if wantOrdinal == ordinal {
				fallbackCaption, fallbackPage, fallbackFound = block.Caption, section.PageRange, true
			}
		}
	}
	if fallbackFound {
		return fallbackCaption, fallbackPage, true
	}
	return "", "", false
}

// ordinalOf extracts the leading digits of a reference number, so "3a"
// falls back to the third block of its kind. Returns 0 when not numeric.
func ordinalOf(number string) int {
	n := 0
	for _, r := range number {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}
