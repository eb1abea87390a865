// Package nested flags nodes that deserve promotion to reusable
// sub-workflows, using an additive score over structural and textual
// signals.
package nested

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/noahchander/labtree/internal/models"
)

// Score weights. Signals only ever add, so a richer node never scores
// lower than a sparser one.
const (
	scoreTitleKeyword       = 2
	scoreReusabilityClaim   = 3
	scoreManySteps          = 3
	scoreSomeSteps          = 1
	scoreManyDependents     = 4
	scoreFewDependents      = 1
	scoreLongContent        = 1
	scoreProceduralPhrasing = 2
	scoreModelHint          = 2
	scoreDiverseDependents  = 2

	manyStepsMin      = 5
	manyDependentsMin = 3
	longContentChars  = 500
)

// DefaultScoreThreshold is the minimum score at which a node is promoted.
const DefaultScoreThreshold = 8

var titleKeywords = []string{
	"protocol", "assay", "preparation", "extraction", "purification",
	"staining", "procedure", "pipeline",
}

var reusabilityPhrases = []string{
	"can be used", "can be reused", "reusable", "standard protocol",
	"routinely", "as described previously", "general procedure",
}

var proceduralVerbs = []string{
	"incubate", "centrifuge", "wash", "resuspend", "pipette", "vortex",
	"aliquot", "elute", "dilute",
}

var numberedStepPattern = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)

// Detector scores nodes for sub-workflow promotion.
type Detector struct {
	threshold int
}

// NewDetector creates a detector with the given promotion threshold;
// zero or negative falls back to DefaultScoreThreshold.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultScoreThreshold
	}
	return &Detector{threshold: threshold}
}

// Detect scores every node in the tree, marks those at or above the
// threshold as nested trees, and records the promotions on the result.
func (d *Detector) Detect(result *models.WorkflowExtractionResult) []models.NestedTreeRef {
	nodes := result.Nodes()
	dependents := dependentsByTitle(nodes)

	var refs []models.NestedTreeRef
	for _, node := range nodes {
		score, reasons := d.scoreNode(node, dependents[strings.ToLower(node.Title)])
		if score < d.threshold {
			continue
		}
		node.IsNestedTree = true
		ref := models.NestedTreeRef{NodeTitle: node.Title, Score: score, Reasons: reasons}
		refs = append(refs, ref)
		slog.Info("node promoted to nested tree", "node", node.Title, "score", score)
	}
	result.NestedTrees = append(result.NestedTrees, refs...)
	return refs
}

func (d *Detector) scoreNode(node *models.ExtractedNode, dependents []*models.ExtractedNode) (int, []string) {
	score := 0
	var reasons []string
	add := func(points int, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	lowerTitle := strings.ToLower(node.Title)
	for _, kw := range titleKeywords {
		if strings.Contains(lowerTitle, kw) {
			add(scoreTitleKeyword, "title names a "+kw)
			break
		}
	}

	text := node.Content.Text
	lowerText := strings.ToLower(text)
	for _, phrase := range reusabilityPhrases {
		if strings.Contains(lowerText, phrase) {
			add(scoreReusabilityClaim, "content claims reusability")
			break
		}
	}

	steps := len(node.Content.StructuredSteps)
	if steps == 0 {
		steps = len(numberedStepPattern.FindAllString(text, -1))
	}
	switch {
	case steps >= manyStepsMin:
		add(scoreManySteps, "many numbered steps")
	case steps >= 1:
		add(scoreSomeSteps, "has numbered steps")
	}

	switch {
	case len(dependents) >= manyDependentsMin:
		add(scoreManyDependents, "referenced by several nodes")
	case len(dependents) >= 1:
		add(scoreFewDependents, "referenced by another node")
	}

	if len(text) > longContentChars {
		add(scoreLongContent, "long content")
	}

	for _, verb := range proceduralVerbs {
		if strings.Contains(lowerText, verb) {
			add(scoreProceduralPhrasing, "procedural phrasing")
			break
		}
	}

	if node.IsNestedTree {
		add(scoreModelHint, "flagged during extraction")
	}

	types := make(map[models.NodeType]bool)
	for _, dep := range dependents {
		types[dep.NodeType] = true
	}
	if len(types) >= 2 {
		add(scoreDiverseDependents, "used across node types")
	}

	return score, reasons
}

// dependentsByTitle maps each node title to the nodes that depend on it
// or mention it in their content. A node counts once per title even when
// it both declares the edge and mentions the title. Titles under four
// characters are skipped for content matching to avoid false positives.
func dependentsByTitle(nodes []*models.ExtractedNode) map[string][]*models.ExtractedNode {
	out := make(map[string][]*models.ExtractedNode)
	counted := make(map[string]map[*models.ExtractedNode]bool)
	add := func(title string, node *models.ExtractedNode) {
		if counted[title] == nil {
			counted[title] = make(map[*models.ExtractedNode]bool)
		}
		if counted[title][node] {
			return
		}
		counted[title][node] = true
		out[title] = append(out[title], node)
	}

	for _, node := range nodes {
		for _, dep := range node.Dependencies {
			add(strings.ToLower(dep.ReferencedNodeTitle), node)
		}
	}

	for _, target := range nodes {
		title := strings.ToLower(strings.TrimSpace(target.Title))
		if len(title) < 4 {
			continue
		}
		for _, node := range nodes {
			if node == target {
				continue
			}
			if strings.Contains(strings.ToLower(nodeText(node)), title) {
				add(title, node)
			}
		}
	}
	return out
}

func nodeText(node *models.ExtractedNode) string {
	if len(node.Content.StructuredSteps) == 0 {
		return node.Content.Text
	}
	return node.Content.Text + "\n" + strings.Join(node.Content.StructuredSteps, "\n")
}
