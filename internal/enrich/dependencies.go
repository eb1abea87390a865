package enrich

import (
	"regexp"
	"strings"

	"github.com/noahchander/labtree/internal/models"
)

// phraseMatchThreshold is the minimum title similarity for a captured
// phrase to bind to a node.
const phraseMatchThreshold = 0.34

// PhrasePattern maps a connective phrase to the dependency type it implies.
// The pattern's first capture group is the candidate node reference.
type PhrasePattern struct {
	Pattern *regexp.Regexp
	Type    models.DependencyType
}

// DefaultPatterns returns the built-in phrase table.
func DefaultPatterns() []PhrasePattern {
	capture := `([^.,;:\n]{3,80})`
	return []PhrasePattern{
		{regexp.MustCompile(`(?i)\busing\s+(?:the\s+)?(?:output\s+of\s+|results?\s+(?:of|from)\s+)?` + capture), models.DepUsesOutput},
		{regexp.MustCompile(`(?i)\b(?:after|following)\s+(?:the\s+)?` + capture), models.DepFollows},
		{regexp.MustCompile(`(?i)\b(?:based\s+on|requires?|depends?\s+on)\s+(?:the\s+)?` + capture), models.DepRequires},
		{regexp.MustCompile(`(?i)\b(?:validated?|verified?|confirmed?)\s+(?:against|by|with)\s+(?:the\s+)?` + capture), models.DepValidates},
	}
}

// DependencyExtractor derives typed dependencies between nodes of one tree
// from connective phrases in node content.
type DependencyExtractor struct {
	patterns []PhrasePattern
}

// DepOption configures a DependencyExtractor.
type DepOption func(*DependencyExtractor)

// WithPatterns replaces the default phrase table.
func WithPatterns(patterns []PhrasePattern) DepOption {
	return func(e *DependencyExtractor) { e.patterns = patterns }
}

// NewDependencyExtractor creates an extractor with the default phrase table
// unless overridden.
func NewDependencyExtractor(opts ...DepOption) *DependencyExtractor {
	e := &DependencyExtractor{patterns: DefaultPatterns()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract scans every node's content for connective phrases that reference
// another node in the same tree and appends typed dependencies in place.
// A node never depends on itself, and each (target, type) pair is added at
// most once per node. Returns the number of dependencies added.
func (e *DependencyExtractor) Extract(result *models.WorkflowExtractionResult) int {
	nodes := result.Nodes()
	titles := make([]string, len(nodes))
	for i, n := range nodes {
		titles[i] = n.Title
	}

	added := 0
	for i, node := range nodes {
		existing := make(map[string]bool)
		for _, dep := range node.Dependencies {
			existing[depKey(dep.ReferencedNodeTitle, dep.Type)] = true
		}

		text := node.Content.Text
		if len(node.Content.StructuredSteps) > 0 {
			text += "\n" + strings.Join(node.Content.StructuredSteps, "\n")
		}

		for _, pp := range e.patterns {
			for _, m := range pp.Pattern.FindAllStringSubmatch(text, -1) {
				phrase := strings.TrimSpace(m[1])
				if phrase == "" {
					continue
				}
				target, confidence := bestTitleMatch(phrase, titles, i)
				if target == "" {
					continue
				}
				key := depKey(target, pp.Type)
				if existing[key] {
					continue
				}
				existing[key] = true
				node.Dependencies = append(node.Dependencies, models.Dependency{
					ReferencedNodeTitle: target,
					Type:                pp.Type,
					ExtractedPhrase:     phrase,
					Confidence:          confidence,
				})
				added++
			}
		}
	}
	return added
}

// bestTitleMatch scores the phrase against every node title except the
// node's own and returns the best match above the threshold. Containment
// of a full title inside the phrase counts as a strong match.
func bestTitleMatch(phrase string, titles []string, self int) (string, float64) {
	lowerPhrase := strings.ToLower(phrase)
	best := ""
	bestScore := 0.0
	for i, title := range titles {
		if i == self {
			continue
		}
		score := models.TitleSimilarity(phrase, title)
		if strings.Contains(lowerPhrase, strings.ToLower(title)) && score < 0.9 {
			score = 0.9
		}
		if score > bestScore {
			best, bestScore = title, score
		}
	}
	if bestScore < phraseMatchThreshold {
		return "", 0
	}
	return best, bestScore
}

func depKey(title string, t models.DependencyType) string {
	return strings.ToLower(title) + "|" + string(t)
}
