package analyze

import (
	"regexp"
	"strings"

	"github.com/noahchander/labtree/internal/models"
)

// CleanConfig tunes section removal heuristics.
type CleanConfig struct {
	// MinSectionLength drops sections whose normalized text is shorter.
	MinSectionLength int
	// MinAlphaRatio drops sections with a lower alphabetic character ratio.
	MinAlphaRatio float64
	// CitationDensityThreshold drops sections where the ratio of
	// citation-pattern lines to total lines exceeds it.
	CitationDensityThreshold float64
}

// DefaultCleanConfig returns the default cleaning thresholds.
func DefaultCleanConfig() CleanConfig {
	return CleanConfig{
		MinSectionLength:         40,
		MinAlphaRatio:            0.3,
		CitationDensityThreshold: 0.5,
	}
}

// RemovedSection records one dropped section and why.
type RemovedSection struct {
	Title  string
	Reason string
}

// CleanReport summarizes what cleaning removed.
type CleanReport struct {
	RemovedSections []RemovedSection
}

// referenceTitleKeywords mark bibliography-style sections by title.
var referenceTitleKeywords = []string{
	"references",
	"bibliography",
	"works cited",
	"acknowledgment",
	"acknowledgement",
	"citations",
	"funding",
	"conflicts of interest",
}

// citationLinePattern matches lines that look like bibliography entries:
// bracketed indices, "Author et al.", or trailing year markers.
var citationLinePattern = regexp.MustCompile(`(^\s*\[\d+\])|(\bet al\.?)|(\(\d{4}\))|(\b(19|20)\d{2}[;,.]\s*$)|(\bdoi:)`)

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	excessSpaces   = regexp.MustCompile(`[ \t]{3,}`)
)

// Clean returns a copy of doc with reference-heavy and degenerate sections
// removed and whitespace normalized. Inputs are never mutated. Cleaning an
// already-cleaned document removes nothing further: sections are normalized
// before the removal predicates run, so every predicate sees its own output.
func Clean(doc models.StructuredDocument, cfg CleanConfig) (models.StructuredDocument, CleanReport) {
	out := models.StructuredDocument{
		SourceID: doc.SourceID,
		FileName: doc.FileName,
		Type:     doc.Type,
	}
	var report CleanReport

	for _, section := range doc.Sections {
		normalized := normalizeSection(section)
		text := normalized.Text()

		if reason := removalReason(normalized, text, cfg); reason != "" {
			report.RemovedSections = append(report.RemovedSections, RemovedSection{
				Title:  section.Title,
				Reason: reason,
			})
			continue
		}
		out.Sections = append(out.Sections, normalized)
	}

	return out, report
}

func removalReason(section models.Section, text string, cfg CleanConfig) string {
	if isReferenceTitle(section.Title) {
		return "reference section title"
	}
	if len(strings.TrimSpace(text)) < cfg.MinSectionLength {
		return "below minimum content length"
	}
	if alphaRatio(text) < cfg.MinAlphaRatio {
		return "low alphabetic ratio"
	}
	if citationDensity(text) > cfg.CitationDensityThreshold {
		return "citation-dense content"
	}
	return ""
}

func isReferenceTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range referenceTitleKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func alphaRatio(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	alpha := 0
	total := 0
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			continue
		}
		total++
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			alpha++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(alpha) / float64(total)
}

func citationDensity(text string) float64 {
	lines := strings.Split(text, "\n")
	total := 0
	cited := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		if citationLinePattern.MatchString(line) {
			cited++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(cited) / float64(total)
}

func normalizeSection(section models.Section) models.Section {
	out := models.Section{
		Title:         section.Title,
		Level:         section.Level,
		SectionNumber: section.SectionNumber,
		PageRange:     section.PageRange,
		Content:       make([]models.ContentBlock, len(section.Content)),
	}
	for i, block := range section.Content {
		nb := block
		nb.Text = normalizeWhitespace(block.Text)
		nb.Caption = normalizeWhitespace(block.Caption)
		if len(block.Items) > 0 {
			nb.Items = make([]string, len(block.Items))
			for j, item := range block.Items {
				nb.Items[j] = normalizeWhitespace(item)
			}
		}
		out.Content[i] = nb
	}
	return out
}

func normalizeWhitespace(s string) string {
	s = excessNewlines.ReplaceAllString(s, "\n\n")
	s = excessSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
