// Package consolidate reduces block fragmentation in an extracted tree by
// merging near-duplicate, single-node, and keyword-clustered blocks.
// Node content is never altered, only regrouped.
package consolidate

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/noahchander/labtree/internal/models"
)

const (
	// singleNodeSimilarity is the floor for folding a single-node block
	// into a same-type neighbor.
	singleNodeSimilarity = 0.3
	// duplicateNameSimilarity is the floor for treating two block names
	// as the same theme.
	duplicateNameSimilarity = 0.6
	// overflowFactor sets the fragmentation bound that triggers forced
	// merging back down to the target.
	overflowFactor = 1.5
)

// DefaultTargetBlocks is the block count consolidation aims for.
const DefaultTargetBlocks = 5

// fragmentClusters are word groups that signal the same workflow phase
// split across blocks.
var fragmentClusters = [][]string{
	{"result", "results", "finding", "findings", "outcome", "outcomes"},
	{"evaluation", "performance", "benchmark", "validation"},
	{"preparation", "prep", "setup"},
}

// MergeEntry records one block merge for auditability.
type MergeEntry struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Reason      string `json:"reason"`
}

// Consolidator merges fragmented blocks down toward a target count.
type Consolidator struct {
	target int
}

// New creates a Consolidator; a non-positive target falls back to
// DefaultTargetBlocks.
func New(target int) *Consolidator {
	if target <= 0 {
		target = DefaultTargetBlocks
	}
	return &Consolidator{target: target}
}

// Consolidate merges blocks in place and returns the merge log. Trees at
// or under the target are left untouched, so a consolidated tree passes
// through unchanged on a second run. Block positions are renumbered
// contiguously from 1 afterwards.
func (c *Consolidator) Consolidate(result *models.WorkflowExtractionResult) []MergeEntry {
	if len(result.Blocks) <= c.target {
		return nil
	}

	blocks := make([]models.ExtractedBlock, len(result.Blocks))
	copy(blocks, result.Blocks)

	var log []MergeEntry
	merge := func(dst, src int, reason string) {
		entry := MergeEntry{Source: blocks[src].BlockName, Destination: blocks[dst].BlockName, Reason: reason}
		log = append(log, entry)
		slog.Debug("merging blocks", "source", entry.Source, "destination", entry.Destination, "reason", reason)
		blocks[dst].Nodes = append(blocks[dst].Nodes, blocks[src].Nodes...)
		blocks = append(blocks[:src], blocks[src+1:]...)
	}

	// Single-node blocks fold into the most similar same-type block.
	for i := 0; i < len(blocks); {
		if len(blocks[i].Nodes) != 1 {
			i++
			continue
		}
		dst, sim := bestPartner(blocks, i, singleNodeSimilarity, true)
		if dst < 0 {
			i++
			continue
		}
		merge(dst, i, fmt.Sprintf("single-node block, name similarity %.2f", sim))
		if dst < i {
			i = dst
		}
	}

	// Blocks whose names describe the same theme merge regardless of size.
	for i := 0; i < len(blocks); {
		dst, sim := bestPartner(blocks, i, duplicateNameSimilarity, false)
		if dst < 0 {
			i++
			continue
		}
		merge(dst, i, fmt.Sprintf("near-duplicate block name, similarity %.2f", sim))
		if dst < i {
			i = dst
		}
	}

	// Blocks fragmented across the same keyword cluster merge into the
	// first block of the cluster.
	for _, cluster := range fragmentClusters {
		first := -1
		for i := 0; i < len(blocks); {
			if !nameInCluster(blocks[i].BlockName, cluster) {
				i++
				continue
			}
			if first < 0 {
				first = i
				i++
				continue
			}
			merge(first, i, "fragmented "+cluster[0]+" blocks")
		}
	}

	// Hard ceiling: a tree still fragmented past the overflow bound merges
	// its two smallest blocks until the target is reached. Mild overshoot
	// below the bound is tolerated.
	limit := int(math.Ceil(float64(c.target) * overflowFactor))
	if len(blocks) > limit {
		for len(blocks) > c.target {
			a, b := twoSmallest(blocks)
			merge(a, b, "block count above limit")
		}
	}

	for i := range blocks {
		blocks[i].Position = i + 1
	}
	result.Blocks = blocks
	return log
}

// bestPartner finds the most similar other block above the floor. With
// sameType set, only blocks of the same block type qualify.
func bestPartner(blocks []models.ExtractedBlock, i int, floor float64, sameType bool) (int, float64) {
	best, bestSim := -1, floor
	for j := range blocks {
		if j == i {
			continue
		}
		if sameType && blocks[j].BlockType != blocks[i].BlockType {
			continue
		}
		sim := models.TitleSimilarity(blocks[i].BlockName, blocks[j].BlockName)
		if sim > bestSim {
			best, bestSim = j, sim
		}
	}
	return best, bestSim
}

func nameInCluster(name string, cluster []string) bool {
	lower := strings.ToLower(name)
	for _, word := range cluster {
		for _, nameWord := range strings.Fields(lower) {
			if nameWord == word {
				return true
			}
		}
	}
	return false
}

// twoSmallest returns indices of the two blocks with the fewest nodes,
// destination first.
func twoSmallest(blocks []models.ExtractedBlock) (int, int) {
	a, b := 0, 1
	if len(blocks[b].Nodes) < len(blocks[a].Nodes) {
		a, b = b, a
	}
	for i := 2; i < len(blocks); i++ {
		n := len(blocks[i].Nodes)
		if n < len(blocks[a].Nodes) {
			a, b = i, a
		} else if n < len(blocks[b].Nodes) {
			b = i
		}
	}
	if a < b {
		return a, b
	}
	return b, a
}
