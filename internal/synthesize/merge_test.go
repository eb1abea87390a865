package synthesize

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/noahchander/labtree/internal/llm"
	"github.com/noahchander/labtree/internal/models"
)

type stubProvider struct {
	name string
	out  string
	err  error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) ModelInfo() llm.ModelInfo {
	return llm.ModelInfo{Name: p.name + "-model", MaxInputTokens: 100000, MaxOutputTokens: 8192}
}

func (p *stubProvider) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	if p.err != nil {
		return nil, p.err
	}
	return json.RawMessage(p.out), nil
}

func tree(name string, blocks ...models.ExtractedBlock) *models.WorkflowExtractionResult {
	return &models.WorkflowExtractionResult{TreeName: name, Blocks: blocks}
}

func block(name, blockType string, titles ...string) models.ExtractedBlock {
	b := models.ExtractedBlock{BlockName: name, BlockType: blockType}
	for _, title := range titles {
		b.Nodes = append(b.Nodes, models.ExtractedNode{
			Title:    title,
			NodeType: models.NodeProtocol,
			Content:  models.NodeContent{Text: title + " details"},
		})
	}
	return b
}

func TestMergeZeroInputs(t *testing.T) {
	m := NewMerger(llm.NewChain(nil, &stubProvider{name: "openai"}))
	if _, err := m.Merge(context.Background(), "", nil); !errors.Is(err, ErrNoResults) {
		t.Fatalf("Merge(nil) error = %v, want ErrNoResults", err)
	}
}

func TestMergeSingleInputIsIdentity(t *testing.T) {
	in := tree("Solo", block("Sample Prep Protocol", "protocol", "Cell Lysis"))
	m := NewMerger(llm.NewChain(nil, &stubProvider{name: "openai", err: errors.New("must not be called")}))

	out, err := m.Merge(context.Background(), "", []*models.WorkflowExtractionResult{in})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if diff := cmp.Diff(in, out.Result); diff != "" {
		t.Errorf("single-input merge changed the tree (-want +got):\n%s", diff)
	}
	if out.UsedFallback {
		t.Error("single-input merge reported fallback")
	}
}

func TestMergeUsesProviderResult(t *testing.T) {
	merged := tree("Merged Screen Workflow",
		block("Library Preparation Protocol", "protocol", "sgRNA Amplification", "Lentivirus Production"),
		block("Readout Analysis Pipeline", "analysis", "MAGeCK Scoring"),
	)
	raw, err := json.Marshal(merged)
	if err != nil {
		t.Fatal(err)
	}

	m := NewMerger(llm.NewChain(nil, &stubProvider{name: "anthropic", out: string(raw)}))
	inputs := []*models.WorkflowExtractionResult{
		tree("A", block("Library Preparation Protocol", "protocol", "sgRNA Amplification")),
		tree("B", block("Readout Analysis Pipeline", "analysis", "MAGeCK Scoring")),
	}

	out, err := m.Merge(context.Background(), "", inputs)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if out.UsedFallback {
		t.Error("provider merge reported fallback")
	}
	if out.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", out.Provider)
	}
	if out.Result.TreeName != "Merged Screen Workflow" {
		t.Errorf("TreeName = %q", out.Result.TreeName)
	}
}

func TestMergeFallsBackWhenProviderFails(t *testing.T) {
	m := NewMerger(llm.NewChain(nil, &stubProvider{name: "openai", err: llm.ErrFatalAPI}))
	inputs := []*models.WorkflowExtractionResult{
		tree("A", block("Culture Protocol", "protocol", "Thaw Cells", "Expand Culture")),
		tree("B", block("Infection Protocol", "protocol", "Transduce Cells"), block("Hit Analysis", "analysis", "Score Hits")),
	}

	out, err := m.Merge(context.Background(), "", inputs)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !out.UsedFallback {
		t.Fatal("expected structural fallback")
	}
	if got := out.Result.NodeCount(); got != 4 {
		t.Errorf("fallback NodeCount = %d, want 4 (every input node kept)", got)
	}
	if len(out.Result.Blocks) != 2 {
		t.Errorf("fallback blocks = %d, want 2 (one per block type)", len(out.Result.Blocks))
	}
}

func TestStructuralMergeConcatenatesIdentity(t *testing.T) {
	a := tree("CRISPR Screen", block("Prep Protocol", "protocol", "Cell Lysis"))
	a.TreeDescription = "Dropout screen in K562 cells."
	b := tree("Hit Validation", block("Validation Protocol", "protocol", "Arrayed Knockout"))
	b.TreeDescription = "Arrayed follow-up of top hits."

	merged := StructuralMerge([]*models.WorkflowExtractionResult{a, b})
	if merged.TreeName != "CRISPR Screen + Hit Validation" {
		t.Errorf("TreeName = %q, want both input names", merged.TreeName)
	}
	if merged.TreeDescription != "Dropout screen in K562 cells. Arrayed follow-up of top hits." {
		t.Errorf("TreeDescription = %q, want both input descriptions", merged.TreeDescription)
	}

	// A repeated name is not concatenated with itself.
	same := StructuralMerge([]*models.WorkflowExtractionResult{a, a})
	if same.TreeName != "CRISPR Screen" {
		t.Errorf("TreeName = %q, want single name for identical inputs", same.TreeName)
	}
}

func TestStructuralMergeGroupsByTypeAndDedupesTitles(t *testing.T) {
	inputs := []*models.WorkflowExtractionResult{
		tree("A", block("Prep Protocol", "protocol", "Cell Lysis")),
		tree("B", block("Wash Protocol", "protocol", "Cell Lysis"), block("Imaging Analysis", "analysis", "Count Colonies")),
	}

	merged := StructuralMerge(inputs)
	if merged.NodeCount() != 3 {
		t.Fatalf("NodeCount = %d, want 3", merged.NodeCount())
	}
	if len(merged.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(merged.Blocks))
	}

	protocol := merged.Blocks[0]
	if protocol.BlockType != "protocol" || protocol.Position != 1 {
		t.Errorf("first block = %+v, want protocol at position 1", protocol)
	}
	titles := map[string]bool{}
	for _, n := range protocol.Nodes {
		if titles[n.Title] {
			t.Errorf("duplicate title %q survived merge", n.Title)
		}
		titles[n.Title] = true
	}
	if !titles["Cell Lysis"] || !titles["Cell Lysis (2)"] {
		t.Errorf("colliding titles not suffixed: %v", titles)
	}
}

func TestStructuralMergeIsTotalOverManyTrees(t *testing.T) {
	var inputs []*models.WorkflowExtractionResult
	want := 0
	for i := 0; i < 9; i++ {
		inputs = append(inputs, tree("T", block("Shared Protocol Phase", "protocol", "Step")))
		want++
	}
	merged := StructuralMerge(inputs)
	if merged.NodeCount() != want {
		t.Errorf("NodeCount = %d, want %d", merged.NodeCount(), want)
	}
	if len(merged.Blocks) != 1 {
		t.Errorf("blocks = %d, want 1", len(merged.Blocks))
	}
}
