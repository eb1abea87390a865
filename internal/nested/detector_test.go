package nested

import (
	"testing"

	"github.com/noahchander/labtree/internal/models"
)

func protocolTree() *models.WorkflowExtractionResult {
	return &models.WorkflowExtractionResult{
		TreeName: "RNA-seq Study",
		Blocks: []models.ExtractedBlock{
			{
				BlockName: "Sample Processing Protocols",
				Nodes: []models.ExtractedNode{
					{
						Title:    "RNA Extraction Protocol",
						NodeType: models.NodeProtocol,
						Content: models.NodeContent{
							Text: "This standard protocol can be used for all tissue types. Centrifuge samples before lysis.",
							StructuredSteps: []string{
								"1. Homogenize tissue in TRIzol",
								"2. Add chloroform and shake",
								"3. Centrifuge at 12000g",
								"4. Transfer aqueous phase",
								"5. Precipitate with isopropanol",
								"6. Wash pellet with ethanol",
							},
						},
					},
					{
						Title:    "Mix Reagents",
						NodeType: models.NodeProtocol,
						Content:  models.NodeContent{Text: "Combine buffers."},
					},
				},
			},
			{
				BlockName: "Expression Analysis",
				Nodes: []models.ExtractedNode{
					{
						Title: "Library Prep", NodeType: models.NodeDataCreation,
						Content:      models.NodeContent{Text: "Prepare sequencing libraries."},
						Dependencies: []models.Dependency{{ReferencedNodeTitle: "RNA Extraction Protocol", Type: models.DepUsesOutput, ExtractedPhrase: "using extracted RNA"}},
					},
					{
						Title: "qPCR Validation", NodeType: models.NodeAnalysis,
						Content:      models.NodeContent{Text: "Validate candidates."},
						Dependencies: []models.Dependency{{ReferencedNodeTitle: "RNA Extraction Protocol", Type: models.DepRequires, ExtractedPhrase: "requires RNA extraction"}},
					},
					{
						Title: "Differential Expression", NodeType: models.NodeAnalysis,
						Content:      models.NodeContent{Text: "Run DESeq2."},
						Dependencies: []models.Dependency{{ReferencedNodeTitle: "RNA Extraction Protocol", Type: models.DepFollows, ExtractedPhrase: "after RNA extraction"}},
					},
				},
			},
		},
	}
}

func TestDetectPromotesReusableProtocol(t *testing.T) {
	tree := protocolTree()
	refs := NewDetector(0).Detect(tree)

	if len(refs) != 1 {
		t.Fatalf("promoted %d nodes, want 1: %+v", len(refs), refs)
	}
	ref := refs[0]
	if ref.NodeTitle != "RNA Extraction Protocol" {
		t.Errorf("promoted %q", ref.NodeTitle)
	}
	if ref.Score < DefaultScoreThreshold {
		t.Errorf("score = %d, want >= %d", ref.Score, DefaultScoreThreshold)
	}
	if len(ref.Reasons) == 0 {
		t.Error("promotion has no recorded reasons")
	}

	if !tree.Nodes()[0].IsNestedTree {
		t.Error("promoted node not marked IsNestedTree")
	}
	if tree.Nodes()[1].IsNestedTree {
		t.Error("plain node marked IsNestedTree")
	}
	if len(tree.NestedTrees) != 1 {
		t.Errorf("tree.NestedTrees = %d entries, want 1", len(tree.NestedTrees))
	}
}

func TestDetectScoresAreAdditive(t *testing.T) {
	base := models.ExtractedNode{
		Title:   "Staining Procedure",
		Content: models.NodeContent{Text: "Incubate slides with antibody."},
	}
	richer := base
	richer.Content.StructuredSteps = []string{"1. Block", "2. Stain", "3. Wash", "4. Mount", "5. Image"}

	d := NewDetector(0)
	baseScore, _ := d.scoreNode(&base, nil)
	richerScore, _ := d.scoreNode(&richer, nil)
	if richerScore <= baseScore {
		t.Errorf("adding steps lowered score: %d -> %d", baseScore, richerScore)
	}
}

func TestDetectHonorsModelHint(t *testing.T) {
	node := models.ExtractedNode{
		Title:   "Imaging Setup",
		Content: models.NodeContent{Text: "Configure the microscope."},
	}
	d := NewDetector(0)
	plain, _ := d.scoreNode(&node, nil)

	node.IsNestedTree = true
	hinted, _ := d.scoreNode(&node, nil)
	if hinted != plain+scoreModelHint {
		t.Errorf("model hint added %d, want %d", hinted-plain, scoreModelHint)
	}
}

func TestDependentsCountContentMentions(t *testing.T) {
	nodes := []*models.ExtractedNode{
		{Title: "Virus Titration", NodeType: models.NodeProtocol, Content: models.NodeContent{Text: "Serially dilute the stock."}},
		{Title: "Transduce Cells", NodeType: models.NodeProtocol, Content: models.NodeContent{Text: "Infect at the MOI from virus titration."}},
		{Title: "Screen Setup", NodeType: models.NodeDataCreation, Content: models.NodeContent{
			StructuredSteps: []string{"1. Repeat virus titration for each batch", "2. Seed cells"},
		}},
		{
			Title: "Coverage Check", NodeType: models.NodeAnalysis,
			Content:      models.NodeContent{Text: "Confirm coverage against virus titration."},
			Dependencies: []models.Dependency{{ReferencedNodeTitle: "Virus Titration", Type: models.DepRequires}},
		},
	}

	deps := dependentsByTitle(nodes)["virus titration"]
	if len(deps) != 3 {
		t.Fatalf("dependents = %d, want 3 (mentions count, edge+mention counts once)", len(deps))
	}
	for _, dep := range deps {
		if dep.Title == "Virus Titration" {
			t.Error("node counted as its own dependent")
		}
	}
}

func TestDetectCustomThreshold(t *testing.T) {
	tree := protocolTree()
	refs := NewDetector(100).Detect(tree)
	if len(refs) != 0 {
		t.Errorf("threshold 100 still promoted %d nodes", len(refs))
	}
	for _, node := range tree.Nodes() {
		if node.IsNestedTree {
			t.Errorf("node %q marked despite unmet threshold", node.Title)
		}
	}
}
