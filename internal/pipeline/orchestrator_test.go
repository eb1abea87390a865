package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/noahchander/labtree/internal/extract"
	"github.com/noahchander/labtree/internal/models"
	"github.com/noahchander/labtree/internal/synthesize"
)

type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	failing map[string]error
	after   func()
}

func (f *fakeExtractor) ExtractWorkflow(ctx context.Context, doc models.StructuredDocument, projectContext string, complexity models.DocumentComplexity) (*extract.Outcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.after != nil {
		defer f.after()
	}
	if err := f.failing[doc.FileName]; err != nil {
		return nil, err
	}

	prefix := strings.TrimSuffix(doc.FileName, ".pdf")
	result := &models.WorkflowExtractionResult{
		TreeName: prefix + " workflow",
		Blocks: []models.ExtractedBlock{{
			BlockName: prefix + " Protocol Phase",
			BlockType: "protocol",
			Nodes: []models.ExtractedNode{
				{
					Title:    prefix + " Step One",
					NodeType: models.NodeProtocol,
					Content:  models.NodeContent{Text: "do the first thing"},
					Metadata: models.NodeMetadata{SourceDocumentID: doc.SourceID, Provider: "openai"},
				},
				{
					Title:    prefix + " Step Two",
					NodeType: models.NodeProtocol,
					Content:  models.NodeContent{Text: "do the second thing"},
					Metadata: models.NodeMetadata{SourceDocumentID: doc.SourceID, Provider: "openai"},
				},
			},
		}},
	}
	return &extract.Outcome{Result: result, Provider: "openai"}, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMerger struct {
	called bool
}

func (f *fakeMerger) Merge(ctx context.Context, projectContext string, results []*models.WorkflowExtractionResult) (*synthesize.Outcome, error) {
	f.called = true
	return &synthesize.Outcome{
		Result:       synthesize.StructuralMerge(results),
		Provider:     "structural",
		UsedFallback: true,
	}, nil
}

type fakeNodeStore struct {
	mu       sync.Mutex
	inserted []models.ProposedNode
}

func (f *fakeNodeStore) InsertProposedNode(ctx context.Context, node models.ProposedNode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, node)
	return fmt.Sprintf("proposed:%d", len(f.inserted)), nil
}

type fakeJobs struct {
	mu        sync.Mutex
	created   int
	cancelled bool
	status    string
}

func (f *fakeJobs) CreateJob(ctx context.Context, totalDocuments int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return "job-1", nil
}

func (f *fakeJobs) UpdateJobProgress(ctx context.Context, id, stage string, processed, failed int) error {
	return nil
}

func (f *fakeJobs) SetJobStatus(ctx context.Context, id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	return nil
}

func (f *fakeJobs) JobCancelRequested(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled, nil
}

func (f *fakeJobs) requestCancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
}

func pipelineDoc(name string) models.StructuredDocument {
	return models.StructuredDocument{
		SourceID: name,
		FileName: name + ".pdf",
		Sections: []models.Section{{
			Title: "Methods",
			Content: []models.ContentBlock{{
				Type: models.ContentText,
				Text: "Cells were cultured in complete medium and passaged twice weekly before the screen began.",
			}},
		}},
	}
}

func TestRunNoDocuments(t *testing.T) {
	ext := &fakeExtractor{}
	jobs := &fakeJobs{}
	o := New(ext, &fakeMerger{}, &fakeNodeStore{}, Options{Jobs: jobs})

	_, err := o.Run(context.Background(), nil)
	if !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("Run(nil) error = %v, want ErrNoDocuments", err)
	}
	if ext.callCount() != 0 {
		t.Error("extractor called for empty input")
	}
	if jobs.created != 0 {
		t.Error("job created for empty input")
	}
}

func TestRunSingleDocument(t *testing.T) {
	ext := &fakeExtractor{}
	merger := &fakeMerger{}
	store := &fakeNodeStore{}
	jobs := &fakeJobs{}
	progress := NewInMemoryProgress()
	o := New(ext, merger, store, Options{Jobs: jobs, Progress: progress})

	res, err := o.Run(context.Background(), []models.StructuredDocument{pipelineDoc("alpha")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Success || res.Cancelled {
		t.Errorf("res = %+v, want success", res)
	}
	if merger.called {
		t.Error("merger called for a single document")
	}
	if len(store.inserted) != 2 {
		t.Fatalf("proposals = %d, want 2", len(store.inserted))
	}
	for _, p := range store.inserted {
		if p.Status != models.ProposalProposed {
			t.Errorf("proposal status = %q", p.Status)
		}
		if p.Confidence != 0.9 {
			t.Errorf("clean run confidence = %v, want 0.9", p.Confidence)
		}
		if p.Provenance.RunID != "job-1" {
			t.Errorf("provenance run = %q, want job-1", p.Provenance.RunID)
		}
	}
	if jobs.status != string(StageComplete) {
		t.Errorf("job status = %q, want complete", jobs.status)
	}
	if snap, ok := progress.Snapshot("job-1"); !ok || snap.Stage != StageComplete {
		t.Errorf("progress snapshot = %+v, %v", snap, ok)
	}
}

func TestRunMergesMultipleDocuments(t *testing.T) {
	ext := &fakeExtractor{}
	merger := &fakeMerger{}
	store := &fakeNodeStore{}
	o := New(ext, merger, store, Options{})

	docs := []models.StructuredDocument{pipelineDoc("alpha"), pipelineDoc("beta")}
	res, err := o.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !merger.called {
		t.Error("merger not called for two successful documents")
	}
	if res.Tree.NodeCount() != 4 {
		t.Errorf("merged NodeCount = %d, want 4", res.Tree.NodeCount())
	}
	for _, p := range store.inserted {
		if p.Confidence >= 0.9 {
			t.Errorf("fallback merge confidence = %v, want < 0.9", p.Confidence)
		}
	}
}

func TestRunIsolatesDocumentFailures(t *testing.T) {
	ext := &fakeExtractor{failing: map[string]error{"beta.pdf": errors.New("provider exploded")}}
	store := &fakeNodeStore{}
	merger := &fakeMerger{}
	o := New(ext, merger, store, Options{})

	res, err := o.Run(context.Background(), []models.StructuredDocument{pipelineDoc("alpha"), pipelineDoc("beta")})
	if err != nil {
		t.Fatalf("Run() error = %v, want success despite one failure", err)
	}
	if !res.Success {
		t.Error("run not successful")
	}
	if merger.called {
		t.Error("merger called with a single surviving tree")
	}
	if len(store.inserted) != 2 {
		t.Errorf("proposals = %d, want 2 from the surviving document", len(store.inserted))
	}

	var failedAttempts int
	for _, a := range res.Attempts {
		if a.Err != nil {
			failedAttempts++
			if a.FileName != "beta.pdf" {
				t.Errorf("failed attempt file = %q", a.FileName)
			}
		}
	}
	if failedAttempts != 1 {
		t.Errorf("failed attempts = %d, want 1", failedAttempts)
	}
}

func TestRunFailsWhenAllDocumentsFail(t *testing.T) {
	boom := errors.New("rate limited hard")
	ext := &fakeExtractor{failing: map[string]error{"alpha.pdf": boom, "beta.pdf": boom}}
	jobs := &fakeJobs{}
	store := &fakeNodeStore{}
	o := New(ext, &fakeMerger{}, store, Options{Jobs: jobs})

	res, err := o.Run(context.Background(), []models.StructuredDocument{pipelineDoc("alpha"), pipelineDoc("beta")})
	if err == nil {
		t.Fatal("Run() succeeded with zero extracted nodes")
	}
	if !errors.Is(err, boom) {
		t.Errorf("aggregated error %v does not wrap the cause", err)
	}
	if res.Success {
		t.Error("result marked successful")
	}
	if len(store.inserted) != 0 {
		t.Error("proposals written despite total failure")
	}
	if jobs.status != string(StageError) {
		t.Errorf("job status = %q, want error", jobs.status)
	}
}

func TestRunCancellationBetweenBatches(t *testing.T) {
	jobs := &fakeJobs{}
	ext := &fakeExtractor{}
	ext.after = jobs.requestCancel
	store := &fakeNodeStore{}
	o := New(ext, &fakeMerger{}, store, Options{BatchSize: 1, Jobs: jobs})

	docs := []models.StructuredDocument{pipelineDoc("alpha"), pipelineDoc("beta"), pipelineDoc("gamma")}
	res, err := o.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("Run() error = %v, want clean cancellation", err)
	}
	if !res.Cancelled || res.Success {
		t.Errorf("res = %+v, want cancelled", res)
	}
	if ext.callCount() != 1 {
		t.Errorf("extractor calls = %d, want 1 (remaining batches skipped)", ext.callCount())
	}
	if len(store.inserted) != 0 {
		t.Error("proposals written for a cancelled run")
	}
	if jobs.status != string(StageCancelled) {
		t.Errorf("job status = %q, want cancelled", jobs.status)
	}
}
