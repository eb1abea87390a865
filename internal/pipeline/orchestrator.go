package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/noahchander/labtree/internal/analyze"
	"github.com/noahchander/labtree/internal/consolidate"
	"github.com/noahchander/labtree/internal/enrich"
	"github.com/noahchander/labtree/internal/extract"
	"github.com/noahchander/labtree/internal/models"
	"github.com/noahchander/labtree/internal/nested"
	"github.com/noahchander/labtree/internal/synthesize"
)

// ErrNoDocuments is returned when Run is called with nothing to process.
var ErrNoDocuments = errors.New("pipeline: no documents to process")

// Confidence shaping for stored proposals.
const (
	baseConfidence        = 0.9
	warningPenalty        = 0.05
	fallbackMergePenalty  = 0.1
	maxAggregatedFailures = 3
)

// DocumentExtractor turns one document into a workflow tree.
type DocumentExtractor interface {
	ExtractWorkflow(ctx context.Context, doc models.StructuredDocument, projectContext string, complexity models.DocumentComplexity) (*extract.Outcome, error)
}

// TreeMerger combines per-document trees into one.
type TreeMerger interface {
	Merge(ctx context.Context, projectContext string, results []*models.WorkflowExtractionResult) (*synthesize.Outcome, error)
}

// NodeStore persists proposed nodes. The orchestrator is the only writer.
type NodeStore interface {
	InsertProposedNode(ctx context.Context, node models.ProposedNode) (string, error)
}

// Attempt records the outcome of one document extraction.
type Attempt struct {
	FileName string
	Provider string
	Warnings int
	Err      error
}

// Result is the outcome of one pipeline run.
type Result struct {
	JobID       string
	Success     bool
	Cancelled   bool
	Tree        *models.WorkflowExtractionResult
	ProposedIDs []string
	Attempts    []Attempt
	MergeLog    []consolidate.MergeEntry
	NestedTrees []models.NestedTreeRef
}

// Options tunes a pipeline run. Zero values fall back to defaults.
type Options struct {
	ProjectContext  string
	BatchSize       int
	BatchDelay      time.Duration
	DocumentTimeout time.Duration
	TargetBlocks    int
	NestedThreshold int
	CleanConfig     analyze.CleanConfig

	// Jobs and Progress are optional; without them the run is untracked.
	Jobs     JobStore
	Progress ProgressReporter
}

// Orchestrator drives the full run over a set of documents.
type Orchestrator struct {
	extractor DocumentExtractor
	merger    TreeMerger
	nodes     NodeStore
	opts      Options
}

// New creates an Orchestrator. The extractor, merger, and node store are
// required; jobs and progress are wired through Options.
func New(extractor DocumentExtractor, merger TreeMerger, nodes NodeStore, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.DocumentTimeout <= 0 {
		opts.DocumentTimeout = 4 * time.Minute
	}
	if opts.TargetBlocks <= 0 {
		opts.TargetBlocks = consolidate.DefaultTargetBlocks
	}
	if opts.NestedThreshold <= 0 {
		opts.NestedThreshold = nested.DefaultScoreThreshold
	}
	if opts.CleanConfig == (analyze.CleanConfig{}) {
		opts.CleanConfig = analyze.DefaultCleanConfig()
	}
	return &Orchestrator{extractor: extractor, merger: merger, nodes: nodes, opts: opts}
}

// Run executes the pipeline over the documents. Per-document extraction
// failures are isolated; the run fails only when no document yields any
// nodes. Cancellation is polled at stage boundaries and before each task.
func (o *Orchestrator) Run(ctx context.Context, docs []models.StructuredDocument) (*Result, error) {
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	res := &Result{}
	if o.opts.Jobs != nil {
		id, err := o.opts.Jobs.CreateJob(ctx, len(docs))
		if err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
		res.JobID = id
	}
	runID := res.JobID
	if runID == "" {
		runID = uuid.NewString()
	}
	o.report(ctx, res.JobID, StageInitializing, 0, 0)

	// Loading: clean documents and size up each one.
	o.report(ctx, res.JobID, StageLoading, 0, 0)
	cleaned := make([]models.StructuredDocument, len(docs))
	complexities := make([]models.DocumentComplexity, len(docs))
	for i, doc := range docs {
		cd, cleanReport := analyze.Clean(doc, o.opts.CleanConfig)
		if len(cleanReport.RemovedSections) > 0 {
			slog.Info("cleaned document", "file", doc.FileName, "removed_sections", len(cleanReport.RemovedSections))
		}
		cleaned[i] = cd
		complexities[i] = analyze.EstimateComplexity(cd)
		slog.Info("document sized",
			"file", doc.FileName,
			"strategy", complexities[i].Strategy,
			"estimated_nodes", complexities[i].EstimatedNodeCount,
			"hierarchical", complexities[i].ShouldUseHierarchical)
	}

	if o.cancelRequested(ctx, res.JobID) {
		return o.finishCancelled(ctx, res, 0, 0)
	}

	// Extracting: fixed-size batches with a cooldown between them.
	outcomes := make([]*extract.Outcome, len(docs))
	var mu sync.Mutex
	processed, failed := 0, 0

	for start := 0; start < len(docs); start += o.opts.BatchSize {
		if o.cancelRequested(ctx, res.JobID) {
			return o.finishCancelled(ctx, res, processed, failed)
		}
		if start > 0 && o.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return o.finishCancelled(ctx, res, processed, failed)
			case <-time.After(o.opts.BatchDelay):
			}
		}

		end := min(start+o.opts.BatchSize, len(docs))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				if o.cancelRequested(gctx, res.JobID) {
					return nil
				}
				tctx, cancel := context.WithTimeout(gctx, o.opts.DocumentTimeout)
				defer cancel()

				outcome, err := o.extractor.ExtractWorkflow(tctx, cleaned[i], o.opts.ProjectContext, complexities[i])

				mu.Lock()
				defer mu.Unlock()
				attempt := Attempt{FileName: cleaned[i].FileName, Err: err}
				if err != nil {
					failed++
					slog.Error("document extraction failed", "file", cleaned[i].FileName, "error", err)
				} else {
					processed++
					outcomes[i] = outcome
					attempt.Provider = outcome.Provider
					attempt.Warnings = len(outcome.Warnings)
				}
				res.Attempts = append(res.Attempts, attempt)
				return nil
			})
		}
		_ = g.Wait()
		o.report(ctx, res.JobID, StageExtracting, processed, failed)
	}

	var trees []*models.WorkflowExtractionResult
	var sourceDocs []models.StructuredDocument
	warningsByDoc := make(map[string]int)
	for i, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		trees = append(trees, outcome.Result)
		sourceDocs = append(sourceDocs, cleaned[i])
		warningsByDoc[cleaned[i].SourceID] = len(outcome.Warnings)
	}
	if len(trees) == 0 {
		err := fmt.Errorf("all %d documents failed: %w", len(docs), aggregateFailures(res.Attempts))
		return o.finishError(ctx, res, processed, failed, err)
	}

	if o.cancelRequested(ctx, res.JobID) {
		return o.finishCancelled(ctx, res, processed, failed)
	}

	// Merging: only when more than one document succeeded.
	tree := trees[0]
	usedFallback := false
	if len(trees) > 1 {
		o.report(ctx, res.JobID, StageMerging, processed, failed)
		merged, err := o.merger.Merge(ctx, o.opts.ProjectContext, trees)
		if err != nil {
			return o.finishError(ctx, res, processed, failed, fmt.Errorf("merge: %w", err))
		}
		tree = merged.Result
		usedFallback = merged.UsedFallback
	}

	res.MergeLog = consolidate.New(o.opts.TargetBlocks).Consolidate(tree)

	if o.cancelRequested(ctx, res.JobID) {
		return o.finishCancelled(ctx, res, processed, failed)
	}

	// Resolving: link figure and table mentions back to their sources.
	o.report(ctx, res.JobID, StageResolving, processed, failed)
	for _, doc := range sourceDocs {
		resolved, unresolved := enrich.ResolveAttachments(doc, tree)
		if resolved+unresolved > 0 {
			slog.Info("attachments resolved", "file", doc.FileName, "resolved", resolved, "unresolved", unresolved)
		}
	}

	o.report(ctx, res.JobID, StageDependencies, processed, failed)
	if added := enrich.NewDependencyExtractor().Extract(tree); added > 0 {
		slog.Info("dependencies derived from phrasing", "added", added)
	}

	o.report(ctx, res.JobID, StageNesting, processed, failed)
	res.NestedTrees = nested.NewDetector(o.opts.NestedThreshold).Detect(tree)

	if o.cancelRequested(ctx, res.JobID) {
		return o.finishCancelled(ctx, res, processed, failed)
	}

	// Storing: proposals only, never accepted nodes.
	o.report(ctx, res.JobID, StageStoring, processed, failed)
	documentIDs := make([]string, len(sourceDocs))
	for i, doc := range sourceDocs {
		documentIDs[i] = doc.SourceID
	}
	for _, node := range tree.Nodes() {
		confidence := o.confidenceFor(node, warningsByDoc, usedFallback)
		proposal, err := models.NewProposedNode(*node, confidence, models.Provenance{
			RunID:       runID,
			DocumentIDs: documentIDs,
			Provider:    node.Metadata.Provider,
			Strategy:    node.Metadata.Strategy,
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			slog.Error("proposal serialization failed", "node", node.Title, "error", err)
			continue
		}
		id, err := o.nodes.InsertProposedNode(ctx, proposal)
		if err != nil {
			slog.Error("proposal insert failed", "node", node.Title, "error", err)
			continue
		}
		res.ProposedIDs = append(res.ProposedIDs, id)
	}

	summary := tree.Summarize()
	slog.Info("pipeline complete",
		"job", res.JobID,
		"nodes", summary.TotalNodes,
		"blocks", summary.TotalBlocks,
		"dependencies", summary.TotalDependencies,
		"attachments", summary.TotalAttachments,
		"nested_trees", len(res.NestedTrees),
		"proposed", len(res.ProposedIDs))
	logNodeMetrics(tree)

	if o.opts.Jobs != nil {
		if err := o.opts.Jobs.SetJobStatus(ctx, res.JobID, string(StageComplete), ""); err != nil {
			slog.Warn("job status update failed", "job", res.JobID, "error", err)
		}
	}
	o.report(ctx, res.JobID, StageComplete, processed, failed)

	res.Success = true
	res.Tree = tree
	return res, nil
}

// confidenceFor shapes a proposal's confidence from extraction warnings on
// its source document and the merge path taken. Clamping happens in
// NewProposedNode.
func (o *Orchestrator) confidenceFor(node *models.ExtractedNode, warningsByDoc map[string]int, usedFallback bool) float64 {
	confidence := baseConfidence
	confidence -= warningPenalty * float64(warningsByDoc[node.Metadata.SourceDocumentID])
	if usedFallback {
		confidence -= fallbackMergePenalty
	}
	return confidence
}

func (o *Orchestrator) report(ctx context.Context, jobID string, stage Stage, processed, failed int) {
	if o.opts.Progress != nil {
		o.opts.Progress.Report(ctx, jobID, stage, processed, failed)
	}
	if o.opts.Jobs != nil && jobID != "" {
		if err := o.opts.Jobs.UpdateJobProgress(ctx, jobID, string(stage), processed, failed); err != nil {
			slog.Warn("job progress update failed", "job", jobID, "stage", stage, "error", err)
		}
	}
}

// cancelRequested polls both the context and the job store flag.
func (o *Orchestrator) cancelRequested(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	if o.opts.Jobs == nil || jobID == "" {
		return false
	}
	cancelled, err := o.opts.Jobs.JobCancelRequested(ctx, jobID)
	if err != nil {
		slog.Warn("cancellation check failed", "job", jobID, "error", err)
		return false
	}
	return cancelled
}

func (o *Orchestrator) finishCancelled(ctx context.Context, res *Result, processed, failed int) (*Result, error) {
	slog.Info("pipeline cancelled", "job", res.JobID, "processed", processed, "failed", failed)
	if o.opts.Jobs != nil && res.JobID != "" {
		if err := o.opts.Jobs.SetJobStatus(ctx, res.JobID, string(StageCancelled), ""); err != nil {
			slog.Warn("job status update failed", "job", res.JobID, "error", err)
		}
	}
	o.report(ctx, res.JobID, StageCancelled, processed, failed)
	res.Cancelled = true
	return res, nil
}

func (o *Orchestrator) finishError(ctx context.Context, res *Result, processed, failed int, err error) (*Result, error) {
	if o.opts.Jobs != nil && res.JobID != "" {
		if serr := o.opts.Jobs.SetJobStatus(ctx, res.JobID, string(StageError), err.Error()); serr != nil {
			slog.Warn("job status update failed", "job", res.JobID, "error", serr)
		}
	}
	o.report(ctx, res.JobID, StageError, processed, failed)
	return res, err
}

// aggregateFailures joins a sample of attempt errors for the run error.
func aggregateFailures(attempts []Attempt) error {
	var errs []error
	for _, a := range attempts {
		if a.Err == nil {
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %w", a.FileName, a.Err))
		if len(errs) == maxAggregatedFailures {
			break
		}
	}
	return errors.Join(errs...)
}

// logNodeMetrics surfaces extraction quality signals. Informational only;
// proposals are never filtered on them.
func logNodeMetrics(tree *models.WorkflowExtractionResult) {
	for _, node := range tree.Nodes() {
		if node.Metadata.Metrics == nil {
			continue
		}
		slog.Debug("node extraction metrics",
			"node", node.Title,
			"coverage", node.Metadata.Metrics.CoverageRatio,
			"quality", node.Metadata.Metrics.Quality)
	}
}
