package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/noahchander/labtree/internal/db"
	"github.com/noahchander/labtree/internal/extract"
	"github.com/noahchander/labtree/internal/llm"
	"github.com/noahchander/labtree/internal/models"
	"github.com/noahchander/labtree/internal/pipeline"
	"github.com/noahchander/labtree/internal/retrieval"
	"github.com/noahchander/labtree/internal/synthesize"
)

var (
	extractProject string
	extractPlain   bool
	extractStored  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <files-or-dirs>",
	Short: "Extract a workflow tree from structured documents",
	Long: `Extract a workflow tree from one or more structured documents.

Arguments are JSON or YAML files holding StructuredDocument payloads
(single document or array), or directories containing such files.
With --stored the document feed already in the database is extracted
instead, in creation order. Extracted nodes are stored as proposals;
review them before acceptance.

Examples:
  labtree extract paper.json
  labtree extract ./fixtures --project "CRISPR dropout screen"
  labtree extract --stored`,
	Args: cobra.ArbitraryArgs,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractProject, "project", "", "project context woven into extraction prompts")
	extractCmd.Flags().BoolVar(&extractPlain, "plain", false, "log progress instead of the interactive display")
	extractCmd.Flags().BoolVar(&extractStored, "stored", false, "extract the stored document feed instead of local files")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()

	var docs []models.StructuredDocument
	var err error
	switch {
	case extractStored && len(args) > 0:
		return fmt.Errorf("--stored takes no file arguments")
	case extractStored:
		docs, err = dbClient.Documents(ctx)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("no documents stored; run extract with files first")
		}
	case len(args) == 0:
		return fmt.Errorf("provide document files or directories, or --stored")
	default:
		docs, err = loadDocuments(args)
		if err != nil {
			return err
		}
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents found in %s", strings.Join(args, ", "))
	}
	slog.Info("documents loaded", "count", len(docs))

	chain, err := buildChain()
	if err != nil {
		return err
	}
	// Each provider attempt gets the configured timeout to itself; the
	// document deadline covers the whole chain.
	chain = chain.WithAttemptTimeout(cfg.ExtractionTimeout)
	documentTimeout := cfg.ExtractionTimeout * time.Duration(len(chain.Providers()))

	if cfg.HierarchicalEnabled {
		slog.Warn("hierarchical extraction flag set; no strategy is built in, oversized documents use single-call extraction")
	}

	extractorOpts := []extract.Option{}
	retriever := buildRetriever(ctx, docs)
	if retriever != nil {
		extractorOpts = append(extractorOpts, extract.WithRetriever(retriever))
	}

	extractor := extract.New(chain, extractorOpts...)
	merger := synthesize.NewMerger(chain)

	reporter := newCaptureReporter()
	orch := pipeline.New(extractor, merger, dbClient, pipeline.Options{
		ProjectContext:  extractProject,
		BatchSize:       cfg.BatchSize,
		BatchDelay:      cfg.BatchDelay,
		DocumentTimeout: documentTimeout,
		TargetBlocks:    cfg.TargetBlockCount,
		NestedThreshold: cfg.NestedScoreThreshold,
		Jobs:            dbClient,
		Progress:        reporter,
	})

	if extractPlain {
		res, err := orch.Run(ctx, docs)
		if err != nil {
			return err
		}
		printRunResult(res)
		return nil
	}

	type runOutcome struct {
		res *pipeline.Result
		err error
	}
	done := make(chan runOutcome, 1)
	go func() {
		res, err := orch.Run(ctx, docs)
		done <- runOutcome{res: res, err: err}
	}()

	fetch := func(ctx context.Context) (*db.JobRecord, error) {
		select {
		case out := <-done:
			done <- out
			return reporter.finalRecord(len(docs), out.res, out.err), nil
		default:
			return reporter.record(len(docs)), nil
		}
	}

	// The job id is assigned at run start; give the first report a moment
	// so the display can name the job.
	id := reporter.jobID()
	for i := 0; id == "" && i < 20; i++ {
		select {
		case out := <-done:
			done <- out
			if out.res != nil {
				id = out.res.JobID
			} else {
				id = "run"
			}
		case <-time.After(100 * time.Millisecond):
			id = reporter.jobID()
		}
	}

	if err := runJobProgress(id, fetch); err != nil {
		return err
	}

	out := <-done
	if out.err != nil {
		return out.err
	}
	printRunResult(out.res)
	return nil
}

// buildRetriever wires RAG context when an embedder is available. The
// run proceeds without retrieval if embedding or indexing fails.
func buildRetriever(ctx context.Context, docs []models.StructuredDocument) extract.ContextRetriever {
	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		slog.Warn("embedder unavailable, extracting without retrieved context", "error", err)
		return nil
	}

	if err := indexDocuments(ctx, docs, embedder); err != nil {
		slog.Warn("document indexing failed, extracting without retrieved context", "error", err)
		return nil
	}

	return retrieval.NewRetriever(db.NewSearchStore(dbClient, embedder))
}

// indexDocuments upserts the documents and embeds one chunk per section
// so vector and fulltext retrieval can see the whole corpus.
func indexDocuments(ctx context.Context, docs []models.StructuredDocument, embedder *llm.Embedder) error {
	for _, doc := range docs {
		if err := dbClient.UpsertDocument(ctx, doc); err != nil {
			return fmt.Errorf("upsert document %s: %w", doc.SourceID, err)
		}
		for _, section := range doc.Sections {
			text := section.Text()
			if len(strings.TrimSpace(text)) < 40 {
				continue
			}
			embedding, err := embedder.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("embed section %q of %s: %w", section.Title, doc.SourceID, err)
			}
			if err := dbClient.InsertChunk(ctx, doc.SourceID, section.Title, text, embedding); err != nil {
				return fmt.Errorf("insert chunk for %s: %w", doc.SourceID, err)
			}
		}
	}
	return nil
}

// loadDocuments reads StructuredDocument payloads from files and
// directories. Directories are scanned one level deep.
func loadDocuments(paths []string) ([]models.StructuredDocument, error) {
	var docs []models.StructuredDocument
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if info.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("read directory %s: %w", path, err)
			}
			for _, entry := range entries {
				if entry.IsDir() || !isDocumentFile(entry.Name()) {
					continue
				}
				loaded, err := loadDocumentFile(filepath.Join(path, entry.Name()))
				if err != nil {
					return nil, err
				}
				docs = append(docs, loaded...)
			}
			continue
		}

		if !isDocumentFile(path) {
			return nil, fmt.Errorf("unsupported document file %s: want .json, .yaml, or .yml", path)
		}
		loaded, err := loadDocumentFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	return docs, nil
}

func isDocumentFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func loadDocumentFile(path string) ([]models.StructuredDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	unmarshal := yaml.Unmarshal
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		unmarshal = json.Unmarshal
	}

	// A file holds either one document or an array of them.
	var many []models.StructuredDocument
	if err := unmarshal(data, &many); err != nil {
		var one models.StructuredDocument
		if singleErr := unmarshal(data, &one); singleErr != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		many = []models.StructuredDocument{one}
	}

	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	for i := range many {
		if many[i].FileName == "" {
			many[i].FileName = base
		}
		if many[i].SourceID == "" {
			many[i].SourceID = stem
			if len(many) > 1 {
				many[i].SourceID = fmt.Sprintf("%s-%d", stem, i+1)
			}
		}
		if len(many[i].Sections) == 0 {
			return nil, fmt.Errorf("document %s in %s has no sections", many[i].SourceID, path)
		}
	}
	return many, nil
}

// captureReporter records the latest pipeline snapshot and the job id
// assigned at run start, feeding the in-process progress display.
type captureReporter struct {
	mu    sync.Mutex
	id    string
	inner *pipeline.InMemoryProgress
}

func newCaptureReporter() *captureReporter {
	return &captureReporter{inner: pipeline.NewInMemoryProgress()}
}

func (c *captureReporter) Report(ctx context.Context, jobID string, stage pipeline.Stage, processed, failed int) {
	c.mu.Lock()
	if c.id == "" {
		c.id = jobID
	}
	c.mu.Unlock()
	c.inner.Report(ctx, jobID, stage, processed, failed)
}

func (c *captureReporter) jobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *captureReporter) record(total int) *db.JobRecord {
	snap, ok := c.inner.Snapshot(c.jobID())
	rec := &db.JobRecord{Status: "running", TotalDocuments: total}
	if !ok {
		rec.Stage = string(pipeline.StageInitializing)
		return rec
	}
	rec.Stage = string(snap.Stage)
	rec.ProcessedDocuments = snap.Processed
	rec.FailedDocuments = snap.Failed
	switch snap.Stage {
	case pipeline.StageComplete, pipeline.StageError, pipeline.StageCancelled:
		rec.Status = string(snap.Stage)
	}
	return rec
}

func (c *captureReporter) finalRecord(total int, res *pipeline.Result, err error) *db.JobRecord {
	rec := c.record(total)
	switch {
	case err != nil:
		rec.Status = string(pipeline.StageError)
		rec.Error = err.Error()
	case res != nil && res.Cancelled:
		rec.Status = string(pipeline.StageCancelled)
	default:
		rec.Status = string(pipeline.StageComplete)
	}
	return rec
}

func printRunResult(res *pipeline.Result) {
	if res.Cancelled {
		fmt.Printf("Run %s cancelled; no proposals written.\n", res.JobID)
		return
	}

	tree := res.Tree
	fmt.Printf("Extracted %q: %d blocks, %d nodes\n", tree.TreeName, len(tree.Blocks), tree.NodeCount())
	for _, block := range tree.Blocks {
		fmt.Printf("  [%s] %s (%d nodes)\n", block.BlockType, block.BlockName, len(block.Nodes))
	}

	fmt.Printf("Proposals written: %d\n", len(res.ProposedIDs))
	if len(res.NestedTrees) > 0 {
		fmt.Printf("Nested tree candidates: %d\n", len(res.NestedTrees))
		for _, ref := range res.NestedTrees {
			fmt.Printf("  %s (score %d)\n", ref.NodeTitle, ref.Score)
		}
	}
	if len(res.MergeLog) > 0 {
		fmt.Printf("Consolidated blocks: %d merges\n", len(res.MergeLog))
	}

	var failed int
	for _, a := range res.Attempts {
		if a.Err != nil {
			failed++
			fmt.Printf("  ✗ %s: %v\n", a.FileName, a.Err)
		}
	}
	if failed > 0 {
		fmt.Printf("Documents failed: %d of %d\n", failed, len(res.Attempts))
	}
	fmt.Printf("Job: %s\n", res.JobID)
}
