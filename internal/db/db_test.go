// Integration tests against a disposable SurrealDB container.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noahchander/labtree/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

func TestMain(m *testing.M) {
	// Ryuk can misbehave in restricted environments.
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// testEmbedding returns a deterministic vector matching the schema
// dimension, slightly perturbed by seed so vectors are distinguishable.
func testEmbedding(seed float32) []float32 {
	embedding := make([]float32, EmbeddingDimension)
	for i := range embedding {
		embedding[i] = (float32(i) + seed) / float32(EmbeddingDimension)
	}
	return embedding
}

func TestDocumentAndChunks(t *testing.T) {
	ctx := context.Background()
	defer func() { _ = testDB.WipeData(ctx) }()

	doc := models.StructuredDocument{
		SourceID: "paper-1",
		FileName: "screen.pdf",
		Type:     "paper",
		Sections: []models.Section{{Title: "Methods"}, {Title: "Results"}},
	}
	if err := testDB.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument failed: %v", err)
	}
	// Upsert twice to confirm idempotency on source_id.
	if err := testDB.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("second UpsertDocument failed: %v", err)
	}

	if err := testDB.InsertChunk(ctx, "paper-1", "Methods", "Cells were transduced at low MOI.", testEmbedding(0)); err != nil {
		t.Fatalf("InsertChunk failed: %v", err)
	}
	if err := testDB.InsertChunk(ctx, "paper-1", "Results", "Enrichment was significant for kinases.", testEmbedding(1)); err != nil {
		t.Fatalf("InsertChunk failed: %v", err)
	}

	chunks, err := testDB.ChunksByDocument(ctx, "paper-1")
	if err != nil {
		t.Fatalf("ChunksByDocument failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for _, c := range chunks {
		if c.DocumentID != "paper-1" || c.Content == "" || c.ID == "" {
			t.Errorf("incomplete chunk: %+v", c)
		}
	}

	docs, err := testDB.Documents(ctx)
	if err != nil {
		t.Fatalf("Documents failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d stored documents, want 1", len(docs))
	}
	if docs[0].SourceID != "paper-1" || len(docs[0].Sections) != 2 {
		t.Errorf("round-tripped document = %+v", docs[0])
	}
}

func TestSearchVector(t *testing.T) {
	ctx := context.Background()
	defer func() { _ = testDB.WipeData(ctx) }()

	if err := testDB.InsertChunk(ctx, "paper-2", "Methods", "Library amplification protocol.", testEmbedding(0)); err != nil {
		t.Fatalf("InsertChunk failed: %v", err)
	}

	results, err := testDB.SearchVector(ctx, testEmbedding(0), 5, 0.5)
	if err != nil {
		t.Fatalf("SearchVector failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("identical vector similarity = %v", results[0].Similarity)
	}
}

func TestSearchFulltext(t *testing.T) {
	ctx := context.Background()
	defer func() { _ = testDB.WipeData(ctx) }()

	if err := testDB.InsertChunk(ctx, "paper-3", "Methods", "Lentivirus was packaged in HEK293T cells.", testEmbedding(0)); err != nil {
		t.Fatalf("InsertChunk failed: %v", err)
	}
	if err := testDB.InsertChunk(ctx, "paper-3", "Results", "Sequencing depth exceeded 500x.", testEmbedding(1)); err != nil {
		t.Fatalf("InsertChunk failed: %v", err)
	}

	results, err := testDB.SearchFulltext(ctx, "lentivirus", 5)
	if err != nil {
		t.Fatalf("SearchFulltext failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Heading != "Methods" {
		t.Errorf("Heading = %q, want Methods", results[0].Heading)
	}
}

func TestChunksMatching(t *testing.T) {
	ctx := context.Background()
	defer func() { _ = testDB.WipeData(ctx) }()

	if err := testDB.InsertChunk(ctx, "paper-4", "", "Samples were processed using the standard lysis buffer.", testEmbedding(0)); err != nil {
		t.Fatalf("InsertChunk failed: %v", err)
	}

	results, err := testDB.ChunksMatching(ctx, "Standard Lysis Buffer", 3)
	if err != nil {
		t.Fatalf("ChunksMatching failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("case-insensitive substring match returned %d results, want 1", len(results))
	}
}

func TestProposedNodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	defer func() { _ = testDB.WipeData(ctx) }()

	node, err := models.NewProposedNode(models.ExtractedNode{
		Title:    "sgRNA Library Amplification",
		NodeType: models.NodeProtocol,
		Content:  models.NodeContent{Text: "Amplify the pooled library."},
	}, 0.8, models.Provenance{
		RunID:       "run-1",
		DocumentIDs: []string{"paper-1"},
		Provider:    "openai",
		Strategy:    models.StrategySimple,
	})
	if err != nil {
		t.Fatalf("NewProposedNode failed: %v", err)
	}

	id, err := testDB.InsertProposedNode(ctx, node)
	if err != nil {
		t.Fatalf("InsertProposedNode failed: %v", err)
	}
	if id == "" {
		t.Fatal("empty record id")
	}

	existing, err := testDB.ExistingNodes(ctx)
	if err != nil {
		t.Fatalf("ExistingNodes failed: %v", err)
	}
	if len(existing) != 1 || existing[0].Title != "sgRNA Library Amplification" {
		t.Errorf("ExistingNodes = %+v", existing)
	}

	proposed, err := testDB.ProposedNodesByStatus(ctx, models.ProposalProposed)
	if err != nil {
		t.Fatalf("ProposedNodesByStatus failed: %v", err)
	}
	if len(proposed) != 1 {
		t.Fatalf("got %d proposed nodes, want 1", len(proposed))
	}
	if proposed[0].Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", proposed[0].Confidence)
	}
	if proposed[0].Provenance.RunID != "run-1" {
		t.Errorf("Provenance = %+v", proposed[0].Provenance)
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	defer func() { _ = testDB.WipeData(ctx) }()

	id, err := testDB.CreateJob(ctx, 4)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := testDB.UpdateJobProgress(ctx, id, "extracting", 2, 1); err != nil {
		t.Fatalf("UpdateJobProgress failed: %v", err)
	}

	job, err := testDB.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Stage != "extracting" || job.ProcessedDocuments != 2 || job.FailedDocuments != 1 {
		t.Errorf("job = %+v", job)
	}
	if job.TotalDocuments != 4 {
		t.Errorf("TotalDocuments = %d, want 4", job.TotalDocuments)
	}

	cancelled, err := testDB.JobCancelRequested(ctx, id)
	if err != nil || cancelled {
		t.Errorf("JobCancelRequested = %v, %v before request", cancelled, err)
	}
	if err := testDB.RequestJobCancel(ctx, id); err != nil {
		t.Fatalf("RequestJobCancel failed: %v", err)
	}
	cancelled, err = testDB.JobCancelRequested(ctx, id)
	if err != nil || !cancelled {
		t.Errorf("JobCancelRequested = %v, %v after request", cancelled, err)
	}

	if err := testDB.SetJobStatus(ctx, id, "cancelled", "cancelled by user"); err != nil {
		t.Fatalf("SetJobStatus failed: %v", err)
	}

	jobs, err := testDB.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != "cancelled" {
		t.Errorf("ListJobs = %+v", jobs)
	}
}

func TestGetJobNotFound(t *testing.T) {
	ctx := context.Background()
	if _, err := testDB.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrNotFound", err)
	}
}
