package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/noahchander/labtree/internal/models"
)

type fakeStore struct {
	primary       []models.ScoredChunk
	primaryErr    error
	vector        []models.ScoredChunk
	vectorErr     error
	keyword       []models.ScoredChunk
	keywordErr    error
	matching      map[string][]models.ScoredChunk
	nodes         []models.ExistingNode
	nodesErr      error
	keywordCalled bool
}

func (f *fakeStore) ChunksByDocument(ctx context.Context, documentID string) ([]models.ScoredChunk, error) {
	return f.primary, f.primaryErr
}

func (f *fakeStore) VectorSearch(ctx context.Context, query string, limit int, minSimilarity float64) ([]models.ScoredChunk, error) {
	return f.vector, f.vectorErr
}

func (f *fakeStore) KeywordSearch(ctx context.Context, query string, limit int) ([]models.ScoredChunk, error) {
	f.keywordCalled = true
	return f.keyword, f.keywordErr
}

func (f *fakeStore) ChunksMatching(ctx context.Context, phrase string, limit int) ([]models.ScoredChunk, error) {
	return f.matching[strings.ToLower(phrase)], nil
}

func (f *fakeStore) ExistingNodes(ctx context.Context) ([]models.ExistingNode, error) {
	return f.nodes, f.nodesErr
}

func retrievalDoc() models.StructuredDocument {
	return models.StructuredDocument{
		SourceID: "doc-1",
		FileName: "followup.pdf",
		Sections: []models.Section{
			{Title: "RNA Extraction", Content: []models.ContentBlock{
				{Type: models.ContentText, Text: "Samples were processed using the standard lysis buffer."},
			}},
			{Title: "Sequencing Results"},
		},
	}
}

func chunk(id, docID, content string) models.ScoredChunk {
	return models.ScoredChunk{ID: id, DocumentID: docID, Content: content}
}

func TestForDocumentGathersAllParts(t *testing.T) {
	store := &fakeStore{
		primary: []models.ScoredChunk{chunk("c1", "doc-1", "own text")},
		vector: []models.ScoredChunk{
			chunk("c2", "doc-2", "related a"),
			chunk("c3", "doc-2", "related b"),
			chunk("c4", "doc-3", "related c"),
			chunk("c5", "doc-3", "related d"),
		},
		matching: map[string][]models.ScoredChunk{
			"standard lysis buffer": {chunk("c6", "doc-2", "lysis buffer recipe")},
		},
		nodes: []models.ExistingNode{
			{ID: "n1", Title: "RNA Extraction", Status: "accepted"},
			{ID: "n2", Title: "Mouse Colony Management", Status: "proposed"},
		},
	}

	rc, err := NewRetriever(store).ForDocument(context.Background(), retrievalDoc())
	if err != nil {
		t.Fatalf("ForDocument() error = %v", err)
	}
	if len(rc.PrimaryChunks) != 1 {
		t.Errorf("PrimaryChunks = %d, want 1", len(rc.PrimaryChunks))
	}
	if len(rc.RelatedChunks) != 4 {
		t.Errorf("RelatedChunks = %d, want 4", len(rc.RelatedChunks))
	}
	if store.keywordCalled {
		t.Error("keyword fallback used despite sufficient vector results")
	}
	if len(rc.DependencyChunks) != 1 || rc.DependencyChunks[0].ID != "c6" {
		t.Errorf("DependencyChunks = %+v", rc.DependencyChunks)
	}
	if len(rc.ExistingNodes) != 1 || rc.ExistingNodes[0].Title != "RNA Extraction" {
		t.Errorf("ExistingNodes = %+v", rc.ExistingNodes)
	}
	if rc.ExistingNodes[0].Similarity <= duplicateSimilarity {
		t.Errorf("exact title match similarity = %v", rc.ExistingNodes[0].Similarity)
	}
}

func TestForDocumentKeywordFallbackOnVectorError(t *testing.T) {
	store := &fakeStore{
		vectorErr: errors.New("index unavailable"),
		keyword:   []models.ScoredChunk{chunk("k1", "doc-2", "keyword hit")},
	}

	rc, err := NewRetriever(store).ForDocument(context.Background(), retrievalDoc())
	if err != nil {
		t.Fatalf("ForDocument() error = %v", err)
	}
	if !store.keywordCalled {
		t.Fatal("keyword fallback not used after vector error")
	}
	if len(rc.RelatedChunks) != 1 || rc.RelatedChunks[0].ID != "k1" {
		t.Errorf("RelatedChunks = %+v", rc.RelatedChunks)
	}
}

func TestForDocumentKeywordSupplementsSparseVector(t *testing.T) {
	store := &fakeStore{
		vector: []models.ScoredChunk{chunk("c2", "doc-2", "one hit")},
		keyword: []models.ScoredChunk{
			chunk("c2", "doc-2", "one hit"),
			chunk("k1", "doc-3", "extra"),
		},
	}

	rc, err := NewRetriever(store).ForDocument(context.Background(), retrievalDoc())
	if err != nil {
		t.Fatalf("ForDocument() error = %v", err)
	}
	if !store.keywordCalled {
		t.Fatal("sparse vector result did not trigger keyword supplement")
	}
	if len(rc.RelatedChunks) != 2 {
		t.Errorf("RelatedChunks = %+v, want deduped union of 2", rc.RelatedChunks)
	}
}

func TestForDocumentExcludesOwnChunks(t *testing.T) {
	store := &fakeStore{
		vector: []models.ScoredChunk{
			chunk("c1", "doc-1", "own chunk"),
			chunk("c2", "doc-2", "other a"),
			chunk("c3", "doc-2", "other b"),
			chunk("c4", "doc-3", "other c"),
		},
	}

	rc, err := NewRetriever(store).ForDocument(context.Background(), retrievalDoc())
	if err != nil {
		t.Fatalf("ForDocument() error = %v", err)
	}
	for _, c := range rc.RelatedChunks {
		if c.DocumentID == "doc-1" {
			t.Errorf("related chunks include the document's own chunk %q", c.ID)
		}
	}
}

func TestForDocumentSurvivesFailingStore(t *testing.T) {
	store := &fakeStore{
		primaryErr: errors.New("down"),
		vectorErr:  errors.New("down"),
		keywordErr: errors.New("down"),
		nodesErr:   errors.New("down"),
	}

	rc, err := NewRetriever(store).ForDocument(context.Background(), retrievalDoc())
	if err != nil {
		t.Fatalf("ForDocument() error = %v, want nil (best effort)", err)
	}
	if len(rc.PrimaryChunks)+len(rc.RelatedChunks)+len(rc.DependencyChunks)+len(rc.ExistingNodes) != 0 {
		t.Errorf("degraded context not empty: %+v", rc)
	}
}
