// Package pipeline orchestrates the document-to-workflow run: cleaning,
// extraction, synthesis, enrichment, and proposal storage, with job
// tracking and cooperative cancellation.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
)

// Stage is the pipeline's current phase.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StageLoading      Stage = "loading"
	StageExtracting   Stage = "extracting"
	StageMerging      Stage = "merging"
	StageResolving    Stage = "resolving"
	StageDependencies Stage = "dependencies"
	StageNesting      Stage = "nesting"
	StageStoring      Stage = "storing"
	StageComplete     Stage = "complete"
	StageError        Stage = "error"
	StageCancelled    Stage = "cancelled"
)

// ProgressReporter receives stage transitions and document counters.
// Reports are advisory; a failing reporter never stops the run.
type ProgressReporter interface {
	Report(ctx context.Context, jobID string, stage Stage, processed, failed int)
}

// Snapshot is the latest reported state of one job.
type Snapshot struct {
	Stage     Stage
	Processed int
	Failed    int
}

// InMemoryProgress keeps the latest snapshot per job. Concurrent reports
// for the same job resolve last-write-wins.
type InMemoryProgress struct {
	mu   sync.RWMutex
	jobs map[string]Snapshot
}

// NewInMemoryProgress creates an empty progress tracker.
func NewInMemoryProgress() *InMemoryProgress {
	return &InMemoryProgress{jobs: make(map[string]Snapshot)}
}

// Report stores the snapshot for the job.
func (p *InMemoryProgress) Report(ctx context.Context, jobID string, stage Stage, processed, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[jobID] = Snapshot{Stage: stage, Processed: processed, Failed: failed}
}

// Snapshot returns the latest state for a job.
func (p *InMemoryProgress) Snapshot(jobID string) (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.jobs[jobID]
	return s, ok
}

// JobStore is the persistence surface for pipeline runs.
type JobStore interface {
	CreateJob(ctx context.Context, totalDocuments int) (string, error)
	UpdateJobProgress(ctx context.Context, id, stage string, processed, failed int) error
	SetJobStatus(ctx context.Context, id, status, errMsg string) error
	JobCancelRequested(ctx context.Context, id string) (bool, error)
}

// storeProgress mirrors progress into a job store.
type storeProgress struct {
	store JobStore
}

// NewStoreProgress adapts a JobStore into a ProgressReporter.
func NewStoreProgress(store JobStore) ProgressReporter {
	return &storeProgress{store: store}
}

func (p *storeProgress) Report(ctx context.Context, jobID string, stage Stage, processed, failed int) {
	if jobID == "" {
		return
	}
	if err := p.store.UpdateJobProgress(ctx, jobID, string(stage), processed, failed); err != nil {
		slog.Warn("progress update failed", "job", jobID, "stage", stage, "error", err)
	}
}
