package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// JobRecord is the persisted state of one pipeline run.
type JobRecord struct {
	ID                 string    `json:"-"`
	Status             string    `json:"status"`
	Stage              string    `json:"stage,omitempty"`
	TotalDocuments     int       `json:"total_documents"`
	ProcessedDocuments int       `json:"processed_documents"`
	FailedDocuments    int       `json:"failed_documents"`
	CancelRequested    bool      `json:"cancel_requested"`
	Error              string    `json:"error,omitempty"`
	Created            time.Time `json:"created,omitempty"`
	Updated            time.Time `json:"updated,omitempty"`
}

type jobRecord struct {
	ID surrealmodels.RecordID `json:"id,omitempty"`
	JobRecord
}

func (r jobRecord) toJob() JobRecord {
	job := r.JobRecord
	job.ID = recordString(r.ID)
	return job
}

// CreateJob registers a new pipeline run and returns its ID.
func (c *Client) CreateJob(ctx context.Context, totalDocuments int) (string, error) {
	results, err := surrealdb.Query[[]jobRecord](ctx, c.db, `
		CREATE pipeline_job SET
			status = 'initializing',
			total_documents = $total
		RETURN AFTER
	`, map[string]any{"total": totalDocuments})
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	records := firstResult(results)
	if len(records) == 0 {
		return "", fmt.Errorf("create job: no result returned")
	}
	return recordString(records[0].ID), nil
}

// UpdateJobProgress records the current stage and document counters.
func (c *Client) UpdateJobProgress(ctx context.Context, id, stage string, processed, failed int) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("pipeline_job", $id) SET
			stage = $stage,
			processed_documents = $processed,
			failed_documents = $failed,
			updated = time::now()
	`, map[string]any{"id": id, "stage": stage, "processed": processed, "failed": failed})
	if err != nil {
		return fmt.Errorf("update job progress: %w", wrapQueryError(err))
	}
	return nil
}

// SetJobStatus finalizes or transitions a job's status, optionally
// recording an error message.
func (c *Client) SetJobStatus(ctx context.Context, id, status, errMsg string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("pipeline_job", $id) SET
			status = $status,
			error = $error,
			updated = time::now()
	`, map[string]any{"id": id, "status": status, "error": errMsg})
	if err != nil {
		return fmt.Errorf("set job status: %w", wrapQueryError(err))
	}
	return nil
}

// RequestJobCancel flags a running job for cancellation. The pipeline
// polls this flag at stage and task boundaries.
func (c *Client) RequestJobCancel(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("pipeline_job", $id) SET
			cancel_requested = true,
			updated = time::now()
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("request job cancel: %w", wrapQueryError(err))
	}
	return nil
}

// GetJob fetches one job, or ErrNotFound.
func (c *Client) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	results, err := surrealdb.Query[[]jobRecord](ctx, c.db, `
		SELECT * FROM type::record("pipeline_job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	records := firstResult(results)
	if len(records) == 0 {
		return nil, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}
	job := records[0].toJob()
	return &job, nil
}

// JobCancelRequested reports whether cancellation has been requested.
func (c *Client) JobCancelRequested(ctx context.Context, id string) (bool, error) {
	job, err := c.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// ListJobs returns the most recent jobs, newest first.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	results, err := surrealdb.Query[[]jobRecord](ctx, c.db, `
		SELECT * FROM pipeline_job ORDER BY created DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	records := firstResult(results)
	out := make([]JobRecord, len(records))
	for i, r := range records {
		out[i] = r.toJob()
	}
	return out, nil
}
