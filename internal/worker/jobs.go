package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mserrat/docser/internal/rag"
)

// jobTTL bounds how long finished job records stay queryable.
const jobTTL = 24 * time.Hour

// jobKV is the slice of the Redis client the tracker uses.
type jobKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// JobTracker stores async ingestion job state in Redis, keyed by job id.
type JobTracker struct {
	client jobKV
	prefix string
}

// NewJobTracker builds a tracker with the default key prefix.
func NewJobTracker(client *redis.Client) *JobTracker {
	return &JobTracker{client: client, prefix: "docser:jobs:"}
}

func (t *JobTracker) key(id string) string { return t.prefix + id }

// Put writes the full job record.
func (t *JobTracker) Put(ctx context.Context, job rag.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	job.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := t.client.Set(ctx, t.key(job.ID), raw, jobTTL).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return nil
}

// Get fetches a job record. Unknown ids report found=false.
func (t *JobTracker) Get(ctx context.Context, id string) (rag.Job, bool, error) {
	raw, err := t.client.Get(ctx, t.key(id)).Result()
	if err == redis.Nil {
		return rag.Job{}, false, nil
	}
	if err != nil {
		return rag.Job{}, false, fmt.Errorf("load job %s: %w", id, err)
	}
	var job rag.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return rag.Job{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, true, nil
}

// Update loads a job, applies fn and stores the result.
func (t *JobTracker) Update(ctx context.Context, id string, fn func(*rag.Job)) error {
	job, found, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("job %s not found", id)
	}
	fn(&job)
	return t.Put(ctx, job)
}
