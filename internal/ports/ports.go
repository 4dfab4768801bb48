package ports

import (
	"context"
	"time"

	"ContentEngine/internal/domain"
)

// JobStore persists jobs, items, clusters, and ideas. The orchestrator is
// the only writer of job records; external observers poll them through the
// same store.
type JobStore interface {
	CreateJob(ctx context.Context, req domain.JobRequest) (domain.ScrapeJob, error)
	GetJob(ctx context.Context, id int64) (domain.ScrapeJob, error)
	MarkJobRunning(ctx context.Context, id int64, startedAt time.Time) error
	// UpdateJobCounters writes the stage counters; values in the store only
	// ever increase, so pollers observe monotonic progress.
	UpdateJobCounters(ctx context.Context, id int64, counters domain.JobCounters) error
	AppendJobError(ctx context.Context, id int64, msg string) error
	MarkJobCompleted(ctx context.Context, id int64, completedAt time.Time) error
	MarkJobFailed(ctx context.Context, id int64, cause string, completedAt time.Time) error
	// FailStaleRunning fails jobs left in running state by a dead process.
	FailStaleRunning(ctx context.Context, cause string) (int, error)

	SaveItems(ctx context.Context, jobID int64, items []domain.ContentItem) ([]domain.ContentItem, error)
	StoreEmbeddings(ctx context.Context, items []domain.ContentItem) error
	MarkDuplicates(ctx context.Context, jobID int64, itemIDs []int64) error

	SaveCluster(ctx context.Context, cluster domain.TopicCluster) (domain.TopicCluster, error)
	UpdateClusterLabel(ctx context.Context, clusterID int64, label string) error
	SaveIdea(ctx context.Context, idea domain.ContentIdea) (domain.ContentIdea, error)

	GetAudience(ctx context.Context, id string) (domain.Audience, error)
	ListActiveAudiences(ctx context.Context) ([]domain.Audience, error)
}

// Embedder converts texts into fixed-length vectors. Implementations retry
// transient failures internally; a returned error means the service is
// unusable for this batch and wraps domain.ErrPermanent when retrying is
// pointless.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// TextGenerator produces a completion for one prompt. Errors wrap the
// domain failure sentinels (rate limited, unavailable, malformed) so the
// caller can drive its retry policy.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Scheduler controls when the dispatcher runs.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
