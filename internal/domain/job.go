package domain

import "time"

// JobStatus tracks a scrape job through its state machine.
// The string values are stable wire values observed by external pollers.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobRequest is the creation input for one pipeline execution.
type JobRequest struct {
	AudienceID    string
	OutputFormats []FormatType
	MaxTopics     int
}

// JobCounters are the five per-stage progress counters. They only ever
// increase within a job.
type JobCounters struct {
	TotalRaw      int
	TotalFiltered int
	TotalDeduped  int
	TotalClusters int
	TotalIdeas    int
}

// ScrapeJob is one pipeline execution for one audience. It is exclusively
// owned and mutated by the orchestrator.
type ScrapeJob struct {
	ID            int64
	AudienceID    string
	Status        JobStatus
	OutputFormats []FormatType
	MaxTopics     int
	JobCounters
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// TopicCluster is one topic grouping produced by the clusterer.
// Members is populated in memory during a run; the store records membership
// through each item's ClusterID.
type TopicCluster struct {
	ID                  int64
	JobID               int64
	ClusterIndex        int
	Label               string
	Size                int
	TotalEngagement     float64
	AvgEngagement       float64
	Sources             []string
	TopTitles           []string
	RepresentativeTitle string
	RepresentativeBody  string
	Members             []ContentItem
}

// ContentIdea is one generated artifact for a (cluster, format) pair.
// IsFavorite, IsPublished, and Notes are user-set after generation and are
// never touched by the pipeline.
type ContentIdea struct {
	ID               int64
	JobID            int64
	ClusterID        int64
	AudienceID       string
	FormatType       FormatType
	TopicLabel       string
	GeneratedContent string
	SourceURLs       []string
	IsFavorite       bool
	IsPublished      bool
	Notes            string
	CreatedAt        time.Time
}
