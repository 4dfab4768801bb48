package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContentEngine/internal/config"
	"ContentEngine/internal/connector"
	"ContentEngine/internal/domain"
	"ContentEngine/internal/pipeline"
	"ContentEngine/internal/ports"
)

// fakeStore is an in-memory JobStore good enough to drive full runs.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[int64]*domain.ScrapeJob
	audiences map[string]domain.Audience
	items     map[int64]*domain.ContentItem
	clusters  map[int64]*domain.TopicCluster
	ideas     []domain.ContentIdea
	nextID    int64

	counterHistory []domain.JobCounters
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      map[int64]*domain.ScrapeJob{},
		audiences: map[string]domain.Audience{},
		items:     map[int64]*domain.ContentItem{},
		clusters:  map[int64]*domain.TopicCluster{},
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) CreateJob(_ context.Context, req domain.JobRequest) (domain.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := domain.ScrapeJob{
		ID:            s.id(),
		AudienceID:    req.AudienceID,
		Status:        domain.JobPending,
		OutputFormats: req.OutputFormats,
		MaxTopics:     req.MaxTopics,
		CreatedAt:     time.Now(),
	}
	s.jobs[job.ID] = &job
	return job, nil
}

func (s *fakeStore) GetJob(_ context.Context, id int64) (domain.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ScrapeJob{}, fmt.Errorf("job %d not found", id)
	}
	return *job, nil
}

func (s *fakeStore) MarkJobRunning(_ context.Context, id int64, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Status != domain.JobPending {
		return fmt.Errorf("job %d is not pending", id)
	}
	job.Status = domain.JobRunning
	job.StartedAt = &startedAt
	return nil
}

func (s *fakeStore) UpdateJobCounters(_ context.Context, id int64, c domain.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.TotalRaw = max(job.TotalRaw, c.TotalRaw)
	job.TotalFiltered = max(job.TotalFiltered, c.TotalFiltered)
	job.TotalDeduped = max(job.TotalDeduped, c.TotalDeduped)
	job.TotalClusters = max(job.TotalClusters, c.TotalClusters)
	job.TotalIdeas = max(job.TotalIdeas, c.TotalIdeas)
	s.counterHistory = append(s.counterHistory, job.JobCounters)
	return nil
}

func (s *fakeStore) AppendJobError(_ context.Context, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.ErrorMessage == "" {
		job.ErrorMessage = msg
	} else {
		job.ErrorMessage += "; " + msg
	}
	return nil
}

func (s *fakeStore) MarkJobCompleted(_ context.Context, id int64, completedAt time.Time) error {
	return s.finish(id, domain.JobCompleted, "", completedAt)
}

func (s *fakeStore) MarkJobFailed(_ context.Context, id int64, cause string, completedAt time.Time) error {
	return s.finish(id, domain.JobFailed, cause, completedAt)
}

func (s *fakeStore) finish(id int64, status domain.JobStatus, cause string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Status.Terminal() {
		return fmt.Errorf("job %d already terminal", id)
	}
	job.Status = status
	job.CompletedAt = &completedAt
	if cause != "" {
		if job.ErrorMessage == "" {
			job.ErrorMessage = cause
		} else {
			job.ErrorMessage += "; " + cause
		}
	}
	return nil
}

func (s *fakeStore) FailStaleRunning(_ context.Context, cause string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status == domain.JobRunning {
			job.Status = domain.JobFailed
			job.ErrorMessage = cause
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) SaveItems(_ context.Context, jobID int64, items []domain.ContentItem) ([]domain.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := make([]domain.ContentItem, len(items))
	for i, item := range items {
		item.ID = s.id()
		item.JobID = jobID
		s.items[item.ID] = &item
		saved[i] = item
	}
	return saved, nil
}

func (s *fakeStore) StoreEmbeddings(_ context.Context, items []domain.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if stored, ok := s.items[item.ID]; ok {
			stored.Embedding = item.Embedding
		}
	}
	return nil
}

func (s *fakeStore) MarkDuplicates(_ context.Context, _ int64, itemIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range itemIDs {
		if stored, ok := s.items[id]; ok {
			stored.IsDuplicate = true
		}
	}
	return nil
}

func (s *fakeStore) SaveCluster(_ context.Context, cluster domain.TopicCluster) (domain.TopicCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cluster.ID = s.id()
	s.clusters[cluster.ID] = &cluster
	for _, m := range cluster.Members {
		if stored, ok := s.items[m.ID]; ok {
			stored.ClusterID = &cluster.ID
		}
	}
	return cluster, nil
}

func (s *fakeStore) UpdateClusterLabel(_ context.Context, clusterID int64, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clusters[clusterID]; ok {
		c.Label = label
	}
	return nil
}

func (s *fakeStore) SaveIdea(_ context.Context, idea domain.ContentIdea) (domain.ContentIdea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idea.ID = s.id()
	s.ideas = append(s.ideas, idea)
	return idea, nil
}

func (s *fakeStore) GetAudience(_ context.Context, id string) (domain.Audience, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audiences[id]
	if !ok {
		return domain.Audience{}, fmt.Errorf("audience %s not found", id)
	}
	return a, nil
}

func (s *fakeStore) ListActiveAudiences(_ context.Context) ([]domain.Audience, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Audience
	for _, a := range s.audiences {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

// fakeConnector returns canned items or a canned error.
type fakeConnector struct {
	name  string
	items []domain.ContentItem
	err   error
}

func (c *fakeConnector) Name() string { return c.name }

func (c *fakeConnector) Fetch(_ context.Context, _ connector.Request) ([]domain.ContentItem, error) {
	return c.items, c.err
}

// scriptedEmbedder maps marker substrings to fixed unit vectors so tests
// control exactly which items look similar. topic-a/b/c sit 25 degrees
// apart: close enough to cluster (eps 0.3), far enough to survive the
// 0.92 near-dup threshold. topic-a2 is nearly parallel to topic-a.
type scriptedEmbedder struct {
	err error
}

var scriptedVectors = []struct {
	marker string
	vector []float32
}{
	{"topic-a2", []float32{0.999, 0.01}},
	{"topic-a", []float32{1, 0}},
	{"topic-b", []float32{0.906, 0.423}},
	{"topic-c", []float32{0.643, 0.766}},
	{"curated", []float32{-1, 0}},
}

func (e *scriptedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{0, -1}
		for _, sv := range scriptedVectors {
			if strings.Contains(text, sv.marker) {
				vectors[i] = sv.vector
				break
			}
		}
	}
	return vectors, nil
}

type scriptedGenerator struct{}

func (scriptedGenerator) Complete(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "topic label") {
		return "Scripted Label", nil
	}
	return "scripted idea content", nil
}

// cancelingGenerator cancels the run's context from inside the first idea
// prompt, mimicking a shutdown landing while generation is in flight.
type cancelingGenerator struct {
	cancel context.CancelFunc
}

func (g *cancelingGenerator) Complete(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "topic label") {
		return "Scripted Label", nil
	}
	g.cancel()
	return "scripted idea content", nil
}

func testOrchestrator(store *fakeStore, registry *connector.Registry, embedErr error) *Orchestrator {
	return testOrchestratorGen(store, registry, embedErr, scriptedGenerator{})
}

func testOrchestratorGen(store *fakeStore, registry *connector.Registry, embedErr error, gen ports.TextGenerator) *Orchestrator {
	logger := slog.New(slog.DiscardHandler)
	cfg := config.PipelineConfig{
		MinKeywordHits:      1,
		PassthroughSources:  []string{"rss"},
		Engagement:          config.EngagementWeights{Views: 0.1, Likes: 1, Comments: 2, Shares: 3},
		SimilarityThreshold: 0.92,
		Cluster:             config.ClusterConfig{Eps: 0.3, MinSamples: 2, MinClusterSize: 3},
	}
	return NewOrchestrator(OrchestratorDeps{
		Store:     store,
		Registry:  registry,
		Filter:    pipeline.NewFilter(cfg),
		Dedup:     pipeline.NewDeduplicator(cfg.SimilarityThreshold),
		Clusterer: pipeline.NewClusterer(cfg.Cluster),
		Embedder:  &scriptedEmbedder{err: embedErr},
		Generator: pipeline.NewIdeaGenerator(gen, 1, 2, logger),
		Sources:   []string{"reddit", "rss"},
		Lookback:  7 * 24 * time.Hour,
		MaxItems:  100,
		Logger:    logger,
	})
}

func testAudience() domain.Audience {
	return domain.Audience{
		ID:           "aud-1",
		Name:         "Go developers",
		Description:  "backend engineers",
		CoreKeywords: []string{"golang"},
		Subreddits:   []string{"golang"},
		IsActive:     true,
	}
}

// item builds a reddit post mentioning golang so it clears the filter.
func relevantItem(title string) domain.ContentItem {
	return domain.ContentItem{
		Source:      "reddit",
		ContentType: "post",
		Title:       title,
		Body:        "a golang deep dive: " + title,
		URL:         "https://example.com/" + title,
		Likes:       10,
	}
}

func TestExecuteFullPipeline(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.audiences["aud-1"] = testAudience()

	// Reddit yields an exact duplicate of topic-a, a near duplicate
	// (topic-a2), two related topics, and one irrelevant post. The rss
	// item is curated passthrough but clusters with nothing.
	redditItems := []domain.ContentItem{
		relevantItem("topic-a"),
		relevantItem("topic-a"), // identical body, exact duplicate
		relevantItem("topic-a2"),
		relevantItem("topic-b"),
		relevantItem("topic-c"),
		{Source: "reddit", Title: "cooking tips", Body: "nothing relevant"},
	}
	rssItems := []domain.ContentItem{
		{Source: "rss", Title: "curated golang weekly", Body: "issue 300 of the curated newsletter"},
	}

	registry := connector.NewRegistry()
	registry.Register(&fakeConnector{name: "reddit", items: redditItems})
	registry.Register(&fakeConnector{name: "rss", items: rssItems})

	o := testOrchestrator(store, registry, nil)
	job, err := o.Execute(context.Background(), domain.JobRequest{
		AudienceID:    "aud-1",
		OutputFormats: []domain.FormatType{domain.FormatArticle, domain.FormatSocialPost},
		MaxTopics:     10,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, 7, job.TotalRaw)
	assert.Equal(t, 6, job.TotalFiltered)
	assert.Equal(t, 4, job.TotalDeduped)
	assert.Equal(t, 1, job.TotalClusters)
	assert.Equal(t, 2, job.TotalIdeas)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	assert.Len(t, store.ideas, job.TotalIdeas)
	for _, idea := range store.ideas {
		assert.Equal(t, "scripted idea content", idea.GeneratedContent)
		assert.Equal(t, "Scripted Label", idea.TopicLabel)
		assert.Equal(t, "aud-1", idea.AudienceID)
	}
	for _, c := range store.clusters {
		assert.Equal(t, "Scripted Label", c.Label)
	}
}

func TestExecuteAllSourcesFailed(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.audiences["aud-1"] = testAudience()

	registry := connector.NewRegistry()
	registry.Register(&fakeConnector{name: "reddit", err: errors.New("reddit down")})
	registry.Register(&fakeConnector{name: "rss", err: errors.New("feeds down")})

	o := testOrchestrator(store, registry, nil)
	job, err := o.Execute(context.Background(), domain.JobRequest{
		AudienceID:    "aud-1",
		OutputFormats: []domain.FormatType{domain.FormatArticle},
		MaxTopics:     10,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "all sources failed")
	assert.Equal(t, 0, job.TotalRaw)
}

func TestExecutePartialSourceFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.audiences["aud-1"] = testAudience()

	registry := connector.NewRegistry()
	registry.Register(&fakeConnector{name: "reddit", err: errors.New("reddit down")})
	registry.Register(&fakeConnector{name: "rss", items: []domain.ContentItem{
		{Source: "rss", Title: "curated golang weekly", Body: "the golang newsletter"},
	}})

	o := testOrchestrator(store, registry, nil)
	job, err := o.Execute(context.Background(), domain.JobRequest{
		AudienceID:    "aud-1",
		OutputFormats: []domain.FormatType{domain.FormatArticle},
		MaxTopics:     10,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Contains(t, job.ErrorMessage, "source reddit failed")
	assert.Equal(t, 1, job.TotalRaw)
}

func TestExecuteZeroItemsCompletesWithNote(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.audiences["aud-1"] = testAudience()

	registry := connector.NewRegistry()
	registry.Register(&fakeConnector{name: "reddit"})
	registry.Register(&fakeConnector{name: "rss"})

	o := testOrchestrator(store, registry, nil)
	job, err := o.Execute(context.Background(), domain.JobRequest{
		AudienceID:    "aud-1",
		OutputFormats: []domain.FormatType{domain.FormatArticle},
		MaxTopics:     10,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Contains(t, job.ErrorMessage, "no content found from any source")
}

func TestExecuteNothingPassesFilter(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.audiences["aud-1"] = testAudience()

	registry := connector.NewRegistry()
	registry.Register(&fakeConnector{name: "reddit", items: []domain.ContentItem{
		{Source: "reddit", Title: "cooking tips", Body: "nothing relevant"},
	}})
	registry.Register(&fakeConnector{name: "rss"})

	o := testOrchestrator(store, registry, nil)
	job, err := o.Execute(context.Background(), domain.JobRequest{
		AudienceID:    "aud-1",
		OutputFormats: []domain.FormatType{domain.FormatArticle},
		MaxTopics:     10,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, 1, job.TotalRaw)
	assert.Equal(t, 0, job.TotalFiltered)
	assert.Contains(t, job.ErrorMessage, "no content passed keyword filter")
}

func TestExecuteEmbeddingFailureFailsJob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.audiences["aud-1"] = testAudience()

	registry := connector.NewRegistry()
	registry.Register(&fakeConnector{name: "reddit", items: []domain.ContentItem{relevantItem("topic-a")}})
	registry.Register(&fakeConnector{name: "rss"})

	o := testOrchestrator(store, registry, errors.New("embedding service down"))
	job, err := o.Execute(context.Background(), domain.JobRequest{
		AudienceID:    "aud-1",
		OutputFormats: []domain.FormatType{domain.FormatArticle},
		MaxTopics:     10,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "embedding failed")
}

func TestRunTerminalJobIsNoOp(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.audiences["aud-1"] = testAudience()
	job, err := store.CreateJob(context.Background(), domain.JobRequest{AudienceID: "aud-1"})
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, store.MarkJobRunning(context.Background(), job.ID, now))
	require.NoError(t, store.MarkJobCompleted(context.Background(), job.ID, now))

	o := testOrchestrator(store, connector.NewRegistry(), nil)
	require.NoError(t, o.Run(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Empty(t, store.counterHistory)
}

func TestRunCancellationFailsJob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.audiences["aud-1"] = testAudience()
	job, err := store.CreateJob(context.Background(), domain.JobRequest{
		AudienceID:    "aud-1",
		OutputFormats: []domain.FormatType{domain.FormatArticle},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := testOrchestrator(store, connector.NewRegistry(), nil)
	err = o.Run(ctx, job.ID)
	require.ErrorIs(t, err, context.Canceled)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "job canceled")
}

func TestRunCancellationDuringGenerationDiscardsIdeas(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.audiences["aud-1"] = testAudience()
	job, err := store.CreateJob(context.Background(), domain.JobRequest{
		AudienceID:    "aud-1",
		OutputFormats: []domain.FormatType{domain.FormatArticle, domain.FormatSocialPost},
		MaxTopics:     10,
	})
	require.NoError(t, err)

	registry := connector.NewRegistry()
	registry.Register(&fakeConnector{name: "reddit", items: []domain.ContentItem{
		relevantItem("topic-a"), relevantItem("topic-b"), relevantItem("topic-c"),
	}})
	registry.Register(&fakeConnector{name: "rss"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := testOrchestratorGen(store, registry, nil, &cancelingGenerator{cancel: cancel})
	err = o.Run(ctx, job.ID)
	require.ErrorIs(t, err, context.Canceled)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "job canceled")
	assert.Empty(t, store.ideas)
	assert.Equal(t, 0, got.TotalIdeas)
}

func TestCountersAreMonotonic(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.audiences["aud-1"] = testAudience()

	registry := connector.NewRegistry()
	registry.Register(&fakeConnector{name: "reddit", items: []domain.ContentItem{
		relevantItem("topic-a"), relevantItem("topic-b"),
	}})
	registry.Register(&fakeConnector{name: "rss"})

	o := testOrchestrator(store, registry, nil)
	_, err := o.Execute(context.Background(), domain.JobRequest{
		AudienceID:    "aud-1",
		OutputFormats: []domain.FormatType{domain.FormatArticle},
		MaxTopics:     10,
	})
	require.NoError(t, err)

	prev := domain.JobCounters{}
	for _, c := range store.counterHistory {
		assert.GreaterOrEqual(t, c.TotalRaw, prev.TotalRaw)
		assert.GreaterOrEqual(t, c.TotalFiltered, prev.TotalFiltered)
		assert.GreaterOrEqual(t, c.TotalDeduped, prev.TotalDeduped)
		assert.GreaterOrEqual(t, c.TotalClusters, prev.TotalClusters)
		assert.GreaterOrEqual(t, c.TotalIdeas, prev.TotalIdeas)
		prev = c
	}
}
