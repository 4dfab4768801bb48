package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ContentEngine/internal/connector"
	"ContentEngine/internal/domain"
	"ContentEngine/internal/pipeline"
	"ContentEngine/internal/ports"
)

// OrchestratorDeps wires all collaborators into the job orchestrator.
type OrchestratorDeps struct {
	Store     ports.JobStore
	Registry  *connector.Registry
	Filter    *pipeline.Filter
	Dedup     *pipeline.Deduplicator
	Clusterer *pipeline.Clusterer
	Embedder  ports.Embedder
	Generator *pipeline.IdeaGenerator
	Sources   []string
	Lookback  time.Duration
	MaxItems  int
	Logger    *slog.Logger
}

// Orchestrator owns the job state machine and drives the pipeline stages
// in order, persisting progress counters after each one.
type Orchestrator struct {
	store     ports.JobStore
	registry  *connector.Registry
	filter    *pipeline.Filter
	dedup     *pipeline.Deduplicator
	clusterer *pipeline.Clusterer
	embedder  ports.Embedder
	generator *pipeline.IdeaGenerator
	sources   []string
	lookback  time.Duration
	maxItems  int
	logger    *slog.Logger
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		store:     deps.Store,
		registry:  deps.Registry,
		filter:    deps.Filter,
		dedup:     deps.Dedup,
		clusterer: deps.Clusterer,
		embedder:  deps.Embedder,
		generator: deps.Generator,
		sources:   deps.Sources,
		lookback:  deps.Lookback,
		maxItems:  deps.MaxItems,
		logger:    deps.Logger,
	}
}

// Execute creates a job for the request and runs it to a terminal state.
// The returned job reflects the final stored record.
func (o *Orchestrator) Execute(ctx context.Context, req domain.JobRequest) (domain.ScrapeJob, error) {
	if len(req.OutputFormats) == 0 {
		return domain.ScrapeJob{}, fmt.Errorf("no valid output formats requested")
	}

	job, err := o.store.CreateJob(ctx, req)
	if err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("create job: %w", err)
	}

	if err := o.Run(ctx, job.ID); err != nil {
		o.logger.Error("job run failed", "job_id", job.ID, "error", err)
	}
	return o.store.GetJob(context.WithoutCancel(ctx), job.ID)
}

// Run drives the job with the given ID through every pipeline stage.
// Running a job already in a terminal state is a no-op, so a retried
// invocation cannot double-process. Cancellation is honored between
// stages; the job is then marked failed and the error returned.
func (o *Orchestrator) Run(ctx context.Context, jobID int64) error {
	// Persistence must survive cancellation so the final state is recorded.
	sctx := context.WithoutCancel(ctx)

	job, err := o.store.GetJob(sctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		o.logger.Info("job already terminal, skipping", "job_id", jobID, "status", job.Status)
		return nil
	}

	audience, err := o.store.GetAudience(sctx, job.AudienceID)
	if err != nil {
		return o.fail(sctx, jobID, fmt.Sprintf("load audience %s: %v", job.AudienceID, err))
	}

	if err := o.store.MarkJobRunning(sctx, jobID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	o.logger.Info("job started", "job_id", jobID, "audience", audience.ID)

	var counters domain.JobCounters

	// Stage 1: ingest.
	if err := o.checkpoint(ctx, sctx, jobID); err != nil {
		return err
	}
	items, ingestErrs, err := o.ingest(ctx, audience)
	if err != nil {
		return o.fail(sctx, jobID, err.Error())
	}
	for _, msg := range ingestErrs {
		if err := o.store.AppendJobError(sctx, jobID, msg); err != nil {
			return fmt.Errorf("append error: %w", err)
		}
	}

	o.filter.Annotate(items, audience.AllKeywords())
	for i := range items {
		items[i].ContentHash = pipeline.HashContent(items[i])
	}
	items, err = o.store.SaveItems(sctx, jobID, items)
	if err != nil {
		return o.fail(sctx, jobID, fmt.Sprintf("save items: %v", err))
	}
	counters.TotalRaw = len(items)
	if err := o.store.UpdateJobCounters(sctx, jobID, counters); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	o.logger.Info("ingest complete", "job_id", jobID, "total_raw", counters.TotalRaw)

	if len(items) == 0 {
		return o.complete(sctx, jobID, "no content found from any source")
	}

	// Stage 2: filter.
	if err := o.checkpoint(ctx, sctx, jobID); err != nil {
		return err
	}
	passed := o.filter.Passed(items)
	counters.TotalFiltered = len(passed)
	if err := o.store.UpdateJobCounters(sctx, jobID, counters); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	o.logger.Info("filter complete", "job_id", jobID, "total_filtered", counters.TotalFiltered)

	if len(passed) == 0 {
		return o.complete(sctx, jobID, "no content passed keyword filter")
	}

	// Stage 3: dedup.
	if err := o.checkpoint(ctx, sctx, jobID); err != nil {
		return err
	}
	unique, err := o.dedupStage(ctx, sctx, jobID, passed)
	if err != nil {
		return o.fail(sctx, jobID, err.Error())
	}
	counters.TotalDeduped = len(unique)
	if err := o.store.UpdateJobCounters(sctx, jobID, counters); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	o.logger.Info("dedup complete", "job_id", jobID, "total_deduped", counters.TotalDeduped)

	// Stage 4: cluster.
	if err := o.checkpoint(ctx, sctx, jobID); err != nil {
		return err
	}
	clusters := o.clusterer.Cluster(unique, job.MaxTopics)
	counters.TotalClusters = len(clusters)
	if err := o.store.UpdateJobCounters(sctx, jobID, counters); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	o.logger.Info("clustering complete", "job_id", jobID, "total_clusters", counters.TotalClusters)

	if len(clusters) == 0 {
		return o.complete(sctx, jobID, "")
	}

	for i := range clusters {
		clusters[i].JobID = jobID
		clusters[i], err = o.store.SaveCluster(sctx, clusters[i])
		if err != nil {
			return o.fail(sctx, jobID, fmt.Sprintf("save cluster %d: %v", clusters[i].ClusterIndex, err))
		}
	}
	for i := range clusters {
		clusters[i].Label = o.generator.LabelCluster(ctx, clusters[i])
		if err := o.store.UpdateClusterLabel(sctx, clusters[i].ID, clusters[i].Label); err != nil {
			return fmt.Errorf("update cluster label: %w", err)
		}
	}

	// Stage 5: generate.
	if err := o.checkpoint(ctx, sctx, jobID); err != nil {
		return err
	}
	result := o.generator.GenerateAll(ctx, clusters, audience, job.OutputFormats)
	// Cancellation during generation discards the in-flight results; the
	// job must not complete with ideas produced after the cancel.
	if err := o.checkpoint(ctx, sctx, jobID); err != nil {
		return err
	}
	for _, f := range result.Failures {
		if err := o.store.AppendJobError(sctx, jobID, f.String()); err != nil {
			return fmt.Errorf("append error: %w", err)
		}
	}
	for _, idea := range result.Ideas {
		if _, err := o.store.SaveIdea(sctx, idea); err != nil {
			return o.fail(sctx, jobID, fmt.Sprintf("save idea: %v", err))
		}
	}
	counters.TotalIdeas = len(result.Ideas)
	if err := o.store.UpdateJobCounters(sctx, jobID, counters); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	o.logger.Info("generation complete", "job_id", jobID,
		"total_ideas", counters.TotalIdeas, "failures", len(result.Failures))

	return o.complete(sctx, jobID, "")
}

// ingest fans out to every configured source concurrently. Per-source
// results keep their slot so the flattened order follows configuration
// order, not completion order. A failed source becomes a partial error;
// ingest itself fails only when every source failed.
func (o *Orchestrator) ingest(ctx context.Context, audience domain.Audience) ([]domain.ContentItem, []string, error) {
	results := make([][]domain.ContentItem, len(o.sources))
	fetchErrs := make([]error, len(o.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range o.sources {
		conn, err := o.registry.Resolve(name)
		if err != nil {
			fetchErrs[i] = err
			continue
		}
		g.Go(func() error {
			items, err := conn.Fetch(gctx, connector.Request{
				Audience: audience,
				Lookback: o.lookback,
				MaxItems: o.maxItems,
			})
			if err != nil {
				fetchErrs[i] = err
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var (
		items    []domain.ContentItem
		partials []string
		failed   int
	)
	for i, name := range o.sources {
		if fetchErrs[i] != nil {
			o.logger.Warn("source failed", "source", name, "error", fetchErrs[i])
			partials = append(partials, fmt.Sprintf("source %s failed: %v", name, fetchErrs[i]))
			failed++
			continue
		}
		items = append(items, results[i]...)
	}
	if len(o.sources) > 0 && failed == len(o.sources) {
		return nil, nil, fmt.Errorf("all sources failed: %s", partials[0])
	}
	return items, partials, nil
}

// dedupStage removes exact duplicates, embeds the survivors, then removes
// near duplicates. An embedding failure is fatal for the job.
func (o *Orchestrator) dedupStage(ctx, sctx context.Context, jobID int64, items []domain.ContentItem) ([]domain.ContentItem, error) {
	kept, exactDups := o.dedup.ExactDedup(items)
	if err := o.store.MarkDuplicates(sctx, jobID, exactDups); err != nil {
		return nil, fmt.Errorf("mark exact duplicates: %v", err)
	}

	texts := make([]string, len(kept))
	for i, item := range kept {
		texts[i] = item.FullText()
	}
	vectors, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %v", err)
	}
	if len(vectors) != len(kept) {
		return nil, fmt.Errorf("embedding returned %d vectors for %d items", len(vectors), len(kept))
	}
	for i := range kept {
		kept[i].Embedding = vectors[i]
	}
	if err := o.store.StoreEmbeddings(sctx, kept); err != nil {
		return nil, fmt.Errorf("store embeddings: %v", err)
	}

	unique, nearDups := o.dedup.NearDedup(kept)
	if err := o.store.MarkDuplicates(sctx, jobID, nearDups); err != nil {
		return nil, fmt.Errorf("mark near duplicates: %v", err)
	}
	return unique, nil
}

// checkpoint enforces cancellation at a stage boundary.
func (o *Orchestrator) checkpoint(ctx, sctx context.Context, jobID int64) error {
	if err := ctx.Err(); err != nil {
		if ferr := o.store.MarkJobFailed(sctx, jobID, "job canceled", time.Now().UTC()); ferr != nil {
			o.logger.Error("failed to record cancellation", "job_id", jobID, "error", ferr)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) fail(sctx context.Context, jobID int64, cause string) error {
	if err := o.store.MarkJobFailed(sctx, jobID, cause, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	o.logger.Error("job failed", "job_id", jobID, "cause", cause)
	return fmt.Errorf("job %d failed: %s", jobID, cause)
}

// complete marks the job completed, recording note as a non-fatal
// explanation when the pipeline ended early with nothing to process.
func (o *Orchestrator) complete(sctx context.Context, jobID int64, note string) error {
	if note != "" {
		if err := o.store.AppendJobError(sctx, jobID, note); err != nil {
			return fmt.Errorf("append note: %w", err)
		}
	}
	if err := o.store.MarkJobCompleted(sctx, jobID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	o.logger.Info("job completed", "job_id", jobID)
	return nil
}
