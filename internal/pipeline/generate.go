package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"ContentEngine/internal/domain"
	"ContentEngine/internal/ports"
)

const maxSourceURLs = 10

// IdeaGenerator turns labeled topic clusters into content drafts through a
// text generation backend.
type IdeaGenerator struct {
	gen            ports.TextGenerator
	maxRetries     int
	concurrency    int
	initialBackoff time.Duration
	logger         *slog.Logger
}

func NewIdeaGenerator(gen ports.TextGenerator, maxRetries, concurrency int, logger *slog.Logger) *IdeaGenerator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &IdeaGenerator{
		gen:            gen,
		maxRetries:     maxRetries,
		concurrency:    concurrency,
		initialBackoff: time.Second,
		logger:         logger,
	}
}

// GenerationFailure records one (cluster, format) pair that failed after
// retries. The run continues past these.
type GenerationFailure struct {
	ClusterIndex int
	Format       domain.FormatType
	Err          error
}

func (f GenerationFailure) String() string {
	return fmt.Sprintf("generation failed for cluster %d format %s: %v", f.ClusterIndex, f.Format, f.Err)
}

// GenerationResult is the outcome of a full generation fan-out.
type GenerationResult struct {
	Ideas    []domain.ContentIdea
	Failures []GenerationFailure
}

// LabelCluster asks the backend for a short topic label. On failure it
// falls back to the top title so the cluster is still presentable.
func (g *IdeaGenerator) LabelCluster(ctx context.Context, cluster domain.TopicCluster) string {
	label, err := g.completeWithRetry(ctx, LabelPrompt(cluster))
	if err != nil {
		g.logger.Warn("topic labeling failed, using fallback",
			"cluster_index", cluster.ClusterIndex, "error", err)
		return fallbackLabel(cluster)
	}
	label = strings.TrimSpace(strings.Trim(strings.TrimSpace(label), `"`))
	if label == "" {
		return fallbackLabel(cluster)
	}
	return label
}

func fallbackLabel(cluster domain.TopicCluster) string {
	if len(cluster.TopTitles) > 0 {
		return cluster.TopTitles[0]
	}
	return fmt.Sprintf("Topic #%d", cluster.ClusterIndex)
}

// GenerateAll produces one idea per (cluster, format) pair with bounded
// concurrency. Ideas come back ordered by cluster then format regardless
// of completion order. Per-pair failures are collected, not fatal.
func (g *IdeaGenerator) GenerateAll(ctx context.Context, clusters []domain.TopicCluster, audience domain.Audience, formats []domain.FormatType) GenerationResult {
	type pair struct {
		cluster domain.TopicCluster
		format  domain.FormatType
	}
	var pairs []pair
	for _, c := range clusters {
		for _, f := range formats {
			pairs = append(pairs, pair{cluster: c, format: f})
		}
	}

	ideas := make([]*domain.ContentIdea, len(pairs))
	failures := make([]*GenerationFailure, len(pairs))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, p := range pairs {
		eg.Go(func() error {
			content, err := g.completeWithRetry(gctx, PromptFor(p.format, p.cluster, audience))
			if err != nil {
				failures[i] = &GenerationFailure{ClusterIndex: p.cluster.ClusterIndex, Format: p.format, Err: err}
				return nil
			}
			ideas[i] = &domain.ContentIdea{
				JobID:            p.cluster.JobID,
				ClusterID:        p.cluster.ID,
				AudienceID:       audience.ID,
				FormatType:       p.format,
				TopicLabel:       p.cluster.Label,
				GeneratedContent: content,
				SourceURLs:       clusterSourceURLs(p.cluster),
			}
			return nil
		})
	}
	_ = eg.Wait()

	var result GenerationResult
	for i := range pairs {
		if ideas[i] != nil {
			result.Ideas = append(result.Ideas, *ideas[i])
		}
		if failures[i] != nil {
			result.Failures = append(result.Failures, *failures[i])
		}
	}
	return result
}

// completeWithRetry retries rate-limit and availability failures with
// exponential backoff. Permanent and malformed-response errors abort
// immediately.
func (g *IdeaGenerator) completeWithRetry(ctx context.Context, prompt string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.initialBackoff
	return backoff.Retry(ctx, func() (string, error) {
		out, err := g.gen.Complete(ctx, prompt)
		if err != nil {
			if retryable(err) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return out, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(g.maxRetries+1)))
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrUnavailable)
}

// clusterSourceURLs collects member URLs in engagement order, deduplicated,
// capped at maxSourceURLs.
func clusterSourceURLs(cluster domain.TopicCluster) []string {
	seen := make(map[string]struct{}, len(cluster.Members))
	var urls []string
	for _, m := range cluster.Members {
		if m.URL == "" {
			continue
		}
		if _, ok := seen[m.URL]; ok {
			continue
		}
		seen[m.URL] = struct{}{}
		urls = append(urls, m.URL)
		if len(urls) >= maxSourceURLs {
			break
		}
	}
	return urls
}
