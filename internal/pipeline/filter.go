package pipeline

import (
	"strings"

	"ContentEngine/internal/config"
	"ContentEngine/internal/domain"
)

// Filter performs relevance gating and engagement scoring on raw items.
// Scoring and gating are separated so that annotation can happen once at
// ingestion and gating stays a pure, idempotent partition.
type Filter struct {
	minHits     int
	passthrough map[string]bool
	weights     config.EngagementWeights
}

// NewFilter builds a filter from the pipeline configuration.
func NewFilter(cfg config.PipelineConfig) *Filter {
	passthrough := make(map[string]bool, len(cfg.PassthroughSources))
	for _, s := range cfg.PassthroughSources {
		passthrough[s] = true
	}
	minHits := cfg.MinKeywordHits
	if minHits < 1 {
		minHits = 1
	}
	return &Filter{
		minHits:     minHits,
		passthrough: passthrough,
		weights:     cfg.Engagement,
	}
}

// Score counts case-insensitive keyword occurrences across title and body.
func (f *Filter) Score(item domain.ContentItem, keywords []string) int {
	text := strings.ToLower(item.Title + " " + item.Body)
	hits := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		hits += strings.Count(text, kw)
	}
	return hits
}

// EngagementScore reduces the raw counters to the configured weighted sum.
func (f *Filter) EngagementScore(item domain.ContentItem) float64 {
	return float64(item.Views)*f.weights.Views +
		float64(item.Likes)*f.weights.Likes +
		float64(item.Comments)*f.weights.Comments +
		float64(item.Shares)*f.weights.Shares
}

// Annotate sets KeywordHits and EngagementScore on every item in place.
func (f *Filter) Annotate(items []domain.ContentItem, keywords []string) {
	for i := range items {
		items[i].KeywordHits = f.Score(items[i], keywords)
		items[i].EngagementScore = f.EngagementScore(items[i])
	}
}

// Passed returns the items that clear the keyword gate. Items from
// curated passthrough sources pass regardless of hits. Rejected items are
// dropped, not retained.
func (f *Filter) Passed(items []domain.ContentItem) []domain.ContentItem {
	passed := make([]domain.ContentItem, 0, len(items))
	for _, item := range items {
		if item.KeywordHits >= f.minHits || f.passthrough[item.Source] {
			passed = append(passed, item)
		}
	}
	return passed
}
