package domain

import (
	"strings"
	"time"
)

// FormatType enumerates the output formats an idea can be generated in.
type FormatType string

const (
	FormatArticle     FormatType = "article"
	FormatShortVideo  FormatType = "short_video"
	FormatLongVideo   FormatType = "long_video"
	FormatImagePrompt FormatType = "image_prompt"
	FormatSocialPost  FormatType = "social_post"
)

// Valid reports whether f is one of the known formats.
func (f FormatType) Valid() bool {
	switch f {
	case FormatArticle, FormatShortVideo, FormatLongVideo, FormatImagePrompt, FormatSocialPost:
		return true
	}
	return false
}

// ParseFormats converts string values into FormatTypes, dropping unknown ones.
func ParseFormats(values []string) []FormatType {
	formats := make([]FormatType, 0, len(values))
	for _, v := range values {
		f := FormatType(strings.TrimSpace(v))
		if f.Valid() {
			formats = append(formats, f)
		}
	}
	return formats
}

// Audience is a named target profile driving ingestion and filtering.
// It is referenced, never mutated, during a job run.
type Audience struct {
	ID               string
	Name             string
	Description      string
	CoreKeywords     []string
	ExtendedKeywords []string
	Subreddits       []string
	IsActive         bool
}

// AllKeywords returns core plus extended keywords in declaration order.
func (a Audience) AllKeywords() []string {
	all := make([]string, 0, len(a.CoreKeywords)+len(a.ExtendedKeywords))
	all = append(all, a.CoreKeywords...)
	all = append(all, a.ExtendedKeywords...)
	return all
}

// ContentItem is one raw or processed unit fetched from a source.
type ContentItem struct {
	ID          int64
	JobID       int64
	ContentHash string
	Source      string
	ContentType string
	Title       string
	Body        string
	URL         string
	Author      string
	PublishedAt time.Time

	Views    int
	Likes    int
	Comments int
	Shares   int

	EngagementScore float64
	Tags            []string
	KeywordHits     int
	IsDuplicate     bool
	ClusterID       *int64
	Embedding       []float32
}

// FullText joins title, body, and tags into the text used for scoring
// and embedding.
func (c ContentItem) FullText() string {
	parts := []string{c.Title}
	if c.Body != "" {
		parts = append(parts, c.Body)
	}
	if len(c.Tags) > 0 {
		parts = append(parts, strings.Join(c.Tags, " "))
	}
	return strings.Join(parts, " ")
}
