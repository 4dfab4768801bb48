package youtube

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ContentEngine/internal/config"
	"ContentEngine/internal/connector"
	"ContentEngine/internal/domain"
)

// Connector searches the Data API v3 with the audience's core keywords,
// then joins in per-video statistics with a second call. When no API key
// is configured the connector reports zero items instead of failing, so
// the rest of the pipeline still runs.
type Connector struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	regionCode string
	order      string
	maxQueries int
	logger     *slog.Logger
}

func New(cfg config.YouTubeConfig, client *http.Client, logger *slog.Logger) *Connector {
	return &Connector{
		client:     client,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		regionCode: cfg.RegionCode,
		order:      cfg.Order,
		maxQueries: cfg.MaxQueries,
		logger:     logger,
	}
}

func (c *Connector) Name() string { return "youtube" }

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet snippet `json:"snippet"`
	} `json:"items"`
}

type snippet struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	ChannelTitle string `json:"channelTitle"`
	PublishedAt  string `json:"publishedAt"`
}

type videosResponse struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// Fetch runs one search per core keyword, capped at maxQueries, then one
// statistics call for all collected video IDs. A failing keyword search is
// logged and skipped; Fetch fails only when every search failed.
func (c *Connector) Fetch(ctx context.Context, req connector.Request) ([]domain.ContentItem, error) {
	if c.apiKey == "" {
		c.logger.Warn("youtube api key not configured, skipping source")
		return nil, nil
	}
	queries := req.Audience.CoreKeywords
	if len(queries) == 0 {
		return nil, nil
	}
	if c.maxQueries > 0 && len(queries) > c.maxQueries {
		queries = queries[:c.maxQueries]
	}

	perQuery := req.MaxItems / len(queries)
	if perQuery < 1 {
		perQuery = 1
	}
	if perQuery > 50 {
		perQuery = 50
	}
	cutoff := time.Now().Add(-req.Lookback).UTC()

	seen := make(map[string]struct{})
	var (
		items   []domain.ContentItem
		videoID = make(map[int]string)
		lastErr error
		failed  int
	)
	for _, q := range queries {
		params := url.Values{
			"part":           {"snippet"},
			"q":              {q},
			"type":           {"video"},
			"order":          {c.order},
			"regionCode":     {c.regionCode},
			"maxResults":     {strconv.Itoa(perQuery)},
			"publishedAfter": {cutoff.Format(time.RFC3339)},
			"key":            {c.apiKey},
		}
		var sr searchResponse
		if err := connector.GetJSON(ctx, c.client, c.baseURL+"/search?"+params.Encode(), nil, &sr); err != nil {
			c.logger.Warn("youtube search failed", "query", q, "error", err)
			lastErr = fmt.Errorf("query %q: %w", q, err)
			failed++
			continue
		}
		for _, item := range sr.Items {
			id := item.ID.VideoID
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			published, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
			videoID[len(items)] = id
			items = append(items, domain.ContentItem{
				Source:      "youtube",
				ContentType: "video",
				Title:       item.Snippet.Title,
				Body:        item.Snippet.Description,
				URL:         "https://www.youtube.com/watch?v=" + id,
				Author:      item.Snippet.ChannelTitle,
				PublishedAt: published.UTC(),
				Tags:        []string{q},
			})
		}
	}
	if failed == len(queries) {
		return nil, fmt.Errorf("all youtube searches failed: %w", lastErr)
	}
	if len(items) > req.MaxItems {
		items = items[:req.MaxItems]
	}

	if err := c.attachStatistics(ctx, items, videoID); err != nil {
		// Items without counters still flow through; the filter just sees
		// zero engagement for them.
		c.logger.Warn("youtube statistics fetch failed", "error", err)
	}
	return items, nil
}

// attachStatistics joins view/like/comment counts onto items, batching IDs
// 50 per call, the API maximum.
func (c *Connector) attachStatistics(ctx context.Context, items []domain.ContentItem, videoID map[int]string) error {
	ids := make([]string, 0, len(items))
	for i := range items {
		if id, ok := videoID[i]; ok {
			ids = append(ids, id)
		}
	}
	stats := make(map[string][3]int, len(ids))
	for start := 0; start < len(ids); start += 50 {
		end := start + 50
		if end > len(ids) {
			end = len(ids)
		}
		params := url.Values{
			"part": {"statistics"},
			"id":   {strings.Join(ids[start:end], ",")},
			"key":  {c.apiKey},
		}
		var vr videosResponse
		if err := connector.GetJSON(ctx, c.client, c.baseURL+"/videos?"+params.Encode(), nil, &vr); err != nil {
			return err
		}
		for _, v := range vr.Items {
			stats[v.ID] = [3]int{
				atoi(v.Statistics.ViewCount),
				atoi(v.Statistics.LikeCount),
				atoi(v.Statistics.CommentCount),
			}
		}
	}
	for i := range items {
		if s, ok := stats[videoID[i]]; ok {
			items[i].Views = s[0]
			items[i].Likes = s[1]
			items[i].Comments = s[2]
		}
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
