package reddit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ContentEngine/internal/config"
	"ContentEngine/internal/connector"
	"ContentEngine/internal/domain"
)

// Connector pulls posts from the public listing endpoints, one request per
// configured subreddit. No OAuth; the listing API only needs a descriptive
// User-Agent.
type Connector struct {
	client    *http.Client
	baseURL   string
	sort      string
	userAgent string
	logger    *slog.Logger
}

func New(cfg config.RedditConfig, client *http.Client, logger *slog.Logger) *Connector {
	return &Connector{
		client:    client,
		baseURL:   cfg.BaseURL,
		sort:      cfg.Sort,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

func (c *Connector) Name() string { return "reddit" }

type listing struct {
	Data struct {
		Children []struct {
			Data post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
}

// Fetch collects recent posts from each of the audience's subreddits.
// A failing subreddit is logged and skipped; Fetch fails only when every
// subreddit request failed.
func (c *Connector) Fetch(ctx context.Context, req connector.Request) ([]domain.ContentItem, error) {
	if len(req.Audience.Subreddits) == 0 {
		return nil, nil
	}

	perSub := req.MaxItems / len(req.Audience.Subreddits)
	if perSub < 1 {
		perSub = 1
	}
	cutoff := time.Now().Add(-req.Lookback)
	header := http.Header{"User-Agent": []string{c.userAgent}}

	var (
		items   []domain.ContentItem
		lastErr error
		failed  int
	)
	for _, sub := range req.Audience.Subreddits {
		url := fmt.Sprintf("%s/r/%s/%s.json?limit=%d", c.baseURL, sub, c.sort, perSub)
		var l listing
		if err := connector.GetJSON(ctx, c.client, url, header, &l); err != nil {
			c.logger.Warn("subreddit fetch failed", "subreddit", sub, "error", err)
			lastErr = fmt.Errorf("r/%s: %w", sub, err)
			failed++
			continue
		}
		for _, child := range l.Data.Children {
			p := child.Data
			if p.Stickied {
				continue
			}
			published := time.Unix(int64(p.CreatedUTC), 0).UTC()
			if published.Before(cutoff) {
				continue
			}
			link := p.URL
			if p.Permalink != "" {
				link = c.baseURL + p.Permalink
			}
			items = append(items, domain.ContentItem{
				Source:      "reddit",
				ContentType: "post",
				Title:       p.Title,
				Body:        p.Selftext,
				URL:         link,
				Author:      p.Author,
				PublishedAt: published,
				Likes:       p.Score,
				Comments:    p.NumComments,
				Tags:        []string{p.Subreddit},
			})
		}
	}
	if failed == len(req.Audience.Subreddits) {
		return nil, fmt.Errorf("all subreddits failed: %w", lastErr)
	}
	if len(items) > req.MaxItems {
		items = items[:req.MaxItems]
	}
	return items, nil
}
