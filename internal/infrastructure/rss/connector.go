package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ContentEngine/internal/config"
	"ContentEngine/internal/connector"
	"ContentEngine/internal/domain"
)

// Connector polls a curated list of RSS 2.0 feeds. Feed items carry no
// engagement counters; curation stands in for popularity, so downstream
// filtering treats this source as passthrough.
type Connector struct {
	client *http.Client
	feeds  []config.FeedConfig
	logger *slog.Logger
}

func New(cfg config.RSSConfig, client *http.Client, logger *slog.Logger) *Connector {
	return &Connector{client: client, feeds: cfg.Feeds, logger: logger}
}

func (c *Connector) Name() string { return "rss" }

type feed struct {
	Channel struct {
		Items []feedItem `xml:"item"`
	} `xml:"channel"`
}

type feedItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	Content     string   `xml:"encoded"`
	Creator     string   `xml:"creator"`
	Author      string   `xml:"author"`
	PubDate     string   `xml:"pubDate"`
	Categories  []string `xml:"category"`
}

// pubDate formats seen in the wild; feeds are loose about RFC1123.
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

// Fetch polls every configured feed. A failing feed is logged and skipped;
// Fetch fails only when all feeds failed.
func (c *Connector) Fetch(ctx context.Context, req connector.Request) ([]domain.ContentItem, error) {
	if len(c.feeds) == 0 {
		return nil, nil
	}

	cutoff := time.Now().Add(-req.Lookback)
	var (
		items   []domain.ContentItem
		lastErr error
		failed  int
	)
	for _, fc := range c.feeds {
		raw, err := connector.GetBody(ctx, c.client, fc.URL, nil)
		if err != nil {
			c.logger.Warn("feed fetch failed", "feed", fc.Name, "error", err)
			lastErr = fmt.Errorf("feed %s: %w", fc.Name, err)
			failed++
			continue
		}
		var f feed
		if err := xml.Unmarshal(raw, &f); err != nil {
			c.logger.Warn("feed parse failed", "feed", fc.Name, "error", err)
			lastErr = fmt.Errorf("feed %s: %w", fc.Name, err)
			failed++
			continue
		}
		for _, it := range f.Channel.Items {
			published, ok := parsePubDate(it.PubDate)
			if ok && published.Before(cutoff) {
				continue
			}
			body := it.Content
			if body == "" {
				body = it.Description
			}
			author := it.Creator
			if author == "" {
				author = it.Author
			}
			items = append(items, domain.ContentItem{
				Source:      "rss",
				ContentType: "article",
				Title:       strings.TrimSpace(it.Title),
				Body:        stripHTML(body),
				URL:         strings.TrimSpace(it.Link),
				Author:      author,
				PublishedAt: published,
				Tags:        append([]string{fc.Name}, it.Categories...),
			})
			if len(items) >= req.MaxItems {
				break
			}
		}
		if len(items) >= req.MaxItems {
			break
		}
	}
	if failed == len(c.feeds) {
		return nil, fmt.Errorf("all feeds failed: %w", lastErr)
	}
	return items, nil
}

func parsePubDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// stripHTML flattens feed markup into plain text. Feeds routinely embed
// full HTML in description and content:encoded.
func stripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}
