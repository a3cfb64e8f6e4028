package collect

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

const defaultMaxPerFeed = 20

// FeedEntry is one post parsed from a profile feed.
type FeedEntry struct {
	URL         string
	Content     string
	PublishedAt *time.Time
}

// FeedParser parses RSS/Atom feeds of tracked profiles.
type FeedParser struct {
	parser     *gofeed.Parser
	maxPerFeed int
}

// NewFeedParser creates a parser keeping at most maxPerFeed items per feed.
func NewFeedParser(maxPerFeed int) *FeedParser {
	if maxPerFeed <= 0 {
		maxPerFeed = defaultMaxPerFeed
	}
	return &FeedParser{parser: gofeed.NewParser(), maxPerFeed: maxPerFeed}
}

// Parse fetches feedURL and returns its newest entries.
func (fp *FeedParser) Parse(ctx context.Context, feedURL string) ([]FeedEntry, error) {
	feed, err := fp.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}
	return fp.entries(feed), nil
}

// ParseString parses feed XML held in memory.
func (fp *FeedParser) ParseString(data string) ([]FeedEntry, error) {
	feed, err := fp.parser.ParseString(data)
	if err != nil {
		return nil, err
	}
	return fp.entries(feed), nil
}

func (fp *FeedParser) entries(feed *gofeed.Feed) []FeedEntry {
	var entries []FeedEntry
	for _, item := range feed.Items {
		if len(entries) >= fp.maxPerFeed {
			break
		}
		if entry := parseItem(item); entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries
}

func parseItem(item *gofeed.Item) *FeedEntry {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	var content string
	switch {
	case item.Content != "":
		content = stripHTML(item.Content)
	case item.Description != "":
		content = stripHTML(item.Description)
	}
	if content == "" {
		content = strings.TrimSpace(item.Title)
	}

	return &FeedEntry{
		URL:         itemURL,
		Content:     content,
		PublishedAt: publishedAt(item),
	}
}

func publishedAt(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return &t
	}
	if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		return &t
	}
	return ParseTime(item.Published)
}

// ParseTime parses the loose date formats found in feeds and scraper
// exports. It returns nil for empty or unparseable input.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// stripHTML returns the visible text of an HTML fragment with whitespace
// collapsed.
func stripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()
	doc.Find("br, p, div, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}
