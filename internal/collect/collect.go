// Package collect brings new posts of tracked profiles into the store, from
// profile feeds or from exported scraper files.
package collect

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/logging"
)

// Store is the part of database.Store the collector needs.
type Store interface {
	ListProfiles(ctx context.Context, userID int64) ([]database.Profile, error)
	InsertPost(ctx context.Context, p database.NewPost) (int64, error)
}

// Result holds the results of a collection run.
type Result struct {
	TotalFound int
	NewPosts   int
	Duplicates int
	Errors     int
	// Profiles maps profile title to the number of new posts.
	Profiles map[string]int
}

func newResult() *Result {
	return &Result{Profiles: make(map[string]int)}
}

// Collector pulls posts from profile feeds.
type Collector struct {
	store  Store
	parser *FeedParser
}

// NewCollector creates a feed collector.
func NewCollector(store Store, maxPerFeed int) *Collector {
	return &Collector{store: store, parser: NewFeedParser(maxPerFeed)}
}

// Collect collects posts for every profile of the user that has a feed.
// New posts arrive unclassified and not notified.
func (c *Collector) Collect(ctx context.Context, userID int64) *Result {
	r := newResult()
	log := logging.Log.WithField("user_id", userID)

	profiles, err := c.store.ListProfiles(ctx, userID)
	if err != nil {
		log.WithError(err).Error("listing profiles")
		r.Errors++
		return r
	}

	for _, p := range profiles {
		if p.FeedURL == nil || *p.FeedURL == "" {
			continue
		}
		entries, err := c.parser.Parse(ctx, *p.FeedURL)
		if err != nil {
			log.WithFields(logrus.Fields{"profile_id": p.ID, "feed": *p.FeedURL}).WithError(err).Warn("failed to parse feed")
			r.Errors++
			continue
		}
		r.TotalFound += len(entries)
		for _, e := range entries {
			c.insert(ctx, p, e, r)
		}
		log.Debugf("Parsed %d entries for %s", len(entries), p.Title)
	}

	log.Infof("Collection complete: %d found, %d new, %d duplicates", r.TotalFound, r.NewPosts, r.Duplicates)
	return r
}

func (c *Collector) insert(ctx context.Context, p database.Profile, e FeedEntry, r *Result) {
	post := database.NewPost{ProfileID: p.ID, URL: &e.URL, PublishedAt: e.PublishedAt}
	if e.Content != "" {
		content := e.Content
		post.Content = &content
	}
	id, err := c.store.InsertPost(ctx, post)
	switch {
	case err != nil:
		logging.Log.WithField("profile_id", p.ID).WithError(err).Warn("inserting post")
		r.Errors++
	case id > 0:
		r.NewPosts++
		r.Profiles[p.Title]++
	default:
		r.Duplicates++
	}
}
