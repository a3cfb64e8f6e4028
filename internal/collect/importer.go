package collect

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/logging"
)

// ImportedPost is one record of a scraper export file.
type ImportedPost struct {
	ProfileID   int64  `json:"profile_id"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}

// Import reads a JSON array of ImportedPost and stores the new ones.
// Records with an unknown profile are counted as errors.
func Import(ctx context.Context, store database.Store, r io.Reader) (*Result, error) {
	var records []ImportedPost
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "decoding import file")
	}

	res := newResult()
	res.TotalFound = len(records)
	titles := make(map[int64]string)

	for i, rec := range records {
		title, ok := titles[rec.ProfileID]
		if !ok {
			p, err := store.GetProfile(ctx, rec.ProfileID)
			if err != nil {
				return res, errors.Wrapf(err, "looking up profile %d", rec.ProfileID)
			}
			if p == nil {
				logging.Log.Warnf("record %d: unknown profile %d", i, rec.ProfileID)
				res.Errors++
				continue
			}
			title = p.Title
			titles[rec.ProfileID] = title
		}

		post := database.NewPost{ProfileID: rec.ProfileID, PublishedAt: ParseTime(rec.PublishedAt)}
		if s := strings.TrimSpace(rec.Content); s != "" {
			post.Content = &s
		}
		if u := strings.TrimSpace(rec.URL); u != "" {
			post.URL = &u
		}

		id, err := store.InsertPost(ctx, post)
		if err != nil {
			return res, errors.Wrapf(err, "inserting record %d", i)
		}
		if id > 0 {
			res.NewPosts++
			res.Profiles[title]++
		} else {
			res.Duplicates++
		}
	}

	logging.Log.Infof("Import complete: %d records, %d new, %d duplicates, %d errors",
		res.TotalFound, res.NewPosts, res.Duplicates, res.Errors)
	return res, nil
}
