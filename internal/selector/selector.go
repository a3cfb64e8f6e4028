// Package selector finds a user's posts that qualify for a sales-opportunity
// alert, classifying the ones seen for the first time.
package selector

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/PartnerCenter/internal/classify"
	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/logging"
)

// Store is the part of database.Store the selector reads and writes.
type Store interface {
	ListAlertableProfiles(ctx context.Context, userID int64) ([]database.Profile, error)
	ListPendingPosts(ctx context.Context, profileIDs []int64) ([]database.Post, error)
	SetClassification(ctx context.Context, postID int64, c *classify.Classification) (bool, error)
	GetPost(ctx context.Context, id int64) (*database.Post, error)
}

// Classifier is the classifier gateway.
type Classifier interface {
	Classify(ctx context.Context, text string) (*classify.Classification, error)
}

// Candidate is a qualifying post with the recipient and profile title read
// when it was selected.
type Candidate struct {
	Post         database.Post
	RecipientID  string
	ProfileTitle string
}

// Selection is the outcome of one selection pass.
type Selection struct {
	Candidates []Candidate
	Profiles   int
	Scanned    int
	Classified int
	// SkippedEmpty counts unclassified posts without text.
	SkippedEmpty int
	Errors       []string
}

// Selector runs the selection pass.
type Selector struct {
	store      Store
	classifier Classifier
}

// New creates a selector. A nil classifier leaves unclassified posts alone.
func New(store Store, classifier Classifier) *Selector {
	return &Selector{store: store, classifier: classifier}
}

// Select classifies the user's unclassified pending posts and returns the
// unnotified sales opportunities in collection order. Only listing failures
// are returned as errors; per-post failures land in Selection.Errors.
func (s *Selector) Select(ctx context.Context, userID int64) (*Selection, error) {
	log := logging.Log.WithField("user_id", userID)
	sel := &Selection{}

	profiles, err := s.store.ListAlertableProfiles(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing alertable profiles")
	}
	sel.Profiles = len(profiles)
	if len(profiles) == 0 {
		log.Debug("no alertable profiles")
		return sel, nil
	}

	byID := make(map[int64]database.Profile, len(profiles))
	ids := make([]int64, 0, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	posts, err := s.store.ListPendingPosts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "listing pending posts")
	}
	sel.Scanned = len(posts)

	for _, post := range posts {
		if post.Classification == nil {
			c, err := s.classifyPost(ctx, post)
			if err != nil {
				log.WithField("post_id", post.ID).WithError(err).Warn("post left unclassified")
				sel.Errors = append(sel.Errors, fmt.Sprintf("post %d: %v", post.ID, err))
				continue
			}
			if c == nil {
				sel.SkippedEmpty++
				continue
			}
			sel.Classified++
			post.Classification = c
		}

		if !post.Classification.IsOpportunity() || post.Notified {
			continue
		}
		profile := byID[post.ProfileID]
		sel.Candidates = append(sel.Candidates, Candidate{
			Post:         post,
			RecipientID:  *profile.RecipientID,
			ProfileTitle: profile.Title,
		})
	}

	log.WithFields(logrus.Fields{
		"profiles":   sel.Profiles,
		"scanned":    sel.Scanned,
		"classified": sel.Classified,
		"candidates": len(sel.Candidates),
		"errors":     len(sel.Errors),
	}).Info("selection complete")
	return sel, nil
}

// classifyPost calls the gateway once and stores the verdict. It returns nil
// without error for posts that have no text. When another run stored a
// classification first, the stored one wins.
func (s *Selector) classifyPost(ctx context.Context, post database.Post) (*classify.Classification, error) {
	text := strings.TrimSpace(post.Text())
	if text == "" {
		return nil, nil
	}
	if s.classifier == nil {
		return nil, &classify.Error{Kind: classify.KindAuth, Err: errors.New("no classifier configured")}
	}

	c, err := s.classifier.Classify(ctx, text)
	if err != nil {
		return nil, err
	}

	wrote, err := s.store.SetClassification(ctx, post.ID, c)
	if err != nil {
		return nil, errors.Wrap(err, "storing classification")
	}
	if wrote {
		return c, nil
	}

	stored, err := s.store.GetPost(ctx, post.ID)
	if err != nil {
		return nil, errors.Wrap(err, "rereading post")
	}
	if stored == nil || stored.Classification == nil {
		return nil, errors.New("post vanished while classifying")
	}
	return stored.Classification, nil
}

// Preview counts what Select would do without calling the classifier or
// writing anything.
type Preview struct {
	Profiles       int
	Pending        int
	Unclassified   int
	EmptyText      int
	Qualifying     int
	RecipientCount int
}

// Preview returns selection counts for a dry run.
func (s *Selector) Preview(ctx context.Context, userID int64) (*Preview, error) {
	profiles, err := s.store.ListAlertableProfiles(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing alertable profiles")
	}
	p := &Preview{Profiles: len(profiles)}
	if len(profiles) == 0 {
		return p, nil
	}

	byID := make(map[int64]database.Profile, len(profiles))
	ids := make([]int64, 0, len(profiles))
	for _, pr := range profiles {
		byID[pr.ID] = pr
		ids = append(ids, pr.ID)
	}
	posts, err := s.store.ListPendingPosts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "listing pending posts")
	}
	p.Pending = len(posts)

	recipients := make(map[string]bool)
	for _, post := range posts {
		switch {
		case post.Classification == nil && strings.TrimSpace(post.Text()) == "":
			p.EmptyText++
		case post.Classification == nil:
			p.Unclassified++
		case post.Classification.IsOpportunity():
			p.Qualifying++
			recipients[*byID[post.ProfileID].RecipientID] = true
		}
	}
	p.RecipientCount = len(recipients)
	return p, nil
}
