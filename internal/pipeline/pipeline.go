// Package pipeline runs a user's sync: collect, fetch, select and deliver.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/PartnerCenter/internal/collect"
	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/delivery"
	"github.com/TobiSchelling/PartnerCenter/internal/fetch"
	"github.com/TobiSchelling/PartnerCenter/internal/logging"
	"github.com/TobiSchelling/PartnerCenter/internal/selector"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result is the summary a sync run returns to its caller.
type Result struct {
	RunID  string
	UserID int64
	// Sent counts posts delivered, Messages the gateway calls that carried them.
	Sent     int
	Messages int
	Steps    []StepResult
	Errors   []string
}

// Options enables the optional steps.
type Options struct {
	Collector *collect.Collector
	Fetcher   *fetch.ContentFetcher
}

// Pipeline orchestrates one sync run per call. Concurrent calls are safe;
// the claim on each post is the only coordination between them.
type Pipeline struct {
	store       database.Store
	collector   *collect.Collector
	fetcher     *fetch.ContentFetcher
	selector    *selector.Selector
	coordinator *delivery.Coordinator
	newRunID    func() string
}

// New creates a pipeline from its parts.
func New(store database.Store, sel *selector.Selector, coord *delivery.Coordinator, opts Options) *Pipeline {
	return &Pipeline{
		store:       store,
		collector:   opts.Collector,
		fetcher:     opts.Fetcher,
		selector:    sel,
		coordinator: coord,
		newRunID:    uuid.NewString,
	}
}

// Sync runs the pipeline for one user. Expected failures end up in
// Result.Errors; nothing is returned as an error.
func (p *Pipeline) Sync(ctx context.Context, userID int64) *Result {
	r := &Result{RunID: p.newRunID(), UserID: userID}
	log := logging.Log.WithFields(logrus.Fields{"run_id": r.RunID, "user_id": userID})
	log.Info("sync started")

	if p.collector != nil {
		log.Debug("Step 1/4: Collecting posts...")
		res := p.collector.Collect(ctx, userID)
		r.Steps = append(r.Steps, StepResult{
			Name:    "Collect",
			Summary: fmt.Sprintf("Found %d new posts (%d total, %d duplicates)", res.NewPosts, res.TotalFound, res.Duplicates),
		})
		if res.Errors > 0 {
			r.Errors = append(r.Errors, fmt.Sprintf("collect: %d feeds or posts failed", res.Errors))
		}
	}

	if p.fetcher != nil {
		log.Debug("Step 2/4: Fetching post content...")
		res := p.fetcher.FetchMissingContent(ctx, userID)
		r.Steps = append(r.Steps, StepResult{
			Name:    "Fetch",
			Summary: fmt.Sprintf("Fetched %d posts, %d failed", res.Fetched, res.Failed),
		})
	}

	log.Debug("Step 3/4: Selecting opportunities...")
	sel, err := p.selector.Select(ctx, userID)
	if err != nil {
		log.WithError(err).Error("selection failed")
		r.Steps = append(r.Steps, StepResult{Name: "Select", Err: err})
		r.Errors = append(r.Errors, err.Error())
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name: "Select",
		Summary: fmt.Sprintf("Classified %d posts, %d opportunities pending (%d skipped without text)",
			sel.Classified, len(sel.Candidates), sel.SkippedEmpty),
	})
	r.Errors = append(r.Errors, sel.Errors...)

	log.Debug("Step 4/4: Delivering notifications...")
	del := p.coordinator.Deliver(ctx, r.RunID, sel.Candidates)
	r.Sent = del.Sent
	r.Messages = del.Messages
	r.Steps = append(r.Steps, StepResult{
		Name: "Deliver",
		Summary: fmt.Sprintf("Sent %d posts in %d messages (%d failed batches, %d already claimed)",
			del.Sent, del.Messages, del.FailedBatches, del.AlreadyClaimed),
	})
	r.Errors = append(r.Errors, del.Errors...)

	log.WithFields(logrus.Fields{"sent": r.Sent, "errors": len(r.Errors)}).Info("sync finished")
	return r
}

// SyncAll runs Sync for every user that has an alertable profile.
func (p *Pipeline) SyncAll(ctx context.Context) ([]*Result, error) {
	users, err := p.store.ListUsersWithAlertableProfiles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing users")
	}
	results := make([]*Result, 0, len(users))
	for _, id := range users {
		if ctx.Err() != nil {
			break
		}
		results = append(results, p.Sync(ctx, id))
	}
	return results, nil
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(ctx context.Context, userID int64) *Result {
	r := &Result{RunID: "dry-run", UserID: userID}

	if p.collector != nil {
		profiles, err := p.store.ListProfiles(ctx, userID)
		feeds := 0
		for _, pr := range profiles {
			if pr.FeedURL != nil && *pr.FeedURL != "" {
				feeds++
			}
		}
		r.Steps = append(r.Steps, StepResult{
			Name:    "Collect",
			Summary: fmt.Sprintf("[dry-run] %d profile feeds would be polled", feeds),
			Err:     err,
		})
	}

	if p.fetcher != nil {
		needing, err := p.store.ListPostsNeedingFetch(ctx, userID)
		r.Steps = append(r.Steps, StepResult{
			Name:    "Fetch",
			Summary: fmt.Sprintf("[dry-run] %d posts need content fetching", len(needing)),
			Err:     err,
		})
	}

	preview, err := p.selector.Preview(ctx, userID)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Select", Err: err})
		r.Errors = append(r.Errors, err.Error())
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name: "Select",
		Summary: fmt.Sprintf("[dry-run] %d alertable profiles, %d pending posts, %d need classification, %d without text",
			preview.Profiles, preview.Pending, preview.Unclassified, preview.EmptyText),
	})
	r.Steps = append(r.Steps, StepResult{
		Name: "Deliver",
		Summary: fmt.Sprintf("[dry-run] %d classified opportunities for %d recipients (plus any found by classification)",
			preview.Qualifying, preview.RecipientCount),
	})
	return r
}
