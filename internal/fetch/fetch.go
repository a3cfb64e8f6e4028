// Package fetch fills in the text of posts that were collected with a URL
// but no content.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/logging"
)

const minContentChars = 40

// Store is the part of database.Store the fetcher needs.
type Store interface {
	ListPostsNeedingFetch(ctx context.Context, userID int64) ([]database.Post, error)
	UpdatePostContent(ctx context.Context, postID int64, content *string) error
	MarkFetchAttempted(ctx context.Context, postID int64) error
}

// Result holds the results of a content fetch run.
type Result struct {
	Fetched int
	Failed  int
}

// ContentFetcher fetches post pages and extracts their text with readability.
type ContentFetcher struct {
	store  Store
	client *http.Client
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(store Store, timeout time.Duration) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ContentFetcher{
		store: store,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// FetchMissingContent fetches text for the user's posts that have none.
// Each post is attempted once; a domain answering with an HTTP error is
// skipped for the rest of the run.
func (f *ContentFetcher) FetchMissingContent(ctx context.Context, userID int64) *Result {
	log := logging.Log.WithField("user_id", userID)
	posts, err := f.store.ListPostsNeedingFetch(ctx, userID)
	if err != nil {
		log.WithError(err).Error("listing posts needing fetch")
		return &Result{}
	}
	if len(posts) == 0 {
		log.Debug("No posts need content fetching")
		return &Result{}
	}

	result := &Result{}
	failedDomains := make(map[string]struct{})

	for _, post := range posts {
		postURL := *post.URL
		u, _ := url.Parse(postURL)
		domain := ""
		if u != nil {
			domain = strings.ToLower(u.Host)
		}

		if _, failed := failedDomains[domain]; failed {
			f.markAttempted(ctx, post.ID)
			result.Failed++
			continue
		}

		content, httpErr := f.fetchPostContent(ctx, postURL)
		if httpErr != nil {
			f.markAttempted(ctx, post.ID)
			result.Failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			log.Warnf("HTTP %v for %s, skipping remaining from %s", httpErr, postURL, domain)
			continue
		}

		if content == "" {
			f.markAttempted(ctx, post.ID)
			result.Failed++
			log.Debugf("No extractable content from: %s", postURL)
			continue
		}
		if err := f.store.UpdatePostContent(ctx, post.ID, &content); err != nil {
			log.WithField("post_id", post.ID).WithError(err).Error("storing fetched content")
			result.Failed++
			continue
		}
		result.Fetched++
	}

	log.Infof("Content fetch complete: %d fetched, %d failed", result.Fetched, result.Failed)
	return result
}

func (f *ContentFetcher) markAttempted(ctx context.Context, postID int64) {
	if err := f.store.MarkFetchAttempted(ctx, postID); err != nil {
		logging.Log.WithField("post_id", postID).WithError(err).Warn("marking fetch attempted")
	}
}

// fetchPostContent returns "" with a nil error for connection problems and
// unreadable pages; only HTTP error statuses are returned as errors.
func (f *ContentFetcher) fetchPostContent(ctx context.Context, postURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", postURL, nil)
	if err != nil {
		return "", nil
	}
	req.Header.Set("User-Agent", "PartnerCenter/1.0 (profile monitor)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return "", nil
	}

	parsedURL, _ := url.Parse(postURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) >= minContentChars {
		return text, nil
	}
	return "", nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
