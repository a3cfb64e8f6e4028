package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/TobiSchelling/PartnerCenter/internal/classify"
)

const postColumns = `p.id, p.profile_id, p.content, p.url, p.published_at, p.classification, p.notified, p.content_fetched, p.collected_at`

// InsertPost stores a newly collected post. It returns 0 when a post with
// the same (profile, url) already exists.
func (db *DB) InsertPost(ctx context.Context, p NewPost) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO posts (profile_id, content, url, published_at, collected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, url) DO NOTHING`,
		p.ProfileID, p.Content, p.URL, formatTimePtr(p.PublishedAt), formatTime(Now()),
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetPost returns a post by ID, or nil if it does not exist.
func (db *DB) GetPost(ctx context.Context, id int64) (*Post, error) {
	posts, err := db.queryPosts(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.id = ?`, id)
	if err != nil || len(posts) == 0 {
		return nil, err
	}
	return &posts[0], nil
}

// ListPosts returns the most recently collected posts of a user.
func (db *DB) ListPosts(ctx context.Context, userID int64, limit int) ([]Post, error) {
	return db.queryPosts(ctx,
		`SELECT `+postColumns+` FROM posts p
		JOIN profiles pr ON pr.id = p.profile_id
		WHERE pr.user_id = ?
		ORDER BY p.collected_at DESC, p.id DESC
		LIMIT ?`, userID, limit)
}

// ListPendingPosts returns the not-yet-notified posts of the given profiles,
// classified or not, in collection order.
func (db *DB) ListPendingPosts(ctx context.Context, profileIDs []int64) ([]Post, error) {
	if len(profileIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(profileIDs)), ",")
	args := make([]any, len(profileIDs))
	for i, id := range profileIDs {
		args[i] = id
	}
	return db.queryPosts(ctx,
		`SELECT `+postColumns+` FROM posts p
		WHERE p.notified = 0 AND p.profile_id IN (`+placeholders+`)
		ORDER BY p.collected_at, p.id`, args...)
}

// ListPostsNeedingFetch returns posts without text that have a URL and have
// not been fetched yet.
func (db *DB) ListPostsNeedingFetch(ctx context.Context, userID int64) ([]Post, error) {
	return db.queryPosts(ctx,
		`SELECT `+postColumns+` FROM posts p
		JOIN profiles pr ON pr.id = p.profile_id
		WHERE pr.user_id = ? AND p.content_fetched = 0 AND p.url IS NOT NULL
			AND (p.content IS NULL OR trim(p.content) = '')
		ORDER BY p.id`, userID)
}

// UpdatePostContent stores fetched text and marks the fetch attempted.
func (db *DB) UpdatePostContent(ctx context.Context, postID int64, content *string) error {
	return db.execOne(ctx, `UPDATE posts SET content = ?, content_fetched = 1 WHERE id = ?`, content, postID)
}

// MarkFetchAttempted records a failed or empty fetch so it is not retried.
func (db *DB) MarkFetchAttempted(ctx context.Context, postID int64) error {
	return db.execOne(ctx, `UPDATE posts SET content_fetched = 1 WHERE id = ?`, postID)
}

// SetClassification attaches a classification unless one is already stored.
// It reports whether this call wrote it.
func (db *DB) SetClassification(ctx context.Context, postID int64, c *classify.Classification) (bool, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return false, errors.Wrap(err, "encoding classification")
	}
	return db.execCAS(ctx,
		`UPDATE posts SET classification = ? WHERE id = ? AND classification IS NULL`,
		string(data), postID)
}

// ClaimPost flips notified from false to true. It reports false when another
// run already holds or finalized the claim.
func (db *DB) ClaimPost(ctx context.Context, postID int64) (bool, error) {
	return db.execCAS(ctx, `UPDATE posts SET notified = 1 WHERE id = ? AND notified = 0`, postID)
}

// ReleaseClaim returns a claimed post to the unnotified state. Releasing an
// unclaimed post is a no-op.
func (db *DB) ReleaseClaim(ctx context.Context, postID int64) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE posts SET notified = 0 WHERE id = ? AND notified = 1`, postID)
	return err
}

// ListOpportunities returns the user's sales-opportunity posts, newest
// first, with the status of their latest delivery attempt.
func (db *DB) ListOpportunities(ctx context.Context, userID int64, limit int) ([]Opportunity, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+postColumns+`, pr.title,
			(SELECT d.status FROM deliveries d WHERE d.post_id = p.id
			 ORDER BY d.created_at DESC LIMIT 1)
		FROM posts p
		JOIN profiles pr ON pr.id = p.profile_id
		WHERE pr.user_id = ? AND json_extract(p.classification, '$.signal') = ?
		ORDER BY p.collected_at DESC, p.id DESC
		LIMIT ?`, userID, string(classify.SignalSalesOpportunity), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Opportunity
	for rows.Next() {
		var o Opportunity
		if err := scanPost(rows, &o.Post, &o.ProfileTitle, &o.LastStatus); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (db *DB) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := scanPost(rows, &p); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// scanPost reads postColumns followed by any extra destinations.
func scanPost(rows *sql.Rows, p *Post, extra ...any) error {
	var published, classification *string
	var notified, fetched int
	var collected string
	dest := append([]any{&p.ID, &p.ProfileID, &p.Content, &p.URL, &published,
		&classification, &notified, &fetched, &collected}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	p.PublishedAt = parseTimePtr(published)
	p.Notified = notified != 0
	p.ContentFetched = fetched != 0
	p.CollectedAt = parseTime(collected)
	if classification != nil && *classification != "" {
		var c classify.Classification
		if err := json.Unmarshal([]byte(*classification), &c); err != nil {
			return errors.Wrapf(err, "decoding classification of post %d", p.ID)
		}
		p.Classification = &c
	}
	return nil
}

// execCAS runs a conditional update and reports whether it matched a row.
func (db *DB) execCAS(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
