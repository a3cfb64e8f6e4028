// Package pgstore is the PostgreSQL implementation of database.Store, for
// deployments where several processes run syncs against shared storage.
package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/TobiSchelling/PartnerCenter/internal/classify"
	"github.com/TobiSchelling/PartnerCenter/internal/database"
)

// Store is a pgx-pool backed store.
type Store struct {
	Pool *pgxpool.Pool
}

var _ database.Store = (*Store)(nil)

// New connects to Postgres and creates the schema if needed.
func New(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging database")
	}

	s := &Store{Pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			title TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT '',
			handle TEXT NOT NULL DEFAULT '',
			feed_url TEXT,
			recipient_id TEXT,
			notifications_enabled BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id BIGSERIAL PRIMARY KEY,
			profile_id BIGINT NOT NULL REFERENCES profiles(id),
			content TEXT,
			url TEXT,
			published_at TIMESTAMPTZ,
			classification JSONB,
			notified BOOLEAN NOT NULL DEFAULT false,
			content_fetched BOOLEAN NOT NULL DEFAULT false,
			collected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (profile_id, url)
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			post_id BIGINT NOT NULL REFERENCES posts(id),
			run_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('sent', 'failed')),
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_user ON profiles(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_profile_notified ON posts(profile_id, notified)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_post ON deliveries(post_id)`,
	}

	for _, q := range queries {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "failed to init schema")
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

func (s *Store) CreateUser(ctx context.Context, email string) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx,
		"INSERT INTO users (email, created_at) VALUES ($1, $2) RETURNING id",
		email, database.Now().UTC()).Scan(&id)
	return id, err
}

func (s *Store) GetUser(ctx context.Context, id int64) (*database.User, error) {
	var u database.User
	err := s.Pool.QueryRow(ctx, "SELECT id, email, created_at FROM users WHERE id = $1", id).
		Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]database.User, error) {
	rows, err := s.Pool.Query(ctx, "SELECT id, email, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []database.User
	for rows.Next() {
		var u database.User
		if err := rows.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *Store) ListUsersWithAlertableProfiles(ctx context.Context) ([]int64, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT DISTINCT user_id FROM profiles
		WHERE notifications_enabled AND recipient_id IS NOT NULL AND recipient_id <> ''
		ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const profileColumns = "id, user_id, title, platform, handle, feed_url, recipient_id, notifications_enabled, created_at"

func (s *Store) CreateProfile(ctx context.Context, p database.Profile) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO profiles (user_id, title, platform, handle, feed_url, recipient_id, notifications_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.UserID, p.Title, p.Platform, p.Handle, p.FeedURL, p.RecipientID, p.NotificationsEnabled, database.Now().UTC(),
	).Scan(&id)
	return id, err
}

func (s *Store) GetProfile(ctx context.Context, id int64) (*database.Profile, error) {
	profiles, err := s.queryProfiles(ctx, "SELECT "+profileColumns+" FROM profiles WHERE id = $1", id)
	if err != nil || len(profiles) == 0 {
		return nil, err
	}
	return &profiles[0], nil
}

func (s *Store) ListProfiles(ctx context.Context, userID int64) ([]database.Profile, error) {
	return s.queryProfiles(ctx, "SELECT "+profileColumns+" FROM profiles WHERE user_id = $1 ORDER BY id", userID)
}

func (s *Store) ListAlertableProfiles(ctx context.Context, userID int64) ([]database.Profile, error) {
	return s.queryProfiles(ctx,
		`SELECT `+profileColumns+` FROM profiles
		WHERE user_id = $1 AND notifications_enabled AND recipient_id IS NOT NULL AND recipient_id <> ''
		ORDER BY id`, userID)
}

func (s *Store) SetNotificationsEnabled(ctx context.Context, profileID int64, enabled bool) error {
	return s.execOne(ctx, "UPDATE profiles SET notifications_enabled = $1 WHERE id = $2", enabled, profileID)
}

func (s *Store) SetRecipient(ctx context.Context, profileID int64, recipientID *string) error {
	return s.execOne(ctx, "UPDATE profiles SET recipient_id = $1 WHERE id = $2", recipientID, profileID)
}

func (s *Store) queryProfiles(ctx context.Context, query string, args ...any) ([]database.Profile, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []database.Profile
	for rows.Next() {
		var p database.Profile
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.Platform, &p.Handle, &p.FeedURL,
			&p.RecipientID, &p.NotificationsEnabled, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const postColumns = "p.id, p.profile_id, p.content, p.url, p.published_at, p.classification, p.notified, p.content_fetched, p.collected_at"

func (s *Store) InsertPost(ctx context.Context, p database.NewPost) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO posts (profile_id, content, url, published_at, collected_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (profile_id, url) DO NOTHING
		RETURNING id`,
		p.ProfileID, p.Content, p.URL, p.PublishedAt, database.Now().UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (s *Store) GetPost(ctx context.Context, id int64) (*database.Post, error) {
	posts, err := s.queryPosts(ctx, "SELECT "+postColumns+" FROM posts p WHERE p.id = $1", id)
	if err != nil || len(posts) == 0 {
		return nil, err
	}
	return &posts[0], nil
}

func (s *Store) ListPosts(ctx context.Context, userID int64, limit int) ([]database.Post, error) {
	return s.queryPosts(ctx,
		`SELECT `+postColumns+` FROM posts p
		JOIN profiles pr ON pr.id = p.profile_id
		WHERE pr.user_id = $1
		ORDER BY p.collected_at DESC, p.id DESC
		LIMIT $2`, userID, limit)
}

func (s *Store) ListPendingPosts(ctx context.Context, profileIDs []int64) ([]database.Post, error) {
	if len(profileIDs) == 0 {
		return nil, nil
	}
	return s.queryPosts(ctx,
		`SELECT `+postColumns+` FROM posts p
		WHERE NOT p.notified AND p.profile_id = ANY($1)
		ORDER BY p.collected_at, p.id`, profileIDs)
}

func (s *Store) ListPostsNeedingFetch(ctx context.Context, userID int64) ([]database.Post, error) {
	return s.queryPosts(ctx,
		`SELECT `+postColumns+` FROM posts p
		JOIN profiles pr ON pr.id = p.profile_id
		WHERE pr.user_id = $1 AND NOT p.content_fetched AND p.url IS NOT NULL
			AND (p.content IS NULL OR btrim(p.content) = '')
		ORDER BY p.id`, userID)
}

func (s *Store) UpdatePostContent(ctx context.Context, postID int64, content *string) error {
	return s.execOne(ctx, "UPDATE posts SET content = $1, content_fetched = true WHERE id = $2", content, postID)
}

func (s *Store) MarkFetchAttempted(ctx context.Context, postID int64) error {
	return s.execOne(ctx, "UPDATE posts SET content_fetched = true WHERE id = $1", postID)
}

func (s *Store) SetClassification(ctx context.Context, postID int64, c *classify.Classification) (bool, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return false, errors.Wrap(err, "encoding classification")
	}
	return s.execCAS(ctx,
		"UPDATE posts SET classification = $1::jsonb WHERE id = $2 AND classification IS NULL",
		string(data), postID)
}

func (s *Store) ClaimPost(ctx context.Context, postID int64) (bool, error) {
	return s.execCAS(ctx, "UPDATE posts SET notified = true WHERE id = $1 AND NOT notified", postID)
}

func (s *Store) ReleaseClaim(ctx context.Context, postID int64) error {
	_, err := s.Pool.Exec(ctx, "UPDATE posts SET notified = false WHERE id = $1 AND notified", postID)
	return err
}

func (s *Store) ListOpportunities(ctx context.Context, userID int64, limit int) ([]database.Opportunity, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+postColumns+`, pr.title,
			(SELECT d.status FROM deliveries d WHERE d.post_id = p.id
			 ORDER BY d.created_at DESC LIMIT 1)
		FROM posts p
		JOIN profiles pr ON pr.id = p.profile_id
		WHERE pr.user_id = $1 AND p.classification->>'signal' = $2
		ORDER BY p.collected_at DESC, p.id DESC
		LIMIT $3`, userID, string(classify.SignalSalesOpportunity), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []database.Opportunity
	for rows.Next() {
		var o database.Opportunity
		if err := scanPost(rows, &o.Post, &o.ProfileTitle, &o.LastStatus); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (s *Store) InsertDelivery(ctx context.Context, d database.Delivery) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = database.Now()
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO deliveries (id, post_id, run_id, recipient_id, channel, message, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.PostID, d.RunID, d.RecipientID, d.Channel, d.Message, d.Status, d.Error, created.UTC())
	return err
}

func (s *Store) ListDeliveries(ctx context.Context, userID int64, limit int) ([]database.Delivery, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT d.id, d.post_id, d.run_id, d.recipient_id, d.channel, d.message, d.status, d.error, d.created_at
		FROM deliveries d
		JOIN posts p ON p.id = d.post_id
		JOIN profiles pr ON pr.id = p.profile_id
		WHERE pr.user_id = $1
		ORDER BY d.created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []database.Delivery
	for rows.Next() {
		var d database.Delivery
		if err := rows.Scan(&d.ID, &d.PostID, &d.RunID, &d.RecipientID, &d.Channel,
			&d.Message, &d.Status, &d.Error, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *Store) GetStats(ctx context.Context) (*database.Stats, error) {
	var st database.Stats
	err := s.Pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM profiles),
		(SELECT COUNT(*) FROM profiles WHERE notifications_enabled AND recipient_id IS NOT NULL AND recipient_id <> ''),
		(SELECT COUNT(*) FROM posts),
		(SELECT COUNT(*) FROM posts WHERE classification IS NOT NULL),
		(SELECT COUNT(*) FROM posts WHERE classification->>'signal' = 'sales_opportunity'),
		(SELECT COUNT(*) FROM posts WHERE notified),
		(SELECT COUNT(*) FROM deliveries WHERE status = 'sent'),
		(SELECT COUNT(*) FROM deliveries WHERE status = 'failed')`,
	).Scan(&st.Users, &st.Profiles, &st.AlertableProfiles, &st.TotalPosts, &st.ClassifiedPosts,
		&st.Opportunities, &st.NotifiedPosts, &st.DeliveriesSent, &st.DeliveriesFailed)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]database.Post, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []database.Post
	for rows.Next() {
		var p database.Post
		if err := scanPost(rows, &p); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func scanPost(rows pgx.Rows, p *database.Post, extra ...any) error {
	var classification []byte
	var published *time.Time
	dest := append([]any{&p.ID, &p.ProfileID, &p.Content, &p.URL, &published,
		&classification, &p.Notified, &p.ContentFetched, &p.CollectedAt}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	p.PublishedAt = published
	if len(classification) > 0 {
		var c classify.Classification
		if err := json.Unmarshal(classification, &c); err != nil {
			return errors.Wrapf(err, "decoding classification of post %d", p.ID)
		}
		p.Classification = &c
	}
	return nil
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (s *Store) execCAS(ctx context.Context, query string, args ...any) (bool, error) {
	tag, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
