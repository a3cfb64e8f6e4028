package database

import "context"

// GetStats returns aggregate counts over the whole database.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM profiles),
		(SELECT COUNT(*) FROM profiles WHERE notifications_enabled = 1 AND recipient_id IS NOT NULL AND recipient_id != ''),
		(SELECT COUNT(*) FROM posts),
		(SELECT COUNT(*) FROM posts WHERE classification IS NOT NULL),
		(SELECT COUNT(*) FROM posts WHERE json_extract(classification, '$.signal') = 'sales_opportunity'),
		(SELECT COUNT(*) FROM posts WHERE notified = 1),
		(SELECT COUNT(*) FROM deliveries WHERE status = 'sent'),
		(SELECT COUNT(*) FROM deliveries WHERE status = 'failed')`,
	).Scan(&s.Users, &s.Profiles, &s.AlertableProfiles, &s.TotalPosts, &s.ClassifiedPosts,
		&s.Opportunities, &s.NotifiedPosts, &s.DeliveriesSent, &s.DeliveriesFailed)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
