package database

import (
	"context"

	"github.com/TobiSchelling/PartnerCenter/internal/classify"
)

// Store is the storage contract shared by the SQLite DB and the Postgres
// store. ClaimPost and ReleaseClaim must be single conditional updates.
type Store interface {
	CreateUser(ctx context.Context, email string) (int64, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersWithAlertableProfiles(ctx context.Context) ([]int64, error)

	CreateProfile(ctx context.Context, p Profile) (int64, error)
	GetProfile(ctx context.Context, id int64) (*Profile, error)
	ListProfiles(ctx context.Context, userID int64) ([]Profile, error)
	ListAlertableProfiles(ctx context.Context, userID int64) ([]Profile, error)
	SetNotificationsEnabled(ctx context.Context, profileID int64, enabled bool) error
	SetRecipient(ctx context.Context, profileID int64, recipientID *string) error

	InsertPost(ctx context.Context, p NewPost) (int64, error)
	GetPost(ctx context.Context, id int64) (*Post, error)
	ListPosts(ctx context.Context, userID int64, limit int) ([]Post, error)
	ListPendingPosts(ctx context.Context, profileIDs []int64) ([]Post, error)
	ListPostsNeedingFetch(ctx context.Context, userID int64) ([]Post, error)
	UpdatePostContent(ctx context.Context, postID int64, content *string) error
	MarkFetchAttempted(ctx context.Context, postID int64) error
	SetClassification(ctx context.Context, postID int64, c *classify.Classification) (bool, error)
	ClaimPost(ctx context.Context, postID int64) (bool, error)
	ReleaseClaim(ctx context.Context, postID int64) error
	ListOpportunities(ctx context.Context, userID int64, limit int) ([]Opportunity, error)

	InsertDelivery(ctx context.Context, d Delivery) error
	ListDeliveries(ctx context.Context, userID int64, limit int) ([]Delivery, error)

	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

var _ Store = (*DB)(nil)
