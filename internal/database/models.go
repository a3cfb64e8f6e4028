package database

import (
	"time"

	"github.com/TobiSchelling/PartnerCenter/internal/classify"
)

// User owns profiles. Managed by the account collaborator; read here.
type User struct {
	ID        int64
	Email     string
	CreatedAt time.Time
}

// Profile is a tracked business contact's public social profile.
type Profile struct {
	ID                   int64
	UserID               int64
	Title                string
	Platform             string
	Handle               string
	FeedURL              *string
	RecipientID          *string
	NotificationsEnabled bool
	CreatedAt            time.Time
}

// Alertable reports whether posts of this profile may produce alerts.
func (p Profile) Alertable() bool {
	return p.NotificationsEnabled && p.RecipientID != nil && *p.RecipientID != ""
}

// Post is a collected post of a profile.
type Post struct {
	ID             int64
	ProfileID      int64
	Content        *string
	URL            *string
	PublishedAt    *time.Time
	Classification *classify.Classification
	Notified       bool
	ContentFetched bool
	CollectedAt    time.Time
}

// Text returns the post content or "".
func (p Post) Text() string {
	if p.Content == nil {
		return ""
	}
	return *p.Content
}

// NewPost is what a collector hands to InsertPost.
type NewPost struct {
	ProfileID   int64
	Content     *string
	URL         *string
	PublishedAt *time.Time
}

// Delivery statuses.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// Delivery is one append-only delivery-history row.
type Delivery struct {
	ID          string
	PostID      int64
	RunID       string
	RecipientID string
	Channel     string
	Message     string
	Status      string
	Error       *string
	CreatedAt   time.Time
}

// Opportunity is a sales-opportunity post as shown in the in-app feed.
type Opportunity struct {
	Post         Post
	ProfileTitle string
	LastStatus   *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	Users             int
	Profiles          int
	AlertableProfiles int
	TotalPosts        int
	ClassifiedPosts   int
	Opportunities     int
	NotifiedPosts     int
	DeliveriesSent    int
	DeliveriesFailed  int
}
