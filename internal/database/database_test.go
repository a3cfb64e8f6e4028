package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/PartnerCenter/internal/classify"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

// seedProfile creates a user with one alertable profile.
func seedProfile(t *testing.T, db *DB, recipient string) (userID, profileID int64) {
	t.Helper()
	ctx := context.Background()
	userID, err := db.CreateUser(ctx, "owner-"+recipient+"@example.com")
	require.NoError(t, err)
	profileID, err = db.CreateProfile(ctx, Profile{
		UserID:               userID,
		Title:                "Jane Doe, Acme",
		Platform:             "linkedin",
		Handle:               "janedoe",
		RecipientID:          ptr(recipient),
		NotificationsEnabled: true,
	})
	require.NoError(t, err)
	return userID, profileID
}

func opportunity(summary string) *classify.Classification {
	return &classify.Classification{
		Summary:          summary,
		Signal:           classify.SignalSalesOpportunity,
		Intent:           classify.IntentBuying,
		IntentScore:      80,
		Rationale:        "asks for vendors",
		SuggestedReplies: []string{"Happy to help"},
		ClassifiedAt:     time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC),
	}
}

func TestInsertPostDeduplicates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, profileID := seedProfile(t, db, "123")

	id, err := db.InsertPost(ctx, NewPost{ProfileID: profileID, Content: ptr("hello"), URL: ptr("https://x.test/1")})
	require.NoError(t, err)
	assert.NotZero(t, id)

	dup, err := db.InsertPost(ctx, NewPost{ProfileID: profileID, Content: ptr("again"), URL: ptr("https://x.test/1")})
	require.NoError(t, err)
	assert.Zero(t, dup)

	post, err := db.GetPost(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, "hello", post.Text())
	assert.False(t, post.Notified)
	assert.Nil(t, post.Classification)
}

func TestGetMissingRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	post, err := db.GetPost(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, post)

	profile, err := db.GetProfile(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, profile)

	user, err := db.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, user)

	assert.ErrorIs(t, db.SetNotificationsEnabled(ctx, 42, true), ErrNotFound)
}

func TestAlertableProfiles(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	userID, alertable := seedProfile(t, db, "123")

	noRecipient, err := db.CreateProfile(ctx, Profile{UserID: userID, Title: "No recipient", NotificationsEnabled: true})
	require.NoError(t, err)
	disabled, err := db.CreateProfile(ctx, Profile{UserID: userID, Title: "Disabled", RecipientID: ptr("456")})
	require.NoError(t, err)

	profiles, err := db.ListAlertableProfiles(ctx, userID)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, alertable, profiles[0].ID)
	assert.True(t, profiles[0].Alertable())

	require.NoError(t, db.SetRecipient(ctx, noRecipient, ptr("789")))
	require.NoError(t, db.SetNotificationsEnabled(ctx, disabled, true))
	require.NoError(t, db.SetNotificationsEnabled(ctx, alertable, false))

	profiles, err = db.ListAlertableProfiles(ctx, userID)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, noRecipient, profiles[0].ID)
	assert.Equal(t, disabled, profiles[1].ID)

	users, err := db.ListUsersWithAlertableProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{userID}, users)
}

func TestSetClassificationWriteOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, profileID := seedProfile(t, db, "123")
	id, err := db.InsertPost(ctx, NewPost{ProfileID: profileID, Content: ptr("need a CRM"), URL: ptr("https://x.test/1")})
	require.NoError(t, err)

	wrote, err := db.SetClassification(ctx, id, opportunity("first"))
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = db.SetClassification(ctx, id, opportunity("second"))
	require.NoError(t, err)
	assert.False(t, wrote)

	post, err := db.GetPost(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, post.Classification)
	assert.Equal(t, "first", post.Classification.Summary)
	assert.Equal(t, classify.SignalSalesOpportunity, post.Classification.Signal)
	assert.Equal(t, "Happy to help", post.Classification.FirstReply())
}

func TestClaimAndRelease(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, profileID := seedProfile(t, db, "123")
	id, err := db.InsertPost(ctx, NewPost{ProfileID: profileID, Content: ptr("x"), URL: ptr("https://x.test/1")})
	require.NoError(t, err)

	ok, err := db.ClaimPost(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ClaimPost(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must observe zero rows")

	pending, err := db.ListPendingPosts(ctx, []int64{profileID})
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, db.ReleaseClaim(ctx, id))
	require.NoError(t, db.ReleaseClaim(ctx, id))

	pending, err = db.ListPendingPosts(ctx, []int64{profileID})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestConcurrentClaimSucceedsOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, profileID := seedProfile(t, db, "123")
	id, err := db.InsertPost(ctx, NewPost{ProfileID: profileID, Content: ptr("x"), URL: ptr("https://x.test/1")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.ClaimPost(ctx, id)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestListPendingPostsOrderAndScope(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, p1 := seedProfile(t, db, "123")
	_, p2 := seedProfile(t, db, "456")

	a, _ := db.InsertPost(ctx, NewPost{ProfileID: p1, Content: ptr("a"), URL: ptr("https://x.test/a")})
	b, _ := db.InsertPost(ctx, NewPost{ProfileID: p2, Content: ptr("b"), URL: ptr("https://x.test/b")})
	c, _ := db.InsertPost(ctx, NewPost{ProfileID: p1, Content: ptr("c"), URL: ptr("https://x.test/c")})

	posts, err := db.ListPendingPosts(ctx, []int64{p1})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, a, posts[0].ID)
	assert.Equal(t, c, posts[1].ID)

	posts, err = db.ListPendingPosts(ctx, []int64{p1, p2})
	require.NoError(t, err)
	assert.Len(t, posts, 3)
	assert.Equal(t, b, posts[1].ID)

	posts, err = db.ListPendingPosts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestPostsNeedingFetch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	userID, profileID := seedProfile(t, db, "123")

	empty, _ := db.InsertPost(ctx, NewPost{ProfileID: profileID, URL: ptr("https://x.test/empty")})
	db.InsertPost(ctx, NewPost{ProfileID: profileID, Content: ptr("has text"), URL: ptr("https://x.test/full")})
	noURL, _ := db.InsertPost(ctx, NewPost{ProfileID: profileID, Content: ptr("  ")})
	failed, _ := db.InsertPost(ctx, NewPost{ProfileID: profileID, Content: ptr(""), URL: ptr("https://x.test/failed")})

	needing, err := db.ListPostsNeedingFetch(ctx, userID)
	require.NoError(t, err)
	require.Len(t, needing, 2)
	assert.Equal(t, empty, needing[0].ID)
	assert.Equal(t, failed, needing[1].ID)
	assert.NotEqual(t, noURL, needing[0].ID)

	require.NoError(t, db.UpdatePostContent(ctx, empty, ptr("fetched body")))
	require.NoError(t, db.MarkFetchAttempted(ctx, failed))

	needing, err = db.ListPostsNeedingFetch(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, needing)

	post, err := db.GetPost(ctx, empty)
	require.NoError(t, err)
	assert.Equal(t, "fetched body", post.Text())
	assert.True(t, post.ContentFetched)
}

func TestOpportunitiesAndDeliveries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	userID, profileID := seedProfile(t, db, "123")

	lead, _ := db.InsertPost(ctx, NewPost{ProfileID: profileID, Content: ptr("need a CRM"), URL: ptr("https://x.test/1")})
	other, _ := db.InsertPost(ctx, NewPost{ProfileID: profileID, Content: ptr("nice weather"), URL: ptr("https://x.test/2")})
	_, err := db.SetClassification(ctx, lead, opportunity("wants a CRM"))
	require.NoError(t, err)
	neutral := opportunity("weather")
	neutral.Signal = classify.SignalNeutral
	_, err = db.SetClassification(ctx, other, neutral)
	require.NoError(t, err)

	opps, err := db.ListOpportunities(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, lead, opps[0].Post.ID)
	assert.Equal(t, "Jane Doe, Acme", opps[0].ProfileTitle)
	assert.Nil(t, opps[0].LastStatus)

	base := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.InsertDelivery(ctx, Delivery{
		ID: "d1", PostID: lead, RunID: "r1", RecipientID: "123", Channel: "telegram",
		Message: "m", Status: DeliveryFailed, Error: ptr("timeout"), CreatedAt: base,
	}))
	require.NoError(t, db.InsertDelivery(ctx, Delivery{
		ID: "d2", PostID: lead, RunID: "r2", RecipientID: "123", Channel: "telegram",
		Message: "m", Status: DeliverySent, CreatedAt: base.Add(time.Minute),
	}))

	opps, err = db.ListOpportunities(ctx, userID, 10)
	require.NoError(t, err)
	require.NotNil(t, opps[0].LastStatus)
	assert.Equal(t, DeliverySent, *opps[0].LastStatus)

	history, err := db.ListDeliveries(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "d2", history[0].ID)
	assert.Equal(t, "timeout", *history[1].Error)

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Users)
	assert.Equal(t, 2, stats.TotalPosts)
	assert.Equal(t, 2, stats.ClassifiedPosts)
	assert.Equal(t, 1, stats.Opportunities)
	assert.Equal(t, 1, stats.DeliveriesSent)
	assert.Equal(t, 1, stats.DeliveriesFailed)
}
