package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/PartnerCenter/internal/classify"
	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/pipeline"
	"github.com/TobiSchelling/PartnerCenter/internal/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

// seedOpportunity creates a user whose single profile has one delivered
// sales opportunity.
func seedOpportunity(t *testing.T, db *database.DB) (userID, postID int64) {
	t.Helper()
	ctx := context.Background()

	userID, err := db.CreateUser(ctx, "owner@example.com")
	require.NoError(t, err)
	profileID, err := db.CreateProfile(ctx, database.Profile{
		UserID:               userID,
		Title:                "Jane Doe, Acme",
		Platform:             "linkedin",
		Handle:               "janedoe",
		RecipientID:          ptr("123"),
		NotificationsEnabled: true,
	})
	require.NoError(t, err)

	postID, err = db.InsertPost(ctx, database.NewPost{
		ProfileID: profileID,
		Content:   ptr("We are looking for a new CRM vendor"),
		URL:       ptr("https://example.com/p/1"),
	})
	require.NoError(t, err)

	won, err := db.SetClassification(ctx, postID, &classify.Classification{
		Summary:          "Acme is shopping for a CRM",
		Signal:           classify.SignalSalesOpportunity,
		Intent:           classify.IntentBuying,
		IntentScore:      87,
		Rationale:        "Explicitly asks for **vendors**.",
		SuggestedReplies: []string{"Happy to walk you through our CRM"},
		ClassifiedAt:     time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, won)

	claimed, err := db.ClaimPost(ctx, postID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, db.InsertDelivery(ctx, database.Delivery{
		ID:          "d-1",
		PostID:      postID,
		RunID:       "run-1",
		RecipientID: "123",
		Channel:     "telegram",
		Message:     "1 new sales opportunity",
		Status:      database.DeliverySent,
	}))
	return userID, postID
}

type fixedResults map[int64]*pipeline.Result

func (f fixedResults) LastResult(userID int64) *pipeline.Result { return f[userID] }

func serve(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	seedOpportunity(t, db)

	srv, err := New(db, nil, nil)
	require.NoError(t, err)

	rec := serve(t, srv, "GET", "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "owner@example.com")
	assert.Contains(t, rec.Body.String(), "1 opportunities")
}

func TestIndexRouteEmpty(t *testing.T) {
	srv, err := New(openTestDB(t), nil, nil)
	require.NoError(t, err)

	rec := serve(t, srv, "GET", "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No users yet")
}

func TestUserFeed(t *testing.T) {
	db := openTestDB(t)
	userID, _ := seedOpportunity(t, db)

	results := fixedResults{userID: {RunID: "run-42", UserID: userID, Sent: 1}}
	srv, err := New(db, nil, results)
	require.NoError(t, err)

	rec := serve(t, srv, "GET", fmt.Sprintf("/users/%d", userID))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Jane Doe, Acme")
	assert.Contains(t, body, "Acme is shopping for a CRM")
	assert.Contains(t, body, "<strong>vendors</strong>")
	assert.Contains(t, body, "Happy to walk you through our CRM")
	assert.Contains(t, body, "delivery: sent")
	assert.Contains(t, body, "run-42")
}

func TestUserFeedNotFound(t *testing.T) {
	srv, err := New(openTestDB(t), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, serve(t, srv, "GET", "/users/999").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, srv, "GET", "/users/abc").Code)
}

func TestOpportunitiesAPI(t *testing.T) {
	db := openTestDB(t)
	userID, postID := seedOpportunity(t, db)

	srv, err := New(db, nil, nil)
	require.NoError(t, err)

	rec := serve(t, srv, "GET", fmt.Sprintf("/api/users/%d/opportunities", userID))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []opportunityJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, postID, got[0].PostID)
	assert.Equal(t, 87, got[0].IntentScore)
	assert.Equal(t, "buying", got[0].Intent)
	assert.True(t, got[0].Notified)
	require.NotNil(t, got[0].LastStatus)
	assert.Equal(t, database.DeliverySent, *got[0].LastStatus)
}

func TestDeliveriesAPI(t *testing.T) {
	db := openTestDB(t)
	userID, postID := seedOpportunity(t, db)

	srv, err := New(db, nil, nil)
	require.NoError(t, err)

	rec := serve(t, srv, "GET", fmt.Sprintf("/api/users/%d/deliveries?limit=5", userID))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []deliveryJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, postID, got[0].PostID)
	assert.Equal(t, "run-1", got[0].RunID)
	assert.Equal(t, database.DeliverySent, got[0].Status)
}

func TestAPIBadUser(t *testing.T) {
	srv, err := New(openTestDB(t), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, serve(t, srv, "GET", "/api/users/x/opportunities").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, srv, "GET", "/api/users/7/deliveries").Code)
}

func TestRequestSyncPublishes(t *testing.T) {
	db := openTestDB(t)
	userID, _ := seedOpportunity(t, db)

	bus := scheduler.NewBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := bus.Subscribe(ctx, scheduler.TopicSyncRequested)
	require.NoError(t, err)

	srv, err := New(db, bus, nil)
	require.NoError(t, err)

	rec := serve(t, srv, "POST", fmt.Sprintf("/api/users/%d/sync", userID))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case msg := <-messages:
		var req scheduler.SyncRequest
		require.NoError(t, json.Unmarshal(msg.Payload, &req))
		msg.Ack()
		assert.Equal(t, userID, req.UserID)
		assert.Equal(t, scheduler.SourceUser, req.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("no sync request published")
	}
}

func TestRequestSyncWithoutBus(t *testing.T) {
	db := openTestDB(t)
	userID, _ := seedOpportunity(t, db)

	srv, err := New(db, nil, nil)
	require.NoError(t, err)

	rec := serve(t, srv, "POST", fmt.Sprintf("/api/users/%d/sync", userID))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The form post still lands back on the feed.
	rec = serve(t, srv, "POST", fmt.Sprintf("/users/%d/sync", userID))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, fmt.Sprintf("/users/%d", userID), rec.Header().Get("Location"))
}

func TestLastSyncAPI(t *testing.T) {
	db := openTestDB(t)
	userID, _ := seedOpportunity(t, db)

	results := fixedResults{userID: {
		RunID:  "run-7",
		UserID: userID,
		Sent:   2,
		Steps:  []pipeline.StepResult{{Name: "deliver", Summary: "2 sent", Err: errors.New("boom")}},
	}}
	srv, err := New(db, nil, results)
	require.NoError(t, err)

	rec := serve(t, srv, "GET", fmt.Sprintf("/api/users/%d/sync", userID))
	require.Equal(t, http.StatusOK, rec.Code)
	var got syncJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-7", got.RunID)
	assert.Equal(t, 2, got.Sent)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "boom", got.Steps[0].Error)
	assert.Empty(t, got.Errors)

	srv, err = New(db, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, serve(t, srv, "GET", fmt.Sprintf("/api/users/%d/sync", userID)).Code)
}

func TestStaticAndHealth(t *testing.T) {
	srv, err := New(openTestDB(t), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(t, srv, "GET", "/static/style.css").Code)
	assert.Equal(t, http.StatusOK, serve(t, srv, "GET", "/api/health").Code)
	assert.Equal(t, http.StatusOK, serve(t, srv, "GET", "/api/stats").Code)
}
