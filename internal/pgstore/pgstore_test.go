package pgstore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/PartnerCenter/internal/classify"
	"github.com/TobiSchelling/PartnerCenter/internal/database"
)

// openTestStore connects to PARTNERCENTER_TEST_PG_DSN and skips without it.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PARTNERCENTER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PARTNERCENTER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	recipient := "123"
	userID, err := s.CreateUser(ctx, fmt.Sprintf("pg-%d@example.com", time.Now().UnixNano()))
	require.NoError(t, err)
	profileID, err := s.CreateProfile(ctx, database.Profile{
		UserID: userID, Title: "Acme", RecipientID: &recipient, NotificationsEnabled: true,
	})
	require.NoError(t, err)
	return userID, profileID
}

func TestPostgresClaimProtocol(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID, profileID := seed(t, s)

	content, url := "need a CRM", fmt.Sprintf("https://x.test/%d", time.Now().UnixNano())
	id, err := s.InsertPost(ctx, database.NewPost{ProfileID: profileID, Content: &content, URL: &url})
	require.NoError(t, err)
	require.NotZero(t, id)

	dup, err := s.InsertPost(ctx, database.NewPost{ProfileID: profileID, Content: &content, URL: &url})
	require.NoError(t, err)
	assert.Zero(t, dup)

	c := &classify.Classification{Summary: "lead", Signal: classify.SignalSalesOpportunity, Intent: classify.IntentBuying, IntentScore: 70}
	wrote, err := s.SetClassification(ctx, id, c)
	require.NoError(t, err)
	assert.True(t, wrote)
	wrote, err = s.SetClassification(ctx, id, c)
	require.NoError(t, err)
	assert.False(t, wrote)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimPost(ctx, id)
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

	require.NoError(t, s.ReleaseClaim(ctx, id))
	pending, err := s.ListPendingPosts(ctx, []int64{profileID})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].Classification)
	assert.Equal(t, "lead", pending[0].Classification.Summary)

	opps, err := s.ListOpportunities(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "Acme", opps[0].ProfileTitle)
}
