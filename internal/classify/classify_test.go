package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/PartnerCenter/internal/llm"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	response   string
	err        error
	lastPrompt string
	calls      int
}

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.calls++
	m.lastPrompt = prompt
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestClassifySalesOpportunity(t *testing.T) {
	p := &mockProvider{response: mustJSON(t, map[string]any{
		"summary":           "Acme is evaluating CRM vendors",
		"signal":            "sales_opportunity",
		"intent":            "buying",
		"intent_score":      87,
		"rationale":         "Explicit **RFP** mention",
		"suggested_replies": []string{"Happy to help", "Let's talk", "Saw your post", "extra"},
	})}

	c, err := New(p, 0, 0, 0).Classify(context.Background(), "We are looking for a new CRM")
	require.NoError(t, err)

	assert.Equal(t, SignalSalesOpportunity, c.Signal)
	assert.Equal(t, IntentBuying, c.Intent)
	assert.Equal(t, 87, c.IntentScore)
	assert.Len(t, c.SuggestedReplies, MaxReplies)
	assert.Equal(t, "Happy to help", c.FirstReply())
	assert.True(t, c.IsOpportunity())
	assert.False(t, c.ClassifiedAt.IsZero())
	assert.Contains(t, p.lastPrompt, "We are looking for a new CRM")
}

func TestClassifyNeutralDropsScore(t *testing.T) {
	p := &mockProvider{response: mustJSON(t, map[string]any{
		"summary":      "Conference photo",
		"signal":       "Neutral",
		"intent":       "buying",
		"intent_score": 55,
	})}

	c, err := New(p, 0, 0, 0).Classify(context.Background(), "Great day at the expo")
	require.NoError(t, err)

	assert.Equal(t, SignalNeutral, c.Signal)
	assert.Equal(t, 0, c.IntentScore)
	assert.Equal(t, IntentNone, c.Intent)
	assert.False(t, c.IsOpportunity())
}

func TestClassifyClampsScore(t *testing.T) {
	p := &mockProvider{response: `{"signal":"sales_opportunity","intent":"weird","intent_score":420}`}

	c, err := New(p, 0, 0, 0).Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, MaxIntentScore, c.IntentScore)
	assert.Equal(t, IntentNone, c.Intent)
}

func TestClassifyMalformedResponse(t *testing.T) {
	for name, resp := range map[string]string{
		"not json":       "This is not JSON at all",
		"unknown signal": `{"signal":"maybe"}`,
		"empty":          "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(&mockProvider{response: resp}, 0, 0, 0).Classify(context.Background(), "text")

			var cErr *Error
			require.True(t, errors.As(err, &cErr))
			assert.Equal(t, KindMalformedResponse, cErr.Kind)
		})
	}
}

func TestClassifyProviderErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"unauthorized", &llm.APIError{StatusCode: http.StatusUnauthorized}, KindAuth},
		{"forbidden", &llm.APIError{StatusCode: http.StatusForbidden}, KindAuth},
		{"rate limited", &llm.APIError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}, KindRateLimited},
		{"quota", &llm.APIError{StatusCode: http.StatusTooManyRequests, Body: "insufficient_quota"}, KindQuotaExceeded},
		{"payment", &llm.APIError{StatusCode: http.StatusPaymentRequired}, KindQuotaExceeded},
		{"server", &llm.APIError{StatusCode: http.StatusBadGateway}, KindUnknown},
		{"network", context.DeadlineExceeded, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(&mockProvider{err: tc.err}, 0, 0, 0).Classify(context.Background(), "text")

			var cErr *Error
			require.True(t, errors.As(err, &cErr))
			assert.Equal(t, tc.want, cErr.Kind)
		})
	}
}

func TestClassifyNoProvider(t *testing.T) {
	_, err := New(nil, 0, 0, 0).Classify(context.Background(), "text")

	var cErr *Error
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, KindAuth, cErr.Kind)
}

func TestClassifyTruncatesInput(t *testing.T) {
	p := &mockProvider{response: `{"signal":"neutral"}`}
	long := strings.Repeat("a", 5000)

	_, err := New(p, 0, 100, 0).Classify(context.Background(), long)
	require.NoError(t, err)
	assert.NotContains(t, p.lastPrompt, strings.Repeat("a", 101))
}

func TestTruncateRuneBoundary(t *testing.T) {
	s := "héllo"
	out := Truncate(s, 2)
	assert.Equal(t, "h...", out)
	assert.Equal(t, s, Truncate(s, 100))
}
