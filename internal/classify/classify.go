// Package classify turns post text into a sales-intent Classification using
// an LLM provider.
package classify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/TobiSchelling/PartnerCenter/internal/llm"
)

const classifyPrompt = `You review public social-media posts written by a salesperson's business contacts.
Decide whether the post reveals a SALES OPPORTUNITY: the author (or their company) is buying,
hiring, expanding, complaining about a problem a vendor could solve, or looking for partners.

Signals:
- "sales_opportunity": actionable now for a salesperson
- "risk": the contact is leaving, cutting budget, or the account is at risk
- "neutral": ordinary professional update with no buying intent
- "irrelevant": personal, spam, or empty

Post:
%s

Respond with ONLY this JSON:
{
    "summary": "One sentence describing the post",
    "signal": "sales_opportunity" | "risk" | "neutral" | "irrelevant",
    "intent": "buying" | "hiring" | "expansion" | "pain_point" | "partnership" | "none",
    "intent_score": 0-100,
    "rationale": "Why you chose this signal (markdown allowed)",
    "suggested_replies": ["best reply", "second reply", "third reply"]
}

intent_score: 100 = explicit purchase intent, 0 = none. Non-opportunity signals get 0.
suggested_replies: at most 3 short, friendly replies ranked best-first; empty for non-opportunities.`

const defaultMaxInputChars = 4000

// Classifier is the gateway to the external LLM.
type Classifier struct {
	provider      llm.Provider
	maxTokens     int
	maxInputChars int
	timeout       time.Duration
	now           func() time.Time
}

// New creates a Classifier. A zero timeout leaves deadlines to the caller.
func New(provider llm.Provider, maxTokens, maxInputChars int, timeout time.Duration) *Classifier {
	if maxInputChars <= 0 {
		maxInputChars = defaultMaxInputChars
	}
	if maxTokens <= 0 {
		maxTokens = 700
	}
	return &Classifier{
		provider:      provider,
		maxTokens:     maxTokens,
		maxInputChars: maxInputChars,
		timeout:       timeout,
		now:           time.Now,
	}
}

type response struct {
	Summary          string   `json:"summary"`
	Signal           string   `json:"signal"`
	Intent           string   `json:"intent"`
	IntentScore      float64  `json:"intent_score"`
	Rationale        string   `json:"rationale"`
	SuggestedReplies []string `json:"suggested_replies"`
}

// Classify sends text to the LLM and returns its verdict. Every failure is
// an *Error.
func (c *Classifier) Classify(ctx context.Context, text string) (*Classification, error) {
	if c.provider == nil {
		return nil, &Error{Kind: KindAuth, Err: errors.New("no LLM provider configured")}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(classifyPrompt, Truncate(text, c.maxInputChars))
	raw, err := c.provider.Generate(ctx, prompt, c.maxTokens)
	if err != nil {
		return nil, classifyProviderError(err)
	}

	var resp response
	if err := llm.DecodeJSONResponse(raw, &resp); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Err: err}
	}

	result, err := c.normalize(resp)
	if err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Err: err}
	}
	return result, nil
}

func (c *Classifier) normalize(resp response) (*Classification, error) {
	signal := Signal(strings.ToLower(strings.TrimSpace(resp.Signal)))
	if !signal.Valid() {
		return nil, errors.Errorf("unknown signal %q", resp.Signal)
	}

	intent := Intent(strings.ToLower(strings.TrimSpace(resp.Intent)))
	if !intent.Valid() {
		intent = IntentNone
	}

	score := int(resp.IntentScore)
	if score < MinIntentScore {
		score = MinIntentScore
	} else if score > MaxIntentScore {
		score = MaxIntentScore
	}

	var replies []string
	for _, r := range resp.SuggestedReplies {
		if r = strings.TrimSpace(r); r != "" {
			replies = append(replies, r)
		}
		if len(replies) == MaxReplies {
			break
		}
	}

	if !signal.IsLead() {
		score = 0
		intent = IntentNone
	}

	out := &Classification{
		Summary:          strings.TrimSpace(resp.Summary),
		Signal:           signal,
		Intent:           intent,
		IntentScore:      score,
		Rationale:        strings.TrimSpace(resp.Rationale),
		SuggestedReplies: replies,
		ClassifiedAt:     c.now().UTC(),
	}
	return out, out.Validate()
}

func classifyProviderError(err error) *Error {
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		return &Error{Kind: KindUnknown, Err: err}
	}

	body := strings.ToLower(apiErr.Body)
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindAuth, Err: err}
	case apiErr.StatusCode == http.StatusPaymentRequired:
		return &Error{Kind: KindQuotaExceeded, Err: err}
	case apiErr.StatusCode == http.StatusTooManyRequests:
		if strings.Contains(body, "quota") || strings.Contains(body, "insufficient") || strings.Contains(body, "exhausted") {
			return &Error{Kind: KindQuotaExceeded, Err: err}
		}
		return &Error{Kind: KindRateLimited, Err: err}
	default:
		return &Error{Kind: KindUnknown, Err: err}
	}
}

// Truncate cuts text to at most max bytes without splitting a rune.
func Truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
