package classify

import (
	"time"

	"github.com/pkg/errors"
)

// Signal is the categorical outcome of a classification.
type Signal string

const (
	SignalSalesOpportunity Signal = "sales_opportunity"
	SignalNeutral          Signal = "neutral"
	SignalRisk             Signal = "risk"
	SignalIrrelevant       Signal = "irrelevant"
)

// Valid reports whether s belongs to the closed signal set.
func (s Signal) Valid() bool {
	switch s {
	case SignalSalesOpportunity, SignalNeutral, SignalRisk, SignalIrrelevant:
		return true
	}
	return false
}

// IsLead reports whether an intent score is meaningful for this signal.
func (s Signal) IsLead() bool {
	return s == SignalSalesOpportunity
}

// Intent is the kind of buying intent behind a lead.
type Intent string

const (
	IntentBuying      Intent = "buying"
	IntentHiring      Intent = "hiring"
	IntentExpansion   Intent = "expansion"
	IntentPainPoint   Intent = "pain_point"
	IntentPartnership Intent = "partnership"
	IntentNone        Intent = "none"
)

// Valid reports whether i belongs to the closed intent set.
func (i Intent) Valid() bool {
	switch i {
	case IntentBuying, IntentHiring, IntentExpansion, IntentPainPoint, IntentPartnership, IntentNone:
		return true
	}
	return false
}

const (
	MinIntentScore = 0
	MaxIntentScore = 100
	MaxReplies     = 3
)

// Classification is the sales-intent verdict attached to a post. It is
// written once and never changed afterwards.
type Classification struct {
	Summary          string    `json:"summary"`
	Signal           Signal    `json:"signal"`
	Intent           Intent    `json:"intent"`
	IntentScore      int       `json:"intent_score"`
	Rationale        string    `json:"rationale"`
	SuggestedReplies []string  `json:"suggested_replies,omitempty"`
	ClassifiedAt     time.Time `json:"classified_at"`
}

// IsOpportunity reports whether the post qualifies for an alert.
func (c *Classification) IsOpportunity() bool {
	return c != nil && c.Signal == SignalSalesOpportunity
}

// FirstReply returns the top-ranked suggested reply, or "".
func (c *Classification) FirstReply() string {
	if c == nil || len(c.SuggestedReplies) == 0 {
		return ""
	}
	return c.SuggestedReplies[0]
}

// Validate checks the closed sets and bounds.
func (c *Classification) Validate() error {
	if !c.Signal.Valid() {
		return errors.Errorf("unknown signal %q", c.Signal)
	}
	if !c.Intent.Valid() {
		return errors.Errorf("unknown intent %q", c.Intent)
	}
	if c.IntentScore < MinIntentScore || c.IntentScore > MaxIntentScore {
		return errors.Errorf("intent score %d out of range", c.IntentScore)
	}
	if len(c.SuggestedReplies) > MaxReplies {
		return errors.Errorf("%d suggested replies, at most %d allowed", len(c.SuggestedReplies), MaxReplies)
	}
	return nil
}
