package server

import (
	"time"

	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/pipeline"
)

type opportunityJSON struct {
	PostID           int64      `json:"post_id"`
	ProfileID        int64      `json:"profile_id"`
	ProfileTitle     string     `json:"profile_title"`
	URL              *string    `json:"url,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	Summary          string     `json:"summary"`
	Intent           string     `json:"intent"`
	IntentScore      int        `json:"intent_score"`
	Rationale        string     `json:"rationale"`
	SuggestedReplies []string   `json:"suggested_replies"`
	Notified         bool       `json:"notified"`
	LastStatus       *string    `json:"last_delivery_status,omitempty"`
	CollectedAt      time.Time  `json:"collected_at"`
}

func toOpportunityJSON(o database.Opportunity) opportunityJSON {
	out := opportunityJSON{
		PostID:           o.Post.ID,
		ProfileID:        o.Post.ProfileID,
		ProfileTitle:     o.ProfileTitle,
		URL:              o.Post.URL,
		PublishedAt:      o.Post.PublishedAt,
		Notified:         o.Post.Notified,
		LastStatus:       o.LastStatus,
		CollectedAt:      o.Post.CollectedAt,
		SuggestedReplies: []string{},
	}
	if c := o.Post.Classification; c != nil {
		out.Summary = c.Summary
		out.Intent = string(c.Intent)
		out.IntentScore = c.IntentScore
		out.Rationale = c.Rationale
		if len(c.SuggestedReplies) > 0 {
			out.SuggestedReplies = c.SuggestedReplies
		}
	}
	return out
}

type deliveryJSON struct {
	ID          string    `json:"id"`
	PostID      int64     `json:"post_id"`
	RunID       string    `json:"run_id"`
	RecipientID string    `json:"recipient_id"`
	Channel     string    `json:"channel"`
	Status      string    `json:"status"`
	Error       *string   `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toDeliveryJSON(d database.Delivery) deliveryJSON {
	return deliveryJSON{
		ID:          d.ID,
		PostID:      d.PostID,
		RunID:       d.RunID,
		RecipientID: d.RecipientID,
		Channel:     d.Channel,
		Status:      d.Status,
		Error:       d.Error,
		CreatedAt:   d.CreatedAt,
	}
}

type stepJSON struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

type syncJSON struct {
	RunID    string     `json:"run_id"`
	UserID   int64      `json:"user_id"`
	Sent     int        `json:"sent"`
	Messages int        `json:"messages"`
	Steps    []stepJSON `json:"steps"`
	Errors   []string   `json:"errors"`
}

func toSyncJSON(r *pipeline.Result) syncJSON {
	out := syncJSON{
		RunID:    r.RunID,
		UserID:   r.UserID,
		Sent:     r.Sent,
		Messages: r.Messages,
		Steps:    make([]stepJSON, 0, len(r.Steps)),
		Errors:   r.Errors,
	}
	if out.Errors == nil {
		out.Errors = []string{}
	}
	for _, st := range r.Steps {
		sj := stepJSON{Name: st.Name, Summary: st.Summary}
		if st.Err != nil {
			sj.Error = st.Err.Error()
		}
		out.Steps = append(out.Steps, sj)
	}
	return out
}
