package notify

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
)

// SlackMaxLength is the text limit Slack applies to a webhook message.
const SlackMaxLength = 40000

// Slack posts through incoming webhooks. The recipient is the webhook URL.
type Slack struct {
	client *http.Client
}

// NewSlack creates a webhook gateway.
func NewSlack(timeout time.Duration) *Slack {
	return &Slack{client: &http.Client{Timeout: timeout}}
}

func (s *Slack) Channel() string { return ChannelSlack }

func (s *Slack) MaxLength() int { return SlackMaxLength }

func (s *Slack) Send(ctx context.Context, recipient, text string) error {
	if !strings.HasPrefix(recipient, "https://") && !strings.HasPrefix(recipient, "http://") {
		return &Error{Kind: KindInvalidRecipient, Err: errors.Errorf("not a webhook URL: %q", recipient)}
	}
	if utf8.RuneCountInString(text) > SlackMaxLength {
		return &Error{Kind: KindMessageTooLong, Err: errors.Errorf("%d characters", utf8.RuneCountInString(text))}
	}

	err := slack.PostWebhookCustomHTTPContext(ctx, recipient, s.client, &slack.WebhookMessage{Text: text})
	if err == nil {
		return nil
	}
	return slackError(err)
}

func slackError(err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return &Error{Kind: KindRateLimited, Err: err}
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		switch sc.Code {
		case http.StatusNotFound, http.StatusBadRequest:
			return &Error{Kind: KindInvalidRecipient, Err: err}
		case http.StatusForbidden, http.StatusGone:
			return &Error{Kind: KindBlockedByRecipient, Err: err}
		case http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimited, Err: err}
		}
		return &Error{Kind: KindUnknown, Err: err}
	}
	if isTimeout(err) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}
