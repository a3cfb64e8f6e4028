// Package notify delivers rendered alert messages to a messaging channel.
package notify

import (
	"context"
	"fmt"
)

// Channel names as stored in delivery history.
const (
	ChannelTelegram = "telegram"
	ChannelSlack    = "slack"
)

// Gateway sends one message to one recipient.
type Gateway interface {
	Send(ctx context.Context, recipient, text string) error
	// Channel names the messaging service ("telegram", "slack").
	Channel() string
	// MaxLength is the longest message, in characters, the service accepts.
	MaxLength() int
}

// ErrorKind types a delivery failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidRecipient
	KindBlockedByRecipient
	KindMessageTooLong
	KindRateLimited
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRecipient:
		return "invalid_recipient"
	case KindBlockedByRecipient:
		return "blocked_by_recipient"
	case KindMessageTooLong:
		return "message_too_long"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is returned by every Gateway for every failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
