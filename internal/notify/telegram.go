package notify

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// TelegramMaxLength is Telegram's limit for one text message.
const TelegramMaxLength = 4096

// telegramBotRate keeps one bot under the Bot API's global limit of about
// 30 messages per second across all chats.
const telegramBotRate = 25

// Telegram sends HTML messages through the Bot API. Recipients are numeric
// chat IDs or "@channel" usernames.
type Telegram struct {
	Bot  *tgbotapi.BotAPI
	pace *rate.Limiter
}

// NewTelegram authenticates the bot. An empty endpoint uses the public API.
func NewTelegram(token, endpoint string, timeout time.Duration) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("telegram bot token not configured")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrap(err, "telegram login")
	}
	return &Telegram{Bot: bot, pace: rate.NewLimiter(telegramBotRate, 1)}, nil
}

func (t *Telegram) Channel() string { return ChannelTelegram }

func (t *Telegram) MaxLength() int { return TelegramMaxLength }

// Send posts text to the chat. The call is abandoned when ctx ends; the
// HTTP client timeout bounds the request itself.
func (t *Telegram) Send(ctx context.Context, recipient, text string) error {
	if utf8.RuneCountInString(text) > TelegramMaxLength {
		return &Error{Kind: KindMessageTooLong, Err: errors.Errorf("%d characters", utf8.RuneCountInString(text))}
	}
	msg, err := newTelegramMessage(recipient, text)
	if err != nil {
		return &Error{Kind: KindInvalidRecipient, Err: err}
	}
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if t.pace != nil {
		if err := t.pace.Wait(ctx); err != nil {
			return &Error{Kind: KindTimeout, Err: err}
		}
	}

	// Buffered so the goroutine can finish after Send has returned.
	done := make(chan error, 1)
	go func() {
		_, err := t.Bot.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return telegramError(err)
		}
		return nil
	case <-ctx.Done():
		// The request is not cancelled and may still reach the chat after
		// the caller has released the batch; its result is dropped. The
		// next run then sends the same posts again.
		return &Error{Kind: KindTimeout, Err: ctx.Err()}
	}
}

func newTelegramMessage(recipient, text string) (tgbotapi.MessageConfig, error) {
	recipient = strings.TrimSpace(recipient)
	if strings.HasPrefix(recipient, "@") && len(recipient) > 1 {
		return tgbotapi.NewMessageToChannel(recipient, text), nil
	}
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, errors.Errorf("invalid chat id %q", recipient)
	}
	return tgbotapi.NewMessage(chatID, text), nil
}

// telegramError maps Bot API failures onto delivery kinds.
func telegramError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		desc := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.Code == http.StatusForbidden:
			return &Error{Kind: KindBlockedByRecipient, Err: err}
		case apiErr.Code == http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimited, Err: err}
		case strings.Contains(desc, "message is too long"):
			return &Error{Kind: KindMessageTooLong, Err: err}
		case strings.Contains(desc, "chat not found"), strings.Contains(desc, "peer_id_invalid"),
			strings.Contains(desc, "chat_id is empty"):
			return &Error{Kind: KindInvalidRecipient, Err: err}
		}
		return &Error{Kind: KindUnknown, Err: err}
	}
	if isTimeout(err) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
