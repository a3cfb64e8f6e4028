package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBotAPI answers getMe and sendMessage like the Telegram Bot API.
type fakeBotAPI struct {
	mu       sync.Mutex
	sent     []map[string]string
	failCode int
	failDesc string
	delay    time.Duration
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Partner","username":"partner_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		_ = r.ParseForm()
		if f.failCode != 0 {
			fmt.Fprintf(w, `{"ok":false,"error_code":%d,"description":%q}`, f.failCode, f.failDesc)
			return
		}
		f.mu.Lock()
		f.sent = append(f.sent, map[string]string{
			"chat_id":    r.Form.Get("chat_id"),
			"text":       r.Form.Get("text"),
			"parse_mode": r.Form.Get("parse_mode"),
		})
		f.mu.Unlock()
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":123,"type":"private"}}}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestTelegram(t *testing.T, fake *fakeBotAPI, timeout time.Duration) *Telegram {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)
	tg, err := NewTelegram("TOKEN", srv.URL+"/bot%s/%s", timeout)
	require.NoError(t, err)
	return tg
}

func kindOf(t *testing.T, err error) ErrorKind {
	t.Helper()
	var nerr *Error
	require.True(t, errors.As(err, &nerr), "expected *notify.Error, got %T: %v", err, err)
	return nerr.Kind
}

func TestTelegramSend(t *testing.T) {
	fake := &fakeBotAPI{}
	tg := newTestTelegram(t, fake, 5*time.Second)

	require.NoError(t, tg.Send(context.Background(), "123", "<b>hello</b>"))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "123", fake.sent[0]["chat_id"])
	assert.Equal(t, "<b>hello</b>", fake.sent[0]["text"])
	assert.Equal(t, "HTML", fake.sent[0]["parse_mode"])
	assert.Equal(t, ChannelTelegram, tg.Channel())
}

func TestTelegramPacesSends(t *testing.T) {
	fake := &fakeBotAPI{}
	tg := newTestTelegram(t, fake, 5*time.Second)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, tg.Send(context.Background(), "123", "hi"))
	}
	// Burst of one: the second and third send each wait 1/telegramBotRate.
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second/telegramBotRate-5*time.Millisecond)
	assert.Len(t, fake.sent, 3)
}

func TestTelegramErrorKinds(t *testing.T) {
	tests := []struct {
		code int
		desc string
		want ErrorKind
	}{
		{403, "Forbidden: bot was blocked by the user", KindBlockedByRecipient},
		{400, "Bad Request: chat not found", KindInvalidRecipient},
		{400, "Bad Request: message is too long", KindMessageTooLong},
		{429, "Too Many Requests: retry after 5", KindRateLimited},
		{500, "Internal Server Error", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			tg := newTestTelegram(t, &fakeBotAPI{failCode: tt.code, failDesc: tt.desc}, 5*time.Second)
			err := tg.Send(context.Background(), "123", "hi")
			require.Error(t, err)
			assert.Equal(t, tt.want, kindOf(t, err))
		})
	}
}

func TestTelegramRejectsBeforeCalling(t *testing.T) {
	fake := &fakeBotAPI{}
	tg := newTestTelegram(t, fake, 5*time.Second)

	err := tg.Send(context.Background(), "not-a-chat", "hi")
	assert.Equal(t, KindInvalidRecipient, kindOf(t, err))

	err = tg.Send(context.Background(), "123", strings.Repeat("x", TelegramMaxLength+1))
	assert.Equal(t, KindMessageTooLong, kindOf(t, err))

	assert.Empty(t, fake.sent)
}

func TestTelegramTimeout(t *testing.T) {
	fake := &fakeBotAPI{}
	tg := newTestTelegram(t, fake, 5*time.Second)
	fake.delay = 300 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tg.Send(ctx, "123", "hi")
	assert.Equal(t, KindTimeout, kindOf(t, err))
}

func TestTelegramTimeoutDropsLateResult(t *testing.T) {
	fake := &fakeBotAPI{}
	tg := newTestTelegram(t, fake, 5*time.Second)
	fake.delay = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tg.Send(ctx, "123", "late")
	assert.Equal(t, KindTimeout, kindOf(t, err))

	// The abandoned request still lands, but Send has already reported the
	// timeout and the bot keeps working.
	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return len(fake.sent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	fake.delay = 0
	require.NoError(t, tg.Send(context.Background(), "123", "next"))
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.sent, 2)
	assert.Equal(t, "late", fake.sent[0]["text"])
	assert.Equal(t, "next", fake.sent[1]["text"])
}

func TestNewTelegramRequiresToken(t *testing.T) {
	_, err := NewTelegram("", "", time.Second)
	assert.Error(t, err)
}

func TestSlackSend(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlack(5 * time.Second)
	require.NoError(t, s.Send(context.Background(), srv.URL, "hello"))
	assert.Contains(t, got, `"text":"hello"`)
}

func TestSlackErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusNotFound, KindInvalidRecipient},
		{http.StatusForbidden, KindBlockedByRecipient},
		{http.StatusGone, KindBlockedByRecipient},
		{http.StatusInternalServerError, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()
			err := NewSlack(5*time.Second).Send(context.Background(), srv.URL, "hi")
			assert.Equal(t, tt.want, kindOf(t, err))
		})
	}

	t.Run("rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()
		err := NewSlack(5*time.Second).Send(context.Background(), srv.URL, "hi")
		assert.Equal(t, KindRateLimited, kindOf(t, err))
	})

	t.Run("bad recipient", func(t *testing.T) {
		err := NewSlack(time.Second).Send(context.Background(), "123", "hi")
		assert.Equal(t, KindInvalidRecipient, kindOf(t, err))
	})
}
