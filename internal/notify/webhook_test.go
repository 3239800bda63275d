package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_SlackShapedPayload(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer server.Close()

	config := DefaultWebhookConfig()
	config.URL = server.URL
	wh := NewWebhook(config)

	wh.Notify(context.Background(), Message{
		UserID:      "u1",
		Severity:    SeveritySuccess,
		Title:       "Trade mirrored",
		Body:        "Swapped 5 WETH for MEME",
		ExplorerURL: "https://etherscan.io/tx/0xabc",
		At:          time.Now(),
	})

	require.NotNil(t, received)
	assert.Contains(t, received["text"], "[SUCCESS] Trade mirrored")
	assert.Contains(t, received["text"], "https://etherscan.io/tx/0xabc")
	assert.Equal(t, "copytrader", received["username"])
}

func TestWebhook_DiscordShapedPayload(t *testing.T) {
	wh := NewWebhook(WebhookConfig{URL: "https://discord.com/api/webhooks/x", BotName: "bot"})

	payload := wh.formatPayload("hello")
	assert.Equal(t, "hello", payload["content"])
	assert.Equal(t, "bot", payload["username"])
	_, hasText := payload["text"]
	assert.False(t, hasText)
}

func TestWebhook_DeliveryFailureDoesNotPanic(t *testing.T) {
	config := DefaultWebhookConfig()
	config.URL = "http://127.0.0.1:1" // nothing listens here
	config.HTTPTimeout = 100 * time.Millisecond
	wh := NewWebhook(config)

	wh.Notify(context.Background(), Message{Severity: SeverityError, Title: "x", Body: "y"})
}

func TestWebhook_RetriesOnceOnTransportFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the connection mid-request to force a client-side error.
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := DefaultWebhookConfig()
	config.URL = server.URL
	wh := NewWebhook(config)

	wh.Notify(context.Background(), Message{Severity: SeverityInfo, Title: "x", Body: "y"})
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhook_RejectionIsSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	config := DefaultWebhookConfig()
	config.URL = server.URL
	wh := NewWebhook(config)

	wh.Notify(context.Background(), Message{Severity: SeverityInfo, Title: "x", Body: "y"})
}

func TestCapture_CollectsMessages(t *testing.T) {
	c := NewCapture()
	c.Notify(context.Background(), Message{Title: "one"})
	c.Notify(context.Background(), Message{Title: "two"})

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Title)
	assert.Equal(t, "two", msgs[1].Title)
}
