package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// WebhookConfig configures webhook delivery.
type WebhookConfig struct {
	URL         string        `yaml:"url"`
	BotName     string        `yaml:"bot_name"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// DefaultWebhookConfig returns defaults.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		BotName:     "copytrader",
		HTTPTimeout: 10 * time.Second,
	}
}

// Webhook posts notifications to a Discord/Slack-compatible webhook.
// Delivery failures are logged and swallowed.
type Webhook struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(config WebhookConfig) *Webhook {
	return &Webhook{
		config:     config,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
	}
}

func (w *Webhook) Notify(ctx context.Context, msg Message) {
	text := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(msg.Severity)), msg.Title, msg.Body)
	if msg.ExplorerURL != "" {
		text += " " + msg.ExplorerURL
	}

	payload := w.formatPayload(text)
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("notify: marshal webhook payload")
		return
	}

	// One retry on transport failure, then give up.
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
		if err != nil {
			log.Error().Err(err).Msg("notify: create webhook request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.httpClient.Do(req)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("notify: webhook delivery failed")
			if ctx.Err() != nil {
				return
			}
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Warn().Int("status", resp.StatusCode).Msg("notify: webhook rejected")
		}
		return
	}
}

func (w *Webhook) formatPayload(text string) map[string]string {
	if strings.Contains(w.config.URL, "discord") {
		return map[string]string{"content": text, "username": w.config.BotName}
	}
	return map[string]string{"text": text, "username": w.config.BotName}
}

var _ Notifier = (*Webhook)(nil)
