package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Notifier — human-readable status and result delivery.
// ---------------------------------------------------------------------------

// Severity classifies a message for routing and display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message is one user-facing notification. ExplorerURL and TxHash are set
// when the message reports an on-chain effect.
type Message struct {
	UserID      string       `json:"user_id"`
	Severity    Severity     `json:"severity"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	Network     string       `json:"network,omitempty"`
	TxHash      chain.TxHash `json:"tx_hash,omitempty"`
	ExplorerURL string       `json:"explorer_url,omitempty"`
	At          time.Time    `json:"at"`
}

// Notifier delivers messages. Delivery failures must not propagate into
// trading flow; implementations log and move on.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// LogNotifier writes notifications to the structured log. Default sink when
// no webhook is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Notify(_ context.Context, msg Message) {
	var ev *zerolog.Event
	switch msg.Severity {
	case SeverityError:
		ev = log.Error()
	case SeverityWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	ev = ev.Str("user_id", msg.UserID).Str("title", msg.Title)
	if msg.TxHash != "" {
		ev = ev.Str("tx", string(msg.TxHash)).Str("explorer", msg.ExplorerURL)
	}
	ev.Msg("notify: " + msg.Body)
}

// Capture collects messages for assertions in tests.
type Capture struct {
	mu       sync.Mutex
	messages []Message
}

// NewCapture creates an empty capture notifier.
func NewCapture() *Capture { return &Capture{} }

func (c *Capture) Notify(_ context.Context, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// Messages returns everything captured so far.
func (c *Capture) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Capture)(nil)
)
