package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// WebSocket Activity Feed — push-mode hints for the copy-trade watcher.
// Subscribes to logs touching the target address; each event names a
// transaction hash the watcher then verifies over HTTP.
// ---------------------------------------------------------------------------

// FeedConfig configures the activity feed.
type FeedConfig struct {
	WSEndpoint       string `yaml:"ws_endpoint"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
	MaxReconnects    int    `yaml:"max_reconnects"` // 0 = unlimited
}

// DefaultFeedConfig returns defaults.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
		MaxReconnects:    0,
	}
}

// ActivityEvent is emitted when the watched address shows on-chain activity.
type ActivityEvent struct {
	Address    chain.Address `json:"address"`
	TxHash     chain.TxHash  `json:"tx_hash"`
	Block      uint64        `json:"block"`
	DetectedAt time.Time     `json:"detected_at"`
}

// ActivityFeed streams activity hints for one watched address.
type ActivityFeed struct {
	config  FeedConfig
	address chain.Address

	mu   sync.Mutex
	conn *websocket.Conn

	events chan ActivityEvent
	closed atomic.Bool

	messagesRecv atomic.Int64
	reconnects   atomic.Int64
	connected    atomic.Bool
}

// NewActivityFeed creates a feed for one address.
func NewActivityFeed(config FeedConfig, address chain.Address) *ActivityFeed {
	return &ActivityFeed{
		config:  config,
		address: address,
		events:  make(chan ActivityEvent, 64),
	}
}

// Start opens the subscription and returns the event channel. The feed
// reconnects on failure until ctx is cancelled.
func (f *ActivityFeed) Start(ctx context.Context) <-chan ActivityEvent {
	go f.runLoop(ctx)
	return f.events
}

// Connected reports whether the feed currently holds a live connection.
func (f *ActivityFeed) Connected() bool { return f.connected.Load() }

func (f *ActivityFeed) runLoop(ctx context.Context) {
	defer func() {
		if f.closed.CompareAndSwap(false, true) {
			close(f.events)
		}
	}()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("address", string(f.address)).Msg("feed: connection lost, reconnecting")
		}
		f.connected.Store(false)

		attempts++
		f.reconnects.Add(1)
		if f.config.MaxReconnects > 0 && attempts >= f.config.MaxReconnects {
			log.Error().Int("attempts", attempts).Msg("feed: max reconnects reached, giving up")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(f.config.ReconnectDelayMs) * time.Millisecond):
		}
	}
}

func (f *ActivityFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.config.WSEndpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.config.WSEndpoint, err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer conn.Close()

	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []any{"logs", map[string]any{"address": string(f.address)}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.connected.Store(true)
	log.Info().Str("address", string(f.address)).Msg("feed: subscribed")

	// Keepalive pings.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(time.Duration(f.config.PingIntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				f.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				f.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.messagesRecv.Add(1)
		f.handleMessage(data)
	}
}

type logNotification struct {
	Params struct {
		Result struct {
			Address         string `json:"address"`
			TransactionHash string `json:"transactionHash"`
			BlockNumber     string `json:"blockNumber"`
		} `json:"result"`
	} `json:"params"`
}

func (f *ActivityFeed) handleMessage(data []byte) {
	var note logNotification
	if err := json.Unmarshal(data, &note); err != nil {
		return
	}
	if note.Params.Result.TransactionHash == "" {
		return // subscription ack or unrelated frame
	}

	ev := ActivityEvent{
		Address:    f.address,
		TxHash:     chain.TxHash(note.Params.Result.TransactionHash),
		Block:      parseHexUint(note.Params.Result.BlockNumber),
		DetectedAt: time.Now(),
	}

	select {
	case f.events <- ev:
	default:
		log.Warn().Str("tx", string(ev.TxHash)).Msg("feed: event channel full, dropping")
	}
}

func parseHexUint(s string) uint64 {
	var v uint64
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		fmt.Sscanf(s[2:], "%x", &v)
	}
	return v
}
