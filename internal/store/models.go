package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Durable records: copy-trade tasks, snipe positions, per-chain presets.
// ---------------------------------------------------------------------------

// TaskStatus is the lifecycle state of a copy-trade task.
type TaskStatus string

const (
	TaskActive  TaskStatus = "active"
	TaskStopped TaskStatus = "stopped"
)

// CopyTradeTask records one mirror job.
type CopyTradeTask struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Network        string        `json:"network"` // short name
	WatcherAddress chain.Address `json:"watcher_address"`
	TargetAddress  chain.Address `json:"target_address"`
	Status         TaskStatus    `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// PositionStatus is the trading state of a snipe position.
type PositionStatus string

const (
	PositionTrading PositionStatus = "trading"
	PositionTraded  PositionStatus = "traded"
	PositionError   PositionStatus = "error"
)

// SnipePosition records one token entry. The (UserID, TokenAddress) pair is
// the primary key: at most one open position per user and token. Completed
// positions are never mutated again.
type SnipePosition struct {
	UserID            string          `json:"user_id"`
	TokenAddress      chain.Address   `json:"token_address"`
	Network           string          `json:"network"`
	TokenName         string          `json:"token_name"`
	TokenSymbol       string          `json:"token_symbol"`
	Decimals          int             `json:"decimals"`
	AmountToken       decimal.Decimal `json:"amount_token"`
	PurchasedPriceUSD decimal.Decimal `json:"purchased_price_usd"`
	TakeProfitRatio   decimal.Decimal `json:"take_profit_ratio"` // inherited from preset at creation
	StopLossRatio     decimal.Decimal `json:"stop_loss_ratio"`
	Completed         bool            `json:"completed"`
	Status            PositionStatus  `json:"status"`
	EntryTxHash       chain.TxHash    `json:"entry_tx_hash"`
	ExitTxHash        chain.TxHash    `json:"exit_tx_hash"`
	CreatedAt         time.Time       `json:"created_at"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
}

// Preset is the per (user, network) risk configuration.
type Preset struct {
	UserID           string          `json:"user_id"`
	Network          string          `json:"network"`
	Slippage         decimal.Decimal `json:"slippage"`          // fraction, e.g. 0.005
	TakeProfitRatio  decimal.Decimal `json:"take_profit_ratio"` // gain fraction, 0.25 = exit at +25%
	StopLossRatio    decimal.Decimal `json:"stop_loss_ratio"`   // loss fraction, 0.05 = exit at -5%
	TradableFraction decimal.Decimal `json:"tradable_fraction"` // share of balance per trade
	GasLimit         uint64          `json:"gas_limit"`
	MaxGasPriceWei   decimal.Decimal `json:"max_gas_price_wei"`
	MinCirculating   decimal.Decimal `json:"min_circulating"`
	MinTotal         decimal.Decimal `json:"min_total"`
}

// DefaultPreset returns the defaults applied when a user has no stored
// preset for a network: 5% stop loss, +25% take profit, 5% of balance per
// trade, 0.5% slippage.
func DefaultPreset(userID, network string) Preset {
	return Preset{
		UserID:           userID,
		Network:          network,
		Slippage:         decimal.NewFromFloat(0.005),
		TakeProfitRatio:  decimal.NewFromFloat(0.25),
		StopLossRatio:    decimal.NewFromFloat(0.05),
		TradableFraction: decimal.NewFromFloat(0.05),
		GasLimit:         350_000,
	}
}

// Validate checks ratio bounds.
func (p Preset) Validate() error {
	one := decimal.NewFromInt(1)
	for _, f := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"slippage", p.Slippage},
		{"take_profit_ratio", p.TakeProfitRatio},
		{"stop_loss_ratio", p.StopLossRatio},
		{"tradable_fraction", p.TradableFraction},
	} {
		if f.v.IsNegative() || f.v.GreaterThan(one) {
			return fmt.Errorf("%w: preset %s %s out of [0,1]", chain.ErrValidation, f.name, f.v)
		}
	}
	return nil
}
