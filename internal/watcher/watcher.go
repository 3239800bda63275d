package watcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/executor"
	"github.com/david-jerry/copytrader-bot/internal/notify"
	"github.com/david-jerry/copytrader-bot/internal/store"
	"github.com/david-jerry/copytrader-bot/internal/wallet"
)

// ---------------------------------------------------------------------------
// Copy-Trade Watcher — polls a target wallet and mirrors its trades,
// sized by the user's preset fraction.
// ---------------------------------------------------------------------------

// Mode selects which target transactions count as mirror-worthy.
type Mode string

const (
	// ModeAll mirrors every successful transaction from the target.
	ModeAll Mode = "all"
	// ModeKnownRouters mirrors only transactions sent to the network's
	// known DEX router addresses.
	ModeKnownRouters Mode = "known_routers"
)

// Config tunes the watcher loop.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Mode         Mode          `yaml:"mode"`
	// UseFeed enables push-mode hints from the websocket activity feed on
	// networks that expose a WS endpoint. Polling continues regardless.
	UseFeed bool `yaml:"use_feed"`
}

// DefaultConfig returns defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		Mode:         ModeKnownRouters,
	}
}

// Job is one copy-trade watcher bound to a task record.
type Job struct {
	config   Config
	task     store.CopyTradeTask
	network  chain.Network
	gw       chain.Gateway
	exec     *executor.Executor
	signer   wallet.Signer
	st       store.Store
	notifier notify.Notifier
	preset   store.Preset

	// hints, when set, trigger an immediate poll between intervals
	// (fed by the websocket activity feed).
	hints <-chan struct{}

	lastBlock uint64
	cycles    atomic.Int64
	mirrored  atomic.Int64

	onMirror func(executor.Result)
	now      func() time.Time
}

// New creates a watcher job. The preset is resolved once at job start.
func New(config Config, task store.CopyTradeTask, network chain.Network, gw chain.Gateway,
	exec *executor.Executor, signer wallet.Signer, st store.Store, notifier notify.Notifier,
	preset store.Preset) *Job {
	return &Job{
		config:   config,
		task:     task,
		network:  network,
		gw:       gw,
		exec:     exec,
		signer:   signer,
		st:       st,
		notifier: notifier,
		preset:   preset,
		now:      time.Now,
	}
}

// SetHints wires a push-mode hint channel.
func (j *Job) SetHints(ch <-chan struct{}) { j.hints = ch }

// SetOnMirror registers a callback fired after each successful mirror.
func (j *Job) SetOnMirror(fn func(executor.Result)) { j.onMirror = fn }

// Mirrored returns how many trades were mirrored so far.
func (j *Job) Mirrored() int64 { return j.mirrored.Load() }

// Run executes the watcher loop until ctx is cancelled. Mirroring on the
// non-EVM ledger is declined up front as a capability gate.
func (j *Job) Run(ctx context.Context) error {
	if !j.network.IsEVM() {
		j.notifier.Notify(ctx, notify.Message{
			UserID:   j.task.UserID,
			Severity: notify.SeverityWarning,
			Title:    "Copy trade unavailable",
			Body:     fmt.Sprintf("Copy trading on %s is not supported yet.", j.network.Name),
			Network:  j.network.Short,
			At:       j.now(),
		})
		if err := j.st.SetTaskStatus(ctx, j.task.ID, store.TaskStopped); err != nil {
			log.Error().Err(err).Str("task_id", j.task.ID).Msg("watcher: mark task stopped")
		}
		return nil
	}

	log.Info().
		Str("task_id", j.task.ID).
		Str("network", j.network.Short).
		Str("target", string(j.task.TargetAddress)).
		Str("mode", string(j.config.Mode)).
		Msg("watcher: started")

	ticker := time.NewTicker(j.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("task_id", j.task.ID).Msg("watcher: stopped")
			return ctx.Err()
		default:
		}

		j.cycle(ctx)

		select {
		case <-ctx.Done():
			log.Info().Str("task_id", j.task.ID).Msg("watcher: stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-j.hints:
		}
	}
}

// cycle runs one poll. Errors are contained: logged, never fatal.
func (j *Job) cycle(ctx context.Context) {
	j.cycles.Add(1)

	txs, cursor, err := j.gw.TransactionsFrom(ctx, j.task.TargetAddress, j.lastBlock)
	if err != nil {
		log.Warn().Err(err).Str("task_id", j.task.ID).Msg("watcher: poll failed")
		return
	}
	j.lastBlock = cursor

	for _, tx := range txs {
		receipt, err := j.gw.WaitReceipt(ctx, tx.Hash)
		if err != nil {
			log.Warn().Err(err).Str("tx", string(tx.Hash)).Msg("watcher: receipt lookup failed")
			continue
		}
		if !receipt.Succeeded() {
			continue
		}
		if !j.mirrorWorthy(tx) {
			continue
		}
		j.mirror(ctx, tx)
	}
}

// mirrorWorthy classifies a confirmed target transaction.
func (j *Job) mirrorWorthy(tx chain.Transaction) bool {
	if tx.To == "" {
		return false // contract creation
	}
	switch j.config.Mode {
	case ModeAll:
		return true
	case ModeKnownRouters:
		return j.network.IsKnownRouter(tx.To)
	default:
		return false
	}
}

// mirror replicates one target trade: spend the preset fraction of the
// wrapped-native balance on the asset the target interacted with.
func (j *Job) mirror(ctx context.Context, tx chain.Transaction) {
	funding := j.network.WrappedNative
	balance, err := j.gw.TokenBalance(ctx, j.signer.Address(), funding)
	if err != nil {
		log.Warn().Err(err).Str("task_id", j.task.ID).Msg("watcher: funding balance lookup failed")
		return
	}

	amount := balance.Mul(j.preset.TradableFraction)
	if !amount.IsPositive() {
		log.Warn().
			Str("task_id", j.task.ID).
			Str("balance", balance.String()).
			Msg("watcher: nothing to trade")
		return
	}

	result, err := j.exec.Execute(ctx, executor.Request{
		UserID:   j.task.UserID,
		Network:  j.network,
		Signer:   j.signer,
		TokenIn:  funding,
		TokenOut: tx.To,
		AmountIn: amount,
		Slippage: j.preset.Slippage,
	})
	if err != nil {
		log.Warn().Err(err).Str("task_id", j.task.ID).Str("target_tx", string(tx.Hash)).Msg("watcher: mirror failed")
		j.notifier.Notify(ctx, notify.Message{
			UserID:   j.task.UserID,
			Severity: notify.SeverityWarning,
			Title:    "Mirror failed",
			Body:     fmt.Sprintf("Could not mirror %s: %v", tx.Hash, err),
			Network:  j.network.Short,
			At:       j.now(),
		})
		return
	}

	j.mirrored.Add(1)
	j.notifier.Notify(ctx, notify.Message{
		UserID:      j.task.UserID,
		Severity:    notify.SeveritySuccess,
		Title:       "Trade mirrored",
		Body:        fmt.Sprintf("Swapped %s %s for %s (min %s)", result.AmountIn, result.SymbolIn, result.SymbolOut, result.MinAmountOut),
		Network:     j.network.Short,
		TxHash:      result.TxHash,
		ExplorerURL: result.ExplorerURL,
		At:          j.now(),
	})
	if j.onMirror != nil {
		j.onMirror(*result)
	}
}
