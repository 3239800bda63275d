package snipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/discovery"
	"github.com/david-jerry/copytrader-bot/internal/executor"
	"github.com/david-jerry/copytrader-bot/internal/notify"
	"github.com/david-jerry/copytrader-bot/internal/store"
	"github.com/david-jerry/copytrader-bot/internal/tokens"
	"github.com/david-jerry/copytrader-bot/internal/wallet"
)

// ---------------------------------------------------------------------------
// Snipe Position Manager — scored entry, threshold monitoring, auto exit,
// cooldown re-entry.
// ---------------------------------------------------------------------------

// Config tunes the snipe loops.
type Config struct {
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// DefaultConfig returns defaults.
func DefaultConfig() Config {
	return Config{
		MonitorInterval: 300 * time.Second,
		Cooldown:        180 * time.Second,
	}
}

// errNoCandidate marks a snapshot with no qualifying token for the network.
var errNoCandidate = errors.New("snipe: no candidate for network")

// Job is one snipe loop for a user on one network.
type Job struct {
	config       Config
	userID       string
	network      chain.Network
	fundingToken chain.Address // empty selects the wrapped-native asset
	gw           chain.Gateway
	exec         *executor.Executor
	signer       wallet.Signer
	st           store.Store
	notifier     notify.Notifier
	listings     discovery.Listings
	scorer       *discovery.Scorer
	resolver     tokens.Resolver

	onEnter func(store.SnipePosition)
	onExit  func(store.SnipePosition)
	now     func() time.Time
}

// New creates a snipe job.
func New(config Config, userID string, network chain.Network, fundingToken chain.Address,
	gw chain.Gateway, exec *executor.Executor, signer wallet.Signer, st store.Store,
	notifier notify.Notifier, listings discovery.Listings, scorer *discovery.Scorer,
	resolver tokens.Resolver) *Job {
	return &Job{
		config:       config,
		userID:       userID,
		network:      network,
		fundingToken: fundingToken,
		gw:           gw,
		exec:         exec,
		signer:       signer,
		st:           st,
		notifier:     notifier,
		listings:     listings,
		scorer:       scorer,
		resolver:     resolver,
		now:          time.Now,
	}
}

// SetOnEnter registers a callback fired after a position is opened or resumed.
func (j *Job) SetOnEnter(fn func(store.SnipePosition)) { j.onEnter = fn }

// SetOnExit registers a callback fired after a position is closed.
func (j *Job) SetOnExit(fn func(store.SnipePosition)) { j.onExit = fn }

func (j *Job) funding() chain.Address {
	if j.fundingToken != "" {
		return j.fundingToken
	}
	return j.network.WrappedNative
}

// Run enters, monitors and re-enters positions until ctx is cancelled.
// Each pass through the outer loop is one full position lifecycle; the
// cooldown separates an exit from the next entry.
func (j *Job) Run(ctx context.Context) error {
	log.Info().
		Str("user_id", j.userID).
		Str("network", j.network.Short).
		Msg("snipe: started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("user_id", j.userID).Msg("snipe: stopped")
			return ctx.Err()
		default:
		}

		pos, err := j.enter(ctx)
		switch {
		case err == nil:
			if err := j.monitor(ctx, pos); err != nil {
				return err
			}
		case errors.Is(err, context.Canceled):
			return err
		case errors.Is(err, errNoCandidate):
			log.Debug().Str("network", j.network.Short).Msg("snipe: no candidate this round")
		default:
			log.Warn().Err(err).Str("user_id", j.userID).Msg("snipe: entry failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Str("user_id", j.userID).Msg("snipe: stopped")
			return ctx.Err()
		case <-time.After(j.config.Cooldown):
		}
	}
}

// enter picks a token, checks idempotency against the store and performs
// the entry swap. An existing open position for the picked token is resumed
// instead of re-bought.
func (j *Job) enter(ctx context.Context) (*store.SnipePosition, error) {
	preset, err := j.st.PresetOrDefault(ctx, j.userID, j.network.Short)
	if err != nil {
		return nil, fmt.Errorf("load preset: %w", err)
	}

	snapshot, err := j.listings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("market snapshot: %w", err)
	}
	picks := j.scorer.Select(snapshot, []string{j.network.Short}, discovery.Filter{
		MinCirculating: preset.MinCirculating,
		MinTotal:       preset.MinTotal,
	})
	cand, ok := picks[j.network.Short]
	if !ok {
		return nil, errNoCandidate
	}

	if existing, err := j.st.Position(ctx, j.userID, cand.Row.Address); err == nil && !existing.Completed {
		log.Info().
			Str("user_id", j.userID).
			Str("token", string(cand.Row.Address)).
			Msg("snipe: resuming open position")
		if j.onEnter != nil {
			j.onEnter(*existing)
		}
		return existing, nil
	}

	balance, err := j.gw.TokenBalance(ctx, j.signer.Address(), j.funding())
	if err != nil {
		return nil, fmt.Errorf("funding balance: %w", err)
	}
	amountIn := balance.Mul(preset.TradableFraction)
	if !amountIn.IsPositive() {
		j.notifier.Notify(ctx, notify.Message{
			UserID:   j.userID,
			Severity: notify.SeverityWarning,
			Title:    "Snipe skipped",
			Body:     "Funding balance is empty; top up the wallet to continue sniping.",
			Network:  j.network.Short,
			At:       j.now(),
		})
		return nil, fmt.Errorf("%w: funding balance %s", chain.ErrInsufficientBalance, balance)
	}

	result, err := j.exec.Execute(ctx, executor.Request{
		UserID:   j.userID,
		Network:  j.network,
		Signer:   j.signer,
		TokenIn:  j.funding(),
		TokenOut: cand.Row.Address,
		AmountIn: amountIn,
		Slippage: preset.Slippage,
	})
	if err != nil {
		return nil, fmt.Errorf("entry swap: %w", err)
	}

	held, err := j.gw.TokenBalance(ctx, j.signer.Address(), cand.Row.Address)
	if err != nil || !held.IsPositive() {
		held = result.QuotedOut
	}
	meta, err := j.resolver.Metadata(ctx, j.network, cand.Row.Address)
	decimals := 18
	if err == nil {
		decimals = meta.Decimals
	}

	pos := &store.SnipePosition{
		UserID:            j.userID,
		TokenAddress:      cand.Row.Address,
		Network:           j.network.Short,
		TokenName:         cand.Row.Name,
		TokenSymbol:       cand.Row.Symbol,
		Decimals:          decimals,
		AmountToken:       held,
		PurchasedPriceUSD: cand.Row.PriceUSD,
		TakeProfitRatio:   preset.TakeProfitRatio,
		StopLossRatio:     preset.StopLossRatio,
		Status:            store.PositionTrading,
		EntryTxHash:       result.TxHash,
	}
	created, err := j.st.CreatePosition(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("persist position: %w", err)
	}
	if !created {
		// Raced with another writer holding the key open; monitor theirs.
		existing, err := j.st.Position(ctx, j.userID, cand.Row.Address)
		if err != nil {
			return nil, fmt.Errorf("load raced position: %w", err)
		}
		pos = existing
	}

	j.notifier.Notify(ctx, notify.Message{
		UserID:      j.userID,
		Severity:    notify.SeveritySuccess,
		Title:       "Position opened",
		Body:        fmt.Sprintf("Bought %s %s at $%s", pos.AmountToken, pos.TokenSymbol, pos.PurchasedPriceUSD),
		Network:     j.network.Short,
		TxHash:      result.TxHash,
		ExplorerURL: result.ExplorerURL,
		At:          j.now(),
	})
	if j.onEnter != nil {
		j.onEnter(*pos)
	}
	return pos, nil
}

// monitor polls the price and exits at the preset thresholds. A transient
// failure skips the cycle; a reverted exit swap leaves the position open so
// the next interval retries.
func (j *Job) monitor(ctx context.Context, pos *store.SnipePosition) error {
	entry := pos.PurchasedPriceUSD
	one := decimal.NewFromInt(1)
	takeProfit := entry.Mul(one.Add(pos.TakeProfitRatio))
	stopLoss := entry.Mul(one.Sub(pos.StopLossRatio))

	log.Info().
		Str("user_id", j.userID).
		Str("token", string(pos.TokenAddress)).
		Str("entry", entry.String()).
		Str("take_profit", takeProfit.String()).
		Str("stop_loss", stopLoss.String()).
		Msg("snipe: monitoring")

	ticker := time.NewTicker(j.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		price, err := j.resolver.PriceUSD(ctx, j.network, pos.TokenAddress)
		if err != nil {
			log.Warn().Err(err).Str("token", string(pos.TokenAddress)).Msg("snipe: price lookup failed")
			continue
		}
		if price.LessThanOrEqual(stopLoss) || price.GreaterThanOrEqual(takeProfit) {
			closed, err := j.exit(ctx, pos, price)
			if err != nil {
				log.Warn().Err(err).Str("token", string(pos.TokenAddress)).Msg("snipe: exit failed")
				continue
			}
			if closed {
				return nil
			}
		}
	}
}

// exit swaps the held balance back to the funding asset and closes the
// record. Returns closed=false when the reverted swap should be retried on
// the next interval.
func (j *Job) exit(ctx context.Context, pos *store.SnipePosition, price decimal.Decimal) (bool, error) {
	held, err := j.gw.TokenBalance(ctx, j.signer.Address(), pos.TokenAddress)
	if err != nil {
		return false, fmt.Errorf("held balance: %w", err)
	}
	if !held.IsPositive() {
		// Nothing left to sell; close the record as errored for the audit trail.
		if err := j.st.ClosePosition(ctx, j.userID, pos.TokenAddress, store.PositionError, ""); err != nil {
			return false, fmt.Errorf("close empty position: %w", err)
		}
		j.notifier.Notify(ctx, notify.Message{
			UserID:   j.userID,
			Severity: notify.SeverityError,
			Title:    "Position closed with error",
			Body:     fmt.Sprintf("No %s balance left to exit.", pos.TokenSymbol),
			Network:  j.network.Short,
			At:       j.now(),
		})
		return true, nil
	}

	preset, err := j.st.PresetOrDefault(ctx, j.userID, j.network.Short)
	if err != nil {
		return false, fmt.Errorf("load preset: %w", err)
	}

	result, err := j.exec.Execute(ctx, executor.Request{
		UserID:   j.userID,
		Network:  j.network,
		Signer:   j.signer,
		TokenIn:  pos.TokenAddress,
		TokenOut: j.funding(),
		AmountIn: held,
		Slippage: preset.Slippage,
	})
	if err != nil {
		var swapFailed *chain.SwapFailedError
		if errors.As(err, &swapFailed) {
			j.notifier.Notify(ctx, notify.Message{
				UserID:      j.userID,
				Severity:    notify.SeverityWarning,
				Title:       "Exit swap reverted",
				Body:        fmt.Sprintf("Exit of %s reverted; will retry.", pos.TokenSymbol),
				Network:     j.network.Short,
				TxHash:      swapFailed.TxHash,
				ExplorerURL: j.network.ExplorerTxURL(swapFailed.TxHash),
				At:          j.now(),
			})
			return false, err
		}
		return false, err
	}

	if err := j.st.ClosePosition(ctx, j.userID, pos.TokenAddress, store.PositionTraded, result.TxHash); err != nil {
		return false, fmt.Errorf("close position: %w", err)
	}

	j.notifier.Notify(ctx, notify.Message{
		UserID:   j.userID,
		Severity: notify.SeveritySuccess,
		Title:    "Position closed",
		Body: fmt.Sprintf("Sold %s %s at $%s for %s %s (entry $%s)",
			held, pos.TokenSymbol, price, result.QuotedOut, result.SymbolOut, pos.PurchasedPriceUSD),
		Network:     j.network.Short,
		TxHash:      result.TxHash,
		ExplorerURL: result.ExplorerURL,
		At:          j.now(),
	})

	closedPos := *pos
	closedPos.Completed = true
	closedPos.Status = store.PositionTraded
	closedPos.ExitTxHash = result.TxHash
	if j.onExit != nil {
		j.onExit(closedPos)
	}
	return true, nil
}
