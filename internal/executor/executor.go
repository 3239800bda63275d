package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/router"
	"github.com/david-jerry/copytrader-bot/internal/tokens"
	"github.com/david-jerry/copytrader-bot/internal/wallet"
)

// ---------------------------------------------------------------------------
// Swap Executor — the shared swap primitive. Builds, signs, submits and
// confirms exactly one swap per successful call; classifies every failure.
// ---------------------------------------------------------------------------

// Config tunes submit retry behavior.
type Config struct {
	// MaxSubmitTries bounds submission attempts on connectivity failures.
	MaxSubmitTries uint `yaml:"max_submit_tries"`
	// SubmitBackoff is the initial backoff between submission attempts.
	SubmitBackoff time.Duration `yaml:"submit_backoff"`
}

// DefaultConfig returns defaults.
func DefaultConfig() Config {
	return Config{
		MaxSubmitTries: 3,
		SubmitBackoff:  500 * time.Millisecond,
	}
}

// Request describes one swap to perform.
type Request struct {
	UserID   string
	Network  chain.Network
	Signer   wallet.Signer
	TokenIn  chain.Address
	TokenOut chain.Address
	AmountIn decimal.Decimal
	// Slippage is the tolerated fraction below the quoted output, e.g. 0.005.
	Slippage decimal.Decimal
}

// Result reports a confirmed swap.
type Result struct {
	TxHash       chain.TxHash    `json:"tx_hash"`
	ExplorerURL  string          `json:"explorer_url"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	QuotedOut    decimal.Decimal `json:"quoted_out"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	SymbolIn     string          `json:"symbol_in"`
	SymbolOut    string          `json:"symbol_out"`
	GasUsed      uint64          `json:"gas_used"`
}

// Executor performs swaps across the configured networks. Gateways and
// routers are injected per network short name.
type Executor struct {
	config   Config
	gateways map[string]chain.Gateway
	routers  map[string]router.Router
	resolver tokens.Resolver
}

// New creates an executor.
func New(config Config, gateways map[string]chain.Gateway, routers map[string]router.Router, resolver tokens.Resolver) *Executor {
	return &Executor{
		config:   config,
		gateways: gateways,
		routers:  routers,
		resolver: resolver,
	}
}

// Execute runs the full swap flow: metadata, balance check, quote, build,
// sign, submit, confirm. A revert returns SwapFailedError without retry;
// connectivity failures during submit are retried with exponential backoff
// and surface as ErrExecutionUnavailable once the budget is spent.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	gw, ok := e.gateways[req.Network.Short]
	if !ok {
		return nil, fmt.Errorf("%w: no gateway for network %s", chain.ErrValidation, req.Network.Short)
	}
	rt, ok := e.routers[req.Network.Short]
	if !ok {
		return nil, fmt.Errorf("%w: no router for network %s", chain.ErrValidation, req.Network.Short)
	}
	if !req.AmountIn.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive amount %s", chain.ErrValidation, req.AmountIn)
	}

	metaIn, err := e.resolver.Metadata(ctx, req.Network, req.TokenIn)
	if err != nil {
		return nil, fmt.Errorf("resolve token in: %w", err)
	}
	metaOut, err := e.resolver.Metadata(ctx, req.Network, req.TokenOut)
	if err != nil {
		return nil, fmt.Errorf("resolve token out: %w", err)
	}

	sender := req.Signer.Address()
	balance, err := gw.TokenBalance(ctx, sender, req.TokenIn)
	if err != nil {
		return nil, fmt.Errorf("sender balance: %w", err)
	}
	if balance.LessThan(req.AmountIn) {
		return nil, fmt.Errorf("%w: have %s %s, need %s", chain.ErrInsufficientBalance,
			balance, metaIn.Symbol, req.AmountIn)
	}

	quote, err := rt.Quote(ctx, req.TokenIn, req.TokenOut, req.AmountIn, req.Slippage)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	minOut := quote.AmountOut.Mul(decimal.NewFromInt(1).Sub(req.Slippage))

	// Venues that pull tokens from the sender need an allowance before the
	// swap transaction itself can move funds.
	if approver, ok := rt.(router.Approver); ok {
		if err := e.ensureAllowance(ctx, gw, approver, req, sender); err != nil {
			return nil, err
		}
	}

	swap, err := rt.BuildSwap(ctx, sender, quote, minOut)
	if err != nil {
		return nil, fmt.Errorf("build swap: %w", err)
	}
	raw, err := req.Signer.Sign(swap)
	if err != nil {
		return nil, fmt.Errorf("sign swap: %w", err)
	}

	hash, err := e.submit(ctx, gw, raw)
	if err != nil {
		return nil, err
	}

	receipt, err := gw.WaitReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("wait receipt %s: %w", hash, err)
	}
	if !receipt.Succeeded() {
		// Reverts usually mean the quote went stale or slippage tripped;
		// repeating the same swap can repeat the loss.
		return nil, &chain.SwapFailedError{TxHash: hash}
	}

	result := &Result{
		TxHash:       hash,
		ExplorerURL:  req.Network.ExplorerTxURL(hash),
		AmountIn:     req.AmountIn,
		QuotedOut:    quote.AmountOut,
		MinAmountOut: minOut,
		SymbolIn:     metaIn.Symbol,
		SymbolOut:    metaOut.Symbol,
		GasUsed:      receipt.GasUsed,
	}

	log.Info().
		Str("user_id", req.UserID).
		Str("network", req.Network.Short).
		Str("tx", string(hash)).
		Str("amount_in", req.AmountIn.String()).
		Str("quoted_out", quote.AmountOut.String()).
		Str("pair", metaIn.Symbol+"/"+metaOut.Symbol).
		Msg("executor: swap confirmed")

	return result, nil
}

// submit broadcasts with bounded exponential backoff. Only connectivity
// failures are retried; anything else aborts immediately.
func (e *Executor) submit(ctx context.Context, gw chain.Gateway, raw chain.RawTx) (chain.TxHash, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.config.SubmitBackoff

	hash, err := backoff.Retry(ctx, func() (chain.TxHash, error) {
		h, err := gw.Submit(ctx, raw)
		if err != nil {
			if errors.Is(err, chain.ErrConnectivity) {
				log.Warn().Err(err).Msg("executor: submit failed, retrying")
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return h, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(e.config.MaxSubmitTries))
	if err != nil {
		if errors.Is(err, chain.ErrConnectivity) {
			return "", fmt.Errorf("%w: submit retries exhausted: %v", chain.ErrExecutionUnavailable, err)
		}
		return "", fmt.Errorf("submit: %w", err)
	}
	return hash, nil
}

// ensureAllowance checks the venue allowance for the input token and, when
// short, signs and confirms an approval before the swap is built. The
// approval consumes a nonce, so it must settle before BuildSwap resolves one.
func (e *Executor) ensureAllowance(ctx context.Context, gw chain.Gateway, approver router.Approver, req Request, sender chain.Address) error {
	allowance, err := approver.Allowance(ctx, sender, req.TokenIn)
	if err != nil {
		return fmt.Errorf("allowance: %w", err)
	}
	if allowance.GreaterThanOrEqual(req.AmountIn) {
		return nil
	}

	approve, err := approver.BuildApprove(ctx, sender, req.TokenIn)
	if err != nil {
		return fmt.Errorf("build approve: %w", err)
	}
	raw, err := req.Signer.Sign(approve)
	if err != nil {
		return fmt.Errorf("sign approve: %w", err)
	}
	hash, err := e.submit(ctx, gw, raw)
	if err != nil {
		return fmt.Errorf("submit approve: %w", err)
	}
	receipt, err := gw.WaitReceipt(ctx, hash)
	if err != nil {
		return fmt.Errorf("wait approve receipt %s: %w", hash, err)
	}
	if !receipt.Succeeded() {
		return &chain.SwapFailedError{TxHash: hash}
	}

	log.Info().Str("tx", string(hash)).Str("token", string(req.TokenIn)).Msg("executor: allowance set")
	return nil
}
