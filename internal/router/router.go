package router

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Swap Router — venue-aware quoting and transaction construction.
// One router serves one network; the dispatcher in cmd wires them by
// network short name.
// ---------------------------------------------------------------------------

// Quote is a priced route for a prospective swap. Amounts are whole units.
type Quote struct {
	Network   chain.Network   `json:"-"`
	TokenIn   chain.Address   `json:"token_in"`
	TokenOut  chain.Address   `json:"token_out"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out"`
	Path      []chain.Address `json:"path,omitempty"`

	// Raw carries the venue's own quote payload through to BuildSwap for
	// aggregators that build transactions server-side.
	Raw json.RawMessage `json:"-"`
}

// Router quotes swaps and assembles unsigned transactions for one network.
type Router interface {
	// Network returns the network this router serves.
	Network() chain.Network

	// Quote prices a swap of amountIn tokenIn into tokenOut. Slippage is
	// the caller's tolerated fraction below the quoted output; venues that
	// bound the output server-side apply it when assembling the route,
	// on-chain venues enforce it through minAmountOut at BuildSwap.
	Quote(ctx context.Context, tokenIn, tokenOut chain.Address, amountIn, slippage decimal.Decimal) (*Quote, error)

	// BuildSwap assembles a signable swap with everything resolved: nonce,
	// fees and deadline for account-model chains, a serialized unsigned
	// transaction for Solana.
	BuildSwap(ctx context.Context, from chain.Address, quote *Quote, minAmountOut decimal.Decimal) (*chain.UnsignedSwap, error)
}

// Approver is implemented by routers whose venue requires a spending
// allowance before the swap can move tokens.
type Approver interface {
	// Allowance returns the venue's current allowance for owner's token.
	Allowance(ctx context.Context, owner, token chain.Address) (decimal.Decimal, error)

	// BuildApprove assembles an unlimited-approval transaction for the venue.
	BuildApprove(ctx context.Context, owner, token chain.Address) (*chain.UnsignedSwap, error)
}
