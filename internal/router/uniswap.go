package router

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Uniswap V2 style router (Uniswap, PancakeSwap, Trader Joe and clones).
// ---------------------------------------------------------------------------

const uniswapRouterABI = `[
	{
		"name": "getAmountsOut",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "amountIn", "type": "uint256"},
			{"name": "path", "type": "address[]"}
		],
		"outputs": [{"name": "amounts", "type": "uint256[]"}]
	},
	{
		"name": "swapExactTokensForTokensSupportingFeeOnTransferTokens",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "amountIn", "type": "uint256"},
			{"name": "amountOutMin", "type": "uint256"},
			{"name": "path", "type": "address[]"},
			{"name": "to", "type": "address"},
			{"name": "deadline", "type": "uint256"}
		],
		"outputs": []
	}
]`

const erc20ApprovalABI = `[
	{
		"name": "allowance",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "approve",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	}
]`

// EVMChain is the slice of the EVM gateway the router needs beyond the
// base Gateway surface.
type EVMChain interface {
	chain.Gateway
	TokenDecimals(ctx context.Context, token chain.Address) (int, error)
	PendingNonce(ctx context.Context, addr chain.Address) (uint64, error)
	CallContract(ctx context.Context, to chain.Address, data []byte) ([]byte, error)
}

// UniswapConfig tunes swap construction.
type UniswapConfig struct {
	SwapDeadline    time.Duration `yaml:"swap_deadline"`
	SwapGasLimit    uint64        `yaml:"swap_gas_limit"`
	ApproveGasLimit uint64        `yaml:"approve_gas_limit"`
}

// DefaultUniswapConfig returns defaults.
func DefaultUniswapConfig() UniswapConfig {
	return UniswapConfig{
		SwapDeadline:    3 * time.Minute,
		SwapGasLimit:    350_000,
		ApproveGasLimit: 60_000,
	}
}

// Uniswap routes swaps through a V2-style router contract.
type Uniswap struct {
	config    UniswapConfig
	gw        EVMChain
	net       chain.Network
	routerABI abi.ABI
	erc20ABI  abi.ABI
}

// NewUniswap creates a router over the gateway's network. The router
// contract address comes from the network variant.
func NewUniswap(config UniswapConfig, gw EVMChain) (*Uniswap, error) {
	net := gw.Network()
	if !net.IsEVM() {
		return nil, fmt.Errorf("%w: network %s is not account-model", chain.ErrValidation, net.Short)
	}
	if net.RouterAddress == "" {
		return nil, fmt.Errorf("%w: network %s has no router address", chain.ErrValidation, net.Short)
	}
	rABI, err := abi.JSON(strings.NewReader(uniswapRouterABI))
	if err != nil {
		return nil, fmt.Errorf("parse router ABI: %w", err)
	}
	eABI, err := abi.JSON(strings.NewReader(erc20ApprovalABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 ABI: %w", err)
	}
	return &Uniswap{config: config, gw: gw, net: net, routerABI: rABI, erc20ABI: eABI}, nil
}

// Network returns the served network.
func (u *Uniswap) Network() chain.Network { return u.net }

// Quote prices a swap via getAmountsOut. Pairs that do not include the
// wrapped native asset are routed through it. The slippage bound is
// enforced on-chain through minAmountOut at BuildSwap, not here.
func (u *Uniswap) Quote(ctx context.Context, tokenIn, tokenOut chain.Address, amountIn, _ decimal.Decimal) (*Quote, error) {
	if !amountIn.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive amount %s", chain.ErrValidation, amountIn)
	}
	path := u.routePath(tokenIn, tokenOut)

	decIn, err := u.gw.TokenDecimals(ctx, tokenIn)
	if err != nil {
		return nil, fmt.Errorf("token in decimals: %w", err)
	}
	decOut, err := u.gw.TokenDecimals(ctx, tokenOut)
	if err != nil {
		return nil, fmt.Errorf("token out decimals: %w", err)
	}

	hops := make([]common.Address, len(path))
	for i, p := range path {
		hops[i] = common.HexToAddress(string(p))
	}
	data, err := u.routerABI.Pack("getAmountsOut", chain.ToBaseUnits(amountIn, decIn), hops)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	out, err := u.gw.CallContract(ctx, u.net.RouterAddress, data)
	if err != nil {
		return nil, fmt.Errorf("getAmountsOut: %w", err)
	}
	unpacked, err := u.routerABI.Unpack("getAmountsOut", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getAmountsOut: %w", err)
	}
	amounts, ok := unpacked[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("getAmountsOut: malformed response")
	}
	amountOut := chain.FromBaseUnits(amounts[len(amounts)-1], decOut)

	log.Debug().
		Str("network", u.net.Short).
		Str("token_in", string(tokenIn)).
		Str("token_out", string(tokenOut)).
		Str("amount_in", amountIn.String()).
		Str("amount_out", amountOut.String()).
		Msg("router: quote")

	return &Quote{
		Network:   u.net,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		Path:      path,
	}, nil
}

// BuildSwap packs the fee-on-transfer-safe swap call and resolves nonce,
// fees and deadline so the signer needs no chain access.
func (u *Uniswap) BuildSwap(ctx context.Context, from chain.Address, quote *Quote, minAmountOut decimal.Decimal) (*chain.UnsignedSwap, error) {
	decIn, err := u.gw.TokenDecimals(ctx, quote.TokenIn)
	if err != nil {
		return nil, fmt.Errorf("token in decimals: %w", err)
	}
	decOut, err := u.gw.TokenDecimals(ctx, quote.TokenOut)
	if err != nil {
		return nil, fmt.Errorf("token out decimals: %w", err)
	}

	deadline := time.Now().Add(u.config.SwapDeadline)
	hops := make([]common.Address, len(quote.Path))
	for i, p := range quote.Path {
		hops[i] = common.HexToAddress(string(p))
	}
	data, err := u.routerABI.Pack("swapExactTokensForTokensSupportingFeeOnTransferTokens",
		chain.ToBaseUnits(quote.AmountIn, decIn),
		chain.ToBaseUnits(minAmountOut, decOut),
		hops,
		common.HexToAddress(string(from)),
		big.NewInt(deadline.Unix()),
	)
	if err != nil {
		return nil, fmt.Errorf("pack swap: %w", err)
	}

	nonce, err := u.gw.PendingNonce(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	fees, err := u.gw.EstimateFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("estimate fees: %w", err)
	}

	return &chain.UnsignedSwap{
		Network:      u.net,
		To:           u.net.RouterAddress,
		Value:        decimal.Zero,
		Payload:      data,
		GasLimit:     u.config.SwapGasLimit,
		Nonce:        nonce,
		Fees:         fees,
		Deadline:     deadline,
		TokenIn:      quote.TokenIn,
		TokenOut:     quote.TokenOut,
		AmountIn:     quote.AmountIn,
		MinAmountOut: minAmountOut,
	}, nil
}

// Allowance reads the router contract's spending allowance for owner's token.
func (u *Uniswap) Allowance(ctx context.Context, owner, token chain.Address) (decimal.Decimal, error) {
	data, err := u.erc20ABI.Pack("allowance",
		common.HexToAddress(string(owner)), common.HexToAddress(string(u.net.RouterAddress)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack allowance: %w", err)
	}
	out, err := u.gw.CallContract(ctx, token, data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("allowance: %w", err)
	}
	dec, err := u.gw.TokenDecimals(ctx, token)
	if err != nil {
		return decimal.Zero, fmt.Errorf("token decimals: %w", err)
	}
	return chain.FromBaseUnits(new(big.Int).SetBytes(out), dec), nil
}

// BuildApprove packs an unlimited approval for the router contract.
func (u *Uniswap) BuildApprove(ctx context.Context, owner, token chain.Address) (*chain.UnsignedSwap, error) {
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	data, err := u.erc20ABI.Pack("approve",
		common.HexToAddress(string(u.net.RouterAddress)), maxUint256)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}

	nonce, err := u.gw.PendingNonce(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	fees, err := u.gw.EstimateFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("estimate fees: %w", err)
	}

	return &chain.UnsignedSwap{
		Network:  u.net,
		To:       token,
		Value:    decimal.Zero,
		Payload:  data,
		GasLimit: u.config.ApproveGasLimit,
		Nonce:    nonce,
		Fees:     fees,
	}, nil
}

func (u *Uniswap) routePath(tokenIn, tokenOut chain.Address) []chain.Address {
	wrapped := u.net.WrappedNative
	if strings.EqualFold(string(tokenIn), string(wrapped)) || strings.EqualFold(string(tokenOut), string(wrapped)) {
		return []chain.Address{tokenIn, tokenOut}
	}
	return []chain.Address{tokenIn, wrapped, tokenOut}
}

var (
	_ Router   = (*Uniswap)(nil)
	_ Approver = (*Uniswap)(nil)
)
