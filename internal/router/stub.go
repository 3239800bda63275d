package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Stub Router (for testing and stub mode)
// ---------------------------------------------------------------------------

// StubRouter prices swaps at configurable pair rates.
type StubRouter struct {
	net chain.Network

	mu           sync.Mutex
	rates        map[string]decimal.Decimal // "in->out" rate, amountOut = amountIn * rate
	allowances   map[string]decimal.Decimal // "owner:token"
	lastSlippage decimal.Decimal
	quoteErr     error
	buildErr     error
}

// NewStubRouter creates a stub router with a default 1:1 rate.
func NewStubRouter(net chain.Network) *StubRouter {
	return &StubRouter{
		net:        net,
		rates:      make(map[string]decimal.Decimal),
		allowances: make(map[string]decimal.Decimal),
	}
}

// SetRate fixes the amountOut/amountIn rate for a pair.
func (s *StubRouter) SetRate(tokenIn, tokenOut chain.Address, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pairKey(tokenIn, tokenOut)] = rate
}

// SetAllowance seeds a venue allowance.
func (s *StubRouter) SetAllowance(owner, token chain.Address, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowances[allowanceKey(owner, token)] = amount
}

// FailQuotes makes Quote return err until cleared with nil.
func (s *StubRouter) FailQuotes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quoteErr = err
}

// FailBuilds makes BuildSwap return err until cleared with nil.
func (s *StubRouter) FailBuilds(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildErr = err
}

func (s *StubRouter) Network() chain.Network { return s.net }

// LastSlippage returns the slippage passed to the most recent Quote.
func (s *StubRouter) LastSlippage() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSlippage
}

func (s *StubRouter) Quote(_ context.Context, tokenIn, tokenOut chain.Address, amountIn, slippage decimal.Decimal) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSlippage = slippage
	if s.quoteErr != nil {
		return nil, s.quoteErr
	}
	rate, ok := s.rates[pairKey(tokenIn, tokenOut)]
	if !ok {
		rate = decimal.NewFromInt(1)
	}
	return &Quote{
		Network:   s.net,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  amountIn,
		AmountOut: amountIn.Mul(rate),
		Path:      []chain.Address{tokenIn, tokenOut},
	}, nil
}

func (s *StubRouter) BuildSwap(_ context.Context, from chain.Address, quote *Quote, minAmountOut decimal.Decimal) (*chain.UnsignedSwap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	fees := &chain.FeeEstimate{Model: s.net.FeeModel}
	return &chain.UnsignedSwap{
		Network:      s.net,
		To:           s.net.RouterAddress,
		Payload:      []byte(fmt.Sprintf("swap %s %s->%s from %s", quote.AmountIn, quote.TokenIn, quote.TokenOut, from)),
		GasLimit:     21000,
		Fees:         fees,
		Deadline:     time.Now().Add(3 * time.Minute),
		TokenIn:      quote.TokenIn,
		TokenOut:     quote.TokenOut,
		AmountIn:     quote.AmountIn,
		MinAmountOut: minAmountOut,
	}, nil
}

func (s *StubRouter) Allowance(_ context.Context, owner, token chain.Address) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.allowances[allowanceKey(owner, token)]; ok {
		return a, nil
	}
	// Unlimited by default so executor tests skip the approval leg.
	return decimal.New(1, 30), nil
}

func (s *StubRouter) BuildApprove(_ context.Context, owner, token chain.Address) (*chain.UnsignedSwap, error) {
	return &chain.UnsignedSwap{
		Network: s.net,
		To:      token,
		Payload: []byte(fmt.Sprintf("approve %s by %s", token, owner)),
	}, nil
}

func pairKey(in, out chain.Address) string { return string(in) + "->" + string(out) }

func allowanceKey(owner, token chain.Address) string { return string(owner) + ":" + string(token) }

var (
	_ Router   = (*StubRouter)(nil)
	_ Approver = (*StubRouter)(nil)
)
