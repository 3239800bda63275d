package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/router"
	"github.com/david-jerry/copytrader-bot/internal/tokens"
	"github.com/david-jerry/copytrader-bot/internal/wallet"
)

const (
	senderAddr = chain.Address("0x1111111111111111111111111111111111111111")
	wethAddr   = chain.Address("0x2222222222222222222222222222222222222222")
	memeAddr   = chain.Address("0x3333333333333333333333333333333333333333")
)

func testNetwork() chain.Network {
	return chain.Network{
		Short:            "ETH",
		Name:             "Ethereum",
		ChainID:          1,
		FeeModel:         chain.FeeDynamic,
		RouterAddress:    "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		WrappedNative:    wethAddr,
		NativeSymbol:     "ETH",
		NativeDecimals:   18,
		ExplorerTxPrefix: "https://etherscan.io/tx/",
	}
}

type fixture struct {
	exec     *Executor
	gw       *chain.StubGateway
	rt       *router.StubRouter
	resolver *tokens.StubResolver
	network  chain.Network
	signer   wallet.StubSigner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	network := testNetwork()
	gw := chain.NewStubGateway(network)
	rt := router.NewStubRouter(network)

	resolver := tokens.NewStubResolver()
	resolver.Seed(tokens.Metadata{Network: "ETH", Address: wethAddr, Symbol: "WETH", Decimals: 18, PriceUSD: decimal.NewFromInt(2000)})
	resolver.Seed(tokens.Metadata{Network: "ETH", Address: memeAddr, Symbol: "MEME", Decimals: 18, PriceUSD: decimal.NewFromInt(1)})

	config := DefaultConfig()
	config.SubmitBackoff = time.Millisecond

	return &fixture{
		exec:     New(config, map[string]chain.Gateway{"ETH": gw}, map[string]router.Router{"ETH": rt}, resolver),
		gw:       gw,
		rt:       rt,
		resolver: resolver,
		network:  network,
		signer:   wallet.StubSigner{Addr: senderAddr},
	}
}

func (f *fixture) request(amount, slippage float64) Request {
	return Request{
		UserID:   "u1",
		Network:  f.network,
		Signer:   f.signer,
		TokenIn:  wethAddr,
		TokenOut: memeAddr,
		AmountIn: decimal.NewFromFloat(amount),
		Slippage: decimal.NewFromFloat(slippage),
	}
}

func TestExecutor_Execute_Success(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(senderAddr, wethAddr, decimal.NewFromInt(10))
	f.rt.SetRate(wethAddr, memeAddr, decimal.NewFromInt(2000))

	result, err := f.exec.Execute(context.Background(), f.request(5, 0.005))
	require.NoError(t, err)

	assert.True(t, result.AmountIn.Equal(decimal.NewFromInt(5)))
	assert.True(t, result.QuotedOut.Equal(decimal.NewFromInt(10_000)))
	// minOut = quoted * (1 - 0.005)
	assert.True(t, result.MinAmountOut.Equal(decimal.NewFromInt(9_950)), "got %s", result.MinAmountOut)
	assert.Equal(t, "WETH", result.SymbolIn)
	assert.Equal(t, "MEME", result.SymbolOut)
	assert.NotEmpty(t, result.TxHash)
	assert.Contains(t, result.ExplorerURL, string(result.TxHash))
	assert.Len(t, f.gw.Submitted(), 1)
}

func TestExecutor_Execute_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(senderAddr, wethAddr, decimal.NewFromInt(1))

	_, err := f.exec.Execute(context.Background(), f.request(5, 0.005))
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrInsufficientBalance)
	assert.Empty(t, f.gw.Submitted())
}

func TestExecutor_Execute_NonPositiveAmount(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec.Execute(context.Background(), f.request(0, 0.005))
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestExecutor_Execute_UnknownNetwork(t *testing.T) {
	f := newFixture(t)
	req := f.request(1, 0)
	req.Network = chain.Network{Short: "XXX"}

	_, err := f.exec.Execute(context.Background(), req)
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestExecutor_Execute_UnknownTokenMetadata(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(senderAddr, wethAddr, decimal.NewFromInt(10))
	req := f.request(1, 0)
	req.TokenOut = "0x4444444444444444444444444444444444444444"

	_, err := f.exec.Execute(context.Background(), req)
	assert.ErrorIs(t, err, chain.ErrNotFound)
}

func TestExecutor_Submit_RetriesConnectivityThenSucceeds(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(senderAddr, wethAddr, decimal.NewFromInt(10))
	f.gw.FailSubmits(2)

	result, err := f.exec.Execute(context.Background(), f.request(1, 0.005))
	require.NoError(t, err)
	assert.NotEmpty(t, result.TxHash)
	assert.Len(t, f.gw.Submitted(), 1)
}

func TestExecutor_Submit_ExhaustionBecomesExecutionUnavailable(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(senderAddr, wethAddr, decimal.NewFromInt(10))
	f.gw.FailSubmits(10)

	_, err := f.exec.Execute(context.Background(), f.request(1, 0.005))
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrExecutionUnavailable)
	assert.Empty(t, f.gw.Submitted())
}

func TestExecutor_Execute_RevertIsSwapFailedWithoutRetry(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(senderAddr, wethAddr, decimal.NewFromInt(10))
	f.gw.RevertNextSubmit()

	_, err := f.exec.Execute(context.Background(), f.request(1, 0.005))
	require.Error(t, err)

	var swapFailed *chain.SwapFailedError
	require.True(t, errors.As(err, &swapFailed))
	assert.NotEmpty(t, swapFailed.TxHash)
	// The reverted transaction was submitted exactly once.
	assert.Len(t, f.gw.Submitted(), 1)
}

func TestExecutor_Execute_ApprovesWhenAllowanceShort(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(senderAddr, wethAddr, decimal.NewFromInt(10))
	f.rt.SetAllowance(senderAddr, wethAddr, decimal.Zero)

	result, err := f.exec.Execute(context.Background(), f.request(5, 0.005))
	require.NoError(t, err)
	assert.NotEmpty(t, result.TxHash)
	// Approval first, then the swap.
	assert.Len(t, f.gw.Submitted(), 2)
}

func TestExecutor_Execute_SkipsApprovalWhenAllowanceCovers(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(senderAddr, wethAddr, decimal.NewFromInt(10))
	f.rt.SetAllowance(senderAddr, wethAddr, decimal.NewFromInt(100))

	_, err := f.exec.Execute(context.Background(), f.request(5, 0.005))
	require.NoError(t, err)
	assert.Len(t, f.gw.Submitted(), 1)
}

func TestExecutor_Execute_QuoteFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(senderAddr, wethAddr, decimal.NewFromInt(10))
	f.rt.FailQuotes(chain.ErrConnectivity)

	_, err := f.exec.Execute(context.Background(), f.request(1, 0.005))
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrConnectivity)
	assert.Empty(t, f.gw.Submitted())
}
