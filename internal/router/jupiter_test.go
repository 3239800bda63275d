package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

const (
	solMint  = chain.Address("So11111111111111111111111111111111111111112")
	usdcMint = chain.Address("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

func solNetwork() chain.Network {
	return chain.Network{
		Short:          "SOL",
		Name:           "Solana",
		FeeModel:       chain.FeePriority,
		WrappedNative:  solMint,
		NativeSymbol:   "SOL",
		NativeDecimals: 9,
	}
}

// fakeSolanaChain answers mint decimals without a node: 6 for the USDC
// mint, 9 otherwise.
type fakeSolanaChain struct {
	*chain.StubGateway
}

func (f fakeSolanaChain) MintDecimals(_ context.Context, mint chain.Address) (int, error) {
	if mint == usdcMint {
		return 6, nil
	}
	return 9, nil
}

// newJupiterFixture serves a canned quote and captures the query the
// client sent.
func newJupiterFixture(t *testing.T) (*Jupiter, *url.Values) {
	t.Helper()

	var captured url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"inputMint": "` + string(solMint) + `",
			"outputMint": "` + string(usdcMint) + `",
			"inAmount": "1000000000",
			"outAmount": "2000000000",
			"priceImpactPct": "0.01"
		}`))
	}))
	t.Cleanup(srv.Close)

	config := DefaultJupiterConfig()
	config.QuoteURL = srv.URL

	j, err := NewJupiter(config, fakeSolanaChain{chain.NewStubGateway(solNetwork())})
	require.NoError(t, err)
	return j, &captured
}

func TestJupiter_Quote_UsesCallerSlippage(t *testing.T) {
	j, captured := newJupiterFixture(t)

	quote, err := j.Quote(context.Background(), solMint, usdcMint, decimal.NewFromInt(1),
		decimal.RequireFromString("0.0075"))
	require.NoError(t, err)

	// The per-user tolerance reaches the aggregator, not the daemon default.
	assert.Equal(t, "75", captured.Get("slippageBps"))
	assert.Equal(t, string(solMint), captured.Get("inputMint"))
	assert.Equal(t, "1000000000", captured.Get("amount"))
	// 2000000000 base units at 6 decimals.
	assert.True(t, quote.AmountOut.Equal(decimal.NewFromInt(2000)), "got %s", quote.AmountOut)
	assert.NotEmpty(t, quote.Raw)
}

func TestJupiter_Quote_FallsBackToConfigSlippage(t *testing.T) {
	j, captured := newJupiterFixture(t)

	_, err := j.Quote(context.Background(), solMint, usdcMint, decimal.NewFromInt(1), decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, "50", captured.Get("slippageBps"))
}

func TestJupiter_Quote_RejectsNonPositiveAmount(t *testing.T) {
	j, _ := newJupiterFixture(t)

	_, err := j.Quote(context.Background(), solMint, usdcMint, decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestNewJupiter_RejectsEVMNetwork(t *testing.T) {
	evm := chain.NewStubGateway(chain.Network{Short: "ETH", FeeModel: chain.FeeDynamic})
	_, err := NewJupiter(DefaultJupiterConfig(), fakeSolanaChain{evm})
	assert.ErrorIs(t, err, chain.ErrValidation)
}
