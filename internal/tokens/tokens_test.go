package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

type countingResolver struct {
	inner *StubResolver
	calls int
}

func (c *countingResolver) Metadata(ctx context.Context, network chain.Network, token chain.Address) (*Metadata, error) {
	c.calls++
	return c.inner.Metadata(ctx, network, token)
}

func (c *countingResolver) PriceUSD(ctx context.Context, network chain.Network, token chain.Address) (decimal.Decimal, error) {
	m, err := c.Metadata(ctx, network, token)
	if err != nil {
		return decimal.Zero, err
	}
	return m.PriceUSD, nil
}

func TestCached_ServesFromCacheWithinTTL(t *testing.T) {
	network := chain.Network{Short: "ETH"}
	inner := NewStubResolver()
	inner.Seed(Metadata{Network: "ETH", Address: "0xToken", Symbol: "TST", Decimals: 18, PriceUSD: decimal.NewFromInt(5)})
	counting := &countingResolver{inner: inner}

	now := time.Now()
	cached := NewCached(counting, time.Minute)
	cached.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		m, err := cached.Metadata(context.Background(), network, "0xToken")
		require.NoError(t, err)
		assert.Equal(t, "TST", m.Symbol)
	}
	assert.Equal(t, 1, counting.calls)
}

func TestCached_RefetchesAfterTTL(t *testing.T) {
	network := chain.Network{Short: "ETH"}
	inner := NewStubResolver()
	inner.Seed(Metadata{Network: "ETH", Address: "0xToken", Symbol: "TST", Decimals: 18, PriceUSD: decimal.NewFromInt(5)})
	counting := &countingResolver{inner: inner}

	now := time.Now()
	cached := NewCached(counting, time.Minute)
	cached.now = func() time.Time { return now }

	_, err := cached.Metadata(context.Background(), network, "0xToken")
	require.NoError(t, err)

	// Price moves while the entry ages out.
	inner.SetPrice("ETH", "0xToken", decimal.NewFromInt(9))
	now = now.Add(2 * time.Minute)

	price, err := cached.PriceUSD(context.Background(), network, "0xToken")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(9)))
	assert.Equal(t, 2, counting.calls)
}

func TestCached_KeyIsCaseInsensitive(t *testing.T) {
	network := chain.Network{Short: "ETH"}
	inner := NewStubResolver()
	inner.Seed(Metadata{Network: "ETH", Address: "0xABCDEF", Symbol: "TST", Decimals: 18})
	counting := &countingResolver{inner: inner}

	cached := NewCached(counting, time.Minute)

	_, err := cached.Metadata(context.Background(), network, "0xABCDEF")
	require.NoError(t, err)
	_, err = cached.Metadata(context.Background(), network, "0xabcdef")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	network := chain.Network{Short: "ETH"}
	inner := NewStubResolver()
	counting := &countingResolver{inner: inner}
	cached := NewCached(counting, time.Minute)

	_, err := cached.Metadata(context.Background(), network, "0xMissing")
	assert.ErrorIs(t, err, chain.ErrNotFound)

	inner.Seed(Metadata{Network: "ETH", Address: "0xMissing", Symbol: "NOW", Decimals: 18})
	m, err := cached.Metadata(context.Background(), network, "0xMissing")
	require.NoError(t, err)
	assert.Equal(t, "NOW", m.Symbol)
}

func TestStubResolver_ReturnsCopies(t *testing.T) {
	network := chain.Network{Short: "ETH"}
	s := NewStubResolver()
	s.Seed(Metadata{Network: "ETH", Address: "0xToken", Symbol: "TST", PriceUSD: decimal.NewFromInt(1)})

	m, err := s.Metadata(context.Background(), network, "0xToken")
	require.NoError(t, err)
	m.Symbol = "MUTATED"

	again, err := s.Metadata(context.Background(), network, "0xToken")
	require.NoError(t, err)
	assert.Equal(t, "TST", again.Symbol)
}
