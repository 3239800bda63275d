package snipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/discovery"
	"github.com/david-jerry/copytrader-bot/internal/executor"
	"github.com/david-jerry/copytrader-bot/internal/notify"
	"github.com/david-jerry/copytrader-bot/internal/router"
	"github.com/david-jerry/copytrader-bot/internal/store"
	"github.com/david-jerry/copytrader-bot/internal/tokens"
	"github.com/david-jerry/copytrader-bot/internal/wallet"
)

const (
	walletAddr = chain.Address("0x1111111111111111111111111111111111111111")
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

func memeRow() discovery.Row {
	return discovery.Row{
		Symbol:      "MEME",
		Name:        "Meme Token",
		Address:     memeAddr,
		Network:     "ETH",
		Circulating: decimal.NewFromInt(1_000_000),
		Total:       decimal.NewFromInt(10_000_000),
		Volume7d:    decimal.NewFromInt(500_000),
		MarketCap:   decimal.NewFromInt(2_000_000),
		PriceUSD:    decimal.NewFromInt(2),
	}
}

type fixture struct {
	job      *Job
	gw       *chain.StubGateway
	rt       *router.StubRouter
	st       *store.Memory
	notifier *notify.Capture
	resolver *tokens.StubResolver
	listings *discovery.StubListings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	network := testNetwork()

	gw := chain.NewStubGateway(network)
	rt := router.NewStubRouter(network)

	resolver := tokens.NewStubResolver()
	resolver.Seed(tokens.Metadata{Network: "ETH", Address: wethAddr, Symbol: "WETH", Decimals: 18, PriceUSD: decimal.NewFromInt(2000)})
	resolver.Seed(tokens.Metadata{Network: "ETH", Address: memeAddr, Symbol: "MEME", Decimals: 18, PriceUSD: decimal.NewFromInt(2)})

	execConfig := executor.DefaultConfig()
	execConfig.SubmitBackoff = time.Millisecond
	exec := executor.New(execConfig,
		map[string]chain.Gateway{"ETH": gw},
		map[string]router.Router{"ETH": rt},
		resolver)

	st := store.NewMemory()
	notifier := notify.NewCapture()
	listings := discovery.NewStubListings(discovery.Snapshot{
		Rows:      []discovery.Row{memeRow()},
		FetchedAt: time.Now(),
	})

	config := Config{MonitorInterval: 5 * time.Millisecond, Cooldown: 5 * time.Millisecond}
	job := New(config, "u1", network, "", gw, exec, wallet.StubSigner{Addr: walletAddr},
		st, notifier, listings, discovery.NewScorer(discovery.DefaultWeights()), resolver)

	return &fixture{job: job, gw: gw, rt: rt, st: st, notifier: notifier, resolver: resolver, listings: listings}
}

func findMessage(msgs []notify.Message, title string) *notify.Message {
	for i := range msgs {
		if msgs[i].Title == title {
			return &msgs[i]
		}
	}
	return nil
}

func TestSnipe_Enter_OpensPosition(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(walletAddr, wethAddr, decimal.NewFromInt(100))

	pos, err := f.job.enter(context.Background())
	require.NoError(t, err)

	// 5% of the 100 WETH funding balance at the stub 1:1 rate.
	assert.True(t, pos.AmountToken.Equal(decimal.NewFromInt(5)), "got %s", pos.AmountToken)
	assert.Equal(t, memeAddr, pos.TokenAddress)
	assert.Equal(t, "MEME", pos.TokenSymbol)
	assert.True(t, pos.PurchasedPriceUSD.Equal(decimal.NewFromInt(2)))
	// Thresholds are inherited from the preset at creation time.
	assert.True(t, pos.TakeProfitRatio.Equal(decimal.NewFromFloat(0.25)))
	assert.True(t, pos.StopLossRatio.Equal(decimal.NewFromFloat(0.05)))
	assert.Equal(t, store.PositionTrading, pos.Status)
	assert.NotEmpty(t, pos.EntryTxHash)

	stored, err := f.st.Position(context.Background(), "u1", memeAddr)
	require.NoError(t, err)
	assert.False(t, stored.Completed)

	msg := findMessage(f.notifier.Messages(), "Position opened")
	require.NotNil(t, msg)
	assert.Equal(t, notify.SeveritySuccess, msg.Severity)
}

func TestSnipe_Enter_ResumesExistingOpenPosition(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(walletAddr, wethAddr, decimal.NewFromInt(100))

	_, err := f.st.CreatePosition(context.Background(), &store.SnipePosition{
		UserID:            "u1",
		TokenAddress:      memeAddr,
		Network:           "ETH",
		TokenSymbol:       "MEME",
		AmountToken:       decimal.NewFromInt(7),
		PurchasedPriceUSD: decimal.NewFromInt(3),
		Status:            store.PositionTrading,
		EntryTxHash:       "0xprior",
	})
	require.NoError(t, err)

	var entered []store.SnipePosition
	f.job.SetOnEnter(func(p store.SnipePosition) { entered = append(entered, p) })

	pos, err := f.job.enter(context.Background())
	require.NoError(t, err)

	// No new swap: the open position is monitored instead of re-bought.
	assert.Empty(t, f.gw.Submitted())
	assert.Equal(t, chain.TxHash("0xprior"), pos.EntryTxHash)
	assert.True(t, pos.AmountToken.Equal(decimal.NewFromInt(7)))
	require.Len(t, entered, 1)
}

func TestSnipe_Enter_NoCandidate(t *testing.T) {
	f := newFixture(t)
	f.listings.SetSnapshot(discovery.Snapshot{})

	_, err := f.job.enter(context.Background())
	assert.ErrorIs(t, err, errNoCandidate)
}

func TestSnipe_Enter_EmptyFundingBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.job.enter(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrInsufficientBalance)

	msg := findMessage(f.notifier.Messages(), "Snipe skipped")
	require.NotNil(t, msg)
	assert.Equal(t, notify.SeverityWarning, msg.Severity)
}

func TestSnipe_Enter_SnapshotFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.listings.Fail(errors.New("listings down"))

	_, err := f.job.enter(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, errNoCandidate)
}

func TestSnipe_Exit_TakeProfitClosesPosition(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(walletAddr, wethAddr, decimal.NewFromInt(100))

	pos, err := f.job.enter(context.Background())
	require.NoError(t, err)
	f.gw.SetTokenBalance(walletAddr, memeAddr, pos.AmountToken)

	var exited []store.SnipePosition
	f.job.SetOnExit(func(p store.SnipePosition) { exited = append(exited, p) })

	closed, err := f.job.exit(context.Background(), pos, decimal.NewFromFloat(2.6))
	require.NoError(t, err)
	assert.True(t, closed)

	stored, err := f.st.Position(context.Background(), "u1", memeAddr)
	require.NoError(t, err)
	assert.True(t, stored.Completed)
	assert.Equal(t, store.PositionTraded, stored.Status)
	assert.NotEmpty(t, stored.ExitTxHash)

	require.Len(t, exited, 1)
	assert.True(t, exited[0].Completed)

	msg := findMessage(f.notifier.Messages(), "Position closed")
	require.NotNil(t, msg)
	assert.Equal(t, notify.SeveritySuccess, msg.Severity)
}

func TestSnipe_Exit_RevertLeavesPositionOpen(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(walletAddr, wethAddr, decimal.NewFromInt(100))

	pos, err := f.job.enter(context.Background())
	require.NoError(t, err)
	f.gw.SetTokenBalance(walletAddr, memeAddr, pos.AmountToken)
	f.gw.RevertNextSubmit()

	closed, err := f.job.exit(context.Background(), pos, decimal.NewFromFloat(1.8))
	require.Error(t, err)
	assert.False(t, closed)

	var swapFailed *chain.SwapFailedError
	assert.True(t, errors.As(err, &swapFailed))

	stored, err := f.st.Position(context.Background(), "u1", memeAddr)
	require.NoError(t, err)
	assert.False(t, stored.Completed, "a reverted exit must leave the position open for retry")

	msg := findMessage(f.notifier.Messages(), "Exit swap reverted")
	require.NotNil(t, msg)
	assert.Equal(t, notify.SeverityWarning, msg.Severity)
}

func TestSnipe_Exit_NoBalanceClosesWithError(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(walletAddr, wethAddr, decimal.NewFromInt(100))

	pos, err := f.job.enter(context.Background())
	require.NoError(t, err)
	// Held balance stays zero: nothing left to sell.

	closed, err := f.job.exit(context.Background(), pos, decimal.NewFromFloat(2.6))
	require.NoError(t, err)
	assert.True(t, closed)

	stored, err := f.st.Position(context.Background(), "u1", memeAddr)
	require.NoError(t, err)
	assert.True(t, stored.Completed)
	assert.Equal(t, store.PositionError, stored.Status)
}

func TestSnipe_Monitor_ExitsAtTakeProfit(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(walletAddr, wethAddr, decimal.NewFromInt(100))

	pos, err := f.job.enter(context.Background())
	require.NoError(t, err)
	f.gw.SetTokenBalance(walletAddr, memeAddr, pos.AmountToken)

	// Entry $2, take profit at $2.50. Price already beyond it.
	f.resolver.SetPrice("ETH", memeAddr, decimal.NewFromInt(3))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.job.monitor(ctx, pos))

	stored, err := f.st.Position(ctx, "u1", memeAddr)
	require.NoError(t, err)
	assert.True(t, stored.Completed)
	assert.Equal(t, store.PositionTraded, stored.Status)
}

func TestSnipe_Monitor_ExitsAtStopLoss(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(walletAddr, wethAddr, decimal.NewFromInt(100))

	pos, err := f.job.enter(context.Background())
	require.NoError(t, err)
	f.gw.SetTokenBalance(walletAddr, memeAddr, pos.AmountToken)

	// Entry $2, stop loss at $1.90.
	f.resolver.SetPrice("ETH", memeAddr, decimal.NewFromFloat(1.5))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.job.monitor(ctx, pos))

	stored, err := f.st.Position(ctx, "u1", memeAddr)
	require.NoError(t, err)
	assert.True(t, stored.Completed)
}

func TestSnipe_Monitor_HoldsInsideThresholds(t *testing.T) {
	f := newFixture(t)
	f.gw.SetTokenBalance(walletAddr, wethAddr, decimal.NewFromInt(100))

	pos, err := f.job.enter(context.Background())
	require.NoError(t, err)

	// $2.10 sits between the $1.90 stop and the $2.50 target.
	f.resolver.SetPrice("ETH", memeAddr, decimal.NewFromFloat(2.1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = f.job.monitor(ctx, pos)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stored, err := f.st.Position(context.Background(), "u1", memeAddr)
	require.NoError(t, err)
	assert.False(t, stored.Completed)
}

func TestSnipe_Funding_DefaultsToWrappedNative(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, wethAddr, f.job.funding())

	f.job.fundingToken = "0x4444444444444444444444444444444444444444"
	assert.Equal(t, chain.Address("0x4444444444444444444444444444444444444444"), f.job.funding())
}

func TestSnipe_Run_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.listings.SetSnapshot(discovery.Snapshot{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.job.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("snipe loop did not stop after cancel")
	}
}
