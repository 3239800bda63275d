package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/chain/evm"
	"github.com/david-jerry/copytrader-bot/internal/discovery"
	"github.com/david-jerry/copytrader-bot/internal/executor"
	"github.com/david-jerry/copytrader-bot/internal/notify"
	"github.com/david-jerry/copytrader-bot/internal/observability"
	"github.com/david-jerry/copytrader-bot/internal/router"
	"github.com/david-jerry/copytrader-bot/internal/snipe"
	"github.com/david-jerry/copytrader-bot/internal/store"
	"github.com/david-jerry/copytrader-bot/internal/tokens"
	"github.com/david-jerry/copytrader-bot/internal/wallet"
	"github.com/david-jerry/copytrader-bot/internal/watcher"
)

const (
	signerAddr = chain.Address("0x1111111111111111111111111111111111111111")
	targetAddr = "0x9999999999999999999999999999999999999999"
)

func testNetworks() []chain.Network {
	return []chain.Network{
		{
			Short:          "ETH",
			Name:           "Ethereum",
			ChainID:        1,
			FeeModel:       chain.FeeDynamic,
			WrappedNative:  "0x2222222222222222222222222222222222222222",
			NativeSymbol:   "ETH",
			NativeDecimals: 18,
		},
		{
			Short:          "SOL",
			Name:           "Solana",
			FeeModel:       chain.FeePriority,
			WrappedNative:  "So11111111111111111111111111111111111111112",
			NativeSymbol:   "SOL",
			NativeDecimals: 9,
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *store.Memory) {
	t.Helper()

	networks := testNetworks()
	registry, err := chain.NewRegistry(networks)
	require.NoError(t, err)

	gateways := make(map[string]chain.Gateway)
	routers := make(map[string]router.Router)
	for _, n := range networks {
		gateways[n.Short] = chain.NewStubGateway(n)
		routers[n.Short] = router.NewStubRouter(n)
	}

	resolver := tokens.NewStubResolver()
	st := store.NewMemory()
	exec := executor.New(executor.DefaultConfig(), gateways, routers, resolver)
	listings := discovery.NewStubListings(discovery.Snapshot{})
	scorer := discovery.NewScorer(discovery.DefaultWeights())

	factory := func(network chain.Network, secret string) (wallet.Signer, error) {
		return wallet.StubSigner{Addr: signerAddr}, nil
	}

	watcherConfig := watcher.Config{PollInterval: 10 * time.Millisecond, Mode: watcher.ModeAll}
	snipeConfig := snipe.Config{MonitorInterval: 10 * time.Millisecond, Cooldown: 10 * time.Millisecond}

	return NewManager(registry, gateways, exec, st, notify.NewCapture(), listings, scorer,
		resolver, factory, watcherConfig, snipeConfig), st
}

func TestManager_StartCopyTrade_PersistsTaskAndRuns(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	id, err := m.StartCopyTrade(ctx, CopyTradeRequest{
		UserID:        "u1",
		Network:       "ETH",
		WatcherSecret: "secret",
		TargetAddress: targetAddr,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, m.Running())

	task, err := st.Task(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", task.UserID)
	assert.Equal(t, "ETH", task.Network)
	assert.Equal(t, signerAddr, task.WatcherAddress)
	assert.Equal(t, store.TaskActive, task.Status)

	require.NoError(t, m.Stop(id))
	assert.Equal(t, 0, m.Running())

	// The deferred status update lands once the loop winds down.
	require.Eventually(t, func() bool {
		task, err := st.Task(ctx, id)
		return err == nil && task.Status == store.TaskStopped
	}, time.Second, 5*time.Millisecond)
}

func TestManager_StartCopyTrade_UnknownNetwork(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.StartCopyTrade(context.Background(), CopyTradeRequest{
		UserID:        "u1",
		Network:       "FTM",
		TargetAddress: targetAddr,
	})
	assert.ErrorIs(t, err, chain.ErrValidation)
	assert.Equal(t, 0, m.Running())
}

func TestManager_StartCopyTrade_BadAddress(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.StartCopyTrade(context.Background(), CopyTradeRequest{
		UserID:        "u1",
		Network:       "ETH",
		TargetAddress: "not-an-address",
	})
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestManager_StartSnipe_RunsUntilStopped(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.StartSnipe(context.Background(), SnipeRequest{
		UserID:       "u1",
		Network:      "ETH",
		WalletSecret: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Running())

	require.NoError(t, m.Stop(id))
	assert.Equal(t, 0, m.Running())
}

func TestManager_StartSnipe_BadFundingToken(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.StartSnipe(context.Background(), SnipeRequest{
		UserID:       "u1",
		Network:      "ETH",
		FundingToken: "garbage",
	})
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestManager_Stop_UnknownJob(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Stop("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_StopAll(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.StartSnipe(ctx, SnipeRequest{UserID: "u1", Network: "ETH"})
	require.NoError(t, err)
	_, err = m.StartSnipe(ctx, SnipeRequest{UserID: "u2", Network: "ETH"})
	require.NoError(t, err)
	require.Equal(t, 2, m.Running())

	m.StopAll()
	assert.Equal(t, 0, m.Running())
}

func TestManager_MetricsTrackJobLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	metrics := observability.NewRegistry()
	m.SetMetrics(metrics)

	id, err := m.StartSnipe(context.Background(), SnipeRequest{UserID: "u1", Network: "ETH"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.Counter("jobs_started_total", map[string]string{"kind": "snipe"}).Value())
	assert.Equal(t, 1.0, metrics.Gauge("jobs_running", nil).Value())

	require.NoError(t, m.Stop(id))
	assert.Equal(t, int64(1), metrics.Counter("jobs_stopped_total", map[string]string{"kind": "snipe"}).Value())
	assert.Equal(t, 0.0, metrics.Gauge("jobs_running", nil).Value())
}

func TestValidateAddress(t *testing.T) {
	ethNet := chain.Network{Short: "ETH", FeeModel: chain.FeeDynamic}
	solNet := chain.Network{Short: "SOL", FeeModel: chain.FeePriority}

	assert.NoError(t, validateAddress(ethNet, targetAddr))
	assert.Error(t, validateAddress(ethNet, "0xshort"))
	assert.Error(t, validateAddress(ethNet, "So11111111111111111111111111111111111111112"))

	assert.NoError(t, validateAddress(solNet, "So11111111111111111111111111111111111111112"))
	assert.Error(t, validateAddress(solNet, "0x9999999999999999999999999999999999999999"))
}

func TestDefaultSignerFactory_RejectsBadSecrets(t *testing.T) {
	ethNet := chain.Network{Short: "ETH", FeeModel: chain.FeeDynamic}
	solNet := chain.Network{Short: "SOL", FeeModel: chain.FeePriority}

	_, err := DefaultSignerFactory(ethNet, "not-a-key")
	assert.Error(t, err)
	_, err = DefaultSignerFactory(solNet, "not-a-key")
	assert.Error(t, err)
}

func TestBridgeFeed_CoalescesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan evm.ActivityEvent, 8)
	hints := bridgeFeed(ctx, events)

	for i := 0; i < 5; i++ {
		events <- evm.ActivityEvent{TxHash: "0x1", Block: uint64(i)}
	}

	// Many events collapse into one pending hint.
	select {
	case <-hints:
	case <-time.After(time.Second):
		t.Fatal("expected a hint")
	}

	// The hints channel stays open after the feed ends so a select on it
	// blocks instead of spinning.
	close(events)
	select {
	case _, ok := <-hints:
		if !ok {
			t.Fatal("hints channel must not close")
		}
	case <-time.After(20 * time.Millisecond):
	}
}
