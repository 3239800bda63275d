package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/chain/evm"
	"github.com/david-jerry/copytrader-bot/internal/discovery"
	"github.com/david-jerry/copytrader-bot/internal/executor"
	"github.com/david-jerry/copytrader-bot/internal/notify"
	"github.com/david-jerry/copytrader-bot/internal/observability"
	"github.com/david-jerry/copytrader-bot/internal/snipe"
	"github.com/david-jerry/copytrader-bot/internal/store"
	"github.com/david-jerry/copytrader-bot/internal/tokens"
	"github.com/david-jerry/copytrader-bot/internal/wallet"
	"github.com/david-jerry/copytrader-bot/internal/watcher"
)

// ---------------------------------------------------------------------------
// Job Manager — one goroutine per delegated trading job, each with its own
// cancellable context. Jobs share no mutable state except the store.
// ---------------------------------------------------------------------------

// SignerFactory builds a signer from a chain-family secret. The secret is an
// opaque capability: used for the construction call and never stored.
type SignerFactory func(network chain.Network, secret string) (wallet.Signer, error)

// DefaultSignerFactory selects the signer by chain family.
func DefaultSignerFactory(network chain.Network, secret string) (wallet.Signer, error) {
	if network.IsEVM() {
		return wallet.NewEVMSigner(secret)
	}
	return wallet.NewSolanaSigner(secret)
}

// CopyTradeRequest starts a mirror job.
type CopyTradeRequest struct {
	UserID        string
	Network       string // short name
	WatcherSecret string
	TargetAddress chain.Address
}

// SnipeRequest starts a snipe job.
type SnipeRequest struct {
	UserID       string
	Network      string // short name
	WalletSecret string
	FundingToken chain.Address // optional; empty selects wrapped native
}

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
	kind   string
}

// Manager owns the running jobs.
type Manager struct {
	registry      *chain.Registry
	gateways      map[string]chain.Gateway
	exec          *executor.Executor
	st            store.Store
	notifier      notify.Notifier
	listings      discovery.Listings
	scorer        *discovery.Scorer
	resolver      tokens.Resolver
	signerFactory SignerFactory
	watcherConfig watcher.Config
	snipeConfig   snipe.Config
	metrics       *observability.Registry

	mu   sync.Mutex
	jobs map[string]*runningJob
}

// NewManager wires a manager. A nil signerFactory falls back to the default.
func NewManager(registry *chain.Registry, gateways map[string]chain.Gateway, exec *executor.Executor,
	st store.Store, notifier notify.Notifier, listings discovery.Listings, scorer *discovery.Scorer,
	resolver tokens.Resolver, signerFactory SignerFactory,
	watcherConfig watcher.Config, snipeConfig snipe.Config) *Manager {
	if signerFactory == nil {
		signerFactory = DefaultSignerFactory
	}
	return &Manager{
		registry:      registry,
		gateways:      gateways,
		exec:          exec,
		st:            st,
		notifier:      notifier,
		listings:      listings,
		scorer:        scorer,
		resolver:      resolver,
		signerFactory: signerFactory,
		watcherConfig: watcherConfig,
		snipeConfig:   snipeConfig,
		jobs:          make(map[string]*runningJob),
	}
}

// SetMetrics wires a registry for job lifecycle counters.
func (m *Manager) SetMetrics(reg *observability.Registry) { m.metrics = reg }

// StartCopyTrade validates the request, persists the task record and spawns
// the watcher loop. Returns the task id.
func (m *Manager) StartCopyTrade(ctx context.Context, req CopyTradeRequest) (string, error) {
	network, err := m.registry.Lookup(req.Network)
	if err != nil {
		return "", err
	}
	if err := validateAddress(network, req.TargetAddress); err != nil {
		return "", err
	}
	gw, ok := m.gateways[network.Short]
	if !ok {
		return "", fmt.Errorf("%w: network %s has no gateway", chain.ErrValidation, network.Short)
	}
	signer, err := m.signerFactory(network, req.WatcherSecret)
	if err != nil {
		return "", err
	}
	preset, err := m.st.PresetOrDefault(ctx, req.UserID, network.Short)
	if err != nil {
		return "", fmt.Errorf("load preset: %w", err)
	}

	task := store.CopyTradeTask{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Network:        network.Short,
		WatcherAddress: signer.Address(),
		TargetAddress:  req.TargetAddress,
		Status:         store.TaskActive,
	}
	if err := m.st.CreateTask(ctx, &task); err != nil {
		return "", fmt.Errorf("persist task: %w", err)
	}

	job := watcher.New(m.watcherConfig, task, network, gw, m.exec, signer, m.st, m.notifier, preset)
	m.spawn(task.ID, "copytrade", func(jobCtx context.Context) error {
		defer func() {
			if err := m.st.SetTaskStatus(context.Background(), task.ID, store.TaskStopped); err != nil {
				log.Error().Err(err).Str("task_id", task.ID).Msg("job: mark task stopped")
			}
		}()
		if m.watcherConfig.UseFeed && network.IsEVM() && network.WSEndpoint != "" {
			feedConfig := evm.DefaultFeedConfig()
			feedConfig.WSEndpoint = network.WSEndpoint
			feed := evm.NewActivityFeed(feedConfig, req.TargetAddress)
			job.SetHints(bridgeFeed(jobCtx, feed.Start(jobCtx)))
		}
		return job.Run(jobCtx)
	})
	return task.ID, nil
}

// StartSnipe validates the request and spawns the snipe loop. Returns the
// job id. Positions are the durable record; the job itself is in-memory.
func (m *Manager) StartSnipe(_ context.Context, req SnipeRequest) (string, error) {
	network, err := m.registry.Lookup(req.Network)
	if err != nil {
		return "", err
	}
	if req.FundingToken != "" {
		if err := validateAddress(network, req.FundingToken); err != nil {
			return "", err
		}
	}
	gw, ok := m.gateways[network.Short]
	if !ok {
		return "", fmt.Errorf("%w: network %s has no gateway", chain.ErrValidation, network.Short)
	}
	signer, err := m.signerFactory(network, req.WalletSecret)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	job := snipe.New(m.snipeConfig, req.UserID, network, req.FundingToken, gw, m.exec, signer,
		m.st, m.notifier, m.listings, m.scorer, m.resolver)
	m.spawn(id, "snipe", job.Run)
	return id, nil
}

// Stop cancels a job and waits for it to wind down. In-flight swaps finish;
// the loop observes cancellation at the next cycle top.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: job %s", store.ErrNotFound, id)
	}
	j.cancel()
	<-j.done
	return nil
}

// StopAll cancels every job and waits.
func (m *Manager) StopAll() {
	m.mu.Lock()
	jobs := make([]*runningJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
	for _, j := range jobs {
		<-j.done
	}
}

// Running returns the number of live jobs.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *Manager) spawn(id, kind string, run func(context.Context) error) {
	jobCtx, cancel := context.WithCancel(context.Background())
	j := &runningJob{cancel: cancel, done: make(chan struct{}), kind: kind}

	m.mu.Lock()
	m.jobs[id] = j
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Counter("jobs_started_total", map[string]string{"kind": kind}).Inc()
		m.metrics.Gauge("jobs_running", nil).Add(1)
	}

	log.Info().Str("job_id", id).Str("kind", kind).Msg("job: started")
	go func() {
		defer close(j.done)
		defer func() {
			m.mu.Lock()
			delete(m.jobs, id)
			m.mu.Unlock()
			if m.metrics != nil {
				m.metrics.Counter("jobs_stopped_total", map[string]string{"kind": kind}).Inc()
				m.metrics.Gauge("jobs_running", nil).Add(-1)
			}
		}()
		if err := run(jobCtx); err != nil && jobCtx.Err() == nil {
			log.Error().Err(err).Str("job_id", id).Str("kind", kind).Msg("job: exited with error")
		}
	}()
}

// bridgeFeed collapses activity events into poll hints. A hint already
// pending means the next cycle covers this event too, so drops are fine.
// The hints channel is never closed: the watcher treats it as an optional
// extra wakeup and keeps polling on its ticker either way.
func bridgeFeed(ctx context.Context, events <-chan evm.ActivityEvent) <-chan struct{} {
	hints := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				log.Debug().Str("tx", string(ev.TxHash)).Uint64("block", ev.Block).Msg("job: feed hint")
				select {
				case hints <- struct{}{}:
				default:
				}
			}
		}
	}()
	return hints
}

// validateAddress checks address shape for the network's chain family.
func validateAddress(network chain.Network, addr chain.Address) error {
	if network.IsEVM() {
		if !common.IsHexAddress(string(addr)) {
			return fmt.Errorf("%w: %q is not a valid %s address", chain.ErrValidation, addr, network.Short)
		}
		return nil
	}
	if _, err := solanago.PublicKeyFromBase58(string(addr)); err != nil {
		return fmt.Errorf("%w: %q is not a valid %s address", chain.ErrValidation, addr, network.Short)
	}
	return nil
}
