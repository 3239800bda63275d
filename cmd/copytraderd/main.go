package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/chain/evm"
	"github.com/david-jerry/copytrader-bot/internal/chain/solana"
	"github.com/david-jerry/copytrader-bot/internal/config"
	"github.com/david-jerry/copytrader-bot/internal/discovery"
	"github.com/david-jerry/copytrader-bot/internal/executor"
	"github.com/david-jerry/copytrader-bot/internal/job"
	"github.com/david-jerry/copytrader-bot/internal/notify"
	"github.com/david-jerry/copytrader-bot/internal/observability"
	"github.com/david-jerry/copytrader-bot/internal/router"
	"github.com/david-jerry/copytrader-bot/internal/store"
	"github.com/david-jerry/copytrader-bot/internal/tokens"
	"github.com/david-jerry/copytrader-bot/internal/wallet"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use in-memory stubs (no chain or market connections)")
	listenAddr := flag.String("listen", ":8085", "Control API listen address")
	flag.Parse()

	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	setupLogging(cfg.General)

	log.Info().
		Bool("stub_mode", *stubMode).
		Str("store", cfg.Store.Driver).
		Int("networks", len(cfg.Networks)).
		Msg("copytraderd starting")

	registry, err := chain.NewRegistry(cfg.Networks)
	if err != nil {
		log.Fatal().Err(err).Msg("Network registry construction failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := buildStore(ctx, cfg, *stubMode)

	gateways, routers := buildChains(cfg, registry, *stubMode)

	var resolver tokens.Resolver
	var listings discovery.Listings
	var signerFactory job.SignerFactory
	if *stubMode {
		stubResolver := tokens.NewStubResolver()
		seedStubMarket(registry, stubResolver, gateways)
		resolver = stubResolver
		listings = discovery.NewStubListings(stubSnapshot())
		signerFactory = func(network chain.Network, secret string) (wallet.Signer, error) {
			return wallet.StubSigner{Addr: chain.Address("0x" + strings.Repeat("a", 40))}, nil
		}
	} else {
		resolver = tokens.NewCached(tokens.NewCoinGecko(cfg.CoinGeckoConfig()), cfg.TokenCacheTTL())
		listings = discovery.NewMarketClient(cfg.ListingsConfig())
	}

	scorer := discovery.NewScorer(cfg.Weights())
	exec := executor.New(cfg.ExecutorConfig(), gateways, routers, resolver)

	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookConfig())
	}

	manager := job.NewManager(registry, gateways, exec, st, notifier, listings, scorer,
		resolver, signerFactory, cfg.WatcherConfig(), cfg.SnipeConfig())

	metrics := observability.NewRegistry()
	manager.SetMetrics(metrics)
	health := observability.NewHealth(5 * time.Second)
	for short, gw := range gateways {
		health.Register("gateway."+short, func(ctx context.Context) error {
			_, err := gw.EstimateFees(ctx)
			return err
		})
	}

	server := &http.Server{
		Addr:    *listenAddr,
		Handler: controlAPI(manager, metrics, health),
	}
	go func() {
		log.Info().Str("addr", *listenAddr).Msg("control API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control API failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	manager.StopAll()
	cancel()
	log.Info().Msg("copytraderd stopped")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.PrettyLog {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "copytraderd").Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "copytraderd").Logger()
	}
}

func buildStore(ctx context.Context, cfg config.Config, stubMode bool) store.Store {
	if stubMode || cfg.Store.Driver == "memory" {
		log.Info().Msg("store: in-memory")
		return store.NewMemory()
	}
	pg, err := store.NewPostgres(ctx, cfg.Store.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Postgres store construction failed")
	}
	return pg
}

// buildChains constructs a gateway and router per configured network.
// Networks whose endpoints are not configured are skipped with a warning so
// a partial deployment still serves the chains it can reach.
func buildChains(cfg config.Config, registry *chain.Registry, stubMode bool) (map[string]chain.Gateway, map[string]router.Router) {
	gateways := make(map[string]chain.Gateway)
	routers := make(map[string]router.Router)

	for _, network := range registry.All() {
		if stubMode {
			gateways[network.Short] = chain.NewStubGateway(network)
			routers[network.Short] = router.NewStubRouter(network)
			continue
		}
		if network.RPCEndpoint == "" || strings.Contains(network.RPCEndpoint, "${") {
			log.Warn().Str("network", network.Short).Msg("no RPC endpoint configured, skipping network")
			continue
		}

		if network.IsEVM() {
			gw, err := evm.New(network, cfg.EVMConfig())
			if err != nil {
				log.Fatal().Err(err).Str("network", network.Short).Msg("EVM gateway construction failed")
			}
			rt, err := router.NewUniswap(cfg.UniswapConfig(), gw)
			if err != nil {
				log.Fatal().Err(err).Str("network", network.Short).Msg("Uniswap router construction failed")
			}
			gateways[network.Short] = gw
			routers[network.Short] = rt
		} else {
			gw, err := solana.New(cfg.SolanaConfig(), network)
			if err != nil {
				log.Fatal().Err(err).Str("network", network.Short).Msg("Solana gateway construction failed")
			}
			rt, err := router.NewJupiter(cfg.JupiterRouterConfig(), gw)
			if err != nil {
				log.Fatal().Err(err).Str("network", network.Short).Msg("Jupiter router construction failed")
			}
			gateways[network.Short] = gw
			routers[network.Short] = rt
		}
		log.Info().Str("network", network.Short).Msg("network online")
	}
	return gateways, routers
}

// --- control API ---

type startCopyTradeBody struct {
	UserID        string `json:"user_id"`
	Network       string `json:"network"`
	WatcherSecret string `json:"watcher_secret"`
	TargetAddress string `json:"target_address"`
}

type startSnipeBody struct {
	UserID       string `json:"user_id"`
	Network      string `json:"network"`
	WalletSecret string `json:"wallet_secret"`
	FundingToken string `json:"funding_token,omitempty"`
}

func controlAPI(manager *job.Manager, metrics *observability.Registry, health *observability.Health) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		report := health.Check(r.Context())
		status := http.StatusOK
		if report.Status == observability.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Export())
	})

	mux.HandleFunc("GET /jobs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"running": manager.Running()})
	})

	mux.HandleFunc("POST /copytrade", func(w http.ResponseWriter, r *http.Request) {
		var body startCopyTradeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		id, err := manager.StartCopyTrade(r.Context(), job.CopyTradeRequest{
			UserID:        body.UserID,
			Network:       body.Network,
			WatcherSecret: body.WatcherSecret,
			TargetAddress: chain.Address(body.TargetAddress),
		})
		if err != nil {
			writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"task_id": id})
	})

	mux.HandleFunc("POST /snipe", func(w http.ResponseWriter, r *http.Request) {
		var body startSnipeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		id, err := manager.StartSnipe(r.Context(), job.SnipeRequest{
			UserID:       body.UserID,
			Network:      body.Network,
			WalletSecret: body.WalletSecret,
			FundingToken: chain.Address(body.FundingToken),
		})
		if err != nil {
			writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"task_id": id})
	})

	mux.HandleFunc("DELETE /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := manager.Stop(r.PathValue("id")); err != nil {
			writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	})

	return mux
}

// statusFor maps the error taxonomy onto HTTP statuses through the wrapped
// sentinels, so message wording never changes a response code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, chain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chain.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- stub market seeding ---

// seedStubMarket gives stub mode a small tradable world per network.
func seedStubMarket(registry *chain.Registry, resolver *tokens.StubResolver, gateways map[string]chain.Gateway) {
	stubAddr := chain.Address("0x" + strings.Repeat("a", 40))
	for _, network := range registry.All() {
		resolver.Seed(tokens.Metadata{
			Network:  network.Short,
			Address:  network.WrappedNative,
			Symbol:   "W" + network.NativeSymbol,
			Name:     "Wrapped " + network.NativeSymbol,
			Decimals: network.NativeDecimals,
			PriceUSD: decimal.NewFromInt(2000),
		})
		resolver.Seed(tokens.Metadata{
			Network:  network.Short,
			Address:  stubToken(network.Short),
			Symbol:   "STB",
			Name:     "Stub Token",
			Decimals: 18,
			PriceUSD: decimal.NewFromInt(1),
		})
		if gw, ok := gateways[network.Short].(*chain.StubGateway); ok {
			gw.SetTokenBalance(stubAddr, network.WrappedNative, decimal.NewFromInt(10))
		}
	}
}

func stubToken(network string) chain.Address {
	return chain.Address("0x" + strings.Repeat("b", 36) + fmt.Sprintf("%04x", len(network)))
}

func stubSnapshot() discovery.Snapshot {
	rows := []discovery.Row{
		{
			Symbol: "STB", Name: "Stub Token", Address: stubToken("ETH"), Network: "ETH",
			Circulating: decimal.NewFromInt(1_000_000), Total: decimal.NewFromInt(10_000_000),
			Volume7d: decimal.NewFromInt(5_000_000), MarketCap: decimal.NewFromInt(10_000_000),
			PriceUSD: decimal.NewFromInt(1),
		},
	}
	return discovery.Snapshot{Rows: rows, FetchedAt: time.Now()}
}
