package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/chain/evm"
	"github.com/david-jerry/copytrader-bot/internal/chain/solana"
	"github.com/david-jerry/copytrader-bot/internal/discovery"
	"github.com/david-jerry/copytrader-bot/internal/executor"
	"github.com/david-jerry/copytrader-bot/internal/notify"
	"github.com/david-jerry/copytrader-bot/internal/router"
	"github.com/david-jerry/copytrader-bot/internal/snipe"
	"github.com/david-jerry/copytrader-bot/internal/tokens"
	"github.com/david-jerry/copytrader-bot/internal/watcher"
)

// ---------------------------------------------------------------------------
// Configuration — YAML with ${ENV_VAR} expansion. Durations are plain ints
// with a unit suffix in the field name.
// ---------------------------------------------------------------------------

// Config is the root daemon configuration.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Store     StoreConfig     `yaml:"store"`
	Networks  []chain.Network `yaml:"networks"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Snipe     SnipeConfig     `yaml:"snipe"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Tokens    TokensConfig    `yaml:"tokens"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Jupiter   JupiterConfig   `yaml:"jupiter"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// GeneralConfig covers logging and runtime switches.
type GeneralConfig struct {
	LogLevel  string `yaml:"log_level"`
	PrettyLog bool   `yaml:"pretty_log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // postgres | memory
	DSN    string `yaml:"dsn"`
}

// WatcherConfig is the copy-trade loop tuning.
type WatcherConfig struct {
	PollIntervalS int    `yaml:"poll_interval_s"`
	Mode          string `yaml:"mode"` // all | known_routers
	UseFeed       bool   `yaml:"use_feed"`
}

// SnipeConfig is the snipe loop tuning.
type SnipeConfig struct {
	MonitorIntervalS int `yaml:"monitor_interval_s"`
	CooldownS        int `yaml:"cooldown_s"`
}

// ExecutorConfig is the swap submit tuning.
type ExecutorConfig struct {
	MaxSubmitTries  uint   `yaml:"max_submit_tries"`
	SubmitBackoffMs int    `yaml:"submit_backoff_ms"`
	SwapDeadlineS   int    `yaml:"swap_deadline_s"`
	SwapGasLimit    uint64 `yaml:"swap_gas_limit"`
}

// TokensConfig is the metadata/price resolver tuning.
type TokensConfig struct {
	CoinGeckoURL    string `yaml:"coingecko_url"`
	CoinGeckoAPIKey string `yaml:"coingecko_api_key"`
	CacheTTLS       int    `yaml:"cache_ttl_s"`
}

// DiscoveryConfig is the listings client and scorer tuning.
type DiscoveryConfig struct {
	ListingsURL     string  `yaml:"listings_url"`
	ListingsAPIKey  string  `yaml:"listings_api_key"`
	ListingsLimit   int     `yaml:"listings_limit"`
	WeightScarcity  float64 `yaml:"weight_scarcity"`
	WeightVolume    float64 `yaml:"weight_volume"`
	WeightValuation float64 `yaml:"weight_valuation"`
}

// JupiterConfig is the Solana aggregator tuning.
type JupiterConfig struct {
	QuoteURL    string `yaml:"quote_url"`
	SwapURL     string `yaml:"swap_url"`
	SlippageBps int    `yaml:"slippage_bps"`
}

// NotifyConfig selects the notification sink.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	BotName    string `yaml:"bot_name"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		General:  GeneralConfig{LogLevel: "info"},
		Store:    StoreConfig{Driver: "memory"},
		Networks: chain.DefaultNetworks(),
		Watcher:  WatcherConfig{PollIntervalS: 10, Mode: string(watcher.ModeKnownRouters)},
		Snipe:    SnipeConfig{MonitorIntervalS: 300, CooldownS: 180},
		Executor: ExecutorConfig{
			MaxSubmitTries:  3,
			SubmitBackoffMs: 500,
			SwapDeadlineS:   180,
			SwapGasLimit:    350_000,
		},
		Tokens: TokensConfig{
			CoinGeckoURL: tokens.DefaultCoinGeckoConfig().BaseURL,
			CacheTTLS:    300,
		},
		Discovery: DiscoveryConfig{
			ListingsURL:     discovery.DefaultListingsConfig().BaseURL,
			ListingsLimit:   200,
			WeightScarcity:  0.4,
			WeightVolume:    0.3,
			WeightValuation: 0.3,
		},
		Jupiter: JupiterConfig{
			QuoteURL:    router.DefaultJupiterConfig().QuoteURL,
			SwapURL:     router.DefaultJupiterConfig().SwapURL,
			SlippageBps: 50,
		},
		Notify: NotifyConfig{BotName: "copytrader"},
	}
}

// Load reads the YAML file, expands ${ENV_VAR} references and overlays it
// on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects impossible settings.
func (c Config) Validate() error {
	if c.Store.Driver != "memory" && c.Store.Driver != "postgres" {
		return fmt.Errorf("%w: store driver %q", chain.ErrValidation, c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("%w: postgres driver needs a dsn", chain.ErrValidation)
	}
	if len(c.Networks) == 0 {
		return fmt.Errorf("%w: no networks configured", chain.ErrValidation)
	}
	if c.Watcher.PollIntervalS <= 0 {
		return fmt.Errorf("%w: watcher poll interval %d", chain.ErrValidation, c.Watcher.PollIntervalS)
	}
	if m := watcher.Mode(c.Watcher.Mode); m != watcher.ModeAll && m != watcher.ModeKnownRouters {
		return fmt.Errorf("%w: watcher mode %q", chain.ErrValidation, c.Watcher.Mode)
	}
	if c.Snipe.MonitorIntervalS <= 0 || c.Snipe.CooldownS <= 0 {
		return fmt.Errorf("%w: snipe intervals must be positive", chain.ErrValidation)
	}
	return nil
}

// --- component config builders ---

func (c Config) WatcherConfig() watcher.Config {
	return watcher.Config{
		PollInterval: time.Duration(c.Watcher.PollIntervalS) * time.Second,
		Mode:         watcher.Mode(c.Watcher.Mode),
		UseFeed:      c.Watcher.UseFeed,
	}
}

func (c Config) SnipeConfig() snipe.Config {
	return snipe.Config{
		MonitorInterval: time.Duration(c.Snipe.MonitorIntervalS) * time.Second,
		Cooldown:        time.Duration(c.Snipe.CooldownS) * time.Second,
	}
}

func (c Config) ExecutorConfig() executor.Config {
	return executor.Config{
		MaxSubmitTries: c.Executor.MaxSubmitTries,
		SubmitBackoff:  time.Duration(c.Executor.SubmitBackoffMs) * time.Millisecond,
	}
}

func (c Config) EVMConfig() evm.Config { return evm.DefaultConfig() }

func (c Config) SolanaConfig() solana.Config { return solana.DefaultConfig() }

func (c Config) UniswapConfig() router.UniswapConfig {
	uc := router.DefaultUniswapConfig()
	uc.SwapDeadline = time.Duration(c.Executor.SwapDeadlineS) * time.Second
	uc.SwapGasLimit = c.Executor.SwapGasLimit
	return uc
}

func (c Config) JupiterRouterConfig() router.JupiterConfig {
	jc := router.DefaultJupiterConfig()
	if c.Jupiter.QuoteURL != "" {
		jc.QuoteURL = c.Jupiter.QuoteURL
	}
	if c.Jupiter.SwapURL != "" {
		jc.SwapURL = c.Jupiter.SwapURL
	}
	if c.Jupiter.SlippageBps > 0 {
		jc.SlippageBps = c.Jupiter.SlippageBps
	}
	return jc
}

func (c Config) CoinGeckoConfig() tokens.CoinGeckoConfig {
	cg := tokens.DefaultCoinGeckoConfig()
	if c.Tokens.CoinGeckoURL != "" {
		cg.BaseURL = c.Tokens.CoinGeckoURL
	}
	cg.APIKey = c.Tokens.CoinGeckoAPIKey
	return cg
}

func (c Config) TokenCacheTTL() time.Duration {
	return time.Duration(c.Tokens.CacheTTLS) * time.Second
}

func (c Config) ListingsConfig() discovery.ListingsConfig {
	lc := discovery.DefaultListingsConfig()
	if c.Discovery.ListingsURL != "" {
		lc.BaseURL = c.Discovery.ListingsURL
	}
	lc.APIKey = c.Discovery.ListingsAPIKey
	if c.Discovery.ListingsLimit > 0 {
		lc.Limit = c.Discovery.ListingsLimit
	}
	return lc
}

func (c Config) Weights() discovery.Weights {
	return discovery.Weights{
		Scarcity:  decimal.NewFromFloat(c.Discovery.WeightScarcity),
		Volume:    decimal.NewFromFloat(c.Discovery.WeightVolume),
		Valuation: decimal.NewFromFloat(c.Discovery.WeightValuation),
	}
}

func (c Config) WebhookConfig() notify.WebhookConfig {
	wc := notify.DefaultWebhookConfig()
	wc.URL = c.Notify.WebhookURL
	if c.Notify.BotName != "" {
		wc.BotName = c.Notify.BotName
	}
	return wc
}
