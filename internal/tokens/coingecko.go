package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// CoinGecko contract-metadata resolver.
// https://docs.coingecko.com/reference/coins-contract-address
// ---------------------------------------------------------------------------

// CoinGeckoConfig configures the resolver.
type CoinGeckoConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// DefaultCoinGeckoConfig returns defaults.
func DefaultCoinGeckoConfig() CoinGeckoConfig {
	return CoinGeckoConfig{
		BaseURL:     "https://api.coingecko.com/api/v3",
		HTTPTimeout: 10 * time.Second,
	}
}

// platform maps network short names to CoinGecko asset platform ids.
var platform = map[string]string{
	"ETH": "ethereum",
	"BSC": "binance-smart-chain",
	"POL": "polygon-pos",
	"AVL": "avalanche",
	"SOL": "solana",
}

// CoinGecko resolves metadata through the contract endpoint.
type CoinGecko struct {
	config     CoinGeckoConfig
	httpClient *http.Client
}

// NewCoinGecko creates a resolver.
func NewCoinGecko(config CoinGeckoConfig) *CoinGecko {
	return &CoinGecko{
		config:     config,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
	}
}

type contractResponse struct {
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	DetailPlatforms map[string]struct {
		DecimalPlace    int    `json:"decimal_place"`
		ContractAddress string `json:"contract_address"`
	} `json:"detail_platforms"`
	MarketData struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

// Metadata fetches symbol, name, decimals and USD price for a contract.
func (c *CoinGecko) Metadata(ctx context.Context, network chain.Network, token chain.Address) (*Metadata, error) {
	plat, ok := platform[network.Short]
	if !ok {
		return nil, fmt.Errorf("%w: no asset platform for network %s", chain.ErrValidation, network.Short)
	}

	reqURL := fmt.Sprintf("%s/coins/%s/contract/%s", c.config.BaseURL, plat, strings.ToLower(string(token)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coingecko: create request: %w", err)
	}
	if c.config.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko: %w: %v", chain.ErrConnectivity, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coingecko: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("coingecko: %w: token %s on %s", chain.ErrNotFound, token, network.Short)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var cr contractResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("coingecko: parse response: %w", err)
	}

	meta := &Metadata{
		Network:  network.Short,
		Address:  token,
		Symbol:   strings.ToUpper(cr.Symbol),
		Name:     cr.Name,
		PriceUSD: decimal.NewFromFloat(cr.MarketData.CurrentPrice["usd"]),
	}
	if dp, ok := cr.DetailPlatforms[plat]; ok {
		meta.Decimals = dp.DecimalPlace
	}

	log.Debug().
		Str("network", network.Short).
		Str("token", string(token)).
		Str("symbol", meta.Symbol).
		Str("price_usd", meta.PriceUSD.String()).
		Msg("tokens: metadata resolved")

	return meta, nil
}

// PriceUSD fetches only the USD price.
func (c *CoinGecko) PriceUSD(ctx context.Context, network chain.Network, token chain.Address) (decimal.Decimal, error) {
	meta, err := c.Metadata(ctx, network, token)
	if err != nil {
		return decimal.Zero, err
	}
	return meta.PriceUSD, nil
}

var _ Resolver = (*CoinGecko)(nil)
