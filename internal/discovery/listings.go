package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Market listings client (CoinMarketCap-style listings/latest endpoint).
// ---------------------------------------------------------------------------

// Listings produces market snapshots.
type Listings interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// ListingsConfig configures the market-data client.
type ListingsConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Limit       int           `yaml:"limit"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// DefaultListingsConfig returns defaults.
func DefaultListingsConfig() ListingsConfig {
	return ListingsConfig{
		BaseURL:     "https://pro-api.coinmarketcap.com",
		Limit:       200,
		HTTPTimeout: 15 * time.Second,
	}
}

// hostPlatforms maps listing platform names to network short names. Tokens
// on any other platform keep an empty Network and drop out at scoring.
var hostPlatforms = map[string]string{
	"Ethereum":                "ETH",
	"BNB Smart Chain (BEP20)": "BSC",
	"Polygon":                 "POL",
	"Avalanche":               "AVL",
	"Solana":                  "SOL",
}

// MarketClient fetches listings over HTTP.
type MarketClient struct {
	config     ListingsConfig
	httpClient *http.Client
}

// NewMarketClient creates a listings client.
func NewMarketClient(config ListingsConfig) *MarketClient {
	return &MarketClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
	}
}

type listingsResponse struct {
	Data []struct {
		Name              string          `json:"name"`
		Symbol            string          `json:"symbol"`
		CirculatingSupply decimal.Decimal `json:"circulating_supply"`
		TotalSupply       decimal.Decimal `json:"total_supply"`
		Platform          *struct {
			Name         string `json:"name"`
			TokenAddress string `json:"token_address"`
		} `json:"platform"`
		Quote struct {
			USD struct {
				Price     decimal.Decimal `json:"price"`
				Volume7d  decimal.Decimal `json:"volume_7d"`
				MarketCap decimal.Decimal `json:"market_cap"`
			} `json:"USD"`
		} `json:"quote"`
	} `json:"data"`
}

// Snapshot fetches the latest listings page and normalizes it into rows.
func (m *MarketClient) Snapshot(ctx context.Context) (Snapshot, error) {
	reqURL := fmt.Sprintf("%s/v1/cryptocurrency/listings/latest?%s", m.config.BaseURL, url.Values{
		"limit":   []string{fmt.Sprintf("%d", m.config.Limit)},
		"convert": []string{"USD"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("listings: create request: %w", err)
	}
	req.Header.Set("X-CMC_PRO_API_KEY", m.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("listings: %w: %v", chain.ErrConnectivity, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("listings: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("listings: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var lr listingsResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return Snapshot{}, fmt.Errorf("listings: parse response: %w", err)
	}

	snap := Snapshot{FetchedAt: time.Now()}
	for _, d := range lr.Data {
		row := Row{
			Symbol:      d.Symbol,
			Name:        d.Name,
			Circulating: d.CirculatingSupply,
			Total:       d.TotalSupply,
			Volume7d:    d.Quote.USD.Volume7d,
			MarketCap:   d.Quote.USD.MarketCap,
			PriceUSD:    d.Quote.USD.Price,
		}
		if row.MarketCap.IsZero() && d.TotalSupply.IsPositive() {
			row.MarketCap = d.Quote.USD.Price.Mul(d.TotalSupply)
		}
		if d.Platform != nil {
			row.Network = hostPlatforms[d.Platform.Name]
			row.Address = chain.Address(d.Platform.TokenAddress)
		}
		snap.Rows = append(snap.Rows, row)
	}

	log.Debug().Int("rows", len(snap.Rows)).Msg("discovery: snapshot fetched")
	return snap, nil
}

var _ Listings = (*MarketClient)(nil)

// StubListings serves a fixed snapshot.
type StubListings struct {
	mu   sync.Mutex
	snap Snapshot
	err  error
}

// NewStubListings creates a stub serving snap.
func NewStubListings(snap Snapshot) *StubListings {
	return &StubListings{snap: snap}
}

// SetSnapshot replaces the served snapshot.
func (s *StubListings) SetSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// Fail makes Snapshot return err until cleared with nil.
func (s *StubListings) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StubListings) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Snapshot{}, s.err
	}
	return s.snap, nil
}

var _ Listings = (*StubListings)(nil)
