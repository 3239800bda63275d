package discovery

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Token Discovery — market snapshot and weighted candidate selection.
// ---------------------------------------------------------------------------

// Row is one token in a market snapshot.
type Row struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Address     chain.Address   `json:"address"`
	Network     string          `json:"network"` // short name, empty if host platform unsupported
	Circulating decimal.Decimal `json:"circulating"`
	Total       decimal.Decimal `json:"total"`
	Volume7d    decimal.Decimal `json:"volume_7d"`
	MarketCap   decimal.Decimal `json:"market_cap"` // by total supply
	PriceUSD    decimal.Decimal `json:"price_usd"`
}

// Snapshot is one listings fetch.
type Snapshot struct {
	Rows      []Row     `json:"rows"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Candidate is a scored pick for one network.
type Candidate struct {
	Row   Row             `json:"row"`
	Score decimal.Decimal `json:"score"`
}

// Weights are the scoring term weights. They sum to 1 by convention but the
// scorer does not enforce it.
type Weights struct {
	Scarcity  decimal.Decimal `yaml:"scarcity"`  // 1 - circulating/total
	Volume    decimal.Decimal `yaml:"volume"`    // volume7d / max volume7d in group
	Valuation decimal.Decimal `yaml:"valuation"` // marketCap / circulating
}

// DefaultWeights returns the standard 0.4/0.3/0.3 split.
func DefaultWeights() Weights {
	return Weights{
		Scarcity:  decimal.NewFromFloat(0.4),
		Volume:    decimal.NewFromFloat(0.3),
		Valuation: decimal.NewFromFloat(0.3),
	}
}

// Filter drops rows before scoring.
type Filter struct {
	MinCirculating decimal.Decimal
	MinTotal       decimal.Decimal
}

// Keep reports whether the row passes the supply bounds.
func (f Filter) Keep(r Row) bool {
	if r.Circulating.LessThan(f.MinCirculating) {
		return false
	}
	if r.Total.LessThan(f.MinTotal) {
		return false
	}
	return true
}
