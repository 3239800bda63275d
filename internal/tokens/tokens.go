package tokens

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Token metadata and pricing.
// ---------------------------------------------------------------------------

// Metadata describes a token contract or mint.
type Metadata struct {
	Network  string          `json:"network"`
	Address  chain.Address   `json:"address"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Decimals int             `json:"decimals"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}

// Resolver looks up token metadata and USD prices.
type Resolver interface {
	// Metadata resolves symbol, name and price for a token on a network.
	Metadata(ctx context.Context, network chain.Network, token chain.Address) (*Metadata, error)

	// PriceUSD resolves the current USD price for a token.
	PriceUSD(ctx context.Context, network chain.Network, token chain.Address) (decimal.Decimal, error)
}

// ---------------------------------------------------------------------------
// TTL cache wrapper
// ---------------------------------------------------------------------------

type cacheEntry struct {
	meta    *Metadata
	fetched time.Time
}

// Cached wraps a Resolver with a per-token TTL cache. Prices age out with
// the metadata entry.
type Cached struct {
	inner Resolver
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry

	now func() time.Time
}

// NewCached wraps resolver with a TTL cache.
func NewCached(inner Resolver, ttl time.Duration) *Cached {
	return &Cached{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *Cached) Metadata(ctx context.Context, network chain.Network, token chain.Address) (*Metadata, error) {
	key := network.Short + ":" + strings.ToLower(string(token))

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.fetched) < c.ttl {
		c.mu.Unlock()
		cp := *e.meta
		return &cp, nil
	}
	c.mu.Unlock()

	meta, err := c.inner.Metadata(ctx, network, token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{meta: meta, fetched: c.now()}
	c.mu.Unlock()

	cp := *meta
	return &cp, nil
}

func (c *Cached) PriceUSD(ctx context.Context, network chain.Network, token chain.Address) (decimal.Decimal, error) {
	meta, err := c.Metadata(ctx, network, token)
	if err != nil {
		return decimal.Zero, err
	}
	return meta.PriceUSD, nil
}

var _ Resolver = (*Cached)(nil)
