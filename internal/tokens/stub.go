package tokens

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// StubResolver serves seeded metadata, for tests and stub mode.
type StubResolver struct {
	mu    sync.Mutex
	metas map[string]*Metadata
}

// NewStubResolver creates an empty stub resolver.
func NewStubResolver() *StubResolver {
	return &StubResolver{metas: make(map[string]*Metadata)}
}

// Seed registers metadata for a token.
func (s *StubResolver) Seed(meta Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[stubKey(meta.Network, meta.Address)] = &meta
}

// SetPrice updates only the price of a seeded token.
func (s *StubResolver) SetPrice(network string, token chain.Address, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.metas[stubKey(network, token)]; ok {
		m.PriceUSD = price
	}
}

func (s *StubResolver) Metadata(_ context.Context, network chain.Network, token chain.Address) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metas[stubKey(network.Short, token)]
	if !ok {
		return nil, fmt.Errorf("%w: token %s on %s", chain.ErrNotFound, token, network.Short)
	}
	cp := *m
	return &cp, nil
}

func (s *StubResolver) PriceUSD(ctx context.Context, network chain.Network, token chain.Address) (decimal.Decimal, error) {
	m, err := s.Metadata(ctx, network, token)
	if err != nil {
		return decimal.Zero, err
	}
	return m.PriceUSD, nil
}

func stubKey(network string, token chain.Address) string {
	return network + ":" + strings.ToLower(string(token))
}

var _ Resolver = (*StubResolver)(nil)
