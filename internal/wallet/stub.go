package wallet

import (
	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// StubSigner returns the payload as the signed bytes, for tests and stub mode.
type StubSigner struct {
	Addr chain.Address
	Err  error // returned by Sign when set
}

func (s StubSigner) Address() chain.Address { return s.Addr }

func (s StubSigner) Sign(swap *chain.UnsignedSwap) (chain.RawTx, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return chain.RawTx(swap.Payload), nil
}

var _ Signer = StubSigner{}
