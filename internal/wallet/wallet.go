package wallet

import (
	"fmt"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// Signer turns a router-built swap into a submittable signed transaction.
// Implementations are pure: every chain-dependent input (nonce, fees,
// blockhash) is already resolved into the UnsignedSwap.
type Signer interface {
	// Address returns the signing account's address.
	Address() chain.Address

	// Sign serializes and signs the swap for submission.
	Sign(swap *chain.UnsignedSwap) (chain.RawTx, error)
}

// Provider resolves the signer to use for a user on a given network.
type Provider interface {
	Signer(userID string, network chain.Network) (Signer, error)
}

// StaticProvider serves one pre-built signer per network short name,
// shared across users. Suits single-operator deployments.
type StaticProvider struct {
	signers map[string]Signer
}

// NewStaticProvider builds a provider from a short-name keyed signer map.
func NewStaticProvider(signers map[string]Signer) *StaticProvider {
	return &StaticProvider{signers: signers}
}

// Signer returns the configured signer for the network.
func (p *StaticProvider) Signer(_ string, network chain.Network) (Signer, error) {
	s, ok := p.signers[network.Short]
	if !ok {
		return nil, fmt.Errorf("%w: no signing key for network %s", chain.ErrValidation, network.Short)
	}
	return s, nil
}
