package wallet

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// SolanaSigner signs pre-assembled Solana transactions with an ed25519 key.
type SolanaSigner struct {
	key     solanago.PrivateKey
	address chain.Address
}

// NewSolanaSigner parses a base58-encoded private key.
func NewSolanaSigner(base58Key string) (*SolanaSigner, error) {
	key, err := solanago.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", chain.ErrValidation, err)
	}
	return &SolanaSigner{key: key, address: chain.Address(key.PublicKey().String())}, nil
}

// Address returns the signing account.
func (s *SolanaSigner) Address() chain.Address { return s.address }

// Sign decodes the serialized unsigned transaction from Payload, signs it
// and returns the wire bytes. Fee parameters are already baked into the
// transaction by the aggregator, so Fees is informational here.
func (s *SolanaSigner) Sign(swap *chain.UnsignedSwap) (chain.RawTx, error) {
	if swap.Network.IsEVM() {
		return nil, fmt.Errorf("%w: network %s on Solana signer", chain.ErrValidation, swap.Network.Short)
	}
	if len(swap.Payload) == 0 {
		return nil, fmt.Errorf("%w: swap carries no transaction payload", chain.ErrValidation)
	}

	tx, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(swap.Payload))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	_, err = tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return raw, nil
}

var _ Signer = (*SolanaSigner)(nil)
