package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// EVMSigner signs account-model transactions with a secp256k1 key.
type EVMSigner struct {
	key     *ecdsa.PrivateKey
	address chain.Address
}

// NewEVMSigner parses a hex private key (with or without 0x prefix).
func NewEVMSigner(hexKey string) (*EVMSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", chain.ErrValidation, err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &EVMSigner{key: key, address: chain.Address(addr.Hex())}, nil
}

// Address returns the signing account.
func (s *EVMSigner) Address() chain.Address { return s.address }

// Sign assembles a legacy or dynamic-fee transaction per the network's fee
// model and returns the RLP-encoded signed bytes.
func (s *EVMSigner) Sign(swap *chain.UnsignedSwap) (chain.RawTx, error) {
	if swap.Fees == nil {
		return nil, fmt.Errorf("%w: swap carries no fee estimate", chain.ErrValidation)
	}
	if !swap.Network.IsEVM() {
		return nil, fmt.Errorf("%w: network %s is not account-model", chain.ErrValidation, swap.Network.Short)
	}

	to := common.HexToAddress(string(swap.To))
	value := chain.ToBaseUnits(swap.Value, swap.Network.NativeDecimals)

	var txData types.TxData
	switch swap.Fees.Model {
	case chain.FeeLegacy:
		txData = &types.LegacyTx{
			Nonce:    swap.Nonce,
			GasPrice: swap.Fees.GasPriceWei.BigInt(),
			Gas:      swap.GasLimit,
			To:       &to,
			Value:    value,
			Data:     swap.Payload,
		}
	case chain.FeeDynamic:
		txData = &types.DynamicFeeTx{
			ChainID:   big.NewInt(swap.Network.ChainID),
			Nonce:     swap.Nonce,
			GasTipCap: swap.Fees.TipWei.BigInt(),
			GasFeeCap: swap.Fees.MaxFeeWei.BigInt(),
			Gas:       swap.GasLimit,
			To:        &to,
			Value:     value,
			Data:      swap.Payload,
		}
	default:
		return nil, fmt.Errorf("%w: fee model %s on EVM signer", chain.ErrValidation, swap.Fees.Model)
	}

	signer := types.LatestSignerForChainID(big.NewInt(swap.Network.ChainID))
	signed, err := types.SignNewTx(s.key, signer, txData)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return raw, nil
}

var _ Signer = (*EVMSigner)(nil)
