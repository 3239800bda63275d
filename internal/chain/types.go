package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Address is a ledger account or token contract/mint address.
type Address string

// TxHash is a transaction hash or signature.
type TxHash string

// RawTx is a signed, submittable transaction blob.
type RawTx []byte

// Transaction is the gateway's normalized view of an on-chain transaction.
type Transaction struct {
	Hash        TxHash          `json:"hash"`
	From        Address         `json:"from"`
	To          Address         `json:"to"`
	Value       decimal.Decimal `json:"value"` // native units
	BlockNumber uint64          `json:"block_number"`
	Input       []byte          `json:"-"`
}

// ReceiptStatus is the terminal state of a confirmed transaction.
type ReceiptStatus string

const (
	ReceiptSuccess ReceiptStatus = "SUCCESS"
	ReceiptFailed  ReceiptStatus = "FAILED"
)

// Receipt is the finality result for a submitted transaction.
type Receipt struct {
	TxHash      TxHash        `json:"tx_hash"`
	Status      ReceiptStatus `json:"status"`
	BlockNumber uint64        `json:"block_number"`
	GasUsed     uint64        `json:"gas_used"`
}

// Succeeded reports whether the transaction took effect.
func (r Receipt) Succeeded() bool { return r.Status == ReceiptSuccess }

// FeeEstimate carries fee parameters in the shape the network expects.
// Only the fields matching the Model are populated.
type FeeEstimate struct {
	Model       FeeModel        `json:"model"`
	GasPriceWei decimal.Decimal `json:"gas_price_wei,omitempty"` // legacy
	BaseFeeWei  decimal.Decimal `json:"base_fee_wei,omitempty"`  // dynamic
	TipWei      decimal.Decimal `json:"tip_wei,omitempty"`       // dynamic
	MaxFeeWei   decimal.Decimal `json:"max_fee_wei,omitempty"`   // dynamic
	TipLamports uint64          `json:"tip_lamports,omitempty"`  // priority (non-EVM)
}

// UnsignedSwap is a router-built, signable swap descriptor. EVM routers
// populate calldata and fee parameters; the non-EVM router carries a fully
// serialized unsigned transaction in Payload.
type UnsignedSwap struct {
	Network      Network
	To           Address         // router contract (EVM only)
	Value        decimal.Decimal // native value attached (usually zero)
	Payload      []byte          // EVM calldata or serialized unsigned tx
	GasLimit     uint64
	Nonce        uint64
	Fees         *FeeEstimate
	Deadline     time.Time
	TokenIn      Address
	TokenOut     Address
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
}

// Gateway is the per-network ledger adapter. All methods can fail with
// ErrConnectivity (node unreachable) or ErrNotFound (no data yet).
type Gateway interface {
	// Network returns the variant this gateway serves.
	Network() Network

	// Balance returns the native-asset balance in whole units.
	Balance(ctx context.Context, addr Address) (decimal.Decimal, error)

	// TokenBalance returns a token balance resolved through the token's
	// own decimals.
	TokenBalance(ctx context.Context, addr, token Address) (decimal.Decimal, error)

	// Transaction looks up a transaction by hash.
	Transaction(ctx context.Context, hash TxHash) (*Transaction, error)

	// TransactionsFrom returns transactions originating from addr after
	// sinceBlock, plus the latest block scanned (the next poll's cursor).
	// A zero sinceBlock means no cursor is established yet: the gateway
	// returns no transactions and a cursor at the current head, so
	// following starts live instead of replaying history.
	TransactionsFrom(ctx context.Context, addr Address, sinceBlock uint64) ([]Transaction, uint64, error)

	// Submit broadcasts a signed transaction.
	Submit(ctx context.Context, raw RawTx) (TxHash, error)

	// WaitReceipt polls at a short fixed interval until the transaction
	// reaches a terminal state or the gateway's receipt deadline passes
	// (ErrTimeout).
	WaitReceipt(ctx context.Context, hash TxHash) (*Receipt, error)

	// EstimateFees returns fee parameters shaped by the network's fee model.
	EstimateFees(ctx context.Context) (*FeeEstimate, error)
}

// ---------------------------------------------------------------------------
// Unit conversion helpers
// ---------------------------------------------------------------------------

// ToBaseUnits converts a whole-unit amount to the asset's smallest unit.
func ToBaseUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromBaseUnits converts a smallest-unit integer to whole units.
func FromBaseUnits(raw *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(int32(-decimals))
}
