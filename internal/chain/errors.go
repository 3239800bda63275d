package chain

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error taxonomy shared by gateways, routers and the swap executor
// ---------------------------------------------------------------------------

var (
	// ErrConnectivity means the node/RPC endpoint could not be reached.
	// Callers may retry with bounded backoff.
	ErrConnectivity = errors.New("chain: node unreachable")

	// ErrNotFound means the hash/address has no data yet. In polling
	// contexts this is "nothing new", not a failure.
	ErrNotFound = errors.New("chain: not found")

	// ErrTimeout means a receipt wait exceeded its deadline.
	ErrTimeout = errors.New("chain: receipt wait timed out")

	// ErrInsufficientBalance aborts a single operation; it is never retried.
	ErrInsufficientBalance = errors.New("chain: insufficient balance")

	// ErrExecutionUnavailable means the submit retry budget was exhausted
	// without the transaction ever reaching the network.
	ErrExecutionUnavailable = errors.New("chain: execution unavailable")

	// ErrValidation rejects bad addresses/amounts before they reach the engine.
	ErrValidation = errors.New("chain: validation failed")
)

// SwapFailedError is returned when a submitted swap reverted on-chain.
// It carries the transaction hash for audit; a revert is never retried
// automatically since it usually means quote staleness or a slippage breach.
type SwapFailedError struct {
	TxHash TxHash
}

func (e *SwapFailedError) Error() string {
	return fmt.Sprintf("chain: swap reverted on-chain (tx %s)", e.TxHash)
}
