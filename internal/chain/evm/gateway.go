package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// EVM Chain Gateway — balances, tx filtering, submission and finality for
// account-based chains over go-ethereum's ethclient.
// ---------------------------------------------------------------------------

// Config configures an EVM gateway.
type Config struct {
	// ReceiptPollInterval is the fixed interval between receipt polls.
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval"`

	// ReceiptTimeout bounds a receipt wait. Zero means the 2 minute default.
	ReceiptTimeout time.Duration `yaml:"receipt_timeout"`

	// MaxBlocksPerScan caps how many blocks one TransactionsFrom call walks.
	MaxBlocksPerScan uint64 `yaml:"max_blocks_per_scan"`
}

// DefaultConfig returns mainnet-safe defaults.
func DefaultConfig() Config {
	return Config{
		ReceiptPollInterval: time.Second,
		ReceiptTimeout:      2 * time.Minute,
		MaxBlocksPerScan:    50,
	}
}

// Gateway implements chain.Gateway for one EVM network.
type Gateway struct {
	net    chain.Network
	config Config
	ec     *ethclient.Client
	erc20  abi.ABI

	mu       sync.RWMutex
	decimals map[chain.Address]int // token decimals cache
}

// New dials the network's RPC endpoint and returns a gateway.
func New(network chain.Network, config Config) (*Gateway, error) {
	if !network.IsEVM() {
		return nil, fmt.Errorf("%w: %s is not an EVM network", chain.ErrValidation, network.Short)
	}
	if config.ReceiptPollInterval == 0 {
		config.ReceiptPollInterval = time.Second
	}
	if config.ReceiptTimeout == 0 {
		config.ReceiptTimeout = 2 * time.Minute
	}
	if config.MaxBlocksPerScan == 0 {
		config.MaxBlocksPerScan = 50
	}

	ec, err := ethclient.Dial(network.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", chain.ErrConnectivity, network.Short, err)
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}

	return &Gateway{
		net:      network,
		config:   config,
		ec:       ec,
		erc20:    erc20,
		decimals: make(map[chain.Address]int),
	}, nil
}

// Close releases the underlying RPC connection.
func (g *Gateway) Close() { g.ec.Close() }

func (g *Gateway) Network() chain.Network { return g.net }

// Balance returns the native balance in whole units.
func (g *Gateway) Balance(ctx context.Context, addr chain.Address) (decimal.Decimal, error) {
	wei, err := g.ec.BalanceAt(ctx, common.HexToAddress(string(addr)), nil)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	return chain.FromBaseUnits(wei, g.net.NativeDecimals), nil
}

// TokenBalance returns an ERC20 balance resolved through the token's decimals.
func (g *Gateway) TokenBalance(ctx context.Context, addr, token chain.Address) (decimal.Decimal, error) {
	dec, err := g.TokenDecimals(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	data, err := g.erc20.Pack("balanceOf", common.HexToAddress(string(addr)))
	if err != nil {
		return decimal.Zero, err
	}
	raw, err := g.call(ctx, token, data)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromBaseUnits(new(big.Int).SetBytes(raw), dec), nil
}

// TokenDecimals resolves and caches a token's decimals.
func (g *Gateway) TokenDecimals(ctx context.Context, token chain.Address) (int, error) {
	g.mu.RLock()
	dec, ok := g.decimals[token]
	g.mu.RUnlock()
	if ok {
		return dec, nil
	}

	data, err := g.erc20.Pack("decimals")
	if err != nil {
		return 0, err
	}
	raw, err := g.call(ctx, token, data)
	if err != nil {
		return 0, err
	}
	dec = int(new(big.Int).SetBytes(raw).Int64())

	g.mu.Lock()
	g.decimals[token] = dec
	g.mu.Unlock()
	return dec, nil
}

// Transaction looks up a transaction by hash.
func (g *Gateway) Transaction(ctx context.Context, hash chain.TxHash) (*chain.Transaction, error) {
	tx, pending, err := g.ec.TransactionByHash(ctx, common.HexToHash(string(hash)))
	if err != nil {
		return nil, classify(err)
	}

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(g.net.ChainID)), tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}

	out := &chain.Transaction{
		Hash:  hash,
		From:  chain.Address(from.Hex()),
		Value: chain.FromBaseUnits(tx.Value(), g.net.NativeDecimals),
		Input: tx.Data(),
	}
	if tx.To() != nil {
		out.To = chain.Address(tx.To().Hex())
	}
	if !pending {
		if r, err := g.ec.TransactionReceipt(ctx, tx.Hash()); err == nil {
			out.BlockNumber = r.BlockNumber.Uint64()
		}
	}
	return out, nil
}

// TransactionsFrom walks blocks after sinceBlock and returns transactions
// whose sender is addr. The scan is capped at MaxBlocksPerScan blocks per
// call; the returned cursor is the last block actually scanned. A zero
// sinceBlock establishes the cursor at the current head without scanning,
// so a fresh watcher follows live activity instead of replaying the chain.
func (g *Gateway) TransactionsFrom(ctx context.Context, addr chain.Address, sinceBlock uint64) ([]chain.Transaction, uint64, error) {
	head, err := g.ec.BlockNumber(ctx)
	if err != nil {
		return nil, sinceBlock, classify(err)
	}
	if sinceBlock == 0 {
		return nil, head, nil
	}
	if head <= sinceBlock {
		return nil, sinceBlock, nil
	}

	to := head
	if to-sinceBlock > g.config.MaxBlocksPerScan {
		to = sinceBlock + g.config.MaxBlocksPerScan
	}

	sender := common.HexToAddress(string(addr))
	signer := types.LatestSignerForChainID(big.NewInt(g.net.ChainID))

	var out []chain.Transaction
	for n := sinceBlock + 1; n <= to; n++ {
		block, err := g.ec.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			// Return what we have; the cursor stays before the failed block.
			return out, n - 1, classify(err)
		}
		for _, tx := range block.Transactions() {
			from, err := types.Sender(signer, tx)
			if err != nil || from != sender {
				continue
			}
			item := chain.Transaction{
				Hash:        chain.TxHash(tx.Hash().Hex()),
				From:        addr,
				Value:       chain.FromBaseUnits(tx.Value(), g.net.NativeDecimals),
				BlockNumber: n,
				Input:       tx.Data(),
			}
			if tx.To() != nil {
				item.To = chain.Address(tx.To().Hex())
			}
			out = append(out, item)
		}
	}
	return out, to, nil
}

// Submit broadcasts a signed transaction.
func (g *Gateway) Submit(ctx context.Context, raw chain.RawTx) (chain.TxHash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("%w: decode signed tx: %v", chain.ErrValidation, err)
	}
	if err := g.ec.SendTransaction(ctx, tx); err != nil {
		return "", classify(err)
	}
	hash := chain.TxHash(tx.Hash().Hex())
	log.Debug().Str("network", g.net.Short).Str("tx", string(hash)).Msg("evm: transaction submitted")
	return hash, nil
}

// WaitReceipt polls every ReceiptPollInterval until the transaction reaches a
// terminal state or ReceiptTimeout passes.
func (g *Gateway) WaitReceipt(ctx context.Context, hash chain.TxHash) (*chain.Receipt, error) {
	deadline := time.Now().Add(g.config.ReceiptTimeout)
	ticker := time.NewTicker(g.config.ReceiptPollInterval)
	defer ticker.Stop()

	h := common.HexToHash(string(hash))
	for {
		r, err := g.ec.TransactionReceipt(ctx, h)
		if err == nil {
			status := chain.ReceiptFailed
			if r.Status == types.ReceiptStatusSuccessful {
				status = chain.ReceiptSuccess
			}
			return &chain.Receipt{
				TxHash:      hash,
				Status:      status,
				BlockNumber: r.BlockNumber.Uint64(),
				GasUsed:     r.GasUsed,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, classify(err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: tx %s after %s", chain.ErrTimeout, hash, g.config.ReceiptTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// EstimateFees returns fee parameters shaped by the network's fee model.
func (g *Gateway) EstimateFees(ctx context.Context) (*chain.FeeEstimate, error) {
	switch g.net.FeeModel {
	case chain.FeeLegacy:
		price, err := g.ec.SuggestGasPrice(ctx)
		if err != nil {
			return nil, classify(err)
		}
		return &chain.FeeEstimate{
			Model:       chain.FeeLegacy,
			GasPriceWei: decimal.NewFromBigInt(price, 0),
		}, nil
	default:
		header, err := g.ec.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, classify(err)
		}
		tip, err := g.ec.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, classify(err)
		}
		base := decimal.NewFromBigInt(header.BaseFee, 0)
		tipDec := decimal.NewFromBigInt(tip, 0)
		return &chain.FeeEstimate{
			Model:      chain.FeeDynamic,
			BaseFeeWei: base,
			TipWei:     tipDec,
			MaxFeeWei:  base.Mul(decimal.NewFromInt(2)).Add(tipDec),
		}, nil
	}
}

// PendingNonce returns the next nonce for an address.
func (g *Gateway) PendingNonce(ctx context.Context, addr chain.Address) (uint64, error) {
	n, err := g.ec.PendingNonceAt(ctx, common.HexToAddress(string(addr)))
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// Call performs a read-only eth_call against a contract.
func (g *Gateway) call(ctx context.Context, to chain.Address, data []byte) ([]byte, error) {
	target := common.HexToAddress(string(to))
	out, err := g.ec.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// CallContract exposes eth_call for router quote reads.
func (g *Gateway) CallContract(ctx context.Context, to chain.Address, data []byte) ([]byte, error) {
	return g.call(ctx, to, data)
}

// classify maps transport errors onto the shared taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: %v", chain.ErrNotFound, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", chain.ErrConnectivity, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "EOF") || strings.Contains(msg, "i/o timeout") {
		return fmt.Errorf("%w: %v", chain.ErrConnectivity, err)
	}
	return err
}

// Minimal ERC20 ABI — only the methods the gateway calls.
const erc20ABI = `[
	{
		"name": "balanceOf",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "_owner", "type": "address"}],
		"outputs": [{"name": "balance", "type": "uint256"}]
	},
	{
		"name": "decimals",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint8"}]
	}
]`
