package solana

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Solana Gateway
// ---------------------------------------------------------------------------

const lamportsPerSOL = 1_000_000_000

// Config tunes confirmation polling and scan behavior.
type Config struct {
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval"`
	ReceiptTimeout      time.Duration `yaml:"receipt_timeout"`
	SignatureScanLimit  int           `yaml:"signature_scan_limit"`
}

// DefaultConfig returns defaults.
func DefaultConfig() Config {
	return Config{
		ReceiptPollInterval: time.Second,
		ReceiptTimeout:      2 * time.Minute,
		SignatureScanLimit:  50,
	}
}

// Gateway implements chain.Gateway over a Solana JSON-RPC node.
type Gateway struct {
	config Config
	net    chain.Network
	client *rpc.Client

	mu       sync.RWMutex
	decimals map[chain.Address]int
}

// New creates a gateway for the given Solana network variant.
func New(config Config, network chain.Network) (*Gateway, error) {
	if network.IsEVM() {
		return nil, fmt.Errorf("%w: network %s is not a Solana variant", chain.ErrValidation, network.Short)
	}
	if network.RPCEndpoint == "" {
		return nil, fmt.Errorf("%w: network %s has no rpc endpoint", chain.ErrValidation, network.Short)
	}
	return &Gateway{
		config:   config,
		net:      network,
		client:   rpc.New(network.RPCEndpoint),
		decimals: make(map[chain.Address]int),
	}, nil
}

// Network returns the served network variant.
func (g *Gateway) Network() chain.Network { return g.net }

// Balance returns the SOL balance in whole units.
func (g *Gateway) Balance(ctx context.Context, addr chain.Address) (decimal.Decimal, error) {
	pub, err := solana.PublicKeyFromBase58(string(addr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad address %s: %v", chain.ErrValidation, addr, err)
	}
	out, err := g.client.GetBalance(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		return decimal.Zero, classify("get balance", err)
	}
	return decimal.New(int64(out.Value), 0).Shift(-9), nil
}

// TokenBalance returns an SPL token balance through the owner's associated
// token account. A missing account reads as zero.
func (g *Gateway) TokenBalance(ctx context.Context, addr, token chain.Address) (decimal.Decimal, error) {
	owner, err := solana.PublicKeyFromBase58(string(addr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad address %s: %v", chain.ErrValidation, addr, err)
	}
	mint, err := solana.PublicKeyFromBase58(string(token))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad mint %s: %v", chain.ErrValidation, token, err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("derive token account: %w", err)
	}

	out, err := g.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if isAccountMissing(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, classify("get token balance", err)
	}
	amount, err := decimal.NewFromString(out.Value.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse token amount %q: %w", out.Value.Amount, err)
	}
	return amount.Shift(-int32(out.Value.Decimals)), nil
}

// Transaction looks up a confirmed transaction by signature.
func (g *Gateway) Transaction(ctx context.Context, hash chain.TxHash) (*chain.Transaction, error) {
	sig, err := solana.SignatureFromBase58(string(hash))
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature %s: %v", chain.ErrValidation, hash, err)
	}
	res, err := g.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, classify("get transaction", err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: transaction %s", chain.ErrNotFound, hash)
	}

	tx := &chain.Transaction{Hash: hash, BlockNumber: res.Slot}
	if decoded, derr := res.Transaction.GetTransaction(); derr == nil && len(decoded.Message.AccountKeys) > 0 {
		tx.From = chain.Address(decoded.Message.AccountKeys[0].String())
		if len(decoded.Message.AccountKeys) > 1 {
			tx.To = chain.Address(decoded.Message.AccountKeys[1].String())
		}
	}
	return tx, nil
}

// TransactionsFrom lists recent signatures for addr above sinceBlock (a slot).
// Signature listings do not expose counterparties, so entries carry only the
// hash, slot and origin; callers resolve details via Transaction.
func (g *Gateway) TransactionsFrom(ctx context.Context, addr chain.Address, sinceBlock uint64) ([]chain.Transaction, uint64, error) {
	pub, err := solana.PublicKeyFromBase58(string(addr))
	if err != nil {
		return nil, sinceBlock, fmt.Errorf("%w: bad address %s: %v", chain.ErrValidation, addr, err)
	}
	limit := g.config.SignatureScanLimit
	sigs, err := g.client.GetSignaturesForAddressWithOpts(ctx, pub, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, sinceBlock, classify("get signatures", err)
	}

	cursor := sinceBlock
	var out []chain.Transaction
	for _, s := range sigs {
		if s.Slot > cursor {
			cursor = s.Slot
		}
		// A zero cursor only establishes the starting slot; history before
		// the job existed is not replayed.
		if sinceBlock == 0 || s.Slot <= sinceBlock || s.Err != nil {
			continue
		}
		out = append(out, chain.Transaction{
			Hash:        chain.TxHash(s.Signature.String()),
			From:        addr,
			BlockNumber: s.Slot,
		})
	}
	return out, cursor, nil
}

// Submit broadcasts a signed serialized transaction.
func (g *Gateway) Submit(ctx context.Context, raw chain.RawTx) (chain.TxHash, error) {
	sig, err := g.client.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", classify("send transaction", err)
	}
	log.Debug().Str("signature", sig.String()).Msg("solana: transaction submitted")
	return chain.TxHash(sig.String()), nil
}

// WaitReceipt polls signature status until the transaction confirms or the
// receipt deadline passes.
func (g *Gateway) WaitReceipt(ctx context.Context, hash chain.TxHash) (*chain.Receipt, error) {
	sig, err := solana.SignatureFromBase58(string(hash))
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature %s: %v", chain.ErrValidation, hash, err)
	}

	deadline := time.Now().Add(g.config.ReceiptTimeout)
	ticker := time.NewTicker(g.config.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		res, err := g.client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return &chain.Receipt{TxHash: hash, Status: chain.ReceiptFailed, BlockNumber: st.Slot}, nil
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return &chain.Receipt{TxHash: hash, Status: chain.ReceiptSuccess, BlockNumber: st.Slot}, nil
			}
		}
		if err != nil {
			log.Debug().Err(err).Str("signature", string(hash)).Msg("solana: status poll failed")
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: no confirmation for %s after %s", chain.ErrTimeout, hash, g.config.ReceiptTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// EstimateFees samples recent prioritization fees and returns a priority tip.
func (g *Gateway) EstimateFees(ctx context.Context) (*chain.FeeEstimate, error) {
	fees, err := g.client.GetRecentPrioritizationFees(ctx, nil)
	if err != nil {
		return nil, classify("get prioritization fees", err)
	}
	var tip uint64 = 10_000
	for _, f := range fees {
		if f.PrioritizationFee > tip {
			tip = f.PrioritizationFee
		}
	}
	return &chain.FeeEstimate{Model: chain.FeePriority, TipLamports: tip}, nil
}

// MintDecimals resolves and caches a mint's decimal places.
func (g *Gateway) MintDecimals(ctx context.Context, mint chain.Address) (int, error) {
	g.mu.RLock()
	if d, ok := g.decimals[mint]; ok {
		g.mu.RUnlock()
		return d, nil
	}
	g.mu.RUnlock()

	pub, err := solana.PublicKeyFromBase58(string(mint))
	if err != nil {
		return 0, fmt.Errorf("%w: bad mint %s: %v", chain.ErrValidation, mint, err)
	}
	out, err := g.client.GetTokenSupply(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, classify("get token supply", err)
	}
	d := int(out.Value.Decimals)

	g.mu.Lock()
	g.decimals[mint] = d
	g.mu.Unlock()
	return d, nil
}

// LatestBlockhash fetches a recent blockhash for transaction assembly.
func (g *Gateway) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := g.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, classify("get latest blockhash", err)
	}
	return out.Value.Blockhash, nil
}

func isAccountMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "invalid param")
}

func classify(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, chain.ErrConnectivity, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "eof") {
		return fmt.Errorf("%s: %w: %v", op, chain.ErrConnectivity, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ chain.Gateway = (*Gateway)(nil)
