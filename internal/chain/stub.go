package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Stub Gateway (for testing and stub mode)
// ---------------------------------------------------------------------------

// StubGateway is an in-memory Gateway for tests and -stub mode.
type StubGateway struct {
	net Network

	mu            sync.Mutex
	balances      map[Address]decimal.Decimal
	tokenBalances map[Address]map[Address]decimal.Decimal
	txs           map[TxHash]*Transaction
	receipts      map[TxHash]*Receipt
	pending       []Transaction // queue drained by TransactionsFrom
	head          uint64

	submitted       []RawTx
	failSubmits     int  // fail the next N submits with ErrConnectivity
	revertNext      bool // next submitted tx gets a FAILED receipt
	nextHashCounter int
}

// NewStubGateway creates a stub gateway for the given network.
func NewStubGateway(net Network) *StubGateway {
	return &StubGateway{
		net:           net,
		balances:      make(map[Address]decimal.Decimal),
		tokenBalances: make(map[Address]map[Address]decimal.Decimal),
		txs:           make(map[TxHash]*Transaction),
		receipts:      make(map[TxHash]*Receipt),
		head:          100,
	}
}

// SetBalance seeds a native balance.
func (s *StubGateway) SetBalance(addr Address, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] = amount
}

// SetTokenBalance seeds a token balance.
func (s *StubGateway) SetTokenBalance(addr, token Address, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenBalances[addr] == nil {
		s.tokenBalances[addr] = make(map[Address]decimal.Decimal)
	}
	s.tokenBalances[addr][token] = amount
}

// QueueTransaction enqueues a transaction that the next TransactionsFrom
// call will deliver, with a successful receipt unless one is already set.
func (s *StubGateway) QueueTransaction(tx Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head++
	tx.BlockNumber = s.head
	s.pending = append(s.pending, tx)
	s.txs[tx.Hash] = &tx
	if _, ok := s.receipts[tx.Hash]; !ok {
		s.receipts[tx.Hash] = &Receipt{TxHash: tx.Hash, Status: ReceiptSuccess, BlockNumber: tx.BlockNumber}
	}
}

// SetReceipt seeds a receipt for a hash.
func (s *StubGateway) SetReceipt(r Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[r.TxHash] = &r
}

// FailSubmits makes the next n Submit calls fail with ErrConnectivity.
func (s *StubGateway) FailSubmits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubmits = n
}

// RevertNextSubmit gives the next submitted transaction a FAILED receipt.
func (s *StubGateway) RevertNextSubmit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revertNext = true
}

// Submitted returns every raw transaction submitted so far.
func (s *StubGateway) Submitted() []RawTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RawTx, len(s.submitted))
	copy(out, s.submitted)
	return out
}

// --- Gateway ---

func (s *StubGateway) Network() Network { return s.net }

func (s *StubGateway) Balance(_ context.Context, addr Address) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[addr], nil
}

func (s *StubGateway) TokenBalance(_ context.Context, addr, token Address) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenBalances[addr][token], nil
}

func (s *StubGateway) Transaction(_ context.Context, hash TxHash) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[hash]
	if !ok {
		return nil, fmt.Errorf("%w: tx %s", ErrNotFound, hash)
	}
	cp := *tx
	return &cp, nil
}

func (s *StubGateway) TransactionsFrom(_ context.Context, addr Address, sinceBlock uint64) ([]Transaction, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Zero cursor: establish it at the head, deliver nothing.
	if sinceBlock == 0 {
		return nil, s.head, nil
	}
	var out []Transaction
	var remaining []Transaction
	for _, tx := range s.pending {
		if tx.From == addr && tx.BlockNumber > sinceBlock {
			out = append(out, tx)
		} else {
			remaining = append(remaining, tx)
		}
	}
	s.pending = remaining
	return out, s.head, nil
}

func (s *StubGateway) Submit(_ context.Context, raw RawTx) (TxHash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSubmits > 0 {
		s.failSubmits--
		return "", fmt.Errorf("%w: stub submit failure", ErrConnectivity)
	}
	s.nextHashCounter++
	hash := TxHash(fmt.Sprintf("0xstub%04d", s.nextHashCounter))
	s.submitted = append(s.submitted, raw)
	status := ReceiptSuccess
	if s.revertNext {
		status = ReceiptFailed
		s.revertNext = false
	}
	s.head++
	s.receipts[hash] = &Receipt{TxHash: hash, Status: status, BlockNumber: s.head, GasUsed: 21000}
	return hash, nil
}

func (s *StubGateway) WaitReceipt(_ context.Context, hash TxHash) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("%w: no receipt for %s", ErrTimeout, hash)
	}
	cp := *r
	return &cp, nil
}

func (s *StubGateway) EstimateFees(_ context.Context) (*FeeEstimate, error) {
	switch s.net.FeeModel {
	case FeeLegacy:
		return &FeeEstimate{Model: FeeLegacy, GasPriceWei: decimal.NewFromInt(3_000_000_000)}, nil
	case FeePriority:
		return &FeeEstimate{Model: FeePriority, TipLamports: 10_000}, nil
	default:
		base := decimal.NewFromInt(20_000_000_000)
		tip := decimal.NewFromInt(1_000_000_000)
		return &FeeEstimate{
			Model:      FeeDynamic,
			BaseFeeWei: base,
			TipWei:     tip,
			MaxFeeWei:  base.Mul(decimal.NewFromInt(2)).Add(tip),
		}, nil
	}
}
