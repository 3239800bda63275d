package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

const mainnetHead = uint64(20_000_000)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers eth_blockNumber with a fixed head and records every
// method it is asked for.
type fakeNode struct {
	head uint64

	mu      sync.Mutex
	methods []string
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.methods = append(n.methods, req.Method)
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch req.Method {
	case "eth_blockNumber":
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"0x%x"}`, req.ID, n.head)
	default:
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"method %s not stubbed"}}`, req.ID, req.Method)
	}
}

func (n *fakeNode) calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, m := range n.methods {
		if m == method {
			count++
		}
	}
	return count
}

func newTestGateway(t *testing.T, node *fakeNode) *Gateway {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	gw, err := New(chain.Network{
		Short:          "ETH",
		Name:           "Ethereum",
		ChainID:        1,
		FeeModel:       chain.FeeDynamic,
		RPCEndpoint:    srv.URL,
		NativeDecimals: 18,
	}, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	return gw
}

func TestGateway_TransactionsFrom_ZeroCursorStartsAtHead(t *testing.T) {
	node := &fakeNode{head: mainnetHead}
	gw := newTestGateway(t, node)

	txs, cursor, err := gw.TransactionsFrom(context.Background(),
		chain.Address("0x9999999999999999999999999999999999999999"), 0)
	require.NoError(t, err)

	assert.Empty(t, txs)
	assert.Equal(t, mainnetHead, cursor)
	// Establishing the cursor must not walk any blocks.
	assert.Zero(t, node.calls("eth_getBlockByNumber"))
}

func TestGateway_TransactionsFrom_CursorAtHeadScansNothing(t *testing.T) {
	node := &fakeNode{head: mainnetHead}
	gw := newTestGateway(t, node)

	txs, cursor, err := gw.TransactionsFrom(context.Background(),
		chain.Address("0x9999999999999999999999999999999999999999"), mainnetHead)
	require.NoError(t, err)

	assert.Empty(t, txs)
	assert.Equal(t, mainnetHead, cursor)
	assert.Zero(t, node.calls("eth_getBlockByNumber"))
}
