package chain

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Network enumeration — tagged variants resolved once at job start.
// Each variant carries its endpoints and fee model so nothing downstream
// dispatches on raw short-name strings.
// ---------------------------------------------------------------------------

// FeeModel selects the fee-parameter shape a network expects.
type FeeModel string

const (
	// FeeLegacy is a single gas price (pre-EIP-1559 chains, e.g. BSC).
	FeeLegacy FeeModel = "legacy"
	// FeeDynamic is base fee + priority fee (EIP-1559 chains).
	FeeDynamic FeeModel = "dynamic"
	// FeePriority is the non-EVM ledger's compute-budget priority fee.
	FeePriority FeeModel = "priority"
)

// Network describes one supported ledger.
type Network struct {
	Short            string   `yaml:"short"`       // ETH|BSC|POL|AVL|SOL
	Name             string   `yaml:"name"`        // full display name
	ChainID          int64    `yaml:"chain_id"`
	FeeModel         FeeModel `yaml:"fee_model"`
	RPCEndpoint      string   `yaml:"rpc_endpoint"`
	WSEndpoint       string   `yaml:"ws_endpoint"`
	RouterAddress    Address  `yaml:"router_address"` // DEX router / aggregator entry point
	WrappedNative    Address  `yaml:"wrapped_native"` // WETH-equivalent funding asset
	NativeSymbol     string   `yaml:"native_symbol"`
	NativeDecimals   int      `yaml:"native_decimals"`
	ExplorerTxPrefix string   `yaml:"explorer_tx_prefix"`
	KnownRouters     []Address `yaml:"known_routers"` // mirror-worthy destinations
}

// IsEVM reports whether the network is an account-based EVM chain.
func (n Network) IsEVM() bool { return n.FeeModel != FeePriority }

// ExplorerTxURL returns a human-clickable link for a transaction hash.
func (n Network) ExplorerTxURL(hash TxHash) string {
	return n.ExplorerTxPrefix + string(hash)
}

// IsKnownRouter reports whether addr is one of the network's known DEX
// router addresses. Comparison is case-insensitive since EVM addresses
// appear in mixed checksum casing.
func (n Network) IsKnownRouter(addr Address) bool {
	for _, r := range n.KnownRouters {
		if strings.EqualFold(string(r), string(addr)) {
			return true
		}
	}
	return false
}

// Registry resolves networks by short name.
type Registry struct {
	networks map[string]Network
}

// NewRegistry builds a registry from the configured networks.
func NewRegistry(networks []Network) (*Registry, error) {
	m := make(map[string]Network, len(networks))
	for _, n := range networks {
		if n.Short == "" {
			return nil, fmt.Errorf("%w: network with empty short name", ErrValidation)
		}
		if _, dup := m[n.Short]; dup {
			return nil, fmt.Errorf("%w: duplicate network %q", ErrValidation, n.Short)
		}
		m[n.Short] = n
	}
	return &Registry{networks: m}, nil
}

// Lookup returns the network for a short name.
func (r *Registry) Lookup(short string) (Network, error) {
	n, ok := r.networks[strings.ToUpper(short)]
	if !ok {
		return Network{}, fmt.Errorf("%w: unknown network %q", ErrValidation, short)
	}
	return n, nil
}

// All returns every registered network.
func (r *Registry) All() []Network {
	out := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	return out
}

// DefaultNetworks returns the built-in mainnet variants. Endpoints carry
// ${VAR} placeholders resolved by config env expansion.
func DefaultNetworks() []Network {
	return []Network{
		{
			Short:            "ETH",
			Name:             "Ethereum",
			ChainID:          1,
			FeeModel:         FeeDynamic,
			RPCEndpoint:      "${INFURA_HTTP_URL}",
			WSEndpoint:       "${INFURA_WS_URL}",
			RouterAddress:    "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", // Uniswap V2
			WrappedNative:    "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			NativeSymbol:     "ETH",
			NativeDecimals:   18,
			ExplorerTxPrefix: "https://etherscan.io/tx/",
			KnownRouters: []Address{
				"0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", // Uniswap V2
				"0xEfF92A263d31888d860bD50809A8D171709b7b1c", // PancakeSwap (ETH)
				"0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24",
				"0xedf6066a2b290C185783862C7F4776A2C8077AD1",
				"0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506", // SushiSwap
				"0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F",
			},
		},
		{
			Short:            "BSC",
			Name:             "Binance Smart Chain",
			ChainID:          56,
			FeeModel:         FeeLegacy,
			RPCEndpoint:      "${BSC_HTTP_URL}",
			RouterAddress:    "0x10ED43C718714eb63d5aA57B78B54704E256024E", // PancakeSwap V2
			WrappedNative:    "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
			NativeSymbol:     "BNB",
			NativeDecimals:   18,
			ExplorerTxPrefix: "https://bscscan.com/tx/",
			KnownRouters: []Address{
				"0x10ED43C718714eb63d5aA57B78B54704E256024E",
				"0x8cFe327CEc66d1C090Dd72bd0FF11d690C33a2Eb",
			},
		},
		{
			Short:            "POL",
			Name:             "Polygon",
			ChainID:          137,
			FeeModel:         FeeDynamic,
			RPCEndpoint:      "${POLYGON_HTTP_URL}",
			RouterAddress:    "0xedf6066a2b290C185783862C7F4776A2C8077AD1", // Uniswap V2 (Polygon)
			WrappedNative:    "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
			NativeSymbol:     "MATIC",
			NativeDecimals:   18,
			ExplorerTxPrefix: "https://polygonscan.com/tx/",
			KnownRouters: []Address{
				"0xedf6066a2b290C185783862C7F4776A2C8077AD1",
				"0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506",
			},
		},
		{
			Short:            "AVL",
			Name:             "Avalanche",
			ChainID:          43114,
			FeeModel:         FeeDynamic,
			RPCEndpoint:      "${AVALANCHE_HTTP_URL}",
			RouterAddress:    "0x60aE616a2155Ee3d9A68541Ba4544862310933d4", // Trader Joe
			WrappedNative:    "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7",
			NativeSymbol:     "AVAX",
			NativeDecimals:   18,
			ExplorerTxPrefix: "https://snowtrace.io/tx/",
			KnownRouters: []Address{
				"0x60aE616a2155Ee3d9A68541Ba4544862310933d4",
				"0x89Fa1974120d2a7F83a0cb80df3654721c6a38Cd",
			},
		},
		{
			Short:            "SOL",
			Name:             "Solana",
			ChainID:          1399811149,
			FeeModel:         FeePriority,
			RPCEndpoint:      "${SOLANA_HTTP_URL}",
			WSEndpoint:       "${SOLANA_WS_URL}",
			WrappedNative:    "So11111111111111111111111111111111111111112",
			NativeSymbol:     "SOL",
			NativeDecimals:   9,
			ExplorerTxPrefix: "https://solscan.io/tx/",
		},
	}
}
