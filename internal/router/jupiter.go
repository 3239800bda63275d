package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Jupiter V6 aggregator router for Solana.
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

// SolanaChain is the slice of the Solana gateway the router needs beyond
// the base Gateway surface.
type SolanaChain interface {
	chain.Gateway
	MintDecimals(ctx context.Context, mint chain.Address) (int, error)
}

// JupiterConfig configures the aggregator client.
type JupiterConfig struct {
	QuoteURL    string        `yaml:"quote_url"`
	SwapURL     string        `yaml:"swap_url"`
	SlippageBps int           `yaml:"slippage_bps"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// DefaultJupiterConfig returns defaults.
func DefaultJupiterConfig() JupiterConfig {
	return JupiterConfig{
		QuoteURL:    "https://quote-api.jup.ag/v6/quote",
		SwapURL:     "https://quote-api.jup.ag/v6/swap",
		SlippageBps: 50,
		HTTPTimeout: 10 * time.Second,
	}
}

// Jupiter routes Solana swaps through the Jupiter V6 aggregator. The
// aggregator assembles the transaction server-side, so BuildSwap returns
// the serialized unsigned transaction in Payload.
type Jupiter struct {
	config     JupiterConfig
	gw         SolanaChain
	net        chain.Network
	httpClient *http.Client
}

// NewJupiter creates an aggregator router over the gateway's network.
func NewJupiter(config JupiterConfig, gw SolanaChain) (*Jupiter, error) {
	net := gw.Network()
	if net.IsEVM() {
		return nil, fmt.Errorf("%w: network %s is not a Solana variant", chain.ErrValidation, net.Short)
	}
	return &Jupiter{
		config:     config,
		gw:         gw,
		net:        net,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
	}, nil
}

// Network returns the served network.
func (j *Jupiter) Network() chain.Network { return j.net }

type jupiterQuote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

// Quote fetches the best route for the swap. The aggregator bounds the
// output server-side, so the caller's slippage is applied here as
// slippageBps; the config value only covers callers that pass none.
func (j *Jupiter) Quote(ctx context.Context, tokenIn, tokenOut chain.Address, amountIn, slippage decimal.Decimal) (*Quote, error) {
	if !amountIn.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive amount %s", chain.ErrValidation, amountIn)
	}
	decIn, err := j.gw.MintDecimals(ctx, tokenIn)
	if err != nil {
		return nil, fmt.Errorf("mint in decimals: %w", err)
	}
	decOut, err := j.gw.MintDecimals(ctx, tokenOut)
	if err != nil {
		return nil, fmt.Errorf("mint out decimals: %w", err)
	}

	queryURL, err := url.Parse(j.config.QuoteURL)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	bps := slippage.Mul(decimal.NewFromInt(10_000)).IntPart()
	if bps <= 0 {
		bps = int64(j.config.SlippageBps)
	}

	q := queryURL.Query()
	q.Set("inputMint", string(tokenIn))
	q.Set("outputMint", string(tokenOut))
	q.Set("amount", chain.ToBaseUnits(amountIn, decIn).String())
	q.Set("slippageBps", fmt.Sprintf("%d", bps))
	queryURL.RawQuery = q.Encode()

	body, err := j.get(ctx, queryURL.String())
	if err != nil {
		return nil, err
	}
	var jq jupiterQuote
	if err := json.Unmarshal(body, &jq); err != nil {
		return nil, fmt.Errorf("jupiter: parse quote: %w", err)
	}
	outRaw, err := decimal.NewFromString(jq.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse out amount %q: %w", jq.OutAmount, err)
	}
	amountOut := outRaw.Shift(-int32(decOut))

	log.Debug().
		Str("in", string(tokenIn)).
		Str("out", string(tokenOut)).
		Str("amount_in", amountIn.String()).
		Str("amount_out", amountOut.String()).
		Str("price_impact", jq.PriceImpactPct).
		Msg("jupiter: quote received")

	return &Quote{
		Network:   j.net,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		Raw:       json.RawMessage(body),
	}, nil
}

type jupiterSwapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSOL              bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             bool            `json:"useSharedAccounts"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

type jupiterSwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"` // base64
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildSwap asks the aggregator to assemble the transaction. Slippage is
// already applied through slippageBps on the quote; minAmountOut is kept
// on the descriptor for accounting.
func (j *Jupiter) BuildSwap(ctx context.Context, from chain.Address, quote *Quote, minAmountOut decimal.Decimal) (*chain.UnsignedSwap, error) {
	if len(quote.Raw) == 0 {
		return nil, fmt.Errorf("%w: quote carries no route payload", chain.ErrValidation)
	}
	fees, err := j.gw.EstimateFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("estimate fees: %w", err)
	}

	reqBody, err := json.Marshal(jupiterSwapRequest{
		QuoteResponse:                 quote.Raw,
		UserPublicKey:                 string(from),
		WrapAndUnwrapSOL:              true,
		UseSharedAccounts:             true,
		ComputeUnitPriceMicroLamports: fees.TipLamports,
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.config.SwapURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("jupiter: create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jupiter: swap: %w: %v", chain.ErrConnectivity, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jupiter: read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter: swap HTTP %d: %s", resp.StatusCode, string(body))
	}

	var sr jupiterSwapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("jupiter: parse swap response: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("jupiter: decode swap transaction: %w", err)
	}

	return &chain.UnsignedSwap{
		Network:      j.net,
		Payload:      payload,
		Fees:         fees,
		TokenIn:      quote.TokenIn,
		TokenOut:     quote.TokenOut,
		AmountIn:     quote.AmountIn,
		MinAmountOut: minAmountOut,
	}, nil
}

func (j *Jupiter) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: create request: %w", err)
	}
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jupiter: %w: %v", chain.ErrConnectivity, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jupiter: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter: HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

var _ Router = (*Jupiter)(nil)
