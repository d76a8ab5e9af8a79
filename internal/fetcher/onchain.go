package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokenwatch/internal/market"
	"tokenwatch/internal/ratelimit"
)

// ErrNoAPIKey 表示链上数据源未配置密钥, 属于配置类错误而非瞬时错误。
var ErrNoAPIKey = errors.New("onchain provider api key not configured")

// OnChainOptions parameterise the Solana on-chain provider.
type OnChainOptions struct {
	APIKey  string
	RPCURL  string // JSON-RPC endpoint for getAsset; api key appended as query param
	TxURL   string // Enhanced Transactions base URL
	Timeout time.Duration
	Limiter *ratelimit.Limiter

	// TxWindow bounds how far back transactions are considered when
	// computing the 1m candle. Defaults to 10 minutes.
	TxWindow time.Duration
}

// OnChain serves Solana token data: the 1m candle is computed from recent
// transactions, with a flat placeholder when the window saw no trades.
// Supports both KLINE and ONCHAIN modes.
type OnChain struct {
	opts   OnChainOptions
	logger zerolog.Logger
	client *http.Client
	rpcURL string
	txURL  string
	now    func() time.Time
}

// NewOnChain constructs the on-chain provider.
func NewOnChain(opts OnChainOptions, logger zerolog.Logger) *OnChain {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.TxWindow <= 0 {
		opts.TxWindow = 10 * time.Minute
	}

	rpcURL := strings.TrimRight(opts.RPCURL, "/")
	if rpcURL == "" {
		rpcURL = "https://mainnet.helius-rpc.com"
	}
	txURL := strings.TrimRight(opts.TxURL, "/")
	if txURL == "" {
		txURL = "https://api.helius.xyz/v0"
	}

	return &OnChain{
		opts:   opts,
		logger: logger.With().Str("component", "onchain_provider").Logger(),
		client: &http.Client{Timeout: timeout},
		rpcURL: rpcURL,
		txURL:  txURL,
		now:    time.Now,
	}
}

// IsBase58Address 判断标识是否符合 Solana base58 地址格式 (32-44 字符)。
func IsBase58Address(token string) bool {
	if len(token) < 32 || len(token) > 44 {
		return false
	}
	for _, r := range token {
		switch {
		case r >= '1' && r <= '9':
		case r >= 'A' && r <= 'H':
		case r >= 'J' && r <= 'N':
		case r >= 'P' && r <= 'Z':
		case r >= 'a' && r <= 'k':
		case r >= 'm' && r <= 'z':
		default:
			return false
		}
	}
	return true
}

// GetData fetches Solana data for the mint address in the requested mode.
func (o *OnChain) GetData(ctx context.Context, token string, mode market.Mode, intervals []market.Interval) (market.Data, error) {
	if o.opts.APIKey == "" {
		return market.Data{}, ErrNoAPIKey
	}
	if !IsBase58Address(token) {
		return market.Data{}, fmt.Errorf("不是有效的 solana 地址: %s", token)
	}

	switch mode {
	case market.ModeKline:
		return o.klineData(ctx, token, intervals)
	case market.ModeOnChain:
		return o.onChainData(ctx, token)
	default:
		return market.Data{}, fmt.Errorf("不支持的模式: %s", mode)
	}
}

// IsAvailable reports whether metadata resolves for the mint.
func (o *OnChain) IsAvailable(ctx context.Context, token string) bool {
	if o.opts.APIKey == "" || !IsBase58Address(token) {
		return false
	}
	asset, err := o.getAsset(ctx, token)
	return err == nil && asset != nil
}

// SourceName identifies the upstream.
func (o *OnChain) SourceName() string { return "Helius" }

// SupportsMode reports KLINE and ONCHAIN support.
func (o *OnChain) SupportsMode(mode market.Mode) bool {
	return mode == market.ModeKline || mode == market.ModeOnChain
}

// klineData computes the 1m candle from recent trades. Other intervals are
// not served on-chain and are skipped.
func (o *OnChain) klineData(ctx context.Context, token string, intervals []market.Interval) (market.Data, error) {
	want1m := len(intervals) == 0
	for _, interval := range intervals {
		if interval == market.Interval1m {
			want1m = true
			break
		}
	}
	if !want1m {
		o.logger.Warn().Str("token", token).Msg("链上数据源仅提供 1m K线, 请求的周期全部跳过")
		return market.Data{}, nil
	}

	asset, err := o.getAsset(ctx, token)
	if err != nil {
		return market.Data{}, err
	}
	if asset == nil || asset.price.IsZero() {
		o.logger.Warn().Str("token", token).Msg("无法获取代币价格")
		return market.Data{}, nil
	}

	trades, err := o.recentTrades(ctx, token, o.opts.TxWindow)
	if err != nil {
		o.logger.Warn().Err(err).Str("token", token).Msg("获取交易历史失败, 使用占位K线")
	}

	candle := buildCandle(token, asset.symbol, trades, asset.price, o.now())
	return market.Data{Candles: []market.Candle{candle}}, nil
}

// onChainData aggregates the recent trade flow into a buy/sell summary.
func (o *OnChain) onChainData(ctx context.Context, token string) (market.Data, error) {
	trades, err := o.recentTrades(ctx, token, 24*time.Hour)
	if err != nil {
		return market.Data{}, err
	}

	asset, err := o.getAsset(ctx, token)
	if err != nil {
		return market.Data{}, err
	}

	summary := &market.OnChainSummary{
		TokenAddress: token,
		Timestamp:    o.now(),
	}
	if asset != nil {
		summary.Price = asset.price
	}
	for _, t := range trades {
		summary.TotalVolume = summary.TotalVolume.Add(t.Volume)
		if t.Sell {
			summary.SellVolume = summary.SellVolume.Add(t.Volume)
		} else {
			summary.BuyVolume = summary.BuyVolume.Add(t.Volume)
		}
	}

	return market.Data{OnChain: summary}, nil
}

type assetInfo struct {
	symbol string
	price  decimal.Decimal
}

// getAsset resolves token metadata and current price via the getAsset RPC.
func (o *OnChain) getAsset(ctx context.Context, token string) (*assetInfo, error) {
	if err := o.acquire(ctx); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      "1",
		"method":  "getAsset",
		"params": map[string]any{
			"id":             token,
			"displayOptions": map[string]any{"showFungible": true},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := o.rpcURL + "/?api-key=" + url.QueryEscape(o.opts.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helius rpc error (%d)", resp.StatusCode)
	}

	var result struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Result struct {
			TokenInfo struct {
				Symbol    string `json:"symbol"`
				PriceInfo struct {
					PricePerToken *float64 `json:"price_per_token"`
				} `json:"price_info"`
			} `json:"token_info"`
			Content struct {
				Metadata struct {
					Symbol string `json:"symbol"`
				} `json:"metadata"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode getAsset response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("helius rpc error: %s", result.Error.Message)
	}

	info := &assetInfo{symbol: result.Result.TokenInfo.Symbol}
	if info.symbol == "" {
		info.symbol = result.Result.Content.Metadata.Symbol
	}
	if info.symbol == "" {
		info.symbol = "UNKNOWN"
	}
	if p := result.Result.TokenInfo.PriceInfo.PricePerToken; p != nil {
		info.price = decimal.NewFromFloat(*p)
	}
	return info, nil
}

// trade is one parsed token transfer.
type trade struct {
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
	Sell      bool
}

// recentTrades pulls enhanced transactions for the mint and keeps the ones
// inside the window.
func (o *OnChain) recentTrades(ctx context.Context, token string, window time.Duration) ([]trade, error) {
	if err := o.acquire(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/addresses/%s/transactions?api-key=%s&limit=1000",
		o.txURL, url.PathEscape(token), url.QueryEscape(o.opts.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helius transactions error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var txs []enhancedTx
	if err := json.Unmarshal(payload, &txs); err != nil {
		var wrapped struct {
			Transactions []enhancedTx `json:"transactions"`
		}
		if err2 := json.Unmarshal(payload, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode transactions response: %w", err)
		}
		txs = wrapped.Transactions
	}

	cutoff := o.now().Add(-window)
	var trades []trade
	for _, tx := range txs {
		t, ok := tx.toTrade(token)
		if !ok || t.Timestamp.Before(cutoff) {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

type enhancedTx struct {
	Timestamp      int64  `json:"timestamp"`
	Signature      string `json:"signature"`
	TokenTransfers []struct {
		Mint        string  `json:"mint"`
		TokenAmount float64 `json:"tokenAmount"`
		FromUser    string  `json:"fromUserAccount"`
		ToUser      string  `json:"toUserAccount"`
	} `json:"tokenTransfers"`
}

// toTrade extracts the transfer of the watched mint, if any.
func (tx enhancedTx) toTrade(token string) (trade, bool) {
	ts := tx.Timestamp
	if ts > 1e10 { // milliseconds
		ts /= 1000
	}
	for _, transfer := range tx.TokenTransfers {
		if transfer.Mint != token || transfer.TokenAmount == 0 {
			continue
		}
		amount := transfer.TokenAmount
		sell := false
		if amount < 0 {
			amount = -amount
			sell = true
		}
		return trade{
			Volume:    decimal.NewFromFloat(amount),
			Timestamp: time.Unix(ts, 0),
			Sell:      sell,
		}, true
	}
	return trade{}, false
}

// buildCandle folds the window's trades into one 1m candle, or a flat
// placeholder at the current price when no trades landed.
func buildCandle(token, symbol string, trades []trade, currentPrice decimal.Decimal, now time.Time) market.Candle {
	candle := market.Candle{
		Symbol:       symbol,
		Interval:     market.Interval1m,
		Timestamp:    now,
		Open:         currentPrice,
		High:         currentPrice,
		Low:          currentPrice,
		Close:        currentPrice,
		TokenAddress: token,
	}

	windowStart := now.Add(-market.Interval1m.Duration())
	first := true
	for _, t := range trades {
		if t.Timestamp.Before(windowStart) {
			continue
		}
		price := t.Price
		if price.IsZero() {
			price = currentPrice
		}
		if first {
			candle.Open = price
			candle.High = price
			candle.Low = price
			first = false
		}
		if price.GreaterThan(candle.High) {
			candle.High = price
		}
		if price.LessThan(candle.Low) {
			candle.Low = price
		}
		candle.Close = price
		candle.Volume = candle.Volume.Add(t.Volume)
		candle.QuoteVolume = candle.QuoteVolume.Add(t.Volume.Mul(price))
	}

	return candle
}

// acquire waits on the provider limiter when one is configured.
func (o *OnChain) acquire(ctx context.Context) error {
	if o.opts.Limiter == nil {
		return nil
	}
	waited, err := o.opts.Limiter.Acquire(ctx)
	if err != nil {
		return err
	}
	if waited > 0 {
		o.logger.Debug().Dur("waited", waited).Msg("链上接口限流等待")
	}
	return nil
}

var _ market.Provider = (*OnChain)(nil)
