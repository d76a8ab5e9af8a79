package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokenwatch/internal/market"
	"tokenwatch/internal/ratelimit"
)

const dexTokensPath = "/latest/dex/tokens/"

// DexScreenerOptions parameterise the aggregator provider.
type DexScreenerOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Limiter   *ratelimit.Limiter
}

// DexScreener serves KLINE data from the DexScreener aggregator. The API
// exposes 24h aggregates only, so candles are synthesized flat: OHLC pinned
// to the current pair price, volume from the 24h figure.
type DexScreener struct {
	opts    DexScreenerOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewDexScreener constructs the aggregator provider.
func NewDexScreener(opts DexScreenerOptions, logger zerolog.Logger) *DexScreener {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.dexscreener.com"
	}

	return &DexScreener{
		opts:    opts,
		logger:  logger.With().Str("component", "dexscreener_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// GetData fetches the token's pairs and synthesizes one candle per requested
// interval from the best-liquidity pair.
func (d *DexScreener) GetData(ctx context.Context, token string, mode market.Mode, intervals []market.Interval) (market.Data, error) {
	if mode != market.ModeKline {
		return market.Data{}, fmt.Errorf("dexscreener 仅支持 kline 模式, 当前: %s", mode)
	}
	if len(intervals) == 0 {
		intervals = []market.Interval{market.Interval5m, market.Interval15m, market.Interval1h}
	}

	pair, err := d.bestPair(ctx, token)
	if err != nil {
		return market.Data{}, err
	}
	if pair == nil {
		d.logger.Warn().Str("token", token).Msg("未找到交易对")
		return market.Data{}, nil
	}

	candles := make([]market.Candle, 0, len(intervals))
	now := time.Now()
	for _, interval := range intervals {
		candle, ok := pair.toCandle(interval, now)
		if !ok {
			continue
		}
		candles = append(candles, candle)
	}

	return market.Data{Candles: candles}, nil
}

// IsAvailable probes whether DexScreener lists any pair for the token.
func (d *DexScreener) IsAvailable(ctx context.Context, token string) bool {
	pair, err := d.bestPair(ctx, token)
	return err == nil && pair != nil
}

// SourceName identifies the upstream.
func (d *DexScreener) SourceName() string { return "DexScreener" }

// SupportsMode reports KLINE-only support.
func (d *DexScreener) SupportsMode(mode market.Mode) bool { return mode == market.ModeKline }

// bestPair queries /latest/dex/tokens/{token} and returns the pair with the
// highest USD liquidity, or nil when the token is unknown.
func (d *DexScreener) bestPair(ctx context.Context, token string) (*dexPair, error) {
	if d.opts.Limiter != nil {
		if _, err := d.opts.Limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := d.baseURL + dexTokensPath + token
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(d.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "tokenwatch/1.0")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dexscreener api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var body dexTokensResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode dexscreener response: %w", err)
	}
	if len(body.Pairs) == 0 {
		return nil, nil
	}

	best := &body.Pairs[0]
	for i := 1; i < len(body.Pairs); i++ {
		if body.Pairs[i].Liquidity.USD > best.Liquidity.USD {
			best = &body.Pairs[i]
		}
	}
	return best, nil
}

type dexTokensResponse struct {
	Pairs []dexPair `json:"pairs"`
}

type dexPair struct {
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Symbol  string `json:"symbol"`
		Address string `json:"address"`
	} `json:"baseToken"`
	QuoteToken struct {
		Symbol string `json:"symbol"`
	} `json:"quoteToken"`
	PriceUSD    string `json:"priceUsd"`
	PriceChange struct {
		H24 *float64 `json:"h24"`
	} `json:"priceChange"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	MarketCap *float64 `json:"marketCap"`
	FDV       *float64 `json:"fdv"`
}

// toCandle synthesizes a flat candle for the interval. Returns false when
// the pair carries no usable price.
func (p *dexPair) toCandle(interval market.Interval, now time.Time) (market.Candle, bool) {
	price, err := decimal.NewFromString(p.PriceUSD)
	if err != nil || price.IsZero() {
		return market.Candle{}, false
	}

	quote := p.QuoteToken.Symbol
	if quote == "" {
		quote = "USDT"
	}
	base := p.BaseToken.Symbol
	if base == "" {
		base = "UNKNOWN"
	}

	volume := decimal.NewFromFloat(p.Volume.H24)
	candle := market.Candle{
		Symbol:       base + "/" + quote,
		Interval:     interval,
		Timestamp:    now,
		Open:         price,
		High:         price,
		Low:          price,
		Close:        price,
		Volume:       volume,
		QuoteVolume:  volume.Mul(price),
		TokenAddress: p.BaseToken.Address,
	}

	if p.PriceChange.H24 != nil {
		change := decimal.NewFromFloat(*p.PriceChange.H24)
		candle.PriceChange24h = &change
	}
	if p.MarketCap != nil {
		mc := decimal.NewFromFloat(*p.MarketCap)
		candle.MarketCap = &mc
	} else if p.FDV != nil {
		mc := decimal.NewFromFloat(*p.FDV)
		candle.MarketCap = &mc
	}

	return candle, true
}

var _ market.Provider = (*DexScreener)(nil)
