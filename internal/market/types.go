package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects which shape of data a provider returns.
type Mode string

const (
	// ModeKline asks for normalized OHLCV candles.
	ModeKline Mode = "kline"
	// ModeOnChain asks for an on-chain buy/sell volume summary.
	ModeOnChain Mode = "onchain"
)

// Interval labels a candle period.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
)

// Duration returns the wall-clock length of the interval.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	default:
		return time.Minute
	}
}

// Candle is one normalized OHLCV sample for a token over an interval.
//
// When no trades occurred in the window, providers return a placeholder:
// open=high=low=close=last-known price and volume=0. The model carries no
// separate flag; callers that care distinguish placeholders by that shape.
type Candle struct {
	Symbol    string
	Interval  Interval
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal

	// Optional enrichment, present when the upstream supplies it.
	QuoteVolume    decimal.Decimal
	PriceChange24h *decimal.Decimal
	MarketCap      *decimal.Decimal
	TokenAddress   string
}

// IsPlaceholder reports whether the candle looks like a no-trade placeholder.
func (c Candle) IsPlaceholder() bool {
	return c.Volume.IsZero() &&
		c.Open.Equal(c.Close) && c.High.Equal(c.Low) && c.Open.Equal(c.High)
}

// OnChainSummary aggregates recent on-chain flow for a token.
type OnChainSummary struct {
	TokenAddress   string
	Timestamp      time.Time
	BuyVolume      decimal.Decimal
	SellVolume     decimal.Decimal
	TotalVolume    decimal.Decimal
	Price          decimal.Decimal
	PriceChange24h *decimal.Decimal
}

// Data is the union a provider hands back: candles for ModeKline, a summary
// for ModeOnChain. Exactly one side is populated.
type Data struct {
	Candles []Candle
	OnChain *OnChainSummary
}

// Empty reports whether the fetch produced nothing usable.
func (d Data) Empty() bool {
	return len(d.Candles) == 0 && d.OnChain == nil
}

// Provider fetches near-real-time data for one token identifier.
type Provider interface {
	// GetData fetches data for the token in the given mode. For ModeKline
	// the intervals slice selects candle periods; providers may support a
	// subset and silently skip the rest.
	GetData(ctx context.Context, token string, mode Mode, intervals []Interval) (Data, error)
	// IsAvailable reports whether this provider can serve the token at all.
	IsAvailable(ctx context.Context, token string) bool
	// SourceName identifies the upstream for logging.
	SourceName() string
	// SupportsMode reports whether the provider implements the mode.
	SupportsMode(mode Mode) bool
}
