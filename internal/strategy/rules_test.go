package strategy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenwatch/internal/market"
)

func candle(open, close, volume float64, interval market.Interval) market.Candle {
	return market.Candle{
		Symbol:    "PEPE/USDT",
		Interval:  interval,
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(close),
		Low:       decimal.NewFromFloat(open),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
	}
}

func TestVolumePriceRise(t *testing.T) {
	mult := decimal.NewFromFloat(1.5)

	t.Run("fires on volume and price rise", func(t *testing.T) {
		c := candle(1.0, 1.1, 1000, market.Interval5m)
		sig := VolumePriceRise(c, decimal.NewFromInt(500), mult)
		require.NotNil(t, sig)
		assert.Equal(t, NameVolumePriceRise, sig.Strategy)
		// delta 0.1 -> 0.1*1000+50 = 150, saturates at 100
		assert.Equal(t, 100, sig.Strength)
	})

	t.Run("small rise yields proportional strength", func(t *testing.T) {
		c := candle(1.0, 1.01, 1000, market.Interval5m)
		sig := VolumePriceRise(c, decimal.NewFromInt(500), mult)
		require.NotNil(t, sig)
		assert.Equal(t, 60, sig.Strength)
	})

	t.Run("no signal on falling price", func(t *testing.T) {
		c := candle(1.0, 0.9, 1000, market.Interval5m)
		assert.Nil(t, VolumePriceRise(c, decimal.NewFromInt(100), mult))
	})

	t.Run("no signal under volume multiple", func(t *testing.T) {
		c := candle(1.0, 1.1, 100, market.Interval5m)
		assert.Nil(t, VolumePriceRise(c, decimal.NewFromInt(100), mult))
	})

	t.Run("no signal on zero open", func(t *testing.T) {
		c := candle(0, 1.1, 1000, market.Interval5m)
		assert.Nil(t, VolumePriceRise(c, decimal.NewFromInt(100), mult))
	})
}

func TestAbsoluteVolume(t *testing.T) {
	threshold := decimal.NewFromInt(5000)

	t.Run("fires over threshold", func(t *testing.T) {
		c := candle(1.0, 1.0, 12000, market.Interval5m)
		sig := AbsoluteVolume(c, market.Interval5m, threshold)
		require.NotNil(t, sig)
		// ratio 2.4 -> 120, saturates
		assert.Equal(t, 100, sig.Strength)
	})

	t.Run("at threshold scores near 50", func(t *testing.T) {
		c := candle(1.0, 1.0, 5001, market.Interval5m)
		sig := AbsoluteVolume(c, market.Interval5m, threshold)
		require.NotNil(t, sig)
		assert.Equal(t, 50, sig.Strength)
	})

	t.Run("ignores other intervals", func(t *testing.T) {
		c := candle(1.0, 1.0, 12000, market.Interval1h)
		assert.Nil(t, AbsoluteVolume(c, market.Interval5m, threshold))
	})

	t.Run("no signal at or under threshold", func(t *testing.T) {
		c := candle(1.0, 1.0, 5000, market.Interval5m)
		assert.Nil(t, AbsoluteVolume(c, market.Interval5m, threshold))
	})
}

func TestCumulativeVolume(t *testing.T) {
	sig := CumulativeVolume("So1ana111111111111111111111111111111111111",
		decimal.NewFromInt(9000), decimal.NewFromInt(5000), time.Now())
	assert.Equal(t, NameMonitorVolume, sig.Strategy)
	// 9000/5000*50 = 90
	assert.Equal(t, 90, sig.Strength)
}

func TestEngineEvaluateOnChain(t *testing.T) {
	engine := NewEngine(DefaultParams(), nil, zerolog.Nop())
	change := decimal.NewFromInt(12)
	data := market.Data{OnChain: &market.OnChainSummary{
		TokenAddress:   "So1ana111111111111111111111111111111111111",
		Timestamp:      time.Now(),
		BuyVolume:      decimal.NewFromInt(8000),
		SellVolume:     decimal.NewFromInt(2000),
		TotalVolume:    decimal.NewFromInt(10000),
		Price:          decimal.NewFromFloat(0.001),
		PriceChange24h: &change,
	}}

	signals := engine.Evaluate("So1ana111111111111111111111111111111111111", data)
	require.Len(t, signals, 1)
	// 12*10 + 0.8*50 = 160 -> saturates
	assert.Equal(t, 100, signals[0].Strength)
}

func TestEngineRespectsEnabledSet(t *testing.T) {
	engine := NewEngine(DefaultParams(), []string{NameAbsoluteVolume}, zerolog.Nop())
	c := candle(1.0, 1.5, 100000, market.Interval5m)
	signals := engine.Evaluate("PEPE", market.Data{Candles: []market.Candle{c}})
	require.Len(t, signals, 1)
	assert.Equal(t, NameAbsoluteVolume, signals[0].Strategy)
}
