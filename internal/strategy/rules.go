package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tokenwatch/internal/market"
)

// VolumePriceRise fires when a candle's volume exceeds avgVolume*mult while
// the close sits above the open. avgVolume is the caller's rolling baseline;
// pass volume/2 when no history exists (the upstream aggregate case).
// Strength grows linearly with the fractional price delta, saturating at 100.
func VolumePriceRise(c market.Candle, avgVolume decimal.Decimal, mult decimal.Decimal) *Signal {
	if c.Open.Sign() <= 0 || avgVolume.Sign() <= 0 {
		return nil
	}

	priceDelta := c.Close.Sub(c.Open).Div(c.Open)
	if priceDelta.Sign() <= 0 {
		return nil
	}
	if !c.Volume.GreaterThan(avgVolume.Mul(mult)) {
		return nil
	}

	strength := clampStrength(priceDelta.Mul(decimal.NewFromInt(1000)).IntPart() + 50)
	pct := priceDelta.Mul(decimal.NewFromInt(100))

	return &Signal{
		Strategy: NameVolumePriceRise,
		Token:    c.Symbol,
		Strength: strength,
		Message: fmt.Sprintf("量增价升信号: %s\n价格: $%s\n涨幅: %s%%",
			c.Symbol, c.Close.String(), pct.StringFixed(2)),
		Evidence: map[string]any{
			"close":       c.Close.String(),
			"volume":      c.Volume.String(),
			"avg_volume":  avgVolume.String(),
			"volume_mult": mult.String(),
			"price_delta": priceDelta.String(),
		},
		Timestamp: c.Timestamp,
	}
}

// AbsoluteVolume fires when a candle of the wanted interval carries raw
// volume over threshold. Strength is a saturating linear function of the
// exceedance ratio: exactly at threshold scores 50, 2x threshold scores 100.
func AbsoluteVolume(c market.Candle, interval market.Interval, threshold decimal.Decimal) *Signal {
	if c.Interval != interval || threshold.Sign() <= 0 {
		return nil
	}
	if !c.Volume.GreaterThan(threshold) {
		return nil
	}

	ratio := c.Volume.Div(threshold)
	strength := clampStrength(ratio.Mul(decimal.NewFromInt(50)).IntPart())

	return &Signal{
		Strategy: NameAbsoluteVolume,
		Token:    c.Symbol,
		Strength: strength,
		Message: fmt.Sprintf("放量信号: %s (%s)\n成交量: $%s 超过阈值 $%s",
			c.Symbol, c.Interval, c.Volume.StringFixed(2), threshold.StringFixed(2)),
		Evidence: map[string]any{
			"interval":  string(c.Interval),
			"volume":    c.Volume.String(),
			"threshold": threshold.String(),
		},
		Timestamp: c.Timestamp,
	}
}

// CumulativeVolume renders the monitoring-task alert (accumulated volume
// over the monitoring run crossed the configured threshold) as a Signal.
func CumulativeVolume(token string, total, threshold decimal.Decimal, at time.Time) Signal {
	ratio := decimal.NewFromInt(1)
	if threshold.Sign() > 0 {
		ratio = total.Div(threshold)
	}
	return Signal{
		Strategy: NameMonitorVolume,
		Token:    token,
		Strength: clampStrength(ratio.Mul(decimal.NewFromInt(50)).IntPart()),
		Message: fmt.Sprintf("监测累计量信号: %s\n累计成交量: $%s 超过阈值 $%s",
			token, total.StringFixed(2), threshold.StringFixed(2)),
		Evidence: map[string]any{
			"total_volume": total.String(),
			"threshold":    threshold.String(),
		},
		Timestamp: at,
	}
}
