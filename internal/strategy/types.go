package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

// Strategy names as rendered in alerts.
const (
	NameVolumePriceRise = "volume_price_rise"
	NameAbsoluteVolume  = "absolute_volume"
	NameVolumeBurst     = "volume_burst"
	NameMonitorVolume   = "monitor_cumulative_volume"
)

// Signal is one fired strategy result. Immutable once created.
type Signal struct {
	Strategy  string
	Token     string
	Strength  int // 0-100, saturating
	Message   string
	Evidence  map[string]any
	Timestamp time.Time
}

// clampStrength saturates a raw strength into [0, 100].
func clampStrength(raw int64) int {
	if raw < 0 {
		return 0
	}
	if raw > 100 {
		return 100
	}
	return int(raw)
}

// meanVolume returns the arithmetic mean of the candles' volumes, or zero
// for an empty slice.
func meanVolume(volumes []decimal.Decimal) decimal.Decimal {
	if len(volumes) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range volumes {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(volumes))))
}
