package strategy

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"tokenwatch/internal/market"
)

// BurstParams tune the sliding-window volume-burst detector.
type BurstParams struct {
	// Lookback is how many preceding candles form the volume baseline.
	Lookback int
	// VolumeMult is the multiple of the baseline mean a candle must exceed
	// to count as a volume hit.
	VolumeMult decimal.Decimal
	// MinHits is how many of the window's three candles must register a
	// volume hit for a signal to fire.
	MinHits int
}

// DefaultBurstParams mirror the production tuning.
func DefaultBurstParams() BurstParams {
	return BurstParams{
		Lookback:   3,
		VolumeMult: decimal.NewFromFloat(1.8),
		MinHits:    1,
	}
}

// DetectVolumeBurst scans an ordered-by-time candle sequence for a
// three-candle strictly-rising price window accompanied by a volume spike.
//
// The scan stops at the first window whose closes rise strictly across all
// three candles, whether or not that window accumulates enough volume hits.
// A later window with more hits is deliberately not considered; bounded
// latency beats best-of-all-windows here. Returns nil when no signal fires.
func DetectVolumeBurst(token string, candles []market.Candle, p BurstParams) *Signal {
	minLen := p.Lookback + 1
	if minLen < 4 {
		minLen = 4
	}
	if len(candles) < minLen {
		return nil
	}

	// Callers may deliver out of order; sort defensively.
	sorted := make([]market.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Timestamp.Before(sorted[b].Timestamp)
	})

	volumes := lo.Map(sorted, func(c market.Candle, _ int) decimal.Decimal {
		return c.Volume
	})

	// Windows are consecutive triples starting at index 1; the triple at
	// index 0 can never carry a volume baseline and is not scanned.
	for i := 1; i+2 < len(sorted); i++ {
		first, mid, last := sorted[i], sorted[i+1], sorted[i+2]
		if !first.Close.LessThan(mid.Close) || !mid.Close.LessThan(last.Close) {
			continue
		}

		hits := 0
		for _, j := range []int{i, i + 1, i + 2} {
			if j < p.Lookback {
				// Not enough history for a baseline; no hit, but the
				// candle does not disqualify the window either.
				continue
			}
			baseline := meanVolume(volumes[j-p.Lookback : j])
			if volumes[j].GreaterThan(baseline.Mul(p.VolumeMult)) {
				hits++
			}
		}

		if hits < p.MinHits {
			return nil
		}

		sig := &Signal{
			Strategy: NameVolumeBurst,
			Token:    token,
			Strength: clampStrength(int64(60 + hits*10)),
			Message: fmt.Sprintf("连续上涨放量信号: %s\n价格: $%s\n命中: %d/3",
				token, last.Close.String(), hits),
			Evidence: map[string]any{
				"close":       last.Close.String(),
				"volume":      last.Volume.String(),
				"hits":        hits,
				"window_end":  last.Timestamp,
				"lookback":    p.Lookback,
				"volume_mult": p.VolumeMult.String(),
			},
			Timestamp: last.Timestamp,
		}
		if last.MarketCap != nil {
			sig.Evidence["market_cap"] = last.MarketCap.String()
		}
		if last.TokenAddress != "" {
			sig.Evidence["token_address"] = last.TokenAddress
		}
		return sig
	}

	return nil
}
