package strategy

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokenwatch/internal/market"
)

// Params hold the per-rule tuning the engine evaluates with.
type Params struct {
	// VolumeMult is the rolling-average multiple for VolumePriceRise.
	VolumeMult decimal.Decimal
	// AbsVolumeThreshold and AbsVolumeInterval drive AbsoluteVolume.
	AbsVolumeThreshold decimal.Decimal
	AbsVolumeInterval  market.Interval
	// Burst tunes the sliding-window detector.
	Burst BurstParams
	// OnChainBuyRatio is the minimum buy share for the on-chain variant of
	// the volume/price rule.
	OnChainBuyRatio decimal.Decimal
}

// DefaultParams mirror the production defaults.
func DefaultParams() Params {
	return Params{
		VolumeMult:         decimal.NewFromFloat(1.5),
		AbsVolumeThreshold: decimal.NewFromInt(50000),
		AbsVolumeInterval:  market.Interval5m,
		Burst:              DefaultBurstParams(),
		OnChainBuyRatio:    decimal.NewFromFloat(0.6),
	}
}

// Engine evaluates the enabled rule set against fetched data. Rules are
// pure functions; the engine only supplies parameters and collects signals.
type Engine struct {
	params  Params
	enabled map[string]bool
	logger  zerolog.Logger
}

// NewEngine builds an engine with the given enabled strategy names. An
// empty list enables everything.
func NewEngine(params Params, enabled []string, logger zerolog.Logger) *Engine {
	set := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		set[name] = true
	}
	return &Engine{
		params:  params,
		enabled: set,
		logger:  logger.With().Str("component", "strategy").Logger(),
	}
}

func (e *Engine) ruleEnabled(name string) bool {
	return len(e.enabled) == 0 || e.enabled[name]
}

// Evaluate runs the single-sample threshold rules over fetched data and
// returns every signal that fired. For kline data only the most recent
// candle feeds the threshold rules; the burst detector wants an accumulated
// series and is invoked separately via EvaluateSeries.
func (e *Engine) Evaluate(token string, data market.Data) []Signal {
	var out []Signal

	if len(data.Candles) > 0 {
		candle := data.Candles[len(data.Candles)-1]

		if e.ruleEnabled(NameVolumePriceRise) {
			// No rolling history at this point in the pipeline; estimate
			// the baseline as half the observed volume, as the upstream
			// 24h aggregates leave nothing better.
			avg := candle.Volume.Div(decimal.NewFromInt(2))
			if sig := VolumePriceRise(candle, avg, e.params.VolumeMult); sig != nil {
				out = append(out, *sig)
			}
		}
		if e.ruleEnabled(NameAbsoluteVolume) {
			for _, c := range data.Candles {
				if sig := AbsoluteVolume(c, e.params.AbsVolumeInterval, e.params.AbsVolumeThreshold); sig != nil {
					out = append(out, *sig)
					break
				}
			}
		}
	}

	if data.OnChain != nil && e.ruleEnabled(NameVolumePriceRise) {
		if sig := e.onChainVolumeRise(token, *data.OnChain); sig != nil {
			out = append(out, *sig)
		}
	}

	for _, sig := range out {
		e.logger.Info().Str("token", token).Str("strategy", sig.Strategy).
			Int("strength", sig.Strength).Msg("signal fired")
	}
	return out
}

// EvaluateSeries runs the sliding-window burst detector over an accumulated
// candle series, typically the samples a monitoring task has gathered.
func (e *Engine) EvaluateSeries(token string, candles []market.Candle) *Signal {
	if !e.ruleEnabled(NameVolumeBurst) {
		return nil
	}
	sig := DetectVolumeBurst(token, candles, e.params.Burst)
	if sig != nil {
		e.logger.Info().Str("token", token).Int("strength", sig.Strength).
			Int("candles", len(candles)).Msg("volume burst detected")
	}
	return sig
}

// onChainVolumeRise is the ModeOnChain variant of volume/price rise: a
// dominant buy share together with positive 24h price change.
func (e *Engine) onChainVolumeRise(token string, s market.OnChainSummary) *Signal {
	if s.TotalVolume.Sign() <= 0 {
		return nil
	}
	buyRatio := s.BuyVolume.Div(s.TotalVolume)
	change := decimal.Zero
	if s.PriceChange24h != nil {
		change = *s.PriceChange24h
	}
	if !buyRatio.GreaterThan(e.params.OnChainBuyRatio) || change.Sign() <= 0 {
		return nil
	}

	strength := clampStrength(change.Mul(decimal.NewFromInt(10)).
		Add(buyRatio.Mul(decimal.NewFromInt(50))).IntPart())

	return &Signal{
		Strategy: NameVolumePriceRise,
		Token:    token,
		Strength: strength,
		Message: fmt.Sprintf("量增价升信号(链上): %s\n价格: $%s\n买入占比: %s%%",
			token, s.Price.String(), buyRatio.Mul(decimal.NewFromInt(100)).StringFixed(2)),
		Evidence: map[string]any{
			"buy_volume":   s.BuyVolume.String(),
			"total_volume": s.TotalVolume.String(),
			"buy_ratio":    buyRatio.String(),
			"change_24h":   change.String(),
		},
		Timestamp: timeOrNow(s.Timestamp),
	}
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
