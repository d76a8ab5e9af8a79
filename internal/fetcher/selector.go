package fetcher

import (
	"context"

	"github.com/rs/zerolog"

	"tokenwatch/internal/market"
)

// Selector routes a token identifier to a provider: base58 mint addresses go
// on-chain, everything else to the aggregator. The aggregator also serves as
// fallback when the on-chain source cannot serve the token.
type Selector struct {
	onChain    market.Provider
	aggregator market.Provider
	logger     zerolog.Logger
}

// NewSelector constructs the provider selector. onChain may be nil when no
// API key is configured.
func NewSelector(onChain, aggregator market.Provider, logger zerolog.Logger) *Selector {
	return &Selector{
		onChain:    onChain,
		aggregator: aggregator,
		logger:     logger.With().Str("component", "provider_selector").Logger(),
	}
}

// Select returns the provider to use for the token.
func (s *Selector) Select(ctx context.Context, token string) market.Provider {
	if IsBase58Address(token) && s.onChain != nil {
		if s.onChain.IsAvailable(ctx, token) {
			return s.onChain
		}
		s.logger.Debug().Str("token", token).Msg("链上数据源不可用, 回退到聚合器")
	}
	return s.aggregator
}
