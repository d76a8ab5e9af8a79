package fetcher

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"tokenwatch/internal/market"
)

type fakeProvider struct {
	name      string
	available bool
}

func (f *fakeProvider) GetData(context.Context, string, market.Mode, []market.Interval) (market.Data, error) {
	return market.Data{}, nil
}
func (f *fakeProvider) IsAvailable(context.Context, string) bool { return f.available }
func (f *fakeProvider) SourceName() string                       { return f.name }
func (f *fakeProvider) SupportsMode(market.Mode) bool            { return true }

func TestSelectorRoutesBase58ToOnChain(t *testing.T) {
	onChain := &fakeProvider{name: "Helius", available: true}
	aggregator := &fakeProvider{name: "DexScreener", available: true}
	sel := NewSelector(onChain, aggregator, zerolog.Nop())

	if got := sel.Select(context.Background(), solanaMint); got.SourceName() != "Helius" {
		t.Fatalf("base58 地址应路由到链上数据源, 实际 %s", got.SourceName())
	}
}

func TestSelectorRoutesOthersToAggregator(t *testing.T) {
	onChain := &fakeProvider{name: "Helius", available: true}
	aggregator := &fakeProvider{name: "DexScreener", available: true}
	sel := NewSelector(onChain, aggregator, zerolog.Nop())

	for _, token := range []string{"PEPE", "0x6982508145454Ce325dDbE47a25d4ec3d2311933"} {
		if got := sel.Select(context.Background(), token); got.SourceName() != "DexScreener" {
			t.Fatalf("%s 应路由到聚合器, 实际 %s", token, got.SourceName())
		}
	}
}

func TestSelectorFallsBackWhenOnChainUnavailable(t *testing.T) {
	onChain := &fakeProvider{name: "Helius", available: false}
	aggregator := &fakeProvider{name: "DexScreener", available: true}
	sel := NewSelector(onChain, aggregator, zerolog.Nop())

	if got := sel.Select(context.Background(), solanaMint); got.SourceName() != "DexScreener" {
		t.Fatalf("链上不可用时应回退到聚合器, 实际 %s", got.SourceName())
	}
}

func TestSelectorWithoutOnChainProvider(t *testing.T) {
	aggregator := &fakeProvider{name: "DexScreener", available: true}
	sel := NewSelector(nil, aggregator, zerolog.Nop())

	if got := sel.Select(context.Background(), solanaMint); got.SourceName() != "DexScreener" {
		t.Fatalf("未配置链上数据源时应使用聚合器, 实际 %s", got.SourceName())
	}
}
