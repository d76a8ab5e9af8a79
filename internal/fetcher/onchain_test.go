package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokenwatch/internal/market"
)

const solanaMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func newOnChainTestServer(t *testing.T, price float64, txs []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if r.URL.Query().Get("api-key") == "" {
				t.Fatal("RPC 请求应携带 api-key")
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]any{
					"token_info": map[string]any{
						"symbol":     "USDC",
						"price_info": map[string]any{"price_per_token": price},
					},
				},
			})
			return
		}
		if strings.Contains(r.URL.Path, "/addresses/") {
			_ = json.NewEncoder(w).Encode(txs)
			return
		}
		t.Fatalf("未预期的请求: %s %s", r.Method, r.URL.Path)
	}))
}

func transferTx(ts int64, mint string, amount float64) map[string]any {
	return map[string]any{
		"timestamp": ts,
		"signature": fmt.Sprintf("sig-%d", ts),
		"tokenTransfers": []map[string]any{
			{"mint": mint, "tokenAmount": amount},
		},
	}
}

func TestOnChainRequiresAPIKey(t *testing.T) {
	provider := NewOnChain(OnChainOptions{}, zerolog.Nop())

	_, err := provider.GetData(context.Background(), solanaMint, market.ModeKline, nil)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("缺少密钥应返回 ErrNoAPIKey, 实际 %v", err)
	}
	if provider.IsAvailable(context.Background(), solanaMint) {
		t.Fatal("缺少密钥时应不可用")
	}
}

func TestOnChainRejectsNonSolanaAddress(t *testing.T) {
	provider := NewOnChain(OnChainOptions{APIKey: "key"}, zerolog.Nop())

	if _, err := provider.GetData(context.Background(), "0xdeadbeef", market.ModeKline, nil); err == nil {
		t.Fatal("非base58地址应报错")
	}
}

func TestOnChainKlineFromTrades(t *testing.T) {
	now := time.Now()
	txs := []map[string]any{
		transferTx(now.Add(-30*time.Second).Unix(), solanaMint, 1000),
		transferTx(now.Add(-10*time.Second).Unix(), solanaMint, -500),
		transferTx(now.Add(-5*time.Minute).Unix(), solanaMint, 9999), // 窗口外
	}
	srv := newOnChainTestServer(t, 2.5, txs)
	defer srv.Close()

	provider := NewOnChain(OnChainOptions{APIKey: "key", RPCURL: srv.URL, TxURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	provider.now = func() time.Time { return now }

	data, err := provider.GetData(context.Background(), solanaMint, market.ModeKline, []market.Interval{market.Interval1m})
	if err != nil {
		t.Fatalf("GetData 应成功: %v", err)
	}
	if len(data.Candles) != 1 {
		t.Fatalf("应返回一根1mK线, 实际 %d", len(data.Candles))
	}

	candle := data.Candles[0]
	if candle.Symbol != "USDC" {
		t.Fatalf("symbol 不正确: %s", candle.Symbol)
	}
	if candle.Interval != market.Interval1m {
		t.Fatalf("周期应为1m: %s", candle.Interval)
	}
	if !candle.Volume.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("成交量应为窗口内交易之和 1500, 实际 %s", candle.Volume)
	}
	if !candle.Close.Equal(decimal.NewFromFloat(2.5)) {
		t.Fatalf("无逐笔价格时应回退到当前价: %s", candle.Close)
	}
}

func TestOnChainKlinePlaceholderWithoutTrades(t *testing.T) {
	srv := newOnChainTestServer(t, 1.25, []map[string]any{})
	defer srv.Close()

	provider := NewOnChain(OnChainOptions{APIKey: "key", RPCURL: srv.URL, TxURL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	data, err := provider.GetData(context.Background(), solanaMint, market.ModeKline, nil)
	if err != nil {
		t.Fatalf("GetData 应成功: %v", err)
	}
	if len(data.Candles) != 1 {
		t.Fatalf("无交易时也应有占位K线, 实际 %d", len(data.Candles))
	}
	candle := data.Candles[0]
	if !candle.IsPlaceholder() {
		t.Fatalf("应为占位K线: %+v", candle)
	}
	if !candle.Close.Equal(decimal.NewFromFloat(1.25)) {
		t.Fatalf("占位K线应使用当前价: %s", candle.Close)
	}
}

func TestOnChainSkipsUnsupportedIntervals(t *testing.T) {
	srv := newOnChainTestServer(t, 1, nil)
	defer srv.Close()

	provider := NewOnChain(OnChainOptions{APIKey: "key", RPCURL: srv.URL, TxURL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	data, err := provider.GetData(context.Background(), solanaMint, market.ModeKline, []market.Interval{market.Interval1h})
	if err != nil {
		t.Fatalf("GetData 应成功: %v", err)
	}
	if !data.Empty() {
		t.Fatal("仅请求1h周期时链上数据源应返回空")
	}
}

func TestOnChainSummary(t *testing.T) {
	now := time.Now()
	txs := []map[string]any{
		transferTx(now.Add(-time.Hour).Unix(), solanaMint, 300),
		transferTx(now.Add(-2*time.Hour).Unix(), solanaMint, -100),
		transferTx(now.Add(-30*time.Hour).Unix(), solanaMint, 7777), // 超过24h
	}
	srv := newOnChainTestServer(t, 3, txs)
	defer srv.Close()

	provider := NewOnChain(OnChainOptions{APIKey: "key", RPCURL: srv.URL, TxURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	provider.now = func() time.Time { return now }

	data, err := provider.GetData(context.Background(), solanaMint, market.ModeOnChain, nil)
	if err != nil {
		t.Fatalf("GetData 应成功: %v", err)
	}
	if data.OnChain == nil {
		t.Fatal("onchain 模式应返回摘要")
	}
	summary := data.OnChain
	if !summary.BuyVolume.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("买入量不正确: %s", summary.BuyVolume)
	}
	if !summary.SellVolume.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("卖出量不正确: %s", summary.SellVolume)
	}
	if !summary.TotalVolume.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("总量不正确: %s", summary.TotalVolume)
	}
	if !summary.Price.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("价格不正确: %s", summary.Price)
	}
}

func TestIsBase58Address(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{solanaMint, true},
		{"So11111111111111111111111111111111111111112", true},
		{"0x6982508145454Ce325dDbE47a25d4ec3d2311933", false}, // 含0和x前缀
		{"short", false},
		{"", false},
		{strings.Repeat("A", 45), false},
		{strings.Repeat("A", 32), true},
		{"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDtOl", false}, // 含O
	}
	for _, tc := range cases {
		if got := IsBase58Address(tc.in); got != tc.want {
			t.Fatalf("IsBase58Address(%q) = %v, 期望 %v", tc.in, got, tc.want)
		}
	}
}
