package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenwatch/internal/alerting"
	"tokenwatch/internal/config"
	"tokenwatch/internal/extract"
	"tokenwatch/internal/market"
	"tokenwatch/internal/monitor"
	"tokenwatch/internal/strategy"
)

type stubProvider struct {
	mu        sync.Mutex
	volume    decimal.Decimal
	err       error
	fetchGap  time.Duration
	inFlight  int32
	maxSeen   int32
	callCount int32
}

func (p *stubProvider) GetData(ctx context.Context, token string, mode market.Mode, _ []market.Interval) (market.Data, error) {
	cur := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&p.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&p.maxSeen, prev, cur) {
			break
		}
	}
	atomic.AddInt32(&p.callCount, 1)

	if p.fetchGap > 0 {
		time.Sleep(p.fetchGap)
	}
	if p.err != nil {
		return market.Data{}, p.err
	}
	if mode == market.ModeOnChain {
		return market.Data{}, errors.New("onchain not supported")
	}

	p.mu.Lock()
	volume := p.volume
	p.mu.Unlock()
	price := decimal.NewFromFloat(1.5)
	return market.Data{Candles: []market.Candle{{
		Symbol:    token,
		Interval:  market.Interval5m,
		Timestamp: time.Now(),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
	}}}, nil
}

func (p *stubProvider) IsAvailable(context.Context, string) bool { return true }
func (p *stubProvider) SourceName() string                       { return "stub" }
func (p *stubProvider) SupportsMode(mode market.Mode) bool       { return mode == market.ModeKline }

type stubSelector struct {
	provider market.Provider
}

func (s *stubSelector) Select(context.Context, string) market.Provider { return s.provider }

type recordingNotifier struct {
	mu      sync.Mutex
	signals []strategy.Signal
	chatIDs []string
}

func (n *recordingNotifier) Notify(_ context.Context, chatID string, sig strategy.Signal, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signals = append(n.signals, sig)
	n.chatIDs = append(n.chatIDs, chatID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.signals)
}

func (n *recordingNotifier) strategies() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.signals))
	for _, s := range n.signals {
		out = append(out, s.Strategy)
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Monitor: config.MonitorConfig{
			Duration:        2 * time.Minute,
			SampleInterval:  5 * time.Millisecond,
			VolumeThreshold: 5000,
		},
		Pipeline: config.PipelineConfig{MaxConcurrent: 4},
	}
}

func newTestService(cfg *config.Config, provider market.Provider, notifier alerting.Notifier, dedup time.Duration) *Service {
	return newTestServiceWithManager(cfg, provider, notifier, dedup, monitor.NewManager(zerolog.Nop()))
}

func newTestServiceWithManager(cfg *config.Config, provider market.Provider, notifier alerting.Notifier, dedup time.Duration, manager *monitor.Manager) *Service {
	logger := zerolog.Nop()
	return New(cfg,
		extract.NewExtractor(logger),
		&stubSelector{provider: provider},
		strategy.NewEngine(strategy.DefaultParams(), nil, logger),
		alerting.NewTracker(dedup, logger),
		notifier,
		manager,
		nil,
		logger,
	)
}

func TestHandleMessagePipeline(t *testing.T) {
	provider := &stubProvider{volume: decimal.NewFromInt(60000)}
	notifier := &recordingNotifier{}
	svc := newTestService(testConfig(), provider, notifier, time.Millisecond)

	tokens := svc.HandleMessage(context.Background(), "冲 $PEPE", "chat-1")
	require.Len(t, tokens, 1)
	assert.Equal(t, "PEPE", tokens[0].Norm)

	// 直接规则信号 (放量) + 监控累计量信号都应送达
	require.Eventually(t, func() bool { return notifier.count() >= 2 }, 2*time.Second, 10*time.Millisecond,
		"应至少收到两条信号")
	svc.Stop()

	names := notifier.strategies()
	assert.Contains(t, names, strategy.NameAbsoluteVolume)
	assert.Contains(t, names, strategy.NameMonitorVolume)
}

func TestHandleMessageNoTokens(t *testing.T) {
	provider := &stubProvider{volume: decimal.NewFromInt(100)}
	notifier := &recordingNotifier{}
	svc := newTestService(testConfig(), provider, notifier, time.Minute)

	tokens := svc.HandleMessage(context.Background(), "今天吃什么", "chat-1")
	assert.Nil(t, tokens)
	svc.Stop()
	assert.Zero(t, notifier.count())
	assert.Zero(t, atomic.LoadInt32(&provider.callCount), "无标的时不应发起任何请求")
}

func TestDedupSuppressesRepeatSignals(t *testing.T) {
	provider := &stubProvider{volume: decimal.NewFromInt(60000)}
	notifier := &recordingNotifier{}
	svc := newTestService(testConfig(), provider, notifier, 10*time.Minute)

	require.NoError(t, svc.ProcessToken(context.Background(), "PEPE", "chat-1"))
	svc.Stop()

	// 放量信号先到, 之后的累计量信号落在去重窗口内
	assert.Equal(t, 1, notifier.count(), "同一标的在窗口内应只推送一次")
}

func TestProcessTokenFetchFailureContained(t *testing.T) {
	provider := &stubProvider{err: errors.New("boom")}
	notifier := &recordingNotifier{}
	svc := newTestService(testConfig(), provider, notifier, time.Minute)

	err := svc.ProcessToken(context.Background(), "PEPE", "chat-1")
	require.Error(t, err)
	svc.Stop()
	assert.Zero(t, notifier.count())
}

func TestConcurrencyGateBoundsPipelines(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.MaxConcurrent = 1
	provider := &stubProvider{volume: decimal.NewFromInt(10), fetchGap: 20 * time.Millisecond}
	notifier := &recordingNotifier{}
	// 监控任务的采样不占用闸门, 这里只验证直接抓取阶段
	svc := newTestServiceWithManager(cfg, provider, notifier, time.Minute, nil)

	tokens := svc.HandleMessage(context.Background(), "$AAA $BBB $CCC", "chat-1")
	require.Len(t, tokens, 3)

	// 等待所有直接抓取完成
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&provider.callCount) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	svc.Stop()

	assert.LessOrEqual(t, atomic.LoadInt32(&provider.maxSeen), int32(1),
		"闸门容量为1时不应出现并发抓取")
}

func TestPipelineReleasesGateAfterFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.MaxConcurrent = 1
	provider := &stubProvider{err: errors.New("boom")}
	notifier := &recordingNotifier{}
	svc := newTestService(cfg, provider, notifier, time.Minute)

	for i := 0; i < 3; i++ {
		require.Error(t, svc.ProcessToken(context.Background(), "PEPE", "chat-1"))
	}
	svc.Stop()
}
