package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"tokenwatch/internal/alerting"
	"tokenwatch/internal/config"
	"tokenwatch/internal/extract"
	"tokenwatch/internal/market"
	"tokenwatch/internal/monitor"
	"tokenwatch/internal/storage"
	"tokenwatch/internal/strategy"
)

// ProviderSelector routes a token identifier to the provider serving it.
type ProviderSelector interface {
	Select(ctx context.Context, token string) market.Provider
}

// Service orchestrates the per-token pipeline: extraction, data fetch,
// strategy evaluation, deduplicated alert delivery, and bounded monitoring.
type Service struct {
	extractor *extract.Extractor
	selector  ProviderSelector
	engine    *strategy.Engine
	tracker   *alerting.Tracker
	notifier  alerting.Notifier
	manager   *monitor.Manager
	alerts    storage.AlertStore
	gate      *semaphore.Weighted
	logger    zerolog.Logger

	monitorMinutes  int
	sampleInterval  time.Duration
	volumeThreshold decimal.Decimal

	wg sync.WaitGroup
}

// New constructs the pipeline service. alerts may be nil when persistence
// is not configured.
func New(cfg *config.Config, extractor *extract.Extractor, selector ProviderSelector,
	engine *strategy.Engine, tracker *alerting.Tracker, notifier alerting.Notifier,
	manager *monitor.Manager, alerts storage.AlertStore, logger zerolog.Logger) *Service {

	minutes := int(cfg.Monitor.Duration / time.Minute)
	if minutes <= 0 {
		minutes = 1
	}

	return &Service{
		extractor:       extractor,
		selector:        selector,
		engine:          engine,
		tracker:         tracker,
		notifier:        notifier,
		manager:         manager,
		alerts:          alerts,
		gate:            semaphore.NewWeighted(int64(cfg.Pipeline.MaxConcurrent)),
		logger:          logger.With().Str("component", "service").Logger(),
		monitorMinutes:  minutes,
		sampleInterval:  cfg.Monitor.SampleInterval,
		volumeThreshold: decimal.NewFromFloat(cfg.Monitor.VolumeThreshold),
	}
}

// HandleMessage extracts token identifiers from a chat message and launches
// one pipeline per identifier. It returns the extracted tokens immediately;
// pipelines run in the background under the concurrency gate.
func (s *Service) HandleMessage(ctx context.Context, text, chatID string) []extract.Token {
	tokens := s.extractor.Extract(text)
	if len(tokens) == 0 {
		return nil
	}

	s.logger.Info().Int("tokens", len(tokens)).Str("chat_id", chatID).Msg("消息中识别到标的")
	for _, token := range tokens {
		token := token
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ProcessToken(ctx, token.Norm, chatID); err != nil {
				s.logger.Error().Err(err).Str("token", token.Norm).Msg("处理标的失败")
			}
		}()
	}
	return tokens
}

// ProcessToken runs one full pipeline for a single identifier: acquire a
// gate slot, fetch data, evaluate the direct rules, then hand the token to
// the monitoring manager. Errors are contained per token.
func (s *Service) ProcessToken(ctx context.Context, token, chatID string) error {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire pipeline slot: %w", err)
	}
	defer s.gate.Release(1)

	provider := s.selector.Select(ctx, token)
	if provider == nil {
		return fmt.Errorf("no provider for token %s", token)
	}

	data, err := s.fetch(ctx, provider, token)
	if err != nil {
		return fmt.Errorf("fetch %s data: %w", token, err)
	}
	if data.Empty() {
		s.logger.Warn().Str("token", token).Str("source", provider.SourceName()).Msg("未获取到任何数据")
		return nil
	}

	for _, sig := range s.engine.Evaluate(token, data) {
		s.emit(ctx, chatID, sig)
	}

	s.startMonitoring(ctx, token, chatID, provider)
	return nil
}

// fetch pulls kline data, plus the on-chain summary when the provider can
// serve it.
func (s *Service) fetch(ctx context.Context, provider market.Provider, token string) (market.Data, error) {
	data, err := provider.GetData(ctx, token, market.ModeKline, nil)
	if err != nil {
		return market.Data{}, err
	}

	if provider.SupportsMode(market.ModeOnChain) {
		onchain, err := provider.GetData(ctx, token, market.ModeOnChain, nil)
		if err != nil {
			s.logger.Warn().Err(err).Str("token", token).Msg("链上摘要获取失败, 仅使用K线")
		} else {
			data.OnChain = onchain.OnChain
		}
	}
	return data, nil
}

// startMonitoring launches the bounded monitoring task whose per-minute
// callback accumulates candles and re-runs burst detection over the series.
func (s *Service) startMonitoring(ctx context.Context, token, chatID string, provider market.Provider) {
	if s.manager == nil {
		return
	}

	var seriesMu sync.Mutex
	var series []market.Candle

	onSample := func(token string, candle market.Candle, minute int) {
		seriesMu.Lock()
		series = append(series, candle)
		snapshot := make([]market.Candle, len(series))
		copy(snapshot, series)
		seriesMu.Unlock()

		if sig := s.engine.EvaluateSeries(token, snapshot); sig != nil {
			s.emit(ctx, chatID, *sig)
		}
	}

	onAlert := func(token string, total decimal.Decimal) {
		sig := strategy.CumulativeVolume(token, total, s.volumeThreshold, time.Now())
		s.emit(ctx, chatID, sig)
	}

	s.manager.StartMonitoring(ctx, token, provider, onSample, onAlert, monitor.TaskOptions{
		Duration:        s.monitorMinutes,
		SampleInterval:  s.sampleInterval,
		VolumeThreshold: s.volumeThreshold,
	})
}

// emit routes a signal through dedup, delivery, and the audit store.
func (s *Service) emit(ctx context.Context, chatID string, sig strategy.Signal) {
	ok, since := s.tracker.TryAlert(sig.Token, sig.Strategy, sig.Strength)
	if !ok {
		s.logger.Debug().Str("token", sig.Token).Str("strategy", sig.Strategy).
			Dur("since_last", since).Msg("信号在去重窗口内, 已抑制")
		return
	}

	count := s.tracker.Count24h(sig.Token)
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, chatID, sig, count); err != nil {
			s.logger.Error().Err(err).Str("token", sig.Token).Msg("信号推送失败")
		}
	}
	s.persist(ctx, chatID, sig)
}

// persist writes the alert audit row; failures are logged, never fatal.
func (s *Service) persist(ctx context.Context, chatID string, sig strategy.Signal) {
	if s.alerts == nil {
		return
	}

	var evidence json.RawMessage
	if len(sig.Evidence) > 0 {
		if raw, err := json.Marshal(sig.Evidence); err == nil {
			evidence = raw
		}
	}

	record := storage.AlertRecord{
		Token:    sig.Token,
		Strategy: sig.Strategy,
		Strength: sig.Strength,
		Message:  sig.Message,
		Evidence: evidence,
		ChatID:   chatID,
	}
	if _, err := s.alerts.InsertAlert(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("token", sig.Token).Msg("告警审计写入失败")
	}
}

// Drain waits for in-flight pipelines and running monitoring tasks to
// finish naturally. Used by one-shot commands.
func (s *Service) Drain() {
	s.wg.Wait()
	if s.manager != nil {
		s.manager.WaitAll()
	}
}

// Stop halts all monitoring tasks and waits for in-flight pipelines.
func (s *Service) Stop() {
	if s.manager != nil {
		s.manager.StopAll()
	}
	s.wg.Wait()
}

// Tracker exposes the dedup tracker, for status reporting.
func (s *Service) Tracker() *alerting.Tracker {
	return s.tracker
}
