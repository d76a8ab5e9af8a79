package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokenwatch/internal/alerting"
	"tokenwatch/internal/config"
	"tokenwatch/internal/extract"
	"tokenwatch/internal/fetcher"
	"tokenwatch/internal/market"
	"tokenwatch/internal/monitor"
	"tokenwatch/internal/ratelimit"
	"tokenwatch/internal/report"
	"tokenwatch/internal/service"
	"tokenwatch/internal/storage"
	"tokenwatch/internal/strategy"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newSelector wires both providers behind the format-routing selector. The
// on-chain provider is omitted when no API key is configured.
func (a *App) newSelector() *fetcher.Selector {
	dexLimiter := ratelimit.New("dexscreener",
		a.Config.Providers.DexScreener.RateLimit.MaxCalls,
		a.Config.Providers.DexScreener.RateLimit.Window, a.Logger)

	aggregator := fetcher.NewDexScreener(fetcher.DexScreenerOptions{
		BaseURL:   a.Config.Providers.DexScreener.BaseURL,
		Timeout:   a.Config.Providers.DexScreener.RequestTimeout,
		UserAgent: a.Config.Providers.DexScreener.UserAgent,
		Limiter:   dexLimiter,
	}, a.Logger)

	if a.Config.Providers.OnChain.APIKey == "" {
		a.Logger.Warn().Msg("providers.onchain.api_key not configured; on-chain provider disabled")
		return fetcher.NewSelector(nil, aggregator, a.Logger)
	}

	onChainLimiter := ratelimit.New("onchain",
		a.Config.Providers.OnChain.RateLimit.MaxCalls,
		a.Config.Providers.OnChain.RateLimit.Window, a.Logger)
	onChain := fetcher.NewOnChain(fetcher.OnChainOptions{
		APIKey:   a.Config.Providers.OnChain.APIKey,
		RPCURL:   a.Config.Providers.OnChain.RPCURL,
		TxURL:    a.Config.Providers.OnChain.TxURL,
		Timeout:  a.Config.Providers.OnChain.RequestTimeout,
		TxWindow: a.Config.Providers.OnChain.TxWindow,
		Limiter:  onChainLimiter,
	}, a.Logger)

	return fetcher.NewSelector(onChain, aggregator, a.Logger)
}

func (a *App) newEngine() *strategy.Engine {
	s := a.Config.Strategies
	params := strategy.Params{
		VolumeMult:         decimal.NewFromFloat(s.VolumeMult),
		AbsVolumeThreshold: decimal.NewFromFloat(s.AbsVolumeThreshold),
		AbsVolumeInterval:  parseInterval(s.AbsVolumeInterval),
		Burst: strategy.BurstParams{
			Lookback:   s.BurstLookback,
			VolumeMult: decimal.NewFromFloat(s.BurstVolumeMult),
			MinHits:    s.BurstMinHits,
		},
		OnChainBuyRatio: decimal.NewFromFloat(s.OnChainBuyRatio),
	}
	return strategy.NewEngine(params, nil, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, cfg.ChatID, 10*time.Second, a.Logger)
	}
	return alerting.NewConsoleNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	if r := a.Config.Database.Retention; r > 0 {
		cutoff := time.Now().UTC().Add(-r)
		if err := store.DeleteAlertsBefore(ctx, cutoff); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to prune alert history")
		}
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newService assembles the pipeline service with all dependencies.
func (a *App) newService(store *storage.Store) *service.Service {
	var alertStore storage.AlertStore
	if store != nil {
		alertStore = store
	}

	return service.New(a.Config,
		extract.NewExtractor(a.Logger),
		a.newSelector(),
		a.newEngine(),
		alerting.NewTracker(a.Config.Alerting.DedupWindow, a.Logger),
		a.newNotifier(),
		monitor.NewManager(a.Logger),
		alertStore,
		a.Logger,
	)
}

// Run reads chat messages from stdin, one per line, and feeds each through
// the signal pipeline until EOF or a shutdown signal.
func (a *App) Run(ctx context.Context, chatID string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(store)
	defer svc.Stop()

	a.Logger.Info().Msg("tokenwatch started, reading messages from stdin")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.Logger.Info().Msg("shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				a.Logger.Info().Msg("stdin closed, draining pipelines")
				svc.Drain()
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			svc.HandleMessage(ctx, line, chatID)
		}
	}
}

// Scan runs one pipeline for a single identifier and waits for its
// monitoring window to finish.
func (a *App) Scan(ctx context.Context, token, chatID string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(store)
	if err := svc.ProcessToken(ctx, token, chatID); err != nil {
		return err
	}

	a.Logger.Info().Str("token", token).Msg("pipeline finished, waiting for monitoring window")
	svc.Drain()
	return nil
}

// ShowOptions hold parameters for listing recent alerts.
type ShowOptions struct {
	Limit int
}

// Show prints the most recent alerts from the audit store.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	total, err := store.CountAlerts(ctx)
	if err != nil {
		return err
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tToken\tStrategy\tStrength\tChat\tMessage")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Token,
			alert.Strategy,
			alert.Strength,
			alert.ChatID,
			sanitizeInline(alert.Message),
		)
	}

	writer.Flush()
	fmt.Fprintf(os.Stdout, "total alerts stored: %d\n", total)
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

// ExportOptions hold parameters for exporting the alert history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// Export renders the persisted alert history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	alerts, err := store.ListAlertsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		a.Logger.Info().Msg("no alerts found for export window")
		return nil
	}

	downsampled := report.Downsample(alerts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(alerts)).Int("exported", len(downsampled)).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := report.WriteCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := report.WritePNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func parseInterval(s string) market.Interval {
	switch market.Interval(s) {
	case market.Interval1m, market.Interval5m, market.Interval15m, market.Interval1h:
		return market.Interval(s)
	default:
		return market.Interval5m
	}
}
