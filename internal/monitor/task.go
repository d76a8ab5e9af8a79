package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokenwatch/internal/market"
)

// State describes where a Task is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateEarlyTerminated
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateEarlyTerminated:
		return "early_terminated"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SampleFunc observes each captured per-minute candle. It must not block
// materially; schedule further work instead of performing it inline.
type SampleFunc func(token string, candle market.Candle, minute int)

// AlertFunc receives the cumulative-volume alert. Invoked at most once per
// task instance.
type AlertFunc func(token string, totalVolume decimal.Decimal)

// TaskOptions parameterise one monitoring run.
type TaskOptions struct {
	Duration        int             // monitoring minutes, default 5
	SampleInterval  time.Duration   // wait between samples, default 60s
	VolumeThreshold decimal.Decimal // cumulative-volume alert threshold
	Intervals       []market.Interval
}

func (o *TaskOptions) normalize() {
	if o.Duration <= 0 {
		o.Duration = 5
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = time.Minute
	}
	if len(o.Intervals) == 0 {
		o.Intervals = []market.Interval{market.Interval1m}
	}
}

// Task polls one token once per sample interval for a bounded number of
// minutes, accumulating candles and firing the alert callback at most once
// when cumulative volume crosses the threshold.
type Task struct {
	token    string
	provider market.Provider
	onSample SampleFunc
	onAlert  AlertFunc
	opts     TaskOptions
	logger   zerolog.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	alerted bool

	mu        sync.Mutex
	state     State
	stopped   bool
	samples   []market.Candle
	startedAt time.Time
}

// NewTask builds an idle task; Start launches it.
func NewTask(token string, provider market.Provider, onSample SampleFunc, onAlert AlertFunc, opts TaskOptions, logger zerolog.Logger) *Task {
	opts.normalize()
	return &Task{
		token:    token,
		provider: provider,
		onSample: onSample,
		onAlert:  onAlert,
		opts:     opts,
		logger: logger.With().Str("component", "monitor_task").
			Str("token", token).Logger(),
		done: make(chan struct{}),
	}
}

// Start runs the monitoring loop until completion, early termination, or
// cancellation. It blocks; the Manager runs it on its own goroutine.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	if t.stopped {
		// Stopped before the goroutine got here; never run a single minute.
		t.state = StateCancelled
		t.mu.Unlock()
		close(t.done)
		t.logger.Info().Msg("task stopped before start")
		return
	}
	if t.state != StateIdle {
		t.mu.Unlock()
		t.logger.Warn().Str("state", t.state.String()).Msg("task already started")
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.state = StateRunning
	t.startedAt = time.Now()
	t.samples = nil
	t.mu.Unlock()

	defer close(t.done)
	defer t.cancel()

	t.logger.Info().Int("duration_minutes", t.opts.Duration).Msg("monitoring started")

	for minute := 1; minute <= t.opts.Duration; minute++ {
		if minute > 1 {
			if err := t.wait(ctx); err != nil {
				t.setState(StateCancelled)
				t.logger.Info().Int("minute", minute).Msg("monitoring cancelled")
				return
			}
		}
		if ctx.Err() != nil {
			t.setState(StateCancelled)
			return
		}

		candle, ok := t.fetch(ctx, minute)
		if !ok {
			// Missing sample: skip this minute, no retry, not zero.
			continue
		}

		t.mu.Lock()
		t.samples = append(t.samples, candle)
		t.mu.Unlock()

		if t.onSample != nil {
			t.onSample(t.token, candle, minute)
		}

		if t.checkVolume(minute) {
			t.setState(StateEarlyTerminated)
			t.logger.Info().Int("minute", minute).Msg("monitoring stopped early, threshold crossed")
			return
		}
	}

	// Full run: one final cumulative check, completed either way.
	t.checkVolume(t.opts.Duration)
	t.setState(StateCompleted)
	t.logger.Info().Int("samples", len(t.Samples())).Msg("monitoring completed")
}

// Stop requests cooperative cancellation. Idempotent; an in-flight fetch or
// wait finishes its current step before the task observes the stop. The stop
// latches: a task stopped before its goroutine reaches Start goes straight
// to Cancelled instead of running.
func (t *Task) Stop() {
	t.mu.Lock()
	t.stopped = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the task goroutine has fully unwound.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Running reports whether the task loop is still active.
func (t *Task) Running() bool {
	return t.State() == StateRunning
}

// Samples returns a copy of the candles captured so far, in minute order.
func (t *Task) Samples() []market.Candle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]market.Candle, len(t.samples))
	copy(out, t.samples)
	return out
}

// TotalVolume sums the volumes of all captured samples.
func (t *Task) TotalVolume() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := decimal.Zero
	for _, c := range t.samples {
		total = total.Add(c.Volume)
	}
	return total
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Task) wait(ctx context.Context) error {
	timer := time.NewTimer(t.opts.SampleInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Task) fetch(ctx context.Context, minute int) (market.Candle, bool) {
	data, err := t.provider.GetData(ctx, t.token, market.ModeKline, t.opts.Intervals)
	if err != nil {
		t.logger.Warn().Err(err).Int("minute", minute).Msg("sample fetch failed, skipping minute")
		return market.Candle{}, false
	}
	if len(data.Candles) == 0 {
		t.logger.Warn().Int("minute", minute).Msg("sample fetch returned nothing, skipping minute")
		return market.Candle{}, false
	}
	return data.Candles[0], true
}

// checkVolume fires the alert callback once when cumulative volume crosses
// the threshold, returning whether it fired on this call.
func (t *Task) checkVolume(minute int) bool {
	if t.alerted || t.opts.VolumeThreshold.Sign() <= 0 {
		return false
	}
	total := t.TotalVolume()
	if !total.GreaterThan(t.opts.VolumeThreshold) {
		return false
	}

	t.alerted = true
	t.logger.Warn().Str("total_volume", total.String()).
		Str("threshold", t.opts.VolumeThreshold.String()).
		Int("minute", minute).Msg("cumulative volume threshold crossed")
	if t.onAlert != nil {
		t.onAlert(t.token, total)
	}
	return true
}
