package alerting

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Record is one remembered alert for a token.
type Record struct {
	Token     string
	Strategy  string
	Timestamp time.Time
	Strength  int
}

// Tracker deduplicates alerts per token within a trailing window and keeps
// a rolling 24-hour alert count per token. All state is in-memory and
// process-lifetime.
type Tracker struct {
	dedupWindow time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	history map[string][]Record
	// lastAlert is the dedup boundary per token. Never pruned: it marks a
	// window edge, not history.
	lastAlert map[string]time.Time

	now func() time.Time
}

const historyHorizon = 24 * time.Hour

// NewTracker constructs a tracker with the given dedup window.
func NewTracker(dedupWindow time.Duration, logger zerolog.Logger) *Tracker {
	if dedupWindow <= 0 {
		dedupWindow = 10 * time.Minute
	}
	return &Tracker{
		dedupWindow: dedupWindow,
		logger:      logger.With().Str("component", "alert_tracker").Logger(),
		history:     make(map[string][]Record),
		lastAlert:   make(map[string]time.Time),
		now:         time.Now,
	}
}

// ShouldAlert reports whether an alert for the token may fire now, and how
// long ago the previous one fired (zero for a first-ever token).
//
// This is a check, not a reservation: it does not compose atomically with
// RecordAlert under concurrent pipelines for the same token. Pipelines use
// TryAlert instead.
func (t *Tracker) ShouldAlert(token string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shouldAlertLocked(token)
}

// RecordAlert appends an alert record, moves the dedup boundary, and prunes
// the token's history to the trailing 24 hours.
func (t *Tracker) RecordAlert(token, strategy string, strength int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(token, strategy, strength)
}

// TryAlert merges the should-alert check and the record into one critical
// section, so two concurrent pipelines for the same token cannot both pass.
// It returns whether the alert was admitted and the time since the previous
// alert for the token.
func (t *Tracker) TryAlert(token, strategy string, strength int) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ok, since := t.shouldAlertLocked(token)
	if !ok {
		t.logger.Debug().Str("token", token).Dur("since_last", since).
			Dur("window", t.dedupWindow).Msg("alert suppressed by dedup window")
		return false, since
	}
	t.recordLocked(token, strategy, strength)
	return true, since
}

// Count24h returns how many alerts fired for the token in the trailing 24
// hours. Unknown tokens count zero.
func (t *Tracker) Count24h(token string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	records, ok := t.history[token]
	if !ok {
		return 0
	}
	cutoff := t.now().Add(-historyHorizon)
	n := 0
	for _, r := range records {
		// A record exactly 24h old is already outside the horizon.
		if r.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// Stats24h returns the 24-hour alert count for every tracked token.
func (t *Tracker) Stats24h() map[string]int {
	t.mu.Lock()
	tokens := make([]string, 0, len(t.history))
	for token := range t.history {
		tokens = append(tokens, token)
	}
	t.mu.Unlock()

	stats := make(map[string]int, len(tokens))
	for _, token := range tokens {
		stats[token] = t.Count24h(token)
	}
	return stats
}

func (t *Tracker) shouldAlertLocked(token string) (bool, time.Duration) {
	last, ok := t.lastAlert[token]
	if !ok {
		return true, 0
	}
	since := t.now().Sub(last)
	return since >= t.dedupWindow, since
}

func (t *Tracker) recordLocked(token, strategy string, strength int) {
	now := t.now()
	t.history[token] = append(t.history[token], Record{
		Token:     token,
		Strategy:  strategy,
		Timestamp: now,
		Strength:  strength,
	})
	t.lastAlert[token] = now

	// Prune this token's history on every write.
	cutoff := now.Add(-historyHorizon)
	records := t.history[token]
	kept := records[:0]
	for _, r := range records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	t.history[token] = kept
}
