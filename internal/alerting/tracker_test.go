package alerting

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(window time.Duration) (*Tracker, *time.Time) {
	tr := NewTracker(window, zerolog.Nop())
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return current }
	return tr, &current
}

func TestShouldAlertFirstEver(t *testing.T) {
	tr, _ := newTestTracker(10 * time.Minute)
	ok, since := tr.ShouldAlert("TOK")
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), since)
}

func TestShouldAlertWithinWindow(t *testing.T) {
	tr, now := newTestTracker(10 * time.Minute)
	tr.RecordAlert("TOK", "volume_burst", 70)

	*now = now.Add(3 * time.Minute)
	ok, since := tr.ShouldAlert("TOK")
	assert.False(t, ok, "去重窗口内不应再次告警")
	assert.Equal(t, 3*time.Minute, since)
	assert.Less(t, since, 10*time.Minute)
}

func TestShouldAlertAfterWindow(t *testing.T) {
	tr, now := newTestTracker(10 * time.Minute)
	tr.RecordAlert("TOK", "volume_burst", 70)

	*now = now.Add(10 * time.Minute) // 恰好等于窗口, 允许
	ok, since := tr.ShouldAlert("TOK")
	assert.True(t, ok)
	assert.Equal(t, 10*time.Minute, since)
}

func TestCount24hBoundary(t *testing.T) {
	tr, now := newTestTracker(10 * time.Minute)
	start := *now

	tr.RecordAlert("TOK", "a", 50)
	*now = start.Add(12 * time.Hour)
	tr.RecordAlert("TOK", "b", 60)
	*now = start.Add(23 * time.Hour)
	tr.RecordAlert("TOK", "c", 70)

	assert.Equal(t, 3, tr.Count24h("TOK"))

	// 第一条记录此刻恰好 24h 前: 必须被排除
	*now = start.Add(24 * time.Hour)
	assert.Equal(t, 2, tr.Count24h("TOK"))

	*now = start.Add(48 * time.Hour)
	assert.Equal(t, 0, tr.Count24h("TOK"))
}

func TestUnknownToken(t *testing.T) {
	tr, _ := newTestTracker(10 * time.Minute)
	assert.Equal(t, 0, tr.Count24h("NOPE"))
	ok, _ := tr.ShouldAlert("NOPE")
	assert.True(t, ok)
}

func TestPruneOnWrite(t *testing.T) {
	tr, now := newTestTracker(time.Minute)
	start := *now

	for i := 0; i < 5; i++ {
		tr.RecordAlert("TOK", "a", 50)
		*now = now.Add(time.Minute)
	}
	*now = start.Add(25 * time.Hour)
	tr.RecordAlert("TOK", "a", 50)

	require.Len(t, tr.history["TOK"], 1, "写入时应裁剪 24h 之外的记录")
	assert.Equal(t, 1, tr.Count24h("TOK"))
}

func TestTryAlertAtomicUnderConcurrency(t *testing.T) {
	tr := NewTracker(10*time.Minute, zerolog.Nop())

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := tr.TryAlert("TOK", "volume_burst", 70); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted, "并发下 TryAlert 只能放行一次")
	assert.Equal(t, 1, tr.Count24h("TOK"))
}

func TestStats24h(t *testing.T) {
	tr, _ := newTestTracker(time.Minute)
	tr.RecordAlert("A", "x", 50)
	tr.RecordAlert("A", "x", 50)
	tr.RecordAlert("B", "x", 50)

	stats := tr.Stats24h()
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, stats)
}
