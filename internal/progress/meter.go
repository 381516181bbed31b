package progress

import (
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between current-rate recomputations.
const DefaultInterval = 100 * time.Millisecond

// Stats represents a point-in-time snapshot of progress.
type Stats struct {
	BytesDone  int64
	Total      int64
	CurrentBps float64
	AverageBps float64
	// ETA is only meaningful when ETAKnown is set.
	ETA       time.Duration
	ETAKnown  bool
	Percent   float64
	StartedAt time.Time
}

// Meter tracks byte progress. The current rate is the byte delta over the wall
// delta since the previous recomputation, refreshed at most once per interval.
type Meter struct {
	mu         sync.Mutex
	total      int64
	done       int64
	startedAt  time.Time
	lastAt     time.Time
	lastDone   int64
	currentBps float64
	interval   time.Duration
	now        func() time.Time
}

// NewMeter returns a meter using the wall clock.
func NewMeter(interval time.Duration) *Meter {
	return NewMeterWithNow(interval, time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(interval time.Duration, now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Meter{interval: interval, now: now}
}

// Start initializes the meter with a total size.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.currentBps = 0
}

// Add increments the completed byte count and reports whether the current
// rate was recomputed.
func (m *Meter) Add(n int) bool {
	if n <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done += int64(n)
	now := m.now()
	elapsed := now.Sub(m.lastAt)
	if elapsed < m.interval {
		return false
	}
	m.currentBps = float64(m.done-m.lastDone) / elapsed.Seconds()
	m.lastAt = now
	m.lastDone = m.done
	return true
}

// Reset clears all counters.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m = Meter{interval: m.interval, now: m.now}
}

// Snapshot returns a current snapshot of progress stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		BytesDone:  m.done,
		Total:      m.total,
		CurrentBps: m.currentBps,
		StartedAt:  m.startedAt,
	}
	if m.total > 0 {
		stats.Percent = float64(m.done) / float64(m.total) * 100
	}
	if !m.startedAt.IsZero() {
		if elapsed := m.now().Sub(m.startedAt).Seconds(); elapsed > 0 {
			stats.AverageBps = float64(m.done) / elapsed
		}
	}
	if m.currentBps > 0 {
		remaining := max(m.total-m.done, 0)
		stats.ETA = time.Duration(float64(remaining) / m.currentBps * float64(time.Second))
		stats.ETAKnown = true
	}
	return stats
}
