// Package jobs holds the background jobs of the missions data API.
//
// usage_meter.go implements UsageMeter, which counts authorized requests per API key in
// memory and periodically adds the totals to api_keys.usage_count and last_used_at.
// Counting in memory keeps a database write off the request path. Totals that fail to
// flush are kept and retried on the next tick, so a transient database outage delays the
// counters but does not lose them while the process stays up.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/missionsdata/missions-api/internal/telemetry"
)

// UsageStore persists aggregated usage.
type UsageStore interface {
	AddUsage(ctx context.Context, id string, count int64, at time.Time) error
}

type usage struct {
	count int64
	last  time.Time
}

// UsageMeter aggregates per-key request counts and flushes them on an interval.
type UsageMeter struct {
	store    UsageStore
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]usage

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewUsageMeter creates a UsageMeter. A non-positive interval defaults to 30 seconds.
func NewUsageMeter(store UsageStore, interval time.Duration) *UsageMeter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &UsageMeter{
		store:    store,
		interval: interval,
		now:      time.Now,
		pending:  make(map[string]usage),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Record counts one request for keyID. Safe for concurrent use.
func (m *UsageMeter) Record(keyID string) {
	if keyID == "" {
		return
	}
	now := m.now()
	m.mu.Lock()
	u := m.pending[keyID]
	u.count++
	u.last = now
	m.pending[keyID] = u
	m.mu.Unlock()
}

// Pending returns the number of requests not yet flushed.
func (m *UsageMeter) Pending() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.pending {
		n += u.count
	}
	return n
}

// Start runs the flush loop until ctx is cancelled or Stop is called, then flushes once
// more. It blocks; run it in its own goroutine.
func (m *UsageMeter) Start(ctx context.Context) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("usage meter started", "flush_interval", m.interval)

	for {
		select {
		case <-ticker.C:
			m.Flush(ctx)
		case <-m.stopChan:
			m.finalFlush()
			slog.Info("usage meter stopped")
			return
		case <-ctx.Done():
			m.finalFlush()
			slog.Info("usage meter context cancelled")
			return
		}
	}
}

// Stop ends the loop and waits for the final flush. Calling Stop more than once, or on a
// meter that was never started, is safe.
func (m *UsageMeter) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}
}

func (m *UsageMeter) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n := m.Flush(ctx); n > 0 {
		slog.Warn("usage meter stopped with unflushed usage", "keys", n)
	}
}

// Flush writes all pending usage. Keys whose write fails are put back and merged with
// anything recorded in the meantime. It returns the number of keys still pending.
func (m *UsageMeter) Flush(ctx context.Context) int {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string]usage, len(batch))
	m.mu.Unlock()

	failed := make(map[string]usage)
	for id, u := range batch {
		if err := m.store.AddUsage(ctx, id, u.count, u.last); err != nil {
			telemetry.APIKeyUsageFlushFailuresTotal.Inc()
			slog.Warn("failed to flush api key usage", "api_key_id", id, "count", u.count, "error", err)
			failed[id] = u
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range failed {
		cur := m.pending[id]
		cur.count += u.count
		if u.last.After(cur.last) {
			cur.last = u.last
		}
		m.pending[id] = cur
	}
	return len(m.pending)
}
