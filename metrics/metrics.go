// Package metrics collects per-transaction performance counters and timers
// for the coordinator, mirroring the per-transaction metrics threaded through
// disk-backed storage transactions in the teacher corpus, and holds the
// process-wide Prometheus collectors. Per-transaction values are not copied
// into Prometheus.
package metrics

import (
	"sync"
	"time"
)

// Well-known metric names used by the coordinator.
const (
	CommitPrepare   = "coordinator_commit_prepare"
	CommitWait      = "coordinator_commit_wait"
	CommitApply     = "coordinator_commit_apply"
	CommitFinish    = "coordinator_commit_finish"
	FilesystemRenames = "coordinator_filesystem_renames"
	UndoTasksRun    = "coordinator_undo_tasks_run"
	StatsUpdates    = "coordinator_stats_updates"
)

// Timer is a restartable timer that accumulates elapsed time across Start/Stop
// pairs, e.g. when a commit phase spans multiple catalog RPCs.
type Timer interface {
	Start()
	Stop() int64
	Value() int64
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Incr()
	Add(n uint64)
	Value() int64
}

// Metrics is a per-transaction collection of timers and counters. Calling a
// method on a nil Metrics panics; the coordinator's committer substitutes a
// fresh collection from New when it is handed nil.
type Metrics interface {
	Timer(name string) Timer
	Counter(name string) Counter
	All() map[string]interface{}
}

type timer struct {
	mu      sync.Mutex
	start   time.Time
	elapsed time.Duration
	running bool
}

func (t *timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = time.Now()
	t.running = true
}

func (t *timer) Stop() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.elapsed += time.Since(t.start)
		t.running = false
	}
	return t.elapsed.Nanoseconds()
}

func (t *timer) Value() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed.Nanoseconds()
}

type counter struct {
	mu    sync.Mutex
	value int64
}

func (c *counter) Incr() { c.Add(1) }

func (c *counter) Add(n uint64) {
	c.mu.Lock()
	c.value += int64(n)
	c.mu.Unlock()
}

func (c *counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type metrics struct {
	mu       sync.Mutex
	timers   map[string]*timer
	counters map[string]*counter
}

// New returns an empty, independent Metrics collection.
func New() Metrics {
	return &metrics{
		timers:   map[string]*timer{},
		counters: map[string]*counter{},
	}
}

func (m *metrics) Timer(name string) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[name]
	if !ok {
		t = &timer{}
		m.timers[name] = t
	}
	return t
}

func (m *metrics) Counter(name string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = &counter{}
		m.counters[name] = c
	}
	return c
}

func (m *metrics) All() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]interface{}, len(m.timers)+len(m.counters))
	for k, v := range m.timers {
		out["timer_"+k] = v.Value()
	}
	for k, v := range m.counters {
		out["counter_"+k] = v.Value()
	}
	return out
}
