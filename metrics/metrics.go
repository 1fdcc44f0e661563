// Package metrics implements the small set of in-house counters the
// version manager exposes for operational visibility: meters for
// processor throughput and rejections, gauges for queue depth, a timer
// for bootstrap duration. It mirrors geth's own metrics package (itself
// not a vendored third-party registry) rather than pulling in an
// external metrics client for what amounts to a handful of counters.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonic (or not) int64 counter.
type Counter interface {
	Inc(int64)
	Dec(int64)
	Count() int64
}

type counter struct{ v int64 }

func (c *counter) Inc(n int64) { atomic.AddInt64(&c.v, n) }
func (c *counter) Dec(n int64) { atomic.AddInt64(&c.v, -n) }
func (c *counter) Count() int64 { return atomic.LoadInt64(&c.v) }

// Gauge holds a single instantaneous value.
type Gauge interface {
	Update(int64)
	Value() int64
}

type gauge struct{ v int64 }

func (g *gauge) Update(n int64) { atomic.StoreInt64(&g.v, n) }
func (g *gauge) Value() int64   { return atomic.LoadInt64(&g.v) }

// Meter tracks the rate of events over 1/5/15-minute exponentially
// weighted moving averages, the same windows geth's meter.go exposes.
type Meter interface {
	Mark(int64)
	Snapshot() MeterSnapshot
}

// MeterSnapshot is a point-in-time read of a Meter's rates.
type MeterSnapshot struct {
	Count    int64
	Rate1    float64
	Rate5    float64
	Rate15   float64
	RateMean float64
}

type meter struct {
	mu      sync.Mutex
	count   int64
	start   time.Time
	ewma1   *ewma
	ewma5   *ewma
	ewma15  *ewma
	tickers *time.Ticker
}

func newMeter() *meter {
	m := &meter{
		start:  time.Now(),
		ewma1:  newEWMA(1),
		ewma5:  newEWMA(5),
		ewma15: newEWMA(15),
	}
	return m
}

func (m *meter) Mark(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count += n
	m.ewma1.update(n)
	m.ewma5.update(n)
	m.ewma15.update(n)
}

func (m *meter) Snapshot() MeterSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	elapsed := time.Since(m.start).Seconds()
	mean := 0.0
	if elapsed > 0 {
		mean = float64(m.count) / elapsed
	}
	return MeterSnapshot{
		Count:    m.count,
		Rate1:    m.ewma1.rate(),
		Rate5:    m.ewma5.rate(),
		Rate15:   m.ewma15.rate(),
		RateMean: mean,
	}
}

// ewma is a fixed-interval exponentially weighted moving average, the same
// decay shape used by geth/metrics' EWMA (5-second tick, alpha derived from
// the window in minutes).
type ewma struct {
	mu          sync.Mutex
	uncounted   int64
	rateVal     float64
	initialized bool
	alpha       float64
}

const ewmaInterval = 5 * time.Second

func newEWMA(minutes float64) *ewma {
	alpha := 1 - math.Exp(-ewmaInterval.Seconds()/time.Minute.Seconds()/minutes)
	return &ewma{alpha: alpha}
}

func (e *ewma) update(n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uncounted += n
}

func (e *ewma) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	instantRate := float64(e.uncounted) / ewmaInterval.Seconds()
	e.uncounted = 0
	if e.initialized {
		e.rateVal += e.alpha * (instantRate - e.rateVal)
	} else {
		e.rateVal = instantRate
		e.initialized = true
	}
}

func (e *ewma) rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rateVal * ewmaInterval.Seconds()
}

// Timer records the distribution of operation durations as count/sum, good
// enough for the manager's bootstrap-duration metric without pulling in a
// full histogram implementation.
type Timer interface {
	Update(time.Duration)
	Snapshot() TimerSnapshot
}

type TimerSnapshot struct {
	Count int64
	Sum   time.Duration
	Max   time.Duration
}

type timerImpl struct {
	mu    sync.Mutex
	count int64
	sum   time.Duration
	max   time.Duration
}

func (t *timerImpl) Update(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.sum += d
	if d > t.max {
		t.max = d
	}
}

func (t *timerImpl) Snapshot() TimerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TimerSnapshot{Count: t.count, Sum: t.sum, Max: t.max}
}
