package metrics

import (
	"sort"
	"sync"
	"time"
)

// Registry is a process-wide named collection of metrics, the same role
// geth's metrics.DefaultRegistry plays: components register counters once
// at construction time and look them up by name for reporting.
type Registry interface {
	GetOrRegisterCounter(name string) Counter
	GetOrRegisterGauge(name string) Gauge
	GetOrRegisterMeter(name string) Meter
	GetOrRegisterTimer(name string) Timer
	Each(func(name string, i interface{}))
}

type registry struct {
	mu sync.Mutex
	m  map[string]interface{}
}

// NewRegistry creates an empty Registry. Most callers use DefaultRegistry.
func NewRegistry() Registry {
	return &registry{m: make(map[string]interface{})}
}

// DefaultRegistry is the registry NewRegisteredXxx helpers populate.
var DefaultRegistry = NewRegistry()

func (r *registry) getOrRegister(name string, make func() interface{}) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.m[name]; ok {
		return v
	}
	v := make()
	r.m[name] = v
	return v
}

func (r *registry) GetOrRegisterCounter(name string) Counter {
	return r.getOrRegister(name, func() interface{} { return &counter{} }).(Counter)
}

func (r *registry) GetOrRegisterGauge(name string) Gauge {
	return r.getOrRegister(name, func() interface{} { return &gauge{} }).(Gauge)
}

func (r *registry) GetOrRegisterMeter(name string) Meter {
	return r.getOrRegister(name, func() interface{} { return newMeter() }).(Meter)
}

func (r *registry) GetOrRegisterTimer(name string) Timer {
	return r.getOrRegister(name, func() interface{} { return &timerImpl{} }).(Timer)
}

func (r *registry) Each(fn func(name string, i interface{})) {
	r.mu.Lock()
	names := make([]string, 0, len(r.m))
	snapshot := make(map[string]interface{}, len(r.m))
	for name, v := range r.m {
		names = append(names, name)
		snapshot[name] = v
	}
	r.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		fn(name, snapshot[name])
	}
}

// NewRegisteredCounter registers (or fetches) a Counter under name in
// DefaultRegistry, mirroring metrics.NewRegisteredCounter in the teacher.
func NewRegisteredCounter(name string, r Registry) Counter {
	if r == nil {
		r = DefaultRegistry
	}
	return r.GetOrRegisterCounter(name)
}

func NewRegisteredGauge(name string, r Registry) Gauge {
	if r == nil {
		r = DefaultRegistry
	}
	return r.GetOrRegisterGauge(name)
}

func NewRegisteredMeter(name string, r Registry) Meter {
	if r == nil {
		r = DefaultRegistry
	}
	m := r.GetOrRegisterMeter(name)
	registerForTicking(m.(*meter))
	return m
}

func NewRegisteredTimer(name string, r Registry) Timer {
	if r == nil {
		r = DefaultRegistry
	}
	return r.GetOrRegisterTimer(name)
}

var tickOnce sync.Once
var tickMu sync.Mutex
var ticked []*meter

func registerForTicking(m *meter) {
	tickMu.Lock()
	ticked = append(ticked, m)
	tickMu.Unlock()

	tickOnce.Do(func() {
		go func() {
			t := time.NewTicker(ewmaInterval)
			defer t.Stop()
			for range t.C {
				tickMu.Lock()
				for _, mm := range ticked {
					mm.ewma1.tick()
					mm.ewma5.tick()
					mm.ewma15.tick()
				}
				tickMu.Unlock()
			}
		}()
	})
}
