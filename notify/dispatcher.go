package notify

import (
	"context"
	"sync"

	"github.com/acunu/castlefs/log"
	"github.com/acunu/castlefs/metrics"
)

var (
	registerOKMeter      = metrics.NewRegisteredMeter("notify/register/ok", nil)
	registerFailMeter    = metrics.NewRegisteredMeter("notify/register/fail", nil)
	deregisterOKMeter    = metrics.NewRegisteredMeter("notify/deregister/ok", nil)
	deregisterFailMeter  = metrics.NewRegisteredMeter("notify/deregister/fail", nil)
	dispatchQueuedGauge  = metrics.NewRegisteredGauge("notify/dispatch/queued", nil)
	dispatchDroppedMeter = metrics.NewRegisteredMeter("notify/dispatch/dropped", nil)
)

type job struct {
	id       uint32
	register bool // true: Register, false: Deregister
}

// Dispatcher fans Register/Deregister calls out to a small pool of worker
// goroutines, grounded on core/state.TriePrefetcher's channel-driven
// workers: the processor's Phase C must never let a slow presentation-layer
// call (e.g. sysfs directory creation) hold up the caller that triggered
// linkage or removal.
type Dispatcher struct {
	jobs chan job
	reg  Registrar
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewDispatcher starts workers workers, each pulling jobs off an internal
// queue of capacity queueSize and calling reg.Register/Deregister on them.
func NewDispatcher(reg Registrar, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	d := &Dispatcher{
		jobs: make(chan job, queueSize),
		reg:  reg,
		quit: make(chan struct{}),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case j := <-d.jobs:
			dispatchQueuedGauge.Update(int64(len(d.jobs)))
			if j.register {
				if err := d.reg.Register(context.Background(), j.id); err != nil {
					registerFailMeter.Mark(1)
					log.Error("failed to register version with presentation layer", "id", j.id, "err", err)
					continue
				}
				registerOKMeter.Mark(1)
				continue
			}
			if err := d.reg.Deregister(context.Background(), j.id); err != nil {
				deregisterFailMeter.Mark(1)
				// A failed Deregister leaves the presentation layer out of
				// sync with the store with no recovery path; fatal, unlike
				// a recoverable Register failure.
				log.Crit("failed to deregister version from presentation layer", "id", j.id, "err", err)
			}
			deregisterOKMeter.Mark(1)
		}
	}
}

// Enqueue stages id for asynchronous registration. It never blocks the
// caller on the registration itself; if the queue is momentarily full the
// call blocks only long enough to hand the job off, matching the teacher's
// choice to never let a prefetch request back up trie execution — here we
// accept brief backpressure instead of silently dropping, since every
// Linked version must eventually get a presentation entry.
func (d *Dispatcher) Enqueue(id uint32) {
	d.enqueue(job{id: id, register: true})
}

// EnqueueDeregister stages id for asynchronous deregistration. The version
// manager calls it after the id's removal from the store is already visible
// to lookups.
func (d *Dispatcher) EnqueueDeregister(id uint32) {
	d.enqueue(job{id: id, register: false})
}

func (d *Dispatcher) enqueue(j job) {
	select {
	case d.jobs <- j:
		dispatchQueuedGauge.Update(int64(len(d.jobs)))
	case <-d.quit:
		dispatchDroppedMeter.Mark(1)
	}
}

// Close stops all workers, waiting for in-flight registrations to finish.
func (d *Dispatcher) Close() {
	close(d.quit)
	d.wg.Wait()
}
