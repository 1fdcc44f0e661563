// Package notify is the version manager's Notification/Presentation
// Adapter (§4.6): it registers/unregisters live versions with whatever
// external presentation layer is plugged in (sysfs, in this system) and
// relays version_created/version_destroyed events onto an external bus.
//
// Neither the sysfs directory lifecycle nor the bus transport is
// implemented here — both are out-of-scope external collaborators per
// §1 — only the named interfaces and a small in-process event fan-out.
package notify

import "context"

// Registrar is the presentation layer's half of the contract: Register is
// called once a version is Linked, Deregister once for each version removed
// from the store. Both are called asynchronously by a Dispatcher; the
// version manager enqueues a Deregister only after the id has already been
// removed from the store. Per §4.6/§7, a failed Register is recoverable (logged,
// the version keeps its linkage but gets no presentation entry); a failed
// Deregister is an invariant violation and is fatal.
type Registrar interface {
	Register(ctx context.Context, id uint32) error
	Deregister(ctx context.Context, id uint32) error
}

// EventKind distinguishes the two events the external bus understands.
type EventKind int

const (
	EventCreated EventKind = iota
	EventDestroyed
)

// Event is delivered to every subscriber after the corresponding state
// change (record Linked, or record removed) is already visible to lookups.
type Event struct {
	Kind EventKind
	ID   uint32
}

// Bus is a minimal in-house pub/sub, playing the role the teacher's
// event.Feed plays elsewhere in the codebase: synchronous fan-out to a set
// of subscriber channels, each with its own buffer so one slow subscriber
// cannot stall delivery to the others.
type Bus struct {
	sub chan subscription
	pub chan Event
	die chan struct{}
}

type subscription struct {
	ch     chan Event
	cancel chan struct{}
}

// NewBus starts the bus's fan-out loop and returns it ready for use.
func NewBus() *Bus {
	b := &Bus{
		sub: make(chan subscription),
		pub: make(chan Event, 64),
		die: make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Bus) loop() {
	var subs []subscription
	for {
		select {
		case s := <-b.sub:
			subs = append(subs, s)
		case e := <-b.pub:
			live := subs[:0]
			for _, s := range subs {
				select {
				case <-s.cancel:
					continue
				default:
				}
				select {
				case s.ch <- e:
				default:
					// Slow subscriber: drop rather than block the bus.
				}
				live = append(live, s)
			}
			subs = live
		case <-b.die:
			for _, s := range subs {
				close(s.ch)
			}
			return
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that stops
// delivery and releases the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := subscription{ch: make(chan Event, 16), cancel: make(chan struct{})}
	b.sub <- s
	return s.ch, func() { close(s.cancel) }
}

// EventCreated publishes an EventCreated event.
func (b *Bus) EventCreated(id uint32) { b.pub <- Event{Kind: EventCreated, ID: id} }

// EventDestroyed publishes an EventDestroyed event.
func (b *Bus) EventDestroyed(id uint32) { b.pub <- Event{Kind: EventDestroyed, ID: id} }

// Close stops the bus's fan-out loop.
func (b *Bus) Close() { close(b.die) }
