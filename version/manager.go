// Package version implements the version-tree manager: an in-memory forest
// of version records (snapshots and clones), their parent/child linkage
// rules, DFS enter/exit numbering for O(1) ancestor and ordering tests, and
// the single global lock that serializes every mutation the way a
// kernel-resident manager would, grounded on the teacher's
// core/state/snapshot.Tree.
package version

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acunu/castlefs/log"
	"github.com/acunu/castlefs/metastore"
	"github.com/acunu/castlefs/notify"
)

// Sink is the write-side persistence contract Writeback uses (§4.5). It is
// satisfied by *metastore.Table opened with metastore.OpenSink.
type Sink interface {
	Append(metastore.Record) error
	Sync() error
	Close() error
}

// Source is the read-side persistence contract BootstrapLoad uses. It is
// satisfied by *metastore.Table opened with metastore.OpenSource.
type Source interface {
	Iterator() *metastore.Iterator
	Close() error
}

// OpenSink/OpenSource let the Manager create fresh persistence handles
// without depending on the metastore package's directory/name scheme
// directly, so tests can substitute fakes.
type OpenSink func() (Sink, error)
type OpenSource func() (Source, error)

// Manager is the process-wide, singly-constructed owner of the version
// forest (§5 "Global state"). It must be constructed once via NewManager
// and torn down once via Close.
type Manager struct {
	mu sync.Mutex

	cfg   Config
	store *Store
	queue *initQueue
	proc  *processor

	root           *record
	maxAllocatedID uint32
	initialized    bool

	openSink   OpenSink
	openSource OpenSource

	bus        *notify.Bus
	dispatcher *notify.Dispatcher
}

// NewManager constructs a Manager ready for ZeroInit or BootstrapLoad. reg
// is the presentation-layer Registrar the notification dispatcher drives.
func NewManager(cfg Config, reg notify.Registrar, openSink OpenSink, openSource OpenSource) *Manager {
	cfg = cfg.withDefaults()
	store := NewStore(cfg.MaxLiveVersions)
	queue := newInitQueue()
	m := &Manager{
		cfg:        cfg,
		store:      store,
		queue:      queue,
		proc:       newProcessor(store, queue, cfg.InvalidTag),
		openSink:   openSink,
		openSource: openSource,
		bus:        notify.NewBus(),
		dispatcher: notify.NewDispatcher(reg, cfg.RegistrarWorkers, cfg.RegistrarQueue),
	}
	return m
}

// Subscribe exposes the Manager's create/destroy event stream.
func (m *Manager) Subscribe() (<-chan notify.Event, func()) {
	return m.bus.Subscribe()
}

// ZeroInit creates the root version (id 0), Linked and registered with the
// presentation layer. May be called only once per Manager lifetime.
func (m *Manager) ZeroInit() error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	root := &record{id: 0, fl: flagLinked, enterSet: true, enter: 1, exit: 1}
	if err := m.store.Insert(root); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("version: zero-init: %w", err)
	}
	m.root = root
	m.initialized = true
	m.mu.Unlock()

	m.dispatcher.Enqueue(0)
	m.bus.EventCreated(0)
	return nil
}

// BootstrapLoad replays every persisted record from src, in whatever order
// the source hands them back, and runs the processor to establish linkage
// and DFS numbers. Must be called instead of ZeroInit, not alongside it.
func (m *Manager) BootstrapLoad(ctx context.Context) error {
	start := time.Now()
	defer func() { bootstrapTimer.Update(time.Since(start)) }()

	src, err := m.openSource()
	if err != nil {
		return fmt.Errorf("version: bootstrap: open source: %w", err)
	}
	defer src.Close()

	m.mu.Lock()
	it := src.Iterator()
	for it.Next() {
		select {
		case <-ctx.Done():
			m.mu.Unlock()
			return ctx.Err()
		default:
		}
		rec := it.Record()
		r := &record{
			id:            rec.ID,
			parent:        parentState{id: rec.ParentID},
			sizeHint:      rec.SizeHint,
			attachmentTag: rec.AttachmentTag,
		}
		if rec.ID == 0 {
			r.fl |= flagLinked
			r.enterSet = true
			if err := m.store.Insert(r); err != nil {
				m.mu.Unlock()
				return fmt.Errorf("version: bootstrap: %w", err)
			}
			m.root = r
			m.initialized = true
			continue
		}
		if err := m.store.Insert(r); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("version: bootstrap: %w", err)
		}
		m.queue.pushBack(r)
		if rec.ID > m.maxAllocatedID {
			m.maxAllocatedID = rec.ID
		}
	}
	if err := it.Err(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("version: bootstrap: %w", err)
	}
	if m.root == nil {
		m.mu.Unlock()
		return fmt.Errorf("version: bootstrap: no root record in source")
	}
	staged := m.proc.run(m.root)
	m.mu.Unlock()

	for _, id := range staged {
		m.dispatcher.Enqueue(id)
		m.bus.EventCreated(id)
	}
	return nil
}

// New creates a version of the given kind as a child of parentID, returning
// its allocated id. tag == cfg.InvalidTag means "inherit from parent"; size
// is overridden if the parent carries a nonzero sizeHint (§4.3 note).
func (m *Manager) New(kind Kind, parentID, tag uint32, size uint64) (uint32, error) {
	m.mu.Lock()
	if m.store.Get(parentID) == nil {
		m.mu.Unlock()
		return m.cfg.InvalidID, ErrNotFound
	}
	// The root occupies one store slot without having been created by a
	// New call, so the live-version cap is counted against live non-root
	// records (store.Len()-1): starting from a bare root, exactly
	// cfg.MaxLiveVersions New calls succeed.
	if m.store.Len()-1 >= m.cfg.MaxLiveVersions {
		m.mu.Unlock()
		return m.cfg.InvalidID, ErrOverLimit
	}
	m.maxAllocatedID++
	id := m.maxAllocatedID

	r := &record{
		id:            id,
		parent:        parentState{id: parentID},
		attachmentTag: tag,
		sizeHint:      size,
	}
	if kind == Snapshot {
		r.fl |= flagIsSnapshot
	}
	if err := m.store.Insert(r); err != nil {
		m.mu.Unlock()
		return m.cfg.InvalidID, fmt.Errorf("version: new: %w", err)
	}
	m.queue.pushBack(r)
	staged := m.proc.run(m.root)
	linked := r.isLinked()
	if !linked {
		// A rejected record leaves maxAllocatedID as it was before this call.
		m.maxAllocatedID--
	}
	m.mu.Unlock()

	for _, sid := range staged {
		m.dispatcher.Enqueue(sid)
		m.bus.EventCreated(sid)
	}

	if !linked {
		m.store.Remove(id)
		return m.cfg.InvalidID, ErrRuleViolation
	}
	newMeter.Mark(1)
	return id, nil
}

// Attach marks id as the current writable target of its caller.
func (m *Manager) Attach(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.store.Get(id)
	if r == nil {
		return ErrNotFound
	}
	if r.isAttached() {
		return ErrBusy
	}
	r.fl |= flagAttached
	m.store.invalidateInfo(id)
	return nil
}

// Detach clears id's attached flag.
func (m *Manager) Detach(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.store.Get(id)
	if r == nil {
		log.Crit("version: detach of unknown id", "id", id)
	}
	if !r.isAttached() {
		log.Crit("version: detach of non-attached id", "id", id)
	}
	r.fl &^= flagAttached
	m.store.invalidateInfo(id)
	return nil
}

// Read returns a scalar-copied projection of id's current state, consulting
// the fastcache projection cache before taking the lock.
func (m *Manager) Read(id uint32) (VersionInfo, error) {
	if info, ok := m.store.cachedInfo(id); ok {
		return info, nil
	}
	m.mu.Lock()
	r := m.store.Get(id)
	if r == nil {
		m.mu.Unlock()
		return VersionInfo{}, ErrNotFound
	}
	info := r.info()
	m.store.putInfo(info)
	m.mu.Unlock()

	return info, nil
}

// DeleteSubtree iteratively prunes leaves from rootID downward, removing
// rootID itself last, then renumbers the forest. Fatal if any record in the
// subtree is Attached.
func (m *Manager) DeleteSubtree(rootID uint32) error {
	m.mu.Lock()

	root := m.store.Get(rootID)
	if root == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	if rootID == 0 {
		m.mu.Unlock()
		return ErrInvalidArgument
	}

	var removed []uint32
	for {
		leaf := root
		for leaf.firstChild != nil {
			leaf = leaf.firstChild
		}
		if leaf.isAttached() {
			log.Crit("version: delete of subtree containing attached record", "id", leaf.id)
		}
		parent := leaf.parent.ref
		unlinkChild(parent, leaf)
		m.store.Remove(leaf.id)
		removed = append(removed, leaf.id)
		if leaf.id == rootID {
			break
		}
	}
	staged := m.proc.run(m.root)
	m.mu.Unlock()

	for _, id := range removed {
		m.dispatcher.EnqueueDeregister(id)
		m.bus.EventDestroyed(id)
	}
	for _, id := range staged {
		m.dispatcher.Enqueue(id)
		m.bus.EventCreated(id)
	}
	deleteMeter.Mark(int64(len(removed)))
	return nil
}

func unlinkChild(parent, child *record) {
	if parent == nil {
		return
	}
	if parent.firstChild == child {
		parent.firstChild = child.nextSibling
		return
	}
	for cur := parent.firstChild; cur != nil; cur = cur.nextSibling {
		if cur.nextSibling == child {
			cur.nextSibling = child.nextSibling
			return
		}
	}
}

// IsAncestor reports whether candidate is an ancestor of (or equal to) v,
// via the DFS enter/exit interval test (§4.4).
func (m *Manager) IsAncestor(candidate, v uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.store.Get(candidate)
	vv := m.store.Get(v)
	if c == nil || vv == nil {
		return false, ErrNotFound
	}
	return c.enter <= vv.enter && vv.exit <= c.exit, nil
}

// Compare defines a total pre-order over live, Linked versions.
func (m *Manager) Compare(a, b uint32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ra := m.store.Get(a)
	rb := m.store.Get(b)
	if ra == nil || rb == nil {
		return 0, ErrNotFound
	}
	switch {
	case ra.enter < rb.enter:
		return -1, nil
	case ra.enter > rb.enter:
		return 1, nil
	default:
		return 0, nil
	}
}

// MaxID returns the id that would be handed out by the next New call.
func (m *Manager) MaxID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxAllocatedID + 1
}

// Writeback serializes every live record into a fresh persistence
// generation, releasing the lock between appends (§5) so reads are not
// blocked for the duration of the checkpoint.
func (m *Manager) Writeback(ctx context.Context) error {
	start := time.Now()
	defer func() { writebackTimer.Update(time.Since(start)) }()

	sink, err := m.openSink()
	if err != nil {
		return fmt.Errorf("version: writeback: open sink: %w", err)
	}

	var ids []uint32
	m.mu.Lock()
	m.store.ForEach(func(r *record) bool {
		ids = append(ids, r.id)
		return true
	})
	m.mu.Unlock()

	for _, id := range ids {
		select {
		case <-ctx.Done():
			sink.Close()
			return ctx.Err()
		default:
		}
		m.mu.Lock()
		r := m.store.Get(id)
		if r == nil {
			m.mu.Unlock()
			continue
		}
		rec := metastore.Record{
			ID:            r.id,
			ParentID:      r.parent.id,
			SizeHint:      r.sizeHint,
			AttachmentTag: r.attachmentTag,
		}
		if r.id == 0 {
			rec.ParentID = 0
		}
		m.mu.Unlock()

		if err := sink.Append(rec); err != nil {
			sink.Close()
			return fmt.Errorf("version: writeback: %w", err)
		}
	}
	if err := sink.Sync(); err != nil {
		sink.Close()
		return fmt.Errorf("version: writeback: sync: %w", err)
	}
	return sink.Close()
}

// Close stops the notification dispatcher and event bus. It does not close
// any persistence handle; those are scoped to individual BootstrapLoad/
// Writeback calls.
func (m *Manager) Close() error {
	m.dispatcher.Close()
	m.bus.Close()
	return nil
}
