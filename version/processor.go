package version

import (
	"time"

	"github.com/acunu/castlefs/log"
)

// processor implements §4.3: Phase A links queued records into the forest,
// Phase B renumbers the whole forest with a non-recursive DFS walk, Phase C
// (run by the caller after releasing the lock) dispatches presentation
// registrations for everything staged in Phase A.
//
// A processor value is stateless scratch space reused across runs; it holds
// no data that outlives a single run() call.
type processor struct {
	store      *Store
	queue      *initQueue
	invalidTag uint32 // cfg.InvalidTag: marks a tag to be inherited from the parent

	staged []uint32 // ids Linked this run, to be registered in Phase C
}

func newProcessor(store *Store, queue *initQueue, invalidTag uint32) *processor {
	return &processor{store: store, queue: queue, invalidTag: invalidTag}
}

// run executes Phase A then Phase B while the caller holds Manager.mu, and
// returns the ids staged for Phase C registration.
func (p *processor) run(root *record) []uint32 {
	p.staged = nil
	p.linkage()
	start := time.Now()
	p.renumber(root)
	renumberTimer.Update(time.Since(start))
	queueDepthGauge.Update(int64(p.queue.len()))
	return p.staged
}

// linkage is Phase A.
func (p *processor) linkage() {
	for !p.queue.empty() {
		v := p.queue.popFront()
		p.linkOne(v)
	}
}

func (p *processor) linkOne(v *record) {
	for {
		if v.isLinked() {
			// v was already linked via a parent-escalation chain from a
			// later queue entry; its own original queue entry is now
			// redundant.
			return
		}
		parent := p.store.Get(v.parent.id)
		if parent == nil {
			log.Crit("processor: record references unknown parent", "id", v.id, "parentID", v.parent.id)
		}

		if v.isSnapshot() && parent.firstChild != nil {
			log.Warn("rejecting snapshot: parent already has a child", "id", v.id, "parentID", parent.id)
			p.store.Remove(v.id)
			rejectedMeter.Mark(1)
			return
		}
		if !v.isSnapshot() && parent.isAttached() && parent.firstChild == nil {
			log.Warn("rejecting clone of attached leaf", "id", v.id, "parentID", parent.id)
			p.store.Remove(v.id)
			rejectedMeter.Mark(1)
			return
		}

		if !parent.isLinked() {
			// Parent ids are strictly smaller than their children's and id 0
			// is always Linked, so this chain of re-insertions terminates.
			p.queue.pushFront(v)
			v = parent
			continue
		}

		p.insertChild(parent, v)
		if parent.sizeHint != 0 {
			v.sizeHint = parent.sizeHint
		}
		if v.attachmentTag == p.invalidTag {
			v.attachmentTag = parent.attachmentTag
		}
		v.parent.ref = parent
		v.fl |= flagLinked
		p.staged = append(p.staged, v.id)
		linkedMeter.Mark(1)
		return
	}
}

// insertChild splices v into parent's child list, kept in descending-id
// order (§4.3 Phase A step 5).
func (p *processor) insertChild(parent, v *record) {
	if parent.firstChild == nil || v.id > parent.firstChild.id {
		v.nextSibling = parent.firstChild
		parent.firstChild = v
		return
	}
	cur := parent.firstChild
	for cur.nextSibling != nil && cur.nextSibling.id > v.id {
		cur = cur.nextSibling
	}
	v.nextSibling = cur.nextSibling
	cur.nextSibling = v
}

// renumber is Phase B: a non-recursive DFS walk assigning enter/exit
// numbers, in the explicit-next-pointer style of trie.StackTrie's iterative
// descent rather than recursion, so forest depth never grows the goroutine
// stack.
func (p *processor) renumber(root *record) {
	var counter uint64
	cur := root
	descending := true

	for {
		if descending {
			counter++
			cur.enter = counter
			cur.enterSet = true
			if cur.firstChild == nil {
				cur.exit = counter
				if cur.nextSibling != nil {
					cur = cur.nextSibling
					continue
				}
				if cur.parent.ref == nil {
					return
				}
				cur = cur.parent.ref
				descending = false
				continue
			}
			cur = cur.firstChild
			continue
		}

		// Ascending.
		cur.exit = counter
		if cur.nextSibling != nil {
			cur = cur.nextSibling
			descending = true
			continue
		}
		if cur.parent.ref == nil {
			return
		}
		cur = cur.parent.ref
	}
}
