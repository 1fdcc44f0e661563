package version

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acunu/castlefs/metastore"
)

// fakeRegistrar records every Register/Deregister call. Its first
// Register(0) call (issued by ZeroInit) blocks until release is closed, so
// tests can exercise the dispatcher's bounded worker pool with one worker
// held up; tests must close release before closing the Manager.
type fakeRegistrar struct {
	mu           sync.Mutex
	registered   []uint32
	deregistered []uint32

	blockOnce sync.Once
	release   chan struct{}
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{release: make(chan struct{})}
}

func (f *fakeRegistrar) Register(ctx context.Context, id uint32) error {
	if id == 0 {
		f.blockOnce.Do(func() { <-f.release })
	}
	f.mu.Lock()
	f.registered = append(f.registered, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeRegistrar) Deregister(ctx context.Context, id uint32) error {
	f.mu.Lock()
	f.deregistered = append(f.deregistered, id)
	f.mu.Unlock()
	return nil
}

func newTestManager(t *testing.T) (*Manager, func()) {
	t.Helper()
	dir := t.TempDir()
	reg := newFakeRegistrar()
	m := NewManager(Config{}, reg, FileSink(dir, "checkpoint"), FileSource(dir, "checkpoint"))
	return m, func() {
		close(reg.release)
		m.Close()
	}
}

func recordOf(id, parent uint32) metastore.Record {
	return metastore.Record{ID: id, ParentID: parent}
}

func TestScenario1_NewAttachAncestry(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()
	require.NoError(t, m.ZeroInit())

	id, err := m.New(Clone, 0, 7, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), id)

	info, err := m.Read(1)
	require.NoError(t, err)
	require.Equal(t, uint32(7), info.Tag)
	require.Equal(t, uint32(0), info.ParentID)
	require.Equal(t, uint64(0), info.Size)
	require.True(t, info.IsLeaf)

	anc, err := m.IsAncestor(0, 1)
	require.NoError(t, err)
	require.True(t, anc)

	anc, err = m.IsAncestor(1, 0)
	require.NoError(t, err)
	require.False(t, anc)
}

func TestScenario2_CloneOfAttachedLeafForbidden(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()
	require.NoError(t, m.ZeroInit())

	id, err := m.New(Clone, 0, 1, 0)
	require.NoError(t, err)
	require.NoError(t, m.Attach(id))

	_, err = m.New(Clone, id, 1, 0)
	require.ErrorIs(t, err, ErrRuleViolation)
}

func TestScenario3_ChildOrderingAndCompare(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()
	require.NoError(t, m.ZeroInit())

	id1, err := m.New(Clone, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), id1)

	id2, err := m.New(Clone, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(2), id2)

	id3, err := m.New(Snapshot, id1, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(3), id3)

	root := m.store.Get(0)
	require.Equal(t, uint32(2), root.firstChild.id)
	require.Equal(t, uint32(1), root.firstChild.nextSibling.id)

	n1 := m.store.Get(1)
	require.Equal(t, uint32(3), n1.firstChild.id)

	cmp, err := m.Compare(2, 1)
	require.NoError(t, err)
	require.Less(t, cmp, 0)
}

func TestScenario4_BootstrapLoadOutOfOrder(t *testing.T) {
	dir := t.TempDir()
	sink, err := FileSink(dir, "checkpoint")()
	require.NoError(t, err)

	recs := []struct{ id, parent uint32 }{{3, 1}, {1, 0}, {2, 1}, {0, 0}}
	for _, r := range recs {
		require.NoError(t, sink.Append(recordOf(r.id, r.parent)))
	}
	require.NoError(t, sink.Sync())
	require.NoError(t, sink.Close())

	reg := newFakeRegistrar()
	m := NewManager(Config{}, reg, FileSink(dir, "checkpoint"), FileSource(dir, "checkpoint"))
	defer m.Close()

	require.NoError(t, m.BootstrapLoad(context.Background()))

	for _, r := range recs {
		rec := m.store.Get(r.id)
		require.NotNil(t, rec)
		require.True(t, rec.isLinked())
	}
	n1 := m.store.Get(1)
	require.Equal(t, uint32(0), n1.parent.id)
}

func TestScenario5_DeleteSubtree(t *testing.T) {
	dir := t.TempDir()
	sink, err := FileSink(dir, "checkpoint")()
	require.NoError(t, err)
	for _, r := range []struct{ id, parent uint32 }{{0, 0}, {1, 0}, {2, 1}, {3, 1}} {
		require.NoError(t, sink.Append(recordOf(r.id, r.parent)))
	}
	require.NoError(t, sink.Close())

	reg := newFakeRegistrar()
	m := NewManager(Config{}, reg, FileSink(dir, "checkpoint"), FileSource(dir, "checkpoint"))
	defer m.Close()
	require.NoError(t, m.BootstrapLoad(context.Background()))

	require.NoError(t, m.DeleteSubtree(1))

	require.Equal(t, 1, m.store.Len())
	_, err = m.Read(1)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.IsAncestor(0, 1)
	require.Error(t, err)
}

func TestScenario6_OverLimit(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()
	m.cfg.MaxLiveVersions = 2
	require.NoError(t, m.ZeroInit())

	_, err := m.New(Clone, 0, 0, 0)
	require.NoError(t, err)

	_, err = m.New(Clone, 0, 0, 0)
	require.NoError(t, err)

	_, err = m.New(Clone, 0, 0, 0)
	require.ErrorIs(t, err, ErrOverLimit)
	require.Equal(t, 3, m.store.Len())
}

func TestScenario7_WritebackThenBootstrapRoundtrip(t *testing.T) {
	dir := t.TempDir()
	reg := newFakeRegistrar()
	m := NewManager(Config{}, reg, FileSink(dir, "checkpoint"), FileSource(dir, "checkpoint"))
	defer m.Close()
	defer close(reg.release)

	require.NoError(t, m.ZeroInit())
	id1, err := m.New(Clone, 0, 0, 0)
	require.NoError(t, err)
	_, err = m.New(Clone, 0, 0, 0)
	require.NoError(t, err)
	_, err = m.New(Snapshot, id1, 0, 0)
	require.NoError(t, err)

	require.NoError(t, m.Writeback(context.Background()))

	// Bootstrap a fresh manager from the exact checkpoint Writeback wrote
	// to dir, exercising the real snappy-compressed freezer-style adapter
	// rather than a hand-built stand-in.
	reg2 := newFakeRegistrar()
	m2 := NewManager(Config{}, reg2, FileSink(dir, "checkpoint"), FileSource(dir, "checkpoint"))
	defer m2.Close()
	require.NoError(t, m2.BootstrapLoad(context.Background()))

	require.Equal(t, m.store.Len(), m2.store.Len())
	m.store.ForEach(func(r *record) bool {
		other := m2.store.Get(r.id)
		require.NotNil(t, other, "id %d missing after roundtrip", r.id)
		require.Equal(t, r.parent.id, other.parent.id)
		require.Equal(t, r.attachmentTag, other.attachmentTag)
		require.Equal(t, r.sizeHint, other.sizeHint)
		return true
	})
}

func TestScenario8_SlowRegisterDoesNotBlockUnrelatedNew(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()
	require.NoError(t, m.ZeroInit())

	done := make(chan struct{})
	go func() {
		_, err := m.New(Clone, 0, 0, 0)
		require.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("New blocked on presentation-layer registration")
	}
}

func TestScenario9_CacheInvalidatedAcrossDelete(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()
	require.NoError(t, m.ZeroInit())
	id, err := m.New(Clone, 0, 0, 0)
	require.NoError(t, err)

	_, err = m.Read(id) // populate projection cache
	require.NoError(t, err)

	require.NoError(t, m.DeleteSubtree(id))

	_, err = m.Read(id)
	require.ErrorIs(t, err, ErrNotFound)
}
