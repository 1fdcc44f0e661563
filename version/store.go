package version

import (
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"
)

const (
	// lookupCacheSize bounds the id->*record structural lookup cache used
	// by IsAncestor/Compare's hot loops.
	lookupCacheSize = 4096

	// projectionCacheBytes bounds the off-heap cache of serialized Read
	// projections, grounded on snapshot.diskLayer.cache.
	projectionCacheBytes = 4 * 1024 * 1024
)

// Store is the version manager's arena (§4.1): the sole owner of every live
// record. parentRef/firstChild/nextSibling are non-owning pointers into this
// arena and are only ever dereferenced while the owning Manager's lock is
// held. The two caches below are best-effort memoizations over the map,
// never a second source of truth: every write to the map invalidates the
// corresponding cache entries under the same lock.
type Store struct {
	mu      sync.RWMutex
	records map[uint32]*record

	lookup     *lru.Cache       // id -> *record, structural hot path
	projection *fastcache.Cache // id -> encoded VersionInfo, Read() hot path
}

// NewStore creates an empty arena, using capacity only as the initial size
// hint of its map. The store itself enforces no bound on the number of
// records; Manager.New enforces the live-version cap.
func NewStore(capacity int) *Store {
	lookup, err := lru.New(lookupCacheSize)
	if err != nil {
		// lru.New only errors on size <= 0, which lookupCacheSize never is.
		panic(err)
	}
	return &Store{
		records:    make(map[uint32]*record, capacity),
		lookup:     lookup,
		projection: fastcache.New(projectionCacheBytes),
	}
}

// Get returns the record for id, or nil if unknown.
func (s *Store) Get(id uint32) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.lookup.Get(id); ok {
		return v.(*record)
	}
	return s.records[id]
}

// Insert adds a brand new record to the arena. Returns ErrAlreadyExists if
// id is already present.
func (s *Store) Insert(r *record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.id]; ok {
		return ErrAlreadyExists
	}
	s.records[r.id] = r
	s.lookup.Add(r.id, r)
	return nil
}

// Remove deletes id from the arena and invalidates both caches for it, per
// test scenario 9: a Read of a just-removed id must never be served stale.
func (s *Store) Remove(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	s.lookup.Remove(id)
	s.projection.Del(projectionKey(id))
}

// Len reports the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// ForEach iterates every record in unspecified order, stopping early if fn
// returns false. Callers must not mutate the store from within fn.
func (s *Store) ForEach(fn func(*record) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if !fn(r) {
			return
		}
	}
}

func projectionKey(id uint32) []byte {
	return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
}

// cachedInfo consults the fastcache projection before falling back to the
// authoritative record; the cache entry is (re-)populated by putInfo
// whenever the caller already paid for a fresh info() computation.
func (s *Store) cachedInfo(id uint32) (VersionInfo, bool) {
	buf, ok := s.projection.HasGet(nil, projectionKey(id))
	if !ok {
		return VersionInfo{}, false
	}
	return decodeVersionInfo(buf), true
}

func (s *Store) putInfo(info VersionInfo) {
	s.projection.Set(projectionKey(info.ID), encodeVersionInfo(info))
}

// invalidateInfo drops id's cached projection, used whenever a record's
// flags change outside of Remove (Attach/Detach).
func (s *Store) invalidateInfo(id uint32) {
	s.projection.Del(projectionKey(id))
}
