package version

// flags is the per-record bitset described in §3: Linked, Attached and
// IsSnapshot. Kept as a single uint8 rather than three bools so a record's
// state transitions (all performed under Manager.mu) are a single write.
type flags uint8

const (
	flagLinked flags = 1 << iota
	flagAttached
	flagIsSnapshot
)

func (f flags) has(bit flags) bool { return f&bit != 0 }

// parentState is the explicit tagged union §9 calls for in place of the
// original implementation's unlinked-id/linked-pointer field overlay: a
// record's parent is always known by id, and gains a resolved pointer only
// once flagLinked is set. The two are set together by the processor and
// must never be read independently of one another.
type parentState struct {
	id    uint32  // always valid
	ref   *record // valid iff the owning record has flagLinked set
}

// record is the in-memory version record of §3. All fields are mutated
// only while the owning Manager's lock is held; parentRef/firstChild/
// nextSibling are non-owning pointers into the Store's arena, never
// separately allocated or freed.
type record struct {
	id     uint32
	parent parentState

	firstChild  *record // head of child list, ordered by descending id
	nextSibling *record // next element in the parent's child list

	enterSet bool
	enter    uint64
	exit     uint64

	attachmentTag uint32
	sizeHint      uint64

	fl flags
}

func (r *record) isLinked() bool    { return r.fl.has(flagLinked) }
func (r *record) isAttached() bool  { return r.fl.has(flagAttached) }
func (r *record) isSnapshot() bool  { return r.fl.has(flagIsSnapshot) }
func (r *record) isLeaf() bool      { return r.firstChild == nil }

// VersionInfo is the read-only, copied-scalar projection external callers
// receive from Read; per §3 "Ownership" they never get a *record.
type VersionInfo struct {
	ID       uint32
	ParentID uint32
	Tag      uint32
	Size     uint64
	IsLeaf   bool
	Attached bool
	Snapshot bool
}

const versionInfoSize = 4*5 + 3 // 5 uint32 fields + 3 bool fields

// encodeVersionInfo/decodeVersionInfo give the fastcache projection cache a
// fixed-width wire shape, the same role encodeRecord plays for metastore.
func encodeVersionInfo(v VersionInfo) []byte {
	b := make([]byte, versionInfoSize)
	putUint32(b[0:4], v.ID)
	putUint32(b[4:8], v.ParentID)
	putUint32(b[8:12], v.Tag)
	lo, hi := uint32(v.Size), uint32(v.Size>>32)
	putUint32(b[12:16], lo)
	putUint32(b[16:20], hi)
	b[20] = boolByte(v.IsLeaf)
	b[21] = boolByte(v.Attached)
	b[22] = boolByte(v.Snapshot)
	return b
}

func decodeVersionInfo(b []byte) VersionInfo {
	return VersionInfo{
		ID:       getUint32(b[0:4]),
		ParentID: getUint32(b[4:8]),
		Tag:      getUint32(b[8:12]),
		Size:     uint64(getUint32(b[12:16])) | uint64(getUint32(b[16:20]))<<32,
		IsLeaf:   b[20] != 0,
		Attached: b[21] != 0,
		Snapshot: b[22] != 0,
	}
}

func putUint32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (r *record) info() VersionInfo {
	parentID := uint32(0)
	if r.id != 0 {
		parentID = r.parent.id
	}
	return VersionInfo{
		ID:       r.id,
		ParentID: parentID,
		Tag:      r.attachmentTag,
		Size:     r.sizeHint,
		IsLeaf:   r.isLeaf(),
		Attached: r.isAttached(),
		Snapshot: r.isSnapshot(),
	}
}
