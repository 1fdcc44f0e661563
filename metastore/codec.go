package metastore

import "encoding/binary"

// Record is the logical persisted shape of a version record, fixed at
// {u32 id, u32 parent_id, u64 size_hint, u32 attachment_tag} as specified
// for the writeback stream. The root serializes ParentID as 0.
type Record struct {
	ID            uint32
	ParentID      uint32
	SizeHint      uint64
	AttachmentTag uint32
}

// recordSize is the on-the-wire width of a Record before compression.
const recordSize = 4 + 4 + 8 + 4

func encodeRecord(r Record) []byte {
	b := make([]byte, recordSize)
	binary.BigEndian.PutUint32(b[0:4], r.ID)
	binary.BigEndian.PutUint32(b[4:8], r.ParentID)
	binary.BigEndian.PutUint64(b[8:16], r.SizeHint)
	binary.BigEndian.PutUint32(b[16:20], r.AttachmentTag)
	return b
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) != recordSize {
		return Record{}, errCorruptRecord
	}
	return Record{
		ID:            binary.BigEndian.Uint32(b[0:4]),
		ParentID:      binary.BigEndian.Uint32(b[4:8]),
		SizeHint:      binary.BigEndian.Uint64(b[8:16]),
		AttachmentTag: binary.BigEndian.Uint32(b[16:20]),
	}, nil
}
