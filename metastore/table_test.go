package metastore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSinkThenSourceRoundtrip(t *testing.T) {
	dir := t.TempDir()

	sink, err := OpenSink(dir, "checkpoint")
	require.NoError(t, err)

	want := []Record{
		{ID: 0, ParentID: 0, SizeHint: 0, AttachmentTag: 0},
		{ID: 1, ParentID: 0, SizeHint: 1024, AttachmentTag: 7},
		{ID: 2, ParentID: 1, SizeHint: 0, AttachmentTag: 7},
	}
	for _, r := range want {
		require.NoError(t, sink.Append(r))
	}
	require.NoError(t, sink.Sync())
	require.NoError(t, sink.Close())

	src, err := OpenSource(dir, "checkpoint")
	require.NoError(t, err)
	defer src.Close()

	require.Equal(t, uint64(len(want)), src.Items())

	var got []Record
	it := src.Iterator()
	for it.Next() {
		got = append(got, it.Record())
	}
	require.NoError(t, it.Err())
	require.Equal(t, want, got)
}

func TestOpenSourceNoCheckpoint(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenSource(dir, "checkpoint")
	require.Error(t, err)
}

func TestOpenSinkBumpsGeneration(t *testing.T) {
	dir := t.TempDir()

	first, err := OpenSink(dir, "checkpoint")
	require.NoError(t, err)
	require.NoError(t, first.Append(Record{ID: 0}))
	require.NoError(t, first.Close())

	second, err := OpenSink(dir, "checkpoint")
	require.NoError(t, err)
	require.Equal(t, first.generation+1, second.generation)
	require.NoError(t, second.Close())

	gens, err := listGenerations(dir, "checkpoint")
	require.NoError(t, err)
	require.Equal(t, []uint64{first.generation, second.generation}, gens)
}

func TestRepairTruncatesDanglingIndexEntry(t *testing.T) {
	dir := t.TempDir()

	sink, err := OpenSink(dir, "checkpoint")
	require.NoError(t, err)
	require.NoError(t, sink.Append(Record{ID: 0}))
	require.NoError(t, sink.Append(Record{ID: 1}))
	require.NoError(t, sink.Close())

	idxPath := indexPath(dir, "checkpoint", 1)
	f, err := os.OpenFile(idxPath, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	src, err := OpenSource(dir, "checkpoint")
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, uint64(2), src.Items())
}
