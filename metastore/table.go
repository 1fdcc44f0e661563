// Package metastore implements the version manager's persistence adapter:
// the append-only, checkpoint-style bridge to the external metadata store
// that §4.5 of the specification treats as an out-of-process collaborator.
//
// The on-disk shape is adapted directly from the teacher's
// core/rawdb.freezerTable: a data file of snappy-compressed blobs plus a
// parallel index file of fixed-width offset entries, repaired to a
// consistent length on open. Because a version-manager checkpoint holds at
// most a few hundred small fixed-shape records (never the unbounded,
// multi-gigabyte block history a chain freezer table has to survive), the
// multi-file rotation the teacher needs is dropped: one checkpoint is one
// data file plus one index file, identified by a monotonically increasing
// generation number so that Writeback can always hand the caller a fresh
// persistence handle without overwriting the previous checkpoint. Older
// generations are left on disk; OpenSource always reads the highest
// generation present, whether or not its Writeback completed.
package metastore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/snappy"

	"github.com/acunu/castlefs/log"
	"github.com/acunu/castlefs/metrics"
)

// index mirrors freezerTable's on-disk offset entry: the generation is
// always single-file here, so filenum is carried only for format parity
// with the teacher and is always 0.
type index struct {
	filenum uint16
	offset  uint64
}

const indexSize = 12

func (i *index) unmarshalBinary(b []byte) {
	i.filenum = uint16(b[0])<<8 | uint16(b[1])
	i.offset = beUint64(b[4:12])
}

func (i *index) marshalBinary() []byte {
	b := make([]byte, indexSize)
	b[0] = byte(i.filenum >> 8)
	b[1] = byte(i.filenum)
	putBeUint64(b[4:12], i.offset)
	return b
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putBeUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// Table is a single checkpoint generation: a data file of compressed
// records plus an index file of their offsets. It implements both Sink
// (for Writeback) and Source (for BootstrapLoad).
type Table struct {
	mu sync.Mutex

	dir        string
	name       string
	generation uint64

	data  *os.File
	index *os.File

	items uint64 // number of records appended/visible so far
	bytes uint64 // bytes written to the data file so far

	readMeter  metrics.Meter
	writeMeter metrics.Meter
	log        log.Logger
}

func dataPath(dir, name string, generation uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.cdat", name, generation))
}

func indexPath(dir, name string, generation uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.cidx", name, generation))
}

// OpenSink creates a brand new checkpoint generation for writing, one more
// than the highest generation already present in dir, and returns a Table
// ready for Append. This is the "fresh persistence handle" Writeback hands
// out per §4.4.
func OpenSink(dir, name string) (*Table, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("metastore: mkdir: %w", err)
	}
	latest, err := latestGeneration(dir, name)
	if err != nil {
		return nil, err
	}
	gen := latest + 1

	data, err := os.OpenFile(dataPath(dir, name, gen), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("metastore: open data file: %w", err)
	}
	idx, err := os.OpenFile(indexPath(dir, name, gen), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("metastore: open index file: %w", err)
	}
	// Seed the index with the zero entry, exactly as freezerTable.repair does
	// for a brand new table: every subsequent index entry marks the *end*
	// offset of the record at that position.
	if _, err := idx.Write((&index{}).marshalBinary()); err != nil {
		data.Close()
		idx.Close()
		return nil, err
	}
	return &Table{
		dir: dir, name: name, generation: gen,
		data: data, index: idx,
		readMeter:  metrics.NewRegisteredMeter("metastore/"+name+"/read", nil),
		writeMeter: metrics.NewRegisteredMeter("metastore/"+name+"/write", nil),
		log:        log.New("table", name, "generation", gen),
	}, nil
}

// OpenSource opens the latest existing checkpoint generation in dir for
// reading. It fails if no checkpoint has ever been written.
func OpenSource(dir, name string) (*Table, error) {
	gen, err := latestGeneration(dir, name)
	if err != nil {
		return nil, err
	}
	if gen == 0 {
		return nil, fmt.Errorf("metastore: no checkpoint found in %s", dir)
	}
	// Opened read-write so that repair can truncate a torn tail.
	data, err := os.OpenFile(dataPath(dir, name, gen), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("metastore: open data file: %w", err)
	}
	idx, err := os.OpenFile(indexPath(dir, name, gen), os.O_RDWR, 0)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("metastore: open index file: %w", err)
	}
	t := &Table{
		dir: dir, name: name, generation: gen,
		data: data, index: idx,
		readMeter:  metrics.NewRegisteredMeter("metastore/"+name+"/read", nil),
		writeMeter: metrics.NewRegisteredMeter("metastore/"+name+"/write", nil),
		log:        log.New("table", name, "generation", gen),
	}
	if err := t.repair(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// latestGeneration scans dir for "<name>-<n>.cidx" files and returns the
// highest n found, or 0 if none exist.
func latestGeneration(dir, name string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("metastore: readdir: %w", err)
	}
	prefix, suffix := name+"-", ".cidx"
	var best uint64
	for _, e := range entries {
		n := e.Name()
		if !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, suffix) {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(n, prefix), suffix)
		num, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			continue
		}
		if num > best {
			best = num
		}
	}
	return best, nil
}

// repair cross-checks the index and data files and truncates them back into
// sync after a crash, exactly the invariant freezerTable.repair enforces.
func (t *Table) repair() error {
	stat, err := t.index.Stat()
	if err != nil {
		return err
	}
	if overflow := stat.Size() % indexSize; overflow != 0 {
		t.log.Warn("Truncating dangling index entry", "overflow", overflow)
		if err := t.index.Truncate(stat.Size() - overflow); err != nil {
			return err
		}
		stat, err = t.index.Stat()
		if err != nil {
			return err
		}
	}
	var last index
	buf := make([]byte, indexSize)
	if _, err := t.index.ReadAt(buf, stat.Size()-indexSize); err != nil {
		return err
	}
	last.unmarshalBinary(buf)

	dstat, err := t.data.Stat()
	if err != nil {
		return err
	}
	if uint64(dstat.Size()) != last.offset {
		t.log.Warn("Truncating dangling checkpoint data", "indexed", last.offset, "stored", dstat.Size())
		if err := t.data.Truncate(int64(last.offset)); err != nil {
			return err
		}
	}
	t.items = uint64(stat.Size()/indexSize - 1)
	t.bytes = last.offset
	return nil
}

// Append injects a new record at the end of the checkpoint. Per §4.5 the
// manager does not assume ordering across entries, so, unlike the teacher's
// freezerTable, Append takes no expected-index parameter: every call simply
// extends the table.
func (t *Table) Append(r Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.data == nil {
		return errClosed
	}
	blob := snappy.Encode(nil, encodeRecord(r))
	if _, err := t.data.Write(blob); err != nil {
		return fmt.Errorf("metastore: write record: %w", err)
	}
	t.bytes += uint64(len(blob))
	if _, err := t.index.Write((&index{offset: t.bytes}).marshalBinary()); err != nil {
		return fmt.Errorf("metastore: write index: %w", err)
	}
	t.items++
	t.writeMeter.Mark(int64(len(blob) + indexSize))
	return nil
}

// Sync flushes both files to stable storage, matching freezerTable.Sync.
func (t *Table) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.data.Sync(); err != nil {
		return err
	}
	return t.index.Sync()
}

// Close releases the table's file handles.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.data != nil {
		if err := t.data.Close(); err != nil {
			errs = append(errs, err)
		}
		t.data = nil
	}
	if t.index != nil {
		if err := t.index.Close(); err != nil {
			errs = append(errs, err)
		}
		t.index = nil
	}
	if len(errs) != 0 {
		return fmt.Errorf("metastore: close: %v", errs)
	}
	return nil
}

// Items reports how many records the table currently holds.
func (t *Table) Items() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.items
}

func (t *Table) retrieve(item uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.data == nil {
		return nil, errClosed
	}
	if item >= t.items {
		return nil, errOutOfBounds
	}
	var start, end index
	buf := make([]byte, indexSize)
	if _, err := t.index.ReadAt(buf, int64(item*indexSize)); err != nil {
		return nil, err
	}
	start.unmarshalBinary(buf)
	if _, err := t.index.ReadAt(buf, int64((item+1)*indexSize)); err != nil {
		return nil, err
	}
	end.unmarshalBinary(buf)

	blob := make([]byte, end.offset-start.offset)
	if _, err := t.data.ReadAt(blob, int64(start.offset)); err != nil {
		return nil, err
	}
	t.readMeter.Mark(int64(len(blob) + 2*indexSize))
	return snappy.Decode(nil, blob)
}

// Iterator sequentially decodes every Record currently in the table.
type Iterator struct {
	t   *Table
	pos uint64
	cur Record
	err error
}

// Iterator returns a fresh Iterator over the table's records, in append
// order (which, per §4.5, callers must not rely on as parent-before-child
// order: the processor's linkage phase tolerates arbitrary order).
func (t *Table) Iterator() *Iterator {
	return &Iterator{t: t}
}

func (it *Iterator) Next() bool {
	if it.err != nil || it.pos >= it.t.Items() {
		return false
	}
	blob, err := it.t.retrieve(it.pos)
	if err != nil {
		it.err = err
		return false
	}
	rec, err := decodeRecord(blob)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = rec
	it.pos++
	return true
}

func (it *Iterator) Record() Record { return it.cur }
func (it *Iterator) Err() error     { return it.err }

// listGenerations exists for tests that want to assert on checkpoint
// rollover behavior.
func listGenerations(dir, name string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix, suffix := name+"-", ".cidx"
	var gens []uint64
	for _, e := range entries {
		n := e.Name()
		if !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, suffix) {
			continue
		}
		num, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(n, prefix), suffix), 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, num)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}
