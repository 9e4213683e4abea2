package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	api "github.com/mkoval/clog/api/v1"
)

// Log is an ordered chain of segments rooted at Dir. The last segment is
// always the active one; every earlier segment is read-only. A single
// RWMutex gates every operation: Append/Truncate/Close/Remove/NewSegment
// take the writer side, Read/LowestOffset/HighestOffset take the reader
// side, and the critical section always spans the full operation so no
// caller ever observes a half-updated segment chain.
type Log struct {
	mu            sync.RWMutex
	Dir           string
	Config        Config
	activeSegment *segment
	segments      []*segment
}

// snapshotReader streams a single segment's store file byte for byte,
// length prefixes included, so Log.Reader can hand a brand-new replica
// everything it needs without going through the offset index at all.
type snapshotReader struct {
	*Store
	off int64
}

// NewLog opens (or creates) a Log rooted at dir. Existing segments are
// recovered from the directory's .store files; if none exist, a fresh
// segment is created at Config.Segment.InitialOffset. A zero
// MaxStoreBytes or MaxIndexBytes defaults to 1024 bytes.
func NewLog(dir string, c Config) (*Log, error) {
	if c.Segment.MaxStoreBytes == 0 {
		c.Segment.MaxStoreBytes = 1024
	}
	if c.Segment.MaxIndexBytes == 0 {
		c.Segment.MaxIndexBytes = 1024
	}

	l := &Log{
		Dir:    dir,
		Config: c,
	}

	return l, l.setup()
}

// setup recovers every segment already on disk, in base-offset order, and
// validates that they chain together (§3 invariant 3: segments are
// non-overlapping and contiguous). If the directory is empty it creates
// one fresh segment at the configured initial offset.
func (l *Log) setup() error {
	if err := os.MkdirAll(l.Dir, 0755); err != nil {
		return err
	}

	files, err := os.ReadDir(l.Dir)
	if err != nil {
		return err
	}

	var baseOffsets []uint64
	for _, file := range files {
		if path.Ext(file.Name()) != ".store" {
			continue
		}

		offStr := strings.TrimSuffix(file.Name(), path.Ext(file.Name()))

		off, err := strconv.ParseUint(offStr, 10, 64)
		if err != nil {
			return ErrCorruptDirectory{Dir: l.Dir, Reason: fmt.Sprintf("non-numeric segment file %q", file.Name())}
		}

		baseOffsets = append(baseOffsets, off)
	}

	sort.Slice(baseOffsets, func(i, j int) bool {
		return baseOffsets[i] < baseOffsets[j]
	})

	for i, off := range baseOffsets {
		if i > 0 && off <= baseOffsets[i-1] {
			return ErrCorruptDirectory{Dir: l.Dir, Reason: "duplicate segment base offset"}
		}
		if err := l.newSegment(off); err != nil {
			return err
		}
	}

	for i := 1; i < len(l.segments); i++ {
		if l.segments[i-1].nextOffset != l.segments[i].baseOffset {
			return ErrCorruptDirectory{
				Dir: l.Dir,
				Reason: fmt.Sprintf(
					"segment %d ends at offset %d but segment %d starts at %d",
					l.segments[i-1].baseOffset, l.segments[i-1].nextOffset,
					l.segments[i].baseOffset, l.segments[i].baseOffset,
				),
			}
		}
	}

	if l.segments == nil {
		if err := l.newSegment(l.Config.Segment.InitialOffset); err != nil {
			return err
		}
	}
	return nil
}

// Append writes record to the active segment, assigning it the next
// offset, and rolls a new active segment into place if that append left
// the current one maxed out.
func (l *Log) Append(record *api.Record) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	off, err := l.activeSegment.Append(record)
	if _, full := err.(ErrIndexFull); full {
		if err = l.newSegment(l.activeSegment.nextOffset); err != nil {
			return 0, err
		}
		off, err = l.activeSegment.Append(record)
	}
	if err != nil {
		return 0, err
	}

	if l.activeSegment.IsMaxed() {
		err = l.newSegment(off + 1)
	}

	return off, err
}

// Read returns the record at the given absolute offset, routing to
// whichever segment's [baseOffset, nextOffset) range contains it.
func (l *Log) Read(off uint64) (*api.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s *segment
	for _, seg := range l.segments {
		if seg.baseOffset <= off && off < seg.nextOffset {
			s = seg
			break
		}
	}

	if s == nil {
		return nil, api.ErrorOffsetOutOfRange{Offset: off}
	}

	return s.Read(off)
}

// Close closes every segment in order. A second call returns the error
// from closing an already-closed segment file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.segments {
		if err := s.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Remove closes the log and deletes its directory from disk.
func (l *Log) Remove() error {
	if err := l.Close(); err != nil {
		return err
	}
	return os.RemoveAll(l.Dir)
}

// Reset closes the log and re-runs setup against the same directory,
// discarding and rebuilding the in-memory segment chain.
func (l *Log) Reset() error {
	if err := l.Close(); err != nil {
		return err
	}
	l.segments = nil
	return l.setup()
}

// LowestOffset returns the base offset of the oldest surviving segment.
func (l *Log) LowestOffset() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segments[0].baseOffset, nil
}

// HighestOffset returns the offset the log will assign to its next
// append — not the offset of the last record written. An empty log
// returns its initial offset.
func (l *Log) HighestOffset() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.segments[len(l.segments)-1].nextOffset, nil
}

// Truncate drops every segment strictly before the last one whose
// nextOffset is still <= lowest+1 — that boundary segment itself, and
// everything after it, survives even though its own nextOffset also
// satisfies the condition. A truncate that matches no segment (the very
// first segment already exceeds lowest+1) is a no-op.
func (l *Log) Truncate(lowest uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	boundary := -1
	for i, s := range l.segments {
		if s.nextOffset > lowest+1 {
			break
		}
		boundary = i
	}

	var kept []*segment
	for i, s := range l.segments {
		if i < boundary {
			if err := s.Remove(); err != nil {
				return err
			}
			continue
		}
		kept = append(kept, s)
	}
	l.segments = kept
	return nil
}

// Reader returns an io.Reader over every segment's raw store bytes, in
// segment order, length prefixes included. It exists for bulk-transfer
// use cases (e.g. seeding a new replica) that want the whole log as a
// byte stream rather than record-by-record via Read.
func (l *Log) Reader() io.Reader {
	l.mu.RLock()
	defer l.mu.RUnlock()

	readers := make([]io.Reader, len(l.segments))
	for i, s := range l.segments {
		readers[i] = &snapshotReader{Store: s.store, off: 0}
	}

	return io.MultiReader(readers...)
}

// Read implements io.Reader over the underlying store's ReadAt, tracking
// its own cursor across calls.
func (o *snapshotReader) Read(p []byte) (int, error) {
	n, err := o.ReadAt(p, o.off)
	o.off += int64(n)
	return n, err
}

// newSegment creates a new segment at off, appends it to the chain, and
// makes it the active segment.
func (l *Log) newSegment(off uint64) error {
	s, err := newSegment(l.Dir, off, l.Config)
	if err != nil {
		return err
	}

	l.segments = append(l.segments, s)
	l.activeSegment = s

	return nil
}

// NewSegment administratively creates and activates a new segment at the
// given absolute offset, bypassing the normal maxed-segment rollover
// path. Used by callers (tests, operational tooling) that want to drive
// segment boundaries directly rather than through Append.
func (l *Log) NewSegment(off uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.newSegment(off)
}
