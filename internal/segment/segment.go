// Package segment owns a single segment_<id>.log file together with its
// .hint and .log.index sidecars: creation, appends, point reads, sealing,
// and the sequential scan that both recovers from sidecar loss and
// verifies a segment's true size against a possibly-stale hint.
package segment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arfanq/barreldb/pkg/atomicfile"
	"github.com/arfanq/barreldb/pkg/kverrors"
	"github.com/arfanq/barreldb/record"
)

// Segment is either Active (accepting appends) or Sealed (read-only).
// The transition is one-way for the lifetime of a store run.
type Segment struct {
	id         int
	dir        string
	logFile    *os.File
	indexFile  *os.File // nil once sealed
	size       int64
	entries    int
	maxSize    int64
	maxEntries int
	active     bool
	closed     bool
	createdAt  int64
	lastSynced int64
}

// ScannedRecord pairs a decoded record with the byte offset it starts at.
type ScannedRecord struct {
	Offset int64
	Record *record.Record
}

func logPath(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("segment_%d.log", id))
}

// ID returns the segment's identifier.
func (s *Segment) ID() int { return s.id }

// Size returns the current logical size of the .log file in bytes.
func (s *Segment) Size() int64 { return s.size }

// Entries returns the current record count.
func (s *Segment) Entries() int { return s.entries }

// Active reports whether the segment still accepts appends.
func (s *Segment) Active() bool { return s.active }

// Create makes a brand-new active segment: an empty .log, an initialized
// .hint, and an empty .log.index.
func Create(dir string, id int, maxSize int64, maxEntries int, nowMs int64) (*Segment, error) {
	path := logPath(dir, id)

	// O_EXCL guards the dense-id invariant: a fresh segment must never
	// silently reuse an id already on disk. CreateDurable fsyncs the new
	// file and its parent directory so the segment_<id>.log entry itself
	// survives a crash even before the first record is appended.
	logFile, err := atomicfile.CreateDurable(path, os.O_RDWR|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return nil, kverrors.NewIoError(fmt.Sprintf("create segment log %q", path), err)
	}

	idxFile, err := atomicfile.CreateDurable(indexPath(dir, id), os.O_RDWR|os.O_CREATE|os.O_APPEND)
	if err != nil {
		_ = logFile.Close()
		return nil, kverrors.NewIoError(fmt.Sprintf("create segment index %q", indexPath(dir, id)), err)
	}

	s := &Segment{
		id:         id,
		dir:        dir,
		logFile:    logFile,
		indexFile:  idxFile,
		maxSize:    maxSize,
		maxEntries: maxEntries,
		active:     true,
		createdAt:  nowMs,
	}

	if err := s.PersistHint(nowMs); err != nil {
		_ = logFile.Close()
		_ = idxFile.Close()
		return nil, err
	}

	return s, nil
}

// OpenExisting reopens a segment already on disk. It always scans the
// .log to establish ground truth: if the file ends in a partial record
// (a crash mid-append), the partial tail is discarded and the file is
// truncated to the last complete record, matching the invariant that the
// .log is authoritative over a possibly-lagging .hint. The scanned
// records are returned so callers that need to fall back to a full scan
// for keydir recovery don't have to read the file a second time.
func OpenExisting(dir string, id int, maxSize int64, maxEntries int, asActive bool) (*Segment, []ScannedRecord, error) {
	path := logPath(dir, id)

	logFile, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, kverrors.NewIoError(fmt.Sprintf("open segment log %q", path), err)
	}

	s := &Segment{
		id:         id,
		dir:        dir,
		logFile:    logFile,
		maxSize:    maxSize,
		maxEntries: maxEntries,
	}

	recs, endOffset, truncated, err := s.scanFrom(0)
	if err != nil {
		_ = logFile.Close()
		return nil, nil, err
	}

	if truncated {
		if err := logFile.Truncate(endOffset); err != nil {
			_ = logFile.Close()
			return nil, nil, kverrors.NewIoError(fmt.Sprintf("truncate segment %d", id), err)
		}
	}
	if _, err := logFile.Seek(0, io.SeekEnd); err != nil {
		_ = logFile.Close()
		return nil, nil, kverrors.NewIoError(fmt.Sprintf("seek segment %d", id), err)
	}

	s.size = endOffset
	s.entries = len(recs)

	if h, herr := readHint(dir, id); herr == nil {
		s.createdAt = h.CreatedAtMs
		s.lastSynced = h.LastSyncedAtMs
	}

	if asActive {
		idxFile, err := atomicfile.CreateDurable(indexPath(dir, id), os.O_RDWR|os.O_CREATE|os.O_APPEND)
		if err != nil {
			_ = logFile.Close()
			return nil, nil, kverrors.NewIoError(fmt.Sprintf("open segment index %q", indexPath(dir, id)), err)
		}
		s.indexFile = idxFile
		s.active = true
	} else {
		s.active = false
		s.closed = true
	}

	return s, recs, nil
}

// Append encodes and writes one record to the active segment, appends an
// .log.index line, and updates in-memory counters. Fails with
// SegmentFull if the record would push size or entry count past the
// configured maximums — the manager is expected to rotate and retry.
// Fails with SegmentSealed if the segment is no longer active.
func (s *Segment) Append(ts uint64, tombstone bool, key string, value []byte, maxKeySize, maxValueSize int) (int64, int, error) {
	if !s.active {
		return 0, 0, kverrors.NewSegmentSealedError(s.id)
	}

	buf, err := record.Encode(ts, tombstone, key, value, maxKeySize, maxValueSize)
	if err != nil {
		return 0, 0, err
	}

	framedSize := len(buf)
	if s.size+int64(framedSize) > s.maxSize || s.entries+1 > s.maxEntries {
		return 0, 0, kverrors.NewSegmentFullError(s.id)
	}

	offset := s.size

	if _, err := s.logFile.Write(buf); err != nil {
		return 0, 0, kverrors.NewIoError(fmt.Sprintf("append to segment %d", s.id), err).WithOffset(offset)
	}

	if err := appendIndexLine(s.indexFile, IndexEntry{
		Key:       key,
		SegmentID: s.id,
		Offset:    offset,
		Size:      framedSize,
		Timestamp: ts,
		Tombstone: tombstone,
	}); err != nil {
		// .index write failures after a successful .log append are
		// tolerated; recovery regenerates .index from the .log.
		_ = err
	}

	s.size += int64(framedSize)
	s.entries++

	return offset, framedSize, nil
}

// Sync flushes the .log (and .index, if open) to stable storage.
func (s *Segment) Sync() error {
	if err := s.logFile.Sync(); err != nil {
		return kverrors.NewIoError(fmt.Sprintf("sync segment %d log", s.id), err)
	}
	if s.indexFile != nil {
		_ = s.indexFile.Sync()
	}
	return nil
}

// ReadAt decodes the record starting at offset, in two reads: the fixed
// header, then the header-declared payload.
func (s *Segment) ReadAt(offset int64) (*record.Record, error) {
	var hdrBuf [record.HeaderSize]byte
	if _, err := s.logFile.ReadAt(hdrBuf[:], offset); err != nil {
		return nil, kverrors.NewIoError(fmt.Sprintf("read header at segment %d offset %d", s.id, offset), err).
			WithSegmentID(s.id).WithOffset(offset)
	}

	hdr := record.DecodeHeader(hdrBuf)
	payloadLen := int(hdr.KeySize) + int(hdr.ValueSize)
	full := make([]byte, record.HeaderSize+payloadLen)
	copy(full, hdrBuf[:])

	if payloadLen > 0 {
		if _, err := s.logFile.ReadAt(full[record.HeaderSize:], offset+record.HeaderSize); err != nil {
			return nil, kverrors.NewIoError(fmt.Sprintf("read payload at segment %d offset %d", s.id, offset), err).
				WithSegmentID(s.id).WithOffset(offset)
		}
	}

	rec, err := record.Decode(full)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Seal transitions the segment to Sealed: persists a final .hint,
// closes the .index append handle, and stops accepting appends. Sealing
// an already-sealed segment is a no-op.
func (s *Segment) Seal(nowMs int64) error {
	if s.closed {
		return nil
	}

	s.active = false
	s.closed = true

	if err := s.PersistHint(nowMs); err != nil {
		return err
	}

	if s.indexFile != nil {
		_ = s.indexFile.Sync()
		err := s.indexFile.Close()
		s.indexFile = nil
		if err != nil {
			return kverrors.NewIoError(fmt.Sprintf("close segment %d index", s.id), err)
		}
	}

	return s.logFile.Sync()
}

// Close releases the segment's file handles without altering its
// active/closed state, for use when tearing down a store.
func (s *Segment) Close() error {
	if s.indexFile != nil {
		_ = s.indexFile.Close()
	}
	return s.logFile.Close()
}

// PersistHint atomically writes the current in-memory metadata to
// segment_<id>.hint.
func (s *Segment) PersistHint(nowMs int64) error {
	active, closed := 0, 0
	if s.active {
		active = 1
	}
	if s.closed {
		closed = 1
	}

	s.lastSynced = nowMs

	h := &hint{
		ID:             s.id,
		Path:           logPath(s.dir, s.id),
		Size:           s.size,
		Entries:        s.entries,
		MaxSize:        s.maxSize,
		MaxEntries:     s.maxEntries,
		Active:         active,
		Closed:         closed,
		CreatedAtMs:    s.createdAt,
		LastSyncedAtMs: nowMs,
	}

	if err := writeHint(s.dir, h); err != nil {
		return kverrors.NewIoError(fmt.Sprintf("persist hint for segment %d", s.id), err)
	}

	return nil
}

// Scan walks the entire .log from the start and returns every complete
// record found. A partial trailing record (the tell-tale sign of a
// crash mid-append) is discarded silently, not reported as an error.
func (s *Segment) Scan() ([]ScannedRecord, error) {
	recs, _, _, err := s.scanFrom(0)
	return recs, err
}

// RebuildIndex derives a fresh .log.index from a full scan and replaces
// the existing one atomically.
func (s *Segment) RebuildIndex() error {
	recs, err := s.Scan()
	if err != nil {
		return err
	}

	var buf []byte
	for _, r := range recs {
		buf = append(buf, []byte(formatIndexLine(IndexEntry{
			Key:       r.Record.Key,
			SegmentID: s.id,
			Offset:    r.Offset,
			Size:      record.FramedSize(len(r.Record.Key), len(r.Record.Value)),
			Timestamp: r.Record.Timestamp,
			Tombstone: r.Record.Tombstone,
		}))...)
	}

	if err := atomicfile.Write(indexPath(s.dir, s.id), buf); err != nil {
		return kverrors.NewIoError(fmt.Sprintf("rebuild index for segment %d", s.id), err)
	}

	if s.active {
		idxFile, err := os.OpenFile(indexPath(s.dir, s.id), os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return kverrors.NewIoError(fmt.Sprintf("reopen index for segment %d", s.id), err)
		}
		if s.indexFile != nil {
			_ = s.indexFile.Close()
		}
		s.indexFile = idxFile
	}

	return nil
}

// scanFrom reads sequentially starting at byte 0 (the parameter is
// reserved for future incremental scans) and reports the offset one past
// the last complete record, and whether trailing bytes were discarded.
func (s *Segment) scanFrom(_ int64) ([]ScannedRecord, int64, bool, error) {
	sr := io.NewSectionReader(s.logFile, 0, 1<<62)
	br := bufio.NewReaderSize(sr, 64*1024)

	var recs []ScannedRecord
	var end int64

	for {
		var hdrBuf [record.HeaderSize]byte
		if _, err := io.ReadFull(br, hdrBuf[:]); err != nil {
			if err == io.EOF {
				return recs, end, false, nil
			}
			if err == io.ErrUnexpectedEOF {
				return recs, end, true, nil
			}
			return nil, 0, false, kverrors.NewIoError(fmt.Sprintf("scan segment %d header", s.id), err)
		}

		hdr := record.DecodeHeader(hdrBuf)
		payloadLen := int(hdr.KeySize) + int(hdr.ValueSize)
		full := make([]byte, record.HeaderSize+payloadLen)
		copy(full, hdrBuf[:])

		if payloadLen > 0 {
			if _, err := io.ReadFull(br, full[record.HeaderSize:]); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					// partial trailing key/value: discard, not an error
					return recs, end, true, nil
				}
				return nil, 0, false, kverrors.NewIoError(fmt.Sprintf("scan segment %d payload", s.id), err)
			}
		}

		rec, err := record.Decode(full)
		if err != nil {
			// a malformed record in the interior of the log is fatal:
			// it was acknowledged once and cannot simply be discarded.
			return nil, 0, false, kverrors.NewInvalidRecordError(
				fmt.Sprintf("corrupt record in segment %d at offset %d", s.id, end))
		}

		recs = append(recs, ScannedRecord{Offset: end, Record: rec})
		end += int64(len(full))
	}
}
