// Package manager discovers segments on open, holds exactly one active
// segment, rotates it when thresholds are exceeded, and routes reads to
// the right segment by id.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/arfanq/barreldb/internal/segment"
	"github.com/arfanq/barreldb/pkg/events"
	"github.com/arfanq/barreldb/pkg/kverrors"
	"github.com/arfanq/barreldb/record"
)

var segmentLogPattern = regexp.MustCompile(`^segment_(\d+)\.log$`)

// Manager owns every segment in a data directory.
type Manager struct {
	dir                  string
	maxSegmentSize       int64
	maxEntriesPerSegment int
	segments             map[int]*segment.Segment
	order                []int // ascending ids
	activeID             int
	log                  *zap.SugaredLogger
	sink                 events.Sink
}

// Recovered is the per-segment scan result produced during Open, handed
// to the store so it can build the keydir without re-scanning segments
// whose sidecars turned out to be missing or stale.
type Recovered struct {
	SegmentID int
	Records   []segment.ScannedRecord
}

// Open discovers every segment_<id>.log in dir, sorts by id, reopens the
// highest-id one as active if it still has headroom, and creates segment
// 0 if the directory is empty.
func Open(dir string, maxSegmentSize int64, maxEntriesPerSegment int, log *zap.SugaredLogger, sink events.Sink) (*Manager, []Recovered, error) {
	m := &Manager{
		dir:                  dir,
		maxSegmentSize:       maxSegmentSize,
		maxEntriesPerSegment: maxEntriesPerSegment,
		segments:             make(map[int]*segment.Segment),
		log:                  log,
		sink:                 sink,
	}

	ids, err := discoverSegmentIDs(dir)
	if err != nil {
		return nil, nil, kverrors.NewIoError(fmt.Sprintf("scan data directory %q", dir), err)
	}

	reportOrphans(ids, log, sink)

	var recovered []Recovered

	for i, id := range ids {
		isHighest := i == len(ids)-1

		asActive := false
		if isHighest {
			// tentatively reopen the highest segment as active; we
			// seal it below instead if it's already past threshold.
			asActive = true
		}

		seg, recs, err := segment.OpenExisting(dir, id, maxSegmentSize, maxEntriesPerSegment, asActive)
		if err != nil {
			return nil, nil, err
		}

		if asActive && (seg.Size() >= maxSegmentSize || seg.Entries() >= maxEntriesPerSegment) {
			if err := seg.Seal(nowMs()); err != nil {
				return nil, nil, err
			}
		}

		m.segments[id] = seg
		m.order = append(m.order, id)
		recovered = append(recovered, Recovered{SegmentID: id, Records: recs})
	}

	if len(m.order) == 0 || !m.segments[m.order[len(m.order)-1]].Active() {
		nextID := 0
		if len(m.order) > 0 {
			nextID = m.order[len(m.order)-1] + 1
		}
		seg, err := segment.Create(dir, nextID, maxSegmentSize, maxEntriesPerSegment, nowMs())
		if err != nil {
			return nil, nil, err
		}
		m.segments[nextID] = seg
		m.order = append(m.order, nextID)
		recovered = append(recovered, Recovered{SegmentID: nextID})
	}

	m.activeID = m.order[len(m.order)-1]

	return m, recovered, nil
}

func discoverSegmentIDs(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := segmentLogPattern.FindStringSubmatch(e.Name()); m != nil {
			var id int
			fmt.Sscanf(m[1], "%d", &id)
			ids = append(ids, id)
		}
	}

	sort.Ints(ids)
	return ids, nil
}

// reportOrphans logs (but does not fail open on) any segment id found on
// disk outside the dense, contiguous run starting at 0 — the run a
// healthy store should always produce.
func reportOrphans(ids []int, log *zap.SugaredLogger, sink events.Sink) {
	if len(ids) == 0 {
		return
	}

	denseEnd := -1
	for _, id := range ids {
		if id == denseEnd+1 {
			denseEnd = id
			continue
		}
		break
	}

	expected := mapset.NewSet[int]()
	for id := 0; id <= denseEnd; id++ {
		expected.Add(id)
	}

	actual := mapset.NewSet[int](ids...)

	if orphans := actual.Difference(expected); orphans.Cardinality() != 0 {
		log.Warnw("orphaned segments found outside the dense id run", "orphans", orphans.ToSlice())
		sink(events.Event{Kind: events.KindRecoveryFallbackScan, Details: map[string]any{"orphans": orphans.ToSlice()}})
	}
}

// Append writes a record to the active segment, rotating to a new
// segment and retrying exactly once if the active segment is full.
func (m *Manager) Append(ts uint64, tombstone bool, key string, value []byte, maxKeySize, maxValueSize int) (int, int64, int, error) {
	framedSize := record.FramedSize(len(key), len(value))
	if int64(framedSize) > m.maxSegmentSize {
		return 0, 0, 0, kverrors.NewOversizedRecordError(framedSize, int(m.maxSegmentSize))
	}

	active := m.segments[m.activeID]

	offset, fsize, err := active.Append(ts, tombstone, key, value, maxKeySize, maxValueSize)
	if err == nil {
		return m.activeID, offset, fsize, nil
	}

	if kverrors.Code(err) != kverrors.CodeSegmentFull {
		return 0, 0, 0, err
	}

	if err := m.rotate(); err != nil {
		return 0, 0, 0, err
	}

	active = m.segments[m.activeID]
	offset, fsize, err = active.Append(ts, tombstone, key, value, maxKeySize, maxValueSize)
	if err != nil {
		return 0, 0, 0, err
	}

	return m.activeID, offset, fsize, nil
}

func (m *Manager) rotate() error {
	old := m.segments[m.activeID]
	if err := old.Seal(nowMs()); err != nil {
		return err
	}

	newID := m.activeID + 1
	seg, err := segment.Create(m.dir, newID, m.maxSegmentSize, m.maxEntriesPerSegment, nowMs())
	if err != nil {
		return err
	}

	m.segments[newID] = seg
	m.order = append(m.order, newID)
	m.activeID = newID

	m.sink(events.Event{Kind: events.KindSegmentRotate, SegmentID: newID})

	return nil
}

// Read delegates to the segment owning segmentID.
func (m *Manager) Read(segmentID int, offset int64) (*record.Record, error) {
	seg, ok := m.segments[segmentID]
	if !ok {
		return nil, kverrors.NewIoError(fmt.Sprintf("read unknown segment %d", segmentID), nil).WithSegmentID(segmentID)
	}
	return seg.ReadAt(offset)
}

// PersistHints persists every segment's .hint sidecar, used by the
// periodic background fsync worker.
func (m *Manager) PersistHints() error {
	now := nowMs()
	for _, id := range m.order {
		if err := m.segments[id].PersistHint(now); err != nil {
			return err
		}
	}
	return nil
}

// Sync flushes every segment's .log to stable storage.
func (m *Manager) Sync() error {
	for _, id := range m.order {
		if err := m.segments[id].Sync(); err != nil {
			return err
		}
	}
	return nil
}

// SyncActive flushes only the active segment's .log, for callers that
// fsync per append rather than on a periodic interval.
func (m *Manager) SyncActive() error {
	return m.segments[m.activeID].Sync()
}

// Close seals the active segment and closes every segment's handles.
func (m *Manager) Close() error {
	if active, ok := m.segments[m.activeID]; ok {
		if err := active.Seal(nowMs()); err != nil {
			return err
		}
	}

	for _, id := range m.order {
		if err := m.segments[id].Close(); err != nil {
			return err
		}
	}

	return nil
}

// SegmentDir returns the directory segments live in, for sidecar-related
// helpers outside this package (e.g. the store's direct use of the path
// when reading a segment's .log.index file during recovery).
func (m *Manager) SegmentDir() string {
	return filepath.Clean(m.dir)
}

// Segment exposes direct access to one owned segment, used by the store
// during recovery when it needs to call RebuildIndex on a segment whose
// sidecar turned out to be unusable.
func (m *Manager) Segment(id int) (*segment.Segment, bool) {
	seg, ok := m.segments[id]
	return seg, ok
}

// Order returns the segment ids in ascending order.
func (m *Manager) Order() []int {
	out := make([]int, len(m.order))
	copy(out, m.order)
	return out
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
