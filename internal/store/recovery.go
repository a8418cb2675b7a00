package store

import (
	"github.com/arfanq/barreldb/internal/keydir"
	"github.com/arfanq/barreldb/internal/manager"
	"github.com/arfanq/barreldb/internal/segment"
	"github.com/arfanq/barreldb/pkg/events"
	"github.com/arfanq/barreldb/record"
)

// recover rebuilds the keydir after the manager has opened every
// segment. For each segment in ascending id order it prefers the
// .log.index sidecar, but only after checking it against the .log scan
// the manager already performed while opening the segment: a sidecar
// that parses cleanly can still be a clean line short of the log (the
// .index append after a successful .log write is tolerated-on-failure,
// per spec.md §7), which would silently drop an acknowledged write from
// the keydir. Per spec.md §4.5 step 3, the scan result is authoritative
// whenever the two disagree, and the sidecar is regenerated from it.
func (s *Store) recover(recovered []manager.Recovered) error {
	for _, r := range recovered {
		entries, err := segment.ReadIndex(s.manager.SegmentDir(), r.SegmentID)
		if err == nil && indexMatchesScan(entries, r.Records) {
			s.applyIndexEntries(entries)
			continue
		}

		s.applyScannedRecords(r.SegmentID, r.Records)

		seg, ok := s.manager.Segment(r.SegmentID)
		if ok {
			if err := seg.RebuildIndex(); err != nil {
				return err
			}
		}

		s.sink(events.Event{Kind: events.KindRecoveryFallbackScan, SegmentID: r.SegmentID})
	}

	s.sink(events.Event{Kind: events.KindRecoveryComplete})

	return nil
}

// indexMatchesScan reports whether a segment's parsed .log.index sidecar
// agrees with the ground-truth scan of its .log: same entry count, same
// sequence of offsets/sizes/timestamps/tombstone flags. Any disagreement
// — most commonly the sidecar being one entry short because its append
// failed after the .log write it describes already succeeded — means the
// sidecar cannot be trusted for this segment.
func indexMatchesScan(entries []segment.IndexEntry, recs []segment.ScannedRecord) bool {
	if len(entries) != len(recs) {
		return false
	}

	for i, e := range recs {
		want := entries[i]
		size := record.FramedSize(len(e.Record.Key), len(e.Record.Value))

		if want.Offset != e.Offset ||
			want.Size != size ||
			want.Timestamp != e.Record.Timestamp ||
			want.Tombstone != e.Record.Tombstone ||
			want.Key != e.Record.Key {
			return false
		}
	}

	return true
}

func (s *Store) applyIndexEntries(entries []segment.IndexEntry) {
	for _, e := range entries {
		loc := keydir.Location{SegmentID: e.SegmentID, Offset: e.Offset, Size: e.Size, Timestamp: e.Timestamp}
		if e.Tombstone {
			s.keydir.ApplyTombstone(e.Key, loc)
		} else {
			s.keydir.Put(e.Key, loc)
		}
	}
}

func (s *Store) applyScannedRecords(segmentID int, recs []segment.ScannedRecord) {
	for _, r := range recs {
		size := record.FramedSize(len(r.Record.Key), len(r.Record.Value))
		loc := keydir.Location{SegmentID: segmentID, Offset: r.Offset, Size: size, Timestamp: r.Record.Timestamp}
		if r.Record.Tombstone {
			s.keydir.ApplyTombstone(r.Record.Key, loc)
		} else {
			s.keydir.Put(r.Record.Key, loc)
		}
	}
}
