// Package keydir implements the in-memory index mapping each live key to
// the location of its newest record. It holds segment ids, not segment
// handles — lookups for the actual bytes go through the segment manager.
package keydir

import "sync"

// Location is a key's address: which segment, what byte offset, how
// many bytes the framed record occupies, and the timestamp it was
// written with (used to detect a stale keydir entry at read time).
type Location struct {
	SegmentID int
	Offset    int64
	Size      int
	Timestamp uint64
}

// entry is what the table actually holds: a Location plus whether it
// represents a tombstone. The tombstone flag never leaves the package —
// Get/Keys/Len only ever observe the live subset of the table — but it
// must be tracked, not discarded, so a tombstone can still win (and keep
// winning) the conflict-resolution rule against a put for the same key
// that turns up later with an older timestamp.
type entry struct {
	Location
	tombstone bool
}

// Keydir is safe for concurrent use; Store wraps it in its own coarser
// exclusive/shared lock pair for the wider put/get/delete sequence, so
// this mutex only needs to protect the map itself.
type Keydir struct {
	mu    sync.RWMutex
	table map[string]entry
}

func New() *Keydir {
	return &Keydir{table: make(map[string]entry)}
}

// Put inserts or overwrites key's location under the global
// conflict-resolution rule: latest timestamp wins; ties broken by
// larger segment id; further ties by larger offset. Used both for
// normal writes (where the new record is always the winner) and during
// recovery, where records may be visited out of timestamp order. A
// tombstone already on file for key under a newer-or-equal-winning
// location is not displaced by a put — see ApplyTombstone.
func (k *Keydir) Put(key string, loc Location) {
	k.mu.Lock()
	defer k.mu.Unlock()

	existing, ok := k.table[key]
	if ok && !wins(loc, existing.Location) {
		return
	}

	k.table[key] = entry{Location: loc}
}

// wins reports whether candidate should replace current under the
// conflict-resolution rule.
func wins(candidate, current Location) bool {
	if candidate.Timestamp != current.Timestamp {
		return candidate.Timestamp > current.Timestamp
	}
	if candidate.SegmentID != current.SegmentID {
		return candidate.SegmentID > current.SegmentID
	}
	return candidate.Offset > current.Offset
}

// Delete removes key's entry outright, with no conflict check. This is
// the live runtime path: by the time a store's Delete call reaches here,
// the tombstone it just appended is necessarily the newest record for
// that key, so there is nothing to arbitrate. Idempotent; a missing key
// is a no-op.
func (k *Keydir) Delete(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.table, key)
}

// ApplyTombstone records a delete observed for key under the same
// conflict-resolution rule Put uses. Unlike Delete, it does not simply
// remove the entry: a tombstone found during recovery must still be
// able to out-rank a put for the same key that is visited afterward but
// carries an older timestamp (a cross-segment clock regression, which
// spec.md §3/§9 explicitly requires tolerating). To keep outranking
// later-visited puts, the tombstone itself is retained in the table,
// marked so Get/Keys/Len treat it as absent.
func (k *Keydir) ApplyTombstone(key string, loc Location) {
	k.mu.Lock()
	defer k.mu.Unlock()

	existing, ok := k.table[key]
	if ok && !wins(loc, existing.Location) {
		return
	}

	k.table[key] = entry{Location: loc, tombstone: true}
}

// Get returns key's location and whether it is present and live. A
// tombstoned entry reports not-present, even though it still occupies a
// slot in the table for conflict-resolution purposes.
func (k *Keydir) Get(key string) (Location, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	e, ok := k.table[key]
	if !ok || e.tombstone {
		return Location{}, false
	}
	return e.Location, true
}

// Keys returns an unordered snapshot of every live (non-tombstoned) key.
func (k *Keydir) Keys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	keys := make([]string, 0, len(k.table))
	for key, e := range k.table {
		if e.tombstone {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of live (non-tombstoned) keys.
func (k *Keydir) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	n := 0
	for _, e := range k.table {
		if !e.tombstone {
			n++
		}
	}
	return n
}
