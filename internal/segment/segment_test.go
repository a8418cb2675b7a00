package segment

import (
	"os"
	"testing"

	"github.com/arfanq/barreldb/pkg/kverrors"
)

func setupDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "barreldb_segment_test_*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestCreateAppendReadAt(t *testing.T) {
	dir := setupDir(t)

	seg, err := Create(dir, 0, 1<<20, 100, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seg.Close()

	off, _, err := seg.Append(10, false, "a", []byte("1"), 1024, 1<<20)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec, err := seg.ReadAt(off)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if rec.Key != "a" || string(rec.Value) != "1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestAppendFailsWhenSealed(t *testing.T) {
	dir := setupDir(t)

	seg, err := Create(dir, 0, 1<<20, 100, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seg.Close()

	if err := seg.Seal(2); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	_, _, err = seg.Append(10, false, "a", []byte("1"), 1024, 1<<20)
	if kverrors.Code(err) != kverrors.CodeSegmentSealed {
		t.Fatalf("expected segment_sealed error, got %v", err)
	}
}

func TestAppendFailsWhenEntryThresholdReached(t *testing.T) {
	dir := setupDir(t)

	seg, err := Create(dir, 0, 1<<20, 1, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seg.Close()

	if _, _, err := seg.Append(1, false, "a", []byte("1"), 1024, 1<<20); err != nil {
		t.Fatalf("first Append: %v", err)
	}

	_, _, err = seg.Append(2, false, "b", []byte("2"), 1024, 1<<20)
	if kverrors.Code(err) != kverrors.CodeSegmentFull {
		t.Fatalf("expected segment_full error, got %v", err)
	}
}

func TestOpenExistingTruncatesPartialTailRecord(t *testing.T) {
	dir := setupDir(t)

	seg, err := Create(dir, 0, 1<<20, 100, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, _, err := seg.Append(1, false, "a", []byte("1"), 1024, 1<<20); err != nil {
		t.Fatalf("Append: %v", err)
	}
	goodSize := seg.Size()

	// simulate a crash mid-append: write a partial record's worth of
	// garbage bytes past the last complete record.
	if _, err := seg.logFile.Write([]byte{0, 0, 0, 1, 2, 3}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := seg.logFile.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, recs, err := OpenExisting(dir, 0, 1<<20, 100, true)
	if err != nil {
		t.Fatalf("OpenExisting: %v", err)
	}
	defer reopened.Close()

	if reopened.Size() != goodSize {
		t.Fatalf("Size = %d, want %d (truncated)", reopened.Size(), goodSize)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 recovered record, got %d", len(recs))
	}
}

func TestScanReturnsAllRecords(t *testing.T) {
	dir := setupDir(t)

	seg, err := Create(dir, 0, 1<<20, 100, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seg.Close()

	for i, k := range []string{"a", "b", "c"} {
		if _, _, err := seg.Append(uint64(i+1), false, k, []byte(k), 1024, 1<<20); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recs, err := seg.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
}
