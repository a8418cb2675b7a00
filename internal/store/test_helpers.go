package store

import (
	"os"
	"testing"
)

// SetupTempStore opens a Store in a fresh temp directory and registers
// cleanup (close + remove) on tb. Mirrors the teacher-repo helper this
// package's tests are modeled on.
func SetupTempStore(tb testing.TB, opts ...Option) (*Store, string) {
	tb.Helper()

	dir, err := os.MkdirTemp("", "barreldb_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp: %v", err)
	}

	s, err := Open(dir, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		tb.Fatalf("Open(%q): %v", dir, err)
	}

	tb.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})

	return s, dir
}
