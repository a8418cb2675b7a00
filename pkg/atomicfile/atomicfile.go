// Package atomicfile provides the temp-file-plus-fsync-plus-rename
// durability pattern used for every sidecar persist (.hint, .log.index
// regeneration).
package atomicfile

import (
	"os"
	"path/filepath"
)

// Write replaces path with data by writing to path+".tmp" in the same
// directory, fsyncing it, renaming it over path, then fsyncing the
// parent directory so the rename itself survives a crash.
func Write(path string, data []byte) (err error) {
	tmpPath := path + ".tmp"

	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	tmpf, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err = tmpf.Write(data); err != nil {
		_ = tmpf.Close()
		return err
	}

	if err = tmpf.Sync(); err != nil {
		_ = tmpf.Close()
		return err
	}

	if err = tmpf.Close(); err != nil {
		return err
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close() // nolint:errcheck

	return d.Sync()
}

// CreateDurable opens path with the given flags (the caller supplies
// os.O_CREATE and any of os.O_EXCL/os.O_APPEND/... it needs), fsyncs the
// resulting file, and fsyncs its parent directory so the directory entry
// itself survives a crash even if nothing is ever written to the file.
func CreateDurable(path string, flag int) (*os.File, error) {
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, err
	}

	dir := filepath.Dir(path)
	d, err := os.Open(dir)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	defer d.Close() // nolint:errcheck

	if err := d.Sync(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return f, nil
}
