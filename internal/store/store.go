// Package store is the top-level coordinator: it binds the segment
// manager and the keydir together, runs recovery on open, and exposes
// put/get/delete/close under a single exclusive/shared lock pair.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/arfanq/barreldb/internal/keydir"
	"github.com/arfanq/barreldb/internal/manager"
	"github.com/arfanq/barreldb/pkg/events"
	"github.com/arfanq/barreldb/pkg/filesys"
	"github.com/arfanq/barreldb/pkg/kverrors"
	"github.com/arfanq/barreldb/pkg/lock"
	"github.com/arfanq/barreldb/pkg/logger"
	"github.com/arfanq/barreldb/pkg/options"
)

// Store is safe for concurrent use by multiple goroutines within one
// process. It holds exactly one exclusive/shared lock pair guarding the
// active segment and the keydir together — there are no per-component
// locks scattered through the manager or keydir beyond what they need
// for their own internal bookkeeping.
type Store struct {
	dir     string
	opts    *options.Options
	manager *manager.Manager
	keydir  *keydir.Keydir
	dirLock *lock.Lock
	log     *zap.SugaredLogger
	sink    events.Sink

	mu     sync.RWMutex
	closed atomic.Bool

	fsyncStop chan struct{}
	fsyncDone chan struct{}
}

// Open creates the data directory if missing, acquires the advisory
// single-writer lock, discovers segments, runs recovery to rebuild the
// keydir, and starts the background fsync worker if enabled.
func Open(dir string, opts ...Option) (*Store, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Noop()
	}
	if cfg.sink == nil {
		cfg.sink = events.NewLoggingSink(cfg.logger)
	}

	resolved, err := options.Build(cfg.dataOpts...)
	if err != nil {
		return nil, err
	}

	if err := filesys.CreateDir(dir); err != nil {
		return nil, kverrors.NewIoError("create data directory", err)
	}

	dirLock, err := lock.Acquire(dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:     dir,
		opts:    resolved,
		keydir:  keydir.New(),
		dirLock: dirLock,
		log:     cfg.logger,
		sink:    cfg.sink,
	}

	// if anything below fails, release what Open already acquired
	ok := false
	defer func() {
		if !ok {
			_ = dirLock.Release()
			if s.manager != nil {
				_ = s.manager.Close()
			}
		}
	}()

	mgr, recovered, err := manager.Open(dir, resolved.MaxSegmentSize, resolved.MaxEntriesPerSegment, cfg.logger, cfg.sink)
	if err != nil {
		return nil, err
	}
	s.manager = mgr

	if err := s.recover(recovered); err != nil {
		return nil, err
	}

	if resolved.Sync {
		s.fsyncStop = make(chan struct{})
		s.fsyncDone = make(chan struct{})
		go s.fsyncLoop()
	}

	ok = true
	return s, nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Put validates the key and value, appends a live record through the
// manager, and updates the keydir. A successful Put is observable by any
// subsequent Get issued after it returns.
func (s *Store) Put(key string, value []byte) error {
	if s.closed.Load() {
		return kverrors.NewStoreClosedError()
	}

	if err := s.validateKey(key); err != nil {
		return err
	}
	if len(value) > s.opts.MaxValueSize {
		return kverrors.NewOversizedValueError(len(value), s.opts.MaxValueSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := uint64(nowMs())
	segID, offset, framedSize, err := s.manager.Append(ts, false, key, value, s.opts.MaxKeySize, s.opts.MaxValueSize)
	if err != nil {
		return err
	}

	if s.opts.FsyncOnAppend {
		if err := s.manager.SyncActive(); err != nil {
			return err
		}
	}

	s.keydir.Put(key, keydir.Location{SegmentID: segID, Offset: offset, Size: framedSize, Timestamp: ts})

	s.sink(events.Event{Kind: events.KindStorePut, Key: key, SegmentID: segID, Offset: offset})

	return nil
}

// Get looks up key in the keydir under the shared lock, clones the
// location, releases the lock, and only then reads the segment — so the
// read itself never holds the keydir lock.
func (s *Store) Get(key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, kverrors.NewStoreClosedError()
	}

	s.mu.RLock()
	loc, ok := s.keydir.Get(key)
	seg, segOK := s.manager.Segment(loc.SegmentID)
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !segOK {
		return nil, false, kverrors.NewIoError(fmt.Sprintf("read unknown segment %d", loc.SegmentID), nil).WithSegmentID(loc.SegmentID)
	}

	rec, err := seg.ReadAt(loc.Offset)
	if err != nil {
		return nil, false, err
	}

	if rec.Tombstone {
		// the keydir should never point at a tombstone; treat this as
		// the same corruption KeydirStale covers.
		return nil, false, kverrors.NewKeydirStaleError(key, loc.SegmentID, loc.Offset)
	}

	if rec.Timestamp != loc.Timestamp {
		return nil, false, kverrors.NewKeydirStaleError(key, loc.SegmentID, loc.Offset)
	}

	s.sink(events.Event{Kind: events.KindStoreGet, Key: key, SegmentID: loc.SegmentID, Offset: loc.Offset})

	return rec.Value, true, nil
}

// Delete appends a tombstone record and removes the keydir entry. A
// delete for a key with no live entry still writes a tombstone, keeping
// the operation idempotent and recovery simple.
func (s *Store) Delete(key string) error {
	if s.closed.Load() {
		return kverrors.NewStoreClosedError()
	}

	if err := s.validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := uint64(nowMs())
	_, _, _, err := s.manager.Append(ts, true, key, nil, s.opts.MaxKeySize, s.opts.MaxValueSize)
	if err != nil {
		return err
	}

	if s.opts.FsyncOnAppend {
		if err := s.manager.SyncActive(); err != nil {
			return err
		}
	}

	s.keydir.Delete(key)

	return nil
}

func (s *Store) validateKey(key string) error {
	if len(key) == 0 {
		return kverrors.NewInvalidKeyError(key)
	}
	if len(key) > s.opts.MaxKeySize {
		return kverrors.NewInvalidKeyError(key)
	}
	if !utf8.ValidString(key) {
		return kverrors.NewInvalidKeyError(key)
	}
	return nil
}

// Close seals the active segment, flushes state, and releases the
// directory lock. After Close returns, every subsequent operation fails
// with StoreClosed. Close is idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if s.fsyncStop != nil {
		close(s.fsyncStop)
		<-s.fsyncDone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.manager.Close(); err != nil {
		_ = s.dirLock.Release()
		return err
	}

	return s.dirLock.Release()
}

func (s *Store) fsyncLoop() {
	defer close(s.fsyncDone)

	ticker := time.NewTicker(s.opts.FsyncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.fsyncStop:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.manager.Sync()
			_ = s.manager.PersistHints()
			s.mu.Unlock()
		}
	}
}
