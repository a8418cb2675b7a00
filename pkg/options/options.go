// Package options defines the store's configuration surface: an
// enumerated record validated once at open, built through functional
// options the way the rest of this codebase configures its components.
package options

import (
	"time"

	"github.com/arfanq/barreldb/pkg/kverrors"
)

const (
	headerSize = 17

	defaultFsyncIntervalS = 5
	defaultMaxSegmentSize = 10 * 1024 * 1024
	defaultMaxEntries     = 1000
	defaultMaxKeySize     = 1024
	defaultMaxValueSize   = 1 * 1024 * 1024
)

// Options is the fully-resolved configuration consumed at Store open.
type Options struct {
	Sync                 bool
	FsyncIntervalS       int
	FsyncOnAppend        bool
	MaxSegmentSize       int64
	MaxEntriesPerSegment int
	MaxKeySize           int
	MaxValueSize         int
}

// OptionFunc mutates an in-progress Options during Build.
type OptionFunc func(*Options)

func WithDefaultOptions() *Options {
	return &Options{
		Sync:                 false,
		FsyncIntervalS:       defaultFsyncIntervalS,
		FsyncOnAppend:        false,
		MaxSegmentSize:       defaultMaxSegmentSize,
		MaxEntriesPerSegment: defaultMaxEntries,
		MaxKeySize:           defaultMaxKeySize,
		MaxValueSize:         defaultMaxValueSize,
	}
}

func WithSync(b bool) OptionFunc {
	return func(o *Options) { o.Sync = b }
}

func WithFsyncIntervalS(s int) OptionFunc {
	return func(o *Options) { o.FsyncIntervalS = s }
}

func WithFsyncOnAppend(b bool) OptionFunc {
	return func(o *Options) { o.FsyncOnAppend = b }
}

func WithMaxSegmentSize(n int64) OptionFunc {
	return func(o *Options) { o.MaxSegmentSize = n }
}

func WithMaxEntriesPerSegment(n int) OptionFunc {
	return func(o *Options) { o.MaxEntriesPerSegment = n }
}

func WithMaxKeySize(n int) OptionFunc {
	return func(o *Options) { o.MaxKeySize = n }
}

func WithMaxValueSize(n int) OptionFunc {
	return func(o *Options) { o.MaxValueSize = n }
}

// Build applies opts over the defaults and validates the result.
func Build(opts ...OptionFunc) (*Options, error) {
	o := WithDefaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if err := o.validate(); err != nil {
		return nil, err
	}

	return o, nil
}

func (o *Options) validate() error {
	if o.MaxKeySize <= 0 {
		return kverrors.NewInvalidConfigError("max_key_size must be positive")
	}
	if o.MaxValueSize < 0 {
		return kverrors.NewInvalidConfigError("max_value_size must not be negative")
	}
	if o.MaxEntriesPerSegment <= 0 {
		return kverrors.NewInvalidConfigError("max_entries_per_segment must be positive")
	}
	if o.FsyncIntervalS <= 0 {
		return kverrors.NewInvalidConfigError("fsync_interval_s must be positive")
	}

	maxRecord := int64(headerSize + o.MaxKeySize + o.MaxValueSize)
	if maxRecord > o.MaxSegmentSize {
		return kverrors.NewInvalidConfigError("max_segment_size must fit at least one maximally sized record")
	}

	return nil
}

// FsyncInterval is FsyncIntervalS as a time.Duration, for the background
// fsync worker.
func (o *Options) FsyncInterval() time.Duration {
	return time.Duration(o.FsyncIntervalS) * time.Second
}
