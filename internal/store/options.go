package store

import (
	"go.uber.org/zap"

	"github.com/arfanq/barreldb/pkg/events"
	"github.com/arfanq/barreldb/pkg/options"
)

type config struct {
	dataOpts []options.OptionFunc
	logger   *zap.SugaredLogger
	sink     events.Sink
}

// Option configures a Store at Open, keeping the data-layer knobs
// (pkg/options) separate from the collaborators the store needs
// injected: a logger and an observability sink.
type Option func(*config)

// WithDataOptions passes through the engine's own configuration knobs
// (segment sizes, fsync policy, key/value limits).
func WithDataOptions(opts ...options.OptionFunc) Option {
	return func(c *config) { c.dataOpts = append(c.dataOpts, opts...) }
}

// WithLogger injects the logger every subsystem writes through.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *config) { c.logger = log }
}

// WithSink injects the observability sink the store emits events to.
func WithSink(sink events.Sink) Option {
	return func(c *config) { c.sink = sink }
}
