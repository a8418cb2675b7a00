// Package logger builds the structured logger used across the store.
package logger

import "go.uber.org/zap"

// New builds a named production logger. Callers that already hold a
// *zap.Logger (e.g. a host service) should construct their own
// SugaredLogger with .Named(name) instead of calling this.
func New(name string) (*zap.SugaredLogger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return base.Named(name).Sugar(), nil
}

// Noop returns a logger that discards everything, useful for tests that
// don't want production logging overhead or noise.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
