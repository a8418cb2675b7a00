// Package events defines the observability hook the store emits to.
package events

import "go.uber.org/zap"

// Kind names one of the store's structured event types.
type Kind string

const (
	KindStorePut             Kind = "store_put"
	KindStoreGet             Kind = "store_get"
	KindSegmentRotate        Kind = "segment_rotate"
	KindRecoveryComplete     Kind = "recovery_complete"
	KindRecoveryFallbackScan Kind = "recovery_fallback_scan"
)

// Event is the single typed record passed to a Sink. Fields are all
// optional except Kind; callers populate whichever apply.
type Event struct {
	Kind      Kind
	Key       string
	SegmentID int
	Offset    int64
	Details   map[string]any
}

// Sink receives events emitted by the store. It must not block for long;
// the store calls it while still holding locks in some paths (rotation).
type Sink func(Event)

// NewLoggingSink returns a Sink that logs every event at debug level
// through the given logger. Used as the default when the caller supplies
// no sink of their own.
func NewLoggingSink(log *zap.SugaredLogger) Sink {
	return func(ev Event) {
		log.Debugw(string(ev.Kind),
			"key", ev.Key,
			"segment_id", ev.SegmentID,
			"offset", ev.Offset,
			"details", ev.Details,
		)
	}
}

// Noop discards every event.
func Noop(Event) {}
