package kverrors

// StorageError reports a failure in the segment or manager layer: a failed
// syscall, a full or sealed segment, a stale keydir pointer, a held lock.
type StorageError struct {
	*baseError
	segmentID int
	offset    int64
	path      string
}

func NewStorageError(code ErrorCode, message string) *StorageError {
	return &StorageError{baseError: newBaseError(code, message)}
}

func (e *StorageError) WithSegmentID(id int) *StorageError {
	e.segmentID = id
	return e
}

func (e *StorageError) WithOffset(off int64) *StorageError {
	e.offset = off
	return e
}

func (e *StorageError) WithPath(path string) *StorageError {
	e.path = path
	return e
}

func (e *StorageError) WithCause(cause error) *StorageError {
	e.baseError.withCause(cause)
	return e
}

func (e *StorageError) SegmentID() int { return e.segmentID }
func (e *StorageError) Offset() int64  { return e.offset }
func (e *StorageError) Path() string   { return e.path }

func NewIoError(message string, cause error) *StorageError {
	return NewStorageError(CodeIoError, message).WithCause(cause)
}

func NewSegmentFullError(segmentID int) *StorageError {
	return NewStorageError(CodeSegmentFull, "segment is full").WithSegmentID(segmentID)
}

func NewSegmentSealedError(segmentID int) *StorageError {
	return NewStorageError(CodeSegmentSealed, "segment is sealed").WithSegmentID(segmentID)
}

func NewKeydirStaleError(key string, segmentID int, offset int64) *StorageError {
	return NewStorageError(CodeKeydirStale, "keydir points at a record with a mismatched timestamp").
		WithSegmentID(segmentID).
		WithOffset(offset).
		withDetailKey(key)
}

func (e *StorageError) withDetailKey(key string) *StorageError {
	e.baseError.withDetail("key", key)
	return e
}

func NewAlreadyLockedError(path string) *StorageError {
	return NewStorageError(CodeAlreadyLocked, "data directory is held by another store instance").WithPath(path)
}

func NewStoreClosedError() *StorageError {
	return NewStorageError(CodeStoreClosed, "store is closed")
}
