package kverrors

// RecordError reports a failure decoding or framing a single log record:
// an oversized key/value, a truncated read, or a corrupt interior record.
type RecordError struct {
	*baseError
	segmentID int
	offset    int64
}

func NewRecordError(code ErrorCode, message string) *RecordError {
	return &RecordError{baseError: newBaseError(code, message)}
}

func (e *RecordError) WithSegmentID(id int) *RecordError {
	e.segmentID = id
	return e
}

func (e *RecordError) WithOffset(off int64) *RecordError {
	e.offset = off
	return e
}

func (e *RecordError) WithCause(cause error) *RecordError {
	e.baseError.withCause(cause)
	return e
}

func (e *RecordError) SegmentID() int { return e.segmentID }
func (e *RecordError) Offset() int64  { return e.offset }

func NewOversizedKeyError(size, max int) *RecordError {
	return NewRecordError(CodeInvalidKey, "key exceeds configured maximum").
		withDetail("key_size", size).
		withDetail("max_key_size", max)
}

func (e *RecordError) withDetail(k string, v any) *RecordError {
	e.baseError.withDetail(k, v)
	return e
}

func NewOversizedValueRecordError(size, max int) *RecordError {
	return NewRecordError(CodeOversizedValue, "value exceeds configured maximum").
		withDetail("value_size", size).
		withDetail("max_value_size", max)
}

func NewOversizedRecordError(total, maxSegment int) *RecordError {
	return NewRecordError(CodeOversizedRecord, "record does not fit in an empty segment").
		withDetail("framed_size", total).
		withDetail("max_segment_size", maxSegment)
}

func NewTruncatedError(want, got int) *RecordError {
	return NewRecordError(CodeTruncated, "record truncated").
		withDetail("want_bytes", want).
		withDetail("got_bytes", got)
}

func NewInvalidRecordError(reason string) *RecordError {
	return NewRecordError(CodeInvalidRecord, reason)
}
