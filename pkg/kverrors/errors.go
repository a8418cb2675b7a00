package kverrors

import "errors"

// Code extracts the ErrorCode from err if it is (or wraps) one of this
// package's error types. Returns "" if err carries none.
func Code(err error) ErrorCode {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code()
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code()
	}
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code()
	}
	return ""
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}

// Is reports whether err carries the given code, regardless of which
// concrete error struct produced it.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code
}
