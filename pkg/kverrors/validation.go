package kverrors

// ValidationError reports a caller-supplied value that fails a store-level
// rule (key size, value size, empty key, bad option combination).
type ValidationError struct {
	*baseError
	field    string
	provided any
	expected any
}

func NewValidationError(code ErrorCode, message string) *ValidationError {
	return &ValidationError{baseError: newBaseError(code, message)}
}

func (e *ValidationError) WithField(field string) *ValidationError {
	e.field = field
	return e
}

func (e *ValidationError) WithProvided(v any) *ValidationError {
	e.provided = v
	return e
}

func (e *ValidationError) WithExpected(v any) *ValidationError {
	e.expected = v
	return e
}

func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.baseError.withCause(cause)
	return e
}

func (e *ValidationError) Field() string { return e.field }
func (e *ValidationError) Provided() any { return e.provided }
func (e *ValidationError) Expected() any { return e.expected }

func NewInvalidKeyError(key string) *ValidationError {
	return NewValidationError(CodeInvalidKey, "invalid key").
		WithField("key").
		WithProvided(key)
}

func NewOversizedValueError(size, max int) *ValidationError {
	return NewValidationError(CodeOversizedValue, "value exceeds configured maximum").
		WithField("value_size").
		WithProvided(size).
		WithExpected(max)
}

func NewInvalidConfigError(reason string) *ValidationError {
	return NewValidationError(CodeInvalidConfig, reason)
}
