package iso8583

import "fmt"

// ErrorKind classifies a decode failure. Each kind is itself an error so
// callers can match with errors.Is(err, iso8583.InsufficientData).
type ErrorKind string

const (
	InputTooShort        ErrorKind = "InputTooShort"
	InvalidBitmap        ErrorKind = "InvalidBitmap"
	UnsupportedField     ErrorKind = "UnsupportedField"
	InvalidLengthPrefix  ErrorKind = "InvalidLengthPrefix"
	LengthExceedsMaximum ErrorKind = "LengthExceedsMaximum"
	InsufficientData     ErrorKind = "InsufficientData"
	InvalidFieldFormat   ErrorKind = "InvalidFieldFormat"
	TrailingData         ErrorKind = "TrailingData"
)

func (k ErrorKind) Error() string {
	return string(k)
}

// ParseError is returned for every decode failure. Field is 0 and Offset is
// -1 when they do not apply.
type ParseError struct {
	Kind   ErrorKind
	Reason string
	Field  int
	Offset int
}

func (e *ParseError) Error() string {
	return e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

func newError(kind ErrorKind, offset int, format string, args ...interface{}) *ParseError {
	return &ParseError{Kind: kind, Reason: fmt.Sprintf(format, args...), Offset: offset}
}

func fieldError(kind ErrorKind, field, offset int, format string, args ...interface{}) *ParseError {
	e := newError(kind, offset, format, args...)
	e.Field = field
	return e
}
