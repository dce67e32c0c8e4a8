package rules

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrInvalidEncoding is returned when a rule configuration cannot be decoded
// into the expected shape at all.
const ErrInvalidEncoding errors.Error = "invalid rule configuration encoding"

// RegexError is returned when one of the regex rules is not a syntactically
// valid regular expression.
type RegexError struct {
	// Err is the underlying error from the regular expression parser.
	Err error

	// Pattern is the original pattern.
	Pattern string

	// Index is the index of the pattern in the regex rules.
	Index int

	// Position is the byte offset in Pattern where the parser reported the
	// error.  It's a best-effort value.
	Position int
}

// type check
var _ error = (*RegexError)(nil)

// Error implements the error interface for *RegexError.
func (e *RegexError) Error() (msg string) {
	return fmt.Sprintf(
		"regex rule at index %d: malformed pattern %q at position %d: %s",
		e.Index,
		e.Pattern,
		e.Position,
		e.Err,
	)
}

// Unwrap implements the [errors.Wrapper] interface for *RegexError.
func (e *RegexError) Unwrap() (unwrapped error) {
	return e.Err
}

// IsCompileError returns true if err is one of the errors returned by
// [Parse], [Compile], or [CompileJSON].
func IsCompileError(err error) (ok bool) {
	if errors.Is(err, ErrInvalidEncoding) {
		return true
	}

	var reErr *RegexError

	return errors.As(err, &reErr)
}
