package dispatch

import "errors"

// ErrorKind classifies the recoverable error taxonomy from spec §7. It
// exists so callers (tests, logging) can categorize an error without
// string-matching its message.
type ErrorKind int

const (
	// ErrorKindQueueFull covers any bounded buffer overflow.
	ErrorKindQueueFull ErrorKind = iota
	// ErrorKindParseFailure covers invalid key text; callers normalize
	// this to an empty result set rather than surfacing it.
	ErrorKindParseFailure
	// ErrorKindKeyNotFound covers a key that resolved to nothing.
	ErrorKindKeyNotFound
	// ErrorKindHandlerException covers a steady-state handler panic/error.
	ErrorKindHandlerException
	// ErrorKindCommandFailure covers an Engine command failure.
	ErrorKindCommandFailure
	// ErrorKindInvariantViolation is fatal; the dispatcher crashes rather
	// than continuing with a broken invariant.
	ErrorKindInvariantViolation
	// ErrorKindFatalLoop covers an unrecovered exception in the Reader's
	// Phase 1/2 hot path, and an Engine boot failure. Surfaced as a
	// diagnostic log, not a crash.
	ErrorKindFatalLoop
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindQueueFull:
		return "queue_full"
	case ErrorKindParseFailure:
		return "parse_failure"
	case ErrorKindKeyNotFound:
		return "key_not_found"
	case ErrorKindHandlerException:
		return "handler_exception"
	case ErrorKindCommandFailure:
		return "command_failure"
	case ErrorKindInvariantViolation:
		return "invariant_violation"
	case ErrorKindFatalLoop:
		return "fatal_loop"
	default:
		return "unknown"
	}
}

// DispatchError wraps an underlying error with its ErrorKind.
type DispatchError struct {
	Kind ErrorKind
	Err  error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *DispatchError {
	return &DispatchError{Kind: kind, Err: err}
}

// ErrQueueFull is returned by any bounded buffer's non-blocking producer
// method when the buffer is at capacity.
var ErrQueueFull = newError(ErrorKindQueueFull, errors.New("queue full"))

// ErrKeyNotFound is returned when a key resolves to nothing in BuildState.
var ErrKeyNotFound = newError(ErrorKindKeyNotFound, errors.New("key not found"))

// IsQueueFull reports whether err (or a wrapped error) is ErrQueueFull.
func IsQueueFull(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind == ErrorKindQueueFull
	}
	return errors.Is(err, ErrQueueFull)
}
