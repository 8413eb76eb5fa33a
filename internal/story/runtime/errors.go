package runtime

import (
	"errors"
	"fmt"
)

const (
	ErrInvalidChoice      = "E_INVALID_CHOICE"
	ErrUnresolvedTunnel   = "E_UNRESOLVED_TUNNEL"
	ErrUnknownVariable    = "E_UNKNOWN_VARIABLE"
	ErrOutOfContent       = "E_OUT_OF_CONTENT"
	ErrStepLimit          = "E_STEP_LIMIT"
	ErrType               = "E_TYPE"
	ErrExternal           = "E_EXTERNAL"
	ErrDivideByZero       = "E_DIVIDE_BY_ZERO"
	ErrInvalidReturn      = "E_INVALID_RETURN"
	ErrBadTarget          = "E_BAD_TARGET"
	ErrStackUnderflow     = "E_STACK_UNDERFLOW"
	ErrUnknownInstruction = "E_UNKNOWN_INSTRUCTION"
)

// ErrFailed is returned by every call on an engine that hit a runtime error,
// until Reset or Restore.
var ErrFailed = errors.New("story engine failed")

// ErrBusy is returned when an external function tries to advance, rewind or
// reset the engine that is calling it.
var ErrBusy = errors.New("story engine is inside an external call")

// RuntimeError is a fault raised while executing the story graph. Path is the
// container that was executing.
type RuntimeError struct {
	Code string
	Msg  string
	Path string
	Err  error
}

func (e *RuntimeError) Error() string {
	where := ""
	if e.Path != "" {
		where = " at " + e.Path
	}
	if e.Err != nil {
		return fmt.Sprintf("%s%s: %s: %v", e.Code, where, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s%s: %s", e.Code, where, e.Msg)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func rtErr(code, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of a RuntimeError anywhere in err's chain.
func CodeOf(err error) string {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// failedError carries the original fault under ErrFailed.
type failedError struct {
	cause error
}

func (f *failedError) Error() string        { return fmt.Sprintf("%v: %v", ErrFailed, f.cause) }
func (f *failedError) Is(target error) bool { return target == ErrFailed }
func (f *failedError) Unwrap() error        { return f.cause }
