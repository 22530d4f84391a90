package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// Errors returned by the VM.
var (
	// ErrStackOverflow is the message of the error value thrown when the
	// call depth limit is exceeded.
	ErrStackOverflow = errors.New("stack overflow")

	// ErrNotCallable is returned by Call for values that are not functions.
	ErrNotCallable = errors.New("value is not callable")

	// ErrNoFrame is returned for frame indexes outside the call stack.
	ErrNoFrame = errors.New("no such frame")
)

// errThrown signals inside the dispatch loop that the thrown-value cell is
// set and unwinding must begin.
var errThrown = errors.New("thrown")

// Exception is returned when a thrown value escapes a run.
type Exception struct {
	Value bytecode.Value
	Trace []bytecode.SourceLocation
}

func (e *Exception) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "uncaught exception: %s", e.Value)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&b, " at %s", e.Trace[0])
	}
	return b.String()
}

// Text renders the exception with its full trace.
func (e *Exception) Text() string {
	var b strings.Builder
	b.WriteString(e.Value.String())
	for _, loc := range e.Trace {
		fmt.Fprintf(&b, "\n    at %s", loc)
	}
	return b.String()
}
