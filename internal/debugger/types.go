package debugger

import (
	"fmt"
	"strings"

	"github.com/dshills/scriptdbg/internal/debugger/breakpoint"
	"github.com/dshills/scriptdbg/internal/debugger/frame"
	"github.com/dshills/scriptdbg/internal/debugger/step"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// State is the state of the pause/resume machine.
type State int

const (
	// Running means the interpreter executes script code.
	Running State = iota
	// Paused means the debugger waits for a command.
	Paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// PauseReason tells why execution stopped.
type PauseReason int

const (
	ReasonBreakpoint PauseReason = iota
	ReasonException
	ReasonDebuggerStatement
	ReasonScriptLoaded
	ReasonStepFinish
	ReasonAsyncTrigger
	ReasonEvalComplete
)

// String returns the string representation of the reason.
func (r PauseReason) String() string {
	switch r {
	case ReasonBreakpoint:
		return "breakpoint"
	case ReasonException:
		return "exception"
	case ReasonDebuggerStatement:
		return "debugger"
	case ReasonScriptLoaded:
		return "script_loaded"
	case ReasonStepFinish:
		return "step_finish"
	case ReasonAsyncTrigger:
		return "async"
	case ReasonEvalComplete:
		return "eval_complete"
	default:
		return "unknown"
	}
}

// PauseOnThrow selects which exceptions pause.
type PauseOnThrow int

const (
	// PauseOnThrowAll pauses on every thrown value.
	PauseOnThrowAll PauseOnThrow = iota
	// PauseOnThrowUncaught pauses only when no frame handles the value.
	PauseOnThrowUncaught
	// PauseOnThrowNone never pauses on exceptions.
	PauseOnThrowNone
)

// String returns the string representation of the mode.
func (p PauseOnThrow) String() string {
	switch p {
	case PauseOnThrowAll:
		return "all"
	case PauseOnThrowUncaught:
		return "uncaught"
	case PauseOnThrowNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParsePauseOnThrow parses a pause-on-throw mode name.
func ParsePauseOnThrow(s string) (PauseOnThrow, error) {
	switch strings.ToLower(s) {
	case "all":
		return PauseOnThrowAll, nil
	case "uncaught":
		return PauseOnThrowUncaught, nil
	case "none", "":
		return PauseOnThrowNone, nil
	}
	return 0, fmt.Errorf("unknown pause-on-throw mode %q", s)
}

// CommandKind is the kind of a pause command.
type CommandKind int

const (
	CommandContinue CommandKind = iota
	CommandStep
	CommandEval
)

// Command is what the pause handler tells the debugger to do next.
type Command struct {
	Kind CommandKind
	// Mode is the step mode of a step command.
	Mode step.Mode
	// Source and Frame are the expression and frame of an eval command.
	Source string
	Frame  int
}

// Continue resumes execution.
func Continue() Command {
	return Command{Kind: CommandContinue}
}

// Step resumes execution until the step completes.
func Step(mode step.Mode) Command {
	return Command{Kind: CommandStep, Mode: mode}
}

// Eval evaluates source in a frame and pauses again with the result.
func Eval(source string, frame int) Command {
	return Command{Kind: CommandEval, Source: source, Frame: frame}
}

// EvalResult is the outcome of the last eval command.
type EvalResult struct {
	Source   string
	Frame    int
	Value    bytecode.Value
	Metadata frame.Metadata
}

// Pause describes the interpreter state while paused.
type Pause struct {
	Reason PauseReason
	// Breakpoint is set for ReasonBreakpoint.
	Breakpoint breakpoint.ID
	// Location is the innermost frame's current instruction.
	Location bytecode.Address
	// Source is Location's source position, if known.
	Source    bytecode.SourceLocation
	HasSource bool
	// Frames is the call stack, innermost first.
	Frames []bytecode.Frame
	// Thrown is the pending exception for ReasonException.
	Thrown bytecode.Value
	// Eval is set for ReasonEvalComplete.
	Eval *EvalResult
}

// PauseHandler is called while paused and returns the next command. It
// runs on the interpreter's goroutine and may block.
type PauseHandler func(d *Debugger, p *Pause) Command

// StackFrame is one entry of a stack trace.
type StackFrame struct {
	Depth    int
	Function string
	Location bytecode.Address
	Source   bytecode.SourceLocation
	// HasSource is false for instructions without line information.
	HasSource bool
}
