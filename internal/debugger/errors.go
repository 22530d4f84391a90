package debugger

import "errors"

// Contract violations. They are reported through Options.Fatal and are not
// recoverable: once raised, the patched bytecode can no longer be trusted
// to match the debugger's bookkeeping.
var (
	// ErrReentrantPause is raised when a pause is requested while the
	// debugger is already paused.
	ErrReentrantPause = errors.New("pause requested while already paused")

	// ErrStepUnsupported is raised when the stepping engine cannot decode
	// the instruction it must step from.
	ErrStepUnsupported = errors.New("cannot step from current instruction")

	// ErrUnknownTrap is raised when the interpreter hits a trap the patch
	// table does not know.
	ErrUnknownTrap = errors.New("trap without patch site")
)

// ErrNoEvaluator is the evaluation error when no evaluator is configured.
var ErrNoEvaluator = errors.New("no expression evaluator configured")
