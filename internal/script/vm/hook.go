package vm

import "github.com/dshills/scriptdbg/internal/script/bytecode"

// Hook receives the interpreter events a debugger needs. All methods are
// called on the goroutine running the interpreter.
type Hook interface {
	// OnTrap is called when the dispatch loop fetches a trap byte. It
	// reports whether the debugger paused at the current instruction.
	OnTrap() (paused bool)

	// OnDebuggerStatement is called for a debugger statement that was not
	// already reported through OnTrap.
	OnDebuggerStatement()

	// OnEnter is called after a frame is pushed while break-on-entry is set.
	OnEnter()

	// OnException is called when a value is thrown, and again each time it
	// is re-raised across a native frame.
	OnException()

	// OnExceptionUnwound is called once a thrown value reached a handler or
	// escaped the outermost run.
	OnExceptionUnwound()

	// OnAsyncPause is called at an instruction boundary after an async
	// pause was requested.
	OnAsyncPause(kind bytecode.AsyncKind)

	// OriginalOpcode returns the opcode hidden under the trap at addr.
	OriginalOpcode(addr bytecode.Address) bytecode.Opcode
}

// nopHook is installed when no debugger is attached. Traps never exist
// without a debugger, so OriginalOpcode is never consulted.
type nopHook struct{}

func (nopHook) OnTrap() bool                    { return false }
func (nopHook) OnDebuggerStatement()            {}
func (nopHook) OnEnter()                        {}
func (nopHook) OnException()                    {}
func (nopHook) OnExceptionUnwound()             {}
func (nopHook) OnAsyncPause(bytecode.AsyncKind) {}
func (nopHook) OriginalOpcode(bytecode.Address) bytecode.Opcode {
	return bytecode.OpNop
}
