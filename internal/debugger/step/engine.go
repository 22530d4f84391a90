// Package step implements source-level stepping on top of temporary patch
// sites. A step arms traps at every place execution can reach next and lets
// the interpreter run; instructions whose successor is only known after
// executing them are stepped synchronously.
package step

import (
	"errors"
	"fmt"

	"github.com/dshills/scriptdbg/internal/debugger/patch"
	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// ErrUnsupported is returned when the current instruction cannot be
// decoded for stepping. It means the patch table and the code disagree.
var ErrUnsupported = errors.New("instruction cannot be stepped")

// Mode is the kind of step.
type Mode int

const (
	// Into stops at the next statement, entering calls.
	Into Mode = iota
	// Over stops at the next statement of the current frame or a caller.
	Over
	// Out stops once the current frame returned to its caller.
	Out
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case Into:
		return "into"
	case Over:
		return "over"
	case Out:
		return "out"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "into", "in":
		return Into, nil
	case "over", "next":
		return Over, nil
	case "out":
		return Out, nil
	}
	return 0, fmt.Errorf("unknown step mode %q", s)
}

// Outcome tells the caller what to do after the engine acted.
type Outcome int

const (
	// Yield means traps are armed and the interpreter should run.
	Yield Outcome = iota
	// Complete means the step finished at the current location.
	Complete
	// Threw means a synchronously stepped instruction threw; the value is
	// pending in the interpreter's thrown-value cell.
	Threw
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case Yield:
		return "yield"
	case Complete:
		return "complete"
	case Threw:
		return "threw"
	default:
		return "unknown"
	}
}

// Machine is the interpreter state the engine reads and drives.
type Machine interface {
	Location() bytecode.Address
	Frames() []bytecode.Frame
	StepInstruction() (threw bool)
	SetBreakOnEntry(on bool)
}

// Code is the program information the engine consults.
type Code interface {
	OpcodeAt(addr bytecode.Address) bytecode.Opcode
	InstructionAt(addr bytecode.Address, op bytecode.Opcode) (bytecode.Instruction, error)
	SourceLocationOf(addr bytecode.Address) (bytecode.SourceLocation, bool)
	ExceptionHandlerFor(fn bytecode.FuncID, offset int) (int, bool)
}

// Engine tracks the outstanding step, if any.
type Engine struct {
	code  Code
	vm    Machine
	sites *patch.Table
	log   *logging.Logger

	active   bool
	mode     Mode
	start    bytecode.Address
	startLoc bytecode.SourceLocation
	hasLoc   bool
}

// New creates a stepping engine.
func New(code Code, vm Machine, sites *patch.Table, log *logging.Logger) *Engine {
	return &Engine{
		code:  code,
		vm:    vm,
		sites: sites,
		log:   logging.OrNull(log).WithComponent("step"),
	}
}

// Active reports whether a step is outstanding.
func (e *Engine) Active() bool {
	return e.active
}

// Mode returns the mode of the outstanding step.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Begin starts a step at the current location.
func (e *Engine) Begin(mode Mode) (Outcome, error) {
	e.ClearTemporary()
	e.active = true
	e.mode = mode
	e.start = e.vm.Location()
	e.startLoc, e.hasLoc = e.code.SourceLocationOf(e.start)
	e.log.Debug("step %s from %s", mode, e.start)

	if mode == Out {
		e.armCaller(e.vm.Frames())
		return Yield, nil
	}
	return e.advance()
}

// Hit is called when a step trap accepted the current location. The step
// either completes or, while still inside the starting statement, advances
// again.
func (e *Engine) Hit() (Outcome, error) {
	e.ClearTemporary()
	if e.mode != Out && e.sameStatement(e.vm.Location()) {
		return e.advance()
	}
	e.finish()
	return Complete, nil
}

// Entered is called when a frame was pushed during a step into.
func (e *Engine) Entered() {
	e.finish()
}

// ArmHandler retargets the step at the handler that will catch the pending
// throw: the first frame, innermost first, whose current instruction lies
// in a try region. Without a handler the step is dropped and false is
// returned.
func (e *Engine) ArmHandler() bool {
	e.ClearTemporary()
	for _, f := range e.vm.Frames() {
		target, ok := e.code.ExceptionHandlerFor(f.Addr.Func, f.Addr.Offset)
		if !ok {
			continue
		}
		addr := bytecode.Address{Func: f.Addr.Func, Offset: target}
		e.sites.AddStep(addr, f.Depth)
		e.active = true
		e.mode = Out
		e.log.Debug("step retargeted at handler %s depth %d", addr, f.Depth)
		return true
	}
	e.finish()
	return false
}

// Cancel drops the outstanding step and its traps.
func (e *Engine) Cancel() {
	if e.active {
		e.log.Debug("step %s cancelled", e.mode)
	}
	e.finish()
}

// ClearTemporary removes every step trap and entry notification without
// ending the step.
func (e *Engine) ClearTemporary() {
	e.sites.ReleaseAll(patch.Step)
	e.vm.SetBreakOnEntry(false)
}

func (e *Engine) finish() {
	e.ClearTemporary()
	e.active = false
}

// opcode returns the real opcode at addr, looking under a trap.
func (e *Engine) opcode(addr bytecode.Address) (bytecode.Opcode, error) {
	op := e.code.OpcodeAt(addr)
	if op != bytecode.OpTrap {
		return op, nil
	}
	orig, ok := e.sites.Original(addr)
	if !ok {
		return 0, fmt.Errorf("%s: trap without patch site: %w", addr, ErrUnsupported)
	}
	return orig, nil
}

func (e *Engine) advance() (Outcome, error) {
	for {
		addr := e.vm.Location()
		op, err := e.opcode(addr)
		if err != nil {
			return Yield, err
		}
		in, err := e.code.InstructionAt(addr, op)
		if err != nil {
			return Yield, fmt.Errorf("%s: %v: %w", addr, err, ErrUnsupported)
		}
		frames := e.vm.Frames()

		if in.IsReturn() {
			e.mode = Out
			e.armCaller(frames)
			return Yield, nil
		}

		if in.IsOpaque() {
			e.sites.Suspend(addr)
			threw := e.vm.StepInstruction()
			e.sites.Restore(addr)
			if threw {
				return Threw, nil
			}
			if !e.sameStatement(e.vm.Location()) {
				e.finish()
				return Complete, nil
			}
			continue
		}

		depth := frames[0].Depth
		if e.mode == Into {
			depth = 0
			e.vm.SetBreakOnEntry(true)
		}
		next := in.Next()
		if in.FallsThrough() {
			e.sites.AddStep(bytecode.Address{Func: addr.Func, Offset: next}, depth)
		}
		if target, ok := in.JumpTarget(); ok && (target != next || !in.FallsThrough()) {
			e.sites.AddStep(bytecode.Address{Func: addr.Func, Offset: target}, depth)
		}
		return Yield, nil
	}
}

// armCaller arms the return address of the innermost frame, filtered to
// the caller's depth. Without a caller the step simply ends.
func (e *Engine) armCaller(frames []bytecode.Frame) {
	if len(frames) < 2 || !frames[0].Return.Valid() {
		e.log.Debug("step out of the outermost frame")
		e.finish()
		return
	}
	e.sites.AddStep(frames[0].Return, frames[1].Depth)
}

// sameStatement reports whether addr is a different instruction of the
// statement the step started in.
func (e *Engine) sameStatement(addr bytecode.Address) bool {
	if !e.hasLoc || addr.Func != e.start.Func || addr.Offset == e.start.Offset {
		return false
	}
	loc, ok := e.code.SourceLocationOf(addr)
	return ok && loc.Statement == e.startLoc.Statement && loc.FileID == e.startLoc.FileID
}
