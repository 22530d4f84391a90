package debugger

import (
	"fmt"

	"github.com/dshills/scriptdbg/internal/debugger/breakpoint"
	"github.com/dshills/scriptdbg/internal/debugger/patch"
	"github.com/dshills/scriptdbg/internal/debugger/step"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// hook adapts the debugger to vm.Hook without widening its public API.
type hook struct {
	d *Debugger
}

func (h hook) OnTrap() bool {
	d := h.d
	if d.evaluating {
		return false
	}
	addr := d.vm.Location()
	if d.pausedAt.matches(addr, d.vm.Executed()) {
		d.pausedAt.valid = false
		return true
	}
	site, ok := d.sites.Lookup(addr)
	if !ok {
		d.fatal(fmt.Errorf("%s: %w", addr, ErrUnknownTrap))
		return false
	}

	if site.OnLoad {
		d.sites.Release(addr, patch.OnLoad)
		d.pause(ReasonScriptLoaded, breakpoint.InvalidID)
		return true
	}
	if info, ok := d.bps.At(addr); ok && d.conditionHolds(info) {
		d.bps.RecordHit(info.ID)
		d.pause(ReasonBreakpoint, info.ID)
		return true
	}
	if site.HasStep() && d.steps.Active() && site.MatchesDepth(d.vm.Depth()) {
		out, err := d.steps.Hit()
		if err != nil {
			d.fatal(fmt.Errorf("%w: %v", ErrStepUnsupported, err))
			return false
		}
		if out == step.Complete {
			d.pause(ReasonStepFinish, breakpoint.InvalidID)
			return true
		}
	}
	return false
}

// conditionHolds evaluates a breakpoint's condition in the innermost frame.
// A throwing condition is false.
func (d *Debugger) conditionHolds(info breakpoint.Info) bool {
	if info.Condition == "" {
		return true
	}
	v, md := d.Evaluate(0, info.Condition)
	if md.IsException {
		d.log.Debug("breakpoint %d condition threw: %s", info.ID, md.Text)
		return false
	}
	return v.Truthy()
}

func (h hook) OnDebuggerStatement() {
	if h.d.evaluating {
		return
	}
	h.d.pause(ReasonDebuggerStatement, breakpoint.InvalidID)
}

func (h hook) OnEnter() {
	d := h.d
	if d.evaluating || !d.steps.Active() || d.steps.Mode() != step.Into {
		return
	}
	d.steps.Entered()
	d.pause(ReasonStepFinish, breakpoint.InvalidID)
}

func (h hook) OnException() {
	d := h.d
	if d.evaluating || d.unwinding {
		return
	}
	d.unwinding = true
	if d.reportsThrow() {
		d.pause(ReasonException, breakpoint.InvalidID)
		return
	}
	if d.steps.Active() && !d.steps.ArmHandler() {
		d.log.Debug("no handler for thrown value, step dropped")
	}
}

// reportsThrow applies the pause-on-throw mode to the pending exception.
func (d *Debugger) reportsThrow() bool {
	switch d.pauseOnThrow {
	case PauseOnThrowAll:
		return true
	case PauseOnThrowUncaught:
		for _, f := range d.vm.Frames() {
			if _, ok := d.prog.ExceptionHandlerFor(f.Addr.Func, f.Addr.Offset); ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (h hook) OnExceptionUnwound() {
	if h.d.evaluating {
		return
	}
	h.d.unwinding = false
}

func (h hook) OnAsyncPause(kind bytecode.AsyncKind) {
	d := h.d
	if d.evaluating || d.state == Paused {
		d.log.Debug("%s async pause dropped while paused", kind)
		return
	}
	if kind&bytecode.AsyncExplicit != 0 {
		d.steps.Cancel()
		d.pause(ReasonAsyncTrigger, breakpoint.InvalidID)
		return
	}
	if d.steps.Active() {
		d.log.Debug("implicit async pause suppressed during step")
		return
	}
	d.pause(ReasonAsyncTrigger, breakpoint.InvalidID)
}

func (h hook) OriginalOpcode(addr bytecode.Address) bytecode.Opcode {
	op, ok := h.d.sites.Original(addr)
	if !ok {
		h.d.fatal(fmt.Errorf("%s: %w", addr, ErrUnknownTrap))
		return bytecode.OpNop
	}
	return op
}
