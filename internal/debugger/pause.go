package debugger

import (
	"fmt"

	"github.com/dshills/scriptdbg/internal/debugger/breakpoint"
	"github.com/dshills/scriptdbg/internal/debugger/patch"
	"github.com/dshills/scriptdbg/internal/debugger/step"
)

// pause reports reason to the handler and runs commands until one resumes
// execution. It returns with the machine positioned where execution
// continues.
func (d *Debugger) pause(reason PauseReason, id breakpoint.ID) {
	if d.state == Paused {
		d.fatal(fmt.Errorf("%s at %s: %w", reason, d.vm.Location(), ErrReentrantPause))
		return
	}
	// Temporary sites never outlive a reported pause.
	d.steps.Cancel()
	d.sites.ReleaseAll(patch.OnLoad)

	exception := reason == ReasonException
	d.enter()
	defer func() { d.state = Running }()

	for {
		p := d.snapshot(reason, id)
		d.log.Debug("paused: %s at %s", reason, p.Location)

		cmd := Continue()
		if d.handler != nil {
			cmd = d.handler(d, p)
		}

		switch cmd.Kind {
		case CommandEval:
			v, md := d.Evaluate(cmd.Frame, cmd.Source)
			d.lastEval = &EvalResult{Source: cmd.Source, Frame: cmd.Frame, Value: v, Metadata: md}
			reason, id = ReasonEvalComplete, breakpoint.InvalidID

		case CommandStep:
			d.state = Running
			if exception {
				if !d.steps.ArmHandler() {
					d.log.Debug("step from exception: no handler, resuming")
				}
				return
			}
			out, err := d.steps.Begin(cmd.Mode)
			if err != nil {
				d.fatal(fmt.Errorf("%w: %v", ErrStepUnsupported, err))
				return
			}
			if out != step.Complete {
				return
			}
			// An opaque instruction finished the step synchronously.
			d.enter()
			reason, id = ReasonStepFinish, breakpoint.InvalidID

		default:
			d.log.Debug("resumed")
			return
		}
	}
}

// enter moves to Paused at the current instruction.
func (d *Debugger) enter() {
	d.state = Paused
	d.pausedAt = pausePoint{addr: d.vm.Location(), executed: d.vm.Executed(), valid: true}
	d.lastEval = nil
}

func (d *Debugger) snapshot(reason PauseReason, id breakpoint.ID) *Pause {
	p := &Pause{
		Reason:     reason,
		Breakpoint: id,
		Location:   d.vm.Location(),
		Frames:     d.vm.Frames(),
		Eval:       d.lastEval,
	}
	p.Source, p.HasSource = d.prog.SourceLocationOf(p.Location)
	if reason == ReasonException {
		p.Thrown, _ = d.vm.Thrown()
	}
	return p
}
