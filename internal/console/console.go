package console

import (
	"errors"
	"fmt"
	"io"

	"github.com/dshills/scriptdbg/internal/debugger"
	"github.com/dshills/scriptdbg/internal/debugger/breakpoint"
	"github.com/dshills/scriptdbg/internal/logging"
)

// Console is a debugger.PauseHandler reading commands from a Reader and
// reporting through a Printer.
type Console struct {
	in    Reader
	parse Parser
	out   Printer
	log   *logging.Logger

	selected  int
	lastLine  string
	exhausted bool
	detached  bool
}

// Option configures a Console.
type Option func(*Console)

// WithParser replaces the line parser. The default is ParseLine.
func WithParser(p Parser) Option {
	return func(c *Console) {
		c.parse = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Console) {
		c.log = l
	}
}

// New creates a console.
func New(in Reader, out Printer, opts ...Option) *Console {
	c := &Console{in: in, out: out, parse: ParseLine}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.OrNull(c.log).WithComponent("console")
	return c
}

// Attach installs the console as d's pause handler and reports breakpoint
// resolutions.
func (c *Console) Attach(d *debugger.Debugger) {
	d.SetPauseHandler(c.Handle)
	d.OnBreakpointResolved(func(info breakpoint.Info) {
		c.out.Breakpoint(BreakpointResolved, info)
	})
}

// Exhausted reports whether the command source has ended. Every later
// pause continues immediately.
func (c *Console) Exhausted() bool {
	return c.exhausted
}

// Detached reports whether the user detached the debugger.
func (c *Console) Detached() bool {
	return c.detached
}

// Handle implements debugger.PauseHandler.
func (c *Console) Handle(d *debugger.Debugger, p *debugger.Pause) debugger.Command {
	if c.exhausted || c.detached {
		return debugger.Continue()
	}
	if p.Reason == debugger.ReasonEvalComplete && p.Eval != nil {
		c.out.EvalResult(p.Eval)
	} else {
		c.selected = 0
		c.out.Paused(d.SessionID(), p, d.StackTrace())
	}

	for {
		line, err := c.in.ReadLine()
		switch {
		case errors.Is(err, ErrInterrupted):
			c.out.Message("type 'continue' to resume or 'detach' to stop debugging")
			continue
		case errors.Is(err, io.EOF):
			c.log.Debug("command source exhausted, continuing")
			c.exhausted = true
			return debugger.Continue()
		case err != nil:
			c.out.Error(err)
			c.exhausted = true
			return debugger.Continue()
		}

		if line == "" {
			if c.lastLine == "" {
				continue
			}
			line = c.lastLine
		}
		c.lastLine = line

		req, err := c.parse(line)
		if err != nil {
			c.out.Error(err)
			continue
		}
		if cmd, resume := c.execute(d, req); resume {
			return cmd
		}
	}
}

func (c *Console) frame(req Request) int {
	if req.Frame >= 0 {
		return req.Frame
	}
	return c.selected
}

// execute runs req. It returns resume=true with the command that leaves
// the pause loop or evaluates.
func (c *Console) execute(d *debugger.Debugger, req Request) (debugger.Command, bool) {
	switch req.Op {
	case OpContinue:
		return debugger.Continue(), true
	case OpStep:
		return debugger.Step(req.Mode), true
	case OpEval:
		return debugger.Eval(req.Expr, c.frame(req)), true

	case OpFrame:
		stack := d.StackTrace()
		if req.Frame >= len(stack) {
			c.out.Error(fmt.Errorf("no frame %d (stack has %d)", req.Frame, len(stack)))
			break
		}
		c.selected = req.Frame
		c.out.Backtrace(stack, c.selected)
	case OpBacktrace:
		c.out.Backtrace(d.StackTrace(), c.selected)
	case OpVars:
		vars, err := d.Variables(c.frame(req))
		if err != nil {
			c.out.Error(err)
			break
		}
		c.out.Variables(c.frame(req), vars)
	case OpThis:
		v, err := d.This(c.frame(req))
		if err != nil {
			c.out.Error(err)
			break
		}
		c.out.This(c.frame(req), v)

	case OpBreak:
		id := d.CreateBreakpoint(req.Location)
		if !id.Valid() {
			c.out.Error(fmt.Errorf("%s: %w", req.Location, breakpoint.ErrSiteOccupied))
			break
		}
		if req.Expr != "" {
			if err := d.SetBreakpointCondition(id, req.Expr); err != nil {
				c.out.Error(err)
			}
		}
		c.reportBreakpoint(d, BreakpointNew, id)
	case OpDelete:
		if req.All {
			d.DeleteAllBreakpoints()
			c.out.Message("deleted all breakpoints")
			break
		}
		info, ok := d.Breakpoint(req.ID)
		if err := d.DeleteBreakpoint(req.ID); err != nil {
			c.out.Error(err)
			break
		}
		if ok {
			c.out.Breakpoint(BreakpointRemoved, info)
		}
	case OpEnable, OpDisable:
		if err := d.EnableBreakpoint(req.ID, req.Op == OpEnable); err != nil {
			c.out.Error(err)
			break
		}
		c.reportBreakpoint(d, BreakpointChanged, req.ID)
	case OpCondition:
		if err := d.SetBreakpointCondition(req.ID, req.Expr); err != nil {
			c.out.Error(err)
			break
		}
		c.reportBreakpoint(d, BreakpointChanged, req.ID)
	case OpList:
		c.out.Breakpoints(d.Breakpoints())

	case OpThrow:
		mode, err := debugger.ParsePauseOnThrow(req.Arg)
		if err != nil {
			c.out.Error(err)
			break
		}
		d.SetPauseOnThrow(mode)
		c.out.Message("pause on throw: %s", mode)
	case OpSave:
		if err := d.SaveBreakpoints(req.Arg); err != nil {
			c.out.Error(err)
			break
		}
		c.out.Message("saved %d breakpoints to %s", len(d.Breakpoints()), req.Arg)
	case OpHelp:
		c.out.Message("%s", helpText)
	case OpDetach:
		c.detached = true
		d.Shutdown()
		c.out.Message("detached")
		return debugger.Continue(), true
	}
	return debugger.Command{}, false
}

func (c *Console) reportBreakpoint(d *debugger.Debugger, event string, id breakpoint.ID) {
	if info, ok := d.Breakpoint(id); ok {
		c.out.Breakpoint(event, info)
	}
}
