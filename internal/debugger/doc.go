// Package debugger implements the pause/resume state machine that sits
// between a running script machine and a command source.
//
// A Debugger is attached to one vm.Machine for its lifetime. All of its
// methods run on the interpreter's goroutine, with one exception:
// TriggerAsyncPause may be called from anywhere, including signal handlers,
// because it only sets the machine's atomic pause flag.
//
// Pausing does not suspend a goroutine. When the machine reports a trap,
// exception or async request the debugger decides whether to pause and, if
// so, calls the PauseHandler in a loop on the interpreter's stack until the
// handler returns Continue or Step.
//
// # Usage
//
//	d := debugger.New(m,
//	    debugger.WithEvaluator(lua.New(m)),
//	    debugger.WithPauseHandler(func(d *debugger.Debugger, p *debugger.Pause) debugger.Command {
//	        if p.Reason == debugger.ReasonBreakpoint {
//	            return debugger.Eval("n * 2", 0)
//	        }
//	        return debugger.Continue()
//	    }),
//	)
//	d.CreateBreakpoint(breakpoint.Location{File: "main.js", Line: 3})
//	v, err := m.Run(mod)
//
// # Breakpoints
//
// User breakpoints live in the breakpoint registry and stay pending until a
// loaded module contains their location. Step targets and script-load
// pauses are temporary sites in the same patch table; they are released
// before any pause is reported.
//
// # Evaluation
//
// Eval commands and breakpoint conditions run through the frame evaluator.
// Traps met by code an evaluation calls never pause, and the pending thrown
// value, trace included, is restored afterwards.
package debugger
