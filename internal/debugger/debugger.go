package debugger

import (
	"os"

	"github.com/google/uuid"

	"github.com/dshills/scriptdbg/internal/debugger/breakpoint"
	"github.com/dshills/scriptdbg/internal/debugger/frame"
	"github.com/dshills/scriptdbg/internal/debugger/patch"
	"github.com/dshills/scriptdbg/internal/debugger/resolve"
	"github.com/dshills/scriptdbg/internal/debugger/step"
	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
	"github.com/dshills/scriptdbg/internal/script/vm"
)

// FatalExitCode is the exit status of the default fatal handler.
const FatalExitCode = 70

// Option configures a Debugger.
type Option func(*Debugger)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Debugger) {
		d.log = l
	}
}

// WithEvaluator sets the expression evaluator used for eval commands and
// breakpoint conditions.
func WithEvaluator(e frame.Evaluator) Option {
	return func(d *Debugger) {
		d.evaluator = e
	}
}

// WithPauseHandler sets the pause handler. Without one every pause
// continues immediately.
func WithPauseHandler(h PauseHandler) Option {
	return func(d *Debugger) {
		d.handler = h
	}
}

// WithPauseOnThrow selects which exceptions pause.
func WithPauseOnThrow(p PauseOnThrow) Option {
	return func(d *Debugger) {
		d.pauseOnThrow = p
	}
}

// WithPauseOnLoad makes every newly loaded module pause at its entry.
func WithPauseOnLoad(on bool) Option {
	return func(d *Debugger) {
		d.pauseOnLoad = on
	}
}

// WithFatal replaces the handler for contract violations. The default logs
// the error and exits the process with FatalExitCode.
func WithFatal(fn func(err error)) Option {
	return func(d *Debugger) {
		d.fatal = fn
	}
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(d *Debugger) {
		d.session = id
	}
}

// pausePoint remembers where the last pause was reported, so that the trap
// at the same instruction does not report it again. It is used up by the
// first match.
type pausePoint struct {
	addr     bytecode.Address
	executed uint64
	valid    bool
}

func (p pausePoint) matches(addr bytecode.Address, executed uint64) bool {
	return p.valid && p.addr == addr && p.executed == executed
}

// Debugger drives one machine.
type Debugger struct {
	vm   *vm.Machine
	prog *bytecode.Program
	log  *logging.Logger

	sites     *patch.Table
	resolver  *resolve.Resolver
	bps       *breakpoint.Registry
	steps     *step.Engine
	evaluator frame.Evaluator
	frames    *frame.FrameEvaluator

	handler      PauseHandler
	pauseOnThrow PauseOnThrow
	pauseOnLoad  bool
	fatal        func(err error)
	session      string

	state      State
	unwinding  bool
	evaluating bool
	closed     bool
	pausedAt   pausePoint
	lastEval   *EvalResult
}

// New attaches a debugger to m. The debugger stays attached until Shutdown.
func New(m *vm.Machine, opts ...Option) *Debugger {
	d := &Debugger{
		vm:        m,
		prog:      m.Program(),
		evaluator: noEvaluator{},
		session:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logging.OrNull(d.log).WithComponent("debugger").WithField("session", d.session)
	if d.fatal == nil {
		d.fatal = func(err error) {
			d.log.Error("fatal: %v", err)
			os.Exit(FatalExitCode)
		}
	}

	d.sites = patch.NewTable(d.prog, d.log)
	d.resolver = resolve.New(d.prog, d.log)
	d.bps = breakpoint.NewRegistry(d.sites, d.resolver, d.log)
	d.steps = step.New(d.prog, m, d.sites, d.log)
	d.frames = frame.NewFrameEvaluator(d.prog, m, d.evaluator, d.log)

	d.prog.OnLoad(d.moduleLoaded)
	m.SetHook(hook{d})
	d.log.Debug("attached")
	return d
}

// Shutdown restores every patched instruction and detaches from the
// machine. Called from the pause handler, the paused instruction runs
// unpatched once the handler returns.
func (d *Debugger) Shutdown() {
	if d.closed {
		return
	}
	d.closed = true
	d.steps.Cancel()
	d.sites.Clear()
	d.vm.SetHook(nil)
	d.log.Debug("detached")
}

// moduleLoaded retries pending breakpoints against new code and arms the
// script-load pause.
func (d *Debugger) moduleLoaded(m *bytecode.Module) {
	if d.closed {
		return
	}
	d.bps.ResolveAll()
	if !d.pauseOnLoad {
		return
	}
	entry := m.EntryFunction()
	if entry == nil {
		return
	}
	if entry.Lazy {
		if err := d.prog.Compile(entry.ID); err != nil {
			d.log.Warn("cannot arm load pause for %s: %v", m.Name, err)
			return
		}
	}
	d.sites.AddOnLoad(bytecode.Address{Func: entry.ID})
}

// SessionID identifies this debugger instance.
func (d *Debugger) SessionID() string {
	return d.session
}

// State returns the current state.
func (d *Debugger) State() State {
	return d.state
}

// SetPauseHandler replaces the pause handler.
func (d *Debugger) SetPauseHandler(h PauseHandler) {
	d.handler = h
}

// OnBreakpointResolved registers fn to be told when a pending breakpoint
// binds to code.
func (d *Debugger) OnBreakpointResolved(fn func(breakpoint.Info)) {
	d.bps.OnResolved(fn)
}

// SetPauseOnThrow selects which exceptions pause.
func (d *Debugger) SetPauseOnThrow(p PauseOnThrow) {
	d.pauseOnThrow = p
}

// SetPauseOnLoad toggles pausing at the entry of newly loaded modules.
func (d *Debugger) SetPauseOnLoad(on bool) {
	d.pauseOnLoad = on
}

// TriggerAsyncPause asks the machine to pause at its next instruction
// boundary. Safe to call from any goroutine.
func (d *Debugger) TriggerAsyncPause(kind bytecode.AsyncKind) {
	d.vm.RequestAsyncPause(kind)
}

// CreateBreakpoint creates a user breakpoint. It returns InvalidID when
// the location resolves to an address that already has one.
func (d *Debugger) CreateBreakpoint(loc breakpoint.Location) breakpoint.ID {
	return d.bps.Create(loc)
}

// SetBreakpointCondition sets a breakpoint's condition. An empty condition
// makes it unconditional.
func (d *Debugger) SetBreakpointCondition(id breakpoint.ID, expr string) error {
	return d.bps.SetCondition(id, expr)
}

// EnableBreakpoint enables or disables a breakpoint.
func (d *Debugger) EnableBreakpoint(id breakpoint.ID, on bool) error {
	return d.bps.Enable(id, on)
}

// DeleteBreakpoint deletes a breakpoint.
func (d *Debugger) DeleteBreakpoint(id breakpoint.ID) error {
	return d.bps.Delete(id)
}

// DeleteAllBreakpoints deletes every breakpoint and drops any outstanding
// step along with its temporary sites. An armed script-load pause stays.
func (d *Debugger) DeleteAllBreakpoints() {
	d.bps.DeleteAll()
	d.steps.Cancel()
}

// Breakpoint returns a breakpoint's info.
func (d *Debugger) Breakpoint(id breakpoint.ID) (breakpoint.Info, bool) {
	return d.bps.Info(id)
}

// Breakpoints lists all breakpoints ordered by id.
func (d *Debugger) Breakpoints() []breakpoint.Info {
	return d.bps.List()
}

// SaveBreakpoints writes the user breakpoints to path.
func (d *Debugger) SaveBreakpoints(path string) error {
	return d.bps.Save(path)
}

// LoadBreakpoints recreates breakpoints saved at path.
func (d *Debugger) LoadBreakpoints(path string) ([]breakpoint.ID, error) {
	return d.bps.Load(path)
}

// Sites returns a snapshot of the patch table.
func (d *Debugger) Sites() []patch.Site {
	return d.sites.Sites()
}

// Stepping reports whether a step is outstanding.
func (d *Debugger) Stepping() bool {
	return d.steps.Active()
}

// StackTrace describes the call stack, innermost first.
func (d *Debugger) StackTrace() []StackFrame {
	frames := d.vm.Frames()
	out := make([]StackFrame, 0, len(frames))
	for _, f := range frames {
		sf := StackFrame{Depth: f.Depth, Location: f.Addr}
		if fn := d.prog.Function(f.Addr.Func); fn != nil {
			sf.Function = fn.Name
		}
		sf.Source, sf.HasSource = d.prog.SourceLocationOf(f.Addr)
		out = append(out, sf)
	}
	return out
}

// LexicalInfo describes the scope chain of frame i.
func (d *Debugger) LexicalInfo(i int) (frame.LexicalInfo, error) {
	scope, err := d.frames.Scope(i)
	if err != nil {
		return frame.LexicalInfo{}, err
	}
	return scope.Info(), nil
}

// Variables lists the bindings visible in frame i, innermost scope first.
func (d *Debugger) Variables(i int) ([]frame.Variable, error) {
	scope, err := d.frames.Scope(i)
	if err != nil {
		return nil, err
	}
	return scope.Variables(), nil
}

// This returns the receiver of frame i.
func (d *Debugger) This(i int) (bytecode.Value, error) {
	return d.vm.FrameThis(i)
}

// Evaluate evaluates source in frame i. Traps hit while evaluating do not
// pause.
func (d *Debugger) Evaluate(i int, source string) (bytecode.Value, frame.Metadata) {
	prev := d.evaluating
	d.evaluating = true
	defer func() {
		d.evaluating = prev
		// Code run by the evaluation leaves the paused position where it was.
		if d.state == Paused {
			d.pausedAt.executed = d.vm.Executed()
		}
	}()
	return d.frames.Eval(i, source)
}

type noEvaluator struct{}

func (noEvaluator) Evaluate(*frame.Scope, bytecode.Value, string) (bytecode.Value, error) {
	return nil, ErrNoEvaluator
}
