package vm

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// DefaultMaxDepth is the default call depth limit.
const DefaultMaxDepth = 1000

// frame is one script activation.
type frame struct {
	fn *bytecode.Function
	// ip is the offset of the instruction being executed, pc the offset
	// execution continues at.
	ip   int
	pc   int
	env  *bytecode.Env
	base int
	this bytecode.Value
}

// Option configures a Machine.
type Option func(*Machine)

// WithOutput sets where the print native writes.
func WithOutput(w io.Writer) Option {
	return func(m *Machine) {
		m.out = w
	}
}

// WithLogger sets the machine's logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Machine) {
		m.log = logging.OrNull(l).WithComponent("vm")
	}
}

// WithMaxDepth sets the call depth limit.
func WithMaxDepth(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxDepth = n
		}
	}
}

// Machine is a bytecode interpreter.
type Machine struct {
	prog *bytecode.Program
	hook Hook
	log  *logging.Logger
	out  io.Writer

	frames  []*frame
	stack   []bytecode.Value
	globals map[string]bytecode.Value

	// The thrown-value cell. It is set while a throw is being unwound.
	thrown      bytecode.Value
	hasThrown   bool
	thrownTrace []bytecode.SourceLocation

	async        atomic.Uint32
	breakOnEntry bool
	executed     uint64
	stepped      uint64
	runs         int
	maxDepth     int
}

// New creates a machine for prog.
func New(prog *bytecode.Program, opts ...Option) *Machine {
	m := &Machine{
		prog:     prog,
		hook:     nopHook{},
		log:      logging.Null(),
		out:      os.Stdout,
		globals:  make(map[string]bytecode.Value),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.installBuiltins()
	return m
}

// Program returns the program the machine executes.
func (m *Machine) Program() *bytecode.Program {
	return m.prog
}

// SetHook attaches h. A nil hook detaches.
func (m *Machine) SetHook(h Hook) {
	if h == nil {
		h = nopHook{}
	}
	m.hook = h
}

// SetGlobal defines or overwrites a global.
func (m *Machine) SetGlobal(name string, v bytecode.Value) {
	m.globals[name] = v
}

// Global returns a global's value.
func (m *Machine) Global(name string) (bytecode.Value, bool) {
	v, ok := m.globals[name]
	return v, ok
}

// DefineNative registers a native function as a global.
func (m *Machine) DefineNative(name string, fn NativeFunc) {
	m.globals[name] = &Native{Name: name, Fn: fn}
}

// Run executes the entry function of mod.
func (m *Machine) Run(mod *bytecode.Module) (bytecode.Value, error) {
	entry := mod.EntryFunction()
	if entry == nil {
		return nil, fmt.Errorf("run %s: no entry function", mod.Name)
	}
	m.log.Debug("running %s", mod.Name)
	return m.Call(&Closure{Fn: entry}, bytecode.Undef, nil)
}

// Call invokes fn with the given receiver and arguments. When called from a
// native function or an evaluator the call runs nested on top of the
// current frames. A throw that escapes the call is returned as *Exception.
func (m *Machine) Call(fn, this bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	switch f := fn.(type) {
	case *Native:
		return f.Fn(m, this, args)
	case *Closure:
		stop := len(m.frames)
		m.runs++
		defer func() { m.runs-- }()
		if err := m.enter(f, this, args); err != nil {
			if err != errThrown {
				return nil, err
			}
			if exc := m.unwind(stop); exc != nil {
				return nil, exc
			}
			return bytecode.Undef, nil
		}
		return m.run(stop)
	default:
		return nil, fmt.Errorf("call %s: %w", fn, ErrNotCallable)
	}
}

// RequestAsyncPause asks the dispatch loop to call Hook.OnAsyncPause at
// the next instruction boundary. It is safe to call from any goroutine.
func (m *Machine) RequestAsyncPause(kind bytecode.AsyncKind) {
	m.async.Or(uint32(kind))
}

// SetBreakOnEntry makes every frame push call Hook.OnEnter.
func (m *Machine) SetBreakOnEntry(on bool) {
	m.breakOnEntry = on
}

// BreakOnEntry reports whether entry notifications are enabled.
func (m *Machine) BreakOnEntry() bool {
	return m.breakOnEntry
}

// Executed returns the number of instructions executed so far.
func (m *Machine) Executed() uint64 {
	return m.executed
}

// Depth returns the number of script frames.
func (m *Machine) Depth() int {
	return len(m.frames)
}

// Location returns the address of the instruction about to execute (or
// executing) in the innermost frame.
func (m *Machine) Location() bytecode.Address {
	if len(m.frames) == 0 {
		return bytecode.Address{Func: bytecode.NoFunc}
	}
	return m.addr(m.top())
}

// Frames returns the call stack, innermost frame first.
func (m *Machine) Frames() []bytecode.Frame {
	out := make([]bytecode.Frame, 0, len(m.frames))
	for i := len(m.frames) - 1; i >= 0; i-- {
		fr := m.frames[i]
		f := bytecode.Frame{
			Addr:   m.addr(fr),
			Return: bytecode.Address{Func: bytecode.NoFunc},
			Depth:  i + 1,
		}
		if i > 0 {
			caller := m.frames[i-1]
			f.Return = bytecode.Address{Func: caller.fn.ID, Offset: caller.pc}
		}
		out = append(out, f)
	}
	return out
}

// frameAt returns the i-th frame counting from the innermost.
func (m *Machine) frameAt(i int) (*frame, error) {
	if i < 0 || i >= len(m.frames) {
		return nil, fmt.Errorf("frame %d: %w", i, ErrNoFrame)
	}
	return m.frames[len(m.frames)-1-i], nil
}

// FrameEnv returns the environment of the i-th frame from the innermost.
func (m *Machine) FrameEnv(i int) (*bytecode.Env, error) {
	fr, err := m.frameAt(i)
	if err != nil {
		return nil, err
	}
	return fr.env, nil
}

// FrameThis returns the receiver of the i-th frame from the innermost.
func (m *Machine) FrameThis(i int) (bytecode.Value, error) {
	fr, err := m.frameAt(i)
	if err != nil {
		return nil, err
	}
	return fr.this, nil
}

// FrameFunction returns the function of the i-th frame from the innermost.
func (m *Machine) FrameFunction(i int) (*bytecode.Function, error) {
	fr, err := m.frameAt(i)
	if err != nil {
		return nil, err
	}
	return fr.fn, nil
}

// Thrown returns the pending thrown value, if any.
func (m *Machine) Thrown() (bytecode.Value, bool) {
	return m.thrown, m.hasThrown
}

// SetThrown overwrites the thrown-value cell. The trace is taken from v
// when it carries one.
func (m *Machine) SetThrown(v bytecode.Value, ok bool) {
	if !ok {
		m.clearThrown()
		return
	}
	var trace []bytecode.SourceLocation
	if st, isTracer := v.(bytecode.StackTracer); isTracer {
		trace = st.StackTrace()
	}
	m.thrown, m.hasThrown, m.thrownTrace = v, true, trace
}

// ThrowState is a copy of the thrown-value cell.
type ThrowState struct {
	Value   bytecode.Value
	Pending bool
	Trace   []bytecode.SourceLocation
}

// SaveThrown returns the thrown-value cell, trace included. Evaluators save
// it before running code of their own and restore it afterwards.
func (m *Machine) SaveThrown() ThrowState {
	return ThrowState{Value: m.thrown, Pending: m.hasThrown, Trace: m.thrownTrace}
}

// RestoreThrown puts back a cell returned by SaveThrown.
func (m *Machine) RestoreThrown(s ThrowState) {
	if !s.Pending {
		m.clearThrown()
		return
	}
	m.thrown, m.hasThrown, m.thrownTrace = s.Value, true, s.Trace
}

// Trace returns the source locations of the call stack, innermost first.
func (m *Machine) Trace() []bytecode.SourceLocation {
	trace := make([]bytecode.SourceLocation, 0, len(m.frames))
	for i := len(m.frames) - 1; i >= 0; i-- {
		if loc, ok := m.prog.SourceLocationOf(m.addr(m.frames[i])); ok {
			trace = append(trace, loc)
		}
	}
	return trace
}

// StepInstruction executes exactly the instruction at the current location
// and reports whether it threw. A thrown value stays in the thrown-value
// cell and is unwound once control returns to the dispatch loop. The
// instruction must not be a return.
func (m *Machine) StepInstruction() (threw bool) {
	fr := m.top()
	fr.pc = fr.ip
	m.stepped++
	op := bytecode.Opcode(fr.fn.Code[fr.ip])
	if op == bytecode.OpTrap {
		op = m.hook.OriginalOpcode(m.addr(fr))
	}
	if op == bytecode.OpReturn {
		panic(fmt.Sprintf("vm: %s: cannot step a return in isolation", m.addr(fr)))
	}
	if _, _, err := m.execute(op, true, -1); err != nil {
		if err != errThrown {
			_ = m.throwError("%v", err)
		}
		return true
	}
	top := m.top()
	top.ip = top.pc
	return false
}

func (m *Machine) top() *frame {
	return m.frames[len(m.frames)-1]
}

func (m *Machine) addr(fr *frame) bytecode.Address {
	return bytecode.Address{Func: fr.fn.ID, Offset: fr.ip}
}

func (m *Machine) push(v bytecode.Value) {
	m.stack = append(m.stack, v)
}

func (m *Machine) pop() bytecode.Value {
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v
}

func (m *Machine) peek() bytecode.Value {
	return m.stack[len(m.stack)-1]
}

// enter pushes a frame for c.
func (m *Machine) enter(c *Closure, this bytecode.Value, args []bytecode.Value) error {
	fn := c.Fn
	if fn.Lazy {
		if err := m.prog.Compile(fn.ID); err != nil {
			return fmt.Errorf("call %s: %w", fn.Name, err)
		}
		m.log.Debug("compiled %s on first call", fn.Name)
	}
	if len(m.frames) >= m.maxDepth {
		return m.throwError("%s", ErrStackOverflow)
	}
	env := bytecode.NewEnv(fn.ID, fn.Slots, c.Env)
	for i := 0; i < fn.Params && i < len(args); i++ {
		env.Slots[i] = args[i]
	}
	if this == nil {
		this = bytecode.Undef
	}
	m.frames = append(m.frames, &frame{fn: fn, env: env, base: len(m.stack), this: this})
	if m.breakOnEntry {
		m.hook.OnEnter()
	}
	return nil
}

func (m *Machine) popFrame() {
	fr := m.top()
	m.stack = m.stack[:fr.base]
	m.frames = m.frames[:len(m.frames)-1]
}

// throw sets the thrown-value cell.
func (m *Machine) throw(v bytecode.Value, trace []bytecode.SourceLocation) error {
	if trace == nil {
		if st, ok := v.(bytecode.StackTracer); ok {
			trace = st.StackTrace()
		} else {
			trace = m.Trace()
		}
	}
	m.thrown, m.hasThrown, m.thrownTrace = v, true, trace
	return errThrown
}

// throwError throws a runtime error value.
func (m *Machine) throwError(format string, args ...any) error {
	ev := &ErrorValue{Message: fmt.Sprintf(format, args...), Trace: m.Trace()}
	return m.throw(ev, ev.Trace)
}

func (m *Machine) clearThrown() {
	m.thrown, m.hasThrown, m.thrownTrace = nil, false, nil
}

// unwind transfers the pending throw to the innermost handler above stop.
// It returns the exception when no such handler exists; the frames above
// stop are gone in that case.
func (m *Machine) unwind(stop int) *Exception {
	m.hook.OnException()
	if !m.hasThrown {
		return nil
	}
	v, trace := m.thrown, m.thrownTrace
	for len(m.frames) > stop {
		fr := m.top()
		if target, ok := m.prog.ExceptionHandlerFor(fr.fn.ID, fr.ip); ok {
			m.stack = m.stack[:fr.base]
			m.push(v)
			m.clearThrown()
			fr.pc = target
			fr.ip = target
			m.log.Debug("caught %s at %s", v, m.addr(fr))
			m.hook.OnExceptionUnwound()
			return nil
		}
		m.popFrame()
	}
	m.clearThrown()
	if m.runs == 1 {
		m.hook.OnExceptionUnwound()
	}
	return &Exception{Value: v, Trace: trace}
}
