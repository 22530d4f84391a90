package lua

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptdbg/internal/debugger/frame"
	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
	"github.com/dshills/scriptdbg/internal/script/vm"
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 2 * time.Second

// Errors for evaluations.
var (
	// ErrClosed is returned when evaluating with a closed evaluator.
	ErrClosed = errors.New("lua evaluator is closed")

	// ErrTimeout is returned when an evaluation ran out of time.
	ErrTimeout = errors.New("lua evaluation timeout")
)

// Interpreter is the part of the script machine expressions reach into.
type Interpreter interface {
	Call(fn, this bytecode.Value, args []bytecode.Value) (bytecode.Value, error)
	Global(name string) (bytecode.Value, bool)
	SetGlobal(name string, v bytecode.Value)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTimeout sets the evaluation timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		e.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Evaluator) {
		e.log = logging.OrNull(l).WithComponent("lua")
	}
}

// Evaluator implements frame.Evaluator.
type Evaluator struct {
	L       *lua.LState
	vm      Interpreter
	timeout time.Duration
	log     *logging.Logger

	// valueMeta is the metatable of userdata wrapping script values.
	valueMeta *lua.LTable
	closed    bool
}

// New creates an evaluator bound to an interpreter.
func New(interp Interpreter, opts ...Option) *Evaluator {
	e := &Evaluator{
		vm:      interp,
		timeout: DefaultTimeout,
		log:     logging.Null(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(e.L)

	e.valueMeta = e.L.NewTable()
	e.L.SetField(e.valueMeta, "__tostring", e.L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		L.Push(lua.LString(describeUserData(ud)))
		return 1
	}))
	return e
}

// openSafeLibraries opens the side-effect free standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// Close releases the Lua state.
func (e *Evaluator) Close() {
	if e.closed {
		return
	}
	e.L.Close()
	e.closed = true
}

// Evaluate evaluates source as an expression, or as a chunk when it does
// not parse as one. A nil scope exposes only this and globals.
func (e *Evaluator) Evaluate(scope *frame.Scope, this bytecode.Value, source string) (bytecode.Value, error) {
	if e.closed {
		return nil, ErrClosed
	}
	fn, err := e.compile(source)
	if err != nil {
		return nil, err
	}
	fn.Env = e.environment(scope, this)

	if e.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		e.L.SetContext(ctx)
		defer e.L.RemoveContext()
	}

	top := e.L.GetTop()
	e.L.Push(fn)
	if err := e.L.PCall(0, 1, nil); err != nil {
		e.L.SetTop(top)
		return nil, e.translate(err)
	}
	ret := e.L.Get(-1)
	e.L.SetTop(top)
	return e.toScript(ret), nil
}

func (e *Evaluator) compile(source string) (*lua.LFunction, error) {
	if fn, err := e.L.LoadString("return " + source); err == nil {
		return fn, nil
	}
	fn, err := e.L.LoadString(source)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", source, err)
	}
	return fn, nil
}

// thrownValue marks a userdata raised because a script call threw.
type thrownValue struct {
	exc *vm.Exception
}

// translate turns a Lua error into the error the evaluator reports. A
// script exception raised through a bridged call comes back as itself.
func (e *Evaluator) translate(err error) error {
	if ctx := e.L.Context(); ctx != nil && ctx.Err() != nil {
		return fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if ud, ok := apiErr.Object.(*lua.LUserData); ok {
			if t, ok := ud.Value.(thrownValue); ok {
				return t.exc
			}
		}
		return errors.New(apiErr.Object.String())
	}
	return err
}

// environment builds the global table of one evaluation.
func (e *Evaluator) environment(scope *frame.Scope, this bytecode.Value) *lua.LTable {
	L := e.L
	env := L.NewTable()
	base := L.Get(lua.GlobalsIndex)

	meta := L.NewTable()
	L.SetField(meta, "__index", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(2)
		if v, ok := scope.Lookup(name); ok {
			L.Push(e.toLua(v))
			return 1
		}
		if name == "this" && this != nil {
			L.Push(e.toLua(this))
			return 1
		}
		if v, ok := e.vm.Global(name); ok {
			L.Push(e.toLua(v))
			return 1
		}
		L.Push(L.GetField(base, name))
		return 1
	}))
	L.SetField(meta, "__newindex", L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		name := L.CheckString(2)
		v := e.toScript(L.Get(3))
		if scope.Assign(name, v) {
			return 0
		}
		if _, ok := e.vm.Global(name); ok {
			e.vm.SetGlobal(name, v)
			return 0
		}
		t.RawSetString(name, L.Get(3))
		return 0
	}))
	L.SetMetatable(env, meta)
	return env
}

// toLua converts a script value.
func (e *Evaluator) toLua(v bytecode.Value) lua.LValue {
	switch x := v.(type) {
	case nil, bytecode.Undefined:
		return lua.LNil
	case bytecode.Number:
		return lua.LNumber(x)
	case bytecode.Str:
		return lua.LString(x)
	case bytecode.Bool:
		return lua.LBool(x)
	case *vm.Closure, *vm.Native:
		return e.bridge(v)
	default:
		ud := e.L.NewUserData()
		ud.Value = v
		e.L.SetMetatable(ud, e.valueMeta)
		return ud
	}
}

// bridge wraps a script callable as a Lua function.
func (e *Evaluator) bridge(fn bytecode.Value) *lua.LFunction {
	return e.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		args := make([]bytecode.Value, 0, n)
		for i := 1; i <= n; i++ {
			args = append(args, e.toScript(L.Get(i)))
		}
		ret, err := e.vm.Call(fn, bytecode.Undef, args)
		if err != nil {
			var exc *vm.Exception
			if errors.As(err, &exc) {
				ud := L.NewUserData()
				ud.Value = thrownValue{exc: exc}
				L.SetMetatable(ud, e.valueMeta)
				L.Error(ud, 1)
				return 0
			}
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(e.toLua(ret))
		return 1
	})
}

// toScript converts a Lua value. Values without a script counterpart
// become their string form.
func (e *Evaluator) toScript(lv lua.LValue) bytecode.Value {
	switch x := lv.(type) {
	case *lua.LNilType:
		return bytecode.Undef
	case lua.LBool:
		return bytecode.Bool(x)
	case lua.LNumber:
		return bytecode.Number(x)
	case lua.LString:
		return bytecode.Str(x)
	case *lua.LUserData:
		if v, ok := x.Value.(bytecode.Value); ok {
			return v
		}
		return bytecode.Str(describeUserData(x))
	default:
		return bytecode.Str(lv.String())
	}
}

func describeUserData(ud *lua.LUserData) string {
	switch v := ud.Value.(type) {
	case thrownValue:
		return v.exc.Value.String()
	case bytecode.Value:
		return v.String()
	default:
		return fmt.Sprintf("userdata: %p", ud)
	}
}
