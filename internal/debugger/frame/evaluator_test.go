package frame

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scriptdbg/internal/script/asm"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
	"github.com/dshills/scriptdbg/internal/script/vm"
)

const src = `
.file main.js
.func main vars=count,bump
  .stmt 1 1
  const 5
  store count
  closure bump
  store bump
  .stmt 2 1
  load bump
  const 2
  call 1
  pop
  .stmt 3 1
  gload opaque
  call 0
  ret
  .func bump params=1 vars=by
    .stmt 4 3
    debugger
    load count
    load by
    add
    store count
    undef
    ret
  .end
.end
.func opaque novars
  .stmt 9 1
  debugger
  undef
  ret
.end
`

// lookupEvaluator resolves a bare name in the scope. "boom" throws.
type lookupEvaluator struct {
	sawPending bool
	m          *vm.Machine
}

func (e *lookupEvaluator) Evaluate(scope *Scope, this bytecode.Value, source string) (bytecode.Value, error) {
	if _, pending := e.m.Thrown(); pending {
		e.sawPending = true
	}
	switch source {
	case "boom":
		return nil, &vm.Exception{
			Value: &vm.ErrorValue{Message: "boom", Trace: []bytecode.SourceLocation{{Line: 4}}},
		}
	case "syntax":
		return nil, errors.New("unexpected symbol")
	case "clobber":
		// An evaluation that throws inside the machine leaves the cell
		// cleared when the throw escapes.
		e.m.RestoreThrown(vm.ThrowState{})
		return nil, &vm.Exception{Value: bytecode.Str("inner")}
	case "this":
		return this, nil
	}
	v, ok := scope.Lookup(source)
	if !ok {
		return nil, nil
	}
	return v, nil
}

type debuggerHook struct {
	onStatement func()
}

func (h *debuggerHook) OnTrap() bool                                         { return false }
func (h *debuggerHook) OnDebuggerStatement()                                 { h.onStatement() }
func (h *debuggerHook) OnEnter()                                             {}
func (h *debuggerHook) OnException()                                         {}
func (h *debuggerHook) OnExceptionUnwound()                                  {}
func (h *debuggerHook) OnAsyncPause(bytecode.AsyncKind)                      {}
func (h *debuggerHook) OriginalOpcode(addr bytecode.Address) bytecode.Opcode { return 0 }

// runPaused runs src and calls fn at every debugger statement.
func runPaused(t *testing.T, fn func(m *vm.Machine, fe *FrameEvaluator, ev *lookupEvaluator)) int {
	t.Helper()
	mod, err := asm.Assemble("main.js", []byte(src))
	require.NoError(t, err)
	prog := bytecode.NewProgram()
	require.NoError(t, prog.Load(mod))

	m := vm.New(prog)
	m.DefineNative("opaque", func(m *vm.Machine, _ bytecode.Value, _ []bytecode.Value) (bytecode.Value, error) {
		return m.Call(&vm.Closure{Fn: mod.Funcs[2]}, bytecode.Undef, nil)
	})
	ev := &lookupEvaluator{m: m}
	fe := NewFrameEvaluator(prog, m, ev, nil)
	stops := 0
	m.SetHook(&debuggerHook{onStatement: func() {
		stops++
		fn(m, fe, ev)
	}})
	_, err = m.Run(mod)
	require.NoError(t, err)
	return stops
}

func TestFrameEvaluator_ScopeChain(t *testing.T) {
	runPaused(t, func(m *vm.Machine, fe *FrameEvaluator, _ *lookupEvaluator) {
		fn, _ := m.FrameFunction(0)
		if fn.Name != "bump" {
			return
		}
		scope, err := fe.Scope(0)
		require.NoError(t, err)
		assert.Equal(t, []Variable{
			{Scope: 0, Name: "by", Value: bytecode.Number(2)},
			{Scope: 1, Name: "count", Value: bytecode.Number(5)},
			{Scope: 1, Name: "bump", Value: scope.Parent.Env.Slots[1]},
		}, scope.Variables())
		assert.Equal(t, LexicalInfo{Counts: []int{1, 2}, Functions: []string{"bump", "main"}}, scope.Info())

		outer, err := fe.Scope(1)
		require.NoError(t, err)
		assert.Nil(t, outer.Parent)
		assert.Equal(t, "main", outer.Func.Name)
	})
}

func TestFrameEvaluator_Eval(t *testing.T) {
	stops := runPaused(t, func(m *vm.Machine, fe *FrameEvaluator, ev *lookupEvaluator) {
		fn, _ := m.FrameFunction(0)
		if fn.Name != "bump" {
			return
		}

		v, md := fe.Eval(0, "count")
		assert.Equal(t, bytecode.Number(5), v)
		assert.False(t, md.IsException)

		v, md = fe.Eval(1, "by")
		assert.Equal(t, bytecode.Undef, v, "callee slots are not visible to the caller")
		assert.False(t, md.IsException)

		v, md = fe.Eval(0, "boom")
		assert.Equal(t, bytecode.Undef, v)
		assert.True(t, md.IsException)
		assert.Equal(t, "Error: boom", md.Text)
		assert.Equal(t, []bytecode.SourceLocation{{Line: 4}}, md.Trace)

		_, md = fe.Eval(0, "syntax")
		assert.True(t, md.IsException)
		assert.Equal(t, "unexpected symbol", md.Text)
		assert.Empty(t, md.Trace)

		_, md = fe.Eval(5, "count")
		assert.Equal(t, Metadata{}, md)
	})
	assert.Equal(t, 2, stops)
}

func TestFrameEvaluator_PreservesPendingThrow(t *testing.T) {
	runPaused(t, func(m *vm.Machine, fe *FrameEvaluator, ev *lookupEvaluator) {
		fn, _ := m.FrameFunction(0)
		if fn.Name != "bump" {
			return
		}
		trace := []bytecode.SourceLocation{{File: "main.js", Line: 4, Column: 3}, {File: "main.js", Line: 2, Column: 1}}
		m.RestoreThrown(vm.ThrowState{Value: bytecode.Str("pending"), Pending: true, Trace: trace})
		fe.Eval(0, "boom")
		v, ok := m.Thrown()
		assert.True(t, ok)
		assert.Equal(t, bytecode.Str("pending"), v)
		assert.False(t, ev.sawPending, "evaluation runs with a clear cell")

		_, md := fe.Eval(0, "clobber")
		assert.True(t, md.IsException)
		saved := m.SaveThrown()
		assert.True(t, saved.Pending)
		assert.Equal(t, bytecode.Str("pending"), saved.Value)
		assert.Equal(t, trace, saved.Trace, "trace survives the evaluation")
		m.SetThrown(nil, false)
	})
}

func TestFrameEvaluator_NoVarInfo(t *testing.T) {
	runPaused(t, func(m *vm.Machine, fe *FrameEvaluator, _ *lookupEvaluator) {
		fn, _ := m.FrameFunction(0)
		if fn.Name != "opaque" {
			return
		}
		_, err := fe.Scope(0)
		assert.ErrorIs(t, err, ErrNoScope)

		v, md := fe.Eval(0, "count")
		assert.Equal(t, bytecode.Undef, v)
		assert.Equal(t, Metadata{}, md)

		// Frames below the native boundary still evaluate.
		v, _ = fe.Eval(1, "count")
		assert.Equal(t, bytecode.Number(7), v)
	})
}

func TestScope_Assign(t *testing.T) {
	inner := &Scope{
		Func: &bytecode.Function{Vars: []string{"x"}},
		Env:  &bytecode.Env{Slots: []bytecode.Value{bytecode.Number(1)}},
	}
	inner.Parent = &Scope{
		Func: &bytecode.Function{Vars: []string{"x", "y"}},
		Env:  &bytecode.Env{Slots: []bytecode.Value{bytecode.Number(2), bytecode.Number(3)}},
	}

	assert.True(t, inner.Assign("y", bytecode.Str("new")))
	assert.True(t, inner.Assign("x", bytecode.Str("shadow")))
	assert.False(t, inner.Assign("z", bytecode.Undef))

	x, _ := inner.Lookup("x")
	assert.Equal(t, bytecode.Str("shadow"), x)
	assert.Equal(t, bytecode.Number(2), inner.Parent.Env.Slots[0])
	y, _ := inner.Lookup("y")
	assert.Equal(t, bytecode.Str("new"), y)

	var none *Scope
	_, ok := none.Lookup("x")
	assert.False(t, ok)
}
