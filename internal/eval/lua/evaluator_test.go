package lua

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scriptdbg/internal/debugger/frame"
	"github.com/dshills/scriptdbg/internal/script/asm"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
	"github.com/dshills/scriptdbg/internal/script/vm"
)

const src = `
.file lib.js
.func main
  .stmt 1 1
  undef
  ret
.end
.func square params=1 vars=n
  .stmt 2 1
  load n
  load n
  mul
  ret
.end
.func fail
  .stmt 3 1
  gload Error
  const "nope"
  call 1
  throw
.end
`

func newEvaluator(t *testing.T, opts ...Option) (*Evaluator, *vm.Machine) {
	t.Helper()
	mod, err := asm.Assemble("lib.js", []byte(src))
	require.NoError(t, err)
	prog := bytecode.NewProgram()
	require.NoError(t, prog.Load(mod))

	m := vm.New(prog)
	m.SetGlobal("square", &vm.Closure{Fn: mod.Funcs[1]})
	m.SetGlobal("fail", &vm.Closure{Fn: mod.Funcs[2]})

	e := New(m, opts...)
	t.Cleanup(e.Close)
	return e, m
}

// testScope is x=3, s="hi" nested in total=10.
func testScope() *frame.Scope {
	return &frame.Scope{
		Func: &bytecode.Function{Name: "inner", Vars: []string{"x", "s"}},
		Env:  &bytecode.Env{Slots: []bytecode.Value{bytecode.Number(3), bytecode.Str("hi")}},
		Parent: &frame.Scope{
			Func: &bytecode.Function{Name: "outer", Vars: []string{"total"}},
			Env:  &bytecode.Env{Slots: []bytecode.Value{bytecode.Number(10)}},
		},
	}
}

func TestEvaluator_Expressions(t *testing.T) {
	e, m := newEvaluator(t)
	m.SetGlobal("g", bytecode.Number(5))
	scope := testScope()

	tests := []struct {
		src  string
		want bytecode.Value
	}{
		{"x * 2", bytecode.Number(6)},
		{"x + total", bytecode.Number(13)},
		{"g + x", bytecode.Number(8)},
		{"s .. '!'", bytecode.Str("hi!")},
		{"x > 2", bytecode.Bool(true)},
		{"missing", bytecode.Undef},
		{"math.max(x, 7)", bytecode.Number(7)},
		{"square(x) + 1", bytecode.Number(10)},
		{"this", bytecode.Str("receiver")},
		{"dofile == nil", bytecode.Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := e.Evaluate(scope, bytecode.Str("receiver"), tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_ChunkAssignsThroughScope(t *testing.T) {
	e, m := newEvaluator(t)
	m.SetGlobal("g", bytecode.Number(1))
	scope := testScope()

	v, err := e.Evaluate(scope, nil, "total = x * 100; g = 2; scratch = 1")
	require.NoError(t, err)
	assert.Equal(t, bytecode.Undef, v)

	total, _ := scope.Lookup("total")
	assert.Equal(t, bytecode.Number(300), total)
	g, _ := m.Global("g")
	assert.Equal(t, bytecode.Number(2), g)
	_, ok := m.Global("scratch")
	assert.False(t, ok, "new names stay local to the evaluation")
}

func TestEvaluator_NilScope(t *testing.T) {
	e, m := newEvaluator(t)
	m.SetGlobal("g", bytecode.Str("global"))

	v, err := e.Evaluate(nil, nil, "g")
	require.NoError(t, err)
	assert.Equal(t, bytecode.Str("global"), v)
}

func TestEvaluator_Errors(t *testing.T) {
	e, _ := newEvaluator(t)

	_, err := e.Evaluate(nil, nil, "error('bad thing')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad thing")

	_, err = e.Evaluate(nil, nil, "x +")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")

	_, err = e.Evaluate(nil, nil, "fail()")
	var exc *vm.Exception
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "Error: nope", exc.Value.String())

	// The Lua state stays usable.
	v, err := e.Evaluate(nil, nil, "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, bytecode.Number(2), v)
}

func TestEvaluator_Timeout(t *testing.T) {
	e, _ := newEvaluator(t, WithTimeout(50*time.Millisecond))

	_, err := e.Evaluate(nil, nil, "while true do end")
	assert.ErrorIs(t, err, ErrTimeout)

	v, err := e.Evaluate(nil, nil, "'after'")
	require.NoError(t, err)
	assert.Equal(t, bytecode.Str("after"), v)
}

func TestEvaluator_Closed(t *testing.T) {
	e, _ := newEvaluator(t)
	e.Close()
	_, err := e.Evaluate(nil, nil, "1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEvaluator_ScriptValuesRoundTrip(t *testing.T) {
	e, _ := newEvaluator(t)
	errValue := &vm.ErrorValue{Message: "kept"}
	scope := &frame.Scope{
		Func: &bytecode.Function{Vars: []string{"err"}},
		Env:  &bytecode.Env{Slots: []bytecode.Value{errValue}},
	}

	v, err := e.Evaluate(scope, nil, "err")
	require.NoError(t, err)
	assert.Same(t, errValue, v)

	v, err = e.Evaluate(scope, nil, "tostring(err)")
	require.NoError(t, err)
	assert.Equal(t, bytecode.Str("Error: kept"), v)
}
