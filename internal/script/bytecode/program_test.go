package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func body(t *testing.T, lines []LineEntry, ops ...[]int) Body {
	t.Helper()
	var code []byte
	for _, o := range ops {
		var err error
		code, err = Encode(code, Opcode(o[0]), o[1:]...)
		require.NoError(t, err)
	}
	return Body{Code: code, Lines: lines}
}

func testModule(t *testing.T) *Module {
	t.Helper()
	outer := &Function{
		Name:        "outer",
		ParentIndex: -1,
		Children:    []int{1},
		Vars:        []string{},
		Range:       SourceRange{StartLine: 1, EndLine: 10},
		Body: body(t, []LineEntry{
			{Offset: 0, Line: 1, Column: 1, Statement: 1},
			{Offset: 3, Line: 2, Column: 1, Statement: 2},
		}, []int{int(OpConst), 0}, []int{int(OpReturn)}),
	}
	outer.Consts = []Value{Number(1)}
	outer.Handlers = []Handler{{Start: 0, End: 4, Target: 3}, {Start: 0, End: 2, Target: 0}}

	inner := &Function{Name: "inner", ParentIndex: 0, Range: SourceRange{StartLine: 4, EndLine: 6}}
	inner.SetPending(body(t, []LineEntry{{Offset: 0, Line: 5, Column: 3, Statement: 1}},
		[]int{int(OpUndef)}, []int{int(OpReturn)}))

	nested := &Function{Name: "nested", ParentIndex: 1, Range: SourceRange{StartLine: 5, EndLine: 5}}
	inner.Children = []int{2}

	return &Module{Name: "m", Files: []string{"src/app/main.js"}, Funcs: []*Function{outer, inner, nested}}
}

func TestProgram_LoadAssignsIDsAndVisibility(t *testing.T) {
	p := NewProgram()
	var seen []*Module
	p.OnLoad(func(m *Module) { seen = append(seen, m) })

	first := testModule(t)
	require.NoError(t, p.Load(first))
	second := testModule(t)
	require.NoError(t, p.Load(second))

	assert.Equal(t, []*Module{first, second}, seen)
	assert.Equal(t, []*Module{second, first}, p.Modules())

	assert.Equal(t, FuncID(3), second.Funcs[0].ID)
	assert.Equal(t, FuncID(3), second.Funcs[1].Parent)
	assert.Equal(t, NoFunc, second.Funcs[0].Parent)
	assert.Same(t, second.Funcs[2], p.Function(5))

	assert.True(t, first.Funcs[0].Visible)
	assert.True(t, first.Funcs[1].Visible)
	assert.False(t, first.Funcs[2].Visible, "child of a lazy function")
}

func TestProgram_CompileRevealsChildren(t *testing.T) {
	p := NewProgram()
	m := testModule(t)
	require.NoError(t, p.Load(m))
	inner := m.Funcs[1]

	require.NoError(t, p.Compile(inner.ID))
	assert.False(t, inner.Lazy)
	assert.Equal(t, 1, inner.Compilations())
	assert.True(t, m.Funcs[2].Visible)
	assert.Equal(t, OpUndef, p.OpcodeAt(Address{Func: inner.ID}))

	require.NoError(t, p.Compile(inner.ID))
	assert.Equal(t, 1, inner.Compilations())

	assert.ErrorIs(t, p.Compile(99), ErrUnknownFunction)
}

func TestProgram_Traps(t *testing.T) {
	p := NewProgram()
	m := testModule(t)
	require.NoError(t, p.Load(m))
	addr := Address{Func: m.Funcs[0].ID, Offset: 0}

	orig := p.OpcodeAt(addr)
	p.InstallTrap(addr)
	assert.Equal(t, OpTrap, p.OpcodeAt(addr))

	next, err := p.NextInstructionOffset(addr, orig)
	require.NoError(t, err)
	assert.Equal(t, 3, next)

	p.RemoveTrap(addr, orig)
	assert.Equal(t, OpConst, p.OpcodeAt(addr))

	assert.Panics(t, func() { p.InstallTrap(Address{Func: m.Funcs[1].ID}) }, "lazy function")
}

func TestProgram_SourceLocationOf(t *testing.T) {
	p := NewProgram()
	m := testModule(t)
	require.NoError(t, p.Load(m))
	id := m.Funcs[0].ID

	loc, ok := p.SourceLocationOf(Address{Func: id, Offset: 3})
	require.True(t, ok)
	assert.Equal(t, "src/app/main.js", loc.File)
	assert.Equal(t, 2, loc.Line)
	assert.Equal(t, 2, loc.Statement)

	loc, ok = p.SourceLocationOf(Address{Func: id, Offset: 1})
	require.True(t, ok)
	assert.Equal(t, 1, loc.Line)

	_, ok = p.SourceLocationOf(Address{Func: m.Funcs[1].ID})
	assert.False(t, ok)
}

func TestProgram_ExceptionHandlerForPicksInnermost(t *testing.T) {
	p := NewProgram()
	m := testModule(t)
	require.NoError(t, p.Load(m))
	id := m.Funcs[0].ID

	target, ok := p.ExceptionHandlerFor(id, 1)
	require.True(t, ok)
	assert.Equal(t, 0, target)

	target, ok = p.ExceptionHandlerFor(id, 3)
	require.True(t, ok)
	assert.Equal(t, 3, target)

	_, ok = p.ExceptionHandlerFor(id, 4)
	assert.False(t, ok)
}

func TestModule_FileID(t *testing.T) {
	m := &Module{Files: []string{"src/app/main.js", "lib.js"}}

	id, ok := m.FileID("lib.js")
	assert.True(t, ok)
	assert.Equal(t, 1, id)

	id, ok = m.FileID("app/main.js")
	assert.True(t, ok)
	assert.Equal(t, 0, id)

	_, ok = m.FileID("pp/main.js")
	assert.False(t, ok)
}

func TestSourceRange_Contains(t *testing.T) {
	r := SourceRange{StartLine: 3, StartColumn: 5, EndLine: 7, EndColumn: 2}
	assert.True(t, r.Contains(3, 0))
	assert.False(t, r.Contains(3, 4))
	assert.True(t, r.Contains(5, 99))
	assert.False(t, r.Contains(7, 3))
	assert.False(t, r.Contains(8, 0))
}
