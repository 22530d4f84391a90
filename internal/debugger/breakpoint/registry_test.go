package breakpoint

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scriptdbg/internal/debugger/patch"
	"github.com/dshills/scriptdbg/internal/debugger/resolve"
	"github.com/dshills/scriptdbg/internal/script/asm"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

const src = `
.file main.js
.func main
  .stmt 1 1
  const 1
  pop
  .stmt 2 1
  const 2
  pop
  .stmt 3 1
  const 3
  ret
.end
`

type fixture struct {
	prog  *bytecode.Program
	sites *patch.Table
	reg   *Registry
}

func newFixture(t *testing.T, loaded bool) *fixture {
	t.Helper()
	f := &fixture{prog: bytecode.NewProgram()}
	f.sites = patch.NewTable(f.prog, nil)
	f.reg = NewRegistry(f.sites, resolve.New(f.prog, nil), nil)
	if loaded {
		f.load(t)
	}
	return f
}

func (f *fixture) load(t *testing.T) *bytecode.Module {
	t.Helper()
	m, err := asm.Assemble("main.js", []byte(src))
	require.NoError(t, err)
	require.NoError(t, f.prog.Load(m))
	return m
}

// traps counts trap bytes across every compiled function.
func (f *fixture) traps() int {
	n := 0
	for _, m := range f.prog.Modules() {
		for _, fn := range m.Funcs {
			for off := range fn.Code {
				if fn.Code[off] == byte(bytecode.OpTrap) {
					n++
				}
			}
		}
	}
	return n
}

func line(n int) Location {
	return Location{File: "main.js", Line: n}
}

func TestRegistry_CreateResolved(t *testing.T) {
	f := newFixture(t, true)

	id := f.reg.Create(line(2))
	require.True(t, id.Valid())

	info, ok := f.reg.Info(id)
	require.True(t, ok)
	assert.True(t, info.Resolved)
	assert.True(t, info.Enabled)
	assert.Equal(t, bytecode.Address{Func: 0, Offset: 4}, info.Addr)
	assert.Equal(t, bytecode.OpTrap, f.prog.OpcodeAt(info.Addr))
	assert.Equal(t, 1, f.traps())

	at, ok := f.reg.At(info.Addr)
	require.True(t, ok)
	assert.Equal(t, id, at.ID)
}

func TestRegistry_DuplicateAtSameSite(t *testing.T) {
	f := newFixture(t, true)

	first := f.reg.Create(line(3))
	require.True(t, first.Valid())
	assert.Equal(t, InvalidID, f.reg.Create(Location{File: "main.js", Line: 3, Column: 1}))
	assert.Equal(t, 1, f.reg.Len())

	require.NoError(t, f.reg.Delete(first))
	second := f.reg.Create(line(3))
	assert.True(t, second.Valid())
	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, f.traps())
}

func TestRegistry_PendingUntilCodeLoads(t *testing.T) {
	f := newFixture(t, false)
	var resolved []Info
	f.reg.OnResolved(func(info Info) { resolved = append(resolved, info) })

	id := f.reg.Create(line(1))
	require.True(t, id.Valid())
	info, _ := f.reg.Info(id)
	assert.False(t, info.Resolved)
	assert.Zero(t, f.sites.Len())

	f.load(t)
	f.reg.ResolveAll()

	require.Len(t, resolved, 1)
	assert.Equal(t, id, resolved[0].ID)
	assert.True(t, resolved[0].Resolved)
	assert.Equal(t, 1, f.traps())

	// Already resolved breakpoints are not reported again.
	f.reg.ResolveAll()
	assert.Len(t, resolved, 1)
}

func TestRegistry_PendingConflictStaysPending(t *testing.T) {
	f := newFixture(t, false)
	a := f.reg.Create(line(1))
	b := f.reg.Create(Location{File: "main.js", Line: 1, Column: 1})

	f.load(t)
	f.reg.ResolveAll()

	ia, _ := f.reg.Info(a)
	ib, _ := f.reg.Info(b)
	assert.True(t, ia.Resolved)
	assert.False(t, ib.Resolved)
}

func TestRegistry_EnableDisable(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create(line(2))
	info, _ := f.reg.Info(id)

	require.NoError(t, f.reg.Enable(id, false))
	assert.Equal(t, bytecode.OpConst, f.prog.OpcodeAt(info.Addr))
	_, ok := f.reg.At(info.Addr)
	assert.False(t, ok)

	other := f.reg.Create(line(2))
	require.True(t, other.Valid(), "a disabled breakpoint does not occupy its site")
	assert.ErrorIs(t, f.reg.Enable(id, true), ErrSiteOccupied)
	info, _ = f.reg.Info(id)
	assert.False(t, info.Enabled)

	require.NoError(t, f.reg.Delete(other))
	require.NoError(t, f.reg.Enable(id, true))
	assert.Equal(t, bytecode.OpTrap, f.prog.OpcodeAt(info.Addr))

	assert.ErrorIs(t, f.reg.Enable(99, true), ErrNotFound)
	assert.ErrorIs(t, f.reg.Delete(99), ErrNotFound)
	assert.ErrorIs(t, f.reg.SetCondition(99, "x"), ErrNotFound)
}

func TestRegistry_DeleteAllClearsStepSites(t *testing.T) {
	f := newFixture(t, true)
	f.reg.Create(line(1))
	f.sites.AddStep(bytecode.Address{Func: 0, Offset: 8}, 1)
	load := bytecode.Address{Func: 0, Offset: 0}
	f.sites.AddOnLoad(load)

	f.reg.DeleteAll()
	assert.Zero(t, f.reg.Len())
	require.Equal(t, 1, f.sites.Len(), "the script-load site stays armed")
	site, ok := f.sites.Lookup(load)
	require.True(t, ok)
	assert.True(t, site.OnLoad)
	assert.Zero(t, site.User)
	assert.Empty(t, site.Depths)
	assert.Equal(t, 1, f.traps())
}

func TestRegistry_HitsAndList(t *testing.T) {
	f := newFixture(t, true)
	a := f.reg.Create(line(3))
	b := f.reg.Create(line(1))
	require.NoError(t, f.reg.SetCondition(b, "  x > 1 "))

	f.reg.RecordHit(a)
	f.reg.RecordHit(a)

	list := f.reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, 2, list[0].Hits)
	assert.Equal(t, "x > 1", list[1].Condition)
}

// The number of trap bytes equals the number of patch sites after any
// sequence of registry operations.
func TestRegistry_TrapCountInvariant(t *testing.T) {
	f := newFixture(t, true)
	rng := rand.New(rand.NewSource(7))
	var ids []ID

	for i := 0; i < 500; i++ {
		switch rng.Intn(5) {
		case 0, 1:
			if id := f.reg.Create(line(1 + rng.Intn(3))); id.Valid() {
				ids = append(ids, id)
			}
		case 2:
			if len(ids) > 0 {
				_ = f.reg.Delete(ids[rng.Intn(len(ids))])
			}
		case 3:
			if len(ids) > 0 {
				_ = f.reg.Enable(ids[rng.Intn(len(ids))], rng.Intn(2) == 0)
			}
		case 4:
			if rng.Intn(10) == 0 {
				f.reg.DeleteAll()
				ids = nil
			}
		}
		require.Equal(t, f.sites.Len(), f.traps(), "iteration %d", i)
	}
}

func TestRegistry_SaveLoad(t *testing.T) {
	f := newFixture(t, true)
	a := f.reg.Create(line(1))
	b := f.reg.Create(Location{File: "main.js", Line: 3, Column: 1})
	require.NoError(t, f.reg.SetCondition(a, "n == 2"))
	require.NoError(t, f.reg.Enable(b, false))

	path := filepath.Join(t.TempDir(), "state", "bps.yaml")
	require.NoError(t, f.reg.Save(path))

	g := newFixture(t, true)
	g.reg.Create(line(2))
	ids, err := g.reg.Load(path)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	ia, _ := g.reg.Info(ids[0])
	assert.Equal(t, line(1), ia.Location)
	assert.Equal(t, "n == 2", ia.Condition)
	assert.True(t, ia.Enabled)

	ib, _ := g.reg.Info(ids[1])
	assert.Equal(t, 3, ib.Location.Line)
	assert.Equal(t, 1, ib.Location.Column)
	assert.False(t, ib.Enabled)
	assert.Equal(t, 2, g.traps())

	missing, err := g.reg.Load(filepath.Join(t.TempDir(), "none.yaml"))
	assert.NoError(t, err)
	assert.Empty(t, missing)
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in   string
		want Location
		ok   bool
	}{
		{"main.js:3", Location{File: "main.js", Line: 3}, true},
		{"main.js:3:0", Location{File: "main.js", Line: 3}, true},
		{"src/a.js:10:4", Location{File: "src/a.js", Line: 10, Column: 4}, true},
		{"C:/a.js:2", Location{File: "C:/a.js", Line: 2}, true},
		{"main.js", Location{}, false},
		{"main.js:x", Location{}, false},
		{":3", Location{}, false},
	}
	for _, tt := range tests {
		got, err := ParseLocation(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
