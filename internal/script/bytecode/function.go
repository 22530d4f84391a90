package bytecode

import (
	"path/filepath"
	"sort"
	"strings"
)

// SourceRange is the span of source text a function was compiled from.
type SourceRange struct {
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// Contains reports whether the position lies inside r. A zero column means
// "anywhere on the line".
func (r SourceRange) Contains(line, col int) bool {
	if line < r.StartLine || line > r.EndLine {
		return false
	}
	if col == 0 {
		return true
	}
	if line == r.StartLine && r.StartColumn > 0 && col < r.StartColumn {
		return false
	}
	if line == r.EndLine && r.EndColumn > 0 && col > r.EndColumn {
		return false
	}
	return true
}

// LineEntry starts a run of instructions sharing a source position. The
// entry covers offsets up to the next entry.
type LineEntry struct {
	Offset    int
	File      int
	Line      int
	Column    int
	Statement int
}

// Handler is an exception table entry: throws from [Start, End) land at
// Target.
type Handler struct {
	Start  int
	End    int
	Target int
}

// Body is the compiled part of a function.
type Body struct {
	Code     []byte
	Consts   []Value
	Lines    []LineEntry
	Handlers []Handler
}

// Function is a unit of compiled code.
type Function struct {
	ID     FuncID
	Module *Module
	// Index is the function's position in its module.
	Index int
	Name  string
	// File is the function's file id in the module's file table.
	File   int
	Params int
	Slots  int
	// Vars names the environment slots. It is nil when the function was
	// compiled without variable debug info.
	Vars []string
	// Parent is the lexical parent, NoFunc for top-level functions.
	Parent      FuncID
	ParentIndex int
	Children    []int
	Range       SourceRange

	Body

	// Lazy functions have no Body until compiled.
	Lazy    bool
	Visible bool

	pending  *Body
	compiles int
}

// SetPending stores the body a lazy function receives on compilation.
func (f *Function) SetPending(b Body) {
	f.pending = &b
	f.Lazy = true
	f.Body = Body{}
}

// HasVarInfo reports whether variable names are available.
func (f *Function) HasVarInfo() bool {
	return f.Vars != nil
}

// Compilations returns how many times the function was compiled lazily.
func (f *Function) Compilations() int {
	return f.compiles
}

// lineEntryAt returns the index of the line entry covering off.
func (f *Function) lineEntryAt(off int) int {
	i := sort.Search(len(f.Lines), func(i int) bool { return f.Lines[i].Offset > off })
	return i - 1
}

// IsStatementStart reports whether line entry i begins a statement.
func (f *Function) IsStatementStart(i int) bool {
	if i == 0 {
		return true
	}
	return f.Lines[i-1].Statement != f.Lines[i].Statement
}

// Module is one loaded script.
type Module struct {
	ID    int
	Name  string
	Files []string
	Funcs []*Function
	Entry int
}

// FileID maps a requested file name to the module's file id. Exact matches
// win; otherwise a path-suffix match on whole path elements is accepted.
func (m *Module) FileID(name string) (int, bool) {
	for i, f := range m.Files {
		if f == name {
			return i, true
		}
	}
	clean := filepath.ToSlash(filepath.Clean(name))
	for i, f := range m.Files {
		f = filepath.ToSlash(filepath.Clean(f))
		if strings.HasSuffix(f, "/"+clean) || strings.HasSuffix(clean, "/"+f) {
			return i, true
		}
	}
	return 0, false
}

// Function returns the function at module-local index i.
func (m *Module) Function(i int) *Function {
	if i < 0 || i >= len(m.Funcs) {
		return nil
	}
	return m.Funcs[i]
}

// EntryFunction returns the function run when the module is executed.
func (m *Module) EntryFunction() *Function {
	return m.Function(m.Entry)
}
