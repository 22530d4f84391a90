// Package resolve maps source positions to code addresses.
package resolve

import (
	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// Resolver resolves source positions against the loaded modules of a
// program, compiling lazy functions that cover the position on demand.
type Resolver struct {
	prog *bytecode.Program
	log  *logging.Logger
}

// New creates a resolver for prog.
func New(prog *bytecode.Program, log *logging.Logger) *Resolver {
	return &Resolver{prog: prog, log: logging.OrNull(log).WithComponent("resolve")}
}

// Resolve returns the address of the instruction at file:line:column. A
// zero column selects the first statement on the line. Modules are
// searched most recently loaded first.
func (r *Resolver) Resolve(file string, line, column int) (bytecode.Address, bool) {
	for _, m := range r.prog.Modules() {
		fileID, ok := m.FileID(file)
		if !ok {
			continue
		}
		r.compileCovering(m, fileID, line, column)
		if addr, ok := r.lookup(m, fileID, line, column); ok {
			return addr, true
		}
	}
	return bytecode.Address{Func: bytecode.NoFunc}, false
}

// compileCovering compiles the lazy functions whose range contains the
// position until none is left. Compiling a function can reveal lazy
// children that cover the position too.
func (r *Resolver) compileCovering(m *bytecode.Module, fileID, line, column int) {
	for {
		compiled := false
		for _, fn := range m.Funcs {
			if !fn.Lazy || !fn.Visible || fn.File != fileID || !fn.Range.Contains(line, column) {
				continue
			}
			if err := r.prog.Compile(fn.ID); err != nil {
				r.log.Warn("compile %s: %v", fn.Name, err)
				continue
			}
			r.log.Debug("compiled %s to resolve %d:%d", fn.Name, line, column)
			compiled = true
		}
		if !compiled {
			return
		}
	}
}

type candidate struct {
	fn     *bytecode.Function
	offset int
	column int
}

// better orders candidates by column, then by the narrower function, then
// by offset.
func (c candidate) better(o candidate) bool {
	if c.column != o.column {
		return c.column < o.column
	}
	cw := c.fn.Range.EndLine - c.fn.Range.StartLine
	ow := o.fn.Range.EndLine - o.fn.Range.StartLine
	if cw != ow {
		return cw < ow
	}
	if c.fn.ID != o.fn.ID {
		return c.fn.ID > o.fn.ID
	}
	return c.offset < o.offset
}

func (r *Resolver) lookup(m *bytecode.Module, fileID, line, column int) (bytecode.Address, bool) {
	var exact, stmt *candidate
	for _, fn := range m.Funcs {
		if fn.Lazy || !fn.Visible {
			continue
		}
		for i, e := range fn.Lines {
			if e.File != fileID || e.Line != line || e.Offset >= len(fn.Code) {
				continue
			}
			c := candidate{fn: fn, offset: e.Offset, column: e.Column}
			if column != 0 && e.Column == column && (exact == nil || c.better(*exact)) {
				exact = &c
			}
			if fn.IsStatementStart(i) && (stmt == nil || c.better(*stmt)) {
				stmt = &c
			}
		}
	}
	best := exact
	if best == nil {
		best = stmt
	}
	if best == nil {
		return bytecode.Address{Func: bytecode.NoFunc}, false
	}
	return bytecode.Address{Func: best.fn.ID, Offset: best.offset}, true
}
