package bytecode

import (
	"errors"
	"fmt"
)

// Errors returned by Program.
var (
	// ErrUnknownFunction is returned for a FuncID outside the arena.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrEmptyModule is returned when loading a module without functions.
	ErrEmptyModule = errors.New("module has no functions")
)

// LoadObserver is notified after a module has been loaded.
type LoadObserver func(m *Module)

// Program holds every loaded module. It is not safe for concurrent use: all
// calls must come from the goroutine running the interpreter.
type Program struct {
	funcs     []*Function
	modules   []*Module
	observers []LoadObserver
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{}
}

// OnLoad registers an observer for subsequently loaded modules.
func (p *Program) OnLoad(fn LoadObserver) {
	p.observers = append(p.observers, fn)
}

// Load assigns ids to the module and its functions and notifies observers.
// Functions must be ordered so that parents precede their children.
func (p *Program) Load(m *Module) error {
	if len(m.Funcs) == 0 {
		return fmt.Errorf("load %s: %w", m.Name, ErrEmptyModule)
	}
	m.ID = len(p.modules)
	base := FuncID(len(p.funcs))
	for i, fn := range m.Funcs {
		fn.ID = base + FuncID(i)
		fn.Index = i
		fn.Module = m
		fn.Parent = NoFunc
		if fn.ParentIndex >= 0 {
			if fn.ParentIndex >= i {
				return fmt.Errorf("load %s: function %s listed before its parent", m.Name, fn.Name)
			}
			fn.Parent = base + FuncID(fn.ParentIndex)
		}
	}
	for _, fn := range m.Funcs {
		fn.Visible = true
		if fn.ParentIndex >= 0 {
			parent := m.Funcs[fn.ParentIndex]
			fn.Visible = parent.Visible && !parent.Lazy
		}
	}
	p.funcs = append(p.funcs, m.Funcs...)
	p.modules = append(p.modules, m)

	for _, obs := range p.observers {
		obs(m)
	}
	return nil
}

// Modules returns the loaded modules, most recently loaded first.
func (p *Program) Modules() []*Module {
	out := make([]*Module, len(p.modules))
	for i, m := range p.modules {
		out[len(p.modules)-1-i] = m
	}
	return out
}

// Function returns the function with the given id, or nil.
func (p *Program) Function(id FuncID) *Function {
	if id < 0 || int(id) >= len(p.funcs) {
		return nil
	}
	return p.funcs[id]
}

// Compile materializes a lazy function's body and makes its nested
// functions visible. Compiling an already compiled function is a no-op.
func (p *Program) Compile(id FuncID) error {
	fn := p.Function(id)
	if fn == nil {
		return fmt.Errorf("compile f%d: %w", id, ErrUnknownFunction)
	}
	if !fn.Lazy {
		return nil
	}
	if fn.pending == nil {
		return fmt.Errorf("compile %s: lazy function has no body", fn.Name)
	}
	fn.Body = *fn.pending
	fn.pending = nil
	fn.Lazy = false
	fn.compiles++
	for _, ci := range fn.Children {
		if child := fn.Module.Function(ci); child != nil {
			child.Visible = fn.Visible
		}
	}
	return nil
}

// code returns the instruction stream of a compiled function. Addressing a
// lazy function violates the caller's contract.
func (p *Program) code(addr Address) []byte {
	fn := p.Function(addr.Func)
	if fn == nil {
		panic(fmt.Sprintf("bytecode: %s: unknown function", addr))
	}
	if fn.Lazy {
		panic(fmt.Sprintf("bytecode: %s: function %s is not compiled", addr, fn.Name))
	}
	if addr.Offset < 0 || addr.Offset >= len(fn.Code) {
		panic(fmt.Sprintf("bytecode: %s: offset out of range", addr))
	}
	return fn.Code
}

// OpcodeAt returns the byte currently stored at addr, which may be OpTrap.
func (p *Program) OpcodeAt(addr Address) Opcode {
	return Opcode(p.code(addr)[addr.Offset])
}

// InstallTrap overwrites the opcode at addr with OpTrap.
func (p *Program) InstallTrap(addr Address) {
	p.code(addr)[addr.Offset] = byte(OpTrap)
}

// RemoveTrap restores the original opcode at addr.
func (p *Program) RemoveTrap(addr Address, original Opcode) {
	p.code(addr)[addr.Offset] = byte(original)
}

// InstructionAt decodes the instruction at addr as op.
func (p *Program) InstructionAt(addr Address, op Opcode) (Instruction, error) {
	return Decode(p.code(addr), addr.Offset, op)
}

// NextInstructionOffset returns the offset following the instruction at
// addr, decoded as op.
func (p *Program) NextInstructionOffset(addr Address, op Opcode) (int, error) {
	in, err := p.InstructionAt(addr, op)
	if err != nil {
		return 0, err
	}
	return in.Next(), nil
}

// StaticJumpTarget returns the branch target of the instruction at addr.
func (p *Program) StaticJumpTarget(addr Address, op Opcode) (int, bool) {
	in, err := p.InstructionAt(addr, op)
	if err != nil {
		return 0, false
	}
	return in.JumpTarget()
}

// SourceLocationOf returns the source position of the instruction at addr.
func (p *Program) SourceLocationOf(addr Address) (SourceLocation, bool) {
	fn := p.Function(addr.Func)
	if fn == nil || fn.Lazy {
		return SourceLocation{}, false
	}
	i := fn.lineEntryAt(addr.Offset)
	if i < 0 {
		return SourceLocation{}, false
	}
	e := fn.Lines[i]
	loc := SourceLocation{
		FileID:    e.File,
		Line:      e.Line,
		Column:    e.Column,
		Statement: e.Statement,
	}
	if fn.Module != nil && e.File >= 0 && e.File < len(fn.Module.Files) {
		loc.File = fn.Module.Files[e.File]
	}
	return loc, true
}

// ExceptionHandlerFor returns the handler of the innermost try region of fn
// containing offset.
func (p *Program) ExceptionHandlerFor(id FuncID, offset int) (int, bool) {
	fn := p.Function(id)
	if fn == nil || fn.Lazy {
		return 0, false
	}
	best := -1
	for i, h := range fn.Handlers {
		if offset < h.Start || offset >= h.End {
			continue
		}
		if best < 0 || h.End-h.Start < fn.Handlers[best].End-fn.Handlers[best].Start {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return fn.Handlers[best].Target, true
}
