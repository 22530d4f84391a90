package bytecode

import "fmt"

// FuncID indexes the program's function arena.
type FuncID int

// NoFunc marks the absence of a function (no lexical parent, no caller).
const NoFunc FuncID = -1

// Address is a code location.
type Address struct {
	Func   FuncID
	Offset int
}

// Valid reports whether a refers to a function.
func (a Address) Valid() bool {
	return a.Func != NoFunc
}

func (a Address) String() string {
	if !a.Valid() {
		return "<none>"
	}
	return fmt.Sprintf("f%d+%d", a.Func, a.Offset)
}

// SourceLocation is the source position of an instruction.
type SourceLocation struct {
	File   string
	FileID int
	Line   int
	Column int
	// Statement numbers the statements of a function; instructions sharing
	// a statement number belong to the same source statement.
	Statement int
}

func (l SourceLocation) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Frame describes one script activation, innermost frames first.
type Frame struct {
	// Addr is the function and the offset of the instruction being
	// executed. For caller frames this is the call instruction.
	Addr Address
	// Return is where the caller resumes once this frame returns. Its Func
	// is NoFunc for the outermost frame.
	Return Address
	// Depth is the call-stack depth, 1 for the outermost frame.
	Depth int
}

// Env is a materialized lexical environment.
type Env struct {
	Func   FuncID
	Slots  []Value
	Parent *Env
}

// NewEnv creates an environment of n undefined slots.
func NewEnv(fn FuncID, n int, parent *Env) *Env {
	slots := make([]Value, n)
	for i := range slots {
		slots[i] = Undef
	}
	return &Env{Func: fn, Slots: slots, Parent: parent}
}

// AsyncKind classifies an asynchronous pause request. Kinds are bit flags so
// several pending requests can be folded into one word.
type AsyncKind uint32

const (
	// AsyncImplicit is a request the user did not ask for directly, such as
	// an inspector tick.
	AsyncImplicit AsyncKind = 1 << iota
	// AsyncExplicit is a user-initiated pause.
	AsyncExplicit
)

func (k AsyncKind) String() string {
	switch {
	case k&AsyncExplicit != 0:
		return "explicit"
	case k&AsyncImplicit != 0:
		return "implicit"
	default:
		return "none"
	}
}
