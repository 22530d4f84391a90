package vm

import (
	"fmt"

	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// Closure is a script function value bound to its defining environment.
type Closure struct {
	Fn  *bytecode.Function
	Env *bytecode.Env
}

func (c *Closure) String() string { return fmt.Sprintf("<function %s>", c.Fn.Name) }
func (c *Closure) Truthy() bool   { return true }

// NativeFunc implements a native function. Returning an error throws it
// into the script.
type NativeFunc func(m *Machine, this bytecode.Value, args []bytecode.Value) (bytecode.Value, error)

// Native is a function implemented in Go.
type Native struct {
	Name string
	Fn   NativeFunc
}

func (n *Native) String() string { return fmt.Sprintf("<native %s>", n.Name) }
func (n *Native) Truthy() bool   { return true }

// ErrorValue is the value thrown for runtime errors and by the Error native.
// It remembers where it was created.
type ErrorValue struct {
	Message string
	Trace   []bytecode.SourceLocation
}

func (e *ErrorValue) String() string { return "Error: " + e.Message }
func (e *ErrorValue) Truthy() bool   { return true }

// StackTrace implements bytecode.StackTracer.
func (e *ErrorValue) StackTrace() []bytecode.SourceLocation { return e.Trace }
