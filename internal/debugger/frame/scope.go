// Package frame reconstructs the lexical scopes of a paused frame and
// evaluates expressions against them.
package frame

import (
	"errors"
	"fmt"

	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// ErrNoScope is returned when a frame's environment chain cannot be
// reconstructed: an environment was never materialized or the function was
// compiled without variable information.
var ErrNoScope = errors.New("scope information unavailable")

// Scope is one level of a lexical scope chain, innermost first.
type Scope struct {
	Func   *bytecode.Function
	Env    *bytecode.Env
	Parent *Scope
}

// Lookup finds name in the chain.
func (s *Scope) Lookup(name string) (bytecode.Value, bool) {
	for cur := s; cur != nil; cur = cur.Parent {
		for i, v := range cur.Func.Vars {
			if v == name && i < len(cur.Env.Slots) {
				return cur.Env.Slots[i], true
			}
		}
	}
	return nil, false
}

// Assign stores v into the innermost binding of name.
func (s *Scope) Assign(name string, v bytecode.Value) bool {
	for cur := s; cur != nil; cur = cur.Parent {
		for i, n := range cur.Func.Vars {
			if n == name && i < len(cur.Env.Slots) {
				cur.Env.Slots[i] = v
				return true
			}
		}
	}
	return false
}

// Variable is a named slot of one scope.
type Variable struct {
	// Scope is the nesting level, 0 for the frame's own function.
	Scope int
	Name  string
	Value bytecode.Value
}

// Variables lists every binding of the chain, innermost scope first.
func (s *Scope) Variables() []Variable {
	var out []Variable
	level := 0
	for cur := s; cur != nil; cur = cur.Parent {
		for i, name := range cur.Func.Vars {
			if i < len(cur.Env.Slots) {
				out = append(out, Variable{Scope: level, Name: name, Value: cur.Env.Slots[i]})
			}
		}
		level++
	}
	return out
}

// LexicalInfo describes the shape of a frame's scope chain.
type LexicalInfo struct {
	// Counts holds the number of variables of each scope, innermost first.
	Counts []int
	// Functions names the function owning each scope.
	Functions []string
}

// Info returns the chain's lexical shape.
func (s *Scope) Info() LexicalInfo {
	var info LexicalInfo
	for cur := s; cur != nil; cur = cur.Parent {
		info.Counts = append(info.Counts, len(cur.Func.Vars))
		info.Functions = append(info.Functions, cur.Func.Name)
	}
	return info
}

// Functions resolves function ids.
type Functions interface {
	Function(id bytecode.FuncID) *bytecode.Function
}

// BuildScope walks fn's lexical parents alongside the environment chain.
// Every level must have a materialized environment belonging to the
// expected function and carry variable information.
func BuildScope(funcs Functions, fn *bytecode.Function, env *bytecode.Env) (*Scope, error) {
	var head, tail *Scope
	for fn != nil {
		if env == nil {
			return nil, fmt.Errorf("%s: environment not materialized: %w", fn.Name, ErrNoScope)
		}
		if env.Func != fn.ID {
			return nil, fmt.Errorf("%s: environment belongs to f%d: %w", fn.Name, env.Func, ErrNoScope)
		}
		if !fn.HasVarInfo() {
			return nil, fmt.Errorf("%s: compiled without variable info: %w", fn.Name, ErrNoScope)
		}
		s := &Scope{Func: fn, Env: env}
		if head == nil {
			head = s
		} else {
			tail.Parent = s
		}
		tail = s

		if fn.Parent == bytecode.NoFunc {
			break
		}
		fn = funcs.Function(fn.Parent)
		env = env.Parent
	}
	return head, nil
}
