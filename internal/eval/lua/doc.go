// Package lua evaluates debugger expressions with gopher-lua.
//
// Expressions see the paused frame's variables as Lua globals: names resolve
// through the frame's scope chain first, then `this`, then script globals,
// then the Lua standard library. Assignments write back into the innermost
// script binding. Script functions are callable from Lua and run on the
// interpreter, so an expression like `square(n) + 1` works as expected.
//
// gopher-lua's LState is not goroutine-safe; an Evaluator must be used from
// the interpreter's goroutine only, which is where the debugger calls it.
package lua
