// Package bytecode is the container format executed by the script VM.
//
// A Program owns every loaded Module and an arena of Functions addressed by
// FuncID. Code locations are (FuncID, offset) pairs rather than pointers so
// they stay comparable and remain valid for the lifetime of the program.
//
// Besides the instruction stream, each Function carries the debug tables
// used by tools:
//
//   - a line table mapping offsets to file/line/column/statement
//   - a lexical table (parent function, variable names)
//   - an exception table of try regions and their handlers
//
// Functions may be loaded lazily. A lazy function has a known source range
// but no code until Compile is called for it; functions nested inside a lazy
// function are not visible until their parent is compiled.
//
// The package also defines the small runtime shapes (Value, Env, Frame) that
// the interpreter and the debugger exchange.
package bytecode
