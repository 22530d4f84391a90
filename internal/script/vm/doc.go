// Package vm implements the bytecode interpreter.
//
// A Machine runs on a single goroutine. The only method safe to call from
// other goroutines is RequestAsyncPause, which sets a flag the dispatch loop
// polls between instructions.
package vm
