// Package console drives a paused debugger from a line-oriented command
// source: an interactive prompt, piped stdin, or a JSON-lines script.
package console
