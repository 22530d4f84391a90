package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

func (m *Machine) installBuiltins() {
	m.DefineNative("print", nativePrint)
	m.DefineNative("apply", nativeApply)
	m.DefineNative("Error", nativeError)
}

// print(args...) writes its arguments separated by spaces.
func nativePrint(m *Machine, _ bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	if _, err := fmt.Fprintln(m.out, strings.Join(parts, " ")); err != nil {
		return nil, err
	}
	return bytecode.Undef, nil
}

// apply(fn, this, args...) calls fn through the native boundary.
func nativeApply(m *Machine, _ bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) == 0 {
		return nil, errors.New("apply needs a function")
	}
	this := bytecode.Undef
	if len(args) > 1 {
		this = args[1]
	}
	var rest []bytecode.Value
	if len(args) > 2 {
		rest = args[2:]
	}
	return m.Call(args[0], this, rest)
}

// Error(message) creates an error value carrying the current stack trace.
func nativeError(m *Machine, _ bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	msg := ""
	if len(args) > 0 {
		msg = args[0].String()
	}
	return &ErrorValue{Message: msg, Trace: m.Trace()}, nil
}
