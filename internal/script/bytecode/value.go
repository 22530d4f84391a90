package bytecode

import (
	"strconv"
)

// Value is a script value.
type Value interface {
	String() string
	Truthy() bool
}

// Undefined is the value of uninitialized slots and missing results.
type Undefined struct{}

// Undef is the canonical undefined value.
var Undef Value = Undefined{}

func (Undefined) String() string { return "undefined" }
func (Undefined) Truthy() bool   { return false }

// Number is a float64 script number.
type Number float64

func (n Number) String() string { return strconv.FormatFloat(float64(n), 'g', -1, 64) }
func (n Number) Truthy() bool   { return n != 0 }

// Str is a script string.
type Str string

func (s Str) String() string { return string(s) }
func (s Str) Truthy() bool   { return s != "" }

// Bool is a script boolean.
type Bool bool

func (b Bool) String() string { return strconv.FormatBool(bool(b)) }
func (b Bool) Truthy() bool   { return bool(b) }

// IsUndefined reports whether v is undefined or nil.
func IsUndefined(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Undefined)
	return ok
}

// StackTracer is implemented by thrown values that captured a trace.
type StackTracer interface {
	StackTrace() []SourceLocation
}
