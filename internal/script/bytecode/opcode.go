package bytecode

import (
	"encoding/binary"
	"fmt"
)

// Opcode is a single instruction byte.
type Opcode byte

// Instruction set. Multi-byte operands are big-endian.
const (
	OpNop         Opcode = iota
	OpConst              // u16 constant index
	OpUndef              // push undefined
	OpPop                // discard top of stack
	OpDup                // duplicate top of stack
	OpLoad               // u16 slot of the current environment
	OpStore              // u16 slot of the current environment
	OpLoadUp             // u8 hops, u16 slot of an enclosing environment
	OpStoreUp            // u8 hops, u16 slot of an enclosing environment
	OpLoadGlobal         // u16 constant index of the global name
	OpStoreGlobal        // u16 constant index of the global name
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpLt
	OpLe
	OpEq
	OpNot
	OpJump        // u16 absolute target
	OpJumpIfFalse // u16 absolute target, pops the condition
	OpSwitch      // u8 count, count x u16 targets; pops an index
	OpClosure     // u16 module-local function index
	OpCall        // u8 argument count; callee sits below the arguments
	OpReturn
	OpThrow
	OpDebugger

	opCount
)

// OpTrap is the debug trap written over an instruction's opcode byte to
// implement breakpoints. Operand bytes are left untouched.
const OpTrap Opcode = 0xFF

type opFlags uint8

const (
	flagJump opFlags = 1 << iota
	flagReturn
	flagOpaque
	flagCall
	flagNoFallthrough
)

type opInfo struct {
	name     string
	operands []int
	flags    opFlags
}

var opTable = [opCount]opInfo{
	OpNop:         {name: "nop"},
	OpConst:       {name: "const", operands: []int{2}},
	OpUndef:       {name: "undef"},
	OpPop:         {name: "pop"},
	OpDup:         {name: "dup"},
	OpLoad:        {name: "load", operands: []int{2}},
	OpStore:       {name: "store", operands: []int{2}},
	OpLoadUp:      {name: "loadup", operands: []int{1, 2}},
	OpStoreUp:     {name: "storeup", operands: []int{1, 2}},
	OpLoadGlobal:  {name: "gload", operands: []int{2}},
	OpStoreGlobal: {name: "gstore", operands: []int{2}},
	OpAdd:         {name: "add"},
	OpSub:         {name: "sub"},
	OpMul:         {name: "mul"},
	OpDiv:         {name: "div"},
	OpLt:          {name: "lt"},
	OpLe:          {name: "le"},
	OpEq:          {name: "eq"},
	OpNot:         {name: "not"},
	OpJump:        {name: "jump", operands: []int{2}, flags: flagJump | flagNoFallthrough},
	OpJumpIfFalse: {name: "jumpf", operands: []int{2}, flags: flagJump},
	OpSwitch:      {name: "switch", flags: flagOpaque},
	OpClosure:     {name: "closure", operands: []int{2}},
	OpCall:        {name: "call", operands: []int{1}, flags: flagCall},
	OpReturn:      {name: "ret", flags: flagReturn | flagNoFallthrough},
	OpThrow:       {name: "throw", flags: flagOpaque | flagNoFallthrough},
	OpDebugger:    {name: "debugger"},
}

// String returns the mnemonic for op.
func (op Opcode) String() string {
	if op == OpTrap {
		return "trap"
	}
	if op < opCount {
		return opTable[op].name
	}
	return fmt.Sprintf("op(0x%02x)", byte(op))
}

// Valid reports whether op is a known instruction (the trap included).
func (op Opcode) Valid() bool {
	return op < opCount || op == OpTrap
}

// LookupOpcode returns the opcode for a mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	for op := Opcode(0); op < opCount; op++ {
		if opTable[op].name == name {
			return op, true
		}
	}
	return 0, false
}

// OperandWidths returns the fixed operand widths of op. OpSwitch has a
// variable layout and returns nil.
func (op Opcode) OperandWidths() []int {
	if op >= opCount {
		return nil
	}
	return opTable[op].operands
}

// Instruction is a decoded instruction.
type Instruction struct {
	Op       Opcode
	Offset   int
	Size     int
	Operands []int
	// Targets holds the jump table of an OpSwitch.
	Targets []int
}

// Next returns the offset of the lexically following instruction.
func (in Instruction) Next() int {
	return in.Offset + in.Size
}

// JumpTarget returns the statically known branch target, if any.
func (in Instruction) JumpTarget() (int, bool) {
	if opTable[in.Op].flags&flagJump == 0 {
		return 0, false
	}
	return in.Operands[0], true
}

// IsReturn reports whether the instruction returns from the function.
func (in Instruction) IsReturn() bool {
	return opTable[in.Op].flags&flagReturn != 0
}

// IsCall reports whether the instruction calls another function.
func (in Instruction) IsCall() bool {
	return opTable[in.Op].flags&flagCall != 0
}

// IsOpaque reports whether the successor can only be found by executing the
// instruction.
func (in Instruction) IsOpaque() bool {
	return opTable[in.Op].flags&flagOpaque != 0
}

// FallsThrough reports whether execution can continue at Next.
func (in Instruction) FallsThrough() bool {
	return opTable[in.Op].flags&flagNoFallthrough == 0
}

// Decode decodes the instruction at off, treating its opcode byte as op.
// Callers pass the original opcode when the byte at off is a trap.
func Decode(code []byte, off int, op Opcode) (Instruction, error) {
	if off < 0 || off >= len(code) {
		return Instruction{}, fmt.Errorf("offset %d out of range [0,%d)", off, len(code))
	}
	if op >= opCount {
		return Instruction{}, fmt.Errorf("offset %d: cannot decode %s", off, op)
	}
	in := Instruction{Op: op, Offset: off, Size: 1}
	pos := off + 1

	if op == OpSwitch {
		if pos >= len(code) {
			return Instruction{}, fmt.Errorf("offset %d: truncated switch", off)
		}
		n := int(code[pos])
		pos++
		if pos+2*n > len(code) {
			return Instruction{}, fmt.Errorf("offset %d: truncated switch table", off)
		}
		in.Operands = []int{n}
		in.Targets = make([]int, n)
		for i := 0; i < n; i++ {
			in.Targets[i] = int(binary.BigEndian.Uint16(code[pos:]))
			pos += 2
		}
		in.Size = pos - off
		return in, nil
	}

	for _, w := range opTable[op].operands {
		if pos+w > len(code) {
			return Instruction{}, fmt.Errorf("offset %d: truncated %s", off, op)
		}
		switch w {
		case 1:
			in.Operands = append(in.Operands, int(code[pos]))
		case 2:
			in.Operands = append(in.Operands, int(binary.BigEndian.Uint16(code[pos:])))
		}
		pos += w
	}
	in.Size = pos - off
	return in, nil
}

// Encode appends an instruction to code and returns the extended slice.
// For OpSwitch the operands are the jump targets.
func Encode(code []byte, op Opcode, operands ...int) ([]byte, error) {
	if op >= opCount {
		return code, fmt.Errorf("cannot encode %s", op)
	}
	code = append(code, byte(op))
	if op == OpSwitch {
		if len(operands) > 0xFF {
			return code, fmt.Errorf("switch table too large (%d)", len(operands))
		}
		code = append(code, byte(len(operands)))
		for _, t := range operands {
			code = binary.BigEndian.AppendUint16(code, uint16(t))
		}
		return code, nil
	}
	widths := opTable[op].operands
	if len(operands) != len(widths) {
		return code, fmt.Errorf("%s takes %d operands, got %d", op, len(widths), len(operands))
	}
	for i, w := range widths {
		v := operands[i]
		switch w {
		case 1:
			if v < 0 || v > 0xFF {
				return code, fmt.Errorf("%s operand %d out of range", op, v)
			}
			code = append(code, byte(v))
		case 2:
			if v < 0 || v > 0xFFFF {
				return code, fmt.Errorf("%s operand %d out of range", op, v)
			}
			code = binary.BigEndian.AppendUint16(code, uint16(v))
		}
	}
	return code, nil
}

// PatchU16 overwrites the 16-bit operand at pos.
func PatchU16(code []byte, pos, v int) {
	binary.BigEndian.PutUint16(code[pos:], uint16(v))
}
