package asm

import (
	"fmt"
	"io"
	"strings"

	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// Originals returns the opcode saved under the trap at addr.
type Originals func(addr bytecode.Address) (bytecode.Opcode, bool)

// Disassemble writes a listing of every function in m. Trapped
// instructions are marked with '*' and decoded through orig; without an
// original opcode the listing of that function stops at the trap.
func Disassemble(w io.Writer, m *bytecode.Module, orig Originals) error {
	for _, fn := range m.Funcs {
		if err := DisassembleFunction(w, fn, orig); err != nil {
			return err
		}
	}
	return nil
}

// DisassembleFunction writes the listing of one function.
func DisassembleFunction(w io.Writer, fn *bytecode.Function, orig Originals) error {
	var attrs []string
	if fn.Lazy {
		attrs = append(attrs, "lazy")
	}
	if !fn.HasVarInfo() {
		attrs = append(attrs, "novars")
	} else if len(fn.Vars) > 0 {
		attrs = append(attrs, "vars="+strings.Join(fn.Vars, ","))
	}
	if fn.Range.StartLine > 0 {
		attrs = append(attrs, fmt.Sprintf("lines=%d-%d", fn.Range.StartLine, fn.Range.EndLine))
	}
	fmt.Fprintf(w, "func %s (f%d) %s\n", fn.Name, fn.ID, strings.Join(attrs, " "))
	if fn.Lazy {
		fmt.Fprintf(w, "  <not compiled>\n\n")
		return nil
	}

	line := 0
	for off := 0; off < len(fn.Code); {
		for line < len(fn.Lines) && fn.Lines[line].Offset <= off {
			e := fn.Lines[line]
			file := ""
			if fn.Module != nil && e.File < len(fn.Module.Files) {
				file = fn.Module.Files[e.File]
			}
			fmt.Fprintf(w, "  ; %s:%d:%d stmt %d\n", file, e.Line, e.Column, e.Statement)
			line++
		}
		op := bytecode.Opcode(fn.Code[off])
		mark := ' '
		if op == bytecode.OpTrap {
			var ok bool
			if orig != nil {
				op, ok = orig(bytecode.Address{Func: fn.ID, Offset: off})
			}
			if !ok {
				fmt.Fprintf(w, "  %04d * trap\n", off)
				break
			}
			mark = '*'
		}
		in, err := bytecode.Decode(fn.Code, off, op)
		if err != nil {
			return fmt.Errorf("disassemble %s: %w", fn.Name, err)
		}
		fmt.Fprintf(w, "  %04d %c %-8s%s\n", off, mark, op, formatOperands(fn, in))
		off = in.Next()
	}
	for _, h := range fn.Handlers {
		fmt.Fprintf(w, "  try [%04d,%04d) -> %04d\n", h.Start, h.End, h.Target)
	}
	fmt.Fprintln(w)
	return nil
}

func formatOperands(fn *bytecode.Function, in bytecode.Instruction) string {
	switch in.Op {
	case bytecode.OpConst, bytecode.OpLoadGlobal, bytecode.OpStoreGlobal:
		idx := in.Operands[0]
		if idx < len(fn.Consts) {
			if s, ok := fn.Consts[idx].(bytecode.Str); ok && in.Op == bytecode.OpConst {
				return fmt.Sprintf("%q", string(s))
			}
			return fn.Consts[idx].String()
		}
	case bytecode.OpLoad, bytecode.OpStore:
		if fn.HasVarInfo() && in.Operands[0] < len(fn.Vars) {
			return fn.Vars[in.Operands[0]]
		}
	case bytecode.OpSwitch:
		parts := make([]string, len(in.Targets))
		for i, t := range in.Targets {
			parts[i] = fmt.Sprintf("%04d", t)
		}
		return strings.Join(parts, " ")
	case bytecode.OpJump, bytecode.OpJumpIfFalse:
		return fmt.Sprintf("%04d", in.Operands[0])
	case bytecode.OpClosure:
		if fn.Module != nil {
			if target := fn.Module.Function(in.Operands[0]); target != nil {
				return target.Name
			}
		}
	}
	parts := make([]string, len(in.Operands))
	for i, o := range in.Operands {
		parts[i] = fmt.Sprint(o)
	}
	return strings.Join(parts, " ")
}
