package vm

import (
	"errors"
	"fmt"

	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// run dispatches instructions until the frame count drops back to stop.
func (m *Machine) run(stop int) (bytecode.Value, error) {
	for {
		fr := m.top()
		fr.ip = fr.pc

		if m.async.Load() != 0 {
			kind := bytecode.AsyncKind(m.async.Swap(0))
			m.hook.OnAsyncPause(kind)
			if m.hasThrown {
				if exc := m.unwind(stop); exc != nil {
					return nil, exc
				}
			}
			continue
		}

		op := bytecode.Opcode(fr.fn.Code[fr.ip])
		paused := false
		if op == bytecode.OpTrap {
			stepped, depth := m.stepped, len(m.frames)
			paused = m.hook.OnTrap()
			if m.hasThrown {
				if exc := m.unwind(stop); exc != nil {
					return nil, exc
				}
				continue
			}
			// The debugger may have stepped the machine on our behalf.
			// Calls made by an evaluation return to the same frame and
			// do not count.
			if m.stepped != stepped || len(m.frames) != depth || m.top() != fr {
				continue
			}
			op = bytecode.Opcode(fr.fn.Code[fr.ip])
			if op == bytecode.OpTrap {
				op = m.hook.OriginalOpcode(m.addr(fr))
			}
		}

		v, done, err := m.execute(op, paused, stop)
		switch {
		case errors.Is(err, errThrown):
			if exc := m.unwind(stop); exc != nil {
				return nil, exc
			}
		case err != nil:
			return nil, err
		case done:
			return v, nil
		}
	}
}

// execute runs one instruction of the innermost frame. done is set when a
// return brought the frame count down to stop.
func (m *Machine) execute(op bytecode.Opcode, paused bool, stop int) (bytecode.Value, bool, error) {
	fr := m.top()
	in, err := bytecode.Decode(fr.fn.Code, fr.ip, op)
	if err != nil {
		return nil, false, fmt.Errorf("%s in %s: %w", m.addr(fr), fr.fn.Name, err)
	}
	fr.pc = in.Next()
	m.executed++

	switch op {
	case bytecode.OpNop:
	case bytecode.OpConst:
		m.push(fr.fn.Consts[in.Operands[0]])
	case bytecode.OpUndef:
		m.push(bytecode.Undef)
	case bytecode.OpPop:
		m.pop()
	case bytecode.OpDup:
		m.push(m.peek())

	case bytecode.OpLoad:
		m.push(fr.env.Slots[in.Operands[0]])
	case bytecode.OpStore:
		fr.env.Slots[in.Operands[0]] = m.pop()
	case bytecode.OpLoadUp, bytecode.OpStoreUp:
		env := fr.env
		for i := 0; i < in.Operands[0] && env != nil; i++ {
			env = env.Parent
		}
		if env == nil || in.Operands[1] >= len(env.Slots) {
			return nil, false, m.throwError("environment %d levels up is not available", in.Operands[0])
		}
		if op == bytecode.OpLoadUp {
			m.push(env.Slots[in.Operands[1]])
		} else {
			env.Slots[in.Operands[1]] = m.pop()
		}

	case bytecode.OpLoadGlobal:
		name := fr.fn.Consts[in.Operands[0]].String()
		v, ok := m.globals[name]
		if !ok {
			return nil, false, m.throwError("%s is not defined", name)
		}
		m.push(v)
	case bytecode.OpStoreGlobal:
		m.globals[fr.fn.Consts[in.Operands[0]].String()] = m.pop()

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv,
		bytecode.OpLt, bytecode.OpLe, bytecode.OpEq:
		if err := m.binary(op); err != nil {
			return nil, false, err
		}
	case bytecode.OpNot:
		m.push(bytecode.Bool(!m.pop().Truthy()))

	case bytecode.OpJump:
		fr.pc = in.Operands[0]
	case bytecode.OpJumpIfFalse:
		if !m.pop().Truthy() {
			fr.pc = in.Operands[0]
		}
	case bytecode.OpSwitch:
		// Out-of-range or non-integer selectors fall through.
		if n, ok := m.pop().(bytecode.Number); ok {
			i := int(n)
			if float64(i) == float64(n) && i >= 0 && i < len(in.Targets) {
				fr.pc = in.Targets[i]
			}
		}

	case bytecode.OpClosure:
		target := fr.fn.Module.Function(in.Operands[0])
		c := &Closure{Fn: target}
		if target.Parent != bytecode.NoFunc {
			c.Env = fr.env
		}
		m.push(c)
	case bytecode.OpCall:
		argc := in.Operands[0]
		args := make([]bytecode.Value, argc)
		copy(args, m.stack[len(m.stack)-argc:])
		m.stack = m.stack[:len(m.stack)-argc]
		if err := m.call(m.pop(), args); err != nil {
			return nil, false, err
		}
	case bytecode.OpReturn:
		v := m.pop()
		m.popFrame()
		if len(m.frames) == stop {
			return v, true, nil
		}
		m.push(v)

	case bytecode.OpThrow:
		return nil, false, m.throw(m.pop(), nil)
	case bytecode.OpDebugger:
		if !paused {
			m.hook.OnDebuggerStatement()
		}

	default:
		return nil, false, fmt.Errorf("%s: invalid opcode %s", m.addr(fr), op)
	}
	if m.hasThrown {
		return nil, false, errThrown
	}
	return nil, false, nil
}

// call invokes callee from an OpCall. Script callees get a new frame; the
// dispatch loop continues in it.
func (m *Machine) call(callee bytecode.Value, args []bytecode.Value) error {
	switch c := callee.(type) {
	case *Closure:
		return m.enter(c, bytecode.Undef, args)
	case *Native:
		v, err := c.Fn(m, bytecode.Undef, args)
		if err != nil {
			var exc *Exception
			if errors.As(err, &exc) {
				return m.throw(exc.Value, exc.Trace)
			}
			return m.throwError("%s: %v", c.Name, err)
		}
		if v == nil {
			v = bytecode.Undef
		}
		m.push(v)
		return nil
	default:
		return m.throwError("%s is not a function", callee)
	}
}

func (m *Machine) binary(op bytecode.Opcode) error {
	b := m.pop()
	a := m.pop()

	if op == bytecode.OpEq {
		m.push(bytecode.Bool(a == b))
		return nil
	}

	x, xok := a.(bytecode.Number)
	y, yok := b.(bytecode.Number)
	if xok && yok {
		switch op {
		case bytecode.OpAdd:
			m.push(x + y)
		case bytecode.OpSub:
			m.push(x - y)
		case bytecode.OpMul:
			m.push(x * y)
		case bytecode.OpDiv:
			m.push(x / y)
		case bytecode.OpLt:
			m.push(bytecode.Bool(x < y))
		case bytecode.OpLe:
			m.push(bytecode.Bool(x <= y))
		}
		return nil
	}

	s, sok := a.(bytecode.Str)
	t, tok := b.(bytecode.Str)
	switch {
	case op == bytecode.OpAdd && (sok || tok):
		m.push(bytecode.Str(a.String() + b.String()))
		return nil
	case op == bytecode.OpLt && sok && tok:
		m.push(bytecode.Bool(s < t))
		return nil
	case op == bytecode.OpLe && sok && tok:
		m.push(bytecode.Bool(s <= t))
		return nil
	}
	return m.throwError("cannot %s %s and %s", op, a, b)
}
