package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/scriptdbg/internal/debugger/breakpoint"
	"github.com/dshills/scriptdbg/internal/debugger/step"
)

// ErrUnknownCommand is returned for a command name no Op answers to.
var ErrUnknownCommand = errors.New("unknown command")

// Op is a console operation.
type Op int

const (
	OpContinue Op = iota
	OpStep
	OpEval
	OpFrame
	OpBacktrace
	OpVars
	OpThis
	OpBreak
	OpDelete
	OpEnable
	OpDisable
	OpCondition
	OpList
	OpThrow
	OpSave
	OpHelp
	OpDetach
)

var opNames = [...]string{
	OpContinue:  "continue",
	OpStep:      "step",
	OpEval:      "eval",
	OpFrame:     "frame",
	OpBacktrace: "backtrace",
	OpVars:      "vars",
	OpThis:      "this",
	OpBreak:     "break",
	OpDelete:    "delete",
	OpEnable:    "enable",
	OpDisable:   "disable",
	OpCondition: "condition",
	OpList:      "breakpoints",
	OpThrow:     "throw",
	OpSave:      "save",
	OpHelp:      "help",
	OpDetach:    "detach",
}

func (op Op) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "unknown"
	}
	return opNames[op]
}

// aliases maps every accepted command word to its Op. Step aliases carry
// their mode in stepAliases.
var aliases = map[string]Op{
	"c":      OpContinue,
	"cont":   OpContinue,
	"s":      OpStep,
	"n":      OpStep,
	"next":   OpStep,
	"finish": OpStep,
	"p":      OpEval,
	"print":  OpEval,
	"f":      OpFrame,
	"bt":     OpBacktrace,
	"where":  OpBacktrace,
	"locals": OpVars,
	"b":      OpBreak,
	"d":      OpDelete,
	"cond":   OpCondition,
	"list":   OpList,
	"info":   OpList,
	"h":      OpHelp,
	"?":      OpHelp,
	"q":      OpDetach,
	"quit":   OpDetach,
}

var stepAliases = map[string]step.Mode{
	"s":      step.Into,
	"n":      step.Over,
	"next":   step.Over,
	"finish": step.Out,
}

func lookupOp(word string) (Op, bool) {
	for op, name := range opNames {
		if name == word {
			return Op(op), true
		}
	}
	op, ok := aliases[word]
	return op, ok
}

// Request is one parsed console command.
type Request struct {
	Op   Op
	Mode step.Mode
	// Expr is the expression of eval or the condition of break/condition.
	Expr string
	// Frame selects a frame; -1 means the currently selected one.
	Frame int
	// Location is the breakpoint location of break.
	Location breakpoint.Location
	// ID names a breakpoint; All applies delete to every breakpoint.
	ID  breakpoint.ID
	All bool
	// Arg is the file of save or the mode of throw.
	Arg string
}

// ParseLine parses a command typed at the prompt.
func ParseLine(line string) (Request, error) {
	line = strings.TrimSpace(line)
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	word = strings.ToLower(word)
	op, ok := lookupOp(word)
	if !ok {
		return Request{}, fmt.Errorf("%w %q", ErrUnknownCommand, word)
	}
	req := Request{Op: op, Frame: -1}

	switch op {
	case OpStep:
		req.Mode = step.Into
		if m, ok := stepAliases[word]; ok {
			req.Mode = m
		}
		if rest != "" {
			m, err := step.ParseMode(rest)
			if err != nil {
				return Request{}, err
			}
			req.Mode = m
		}
	case OpEval:
		if rest == "" {
			return Request{}, errors.New("eval: missing expression")
		}
		req.Expr = rest
	case OpFrame, OpVars, OpThis:
		if rest == "" {
			if op == OpFrame {
				return Request{}, errors.New("frame: missing index")
			}
			break
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return Request{}, fmt.Errorf("%s: bad frame %q", op, rest)
		}
		req.Frame = n
	case OpBreak:
		loc, cond, err := ParseBreakpointSpec(rest)
		if err != nil {
			return Request{}, err
		}
		req.Location, req.Expr = loc, cond
	case OpDelete:
		if rest == "all" || rest == "" {
			req.All = true
			break
		}
		fallthrough
	case OpEnable, OpDisable, OpCondition:
		idText, expr, _ := strings.Cut(rest, " ")
		id, err := parseID(idText)
		if err != nil {
			return Request{}, fmt.Errorf("%s: %w", op, err)
		}
		req.ID = id
		req.Expr = strings.TrimSpace(expr)
	case OpThrow:
		if rest == "" {
			return Request{}, errors.New("throw: missing mode (none, uncaught, all)")
		}
		req.Arg = rest
	case OpSave:
		if rest == "" {
			return Request{}, errors.New("save: missing file")
		}
		req.Arg = rest
	}
	return req, nil
}

// ParseJSON parses a scripted command such as
// {"cmd":"break","location":"main.sasm:3","condition":"n > 1"}.
func ParseJSON(line string) (Request, error) {
	if !gjson.Valid(line) {
		return Request{}, fmt.Errorf("invalid JSON command %q", line)
	}
	obj := gjson.Parse(line)
	name := strings.ToLower(obj.Get("cmd").String())
	op, ok := lookupOp(name)
	if !ok {
		return Request{}, fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	req := Request{Op: op, Frame: -1}
	if f := obj.Get("frame"); f.Exists() {
		req.Frame = int(f.Int())
	}

	switch op {
	case OpStep:
		req.Mode = step.Into
		if m, ok := stepAliases[name]; ok {
			req.Mode = m
		}
		if mode := obj.Get("mode"); mode.Exists() {
			m, err := step.ParseMode(mode.String())
			if err != nil {
				return Request{}, err
			}
			req.Mode = m
		}
	case OpEval:
		req.Expr = obj.Get("expr").String()
		if req.Expr == "" {
			return Request{}, errors.New("eval: missing expr")
		}
	case OpBreak:
		loc, err := breakpoint.ParseLocation(obj.Get("location").String())
		if err != nil {
			return Request{}, err
		}
		req.Location = loc
		req.Expr = obj.Get("condition").String()
	case OpDelete, OpEnable, OpDisable, OpCondition:
		req.All = op == OpDelete && obj.Get("all").Bool()
		req.ID = breakpoint.ID(obj.Get("id").Int())
		if !req.All && !req.ID.Valid() {
			return Request{}, fmt.Errorf("%s: missing id", op)
		}
		req.Expr = obj.Get("condition").String()
	case OpThrow:
		req.Arg = obj.Get("mode").String()
	case OpSave:
		req.Arg = obj.Get("file").String()
	}
	return req, nil
}

// ParseBreakpointSpec parses "file:line[:col][ if condition]".
func ParseBreakpointSpec(s string) (breakpoint.Location, string, error) {
	spec, cond, _ := strings.Cut(strings.TrimSpace(s), " if ")
	loc, err := breakpoint.ParseLocation(strings.TrimSpace(spec))
	if err != nil {
		return breakpoint.Location{}, "", err
	}
	return loc, strings.TrimSpace(cond), nil
}

func parseID(s string) (breakpoint.ID, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil || n <= 0 {
		return breakpoint.InvalidID, fmt.Errorf("bad breakpoint id %q", s)
	}
	return breakpoint.ID(n), nil
}

const helpText = `commands:
  continue (c)                 resume
  step [into|over|out] (s)     step, into by default; n = over, finish = out
  eval <expr> (p)              evaluate in the selected frame
  frame <n> (f)                select frame n
  backtrace (bt)               show the call stack
  vars [n] (locals)            show variables of a frame
  this [n]                     show the receiver of a frame
  break <file:line[:col]> [if <cond>] (b)
  delete <id>|all (d)
  enable <id>, disable <id>
  condition <id> [expr]        set or clear a condition
  breakpoints (list)           list breakpoints
  throw none|uncaught|all      choose which exceptions pause
  save <file>                  save breakpoints
  detach (q)                   stop debugging and let the script finish`
