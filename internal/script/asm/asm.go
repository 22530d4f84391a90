package asm

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// SyntaxError reports a malformed source line.
type SyntaxError struct {
	File string
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// AssembleFile assembles the file at path. The module is named after the
// file's base name.
func AssembleFile(path string) (*bytecode.Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Assemble(filepath.Base(path), src)
}

// Assemble assembles src into a module named name.
func Assemble(name string, src []byte) (*bytecode.Module, error) {
	a := &assembler{
		name:  name,
		mod:   &bytecode.Module{Name: name, Entry: -1},
		files: make(map[string]int),
		file:  -1,
	}
	if err := a.run(string(src)); err != nil {
		return nil, err
	}
	return a.mod, nil
}

type labelRef struct {
	pos   int
	label string
	line  int
}

type closureRef struct {
	fn   *funcBuilder
	pos  int
	name string
	line int
}

type tryDecl struct {
	start, end, handler string
	line                int
}

type funcBuilder struct {
	fn     *bytecode.Function
	parent *funcBuilder
	names  []string
	body   bytecode.Body

	labels map[string]int
	jumps  []labelRef
	tries  []tryDecl

	lazy          bool
	novars        bool
	explicitRange bool

	stmt    int
	line    int
	col     int
	hasLoc  bool
	lastLoc *bytecode.LineEntry
}

type assembler struct {
	name     string
	mod      *bytecode.Module
	files    map[string]int
	file     int
	stack    []*funcBuilder
	closures []closureRef
	lineNo   int
}

func (a *assembler) errorf(format string, args ...any) error {
	return &SyntaxError{File: a.name, Line: a.lineNo, Msg: fmt.Sprintf(format, args...)}
}

func (a *assembler) current() *funcBuilder {
	if len(a.stack) == 0 {
		return nil
	}
	return a.stack[len(a.stack)-1]
}

func (a *assembler) run(src string) error {
	for i, raw := range strings.Split(src, "\n") {
		a.lineNo = i + 1
		toks, err := tokenize(raw)
		if err != nil {
			return a.errorf("%v", err)
		}
		if len(toks) == 0 {
			continue
		}
		if err := a.line(toks); err != nil {
			return err
		}
	}
	if len(a.stack) > 0 {
		return a.errorf("missing .end for function %s", a.current().fn.Name)
	}
	if len(a.mod.Funcs) == 0 {
		return a.errorf("no functions")
	}
	if a.mod.Entry < 0 {
		a.mod.Entry = 0
	}
	return a.linkClosures()
}

func (a *assembler) line(toks []string) error {
	head := toks[0]
	switch {
	case head == ".file":
		if len(toks) != 2 {
			return a.errorf(".file takes one name")
		}
		a.useFile(toks[1])
		return nil
	case head == ".func":
		return a.beginFunc(toks[1:])
	case head == ".end":
		return a.endFunc()
	}

	b := a.current()
	if b == nil {
		return a.errorf("%s outside of a function", head)
	}
	switch {
	case strings.HasSuffix(head, ":") && len(toks) == 1:
		label := strings.TrimSuffix(head, ":")
		if _, dup := b.labels[label]; dup {
			return a.errorf("duplicate label %q", label)
		}
		b.labels[label] = len(b.body.Code)
		return nil
	case head == ".stmt", head == ".loc":
		if len(toks) < 2 || len(toks) > 3 {
			return a.errorf("%s takes a line and an optional column", head)
		}
		line, err := strconv.Atoi(toks[1])
		if err != nil {
			return a.errorf("bad line %q", toks[1])
		}
		col := 0
		if len(toks) == 3 {
			if col, err = strconv.Atoi(toks[2]); err != nil {
				return a.errorf("bad column %q", toks[2])
			}
		}
		if head == ".stmt" || !b.hasLoc {
			b.stmt++
		}
		b.line, b.col, b.hasLoc = line, col, true
		return nil
	case head == ".try":
		if len(toks) != 4 {
			return a.errorf(".try takes start, end and handler labels")
		}
		b.tries = append(b.tries, tryDecl{start: toks[1], end: toks[2], handler: toks[3], line: a.lineNo})
		return nil
	}
	return a.instruction(b, toks)
}

func (a *assembler) useFile(name string) {
	id, ok := a.files[name]
	if !ok {
		id = len(a.mod.Files)
		a.mod.Files = append(a.mod.Files, name)
		a.files[name] = id
	}
	a.file = id
}

func (a *assembler) beginFunc(args []string) error {
	if len(args) == 0 {
		return a.errorf(".func needs a name")
	}
	if a.file < 0 {
		a.useFile(a.name)
	}
	for _, f := range a.mod.Funcs {
		if f.Name == args[0] {
			return a.errorf("duplicate function %q", args[0])
		}
	}
	fn := &bytecode.Function{
		Name:        args[0],
		File:        a.file,
		ParentIndex: -1,
		Index:       len(a.mod.Funcs),
	}
	b := &funcBuilder{fn: fn, labels: make(map[string]int), parent: a.current()}
	if b.parent != nil {
		fn.ParentIndex = b.parent.fn.Index
		b.parent.fn.Children = append(b.parent.fn.Children, fn.Index)
	}

	for _, arg := range args[1:] {
		key, val, _ := strings.Cut(arg, "=")
		switch key {
		case "lazy":
			b.lazy = true
		case "novars":
			b.novars = true
		case "entry":
			if b.parent != nil {
				return a.errorf("nested function %s cannot be the entry", fn.Name)
			}
			a.mod.Entry = fn.Index
		case "params":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return a.errorf("bad params %q", val)
			}
			fn.Params = n
		case "slots":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return a.errorf("bad slots %q", val)
			}
			fn.Slots = n
		case "vars":
			if val != "" {
				b.names = strings.Split(val, ",")
			}
		case "range":
			r, err := parseRange(val)
			if err != nil {
				return a.errorf("bad range %q: %v", val, err)
			}
			fn.Range = r
			b.explicitRange = true
		default:
			return a.errorf("unknown .func attribute %q", key)
		}
	}
	if len(b.names) > fn.Slots {
		fn.Slots = len(b.names)
	}
	if fn.Params > fn.Slots {
		fn.Slots = fn.Params
	}
	if b.parent == nil && a.mod.Entry < 0 {
		a.mod.Entry = fn.Index
	}

	a.mod.Funcs = append(a.mod.Funcs, fn)
	a.stack = append(a.stack, b)
	return nil
}

func (a *assembler) endFunc() error {
	b := a.current()
	if b == nil {
		return a.errorf(".end without .func")
	}
	a.stack = a.stack[:len(a.stack)-1]
	fn := b.fn

	for _, j := range b.jumps {
		off, ok := b.labels[j.label]
		if !ok {
			return &SyntaxError{File: a.name, Line: j.line, Msg: fmt.Sprintf("undefined label %q", j.label)}
		}
		bytecode.PatchU16(b.body.Code, j.pos, off)
	}
	for _, t := range b.tries {
		var offs [3]int
		for i, l := range []string{t.start, t.end, t.handler} {
			off, ok := b.labels[l]
			if !ok {
				return &SyntaxError{File: a.name, Line: t.line, Msg: fmt.Sprintf("undefined label %q", l)}
			}
			offs[i] = off
		}
		b.body.Handlers = append(b.body.Handlers, bytecode.Handler{Start: offs[0], End: offs[1], Target: offs[2]})
	}

	if !b.novars {
		fn.Vars = append([]string{}, b.names...)
	}
	if !b.explicitRange {
		fn.Range = a.computeRange(b)
	}
	if b.lazy {
		fn.SetPending(b.body)
	} else {
		fn.Body = b.body
	}
	return nil
}

func (a *assembler) computeRange(b *funcBuilder) bytecode.SourceRange {
	var r bytecode.SourceRange
	widen := func(line, col int) {
		if line == 0 {
			return
		}
		if r.StartLine == 0 || line < r.StartLine || (line == r.StartLine && col < r.StartColumn) {
			r.StartLine, r.StartColumn = line, col
		}
		if line > r.EndLine || (line == r.EndLine && col > r.EndColumn) {
			r.EndLine, r.EndColumn = line, col
		}
	}
	for _, e := range b.body.Lines {
		widen(e.Line, e.Column)
	}
	for _, ci := range b.fn.Children {
		cr := a.mod.Funcs[ci].Range
		widen(cr.StartLine, cr.StartColumn)
		widen(cr.EndLine, cr.EndColumn)
	}
	// Column bounds are only meaningful when given explicitly.
	r.StartColumn, r.EndColumn = 0, 0
	return r
}

func (a *assembler) linkClosures() error {
	for _, c := range a.closures {
		idx := -1
		for _, f := range a.mod.Funcs {
			if f.Name == c.name {
				idx = f.Index
				break
			}
		}
		if idx < 0 {
			return &SyntaxError{File: a.name, Line: c.line, Msg: fmt.Sprintf("undefined function %q", c.name)}
		}
		target := a.mod.Funcs[idx]
		if target.ParentIndex >= 0 && target.ParentIndex != c.fn.fn.Index {
			return &SyntaxError{File: a.name, Line: c.line, Msg: fmt.Sprintf("function %q is not nested in %s", c.name, c.fn.fn.Name)}
		}
		bytecode.PatchU16(c.fn.body.Code, c.pos, idx)
	}
	return nil
}

func (a *assembler) emit(b *funcBuilder, op bytecode.Opcode, operands ...int) error {
	off := len(b.body.Code)
	if b.lastLoc == nil || b.lastLoc.Line != b.line || b.lastLoc.Column != b.col ||
		b.lastLoc.Statement != b.stmt || b.lastLoc.File != b.fn.File {
		b.body.Lines = append(b.body.Lines, bytecode.LineEntry{
			Offset:    off,
			File:      b.fn.File,
			Line:      b.line,
			Column:    b.col,
			Statement: b.stmt,
		})
		b.lastLoc = &b.body.Lines[len(b.body.Lines)-1]
	}
	code, err := bytecode.Encode(b.body.Code, op, operands...)
	if err != nil {
		return a.errorf("%v", err)
	}
	b.body.Code = code
	return nil
}

func (a *assembler) instruction(b *funcBuilder, toks []string) error {
	op, ok := bytecode.LookupOpcode(toks[0])
	if !ok {
		return a.errorf("unknown instruction %q", toks[0])
	}
	args := toks[1:]

	switch op {
	case bytecode.OpConst:
		if len(args) != 1 {
			return a.errorf("const takes one literal")
		}
		v, err := parseLiteral(args[0])
		if err != nil {
			return a.errorf("%v", err)
		}
		return a.emit(b, op, constIndex(&b.body, v))

	case bytecode.OpLoadGlobal, bytecode.OpStoreGlobal:
		if len(args) != 1 {
			return a.errorf("%s takes a name", op)
		}
		return a.emit(b, op, constIndex(&b.body, bytecode.Str(args[0])))

	case bytecode.OpLoad, bytecode.OpStore:
		if len(args) != 1 {
			return a.errorf("%s takes a variable", op)
		}
		hops, slot, err := a.resolveVar(b, args[0])
		if err != nil {
			return err
		}
		if hops == 0 {
			return a.emit(b, op, slot)
		}
		up := bytecode.OpLoadUp
		if op == bytecode.OpStore {
			up = bytecode.OpStoreUp
		}
		return a.emit(b, up, hops, slot)

	case bytecode.OpJump, bytecode.OpJumpIfFalse:
		if len(args) != 1 {
			return a.errorf("%s takes a label", op)
		}
		pos := len(b.body.Code) + 1
		if err := a.emit(b, op, 0); err != nil {
			return err
		}
		b.jumps = append(b.jumps, labelRef{pos: pos, label: args[0], line: a.lineNo})
		return nil

	case bytecode.OpSwitch:
		pos := len(b.body.Code) + 2
		if err := a.emit(b, op, make([]int, len(args))...); err != nil {
			return err
		}
		for i, l := range args {
			b.jumps = append(b.jumps, labelRef{pos: pos + 2*i, label: l, line: a.lineNo})
		}
		return nil

	case bytecode.OpClosure:
		if len(args) != 1 {
			return a.errorf("closure takes a function name")
		}
		pos := len(b.body.Code) + 1
		if err := a.emit(b, op, 0); err != nil {
			return err
		}
		a.closures = append(a.closures, closureRef{fn: b, pos: pos, name: args[0], line: a.lineNo})
		return nil
	}

	widths := op.OperandWidths()
	if len(args) != len(widths) {
		return a.errorf("%s takes %d operands", op, len(widths))
	}
	operands := make([]int, len(args))
	for i, s := range args {
		n, err := strconv.Atoi(s)
		if err != nil {
			return a.errorf("bad operand %q", s)
		}
		operands[i] = n
	}
	return a.emit(b, op, operands...)
}

// resolveVar finds a variable by name (or slot number) in b or one of its
// lexical parents.
func (a *assembler) resolveVar(b *funcBuilder, name string) (hops, slot int, err error) {
	if n, convErr := strconv.Atoi(name); convErr == nil {
		if n < 0 || n >= b.fn.Slots {
			return 0, 0, a.errorf("slot %d out of range", n)
		}
		return 0, n, nil
	}
	for cur := b; cur != nil; cur = cur.parent {
		for i, v := range cur.names {
			if v == name {
				return hops, i, nil
			}
		}
		hops++
	}
	return 0, 0, a.errorf("undefined variable %q (use gload/gstore for globals)", name)
}

func constIndex(body *bytecode.Body, v bytecode.Value) int {
	for i, c := range body.Consts {
		if c == v {
			return i
		}
	}
	body.Consts = append(body.Consts, v)
	return len(body.Consts) - 1
}

func parseLiteral(s string) (bytecode.Value, error) {
	switch s {
	case "true":
		return bytecode.Bool(true), nil
	case "false":
		return bytecode.Bool(false), nil
	case "undefined":
		return bytecode.Undef, nil
	}
	if strings.HasPrefix(s, `"`) {
		str, err := strconv.Unquote(s)
		if err != nil {
			return nil, fmt.Errorf("bad string literal %s", s)
		}
		return bytecode.Str(str), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("bad literal %q", s)
	}
	return bytecode.Number(f), nil
}

// parseRange parses "L:C-L:C" (columns optional).
func parseRange(s string) (bytecode.SourceRange, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return bytecode.SourceRange{}, fmt.Errorf("missing '-'")
	}
	var r bytecode.SourceRange
	var err error
	if r.StartLine, r.StartColumn, err = parsePos(from); err != nil {
		return r, err
	}
	if r.EndLine, r.EndColumn, err = parsePos(to); err != nil {
		return r, err
	}
	return r, nil
}

func parsePos(s string) (line, col int, err error) {
	l, c, hasCol := strings.Cut(s, ":")
	if line, err = strconv.Atoi(l); err != nil {
		return 0, 0, err
	}
	if hasCol {
		if col, err = strconv.Atoi(c); err != nil {
			return 0, 0, err
		}
	}
	return line, col, nil
}

// tokenize splits a line on whitespace, keeping quoted strings intact and
// dropping comments introduced by ';' or '#'.
func tokenize(line string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == ';' || c == '#':
			return toks, nil
		case c == '"':
			j := i + 1
			for j < len(line) && line[j] != '"' {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(line) {
				return nil, fmt.Errorf("unterminated string")
			}
			toks = append(toks, line[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' && line[j] != '\r' {
				j++
			}
			toks = append(toks, line[i:j])
			i = j
		}
	}
	return toks, nil
}
