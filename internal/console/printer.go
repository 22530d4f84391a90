package console

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/sjson"

	"github.com/dshills/scriptdbg/internal/debugger"
	"github.com/dshills/scriptdbg/internal/debugger/breakpoint"
	"github.com/dshills/scriptdbg/internal/debugger/frame"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
	"github.com/dshills/scriptdbg/internal/script/vm"
)

// Printer reports debugger events to the user or to a driving program.
// Paused is not called for eval completions; EvalResult reports those.
type Printer interface {
	Paused(session string, p *debugger.Pause, stack []debugger.StackFrame)
	EvalResult(r *debugger.EvalResult)
	Backtrace(stack []debugger.StackFrame, selected int)
	Variables(frame int, vars []frame.Variable)
	This(frame int, v bytecode.Value)
	Breakpoint(event string, info breakpoint.Info)
	Breakpoints(list []breakpoint.Info)
	Message(format string, args ...any)
	Error(err error)
	Exited(module string, v bytecode.Value, err error)
}

// Breakpoint events.
const (
	BreakpointNew      = "new"
	BreakpointChanged  = "changed"
	BreakpointRemoved  = "removed"
	BreakpointResolved = "resolved"
)

// TypeName names the type of a script value.
func TypeName(v bytecode.Value) string {
	switch v.(type) {
	case nil, bytecode.Undefined:
		return "undefined"
	case bytecode.Number:
		return "number"
	case bytecode.Str:
		return "string"
	case bytecode.Bool:
		return "boolean"
	case *vm.Closure, *vm.Native:
		return "function"
	case *vm.ErrorValue:
		return "error"
	default:
		return "object"
	}
}

func valueText(v bytecode.Value) string {
	if v == nil {
		return bytecode.Undef.String()
	}
	if s, ok := v.(bytecode.Str); ok {
		return fmt.Sprintf("%q", string(s))
	}
	return v.String()
}

// TextPrinter writes human-readable output.
type TextPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextPrinter creates a text printer writing to w.
func NewTextPrinter(w io.Writer) *TextPrinter {
	return &TextPrinter{w: w}
}

func (t *TextPrinter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format, args...)
}

func (t *TextPrinter) Paused(_ string, p *debugger.Pause, stack []debugger.StackFrame) {
	reason := p.Reason.String()
	if p.Reason == debugger.ReasonBreakpoint {
		reason = fmt.Sprintf("breakpoint %d", p.Breakpoint)
	}
	where := p.Location.String()
	if p.HasSource {
		where = p.Source.String()
	}
	fn := "?"
	if len(stack) > 0 {
		fn = stack[0].Function
	}
	t.printf("paused (%s) in %s at %s\n", reason, fn, where)
	if p.Reason == debugger.ReasonException {
		t.printf("  thrown: %s\n", valueText(p.Thrown))
	}
}

func (t *TextPrinter) EvalResult(r *debugger.EvalResult) {
	if r.Metadata.IsException {
		t.printf("exception: %s\n", r.Metadata.Text)
		for _, loc := range r.Metadata.Trace {
			t.printf("    at %s\n", loc)
		}
		return
	}
	t.printf("%s\n", valueText(r.Value))
}

func (t *TextPrinter) Backtrace(stack []debugger.StackFrame, selected int) {
	for i, f := range stack {
		mark := " "
		if i == selected {
			mark = "*"
		}
		where := f.Location.String()
		if f.HasSource {
			where = f.Source.String()
		}
		t.printf("%s#%d %s at %s\n", mark, i, f.Function, where)
	}
}

func (t *TextPrinter) Variables(_ int, vars []frame.Variable) {
	if len(vars) == 0 {
		t.printf("no variables\n")
		return
	}
	for _, v := range vars {
		t.printf("%s%s = %s\n", strings.Repeat("  ", v.Scope), v.Name, valueText(v.Value))
	}
}

func (t *TextPrinter) This(_ int, v bytecode.Value) {
	t.printf("this = %s\n", valueText(v))
}

func (t *TextPrinter) Breakpoint(event string, info breakpoint.Info) {
	t.printf("breakpoint %d %s: %s\n", info.ID, event, describeBreakpoint(info))
}

func (t *TextPrinter) Breakpoints(list []breakpoint.Info) {
	if len(list) == 0 {
		t.printf("no breakpoints\n")
		return
	}
	for _, info := range list {
		t.printf("%3d %s\n", info.ID, describeBreakpoint(info))
	}
}

func describeBreakpoint(info breakpoint.Info) string {
	var b strings.Builder
	b.WriteString(info.Location.String())
	if !info.Resolved {
		b.WriteString(" (pending)")
	} else {
		fmt.Fprintf(&b, " [%s]", info.Addr)
	}
	if !info.Enabled {
		b.WriteString(" disabled")
	}
	if info.Condition != "" {
		fmt.Fprintf(&b, " if %s", info.Condition)
	}
	if info.Hits > 0 {
		fmt.Fprintf(&b, " hits=%d", info.Hits)
	}
	return b.String()
}

func (t *TextPrinter) Message(format string, args ...any) {
	t.printf(format+"\n", args...)
}

func (t *TextPrinter) Error(err error) {
	t.printf("error: %v\n", err)
}

func (t *TextPrinter) Exited(module string, v bytecode.Value, err error) {
	if err != nil {
		t.printf("%s: %v\n", module, err)
		return
	}
	t.printf("%s returned %s\n", module, valueText(v))
}

// JSONPrinter writes one JSON object per event, for driving programs.
type JSONPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONPrinter creates a JSON-lines printer writing to w.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{w: w}
}

// event accumulates one JSON object. The first failing set sticks.
type event struct {
	doc string
	err error
}

func newEvent(name string) *event {
	e := &event{doc: "{}"}
	return e.set("event", name)
}

func (e *event) set(path string, v any) *event {
	if e.err == nil {
		e.doc, e.err = sjson.Set(e.doc, path, v)
	}
	return e
}

func (e *event) setValue(path string, v bytecode.Value) *event {
	e.set(path+".type", TypeName(v))
	if n, ok := v.(bytecode.Number); ok {
		return e.set(path+".value", float64(n))
	}
	if b, ok := v.(bytecode.Bool); ok {
		return e.set(path+".value", bool(b))
	}
	if v == nil {
		v = bytecode.Undef
	}
	return e.set(path+".value", v.String())
}

func (e *event) setSource(path string, loc bytecode.SourceLocation) *event {
	return e.set(path+".file", loc.File).
		set(path+".line", loc.Line).
		set(path+".column", loc.Column)
}

func (j *JSONPrinter) emit(e *event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if e.err != nil {
		fmt.Fprintf(j.w, "{\"event\":\"error\",\"message\":%q}\n", e.err.Error())
		return
	}
	fmt.Fprintln(j.w, e.doc)
}

func (j *JSONPrinter) Paused(session string, p *debugger.Pause, stack []debugger.StackFrame) {
	e := newEvent("stopped").
		set("session", session).
		set("reason", p.Reason.String()).
		set("location.func", int(p.Location.Func)).
		set("location.offset", p.Location.Offset)
	if p.Reason == debugger.ReasonBreakpoint {
		e.set("breakpoint", int(p.Breakpoint))
	}
	if p.HasSource {
		e.setSource("source", p.Source)
	}
	if len(stack) > 0 {
		e.set("function", stack[0].Function)
	}
	e.set("depth", len(stack))
	if p.Reason == debugger.ReasonException {
		e.setValue("thrown", p.Thrown)
	}
	j.emit(e)
}

func setEval(e *event, path string, r *debugger.EvalResult) {
	e.set(path+".expr", r.Source).set(path+".frame", r.Frame)
	if r.Metadata.IsException {
		e.set(path+".exception", r.Metadata.Text)
		if len(r.Metadata.Trace) > 0 {
			e.set(path+".trace", []any{})
		}
		for i, loc := range r.Metadata.Trace {
			e.setSource(fmt.Sprintf("%s.trace.%d", path, i), loc)
		}
		return
	}
	e.setValue(path+".result", r.Value)
}

func (j *JSONPrinter) EvalResult(r *debugger.EvalResult) {
	e := newEvent("evaluated")
	setEval(e, "eval", r)
	j.emit(e)
}

func (j *JSONPrinter) Backtrace(stack []debugger.StackFrame, selected int) {
	e := newEvent("stack").set("selected", selected).set("frames", []any{})
	for i, f := range stack {
		path := fmt.Sprintf("frames.%d", i)
		e.set(path+".function", f.Function).set(path+".depth", f.Depth)
		if f.HasSource {
			e.setSource(path+".source", f.Source)
		}
	}
	j.emit(e)
}

func (j *JSONPrinter) Variables(frameIndex int, vars []frame.Variable) {
	e := newEvent("variables").set("frame", frameIndex).set("variables", []any{})
	for i, v := range vars {
		path := fmt.Sprintf("variables.%d", i)
		e.set(path+".name", v.Name).set(path+".scope", v.Scope)
		e.setValue(path, v.Value)
	}
	j.emit(e)
}

func (j *JSONPrinter) This(frameIndex int, v bytecode.Value) {
	j.emit(newEvent("this").set("frame", frameIndex).setValue("this", v))
}

func setBreakpoint(e *event, path string, info breakpoint.Info) {
	e.set(path+".id", int(info.ID)).
		set(path+".location", info.Location.String()).
		set(path+".enabled", info.Enabled).
		set(path+".resolved", info.Resolved).
		set(path+".hits", info.Hits)
	if info.Condition != "" {
		e.set(path+".condition", info.Condition)
	}
}

func (j *JSONPrinter) Breakpoint(evt string, info breakpoint.Info) {
	e := newEvent("breakpoint").set("reason", evt)
	setBreakpoint(e, "breakpoint", info)
	j.emit(e)
}

func (j *JSONPrinter) Breakpoints(list []breakpoint.Info) {
	sort.Slice(list, func(a, b int) bool { return list[a].ID < list[b].ID })
	e := newEvent("breakpoints").set("breakpoints", []any{})
	for i, info := range list {
		setBreakpoint(e, fmt.Sprintf("breakpoints.%d", i), info)
	}
	j.emit(e)
}

func (j *JSONPrinter) Message(format string, args ...any) {
	j.emit(newEvent("output").set("message", fmt.Sprintf(format, args...)))
}

func (j *JSONPrinter) Error(err error) {
	j.emit(newEvent("error").set("message", err.Error()))
}

func (j *JSONPrinter) Exited(module string, v bytecode.Value, err error) {
	e := newEvent("exited").set("module", module)
	if err != nil {
		e.set("error", err.Error())
	} else {
		e.setValue("result", v)
	}
	j.emit(e)
}
