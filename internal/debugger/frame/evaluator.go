package frame

import (
	"errors"

	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
	"github.com/dshills/scriptdbg/internal/script/vm"
)

// Evaluator evaluates source text in a scope. A nil scope means only
// globals are visible.
type Evaluator interface {
	Evaluate(scope *Scope, this bytecode.Value, source string) (bytecode.Value, error)
}

// Metadata describes how an evaluation ended.
type Metadata struct {
	// IsException is set when the evaluation threw.
	IsException bool
	// Text is the thrown value or error rendered as text.
	Text string
	// Trace is the stack trace of the thrown value, if it carried one.
	Trace []bytecode.SourceLocation
}

// Machine is the interpreter state the frame evaluator inspects.
type Machine interface {
	FrameEnv(i int) (*bytecode.Env, error)
	FrameFunction(i int) (*bytecode.Function, error)
	FrameThis(i int) (bytecode.Value, error)
	SaveThrown() vm.ThrowState
	RestoreThrown(s vm.ThrowState)
}

// FrameEvaluator evaluates expressions in the context of a paused frame.
type FrameEvaluator struct {
	funcs Functions
	vm    Machine
	eval  Evaluator
	log   *logging.Logger
}

// NewFrameEvaluator creates a frame evaluator.
func NewFrameEvaluator(funcs Functions, m Machine, eval Evaluator, log *logging.Logger) *FrameEvaluator {
	return &FrameEvaluator{
		funcs: funcs,
		vm:    m,
		eval:  eval,
		log:   logging.OrNull(log).WithComponent("frame"),
	}
}

// Scope reconstructs the scope chain of frame i, counting from the
// innermost frame.
func (f *FrameEvaluator) Scope(i int) (*Scope, error) {
	fn, err := f.vm.FrameFunction(i)
	if err != nil {
		return nil, err
	}
	env, err := f.vm.FrameEnv(i)
	if err != nil {
		return nil, err
	}
	return BuildScope(f.funcs, fn, env)
}

// Eval evaluates source in frame i. When the scope chain cannot be
// reconstructed the result is undefined with empty metadata. A throw is
// reported through the metadata, never as an error. The interpreter's
// pending throw, if any, is preserved.
func (f *FrameEvaluator) Eval(i int, source string) (bytecode.Value, Metadata) {
	scope, err := f.Scope(i)
	if err != nil {
		f.log.Debug("eval in frame %d: %v", i, err)
		return bytecode.Undef, Metadata{}
	}
	this, err := f.vm.FrameThis(i)
	if err != nil {
		return bytecode.Undef, Metadata{}
	}

	saved := f.vm.SaveThrown()
	f.vm.RestoreThrown(vm.ThrowState{})
	defer f.vm.RestoreThrown(saved)

	v, err := f.eval.Evaluate(scope, this, source)
	if err != nil {
		return bytecode.Undef, describe(err)
	}
	if v == nil {
		v = bytecode.Undef
	}
	return v, Metadata{}
}

func describe(err error) Metadata {
	md := Metadata{IsException: true, Text: err.Error()}
	var exc *vm.Exception
	if errors.As(err, &exc) {
		md.Text = exc.Value.String()
		md.Trace = exc.Trace
		if st, ok := exc.Value.(bytecode.StackTracer); ok && len(md.Trace) == 0 {
			md.Trace = st.StackTrace()
		}
	}
	return md
}
