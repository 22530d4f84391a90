package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/dshills/scriptdbg/internal/config"
	"github.com/dshills/scriptdbg/internal/console"
	"github.com/dshills/scriptdbg/internal/debugger"
	"github.com/dshills/scriptdbg/internal/eval/lua"
	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/script/asm"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
	"github.com/dshills/scriptdbg/internal/script/vm"
	"github.com/dshills/scriptdbg/internal/watcher"
)

const prompt = "(sdbg) "

type runOptions struct {
	breaks          []string
	pauseOnLoad     bool
	pauseOnThrow    string
	commands        string
	json            bool
	watch           bool
	breakpointsFile string
}

// apply overrides cfg with the flags given on the command line.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("pause-on-load") {
		cfg.Debugger.PauseOnScriptLoad = o.pauseOnLoad
	}
	if flags.Changed("pause-on-throw") {
		cfg.Debugger.PauseOnThrow = o.pauseOnThrow
	}
	if flags.Changed("watch") {
		cfg.Watch.Enabled = o.watch
	}
	if flags.Changed("breakpoints") {
		cfg.Debugger.BreakpointsFile = o.breakpointsFile
	}
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags] file.sasm...",
		Short: "Run scripts under the debugger",
		Long: `Load every script in order and run the entry function of the last one.

Commands are read from the terminal, from piped stdin, or from --commands.
A command file ending in .json or .jsonl holds one JSON command per line.
Interrupt (SIGINT) pauses the running script; a second interrupt before
the pause is handled exits. SIGUSR1 requests an implicit pause, which is
ignored while a step is in progress.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runScripts(cmd, cfg, opts, args)
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVarP(&opts.breaks, "break", "b", nil, "set a breakpoint: file:line[:col][ if cond] (repeatable)")
	flags.BoolVar(&opts.pauseOnLoad, "pause-on-load", false, "pause at the entry of every loaded script")
	flags.StringVar(&opts.pauseOnThrow, "pause-on-throw", "", "which exceptions pause: none, uncaught or all")
	flags.StringVar(&opts.commands, "commands", "", "read debugger commands from this file")
	flags.BoolVar(&opts.json, "json", false, "write debugger events as JSON lines")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "rerun when a script changes")
	flags.StringVar(&opts.breakpointsFile, "breakpoints", "", "load breakpoints from and save them to this YAML file")
	return cmd
}

func runScripts(cmd *cobra.Command, cfg config.Config, opts *runOptions, files []string) error {
	out := cmd.OutOrStdout()
	log := newLogger(cfg, cmd.ErrOrStderr())

	in, parse, err := openCommands(opts.commands)
	if err != nil {
		return err
	}
	defer in.Close()

	var printer console.Printer = console.NewTextPrinter(out)
	if opts.json {
		printer = console.NewJSONPrinter(out)
	}

	r, err := newRunner(cfg, runnerIO{in: in, parse: parse, printer: printer, out: out, log: log})
	if err != nil {
		return err
	}
	defer r.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	r.cancel = cancel
	stop := notifySignals(r)
	defer stop()

	if err := r.loadBreakpoints(); err != nil {
		return err
	}
	if err := r.addBreakpoints(opts.breaks); err != nil {
		return &exitCodeError{code: exitUsage, err: err}
	}
	if err := r.load(files); err != nil {
		return &exitCodeError{code: exitError, err: err}
	}

	runErr := r.runOnce()
	if cfg.Watch.Enabled {
		if err := r.watch(ctx); err != nil {
			return &exitCodeError{code: exitError, err: err}
		}
		runErr = nil
	}
	if err := r.saveBreakpoints(); err != nil {
		log.Warn("%v", err)
	}
	if r.interruptedExit() {
		return &exitCodeError{code: exitInterrupted}
	}
	if runErr != nil {
		return &exitCodeError{code: exitError}
	}
	return nil
}

// openCommands picks the command source: a script file or stdin.
func openCommands(path string) (console.Reader, console.Parser, error) {
	if path == "" {
		in, err := console.Stdin(prompt, "")
		return in, console.ParseLine, err
	}
	in, err := console.OpenScript(path)
	if err != nil {
		return nil, nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl":
		return in, console.ParseJSON, nil
	}
	return in, console.ParseLine, nil
}

type runnerIO struct {
	in      console.Reader
	parse   console.Parser
	printer console.Printer
	out     io.Writer
	log     *logging.Logger
}

// runner owns one machine, its debugger and the loaded scripts. Everything
// except interrupt runs on the goroutine that called newRunner.
type runner struct {
	cfg     config.Config
	log     *logging.Logger
	printer console.Printer

	prog *bytecode.Program
	vm   *vm.Machine
	eval *lua.Evaluator
	dbg  *debugger.Debugger
	con  *console.Console

	files []string
	mods  []*bytecode.Module

	mu          sync.Mutex
	running     bool
	pending     atomic.Bool
	interrupted atomic.Bool
	cancel      context.CancelFunc
}

func newRunner(cfg config.Config, rio runnerIO) (*runner, error) {
	mode, err := debugger.ParsePauseOnThrow(cfg.Debugger.PauseOnThrow)
	if err != nil {
		return nil, err
	}
	r := &runner{
		cfg:     cfg,
		log:     logging.OrNull(rio.log),
		printer: rio.printer,
		prog:    bytecode.NewProgram(),
	}
	r.vm = vm.New(r.prog, vm.WithOutput(rio.out), vm.WithLogger(r.log))
	r.eval = lua.New(r.vm, lua.WithTimeout(cfg.Eval.Timeout.Duration), lua.WithLogger(r.log))
	r.dbg = debugger.New(r.vm,
		debugger.WithLogger(r.log),
		debugger.WithEvaluator(r.eval),
		debugger.WithPauseOnThrow(mode),
		debugger.WithPauseOnLoad(cfg.Debugger.PauseOnScriptLoad),
	)
	r.con = console.New(rio.in, rio.printer, console.WithParser(rio.parse), console.WithLogger(r.log))
	r.con.Attach(r.dbg)
	r.dbg.SetPauseHandler(r.handlePause)
	return r, nil
}

// handlePause forwards to the console. A pause the user got to handle
// re-arms the interrupt key.
func (r *runner) handlePause(d *debugger.Debugger, p *debugger.Pause) debugger.Command {
	cmd := r.con.Handle(d, p)
	if !r.con.Exhausted() && !r.con.Detached() {
		r.pending.Store(false)
	}
	return cmd
}

// interrupt handles SIGINT from the signal goroutine. While a script runs
// the first interrupt requests a pause and a second one before that pause
// was handled ends the process; between runs it stops watching.
func (r *runner) interrupt() (exit bool) {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		r.interrupted.Store(true)
		if r.cancel != nil {
			r.cancel()
		}
		return false
	}
	if r.pending.Swap(true) {
		return true
	}
	r.dbg.TriggerAsyncPause(bytecode.AsyncExplicit)
	return false
}

// implicitPause handles SIGUSR1.
func (r *runner) implicitPause() {
	r.dbg.TriggerAsyncPause(bytecode.AsyncImplicit)
}

func (r *runner) interruptedExit() bool {
	return r.interrupted.Load()
}

func (r *runner) setRunning(on bool) {
	r.mu.Lock()
	r.running = on
	r.mu.Unlock()
}

func (r *runner) loadBreakpoints() error {
	path := r.cfg.Debugger.BreakpointsFile
	if path == "" {
		return nil
	}
	ids, err := r.dbg.LoadBreakpoints(path)
	if err != nil {
		return fmt.Errorf("load breakpoints: %w", err)
	}
	for _, id := range ids {
		if info, ok := r.dbg.Breakpoint(id); ok {
			r.printer.Breakpoint(console.BreakpointNew, info)
		}
	}
	return nil
}

func (r *runner) saveBreakpoints() error {
	path := r.cfg.Debugger.BreakpointsFile
	if path == "" || r.con.Detached() {
		return nil
	}
	if err := r.dbg.SaveBreakpoints(path); err != nil {
		return fmt.Errorf("save breakpoints: %w", err)
	}
	return nil
}

// addBreakpoints creates the breakpoints given as specs. They stay pending
// until the scripts load.
func (r *runner) addBreakpoints(specs []string) error {
	for _, spec := range specs {
		loc, cond, err := console.ParseBreakpointSpec(spec)
		if err != nil {
			return err
		}
		id := r.dbg.CreateBreakpoint(loc)
		if !id.Valid() {
			r.printer.Error(fmt.Errorf("duplicate breakpoint %s", loc))
			continue
		}
		if cond != "" {
			if err := r.dbg.SetBreakpointCondition(id, cond); err != nil {
				return err
			}
		}
		if info, ok := r.dbg.Breakpoint(id); ok {
			r.printer.Breakpoint(console.BreakpointNew, info)
		}
	}
	return nil
}

// load assembles and loads every file in order.
func (r *runner) load(files []string) error {
	for _, path := range files {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		mod, err := asm.AssembleFile(abs)
		if err != nil {
			return err
		}
		if err := r.prog.Load(mod); err != nil {
			return err
		}
		r.files = append(r.files, abs)
		r.mods = append(r.mods, mod)
		r.log.Debug("loaded %s", abs)
	}
	return nil
}

// runOnce runs the entry function of the last script.
func (r *runner) runOnce() error {
	mod := r.mods[len(r.mods)-1]
	r.setRunning(true)
	v, err := r.vm.Run(mod)
	r.setRunning(false)
	r.pending.Store(false)
	r.printer.Exited(mod.Name, v, err)
	return err
}

// reload reassembles a changed script and loads it as a new module. User
// breakpoints bound to the old code are recreated so they bind to the new
// code.
func (r *runner) reload(path string) error {
	idx := -1
	for i, f := range r.files {
		if f == path {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("reload %s: not a loaded script", path)
	}
	mod, err := asm.AssembleFile(path)
	if err != nil {
		return err
	}
	old := r.mods[idx]
	if err := r.prog.Load(mod); err != nil {
		return err
	}
	r.mods[idx] = mod
	if !r.con.Detached() {
		r.rebind(old)
	}
	r.printer.Message("reloaded %s", filepath.Base(path))
	return nil
}

func (r *runner) rebind(old *bytecode.Module) {
	for _, info := range r.dbg.Breakpoints() {
		if !info.Resolved {
			continue
		}
		fn := r.prog.Function(info.Addr.Func)
		if fn == nil || fn.Module != old {
			continue
		}
		if err := r.dbg.DeleteBreakpoint(info.ID); err != nil {
			r.printer.Error(err)
			continue
		}
		id := r.dbg.CreateBreakpoint(info.Location)
		if !id.Valid() {
			r.printer.Error(fmt.Errorf("cannot rebind breakpoint %s", info.Location))
			continue
		}
		if info.Condition != "" {
			if err := r.dbg.SetBreakpointCondition(id, info.Condition); err != nil {
				r.printer.Error(fmt.Errorf("rebind breakpoint %d: %w", id, err))
			}
		}
		if !info.Enabled {
			if err := r.dbg.EnableBreakpoint(id, false); err != nil {
				r.printer.Error(fmt.Errorf("rebind breakpoint %d: %w", id, err))
			}
		}
		if nb, ok := r.dbg.Breakpoint(id); ok {
			r.printer.Breakpoint(console.BreakpointChanged, nb)
		}
	}
}

// watch reruns the scripts whenever one of them changes, until ctx ends.
func (r *runner) watch(ctx context.Context) error {
	w, err := watcher.New(
		watcher.WithDebounce(r.cfg.Watch.Debounce.Duration),
		watcher.WithLogger(r.log),
	)
	if err != nil {
		return err
	}
	defer w.Close()
	for _, f := range r.files {
		if err := w.Add(f); err != nil {
			return err
		}
	}
	r.printer.Message("watching %d scripts; interrupt to quit", len(r.files))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			r.printer.Error(err)
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if ev.Op.Has(watcher.OpRemove) && !ev.Op.Has(watcher.OpCreate) {
				r.printer.Message("%s removed", filepath.Base(ev.Path))
				continue
			}
			if err := r.reload(ev.Path); err != nil {
				r.printer.Error(err)
				continue
			}
			_ = r.runOnce()
		}
	}
}

func (r *runner) close() {
	r.dbg.Shutdown()
	r.eval.Close()
}
