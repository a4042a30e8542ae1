// Package sketch evaluates live-coding JavaScript sketches against the
// scheduler. A sketch is plain JavaScript with a handful of globals bound
// into the runtime (times are milliseconds):
//
//	schedule(ms, fn)          cancelable action, returns a ref (0 if rejected)
//	scheduleProtected(ms, fn) action that survives stop
//	cancel(ref)
//	wait(ms)                  advance the virtual cursor
//	now(), rtNow()            virtual cursor, engine time
//	state(), stop()
//
// The same functions are exported by require("cadence"). console.* goes
// to the application log.
//
// Every runtime call happens on the runloop that owns the scheduler.
package sketch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"

	"github.com/mescon/Cadence/internal/clock"
	"github.com/mescon/Cadence/internal/domain"
	"github.com/mescon/Cadence/internal/logger"
	"github.com/mescon/Cadence/internal/runloop"
	"github.com/mescon/Cadence/internal/scheduler"
)

// ModuleName is the native module exposing the scheduling API.
const ModuleName = "cadence"

// InlineName is the script name used for sketches that do not come from a file.
const InlineName = "inline.js"

var (
	// ErrCompile is returned when a sketch does not parse. The running
	// sketch is left untouched.
	ErrCompile = errors.New("sketch: compile failed")
	// ErrEvaluate is returned when a sketch throws or times out during its
	// top-level evaluation. The transport is left cleared and Ready.
	ErrEvaluate = errors.New("sketch: evaluation failed")
	// ErrTimeout is the interrupt value for runaway scripts.
	ErrTimeout = errors.New("sketch: script timed out")
)

// Options configures a Runner.
type Options struct {
	Loop      *runloop.Loop
	Scheduler *scheduler.Scheduler
	Publisher scheduler.Publisher
	// BaseDir confines require() and anchors inline sketches.
	BaseDir string
	// EvalTimeout bounds top-level evaluation (default 2s).
	EvalTimeout time.Duration
	// ActionTimeout bounds a single scheduled callback (default 250ms).
	ActionTimeout time.Duration
	// Clock arms the timeout watchdogs. Defaults to a RealClock.
	Clock clock.Clock
	// History, when set, records every sketch that compiled or failed.
	History RevisionStore
}

// RevisionStore keeps submitted sketches. loadErr is nil for a sketch that loaded.
type RevisionStore interface {
	SaveRevision(ctx context.Context, name, source string, loadErr error) (int64, error)
}

// historyTimeout bounds one revision write.
const historyTimeout = 5 * time.Second

// Loaded describes the sketch currently driving the transport.
type Loaded struct {
	Path     string    `json:"path"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Runner owns the JavaScript runtime for the current sketch.
type Runner struct {
	loop          *runloop.Loop
	sched         *scheduler.Scheduler
	pub           scheduler.Publisher
	baseDir       string
	evalTimeout   time.Duration
	actionTimeout time.Duration
	clk           clock.Clock
	history       RevisionStore
	log           logger.Component

	vm *goja.Runtime // loop-owned

	// loading holds a token while a Load is in progress
	loading chan struct{}

	mu      sync.Mutex
	current *Loaded
}

// NewRunner creates a Runner. Nothing is evaluated until Load.
func NewRunner(opts Options) *Runner {
	r := &Runner{
		loop:          opts.Loop,
		sched:         opts.Scheduler,
		pub:           opts.Publisher,
		baseDir:       opts.BaseDir,
		evalTimeout:   opts.EvalTimeout,
		actionTimeout: opts.ActionTimeout,
		clk:           opts.Clock,
		history:       opts.History,
		log:           logger.For("sketch"),
		loading:       make(chan struct{}, 1),
	}
	if r.baseDir == "" {
		r.baseDir = "."
	}
	if abs, err := filepath.Abs(r.baseDir); err == nil {
		r.baseDir = abs
	}
	if r.evalTimeout == 0 {
		r.evalTimeout = 2 * time.Second
	}
	if r.actionTimeout == 0 {
		r.actionTimeout = 250 * time.Millisecond
	}
	if r.clk == nil {
		r.clk = clock.NewRealClock()
	}
	return r
}

// Current returns the loaded sketch, or nil.
func (r *Runner) Current() *Loaded {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	c := *r.current
	return &c
}

// LoadFile reads path and loads it.
func (r *Runner) LoadFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sketch: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return r.Load(ctx, abs, string(src))
}

// Load replaces the running sketch with src. The transport is stopped and
// allowed to drain its protected actions, then cleared, then src is
// evaluated and the transport started. A sketch that fails to compile
// leaves the current one playing. Concurrent loads run one at a time in
// arrival order.
func (r *Runner) Load(ctx context.Context, name, src string) error {
	if name == "" {
		name = filepath.Join(r.baseDir, InlineName)
	}

	select {
	case r.loading <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.loading }()

	err := r.load(ctx, name, src)
	if err == nil || errors.Is(err, ErrCompile) || errors.Is(err, ErrEvaluate) {
		r.record(ctx, name, src, err)
	}
	return err
}

func (r *Runner) load(ctx context.Context, name, src string) error {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		r.fail(name, err)
		return fmt.Errorf("%w: %v", ErrCompile, err)
	}

	if err := r.drain(ctx); err != nil {
		return err
	}

	return runloop.Call(ctx, r.loop, func() error {
		return r.evaluate(name, prog)
	})
}

// record saves the outcome even if the caller's context has ended.
func (r *Runner) record(ctx context.Context, name, src string, loadErr error) {
	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	if _, err := r.history.SaveRevision(ctx, name, src, loadErr); err != nil {
		r.log.Warnf("Failed to record revision of %s: %v", name, err)
	}
}

// drain stops a running transport and blocks until it reports stopped.
func (r *Runner) drain(ctx context.Context) error {
	var drained chan struct{}
	err := runloop.Call(ctx, r.loop, func() error {
		switch r.sched.State() {
		case scheduler.Running:
			drained = make(chan struct{})
			ch := drained
			r.sched.SetOnEnded(func() { close(ch) })
			return r.sched.Stop()
		case scheduler.Stopping:
			drained = make(chan struct{})
			ch := drained
			r.sched.SetOnEnded(func() { close(ch) })
		}
		return nil
	})
	if err != nil || drained == nil {
		return err
	}

	r.log.Debugf("waiting for protected actions to drain")
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// evaluate runs on the loop.
func (r *Runner) evaluate(name string, prog *goja.Program) error {
	r.sched.SetOnEnded(nil)
	if err := r.sched.ClearEvents(); err != nil {
		// Someone restarted the transport while we drained.
		return err
	}

	vm, err := r.newRuntime(name)
	if err != nil {
		return err
	}
	r.vm = vm

	if _, err := r.guard(vm, r.evalTimeout, func() (goja.Value, error) {
		return vm.RunProgram(prog)
	}); err != nil {
		_ = r.sched.ClearEvents()
		r.vm = nil
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
		r.fail(name, err)
		return fmt.Errorf("%w: %v", ErrEvaluate, err)
	}

	if err := r.sched.Start(); err != nil {
		return err
	}

	r.mu.Lock()
	r.current = &Loaded{Path: name, LoadedAt: time.Now()}
	r.mu.Unlock()

	r.log.Infof("Loaded sketch %s (%d action(s) queued)", name, r.sched.Pending())
	r.publish(domain.NewSketchEvent(domain.SketchLoaded, domain.SketchEventData{Path: name}))
	return nil
}

func (r *Runner) fail(name string, err error) {
	r.log.Errorf("Sketch %s failed: %v", name, err)
	r.publish(domain.NewSketchEvent(domain.SketchFailed, domain.SketchEventData{Path: name, Error: err.Error()}))
}

func (r *Runner) publish(e domain.Event) {
	if r.pub == nil {
		return
	}
	if err := r.pub.Publish(e); err != nil {
		r.log.Debugf("publish %s: %v", e.EventType, err)
	}
}

// guard runs fn with a watchdog that interrupts vm after d.
func (r *Runner) guard(vm *goja.Runtime, d time.Duration, fn func() (goja.Value, error)) (goja.Value, error) {
	defer vm.ClearInterrupt()
	if d > 0 {
		t := r.clk.AfterFunc(d, func() { vm.Interrupt(ErrTimeout) })
		defer t.Stop()
	}
	return fn()
}

func (r *Runner) newRuntime(name string) (*goja.Runtime, error) {
	vm := goja.New()

	registry := require.NewRegistry(require.WithLoader(r.confinedLoader()))
	registry.RegisterNativeModule(ModuleName, func(rt *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		r.bind(rt, exports)
	})
	registry.Enable(vm)

	// console resolves util through require, so it is loaded after Enable.
	module := vm.NewObject()
	_ = module.Set("exports", vm.NewObject())
	console.RequireWithPrinter(printer{log: r.log, name: filepath.Base(name)})(vm, module)
	if err := vm.Set("console", module.Get("exports")); err != nil {
		return nil, err
	}

	r.bind(vm, vm.GlobalObject())
	return vm, nil
}

// confinedLoader refuses module files outside the base directory.
func (r *Runner) confinedLoader() require.SourceLoader {
	return func(path string) ([]byte, error) {
		abs, err := filepath.Abs(filepath.FromSlash(path))
		if err != nil {
			return nil, require.ModuleFileDoesNotExistError
		}
		rel, err := filepath.Rel(r.baseDir, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			r.log.Warnf("require outside %s refused: %s", r.baseDir, path)
			return nil, require.ModuleFileDoesNotExistError
		}
		return require.DefaultSourceLoader(abs)
	}
}

// =============================================================================
// Bindings
// =============================================================================

func (r *Runner) bind(vm *goja.Runtime, target *goja.Object) {
	_ = target.Set("schedule", r.scheduleFunc(vm, false))
	_ = target.Set("scheduleProtected", r.scheduleFunc(vm, true))

	_ = target.Set("cancel", func(call goja.FunctionCall) goja.Value {
		ref := call.Argument(0).ToInteger()
		if ref > 0 {
			r.sched.Cancel(scheduler.Ref(ref))
		}
		return goja.Undefined()
	})

	_ = target.Set("wait", func(call goja.FunctionCall) goja.Value {
		r.sched.Wait(toDuration(vm, "wait", call.Argument(0)))
		return goja.Undefined()
	})

	_ = target.Set("now", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(domain.Milliseconds(r.sched.Now()))
	})

	_ = target.Set("rtNow", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(domain.Milliseconds(r.sched.RtNow()))
	})

	_ = target.Set("state", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(string(r.sched.State()))
	})

	_ = target.Set("stop", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(r.sched.Stop() == nil)
	})
}

func (r *Runner) scheduleFunc(vm *goja.Runtime, protected bool) func(goja.FunctionCall) goja.Value {
	fnName := "schedule"
	if protected {
		fnName = "scheduleProtected"
	}
	return func(call goja.FunctionCall) goja.Value {
		delay := toDuration(vm, fnName, call.Argument(0))
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.NewTypeError(fnName + ": second argument must be a function"))
		}

		action := func() {
			if r.vm != vm {
				// Left over from a replaced sketch.
				return
			}
			if _, err := r.guard(vm, r.actionTimeout, func() (goja.Value, error) {
				return fn(goja.Undefined())
			}); err != nil {
				// Recovered by the scheduler and reported as ActionFailed.
				panic(err)
			}
		}

		var ref scheduler.Ref
		if protected {
			ref = r.sched.ScheduleProtected(delay, action)
		} else {
			ref = r.sched.Schedule(delay, action)
		}
		return vm.ToValue(uint64(ref))
	}
}

// maxDelayMs is the largest delay, in milliseconds, a time.Duration can hold.
const maxDelayMs = float64(math.MaxInt64 / int64(time.Millisecond))

func toDuration(vm *goja.Runtime, fnName string, v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	ms := v.ToFloat()
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		panic(vm.NewTypeError(fnName + ": delay must be a finite number of milliseconds"))
	}
	if math.Abs(ms) > maxDelayMs {
		panic(vm.NewTypeError(fnName + ": delay is out of range"))
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// printer routes console output to the application log.
type printer struct {
	log  logger.Component
	name string
}

func (p printer) Log(s string)   { p.log.Infof("[%s] %s", p.name, s) }
func (p printer) Warn(s string)  { p.log.Warnf("[%s] %s", p.name, s) }
func (p printer) Error(s string) { p.log.Errorf("[%s] %s", p.name, s) }
