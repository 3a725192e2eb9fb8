package isolate

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbox/internal/logging"
	"github.com/GriffinCanCode/jsbox/internal/metrics"
)

// teardownStep is one release capability in a context's ordered teardown
// list. Steps run in the exact order they were appended.
type teardownStep struct {
	name    string
	release func()
}

// Context is one guest isolated environment: a goja runtime with its own
// global namespace, handle cache, weak-reference registry, and tracked
// script set. A context is entered by at most one goroutine at a time; the
// context lock is held for the duration of every guest entry.
type Context struct {
	mu sync.Mutex
	vm *goja.Runtime

	name    string
	hostObj interface{}
	ns      *namespace
	nsObj   *goja.Object

	handles  *handleCache
	registry *weakRegistry
	scripts  map[*Script]struct{}
	proxies  map[*guestRef]struct{}
	modules  *moduleState
	teardown []teardownStep

	// Limit defaults, adjustable while an execution is in flight, so they
	// live outside the context lock.
	defTimeNs  atomic.Int64
	defMem     atomic.Int64
	avgObjSize atomic.Int64

	propagateHost bool
	closed        atomic.Bool

	// Mutated only while the context lock is held or from the executing
	// goroutine during a host callback.
	active        int
	callbackDepth int
	curForce      bool
	curPropagate  bool

	log     *logging.Logger
	metrics *metrics.Metrics
}

// New allocates a guest isolated environment, optionally seeded from a
// snapshot, and projects the host object into it as a read-only namespace.
// A context that fails construction is torn down before the error returns.
func New(opts Options) (*Context, error) {
	name := opts.Name
	if name == "" {
		name = DefaultGlobalName
	}
	if len(name) > MaxStringLen {
		return nil, errorf(KindLimitExceeded, "namespace name exceeds maximum supported length")
	}
	if opts.MemoryLimit < 0 {
		return nil, errorf(KindInvalidArgument, "memory limit must not be negative")
	}

	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	c := &Context{
		vm:            goja.New(),
		name:          name,
		hostObj:       opts.HostObject,
		handles:       newHandleCache(),
		registry:      newWeakRegistry(opts.Metrics),
		scripts:       make(map[*Script]struct{}),
		proxies:       make(map[*guestRef]struct{}),
		propagateHost: opts.PropagateHostExceptions,
		log:           log.Named("isolate"),
		metrics:       opts.Metrics,
	}
	c.modules = newModuleState(c)
	c.defTimeNs.Store(int64(opts.TimeLimit))
	c.defMem.Store(opts.MemoryLimit)
	if opts.AverageObjectSize > 0 {
		c.avgObjSize.Store(opts.AverageObjectSize)
	} else {
		c.avgObjSize.Store(DefaultAverageObjectSize)
	}

	depth := opts.MaxCallStackDepth
	if depth <= 0 {
		depth = 4096
	}
	c.vm.SetMaxCallStackSize(depth)

	// Close decrements this, including on the initialize failure path.
	c.metrics.AddContexts(1)

	if err := c.initialize(opts); err != nil {
		c.Close()
		return nil, err
	}

	c.log.Debug("context created", zap.String("namespace", name))
	return c, nil
}

func (c *Context) initialize(opts Options) error {
	if len(opts.Snapshot) > 0 {
		src, err := parseSnapshot(opts.Snapshot)
		if err != nil {
			return err
		}
		prog, err := goja.Compile("snapshot", src, false)
		if err != nil {
			return wrapErr(KindInvalidSnapshot, err, "snapshot source does not compile")
		}
		if _, err := c.vm.RunProgram(prog); err != nil {
			return wrapErr(KindInvalidSnapshot, err, "snapshot evaluation failed")
		}
	}

	global := c.vm.GlobalObject()
	if err := global.Set("global", global); err != nil {
		return wrapErr(KindResource, err, "failed to install global self-reference")
	}
	c.installConsole()
	c.modules.install()

	ns, err := c.buildNamespace(opts.Variables)
	if err != nil {
		return err
	}
	c.ns = ns
	c.nsObj = c.vm.NewDynamicObject(ns)
	// Non-configurable so guest script cannot delete or redefine the binding.
	if err := global.DefineDataProperty(c.name, c.nsObj, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return wrapErr(KindResource, err, "failed to install host namespace")
	}

	// Teardown order matters: every persistent guest reference must go
	// before the guest environment itself.
	c.teardown = []teardownStep{
		{"namespace", func() {
			if c.ns != nil {
				c.ns.clear()
			}
			c.nsObj = nil
		}},
		{"weak registry", func() { c.registry.releaseAll() }},
		{"handle cache", func() { c.handles.release() }},
		{"proxies", func() {
			for ref := range c.proxies {
				ref.sever()
			}
			c.proxies = make(map[*guestRef]struct{})
		}},
		{"scripts", func() {
			for s := range c.scripts {
				s.ctx.Store(nil)
			}
			c.scripts = make(map[*Script]struct{})
		}},
		{"modules", func() { c.modules.release() }},
		{"vm", func() { c.vm = nil }},
	}
	return nil
}

// buildNamespace projects the host object's exported methods and fields,
// plus the initial variables, into a fresh host-controlled property set.
func (c *Context) buildNamespace(vars map[string]interface{}) (*namespace, error) {
	ns := newNamespace()

	if c.hostObj != nil {
		if err := c.projectHostObject(ns); err != nil {
			return nil, err
		}
	}

	for key, val := range vars {
		if len(key) > MaxStringLen {
			return nil, errorf(KindLimitExceeded, "property name exceeds maximum supported length")
		}
		gv, err := c.toGuest(val)
		if err != nil {
			return nil, err
		}
		ns.define(key, gv)
	}
	return ns, nil
}

func (c *Context) installConsole() {
	console := c.vm.NewObject()
	levels := map[string]func(string, ...zap.Field){
		"log":   c.log.Info,
		"info":  c.log.Info,
		"warn":  c.log.Warn,
		"error": c.log.Error,
	}
	for level, sink := range levels {
		emit := sink
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			var b strings.Builder
			for i, arg := range call.Arguments {
				if i > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(arg.String())
			}
			emit(b.String(), zap.String("source", "guest"))
			return goja.Undefined()
		})
	}
	_ = c.vm.Set("console", console)
	_ = c.vm.Set("print", console.Get("log"))
}

// Close runs the guaranteed-ordered teardown. It waits for any in-flight
// execution to finish, deregisters the context from the watchdog, and
// releases every persistent guest reference before dropping the guest
// environment. Safe to call twice and safe on partially-built contexts.
func (c *Context) Close() error {
	if c.callbackDepth > 0 {
		return errorf(KindInvalidArgument, "cannot close a context from inside a host callback")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	// A context being torn down must not stay registered; this is the one
	// legitimate way to end governance besides the watchdog itself.
	wd.cancelContext(c)

	for _, step := range c.teardown {
		step.release()
	}
	c.teardown = nil
	c.hostObj = nil

	c.metrics.AddContexts(-1)
	c.log.Debug("context destroyed")
	return nil
}

// SetTimeLimit updates the context default and retargets any in-flight
// execution's deadline, so a tightened limit takes effect immediately.
func (c *Context) SetTimeLimit(limit time.Duration) error {
	if c.closed.Load() {
		return errorf(KindContextClosed, "context has been destroyed")
	}
	c.defTimeNs.Store(int64(limit))
	wd.adjustTime(c, limit)
	return nil
}

// SetMemoryLimit updates the context default and retargets any in-flight
// execution's ceiling.
func (c *Context) SetMemoryLimit(limit int64) error {
	if limit < 0 {
		return errorf(KindInvalidArgument, "memory limit must not be negative")
	}
	if c.closed.Load() {
		return errorf(KindContextClosed, "context has been destroyed")
	}
	c.defMem.Store(limit)
	wd.adjustMemory(c, limit)
	return nil
}

// SetAverageObjectSize tunes the heap-pressure charge per host-object
// wrapper created after the call.
func (c *Context) SetAverageObjectSize(size int64) error {
	if size <= 0 {
		return errorf(KindInvalidArgument, "average object size must be positive")
	}
	c.avgObjSize.Store(size)
	return nil
}

// SetModuleNormaliser installs the module id resolution hook.
func (c *Context) SetModuleNormaliser(fn NormaliseFunc) {
	c.modules.normalise = fn
}

// SetModuleLoader installs the module source loading hook.
func (c *Context) SetModuleLoader(fn LoadFunc) {
	c.modules.load = fn
}

// WriteProperty mirrors a host-side property write into the read-only guest
// projection.
func (c *Context) WriteProperty(name string, value interface{}) error {
	if len(name) > MaxStringLen {
		return errorf(KindLimitExceeded, "property name exceeds maximum supported length")
	}
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	gv, err := c.toGuest(value)
	if err != nil {
		return err
	}
	c.ns.define(name, gv)
	return nil
}

// UnsetProperty mirrors a host-side property delete into the guest
// projection.
func (c *Context) UnsetProperty(name string) error {
	if len(name) > MaxStringLen {
		return errorf(KindLimitExceeded, "property name exceeds maximum supported length")
	}
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	c.ns.remove(name)
	return nil
}

// HeapPressure reports the outstanding external charge held by the
// context's weak registry.
func (c *Context) HeapPressure() int64 {
	return c.registry.pressure()
}

// enter acquires the isolate-wide lock, unless the calling goroutine is
// already inside the guest via a host callback. Guest proxies must not be
// shared with other goroutines while an execution is in flight; only the
// executing goroutine can legitimately observe callbackDepth > 0.
func (c *Context) enter() error {
	if c.callbackDepth > 0 {
		c.active++
		return nil
	}
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return errorf(KindContextClosed, "context has been destroyed")
	}
	c.active++
	return nil
}

func (c *Context) leave() {
	c.active--
	if c.callbackDepth > 0 {
		return
	}
	c.mu.Unlock()
}

func (c *Context) interruptVM(signal *terminationSignal) {
	c.vm.Interrupt(signal)
}

// runGoverned enters the context, registers with the watchdog when a budget
// applies, runs the guest entry, and converts the outcome. Every guest
// entry point (script execution, proxy calls) funnels through here so the
// exit contract is uniform: the context is never left partially entered.
func (c *Context) runGoverned(opts ExecOptions, run func() (goja.Value, error)) (interface{}, error) {
	if opts.MemoryLimit < 0 {
		return nil, errorf(KindInvalidArgument, "memory limit must not be negative")
	}
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()

	topLevel := c.active == 1 && c.callbackDepth == 0

	timeLimit := opts.TimeLimit
	memLimit := opts.MemoryLimit
	if topLevel {
		if timeLimit == 0 {
			timeLimit = time.Duration(c.defTimeNs.Load())
		}
		if memLimit == 0 {
			memLimit = c.defMem.Load()
		}
		c.curForce = opts.ForceArray
		c.curPropagate = c.propagateHost || opts.PropagateHostExceptions
	}

	var exec *execution
	if timeLimit > 0 || memLimit > 0 {
		exec = &execution{
			id:       uuid.New(),
			ctx:      c,
			started:  time.Now(),
			memLimit: memLimit,
		}
		if timeLimit > 0 {
			exec.deadline = exec.started.Add(timeLimit)
		}
		if memLimit > 0 {
			exec.baseline = heapInUse()
		}
		wd.register(exec)
	}

	started := time.Now()
	value, err := run()

	var timeHit, memHit bool
	if exec != nil {
		timeHit, memHit = wd.deregister(exec)
		// Drop any interrupt that fired after the run already finished,
		// so it cannot leak into the next execution.
		c.vm.ClearInterrupt()
	}

	if err != nil {
		gerr := c.guestError(err, timeHit, memHit)
		c.observe(gerr, started)
		return nil, gerr
	}
	c.observe(nil, started)
	return c.toHost(value, opts.ForceArray || c.curForce)
}

func (c *Context) observe(err error, started time.Time) {
	status := "ok"
	if err != nil {
		if e, ok := err.(*Error); ok {
			status = string(e.Kind)
			if e.Kind == KindResourceTermination {
				c.metrics.ObserveTermination(string(e.Reason))
			}
		} else {
			status = "host_error"
		}
	}
	c.metrics.ObserveExecution(status, time.Since(started).Seconds())
}
