package isolate

import (
	"sync/atomic"

	"github.com/dop251/goja"
)

// Script is one compiled, named guest program bound to the context that
// compiled it. It never executes against any other context. The binding is
// atomic because release (explicit or via context teardown) may overlap an
// Execute call on another goroutine; the compiled program itself is
// immutable after creation.
type Script struct {
	name string
	prog *goja.Program
	ctx  atomic.Pointer[Context]
}

// Name returns the identifier the script was compiled under, as it appears
// in guest stack traces.
func (s *Script) Name() string { return s.name }

// Release drops the script's context binding and removes it from the
// tracking set. Idempotent; also called implicitly by context teardown.
func (s *Script) Release() {
	c := s.ctx.Swap(nil)
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.scripts, s)
	c.mu.Unlock()
}

// Compile compiles source under the given identifier and tracks the result
// against the context. The compiled unit survives until released or until
// the context is torn down.
func (c *Context) Compile(source, identifier string) (*Script, error) {
	if len(source) > MaxStringLen {
		return nil, errorf(KindLimitExceeded, "script source exceeds maximum supported length")
	}
	if len(identifier) > MaxStringLen {
		return nil, errorf(KindLimitExceeded, "script identifier exceeds maximum supported length")
	}
	if identifier == "" {
		identifier = "jsbox.Compile"
	}
	if c.closed.Load() {
		return nil, errorf(KindContextClosed, "context has been destroyed")
	}

	prog, err := goja.Compile(identifier, source, false)
	if err != nil {
		c.metrics.IncCompileError()
		return nil, wrapErr(KindCompile, err, "script compilation failed")
	}

	s := &Script{name: identifier, prog: prog}
	s.ctx.Store(c)
	c.mu.Lock()
	c.scripts[s] = struct{}{}
	c.mu.Unlock()
	c.metrics.IncScriptCompiled()
	return s, nil
}

// Execute runs a compiled script in the context's guest environment under
// the effective time and memory budgets: the explicit override, else the
// context default, else unlimited.
func (c *Context) Execute(s *Script, opts ExecOptions) (interface{}, error) {
	owner := s.ctx.Load()
	if owner == nil {
		return nil, errorf(KindCrossContext, "script has been released")
	}
	if owner != c {
		return nil, errorf(KindCrossContext, "script belongs to a different context")
	}
	return c.runGoverned(opts, func() (goja.Value, error) {
		return c.vm.RunProgram(s.prog)
	})
}

// Run compiles and executes source in one step, releasing the transient
// script unit afterwards.
func (c *Context) Run(source, identifier string, opts ExecOptions) (interface{}, error) {
	if identifier == "" {
		identifier = "jsbox.Run"
	}
	s, err := c.Compile(source, identifier)
	if err != nil {
		return nil, err
	}
	defer s.Release()
	return c.Execute(s, opts)
}
