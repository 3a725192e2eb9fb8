package isolate

import (
	"fmt"
	"path"

	"github.com/dop251/goja"
)

// moduleState implements the context's module-resolution loop: a guest
// require builtin driven by two host-supplied hooks, with loaded modules
// cached by normalised id for the lifetime of the context. The stack of
// module ids currently being evaluated provides the base for relative
// resolution and catches cyclic imports.
type moduleState struct {
	ctx       *Context
	normalise NormaliseFunc
	load      LoadFunc
	loaded    map[string]goja.Value
	stack     []string
}

func newModuleState(c *Context) *moduleState {
	return &moduleState{
		ctx:    c,
		loaded: make(map[string]goja.Value),
	}
}

func (m *moduleState) install() {
	_ = m.ctx.vm.Set("require", func(call goja.FunctionCall) goja.Value {
		return m.require(call.Argument(0).String())
	})
}

func (m *moduleState) release() {
	m.loaded = make(map[string]goja.Value)
	m.stack = nil
}

// defaultNormalise resolves relative ids against the directory of the
// requesting module; bare ids pass through unchanged.
func defaultNormalise(base, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty module id")
	}
	if id[0] != '.' {
		return id, nil
	}
	return path.Clean(path.Join(path.Dir(base), id)), nil
}

func (m *moduleState) require(id string) goja.Value {
	c := m.ctx
	if len(id) > MaxStringLen {
		c.throwHost(fmt.Errorf("module id exceeds maximum supported length"))
	}
	if m.load == nil {
		c.throwHost(fmt.Errorf("no module loader installed"))
	}

	base := ""
	if len(m.stack) > 0 {
		base = m.stack[len(m.stack)-1]
	}

	normalise := m.normalise
	if normalise == nil {
		normalise = defaultNormalise
	}
	moduleID, err := m.invokeNormalise(normalise, base, id)
	if err != nil {
		c.throwHost(fmt.Errorf("module %q: %w", id, err))
	}

	if exports, ok := m.loaded[moduleID]; ok {
		return exports
	}
	for _, active := range m.stack {
		if active == moduleID {
			c.throwHost(fmt.Errorf("cyclic module dependency on %q", moduleID))
		}
	}

	source, err := m.invokeLoad(moduleID)
	if err != nil {
		c.throwHost(fmt.Errorf("module %q: %w", moduleID, err))
	}
	if len(source) > MaxStringLen {
		c.throwHost(fmt.Errorf("module %q source exceeds maximum supported length", moduleID))
	}

	prog, err := goja.Compile(moduleID, "(function (exports, module) {\n"+source+"\n})", false)
	if err != nil {
		c.throwHost(fmt.Errorf("module %q: %w", moduleID, err))
	}
	wrapper, err := c.vm.RunProgram(prog)
	if err != nil {
		c.rethrow(err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		c.throwHost(fmt.Errorf("module %q: wrapper is not callable", moduleID))
	}

	exportsObj := c.vm.NewObject()
	moduleObj := c.vm.NewObject()
	_ = moduleObj.Set("exports", exportsObj)
	_ = moduleObj.Set("id", moduleID)

	m.stack = append(m.stack, moduleID)
	_, err = fn(goja.Undefined(), exportsObj, moduleObj)
	m.stack = m.stack[:len(m.stack)-1]
	if err != nil {
		c.rethrow(err)
	}

	exports := moduleObj.Get("exports")
	m.loaded[moduleID] = exports
	return exports
}

// invokeNormalise runs the host normalise hook with callback accounting,
// so nested guest entries and thrown host errors behave like any other
// host callback.
func (m *moduleState) invokeNormalise(fn NormaliseFunc, base, id string) (string, error) {
	c := m.ctx
	c.callbackDepth++
	defer func() { c.callbackDepth-- }()
	return fn(base, id)
}

func (m *moduleState) invokeLoad(id string) (string, error) {
	c := m.ctx
	c.callbackDepth++
	defer func() { c.callbackDepth-- }()
	return m.load(id)
}
